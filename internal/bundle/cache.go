package bundle

import (
	"sync"
	"time"

	"github.com/mxfell/barvault/internal/store"
)

// Reader is the read surface the bundle layer needs from a store reader.
type Reader interface {
	MetadataRange() (time.Time, time.Time)
	CoversRange(sid int64, start, end time.Time) bool
	LoadRawArrays(sids []int64, fields []store.Field, start, end time.Time) (map[int64]map[int64][]float64, error)
	ValueAt(sid int64, dt time.Time, field store.Field) (float64, error)
}

// Writer is the write surface the bundle layer needs from a store writer.
type Writer interface {
	MetadataRange() (time.Time, time.Time)
	Write(rows []store.SidRows, behavior store.ConflictBehavior) error
}

type readerEntry struct {
	reader Reader
	err    error // non-nil marks a known-absent bundle
}

// handleCache caches open readers and writers per bundle root. Readers
// cache negatively: a failed open is remembered until the path is
// invalidated, so repeated probes of a missing bundle stay cheap. A cached
// writer is always returned as-is, even when a wider range is requested;
// callers that need the range extended invalidate first.
type handleCache struct {
	mu      sync.Mutex
	readers map[string]readerEntry
	writers map[string]Writer
	opts    store.Options

	openReader func(root, frequency string) (Reader, error)
	openWriter func(root, frequency string, start, end time.Time, writeMetadata bool, opts store.Options) (Writer, error)
}

func newHandleCache(opts store.Options) *handleCache {
	return &handleCache{
		readers: make(map[string]readerEntry),
		writers: make(map[string]Writer),
		opts:    opts,
		openReader: func(root, frequency string) (Reader, error) {
			return store.OpenReader(root, frequency)
		},
		openWriter: func(root, frequency string, start, end time.Time, writeMetadata bool, opts store.Options) (Writer, error) {
			return store.OpenWriter(root, frequency, start, end, writeMetadata, opts)
		},
	}
}

// Reader returns the cached reader for root, opening it on first use. Any
// open failure is cached and returned again on later calls until the root
// is invalidated.
func (c *handleCache) Reader(root, frequency string) (Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.readers[root]; ok {
		return entry.reader, entry.err
	}

	r, err := c.openReader(root, frequency)
	if err != nil {
		c.readers[root] = readerEntry{err: err}
		return nil, err
	}
	c.readers[root] = readerEntry{reader: r}
	return r, nil
}

// Writer returns the cached writer for root, opening one spanning
// [start, end] on first use. When metadata already exists on disk the
// opened range is the union of the existing range and the requested one;
// an existing bundle range never shrinks.
func (c *handleCache) Writer(root, frequency string, start, end time.Time) (Writer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.writers[root]; ok {
		return w, nil
	}

	writeMetadata := true
	if meta, err := store.ReadMetadata(root); err == nil {
		haveStart, haveEnd := meta.Range()
		union := false
		if haveStart.Before(start) {
			start = haveStart
		} else if start.Before(haveStart) {
			union = true
		}
		if haveEnd.After(end) {
			end = haveEnd
		} else if end.After(haveEnd) {
			union = true
		}
		writeMetadata = union
	}

	w, err := c.openWriter(root, frequency, start, end, writeMetadata, c.opts)
	if err != nil {
		return nil, err
	}
	c.writers[root] = w
	return w, nil
}

// WriterRange returns the cached writer's session range, when one is
// cached. Callers use it to decide whether the writer must be evicted
// before an acquisition that needs a wider range.
func (c *handleCache) WriterRange(root string) (time.Time, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.writers[root]
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	start, end := w.MetadataRange()
	return start, end, true
}

// InvalidateReader drops the cached reader (or cached absence) for root.
func (c *handleCache) InvalidateReader(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.readers, root)
}

// InvalidateWriter drops the cached writer for root.
func (c *handleCache) InvalidateWriter(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.writers, root)
}

// Invalidate drops both handles for root.
func (c *handleCache) Invalidate(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.readers, root)
	delete(c.writers, root)
}

// Reset drops every cached handle.
func (c *handleCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readers = make(map[string]readerEntry)
	c.writers = make(map[string]Writer)
}
