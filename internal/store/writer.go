package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/mxfell/barvault/internal/errors"
)

// Writer appends chunk writes to a bundle root. Each Write produces one
// Parquet segment and updates the persisted metadata in the same call, so
// a bundle on disk always reflects whole merged chunks.
type Writer struct {
	mu   sync.Mutex
	root string
	meta *Metadata
	opts Options
}

// OpenWriter opens (or creates) the bundle at root for writing. start and
// end become the metadata session range; when extending an existing bundle
// the caller computes the union range and sets writeMetadata so the wider
// range is persisted immediately.
func OpenWriter(root, frequency string, start, end time.Time, writeMetadata bool, opts Options) (*Writer, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create bundle root: %w", err)
	}

	meta, err := ReadMetadata(root)
	if os.IsNotExist(err) {
		meta = &Metadata{Frequency: frequency}
		writeMetadata = true
	} else if err != nil {
		return nil, err
	}
	if meta.Frequency != frequency {
		return nil, fmt.Errorf("bundle at %s holds %s bars, requested %s",
			root, meta.Frequency, frequency)
	}

	meta.StartSessionMs = start.UnixMilli()
	meta.EndSessionMs = end.UnixMilli()

	w := &Writer{root: root, meta: meta, opts: opts}
	if writeMetadata {
		if err := meta.WriteTo(root); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// RootPath returns the bundle root directory.
func (w *Writer) RootPath() string { return w.root }

// MetadataRange returns the session range the writer was opened for.
func (w *Writer) MetadataRange() (time.Time, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meta.Range()
}

// Write merges one batch of per-sid rows into the bundle. The declared
// range of every sid must fall inside the metadata session range; a
// declared range overlapping existing coverage is handled per behavior.
func (w *Writer) Write(rows []SidRows, behavior ConflictBehavior) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	deltaMs := periodDeltaMs(w.meta.Frequency)

	var pending []SidRows
	for _, sr := range rows {
		startMs, endMs := sr.Start.UnixMilli(), sr.End.UnixMilli()
		if startMs < w.meta.StartSessionMs || endMs > w.meta.EndSessionMs {
			return errors.Wrapf(errors.ErrRangeOutOfBounds,
				"sid %d range %s..%s outside bundle range %s..%s",
				sr.Sid,
				sr.Start.UTC().Format(time.RFC3339), sr.End.UTC().Format(time.RFC3339),
				time.UnixMilli(w.meta.StartSessionMs).UTC().Format(time.RFC3339),
				time.UnixMilli(w.meta.EndSessionMs).UTC().Format(time.RFC3339))
		}
		if w.meta.OverlapsRange(sr.Sid, startMs, endMs) {
			if behavior == ConflictRaise {
				return &errors.ConflictError{Sid: sr.Sid, Start: sr.Start, End: sr.End}
			}
			continue
		}
		pending = append(pending, sr)
	}
	if len(pending) == 0 {
		return nil
	}

	var barRows []BarRow
	segStart, segEnd := int64(0), int64(0)
	for _, sr := range pending {
		for i := range sr.Bars {
			barRows = append(barRows, BarToRow(sr.Sid, &sr.Bars[i]))
		}
		startMs, endMs := sr.Start.UnixMilli(), sr.End.UnixMilli()
		if segStart == 0 || startMs < segStart {
			segStart = startMs
		}
		if endMs > segEnd {
			segEnd = endMs
		}
	}
	sort.Slice(barRows, func(i, j int) bool {
		if barRows[i].Sid != barRows[j].Sid {
			return barRows[i].Sid < barRows[j].Sid
		}
		return barRows[i].TimestampMs < barRows[j].TimestampMs
	})

	file := fmt.Sprintf("segment-%d.parquet", time.Now().UnixNano())
	if err := w.writeSegment(file, barRows); err != nil {
		return err
	}

	w.meta.Segments = append(w.meta.Segments, SegmentMeta{
		File: file, StartMs: segStart, EndMs: segEnd,
	})
	for _, sr := range pending {
		w.meta.AddCoverage(sr.Sid, sr.Start.UnixMilli(), sr.End.UnixMilli(), deltaMs)
	}
	if err := w.meta.WriteTo(w.root); err != nil {
		// Segment without metadata entry is unreachable garbage, remove it.
		os.Remove(filepath.Join(w.root, file))
		return err
	}
	return nil
}

func (w *Writer) writeSegment(file string, rows []BarRow) error {
	f, err := os.Create(filepath.Join(w.root, file))
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}

	writer := parquet.NewGenericWriter[BarRow](f,
		parquet.Compression(getCompression(w.opts.Compression)))

	if _, err := writer.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("write segment rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close segment writer: %w", err)
	}
	return f.Close()
}

// periodDeltaMs returns one calendar period in milliseconds for a
// frequency string.
func periodDeltaMs(frequency string) int64 {
	if frequency == "minute" {
		return time.Minute.Milliseconds()
	}
	return (24 * time.Hour).Milliseconds()
}
