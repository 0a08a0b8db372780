package bundle

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/mxfell/barvault/internal/asset"
	"github.com/mxfell/barvault/internal/calendar"
	"github.com/mxfell/barvault/internal/errors"
	"github.com/mxfell/barvault/internal/store"
)

// GapPolicy is the rule for calendar periods with missing values inside a
// staged chunk.
type GapPolicy int

const (
	// GapStrip drops periods with missing values before writing.
	GapStrip GapPolicy = iota

	// GapIgnore performs no gap check.
	GapIgnore

	// GapWarn logs the compressed gap ranges, then drops them like strip.
	GapWarn

	// GapRaise fails the merge with the compressed gap ranges attached.
	GapRaise
)

// ParseGapPolicy parses a gap policy string; empty defaults to strip.
func ParseGapPolicy(s string) GapPolicy {
	switch s {
	case "ignore":
		return GapIgnore
	case "warn":
		return GapWarn
	case "raise":
		return GapRaise
	}
	return GapStrip
}

// MergeResult reports the outcome of merging one staged chunk. A skipped
// chunk is not fatal to the batch; planning will still see its range as
// missing on the next run.
type MergeResult struct {
	StagingPath string
	Skipped     bool
	Reason      string
	RowsWritten int
}

// mergeChunk merges one staged chunk into the bundle through the cached
// bundle writer. The writer is fetched from the cache per merge, never
// held across merges, so a writer evicted by a retry cannot leak stale
// in-memory metadata into later chunks.
//
// Staged data that cannot be located or loaded skips the chunk. A write
// hitting already-covered data is benign and swallowed. Any other write
// failure evicts the writer from the cache and retries exactly once
// against a freshly reacquired writer; a second failure propagates. The
// staging area is removed after the write attempt completes, never before.
func (b *Bundle) mergeChunk(ctx context.Context, chunk Chunk, frequency asset.Frequency, policy GapPolicy, cleanup bool) (MergeResult, error) {
	log := b.log.With("symbol", chunk.Asset.Symbol, "label", chunk.Label, "frequency", frequency.String())

	path, err := b.locator.Locate(ctx, chunk.Asset, frequency, chunk.Label)
	if err != nil {
		return MergeResult{StagingPath: path, Skipped: true, Reason: "staging locate failed"}, err
	}
	result := MergeResult{StagingPath: path}

	reader, err := b.cache.Reader(path, frequency.String())
	if err != nil {
		result.Skipped = true
		result.Reason = "staged chunk missing"
		return result, &errors.StagingNotFoundError{Path: path}
	}

	arrays, err := reader.LoadRawArrays([]int64{chunk.Asset.Sid}, store.OHLCV, chunk.Start, chunk.End)
	if err != nil {
		log.Warn("staged chunk load failed, skipping", "error", err)
		result.Skipped = true
		result.Reason = "staged load failed"
		return result, nil
	}

	bars, missing := alignToGrid(b.cal, frequency, chunk.Start, chunk.End, arrays[chunk.Asset.Sid])

	if policy != GapIgnore && len(missing) > 0 {
		gaps := compressGaps(missing, frequency.Delta())
		switch policy {
		case GapWarn:
			log.Warn("missing periods in staged chunk", "gaps", len(gaps), "first", gaps[0].String())
		case GapRaise:
			return result, &errors.EmptyValuesError{
				Name:      chunk.Asset.Symbol,
				EndMinute: chunk.End,
				Ranges:    gaps,
			}
		}
	}

	if len(bars) > 0 {
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		rows := []store.SidRows{{Sid: chunk.Asset.Sid, Bars: bars, Start: chunk.Start, End: chunk.End}}

		root := b.cfg.BundleDir(frequency.String())
		writer, err := b.cache.Writer(root, frequency.String(), chunk.Start, chunk.End)
		if err != nil {
			return result, err
		}
		if err := b.writeWithRetry(rows, frequency, writer, log); err != nil {
			return result, err
		}
		result.RowsWritten = len(bars)
	}

	if cleanup {
		if err := os.RemoveAll(path); err != nil {
			log.Warn("staging cleanup failed", "path", path, "error", err)
		}
		b.cache.Invalidate(path)
	}
	return result, nil
}

// writeWithRetry performs the bounded write retry protocol.
func (b *Bundle) writeWithRetry(rows []store.SidRows, frequency asset.Frequency, writer Writer, log *slog.Logger) error {
	err := writer.Write(rows, store.ConflictRaise)
	if err == nil {
		return nil
	}
	if errors.IsConflict(err) {
		log.Debug("chunk range already merged", "error", err)
		return nil
	}

	// One retry: the cached writer may hold stale metadata bounds, so
	// reacquire one spanning its own session range.
	root := b.cfg.BundleDir(frequency.String())
	b.cache.InvalidateWriter(root)
	start, end := writer.MetadataRange()
	fresh, werr := b.cache.Writer(root, frequency.String(), start, end)
	if werr != nil {
		return werr
	}
	if err := fresh.Write(rows, store.ConflictRaise); err != nil {
		if errors.IsConflict(err) {
			log.Debug("chunk range already merged", "error", err)
			return nil
		}
		return err
	}
	log.Debug("write succeeded after writer reacquire", "first_error", err)
	return nil
}

// alignToGrid places loaded values onto the dense calendar grid of
// [start, end], returning the bars that exist and the grid instants with
// no data.
func alignToGrid(cal calendar.Calendar, frequency asset.Frequency, start, end time.Time, values map[int64][]float64) ([]store.Bar, []time.Time) {
	var grid []time.Time
	if frequency == asset.Minute {
		grid = cal.MinutesInRange(start, end)
	} else {
		grid = cal.SessionsInRange(start, end)
	}

	var bars []store.Bar
	var missing []time.Time
	for _, ts := range grid {
		v, ok := values[ts.UnixMilli()]
		if !ok || len(v) < 5 {
			missing = append(missing, ts)
			continue
		}
		bars = append(bars, store.Bar{
			Timestamp: ts,
			Open:      v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4],
		})
	}
	return bars, missing
}

// compressGaps merges sorted missing instants into [first, last] ranges.
// A run stays in one range while each instant is exactly one period delta
// after the previous; a break starts a new range.
func compressGaps(missing []time.Time, delta time.Duration) []errors.GapRange {
	if len(missing) == 0 {
		return nil
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Before(missing[j]) })

	var gaps []errors.GapRange
	current := errors.GapRange{Start: missing[0], End: missing[0]}
	for _, ts := range missing[1:] {
		if ts.Sub(current.End) == delta {
			current.End = ts
			continue
		}
		gaps = append(gaps, current)
		current = errors.GapRange{Start: ts, End: ts}
	}
	return append(gaps, current)
}
