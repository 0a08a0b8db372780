package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/mxfell/barvault/internal/errors"
)

// Reader reads bars from a bundle root. It is cheap to open: segment files
// are only touched when a load asks for their range.
type Reader struct {
	root string
	meta *Metadata
}

// OpenReader opens the bundle at root for the given frequency. A missing
// or empty root fails with ErrBundleNotFound so callers can cache the
// absence.
func OpenReader(root, frequency string) (*Reader, error) {
	meta, err := ReadMetadata(root)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(errors.ErrBundleNotFound, "%s", root)
	}
	if err != nil {
		return nil, err
	}
	if meta.Frequency != frequency {
		return nil, fmt.Errorf("bundle at %s holds %s bars, requested %s",
			root, meta.Frequency, frequency)
	}
	return &Reader{root: root, meta: meta}, nil
}

// RootPath returns the bundle root directory.
func (r *Reader) RootPath() string { return r.root }

// MetadataRange returns the persisted [start_session, end_session] range.
func (r *Reader) MetadataRange() (time.Time, time.Time) { return r.meta.Range() }

// CoversRange reports whether the bundle fully covers [start, end] for the
// sid.
func (r *Reader) CoversRange(sid int64, start, end time.Time) bool {
	return r.meta.CoversRange(sid, start.UnixMilli(), end.UnixMilli())
}

// LoadRawArrays loads the requested fields for the requested sids over
// [start, end]. The result maps sid to timestamp (Unix ms) to values in
// the order fields were requested. Periods with no bar are simply absent;
// callers align against the calendar grid.
func (r *Reader) LoadRawArrays(sids []int64, fields []Field, start, end time.Time) (map[int64]map[int64][]float64, error) {
	startMs, endMs := start.UnixMilli(), end.UnixMilli()

	want := make(map[int64]bool, len(sids))
	out := make(map[int64]map[int64][]float64, len(sids))
	for _, sid := range sids {
		want[sid] = true
		out[sid] = make(map[int64][]float64)
	}

	for _, seg := range r.meta.Segments {
		if seg.StartMs > endMs || seg.EndMs < startMs {
			continue
		}
		rows, err := r.readSegment(seg.File)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			row := &rows[i]
			if !want[row.Sid] || row.TimestampMs < startMs || row.TimestampMs > endMs {
				continue
			}
			bar := RowToBar(row)
			values := make([]float64, len(fields))
			for j, f := range fields {
				values[j] = bar.Value(f)
			}
			out[row.Sid][row.TimestampMs] = values
		}
	}
	return out, nil
}

// ValueAt returns the sid's field value at exactly dt. ErrValueNotFound is
// returned when no bar exists at dt.
func (r *Reader) ValueAt(sid int64, dt time.Time, field Field) (float64, error) {
	arrays, err := r.LoadRawArrays([]int64{sid}, []Field{field}, dt, dt)
	if err != nil {
		return 0, err
	}
	values, ok := arrays[sid][dt.UnixMilli()]
	if !ok {
		return 0, errors.Wrapf(errors.ErrValueNotFound, "sid %d at %s", sid, dt.UTC().Format(time.RFC3339))
	}
	return values[0], nil
}

// readSegment reads every row of one segment file.
func (r *Reader) readSegment(file string) ([]BarRow, error) {
	f, err := os.Open(filepath.Join(r.root, file))
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[BarRow](f)
	defer reader.Close()

	rows := make([]BarRow, reader.NumRows())
	if len(rows) == 0 {
		return nil, nil
	}
	n, err := reader.Read(rows)
	if err != nil && n < len(rows) {
		return nil, fmt.Errorf("read segment %s: %w", file, err)
	}
	return rows[:n], nil
}
