package store

import (
	"testing"
	"time"

	"github.com/mxfell/barvault/internal/errors"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func minuteBars(start time.Time, n int) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		ts := start.Add(time.Duration(i) * time.Minute)
		price := 100 + float64(i)
		bars[i] = Bar{Timestamp: ts, Open: price, High: price + 1, Low: price - 1, Close: price, Volume: float64(10 * (i + 1))}
	}
	return bars
}

func TestOpenReader_MissingBundle(t *testing.T) {
	_, err := OpenReader(t.TempDir(), "minute")
	if !errors.Is(err, errors.ErrBundleNotFound) {
		t.Fatalf("expected ErrBundleNotFound, got %v", err)
	}
}

func TestWriteAndReadBack(t *testing.T) {
	root := t.TempDir()
	start := date(2017, 3, 1)
	end := date(2017, 3, 31).Add(23*time.Hour + 59*time.Minute)

	w, err := OpenWriter(root, "minute", start, end, true, DefaultOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}

	bars := minuteBars(start, 10)
	rows := []SidRows{{Sid: 1, Bars: bars, Start: start, End: end}}
	if err := w.Write(rows, ConflictRaise); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, err := OpenReader(root, "minute")
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}

	gotStart, gotEnd := r.MetadataRange()
	if !gotStart.Equal(start) || !gotEnd.Equal(end) {
		t.Errorf("metadata range = %v..%v", gotStart, gotEnd)
	}

	arrays, err := r.LoadRawArrays([]int64{1}, OHLCV, start, end)
	if err != nil {
		t.Fatalf("LoadRawArrays: %v", err)
	}
	if len(arrays[1]) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(arrays[1]))
	}
	values := arrays[1][start.UnixMilli()]
	if values[3] != 100 { // close of first bar
		t.Errorf("first close = %v", values[3])
	}

	v, err := r.ValueAt(1, start.Add(2*time.Minute), FieldClose)
	if err != nil {
		t.Fatalf("ValueAt: %v", err)
	}
	if v != 102 {
		t.Errorf("ValueAt close = %v", v)
	}
}

func TestValueAt_Missing(t *testing.T) {
	root := t.TempDir()
	start := date(2017, 3, 1)
	end := date(2017, 3, 2)

	w, err := OpenWriter(root, "minute", start, end, true, DefaultOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := w.Write([]SidRows{{Sid: 1, Bars: minuteBars(start, 3), Start: start, End: end}}, ConflictRaise); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, _ := OpenReader(root, "minute")
	if _, err := r.ValueAt(1, start.Add(30*time.Minute), FieldClose); !errors.Is(err, errors.ErrValueNotFound) {
		t.Errorf("expected ErrValueNotFound, got %v", err)
	}
}

func TestWrite_OverlapConflict(t *testing.T) {
	root := t.TempDir()
	start := date(2017, 3, 1)
	end := date(2017, 4, 30)

	w, err := OpenWriter(root, "minute", start, end, true, DefaultOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}

	march := []SidRows{{Sid: 1, Bars: minuteBars(start, 5), Start: start, End: date(2017, 3, 31)}}
	if err := w.Write(march, ConflictRaise); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Re-writing the same declared range must conflict.
	err = w.Write(march, ConflictRaise)
	if !errors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var ce *errors.ConflictError
	if !errors.As(err, &ce) || ce.Sid != 1 {
		t.Errorf("conflict error payload: %+v", err)
	}

	// ConflictIgnore skips the overlapping sid silently.
	if err := w.Write(march, ConflictIgnore); err != nil {
		t.Errorf("ConflictIgnore: %v", err)
	}
}

func TestWrite_RangeOutOfBounds(t *testing.T) {
	root := t.TempDir()
	start := date(2017, 3, 1)
	end := date(2017, 3, 31)

	w, err := OpenWriter(root, "minute", start, end, true, DefaultOptions())
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}

	rows := []SidRows{{Sid: 1, Bars: minuteBars(start, 2), Start: start, End: date(2017, 5, 1)}}
	if err := w.Write(rows, ConflictRaise); !errors.Is(err, errors.ErrRangeOutOfBounds) {
		t.Errorf("expected ErrRangeOutOfBounds, got %v", err)
	}
}

func TestOpenWriter_ExtendsRange(t *testing.T) {
	root := t.TempDir()
	s1, e1 := date(2017, 3, 1), date(2017, 3, 31)

	if _, err := OpenWriter(root, "minute", s1, e1, true, DefaultOptions()); err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}

	// Reopen with a wider range and writeMetadata set; persisted metadata
	// must reflect the wider range.
	s2, e2 := date(2017, 2, 1), date(2017, 4, 30)
	if _, err := OpenWriter(root, "minute", s2, e2, true, DefaultOptions()); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	meta, err := ReadMetadata(root)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	gotStart, gotEnd := meta.Range()
	if !gotStart.Equal(s2) || !gotEnd.Equal(e2) {
		t.Errorf("extended range = %v..%v", gotStart, gotEnd)
	}
}

func TestOpenWriter_FrequencyMismatch(t *testing.T) {
	root := t.TempDir()
	if _, err := OpenWriter(root, "minute", date(2017, 3, 1), date(2017, 3, 31), true, DefaultOptions()); err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if _, err := OpenWriter(root, "daily", date(2017, 3, 1), date(2017, 3, 31), true, DefaultOptions()); err == nil {
		t.Error("expected frequency mismatch error")
	}
}

func TestMetadata_CoverageMerging(t *testing.T) {
	m := &Metadata{Frequency: "minute"}
	delta := time.Minute.Milliseconds()

	marchStart := date(2017, 3, 1).UnixMilli()
	marchEnd := date(2017, 3, 31).Add(23*time.Hour + 59*time.Minute).UnixMilli()
	aprilStart := date(2017, 4, 1).UnixMilli()
	aprilEnd := date(2017, 4, 30).Add(23*time.Hour + 59*time.Minute).UnixMilli()

	m.AddCoverage(1, marchStart, marchEnd, delta)
	m.AddCoverage(1, aprilStart, aprilEnd, delta)

	cov := m.coverage(1)
	if len(cov.Ranges) != 1 {
		t.Fatalf("adjacent months should merge into one interval, got %d", len(cov.Ranges))
	}
	if !m.CoversRange(1, marchStart, aprilEnd) {
		t.Error("merged interval should cover both months")
	}

	// A distant interval stays separate.
	juneStart := date(2017, 6, 1).UnixMilli()
	juneEnd := date(2017, 6, 30).UnixMilli()
	m.AddCoverage(1, juneStart, juneEnd, delta)
	if len(m.coverage(1).Ranges) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(m.coverage(1).Ranges))
	}
	if m.CoversRange(1, marchStart, juneEnd) {
		t.Error("range spanning the gap must not be covered")
	}
	if !m.OverlapsRange(1, aprilEnd, juneStart) {
		t.Error("range touching both intervals should overlap")
	}
}

func TestExists(t *testing.T) {
	root := t.TempDir()
	if Exists(root) {
		t.Error("empty dir should not exist as bundle")
	}
	if _, err := OpenWriter(root, "daily", date(2017, 1, 1), date(2017, 12, 31), true, DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	if !Exists(root) {
		t.Error("bundle should exist after writer open")
	}
}
