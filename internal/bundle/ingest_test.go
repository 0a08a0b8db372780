package bundle

import (
	"context"
	"testing"
	"time"

	"github.com/mxfell/barvault/internal/asset"
	"github.com/mxfell/barvault/internal/errors"
	"github.com/mxfell/barvault/internal/staging"
	"github.com/mxfell/barvault/internal/store"
)

func TestCompressGaps(t *testing.T) {
	t1 := date(2016, 1, 13)
	missing := []time.Time{
		t1,
		t1.AddDate(0, 0, 1),
		t1.AddDate(0, 0, 2),
		t1.AddDate(0, 0, 6), // isolated
	}

	gaps := compressGaps(missing, 24*time.Hour)
	if len(gaps) != 2 {
		t.Fatalf("expected 2 gap ranges, got %d: %v", len(gaps), gaps)
	}
	if !gaps[0].Start.Equal(t1) || !gaps[0].End.Equal(t1.AddDate(0, 0, 2)) {
		t.Errorf("first gap = %v", gaps[0])
	}
	if !gaps[1].Start.Equal(t1.AddDate(0, 0, 6)) || !gaps[1].End.Equal(gaps[1].Start) {
		t.Errorf("isolated gap = %v", gaps[1])
	}
}

func TestCompressGaps_Empty(t *testing.T) {
	if gaps := compressGaps(nil, time.Minute); gaps != nil {
		t.Errorf("expected nil, got %v", gaps)
	}
}

// stageSparseChunk stages a chunk declaring [start, end] but holding bars
// only for the given days.
func stageSparseChunk(t *testing.T, b *Bundle, a asset.Asset, label string, start, end time.Time, days []time.Time) {
	t.Helper()
	root := staging.StagedPath(b.cfg.StagingDir(), a.Exchange, a.Symbol, asset.Daily, label)
	w, err := store.OpenWriter(root, "daily", start, end, true, store.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	bars := make([]store.Bar, len(days))
	for i, day := range days {
		bars[i] = store.Bar{Timestamp: day, Open: 1, High: 2, Low: 1, Close: 1, Volume: 1}
	}
	rows := []store.SidRows{{Sid: a.Sid, Bars: bars, Start: start, End: end}}
	if err := w.Write(rows, store.ConflictRaise); err != nil {
		t.Fatal(err)
	}
}

func sparseTestChunk(t *testing.T, b *Bundle, a asset.Asset) Chunk {
	t.Helper()
	start, end := date(2016, 1, 10), date(2016, 1, 20)
	var days []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		switch day.Day() {
		case 13, 14, 15, 18:
			continue // gaps
		}
		days = append(days, day)
	}
	stageSparseChunk(t, b, a, "2016", start, end, days)
	return Chunk{Asset: a, Start: start, End: end, Label: "2016"}
}

func TestMergeChunk_GapRaise(t *testing.T) {
	a := testDailyAsset()
	b, _ := newTestBundle(t, a)
	chunk := sparseTestChunk(t, b, a)

	if _, err := b.cache.Writer(b.cfg.BundleDir("daily"), "daily", chunk.Start, chunk.End); err != nil {
		t.Fatal(err)
	}

	_, err := b.mergeChunk(context.Background(), chunk, asset.Daily, GapRaise, false)
	var ev *errors.EmptyValuesError
	if !errors.As(err, &ev) {
		t.Fatalf("expected EmptyValuesError, got %v", err)
	}
	if len(ev.Ranges) != 2 {
		t.Fatalf("gap ranges = %v", ev.Ranges)
	}
	if !ev.Ranges[0].Start.Equal(date(2016, 1, 13)) || !ev.Ranges[0].End.Equal(date(2016, 1, 15)) {
		t.Errorf("first range = %v", ev.Ranges[0])
	}
	if !ev.Ranges[1].Start.Equal(date(2016, 1, 18)) || !ev.Ranges[1].End.Equal(date(2016, 1, 18)) {
		t.Errorf("second range = %v", ev.Ranges[1])
	}
}

func TestMergeChunk_GapStrip(t *testing.T) {
	a := testDailyAsset()
	b, _ := newTestBundle(t, a)
	chunk := sparseTestChunk(t, b, a)

	if _, err := b.cache.Writer(b.cfg.BundleDir("daily"), "daily", chunk.Start, chunk.End); err != nil {
		t.Fatal(err)
	}

	result, err := b.mergeChunk(context.Background(), chunk, asset.Daily, GapStrip, false)
	if err != nil {
		t.Fatalf("mergeChunk: %v", err)
	}
	// 11 sessions in range, 4 missing.
	if result.RowsWritten != 7 {
		t.Errorf("rows written = %d, want 7", result.RowsWritten)
	}
}

func TestMergeChunk_StagingMissing(t *testing.T) {
	a := testDailyAsset()
	b, _ := newTestBundle(t, a)
	chunk := Chunk{Asset: a, Start: date(2016, 1, 10), End: date(2016, 1, 20), Label: "2016"}

	result, err := b.mergeChunk(context.Background(), chunk, asset.Daily, GapStrip, false)
	if !errors.IsStagingNotFound(err) {
		t.Fatalf("expected StagingNotFoundError, got %v", err)
	}
	if !result.Skipped {
		t.Error("result should be marked skipped")
	}
}

type scriptedWriter struct {
	errs       []error
	calls      int
	start, end time.Time
}

func (w *scriptedWriter) MetadataRange() (time.Time, time.Time) { return w.start, w.end }

func (w *scriptedWriter) Write([]store.SidRows, store.ConflictBehavior) error {
	w.calls++
	if w.calls <= len(w.errs) {
		return w.errs[w.calls-1]
	}
	return nil
}

func TestMergeChunk_WriteRetry(t *testing.T) {
	a := testDailyAsset()
	b, _ := newTestBundle(t, a)
	chunk := sparseTestChunk(t, b, a)

	failing := &scriptedWriter{
		errs:  []error{errors.New("transient write failure")},
		start: chunk.Start, end: chunk.End,
	}
	fresh := &scriptedWriter{start: chunk.Start, end: chunk.End}

	root := b.cfg.BundleDir("daily")
	b.cache.writers[root] = failing

	reopens := 0
	b.cache.openWriter = func(root, frequency string, start, end time.Time, writeMetadata bool, opts store.Options) (Writer, error) {
		reopens++
		if !start.Equal(chunk.Start) || !end.Equal(chunk.End) {
			t.Errorf("reacquired writer range %v..%v, want evicted writer's own range", start, end)
		}
		return fresh, nil
	}

	result, err := b.mergeChunk(context.Background(), chunk, asset.Daily, GapStrip, false)
	if err != nil {
		t.Fatalf("mergeChunk: %v", err)
	}
	if failing.calls != 1 {
		t.Errorf("failing writer called %d times, want 1", failing.calls)
	}
	if reopens != 1 {
		t.Errorf("writer reacquired %d times, want exactly 1", reopens)
	}
	if fresh.calls != 1 {
		t.Errorf("fresh writer called %d times, want exactly 1", fresh.calls)
	}
	if result.RowsWritten == 0 {
		t.Error("retry success should report rows written")
	}
	// Later merges must use the reacquired writer, not the evicted one.
	if b.cache.writers[root] != fresh {
		t.Error("cache should hold the reacquired writer after the retry")
	}
}

func TestMergeChunk_SecondWriteFailurePropagates(t *testing.T) {
	a := testDailyAsset()
	b, _ := newTestBundle(t, a)
	chunk := sparseTestChunk(t, b, a)

	failing := &scriptedWriter{
		errs:  []error{errors.New("first failure")},
		start: chunk.Start, end: chunk.End,
	}
	alsoFailing := &scriptedWriter{
		errs:  []error{errors.New("second failure")},
		start: chunk.Start, end: chunk.End,
	}
	b.cache.writers[b.cfg.BundleDir("daily")] = failing
	b.cache.openWriter = func(root, frequency string, start, end time.Time, writeMetadata bool, opts store.Options) (Writer, error) {
		return alsoFailing, nil
	}

	_, err := b.mergeChunk(context.Background(), chunk, asset.Daily, GapStrip, false)
	if err == nil || err.Error() != "second failure" {
		t.Fatalf("expected second failure to propagate, got %v", err)
	}
	if failing.calls != 1 || alsoFailing.calls != 1 {
		t.Errorf("attempts = %d + %d, want exactly one each", failing.calls, alsoFailing.calls)
	}
}

func TestMergeChunk_OverlapSwallowedWithoutRetry(t *testing.T) {
	a := testDailyAsset()
	b, _ := newTestBundle(t, a)
	chunk := sparseTestChunk(t, b, a)

	w := &scriptedWriter{
		errs:  []error{&errors.ConflictError{Sid: a.Sid, Start: chunk.Start, End: chunk.End}},
		start: chunk.Start, end: chunk.End,
	}
	b.cache.writers[b.cfg.BundleDir("daily")] = w
	reopens := 0
	b.cache.openWriter = func(root, frequency string, start, end time.Time, writeMetadata bool, opts store.Options) (Writer, error) {
		reopens++
		return nil, errors.New("should not reopen")
	}

	_, err := b.mergeChunk(context.Background(), chunk, asset.Daily, GapStrip, false)
	if err != nil {
		t.Fatalf("overlap should be benign: %v", err)
	}
	if w.calls != 1 || reopens != 0 {
		t.Errorf("calls = %d, reopens = %d; overlap must not retry", w.calls, reopens)
	}
}

func TestParseGapPolicy(t *testing.T) {
	cases := map[string]GapPolicy{
		"":       GapStrip,
		"strip":  GapStrip,
		"ignore": GapIgnore,
		"warn":   GapWarn,
		"raise":  GapRaise,
	}
	for in, want := range cases {
		if got := ParseGapPolicy(in); got != want {
			t.Errorf("ParseGapPolicy(%q) = %v, want %v", in, got, want)
		}
	}
}
