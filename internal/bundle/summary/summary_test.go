package summary

import (
	"math"
	"testing"
	"time"

	"github.com/mxfell/barvault/internal/store"
)

func TestBuilder(t *testing.T) {
	b := NewBuilder(1)
	start := time.Date(2016, 1, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		b.Add(store.Bar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      100, High: 110, Low: 90,
			Close:  float64(100 + i),
			Volume: 10,
		})
	}

	s := b.Result()
	if s.BarCount != 100 {
		t.Fatalf("bar count = %d", s.BarCount)
	}
	if s.CloseMin != 100 || s.CloseMax != 199 {
		t.Errorf("close min/max = %v/%v", s.CloseMin, s.CloseMax)
	}
	if s.CloseAvg != 149.5 {
		t.Errorf("close avg = %v", s.CloseAvg)
	}
	if s.VolumeSum != 1000 {
		t.Errorf("volume sum = %v", s.VolumeSum)
	}

	// DDSketch guarantees 1% relative accuracy.
	if math.Abs(s.CloseP50-149)/149 > 0.02 {
		t.Errorf("p50 = %v, want ~149", s.CloseP50)
	}
	if math.Abs(s.CloseP99-198)/198 > 0.02 {
		t.Errorf("p99 = %v, want ~198", s.CloseP99)
	}

	first, last := s.Range()
	if !first.Equal(start) || !last.Equal(start.AddDate(0, 0, 99)) {
		t.Errorf("range = %v..%v", first, last)
	}
}

func TestBuilder_Empty(t *testing.T) {
	s := NewBuilder(1).Result()
	if s.BarCount != 0 || s.CloseAvg != 0 || s.CloseP50 != 0 {
		t.Errorf("empty summary not zero: %+v", s)
	}
}

func TestSummarize_GroupsBySid(t *testing.T) {
	ts := time.Date(2016, 1, 10, 0, 0, 0, 0, time.UTC)
	rows := []store.BarRow{
		{Sid: 1, TimestampMs: ts.UnixMilli(), Close: 10, Volume: 1},
		{Sid: 2, TimestampMs: ts.UnixMilli(), Close: 20, Volume: 2},
		{Sid: 1, TimestampMs: ts.Add(time.Minute).UnixMilli(), Close: 12, Volume: 1},
	}

	summaries := Summarize(rows)
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[1].BarCount != 2 || summaries[2].BarCount != 1 {
		t.Errorf("counts = %d, %d", summaries[1].BarCount, summaries[2].BarCount)
	}
	if summaries[2].CloseMin != 20 {
		t.Errorf("sid 2 close min = %v", summaries[2].CloseMin)
	}
}
