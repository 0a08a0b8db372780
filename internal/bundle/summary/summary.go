// Package summary computes per-asset statistics over merged bundle data.
// It supports percentile calculation using DDSketch.
package summary

import (
	"math"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/mxfell/barvault/internal/store"
)

// AssetSummary holds the statistics of one asset's bars.
type AssetSummary struct {
	Sid      int64
	BarCount int64
	FirstTs  int64 // Unix milliseconds
	LastTs   int64 // Unix milliseconds

	VolumeSum float64
	CloseMin  float64
	CloseMax  float64
	CloseAvg  float64

	// Percentiles of the close price; zero when no bars were added
	CloseP50 float64
	CloseP90 float64
	CloseP99 float64

	// Percentiles of per-bar volume
	VolumeP50 float64
	VolumeP99 float64
}

// Range returns the covered time range.
func (s AssetSummary) Range() (time.Time, time.Time) {
	return time.UnixMilli(s.FirstTs).UTC(), time.UnixMilli(s.LastTs).UTC()
}

// Builder accumulates bars for one asset into an AssetSummary.
type Builder struct {
	sid      int64
	count    int64
	firstTs  int64
	lastTs   int64
	closeSum float64
	closeMin float64
	closeMax float64
	volSum   float64

	closeSketch *ddsketch.DDSketch
	volSketch   *ddsketch.DDSketch
}

// NewBuilder creates a summary builder for one asset.
func NewBuilder(sid int64) *Builder {
	b := &Builder{
		sid:      sid,
		closeMin: math.MaxFloat64,
		closeMax: -math.MaxFloat64,
	}

	// Default relative accuracy of 1%
	if sketch, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
		b.closeSketch = sketch
	}
	if sketch, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
		b.volSketch = sketch
	}
	return b
}

// Add adds one bar to the summary.
func (b *Builder) Add(bar store.Bar) {
	ts := bar.Timestamp.UnixMilli()

	b.count++
	b.closeSum += bar.Close
	b.volSum += bar.Volume

	if bar.Close < b.closeMin {
		b.closeMin = bar.Close
	}
	if bar.Close > b.closeMax {
		b.closeMax = bar.Close
	}
	if b.firstTs == 0 || ts < b.firstTs {
		b.firstTs = ts
	}
	if ts > b.lastTs {
		b.lastTs = ts
	}

	if b.closeSketch != nil {
		b.closeSketch.Add(bar.Close)
	}
	if b.volSketch != nil {
		b.volSketch.Add(bar.Volume)
	}
}

// Count returns the number of bars added.
func (b *Builder) Count() int64 { return b.count }

// Result returns the accumulated summary.
func (b *Builder) Result() AssetSummary {
	s := AssetSummary{
		Sid:       b.sid,
		BarCount:  b.count,
		FirstTs:   b.firstTs,
		LastTs:    b.lastTs,
		VolumeSum: b.volSum,
	}

	if b.count > 0 {
		s.CloseAvg = b.closeSum / float64(b.count)
		s.CloseMin = b.closeMin
		s.CloseMax = b.closeMax
	}

	if b.closeSketch != nil && b.count > 0 {
		s.CloseP50, _ = b.closeSketch.GetValueAtQuantile(0.50)
		s.CloseP90, _ = b.closeSketch.GetValueAtQuantile(0.90)
		s.CloseP99, _ = b.closeSketch.GetValueAtQuantile(0.99)
	}
	if b.volSketch != nil && b.count > 0 {
		s.VolumeP50, _ = b.volSketch.GetValueAtQuantile(0.50)
		s.VolumeP99, _ = b.volSketch.GetValueAtQuantile(0.99)
	}
	return s
}

// Summarize builds per-sid summaries from raw bar rows.
func Summarize(rows []store.BarRow) map[int64]AssetSummary {
	builders := make(map[int64]*Builder)
	for i := range rows {
		row := &rows[i]
		b, ok := builders[row.Sid]
		if !ok {
			b = NewBuilder(row.Sid)
			builders[row.Sid] = b
		}
		b.Add(store.RowToBar(row))
	}

	out := make(map[int64]AssetSummary, len(builders))
	for sid, b := range builders {
		out[sid] = b.Result()
	}
	return out
}
