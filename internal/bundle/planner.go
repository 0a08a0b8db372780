package bundle

import (
	"sort"
	"time"

	"github.com/mxfell/barvault/internal/asset"
	"github.com/mxfell/barvault/internal/calendar"
)

// Chunk is one calendar-aligned unit of ingestion work for one asset:
// a month of minute bars or a year of daily bars, clipped at the edges to
// the asset's trading lifetime.
type Chunk struct {
	Asset asset.Asset
	Start time.Time
	End   time.Time
	Label string
}

// ChunkOrder orders planned chunks by period end.
type ChunkOrder int

const (
	// OrderAscending merges oldest periods first.
	OrderAscending ChunkOrder = iota

	// OrderDescending merges the most recent periods first.
	OrderDescending
)

// ParseChunkOrder parses a chunk order string; empty defaults to
// ascending.
func ParseChunkOrder(s string) ChunkOrder {
	if s == "descending" {
		return OrderDescending
	}
	return OrderAscending
}

// planChunks computes the chunks missing from the bundle for the given
// assets over [start, end]. reader is nil when no bundle exists yet, in
// which case every period in scope is missing.
//
// The walk advances one session at a time so an asset that starts trading
// mid-period still gets its first period emitted, clipped up to the first
// trading instant. Periods the bundle already covers are skipped; for
// minute frequency the coverage probe starts at the last minute of the
// period's first day because some venues never trade at midnight.
func planChunks(cal calendar.Calendar, assets []asset.Asset, frequency asset.Frequency, start, end time.Time, reader Reader, order ChunkOrder) []Chunk {
	var chunks []Chunk

	for _, a := range assets {
		chunks = append(chunks, planAssetChunks(cal, a, frequency, start, end, reader)...)
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if order == OrderDescending {
			return chunks[i].End.After(chunks[j].End)
		}
		return chunks[i].End.Before(chunks[j].End)
	})
	return chunks
}

func planAssetChunks(cal calendar.Calendar, a asset.Asset, frequency asset.Frequency, start, end time.Time, reader Reader) []Chunk {
	firstTrading := a.StartDate
	if cal.FirstSession().After(firstTrading) {
		firstTrading = cal.FirstSession()
	}

	walkStart := start
	if firstTrading.After(walkStart) {
		walkStart = firstTrading
	}
	walkEnd := end
	if last := a.EndFor(frequency); !last.IsZero() && last.Before(walkEnd) {
		walkEnd = last
	}
	if walkStart.After(walkEnd) {
		return nil
	}

	// walkStart may sit mid-period; enumerate from the day the requested
	// range begins so the containing period is still visited.
	sessions := cal.SessionsInRange(calendar.DayStart(start), walkEnd)

	var chunks []Chunk
	emitted := make(map[string]bool)
	for _, day := range sessions {
		label := frequency.PeriodLabel(day)
		if emitted[label] {
			continue
		}

		// Trading has not begun on this day yet; keep walking so the
		// day-walk reaches the period where it does.
		if day.Before(calendar.DayStart(firstTrading)) {
			continue
		}

		periodStart, periodEnd := periodBounds(frequency, day)
		if firstTrading.After(periodStart) {
			periodStart = firstTrading
		}
		if last := a.EndFor(frequency); !last.IsZero() && last.Before(periodEnd) && !last.Before(periodStart) {
			periodEnd = last
		}

		emitted[label] = true

		probeStart := periodStart
		if frequency == asset.Minute {
			probeStart = calendar.LastMinuteOfDay(periodStart)
		}
		if reader != nil && reader.CoversRange(a.Sid, probeStart, periodEnd) {
			continue
		}

		chunks = append(chunks, Chunk{Asset: a, Start: periodStart, End: periodEnd, Label: label})
	}
	return chunks
}

// periodBounds returns the calendar bounds of the period containing t.
func periodBounds(frequency asset.Frequency, t time.Time) (time.Time, time.Time) {
	if frequency == asset.Minute {
		return calendar.MonthBounds(t)
	}
	return calendar.YearBounds(t)
}

// chunkWindow returns the union [start, end] of all planned chunks.
func chunkWindow(chunks []Chunk) (time.Time, time.Time) {
	var start, end time.Time
	for _, c := range chunks {
		if start.IsZero() || c.Start.Before(start) {
			start = c.Start
		}
		if c.End.After(end) {
			end = c.End
		}
	}
	return start, end
}
