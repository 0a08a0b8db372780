package bundle

import (
	"context"
	"math"
	"time"

	"github.com/mxfell/barvault/internal/asset"
	"github.com/mxfell/barvault/internal/calendar"
	"github.com/mxfell/barvault/internal/errors"
	"github.com/mxfell/barvault/internal/store"
)

// Series is one asset's values over a calendar window. Values aligns with
// Index; periods with no bar hold NaN.
type Series struct {
	Asset  asset.Asset
	Index  []time.Time
	Values []float64
}

// reader returns the bundle reader for a frequency, optionally forcing a
// reopen first so freshly ingested coverage is visible.
func (b *Bundle) reader(frequency asset.Frequency, forceRefresh bool) (Reader, error) {
	root := b.cfg.BundleDir(frequency.String())
	if forceRefresh {
		b.cache.InvalidateReader(root)
	}
	return b.cache.Reader(root, frequency.String())
}

// rangeCovered reports whether the bundle fully covers [start, end] for
// the sid. Minute probes start at the last minute of the first day, same
// as chunk planning.
func rangeCovered(reader Reader, sid int64, start, end time.Time, frequency asset.Frequency) bool {
	if frequency == asset.Minute {
		start = calendar.LastMinuteOfDay(start)
	}
	return reader.CoversRange(sid, start, end)
}

// SpotValues returns each asset's field value at exactly dt, aligned to
// the input order. Any asset's lookup failure fails the whole call, with
// the failing assets attached to the error.
func (b *Bundle) SpotValues(assets []asset.Asset, field store.Field, dt time.Time, frequency asset.Frequency, forceRefresh bool) ([]float64, error) {
	reader, err := b.reader(frequency, forceRefresh)
	if err != nil {
		return nil, b.notLoaded(field, assets, frequency)
	}

	values := make([]float64, len(assets))
	var failed []string
	for i, a := range assets {
		v, err := reader.ValueAt(a.Sid, dt, field)
		if err != nil {
			failed = append(failed, a.Symbol)
			continue
		}
		values[i] = v
	}
	if len(failed) > 0 {
		err := b.notLoaded(field, assets, frequency)
		err.Symbols = failed
		return nil, err
	}
	return values, nil
}

// HistoryWindow returns barCount periods of field history ending at endDt
// for every asset. The whole window must already be covered by the
// bundle; a coverage hole for any asset fails the call.
func (b *Bundle) HistoryWindow(assets []asset.Asset, endDt time.Time, barCount int, field store.Field, frequency asset.Frequency, forceRefresh bool) ([]Series, error) {
	startDt := endDt.Add(-time.Duration(barCount) * frequency.Delta())

	startDt, endDt, err := b.adjustRange(assets, startDt, endDt, frequency)
	if err != nil {
		return nil, err
	}

	reader, err := b.reader(frequency, forceRefresh)
	if err != nil {
		return nil, b.notLoaded(field, assets, frequency)
	}
	for _, a := range assets {
		if !rangeCovered(reader, a.Sid, startDt, endDt, frequency) {
			return nil, b.notLoaded(field, []asset.Asset{a}, frequency)
		}
	}

	var grid []time.Time
	if frequency == asset.Minute {
		grid = b.cal.MinutesInRange(startDt, endDt)
	} else {
		grid = b.cal.SessionsInRange(startDt, endDt)
	}

	sids := make([]int64, len(assets))
	for i, a := range assets {
		sids[i] = a.Sid
	}
	arrays, err := reader.LoadRawArrays(sids, []store.Field{field}, startDt, endDt)
	if err != nil {
		return nil, b.notLoaded(field, assets, frequency)
	}

	series := make([]Series, len(assets))
	for i, a := range assets {
		values := make([]float64, len(grid))
		for j, ts := range grid {
			if v, ok := arrays[a.Sid][ts.UnixMilli()]; ok {
				values[j] = v[0]
			} else {
				values[j] = math.NaN()
			}
		}
		series[i] = Series{Asset: a, Index: grid, Values: values}
	}
	return series, nil
}

// HistoryWindowOrLoad serves a history window, backfilling the deficient
// range through ingestion when coverage is missing. Exactly one backfill
// and retry; the retry forces cache invalidation so extended coverage is
// visible, and its failure propagates.
func (b *Bundle) HistoryWindowOrLoad(ctx context.Context, assets []asset.Asset, endDt time.Time, barCount int, field store.Field, frequency asset.Frequency) ([]Series, error) {
	series, err := b.HistoryWindow(assets, endDt, barCount, field, frequency, false)
	if err == nil {
		return series, nil
	}
	if !errors.IsPricingDataNotLoaded(err) {
		return nil, err
	}

	startDt := endDt.Add(-time.Duration(barCount) * frequency.Delta())
	if err := b.IngestAssets(ctx, assets, startDt, endDt, frequency, nil); err != nil {
		return nil, err
	}
	return b.HistoryWindow(assets, endDt, barCount, field, frequency, true)
}

func (b *Bundle) notLoaded(field store.Field, assets []asset.Asset, frequency asset.Frequency) *errors.PricingDataNotLoadedError {
	return &errors.PricingDataNotLoadedError{
		Field:           string(field),
		Exchange:        b.cfg.Exchange,
		Symbols:         asset.Symbols(assets),
		Frequency:       frequency.String(),
		FirstTradingDay: b.cal.FirstSession(),
	}
}
