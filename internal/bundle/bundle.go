// Package bundle is the per-exchange ingestion and query engine: it plans
// the calendar-aligned chunks missing from the store, merges staged chunks
// into it, and serves windowed and spot reads that backfill themselves
// when coverage is missing.
package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mxfell/barvault/internal/asset"
	"github.com/mxfell/barvault/internal/bundle/config"
	"github.com/mxfell/barvault/internal/calendar"
	"github.com/mxfell/barvault/internal/errors"
	"github.com/mxfell/barvault/internal/logging"
	"github.com/mxfell/barvault/internal/progress"
	"github.com/mxfell/barvault/internal/staging"
	"github.com/mxfell/barvault/internal/store"
)

// Bundle owns one exchange's bar store across both frequencies. Instances
// are safe for concurrent use; independent exchanges get independent
// instances and share nothing.
type Bundle struct {
	cfg     *config.Config
	cal     calendar.Calendar
	catalog asset.Catalog
	locator staging.Locator
	cache   *handleCache

	gapPolicy GapPolicy
	order     ChunkOrder
	cleanup   bool

	log *slog.Logger
}

// New creates the bundle for the configured exchange.
func New(cfg *config.Config, cal calendar.Calendar, catalog asset.Catalog, locator staging.Locator) *Bundle {
	opts := store.Options{Compression: store.ParseCompressionType(cfg.Compression.Algorithm)}
	return &Bundle{
		cfg:       cfg,
		cal:       cal,
		catalog:   catalog,
		locator:   locator,
		cache:     newHandleCache(opts),
		gapPolicy: ParseGapPolicy(cfg.Ingestion.GapPolicy),
		order:     ParseChunkOrder(cfg.Ingestion.ChunkOrder),
		cleanup:   cfg.Ingestion.CleanupStaging,
		log:       logging.Exchange("bundle", cfg.Exchange),
	}
}

// adjustRange narrows [start, end] to the window where the asset set can
// actually have data. A zero start or end means "unbounded" and is filled
// from the asset lifetimes. The result must be a non-empty forward window
// or the scope has no data at all.
func (b *Bundle) adjustRange(assets []asset.Asset, start, end time.Time, frequency asset.Frequency) (time.Time, time.Time, error) {
	var earliestTrade, lastEntry time.Time
	for _, a := range assets {
		if a.StartDate.Before(b.cal.FirstSession()) {
			continue
		}
		if earliestTrade.IsZero() || a.StartDate.Before(earliestTrade) {
			earliestTrade = a.StartDate
		}
	}
	for _, a := range assets {
		if last := a.EndFor(frequency); last.After(lastEntry) {
			lastEntry = last
		}
	}

	if !earliestTrade.IsZero() && (start.IsZero() || earliestTrade.After(start)) {
		start = earliestTrade
	}
	if !lastEntry.IsZero() && (end.IsZero() || lastEntry.Before(end)) {
		end = lastEntry
	}

	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return time.Time{}, time.Time{}, &errors.NoDataAvailableError{
			Exchange:  b.cfg.Exchange,
			Symbols:   asset.Symbols(assets),
			Frequency: frequency.String(),
		}
	}
	return start, end, nil
}

// IngestAssets plans and merges every chunk missing from the bundle for
// the given assets over [start, end]. Planning zero chunks is a no-op.
// The write window expands to the union of the planned chunks, since
// calendar alignment can push chunk bounds past the requested range.
func (b *Bundle) IngestAssets(ctx context.Context, assets []asset.Asset, start, end time.Time, frequency asset.Frequency, sink progress.Sink) error {
	if sink == nil {
		sink = progress.Nop{}
	}

	start, end, err := b.adjustRange(assets, start, end, frequency)
	if err != nil {
		return err
	}

	root := b.cfg.BundleDir(frequency.String())
	reader, err := b.cache.Reader(root, frequency.String())
	if err != nil {
		reader = nil // no bundle yet, every period in scope is missing
	}

	chunks := planChunks(b.cal, assets, frequency, start, end, reader, b.order)
	if len(chunks) == 0 {
		b.log.Debug("no chunks to ingest", "frequency", frequency.String(),
			"start", start, "end", end)
		return nil
	}

	windowStart, windowEnd := chunkWindow(chunks)

	// A writer cached by an earlier ingestion may span a narrower window;
	// the cache never extends a cached writer, so evict it first.
	if ws, we, ok := b.cache.WriterRange(root); ok && (windowStart.Before(ws) || windowEnd.After(we)) {
		b.cache.InvalidateWriter(root)
	}
	if _, err := b.cache.Writer(root, frequency.String(), windowStart, windowEnd); err != nil {
		return err
	}

	b.log.Info("ingesting chunks", "frequency", frequency.String(),
		"chunks", len(chunks), "start", windowStart, "end", windowEnd)

	// Remote staging dominates latency; fetch ahead of the merge loop.
	if b.cfg.Staging.BaseURL != "" && b.cfg.Staging.PrefetchWorkers > 1 {
		items := make([]staging.PrefetchItem, len(chunks))
		for i, c := range chunks {
			items[i] = staging.PrefetchItem{Asset: c.Asset, Frequency: frequency, Label: c.Label}
		}
		if err := staging.Prefetch(ctx, b.locator, items, b.cfg.Staging.PrefetchWorkers); err != nil {
			return err
		}
	}

	sink.Start(len(chunks), fmt.Sprintf("ingesting %s bars", frequency))
	defer sink.Done()

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := b.mergeChunk(ctx, chunk, frequency, b.gapPolicy, b.cleanup)
		if errors.IsStagingNotFound(err) {
			b.log.Warn("staged chunk missing, skipping",
				"symbol", chunk.Asset.Symbol, "label", chunk.Label)
		} else if err != nil {
			return err
		} else if result.Skipped {
			b.log.Warn("chunk skipped", "symbol", chunk.Asset.Symbol,
				"label", chunk.Label, "reason", result.Reason)
		}
		sink.Step(fmt.Sprintf("%s %s", chunk.Asset.Symbol, chunk.Label))
	}

	// Reads opened before this ingestion hold stale coverage.
	b.cache.InvalidateReader(root)
	return nil
}

// Ingest resolves the asset scope and runs IngestAssets once per
// frequency. include narrows the scope to named symbols; exclude drops
// symbols from it afterwards.
func (b *Bundle) Ingest(ctx context.Context, frequencies []asset.Frequency, include, exclude []string, start, end time.Time, sink progress.Sink) error {
	assets, err := b.catalog.ListAssets(ctx, include...)
	if err != nil {
		return err
	}
	if len(exclude) > 0 {
		drop := make(map[string]bool, len(exclude))
		for _, s := range exclude {
			drop[s] = true
		}
		kept := assets[:0]
		for _, a := range assets {
			if !drop[a.Symbol] {
				kept = append(kept, a)
			}
		}
		assets = kept
	}
	if len(assets) == 0 {
		return &errors.NoDataAvailableError{Exchange: b.cfg.Exchange}
	}

	for _, frequency := range frequencies {
		if err := b.IngestAssets(ctx, assets, start, end, frequency, sink); err != nil {
			return err
		}
	}
	return nil
}

// Clean deletes the named frequency's bundle directory, or, when
// frequency is empty, both bundle directories plus the symbol-catalog
// cache and the staging tree. Irreversible.
func (b *Bundle) Clean(frequency string) error {
	var targets []string
	if frequency == "" {
		targets = []string{
			b.cfg.SymbolsPath(),
			b.cfg.StagingDir(),
			b.cfg.BundleDir(asset.Minute.String()),
			b.cfg.BundleDir(asset.Daily.String()),
		}
	} else {
		if _, err := asset.ParseFrequency(frequency); err != nil {
			return err
		}
		targets = []string{b.cfg.BundleDir(frequency)}
	}

	for _, target := range targets {
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("remove %s: %w", target, err)
		}
		b.log.Info("removed", "path", target)
	}

	b.cache.Reset()
	return nil
}
