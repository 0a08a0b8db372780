// Package staging locates and materializes staged chunk bundles, the
// per-asset per-period mini bundles that ingestion merges into the main
// bundle.
package staging

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"github.com/mxfell/barvault/internal/asset"
	"github.com/mxfell/barvault/internal/errors"
	"github.com/mxfell/barvault/internal/logging"
	"github.com/mxfell/barvault/internal/store"
)

// Locator resolves the staged bundle root for one asset and one chunk
// period. The returned path may not exist; callers check store.Exists
// before reading.
type Locator interface {
	Locate(ctx context.Context, a asset.Asset, frequency asset.Frequency, label string) (string, error)
}

// StagedPath returns the deterministic staging root for one chunk, e.g.
// {dir}/poloniex-btc_usdt-minute-2017-03.
func StagedPath(dir, exchange, symbol string, frequency asset.Frequency, label string) string {
	name := fmt.Sprintf("%s-%s-%s-%s", exchange, symbol, frequency, label)
	return filepath.Join(dir, name)
}

// FSLocator resolves staged bundles that are already on disk. It performs
// no I/O; missing chunks surface later as skipped merges.
type FSLocator struct {
	Dir string
}

// Locate returns the deterministic staging path for the chunk.
func (l *FSLocator) Locate(_ context.Context, a asset.Asset, frequency asset.Frequency, label string) (string, error) {
	return StagedPath(l.Dir, a.Exchange, a.Symbol, frequency, label), nil
}

// HTTPLocator downloads staged chunks from an upstream endpoint and
// materializes them as local staged bundles. A chunk already staged on
// disk is returned without contacting the upstream.
type HTTPLocator struct {
	BaseURL string
	Dir     string
	Options store.Options

	client *http.Client
}

// NewHTTPLocator returns a locator fetching from baseURL into dir, with
// timeout bounding one download.
func NewHTTPLocator(baseURL, dir string, timeout time.Duration, opts store.Options) *HTTPLocator {
	return &HTTPLocator{
		BaseURL: baseURL,
		Dir:     dir,
		Options: opts,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
}

// Locate fetches the chunk if it is not already staged and returns its
// staging root. A missing upstream chunk returns StagingNotFoundError.
func (l *HTTPLocator) Locate(ctx context.Context, a asset.Asset, frequency asset.Frequency, label string) (string, error) {
	root := StagedPath(l.Dir, a.Exchange, a.Symbol, frequency, label)
	if store.Exists(root) {
		return root, nil
	}

	url := fmt.Sprintf("%s/%s/%s/%s-%s.parquet", l.BaseURL, a.Exchange, frequency, a.Symbol, label)
	rows, err := l.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if err := materialize(root, a.Sid, frequency, rows, l.Options); err != nil {
		return "", err
	}
	return root, nil
}

func (l *HTTPLocator) fetch(ctx context.Context, url string) ([]store.BarRow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &errors.StagingNotFoundError{Path: url}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(l.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	tmp, err := os.CreateTemp(l.Dir, "fetch-*.parquet")
	if err != nil {
		return nil, fmt.Errorf("create download file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}

	return readRows(tmp)
}

func readRows(f *os.File) ([]store.BarRow, error) {
	reader := parquet.NewGenericReader[store.BarRow](f)
	defer reader.Close()

	var out []store.BarRow
	buf := make([]store.BarRow, 1024)
	for {
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil && n == 0 {
			return nil, fmt.Errorf("read staged rows: %w", err)
		}
	}
	return out, nil
}

// materialize writes downloaded rows as a staged mini bundle at root. The
// session range and declared coverage both come from the rows themselves.
func materialize(root string, sid int64, frequency asset.Frequency, rows []store.BarRow, opts store.Options) error {
	if len(rows) == 0 {
		return &errors.StagingNotFoundError{Path: root}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].TimestampMs < rows[j].TimestampMs })
	start := time.UnixMilli(rows[0].TimestampMs).UTC()
	end := time.UnixMilli(rows[len(rows)-1].TimestampMs).UTC()

	bars := make([]store.Bar, len(rows))
	for i := range rows {
		bars[i] = store.RowToBar(&rows[i])
	}

	w, err := store.OpenWriter(root, frequency.String(), start, end, true, opts)
	if err != nil {
		return err
	}
	return w.Write([]store.SidRows{{Sid: sid, Bars: bars, Start: start, End: end}}, store.ConflictIgnore)
}

// PrefetchItem names one chunk to stage ahead of merging.
type PrefetchItem struct {
	Asset     asset.Asset
	Frequency asset.Frequency
	Label     string
}

// Prefetch stages items concurrently with at most workers in flight.
// Missing upstream chunks are logged and skipped; any other failure
// cancels the remaining fetches.
func Prefetch(ctx context.Context, loc Locator, items []PrefetchItem, workers int) error {
	log := logging.Component("staging")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, item := range items {
		g.Go(func() error {
			_, err := loc.Locate(ctx, item.Asset, item.Frequency, item.Label)
			if errors.IsStagingNotFound(err) {
				log.Debug("staged chunk not available upstream",
					"symbol", item.Asset.Symbol, "label", item.Label)
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
