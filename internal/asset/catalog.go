package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mxfell/barvault/internal/errors"
)

// Catalog lists the assets tradable on an exchange. With no symbols the
// full catalog is returned; with symbols, only the named assets, in the
// requested order.
type Catalog interface {
	ListAssets(ctx context.Context, symbols ...string) ([]Asset, error)
}

// Source fetches the authoritative symbol catalog from upstream.
type Source interface {
	FetchAll(ctx context.Context) ([]Asset, error)
}

// CachedCatalog caches the exchange's symbol catalog in a symbols.json
// file under the exchange root. The cache is refreshed from the source
// only when the file is absent; clean() removes it to force a refresh.
type CachedCatalog struct {
	path   string
	source Source
}

// NewCachedCatalog creates a catalog backed by the given cache file path
// and upstream source. The source may be nil, in which case a missing
// cache file is an error.
func NewCachedCatalog(path string, source Source) *CachedCatalog {
	return &CachedCatalog{path: path, source: source}
}

// ListAssets implements Catalog.
func (c *CachedCatalog) ListAssets(ctx context.Context, symbols ...string) ([]Asset, error) {
	assets, err := c.load(ctx)
	if err != nil {
		return nil, err
	}

	if len(symbols) == 0 {
		return assets, nil
	}

	bySymbol := make(map[string]Asset, len(assets))
	for _, a := range assets {
		bySymbol[a.Symbol] = a
	}

	out := make([]Asset, 0, len(symbols))
	for _, s := range symbols {
		a, ok := bySymbol[s]
		if !ok {
			return nil, errors.Wrapf(errors.ErrSymbolNotFound, "%q", s)
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *CachedCatalog) load(ctx context.Context) ([]Asset, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return c.refresh(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("read symbol cache: %w", err)
	}

	var assets []Asset
	if err := json.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("parse symbol cache %s: %w", c.path, err)
	}
	return assets, nil
}

func (c *CachedCatalog) refresh(ctx context.Context) ([]Asset, error) {
	if c.source == nil {
		return nil, errors.Wrapf(errors.ErrCatalogNotFound, "%s", c.path)
	}

	assets, err := c.source.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch symbol catalog: %w", err)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Sid < assets[j].Sid })

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return nil, fmt.Errorf("create exchange directory: %w", err)
	}
	data, err := json.MarshalIndent(assets, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode symbol cache: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return nil, fmt.Errorf("write symbol cache: %w", err)
	}
	return assets, nil
}

// StaticCatalog serves a fixed asset list. Tests and embedded deployments
// use it in place of a fetched catalog.
type StaticCatalog struct {
	Assets []Asset
}

// ListAssets implements Catalog.
func (c *StaticCatalog) ListAssets(_ context.Context, symbols ...string) ([]Asset, error) {
	if len(symbols) == 0 {
		return c.Assets, nil
	}
	bySymbol := make(map[string]Asset, len(c.Assets))
	for _, a := range c.Assets {
		bySymbol[a.Symbol] = a
	}
	out := make([]Asset, 0, len(symbols))
	for _, s := range symbols {
		a, ok := bySymbol[s]
		if !ok {
			return nil, errors.Wrapf(errors.ErrSymbolNotFound, "%q", s)
		}
		out = append(out, a)
	}
	return out, nil
}

// HTTPSource fetches the symbol catalog from an HTTP endpoint serving the
// same JSON layout as the cache file.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPSource creates an HTTP catalog source with a bounded-timeout
// client.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL: url,
		Client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: time.Minute,
				TLSHandshakeTimeout:   10 * time.Second,
			},
			Timeout: 2 * time.Minute,
		},
	}
}

// FetchAll implements Source.
func (s *HTTPSource) FetchAll(ctx context.Context) ([]Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: unexpected status %s", resp.Status)
	}

	var assets []Asset
	if err := json.NewDecoder(resp.Body).Decode(&assets); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return assets, nil
}
