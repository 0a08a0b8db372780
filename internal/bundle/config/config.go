// Package config holds the bundle configuration and the on-disk layout of
// an exchange's data directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bundle configuration for one exchange.
type Config struct {
	// DataDir is the root directory for all exchange data.
	DataDir string `yaml:"data_dir"`

	// Exchange is the exchange name; its data lives under
	// {DataDir}/{Exchange}.
	Exchange string `yaml:"exchange"`

	// Calendar configures the trading calendar.
	Calendar CalendarConfig `yaml:"calendar"`

	// Catalog configures the symbol catalog source.
	Catalog CatalogConfig `yaml:"catalog"`

	// Staging configures where staged chunks come from.
	Staging StagingConfig `yaml:"staging"`

	// Ingestion configures chunk merging.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Compression configures Parquet compression for bundle segments.
	Compression CompressionConfig `yaml:"compression"`

	// Query configures the SQL query service.
	Query QueryConfig `yaml:"query"`
}

// CalendarConfig configures the trading calendar.
type CalendarConfig struct {
	// FirstSession is the first session the calendar supports,
	// formatted as 2006-01-02.
	FirstSession string `yaml:"first_session"`
}

// CatalogConfig configures the symbol catalog source.
type CatalogConfig struct {
	// URL is the HTTP endpoint serving the exchange's symbol catalog.
	// Empty means only the local symbols.json cache is consulted.
	URL string `yaml:"url"`
}

// StagingConfig configures where staged chunks come from.
type StagingConfig struct {
	// BaseURL is the upstream endpoint serving staged per-asset
	// per-period chunks. Empty means chunks must already be staged
	// locally.
	BaseURL string `yaml:"base_url"`

	// FetchTimeout bounds one staged chunk download.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// PrefetchWorkers bounds concurrent staged chunk downloads.
	PrefetchWorkers int `yaml:"prefetch_workers"`
}

// IngestionConfig configures chunk merging.
type IngestionConfig struct {
	// GapPolicy is the rule for calendar periods with missing values:
	// ignore, strip, warn, raise.
	GapPolicy string `yaml:"gap_policy"`

	// ChunkOrder orders planned chunks for merging: ascending or
	// descending by period end.
	ChunkOrder string `yaml:"chunk_order"`

	// CleanupStaging removes a chunk's staging area after a successful
	// merge.
	CleanupStaging bool `yaml:"cleanup_staging"`
}

// CompressionConfig configures Parquet compression.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: snappy, zstd, lz4, none.
	Algorithm string `yaml:"algorithm"`
}

// QueryConfig configures the SQL query service.
type QueryConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  defaultDataDir(),
		Exchange: "",
		Calendar: CalendarConfig{
			FirstSession: "2015-03-01",
		},
		Staging: StagingConfig{
			FetchTimeout:    5 * time.Minute,
			PrefetchWorkers: 4,
		},
		Ingestion: IngestionConfig{
			GapPolicy:      "strip",
			ChunkOrder:     "ascending",
			CleanupStaging: true,
		},
		Compression: CompressionConfig{
			Algorithm: "zstd",
		},
		Query: QueryConfig{
			MemoryLimit: "2GB",
			Timeout:     30 * time.Second,
			MaxRows:     1000000,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".barvault"
	}
	return filepath.Join(home, ".barvault")
}

// ExchangeDir returns the root directory of the configured exchange.
func (c *Config) ExchangeDir() string {
	return filepath.Join(c.DataDir, c.Exchange)
}

// BundleDir returns the bundle directory for a frequency, e.g.
// {root}/minute_bundle.
func (c *Config) BundleDir(frequency string) string {
	return filepath.Join(c.ExchangeDir(), frequency+"_bundle")
}

// StagingDir returns the staging area root for the exchange.
func (c *Config) StagingDir() string {
	return filepath.Join(c.ExchangeDir(), "temp_bundles")
}

// SymbolsPath returns the symbol catalog cache file path.
func (c *Config) SymbolsPath() string {
	return filepath.Join(c.ExchangeDir(), "symbols.json")
}

// FirstSession parses the configured calendar first session.
func (c *Config) FirstSession() (time.Time, error) {
	t, err := time.Parse("2006-01-02", c.Calendar.FirstSession)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse calendar.first_session: %w", err)
	}
	return t.UTC(), nil
}

// EnsureDirectories creates the exchange's directory tree.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.ExchangeDir(),
		c.StagingDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
