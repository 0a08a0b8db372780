package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Exchange == "" {
		errs = append(errs, errors.New("exchange is required"))
	}

	if _, err := time.Parse("2006-01-02", c.Calendar.FirstSession); err != nil {
		errs = append(errs, fmt.Errorf("calendar.first_session: %w", err))
	}

	if err := c.Staging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("staging: %w", err))
	}
	if err := c.Ingestion.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingestion: %w", err))
	}
	if err := c.Compression.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compression: %w", err))
	}
	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the staging configuration.
func (c *StagingConfig) Validate() error {
	var errs []error

	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch_timeout must be positive"))
	}
	if c.PrefetchWorkers <= 0 {
		errs = append(errs, errors.New("prefetch_workers must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the ingestion configuration.
func (c *IngestionConfig) Validate() error {
	var errs []error

	validPolicies := map[string]bool{
		"ignore": true,
		"strip":  true,
		"warn":   true,
		"raise":  true,
		"":       true, // Empty defaults to strip
	}
	if !validPolicies[c.GapPolicy] {
		errs = append(errs, errors.New("gap_policy must be one of: ignore, strip, warn, raise"))
	}

	validOrders := map[string]bool{
		"ascending":  true,
		"descending": true,
		"":           true, // Empty defaults to ascending
	}
	if !validOrders[c.ChunkOrder] {
		errs = append(errs, errors.New("chunk_order must be one of: ascending, descending"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the compression configuration.
func (c *CompressionConfig) Validate() error {
	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Algorithm] {
		return errors.New("algorithm must be one of: snappy, zstd, lz4, gzip, none")
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
