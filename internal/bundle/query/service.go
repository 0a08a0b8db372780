// Package query provides SQL query capabilities over merged bundle data.
// It uses DuckDB to query the bundle's Parquet segments directly, without
// loading them through the store reader.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/mxfell/barvault/internal/bundle/config"
	"github.com/mxfell/barvault/internal/store"
)

// Service provides query capabilities over bundle data.
type Service struct {
	mu sync.RWMutex

	config *config.Config
	db     *sql.DB

	// Statistics
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// BarsQuery defines parameters for querying one asset's bars.
type BarsQuery struct {
	Frequency string
	Sid       int64
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// New creates a new query service.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.Query.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.Query.MemoryLimit))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		config: cfg,
		db:     db,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Bars queries one asset's bars over a time range, ordered by timestamp.
func (s *Service) Bars(ctx context.Context, q BarsQuery) ([]store.BarRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := filepath.Join(s.config.BundleDir(q.Frequency), "*.parquet")

	query := `
		SELECT
			sid, timestamp_ms,
			open, high, low, close, volume
		FROM read_parquet($1)
		WHERE sid = $2
		  AND timestamp_ms >= $3
		  AND timestamp_ms <= $4
		ORDER BY timestamp_ms
	`

	rows, err := s.db.QueryContext(ctx, query,
		pattern,
		q.Sid,
		q.StartTime.UnixMilli(),
		q.EndTime.UnixMilli(),
	)
	if err != nil {
		// If no segments exist, return empty result
		return nil, nil
	}
	defer rows.Close()

	results, err := s.scanBars(rows)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 || limit > s.config.Query.MaxRows {
		limit = s.config.Query.MaxRows
	}
	if len(results) > limit {
		results = results[:limit]
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, nil
}

// AllBars returns every bar in a frequency's bundle, ordered by sid and
// timestamp. Summary reporting uses it.
func (s *Service) AllBars(ctx context.Context, frequency string) ([]store.BarRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := filepath.Join(s.config.BundleDir(frequency), "*.parquet")

	query := `
		SELECT
			sid, timestamp_ms,
			open, high, low, close, volume
		FROM read_parquet($1)
		ORDER BY sid, timestamp_ms
	`

	rows, err := s.db.QueryContext(ctx, query, pattern)
	if err != nil {
		return nil, nil
	}
	defer rows.Close()

	results, err := s.scanBars(rows)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, nil
}

// scanBars scans rows into a BarRow slice.
func (s *Service) scanBars(rows *sql.Rows) ([]store.BarRow, error) {
	var results []store.BarRow

	for rows.Next() {
		var r store.BarRow
		err := rows.Scan(
			&r.Sid, &r.TimestampMs,
			&r.Open, &r.High, &r.Low, &r.Close, &r.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// ExecuteSQL executes a raw SQL query using DuckDB.
// This is useful for ad-hoc queries and debugging.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, s.config.Query.Timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)

		if len(results) >= s.config.Query.MaxRows {
			break
		}
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, rows.Err()
}

// ServiceStats returns query statistics.
func (s *Service) ServiceStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
