// Package store implements the persistent columnar bar store backing one
// exchange bundle.
//
// A bundle root holds Parquet segment files, one per merged chunk write,
// plus a metadata.json recording the session range the bundle spans and a
// per-sid coverage index. The coverage index is what makes gap detection
// and idempotent re-ingestion cheap: a range is "in the bundle" when one
// recorded interval fully contains it.
package store

import (
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// Field names one OHLCV column.
type Field string

const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
)

// OHLCV lists all bar fields in canonical order.
var OHLCV = []Field{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume}

// Bar is one OHLCV observation at one calendar period.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Value returns the named field of the bar.
func (b Bar) Value(f Field) float64 {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldClose:
		return b.Close
	case FieldVolume:
		return b.Volume
	}
	return 0
}

// SidRows is one asset's contribution to a write: its bars plus the
// calendar range the write declares as covered. The declared range can be
// wider than the bars span when edge periods had no trades.
type SidRows struct {
	Sid   int64
	Bars  []Bar
	Start time.Time
	End   time.Time
}

// ConflictBehavior selects how Write treats a declared range that overlaps
// existing coverage.
type ConflictBehavior int

const (
	// ConflictRaise returns a ConflictError for the first overlapping sid.
	ConflictRaise ConflictBehavior = iota

	// ConflictIgnore silently skips overlapping sids.
	ConflictIgnore
)

// BarRow is a bar in Parquet format.
type BarRow struct {
	Sid         int64   `parquet:"sid"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Open        float64 `parquet:"open"`
	High        float64 `parquet:"high"`
	Low         float64 `parquet:"low"`
	Close       float64 `parquet:"close"`
	Volume      float64 `parquet:"volume"`
}

// BarToRow converts a Bar to a BarRow.
func BarToRow(sid int64, b *Bar) BarRow {
	return BarRow{
		Sid:         sid,
		TimestampMs: b.Timestamp.UnixMilli(),
		Open:        b.Open,
		High:        b.High,
		Low:         b.Low,
		Close:       b.Close,
		Volume:      b.Volume,
	}
}

// RowToBar converts a BarRow to a Bar.
func RowToBar(r *BarRow) Bar {
	return Bar{
		Timestamp: time.UnixMilli(r.TimestampMs).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}

// Options configures the Parquet segment writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}
