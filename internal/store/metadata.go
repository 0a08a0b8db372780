package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// MetadataFile is the name of the metadata document at a bundle root.
const MetadataFile = "metadata.json"

// Interval is an inclusive covered range in Unix milliseconds.
type Interval struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// SegmentMeta describes one Parquet segment file under the bundle root.
type SegmentMeta struct {
	File    string `json:"file"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// SidCoverage is the sorted, non-overlapping covered intervals of one sid.
type SidCoverage struct {
	Sid    int64      `json:"sid"`
	Ranges []Interval `json:"ranges"`
}

// Metadata is the persisted state of a bundle: the session range its
// writer was opened for, its segment files, and per-sid coverage.
type Metadata struct {
	Frequency      string        `json:"frequency"`
	StartSessionMs int64         `json:"start_session_ms"`
	EndSessionMs   int64         `json:"end_session_ms"`
	Segments       []SegmentMeta `json:"segments"`
	Coverage       []SidCoverage `json:"coverage"`
}

// ReadMetadata loads the metadata document from a bundle root.
func ReadMetadata(root string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(root, MetadataFile))
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse bundle metadata: %w", err)
	}
	return &m, nil
}

// WriteTo persists the metadata document atomically (write + rename).
func (m *Metadata) WriteTo(root string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle metadata: %w", err)
	}
	tmp := filepath.Join(root, MetadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write bundle metadata: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(root, MetadataFile)); err != nil {
		return fmt.Errorf("rename bundle metadata: %w", err)
	}
	return nil
}

// Range returns the metadata session range.
func (m *Metadata) Range() (start, end time.Time) {
	return time.UnixMilli(m.StartSessionMs).UTC(), time.UnixMilli(m.EndSessionMs).UTC()
}

func (m *Metadata) coverage(sid int64) *SidCoverage {
	for i := range m.Coverage {
		if m.Coverage[i].Sid == sid {
			return &m.Coverage[i]
		}
	}
	return nil
}

// CoversRange reports whether one recorded interval fully contains
// [startMs, endMs] for the sid.
func (m *Metadata) CoversRange(sid, startMs, endMs int64) bool {
	cov := m.coverage(sid)
	if cov == nil {
		return false
	}
	for _, r := range cov.Ranges {
		if r.StartMs <= startMs && r.EndMs >= endMs {
			return true
		}
	}
	return false
}

// OverlapsRange reports whether [startMs, endMs] intersects any recorded
// interval for the sid.
func (m *Metadata) OverlapsRange(sid, startMs, endMs int64) bool {
	cov := m.coverage(sid)
	if cov == nil {
		return false
	}
	for _, r := range cov.Ranges {
		if startMs <= r.EndMs && endMs >= r.StartMs {
			return true
		}
	}
	return false
}

// AddCoverage records [startMs, endMs] as covered for the sid, merging
// with adjacent intervals. Two intervals merge when the gap between them
// is at most deltaMs (one calendar period), so consecutive chunks compact
// into a single interval.
func (m *Metadata) AddCoverage(sid, startMs, endMs, deltaMs int64) {
	cov := m.coverage(sid)
	if cov == nil {
		m.Coverage = append(m.Coverage, SidCoverage{Sid: sid})
		cov = &m.Coverage[len(m.Coverage)-1]
	}

	cov.Ranges = append(cov.Ranges, Interval{StartMs: startMs, EndMs: endMs})
	sort.Slice(cov.Ranges, func(i, j int) bool {
		return cov.Ranges[i].StartMs < cov.Ranges[j].StartMs
	})

	merged := cov.Ranges[:1]
	for _, r := range cov.Ranges[1:] {
		last := &merged[len(merged)-1]
		if r.StartMs <= last.EndMs+deltaMs {
			if r.EndMs > last.EndMs {
				last.EndMs = r.EndMs
			}
			continue
		}
		merged = append(merged, r)
	}
	cov.Ranges = merged
}

// Exists reports whether a bundle is present at root (its metadata
// document exists).
func Exists(root string) bool {
	_, err := os.Stat(filepath.Join(root, MetadataFile))
	return err == nil
}
