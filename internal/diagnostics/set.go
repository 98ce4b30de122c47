package diagnostics

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ReportSet accumulates reports across supervised runs and keeps only the
// first occurrence of every (kind, stack) finding.
type ReportSet struct {
	mu        sync.Mutex
	reports   []*Report
	seen      map[string]struct{}
	documents map[string]struct{}
}

// NewReportSet returns an empty set.
func NewReportSet() *ReportSet {
	return &ReportSet{
		seen:      make(map[string]struct{}),
		documents: make(map[string]struct{}),
	}
}

// Merge appends a filtered copy of r. Error entries whose kind and stack
// already appear in an earlier merged report are elided; duplicates inside
// r itself are kept. Merging a byte-identical document twice is a no-op.
// It returns the number of error entries that were new.
func (s *ReportSet) Merge(r *Report) int {
	if r == nil || r.Root == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := fingerprint(r.Root)
	if _, dup := s.documents[doc]; dup {
		return 0
	}
	s.documents[doc] = struct{}{}

	root := r.Root.clone()
	kept := root.Children[:0]
	var keys []string
	for _, child := range root.Children {
		if child.Name == errorElement {
			key := findingKey(child)
			if _, known := s.seen[key]; known {
				continue
			}
			keys = append(keys, key)
		}
		kept = append(kept, child)
	}
	root.Children = kept

	for _, key := range keys {
		s.seen[key] = struct{}{}
	}
	s.reports = append(s.reports, &Report{Root: root})
	return len(keys)
}

// Reports returns the merged, filtered reports in merge order.
func (s *ReportSet) Reports() []*Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Report(nil), s.reports...)
}

// Findings returns every first-occurrence finding in merge order.
func (s *ReportSet) Findings() []Finding {
	var out []Finding
	for _, r := range s.Reports() {
		out = append(out, r.Findings()...)
	}
	return out
}

// Len returns the number of merged reports.
func (s *ReportSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

// WriteTo writes every report as its own document, concatenated.
func (s *ReportSet) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, r := range s.Reports() {
		n, err := r.WriteTo(w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// FlushToArtifact writes the set to path, replacing any previous content.
func (s *ReportSet) FlushToArtifact(path string) error {
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		return fmt.Errorf("serializing diagnostics: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating artifact directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing diagnostics artifact %s: %w", path, err)
	}
	return nil
}
