package harness

import (
	"context"
	"regexp"
	"sync"
	"time"

	"n2kharness/internal/rdlog"
	"n2kharness/internal/supervisor"
)

// logJournal keeps every gateway line the harness consumed during one
// scenario, readiness included, so log expectations can look back.
type logJournal struct {
	mu    sync.Mutex
	lines []rdlog.LogLine
}

func newLogJournal() *logJournal {
	return &logJournal{}
}

// Record appends a consumed line.
func (j *logJournal) Record(line rdlog.LogLine) {
	j.mu.Lock()
	j.lines = append(j.lines, line)
	j.mu.Unlock()
}

// Mark returns a position for Since.
func (j *logJournal) Mark() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.lines)
}

// Since returns the lines recorded after mark.
func (j *logJournal) Since(mark int) []rdlog.LogLine {
	j.mu.Lock()
	defer j.mu.Unlock()
	if mark >= len(j.lines) {
		return nil
	}
	return append([]rdlog.LogLine(nil), j.lines[mark:]...)
}

// Find returns the position of the first line at or after mark matching
// re.
func (j *logJournal) Find(mark int, re *regexp.Regexp) (int, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := max(mark, 0); i < len(j.lines); i++ {
		if re.MatchString(j.lines[i].Raw) {
			return i, true
		}
	}
	return 0, false
}

// Tail returns the raw text of the last n lines.
func (j *logJournal) Tail(n int) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	start := max(len(j.lines)-n, 0)
	out := make([]string, 0, len(j.lines)-start)
	for _, line := range j.lines[start:] {
		out = append(out, line.String())
	}
	return out
}

// Read consumes the next line from src and records it.
func (j *logJournal) Read(ctx context.Context, src LogSource, timeout time.Duration) (rdlog.LogLine, error) {
	line, err := src.ReadlineContext(ctx, timeout)
	if err != nil {
		return rdlog.LogLine{}, err
	}
	j.Record(line)
	return line, nil
}

// Probe wraps p so lines read while waiting for readiness are recorded.
func (j *logJournal) Probe(p supervisor.ReadinessProbe) supervisor.ReadinessProbe {
	return supervisor.ProbeFunc(func(line rdlog.LogLine) (bool, error) {
		j.Record(line)
		return p.Check(line)
	})
}
