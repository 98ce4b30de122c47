package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"n2kharness/internal/broker"
	"n2kharness/internal/rdlog"
	"n2kharness/internal/streamqueue"
)

// fakeLogs serves queued lines and times out at once when empty.
type fakeLogs struct {
	mu    sync.Mutex
	lines []rdlog.LogLine
	reads int
}

func newFakeLogs(raw ...string) *fakeLogs {
	f := &fakeLogs{}
	f.push(raw...)
	return f
}

func (f *fakeLogs) push(raw ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range raw {
		f.lines = append(f.lines, rdlog.Parse(r, rdlog.Stdout))
	}
}

func (f *fakeLogs) ReadlineContext(ctx context.Context, timeout time.Duration) (rdlog.LogLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return rdlog.LogLine{}, err
	}
	if len(f.lines) == 0 {
		return rdlog.LogLine{}, streamqueue.ErrTimeout
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	f.reads++
	return line, nil
}

// rdline builds a structured gateway log line.
func rdline(thread, msg string) string {
	return fmt.Sprintf("1700000000|7|n2kafka|%s|%s", thread, msg)
}

// brokerCall records one CheckMessages call.
type brokerCall struct {
	Topic    string
	Expected int
}

// fakeBroker records checks and fails the topics listed in fail.
type fakeBroker struct {
	mu      sync.Mutex
	calls   []brokerCall
	fail    map[string]error
	drained error
	closed  bool
}

func (b *fakeBroker) CheckMessages(ctx context.Context, topic string, expected []broker.Expected) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, brokerCall{Topic: topic, Expected: len(expected)})
	return b.fail[topic]
}

func (b *fakeBroker) AssertDrained(ctx context.Context) error {
	return b.drained
}

func (b *fakeBroker) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBroker) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, c.Topic)
	}
	return out
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func parseLine(raw string) rdlog.LogLine {
	return rdlog.Parse(raw, rdlog.Stdout)
}
