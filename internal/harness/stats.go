package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/itchyny/gojq"
)

// StatsBanner ends the log line that opens a statistics dump. The JSON
// document follows on the same thread, one fragment per line.
const StatsBanner = "Librdkafka stats ==="

// expectStats waits for a statistics document on which the query yields a
// truthy value. Documents are taken from newly read lines only, since the
// gateway emits them periodically.
func (r *messageRunner) expectStats(ctx context.Context, s StatsExpectation) error {
	query, err := gojq.Parse(s.Query)
	if err != nil {
		return &ExpectationError{Expectation: "stats", Want: s.Query, Err: err}
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return &ExpectationError{Expectation: "stats", Want: s.Query, Err: err}
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = r.timeouts.LogPattern
	}
	deadline := time.Now().Add(timeout)

	thread, err := r.awaitStatsBanner(ctx, deadline)
	if err != nil {
		return &ExpectationError{Expectation: "stats", Want: s.Query, Err: err}
	}

	dec := json.NewDecoder(&threadReader{ctx: ctx, r: r, thread: thread, deadline: deadline})
	for documents := 0; ; documents++ {
		var doc interface{}
		if err := dec.Decode(&doc); err != nil {
			return &ExpectationError{
				Expectation: "stats",
				Want:        s.Query,
				Err:         fmt.Errorf("no matching document among %d: %w", documents, err),
			}
		}
		if truthy(ctx, code, doc) {
			return nil
		}
	}
}

// awaitStatsBanner reads until a banner line and returns its thread.
func (r *messageRunner) awaitStatsBanner(ctx context.Context, deadline time.Time) (string, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("no statistics banner")
		}
		line, err := r.journal.Read(ctx, r.logs, remaining)
		if err != nil {
			return "", fmt.Errorf("no statistics banner: %w", err)
		}
		if strings.HasSuffix(line.Raw, StatsBanner) && line.IsStructured() {
			return line.Thread(), nil
		}
	}
}

// truthy reports whether any result of code on doc is neither null nor
// false. Query errors count as false.
func truthy(ctx context.Context, code *gojq.Code, doc interface{}) bool {
	iter := code.RunWithContext(ctx, doc)
	for {
		v, ok := iter.Next()
		if !ok {
			return false
		}
		switch v := v.(type) {
		case error:
			continue
		case nil:
			continue
		case bool:
			if v {
				return true
			}
		default:
			return true
		}
	}
}

// threadReader presents the messages of one log thread as a byte stream.
// Lines of other threads and repeated banners are skipped.
type threadReader struct {
	ctx      context.Context
	r        *messageRunner
	thread   string
	deadline time.Time
	pending  string
}

func (t *threadReader) Read(p []byte) (int, error) {
	for t.pending == "" {
		remaining := time.Until(t.deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("statistics timed out")
		}
		line, err := t.r.journal.Read(t.ctx, t.r.logs, remaining)
		if err != nil {
			return 0, err
		}
		if !line.IsStructured() || line.Thread() != t.thread {
			continue
		}
		msg := line.Message()
		if strings.TrimSpace(msg) == StatsBanner {
			continue
		}
		t.pending = msg + "\n"
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}
