// Package streamqueue merges several raw byte streams into one FIFO of
// decoded text lines.
//
// Each attached source is drained by its own goroutine for the whole life of
// the source, so lines are queued as soon as they are produced regardless of
// whether a consumer is currently waiting. Order is preserved within a
// source; no ordering is defined across sources.
package streamqueue

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"n2kharness/pkg/logging"
)

const subsystem = "StreamQueue"

var (
	// ErrTimeout is returned by Get when no line arrived within the timeout.
	ErrTimeout = errors.New("timed out waiting for line")
	// ErrClosed is returned by Get once every source reached EOF and all
	// queued lines were consumed.
	ErrClosed = errors.New("all sources closed")
)

// Line is one decoded line without its line terminator.
type Line struct {
	Source string
	Text   string
}

// Queue is an unbounded, goroutine safe line queue fed by attached sources.
type Queue struct {
	mu      sync.Mutex
	lines   []Line
	active  int
	dropped int
	notify  chan struct{}
	wg      sync.WaitGroup
}

// New creates an empty queue with no sources.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Attach starts a reader goroutine draining r into the queue. Lines that are
// not valid UTF-8 are logged and dropped.
func (q *Queue) Attach(source string, r io.Reader) {
	q.mu.Lock()
	q.active++
	q.mu.Unlock()

	q.wg.Add(1)
	go q.drain(source, r)
}

func (q *Queue) drain(source string, r io.Reader) {
	defer q.wg.Done()
	defer q.detach()

	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			q.push(source, raw)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				logging.Debug(subsystem, "reader %s stopped: %v", source, err)
			}
			return
		}
	}
}

func (q *Queue) push(source string, raw []byte) {
	raw = bytes.TrimSuffix(raw, []byte("\n"))
	raw = bytes.TrimSuffix(raw, []byte("\r"))

	text, _, err := transform.Bytes(encoding.UTF8Validator, raw)
	if err != nil {
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		logging.Debug(subsystem, "dropping undecodable line from %s: %q", source, raw)
		return
	}

	q.mu.Lock()
	q.lines = append(q.lines, Line{Source: source, Text: string(text)})
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) detach() {
	q.mu.Lock()
	q.active--
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryGet pops the oldest queued line without blocking.
func (q *Queue) TryGet() (Line, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.lines) == 0 {
		return Line{}, false
	}
	line := q.lines[0]
	q.lines[0] = Line{}
	q.lines = q.lines[1:]
	return line, true
}

func (q *Queue) closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active == 0 && len(q.lines) == 0
}

// Get blocks until a line is available, the timeout elapses (ErrTimeout),
// every source is exhausted (ErrClosed) or ctx is done.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (Line, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if line, ok := q.TryGet(); ok {
			return line, nil
		}
		if q.closed() {
			return Line{}, ErrClosed
		}

		select {
		case <-q.notify:
		case <-timer.C:
			// A line may have landed between the last check and the timer.
			if line, ok := q.TryGet(); ok {
				return line, nil
			}
			return Line{}, ErrTimeout
		case <-ctx.Done():
			return Line{}, ctx.Err()
		}
	}
}

// Wait blocks until every attached source reached EOF.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Len reports the number of queued, unconsumed lines.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines)
}

// Dropped reports how many lines were discarded as undecodable.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
