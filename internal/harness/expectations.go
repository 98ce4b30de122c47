package harness

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"n2kharness/internal/streamqueue"
)

// checkExpectation evaluates one check. out is nil for scenario-level
// expectations, which have no response to look at. Log checks look at the
// lines consumed since mark before reading new ones.
func (r *messageRunner) checkExpectation(ctx context.Context, e Expectation, out *httpOutcome, mark int) error {
	switch {
	case e.Status != nil:
		want := strconv.Itoa(*e.Status)
		if out == nil || !out.Response {
			return &ExpectationError{Expectation: "status", Want: want, Got: "no response"}
		}
		if out.Status != *e.Status {
			return &ExpectationError{Expectation: "status", Want: want, Got: strconv.Itoa(out.Status)}
		}
	case e.Body != nil:
		if out == nil || !out.Response {
			return &ExpectationError{Expectation: "body", Want: strconv.Quote(*e.Body), Got: "no response"}
		}
		if string(out.Body) != *e.Body {
			return &ExpectationError{Expectation: "body", Want: strconv.Quote(*e.Body), Got: strconv.Quote(string(out.Body))}
		}
	case e.Broker != nil:
		return r.checkBroker(ctx, *e.Broker)
	case len(e.Log) > 0:
		return r.expectLog(ctx, e.Log, mark)
	case e.NoLog != nil:
		return r.expectNoLog(ctx, *e.NoLog, mark)
	case e.Stats != nil:
		return r.expectStats(ctx, *e.Stats)
	default:
		return fmt.Errorf("expectation holds no check")
	}
	return nil
}

// checkBroker consumes the expected messages from the topic.
func (r *messageRunner) checkBroker(ctx context.Context, b BrokerExpectation) error {
	if r.broker == nil {
		return &ExpectationError{Expectation: "broker", Err: errors.New("no broker configured")}
	}
	expected, err := brokerExpected(b.Messages)
	if err != nil {
		return &ExpectationError{Expectation: "broker", Want: b.Topic, Err: err}
	}
	if err := r.broker.CheckMessages(ctx, b.Topic, expected); err != nil {
		return &ExpectationError{Expectation: "broker", Want: b.Topic, Err: err}
	}
	return nil
}

// expectLog waits for every pattern in order. Each pattern gets its own
// LogPattern timeout.
func (r *messageRunner) expectLog(ctx context.Context, patterns []string, mark int) error {
	pos := mark
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return &ExpectationError{Expectation: "log", Want: strconv.Quote(p), Err: err}
		}

		deadline := time.Now().Add(r.timeouts.LogPattern)
		for {
			if i, ok := r.journal.Find(pos, re); ok {
				pos = i + 1
				break
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return &ExpectationError{Expectation: "log", Want: strconv.Quote(p), Got: "no matching line"}
			}
			if _, err := r.journal.Read(ctx, r.logs, remaining); err != nil {
				if endOfLog(err) {
					return &ExpectationError{Expectation: "log", Want: strconv.Quote(p), Got: "no matching line"}
				}
				return &ExpectationError{Expectation: "log", Want: strconv.Quote(p), Err: err}
			}
		}
	}
	return nil
}

// expectNoLog fails on any pattern among the lines consumed since mark or
// read during the window. Running out of output inside the window passes.
func (r *messageRunner) expectNoLog(ctx context.Context, nl NoLogExpectation, mark int) error {
	res := make([]*regexp.Regexp, 0, len(nl.Patterns))
	for _, p := range nl.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return &ExpectationError{Expectation: "no_log", Want: strconv.Quote(p), Err: err}
		}
		res = append(res, re)
	}

	deadline := time.Now().Add(nl.Within)
	for {
		for _, re := range res {
			if i, ok := r.journal.Find(mark, re); ok {
				return &ExpectationError{
					Expectation: "no_log",
					Want:        "no line matching " + strconv.Quote(re.String()),
					Got:         strconv.Quote(r.journal.Since(i)[0].Raw),
				}
			}
		}
		mark = r.journal.Mark()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if _, err := r.journal.Read(ctx, r.logs, remaining); err != nil {
			if endOfLog(err) {
				return nil
			}
			return &ExpectationError{Expectation: "no_log", Err: err}
		}
	}
}

// endOfLog reports whether err means no further line arrived in time.
func endOfLog(err error) bool {
	return errors.Is(err, streamqueue.ErrTimeout) || errors.Is(err, streamqueue.ErrClosed)
}
