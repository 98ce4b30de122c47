package broker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrVerifierClosed is returned by operations on a closed Verifier.
var ErrVerifierClosed = errors.New("broker verifier is closed")

// UnexpectedMessageError reports a consumed message that does not match
// the expected element at Index.
type UnexpectedMessageError struct {
	Topic  string
	Index  int
	Want   []byte
	Got    []byte
	Reason string
}

func (e *UnexpectedMessageError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("topic %s message #%d: %s (got %q)", e.Topic, e.Index, e.Reason, e.Got)
	}
	return fmt.Sprintf("topic %s message #%d: want %q, got %q", e.Topic, e.Index, e.Want, e.Got)
}

// NoMessageError reports that no message arrived within the read timeout.
type NoMessageError struct {
	Topic   string
	Index   int
	Timeout time.Duration
	Err     error
}

func (e *NoMessageError) Error() string {
	msg := fmt.Sprintf("topic %s message #%d: nothing received within %s", e.Topic, e.Index, e.Timeout)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NoMessageError) Unwrap() error { return e.Err }

// UndrainedError lists topics that still had messages at the drain check,
// with the first leftover payload of each.
type UndrainedError struct {
	Leftovers map[string][]byte
}

func (e *UndrainedError) Error() string {
	topics := make([]string, 0, len(e.Leftovers))
	for t := range e.Leftovers {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	parts := make([]string, 0, len(topics))
	for _, t := range topics {
		parts = append(parts, fmt.Sprintf("%s (first: %q)", t, e.Leftovers[t]))
	}
	return "unconsumed broker messages on " + strings.Join(parts, ", ")
}
