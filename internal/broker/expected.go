package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Expected is one element of an ordered expectation list.
type Expected interface {
	// Verify checks element index against the live consumer.
	Verify(ctx context.Context, c *TopicConsumer, index int) error
}

// Payload expects the next message to equal the bytes exactly.
type Payload []byte

func (p Payload) Verify(ctx context.Context, c *TopicConsumer, index int) error {
	m, err := c.Next(ctx)
	if err != nil {
		return withIndex(err, index)
	}
	if !bytes.Equal(m.Value, p) {
		return &UnexpectedMessageError{Topic: c.Topic(), Index: index, Want: p, Got: m.Value}
	}
	return nil
}

// Callback hands the consumer to caller code, for messages whose exact
// shape is only known at runtime.
type Callback func(ctx context.Context, c *TopicConsumer) error

func (f Callback) Verify(ctx context.Context, c *TopicConsumer, _ int) error {
	return f(ctx, c)
}

// matchEnv is the environment an ExprMatcher is evaluated in.
type matchEnv struct {
	Value     string `expr:"value"`
	Key       string `expr:"key"`
	Topic     string `expr:"topic"`
	Partition int    `expr:"partition"`
	Offset    int64  `expr:"offset"`
	Size      int    `expr:"size"`
	// JSON is the decoded payload, nil when it is not JSON.
	JSON any `expr:"json"`
}

// ExprMatcher consumes one message and accepts it when a boolean
// expression holds, e.g. `json.client_mac == "54:26:96:db:88:01"`.
type ExprMatcher struct {
	Source  string
	program *vm.Program
}

// CompileMatcher compiles src into an ExprMatcher.
func CompileMatcher(src string) (*ExprMatcher, error) {
	program, err := expr.Compile(src, expr.Env(matchEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid message matcher %q: %w", src, err)
	}
	return &ExprMatcher{Source: src, program: program}, nil
}

// Match evaluates the expression against m.
func (e *ExprMatcher) Match(m *Message) (bool, error) {
	env := matchEnv{
		Value:     string(m.Value),
		Key:       string(m.Key),
		Topic:     m.Topic,
		Partition: int(m.Partition),
		Offset:    m.Offset,
		Size:      len(m.Value),
	}
	var decoded any
	if json.Unmarshal(m.Value, &decoded) == nil {
		env.JSON = decoded
	}

	out, err := expr.Run(e.program, env)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

func (e *ExprMatcher) Verify(ctx context.Context, c *TopicConsumer, index int) error {
	m, err := c.Next(ctx)
	if err != nil {
		return withIndex(err, index)
	}
	ok, err := e.Match(m)
	if err != nil {
		return &UnexpectedMessageError{Topic: c.Topic(), Index: index, Got: m.Value, Reason: fmt.Sprintf("evaluating %q: %v", e.Source, err)}
	}
	if !ok {
		return &UnexpectedMessageError{Topic: c.Topic(), Index: index, Got: m.Value, Reason: fmt.Sprintf("does not satisfy %q", e.Source)}
	}
	return nil
}

func withIndex(err error, index int) error {
	if nm, ok := err.(*NoMessageError); ok {
		nm.Index = index
	}
	return err
}
