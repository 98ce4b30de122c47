package harness

import (
	"context"
	"fmt"
	"io"

	"n2kharness/internal/broker"
)

// ChunkOp is one instruction of a chunked request body.
type ChunkOp interface {
	chunkOp()
}

// SendBytes writes one chunk, already compressed when requested.
type SendBytes struct {
	Data []byte
}

// InjectFailure aborts the request mid-body.
type InjectFailure struct {
	Kind TransportErrorKind
}

// ExpectBrokerMessages checks the broker before the next chunk goes out.
type ExpectBrokerMessages struct {
	Expectation BrokerExpectation
}

func (SendBytes) chunkOp()            {}
func (InjectFailure) chunkOp()        {}
func (ExpectBrokerMessages) chunkOp() {}

// lowerChunks turns the YAML chunk list into ops. The compressor finishes
// its stream on the last data chunk.
func lowerChunks(chunks []Chunk, comp *compressor) ([]ChunkOp, error) {
	lastData := -1
	for i, c := range chunks {
		if c.Data != nil {
			lastData = i
		}
	}

	ops := make([]ChunkOp, 0, len(chunks))
	for i, c := range chunks {
		switch {
		case c.Fail != "":
			ops = append(ops, InjectFailure{Kind: c.Fail})
			continue
		case c.Data != nil:
			data, err := comp.Chunk([]byte(*c.Data), i == lastData)
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", i, err)
			}
			ops = append(ops, SendBytes{Data: data})
		default:
			return nil, fmt.Errorf("chunk %d: needs data or fail", i)
		}
		if c.Broker != nil {
			ops = append(ops, ExpectBrokerMessages{Expectation: *c.Broker})
		}
	}
	return ops, nil
}

// brokerExpected converts message specs into verifier elements.
func brokerExpected(specs []MessageSpec) ([]broker.Expected, error) {
	out := make([]broker.Expected, 0, len(specs))
	for i, s := range specs {
		if s.Match != "" {
			m, err := broker.CompileMatcher(s.Match)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			out = append(out, m)
			continue
		}
		out = append(out, broker.Payload(s.Payload))
	}
	return out, nil
}

// chunkOutcome is what the interpreter observed while feeding the body.
type chunkOutcome struct {
	// Sent counts chunks fully handed to the transport.
	Sent int
	// Injected is set once a failure was injected.
	Injected bool
	// Err is a failed broker check. Transport failures are left to the
	// request's own error.
	Err error
}

// runChunks feeds ops into the request body one at a time. abort tears
// down the connection for an injected failure.
func runChunks(ctx context.Context, body *io.PipeWriter, ops []ChunkOp, check func(context.Context, BrokerExpectation) error, abort func()) chunkOutcome {
	var out chunkOutcome
	for _, op := range ops {
		switch op := op.(type) {
		case SendBytes:
			if _, err := body.Write(op.Data); err != nil {
				// The transport stopped reading; the request reports why.
				body.CloseWithError(err)
				return out
			}
			out.Sent++
		case ExpectBrokerMessages:
			if err := check(ctx, op.Expectation); err != nil {
				out.Err = err
				abort()
				body.CloseWithError(err)
				return out
			}
		case InjectFailure:
			out.Injected = true
			abort()
			body.CloseWithError(errInjectedDisconnect)
			return out
		}
	}
	body.Close()
	return out
}
