package harness

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"n2kharness/pkg/logging"
)

// runnerTimeouts bound the waits of a messageRunner.
type runnerTimeouts struct {
	Request    time.Duration
	LogPattern time.Duration
	Line       time.Duration
}

// messageRunner drives the state machine of one message at a time against
// a running gateway.
type messageRunner struct {
	host     string
	port     int
	proto    string
	logs     LogSource
	journal  *logJournal
	broker   BrokerChecker
	timeouts runnerTimeouts
	logger   TestLogger
}

// httpOutcome is what came back from the gateway.
type httpOutcome struct {
	Response  bool
	Status    int
	Body      []byte
	Transport *TransportError
	// ChunkErr is a failed broker check between chunks.
	ChunkErr error
}

type messageRun struct {
	result *MessageResult
}

func (m *messageRun) transition(s State) {
	m.result.States = append(m.result.States, s)
}

func (m *messageRun) fail(err error) {
	m.result.Result = ResultFailed
	m.result.Error = err.Error()
	m.transition(StateFailed)
}

// Run sends m and checks its expectations. m must already be resolved.
func (r *messageRunner) Run(ctx context.Context, m Message) MessageResult {
	result := MessageResult{
		Message:   m,
		States:    []State{StateIdle},
		Result:    ResultPassed,
		StartTime: time.Now(),
	}
	run := &messageRun{result: &result}
	defer func() { result.Duration = time.Since(result.StartTime) }()

	mark := r.journal.Mark()

	run.transition(StateSending)
	outcome, err := r.send(ctx, m)
	if err != nil {
		run.fail(err)
		return result
	}
	if outcome.Response {
		result.StatusCode = outcome.Status
	}
	if outcome.Transport != nil {
		result.Transport = string(outcome.Transport.Kind)
	}
	if outcome.ChunkErr != nil {
		run.fail(outcome.ChunkErr)
		return result
	}

	switch {
	case outcome.Transport != nil && !m.ExpectedError.Matches(outcome.Transport.Kind):
		if m.ExpectedError == "" {
			run.fail(fmt.Errorf("unexpected %w", outcome.Transport))
		} else {
			run.fail(fmt.Errorf("expected %s error, got %w", m.ExpectedError, outcome.Transport))
		}
		return result
	case outcome.Transport == nil && m.ExpectedError != "":
		run.fail(fmt.Errorf("expected %s error, got HTTP %d", m.ExpectedError, outcome.Status))
		return result
	}

	run.transition(StateAwaitingExpectations)
	for i, e := range m.Expect {
		if err := r.checkExpectation(ctx, e, &outcome, mark); err != nil {
			run.fail(fmt.Errorf("expectation %d: %w", i, err))
			return result
		}
	}

	run.transition(StateDone)
	return result
}

// send issues the request and returns what the gateway answered.
func (r *messageRunner) send(ctx context.Context, m Message) (httpOutcome, error) {
	comp, err := newCompressor(m.Compress)
	if err != nil {
		return httpOutcome{}, err
	}
	client, err := r.client(m)
	if err != nil {
		return httpOutcome{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeouts.Request)
	defer cancel()

	if m.Chunks == nil {
		var body io.Reader
		if m.Body != nil {
			data, err := comp.All([]byte(*m.Body))
			if err != nil {
				return httpOutcome{}, err
			}
			body = bytes.NewReader(data)
		}
		req, err := r.newRequest(reqCtx, m, body)
		if err != nil {
			return httpOutcome{}, err
		}
		return do(client, req), nil
	}

	ops, err := lowerChunks(m.Chunks, comp)
	if err != nil {
		return httpOutcome{}, err
	}
	pr, pw := io.Pipe()
	req, err := r.newRequest(reqCtx, m, pr)
	if err != nil {
		return httpOutcome{}, err
	}
	req.ContentLength = -1

	done := make(chan httpOutcome, 1)
	go func() {
		done <- do(client, req)
	}()

	chunks := runChunks(reqCtx, pw, ops, r.checkBroker, cancel)
	outcome := <-done
	if chunks.Injected && outcome.Transport != nil {
		outcome.Transport = classifyTransportError(outcome.Transport.Err, true)
	}
	outcome.ChunkErr = chunks.Err
	logging.Debug("Harness", "sent %d chunk(s) to %s", chunks.Sent, m.URI)
	return outcome, nil
}

// do performs req and reads the whole response.
func do(client *http.Client, req *http.Request) httpOutcome {
	resp, err := client.Do(req)
	if err != nil {
		return httpOutcome{Transport: classifyTransportError(err, false)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpOutcome{Transport: classifyTransportError(err, false)}
	}
	return httpOutcome{Response: true, Status: resp.StatusCode, Body: body}
}

func (r *messageRunner) newRequest(ctx context.Context, m Message, body io.Reader) (*http.Request, error) {
	method := strings.ToUpper(m.Method)
	if method == "" {
		method = http.MethodGet
		if m.Body != nil || m.Chunks != nil {
			method = http.MethodPost
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, r.url(m), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		// Assigned directly so the header goes out in the case written.
		req.Header[k] = []string{v}
	}
	return req, nil
}

func (r *messageRunner) url(m Message) string {
	proto := strings.ToLower(m.Proto)
	if proto == "" {
		proto = r.proto
	}
	if proto == "" {
		proto = "http"
	}
	return proto + "://" + net.JoinHostPort(r.host, strconv.Itoa(r.port)) + m.URI
}

// client returns a client for a single connection. Keep-alives are off so
// every message is judged on a fresh connection.
func (r *messageRunner) client(m Message) (*http.Client, error) {
	transport := &http.Transport{
		DisableKeepAlives:  true,
		DisableCompression: true,
	}
	if m.TLS != nil {
		tlsConfig := &tls.Config{InsecureSkipVerify: m.TLS.Insecure}
		if m.TLS.CAFile != "" {
			pem, err := os.ReadFile(m.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("reading CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificate found in %s", m.TLS.CAFile)
			}
			tlsConfig.RootCAs = pool
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}
