package harness

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInstanceManager points every scenario at one HTTP server.
type fakeInstanceManager struct {
	port      int
	createErr error
	banner    []string

	mu        sync.Mutex
	created   []string
	destroyed int
	flushed   int
	findings  int
}

func newFakeInstanceManager(t *testing.T, srv *httptest.Server) *fakeInstanceManager {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &fakeInstanceManager{port: port}
}

func (m *fakeInstanceManager) CreateInstance(ctx context.Context, scenario TestScenario, vars *templateProcessor, journal *logJournal) (*GatewayInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, scenario.Name)
	for _, line := range m.banner {
		journal.Record(parseLine(line))
	}
	if m.createErr != nil {
		return nil, m.createErr
	}
	vars.Set(VarListenerPort, m.port)
	return &GatewayInstance{
		ID:    "fake-" + scenario.Name,
		Port:  m.port,
		Proto: "http",
		Logs:  newFakeLogs(),
		stop:  func() error { return nil },
	}, nil
}

func (m *fakeInstanceManager) DestroyInstance(instance *GatewayInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed++
	return nil
}

func (m *fakeInstanceManager) Flush() (int, error) {
	m.flushed++
	return m.findings, nil
}

func (m *fakeInstanceManager) Cleanup() error { return nil }

func newRunnerUnderTest(manager GatewayInstanceManager, b SessionBroker, out *bytes.Buffer) TestRunner {
	logger := NewSilentLogger(false, false)
	return NewTestRunnerWithLogger(
		NewTestScenarioLoaderWithLogger(false, logger),
		NewTestReporterWithWriter(false, false, "", out),
		manager,
		b,
		"127.0.0.1",
		runnerTimeouts{Request: 5 * time.Second, LogPattern: 100 * time.Millisecond, Line: 100 * time.Millisecond},
		false,
		logger,
	)
}

func okScenario(name string) TestScenario {
	return TestScenario{Name: name, Messages: []Message{
		{URI: "/v1/data/{{ .topic }}", Body: strPtr("{}"), Expect: []Expectation{{Status: intPtr(200)}}},
	}}
}

func failingScenario(name string) TestScenario {
	return TestScenario{Name: name, Messages: []Message{
		{URI: "/", Expect: []Expectation{{Status: intPtr(201)}}},
	}}
}

func TestRunner_Sequential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()
	manager := newFakeInstanceManager(t, srv)
	var out bytes.Buffer

	skipped := okScenario("skipped")
	skipped.Skip = true

	runner := newRunnerUnderTest(manager, nil, &out)
	result, err := runner.Run(context.Background(), TestConfiguration{Parallel: 1, Timeout: time.Minute},
		[]TestScenario{okScenario("ok"), failingScenario("bad"), skipped})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalScenarios)
	assert.Equal(t, 1, result.PassedScenarios)
	assert.Equal(t, 1, result.FailedScenarios)
	assert.Equal(t, 1, result.SkippedScenarios)
	assert.False(t, result.Succeeded())

	assert.Equal(t, []string{"ok", "bad"}, manager.created, "skipped scenarios start no gateway")
	assert.Equal(t, 2, manager.destroyed)
	assert.Equal(t, 1, manager.flushed)

	bad := result.ScenarioResults[1]
	assert.Contains(t, bad.Error, "message 0")
	assert.Contains(t, bad.Error, "want 201, got 200")
	require.Len(t, bad.MessageResults, 1)
	assert.Equal(t, StateFailed, bad.MessageResults[0].State())
}

func TestRunner_FailFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()
	manager := newFakeInstanceManager(t, srv)

	runner := newRunnerUnderTest(manager, nil, &bytes.Buffer{})
	result, err := runner.Run(context.Background(), TestConfiguration{Parallel: 1, FailFast: true, Timeout: time.Minute},
		[]TestScenario{failingScenario("bad"), okScenario("never")})
	require.NoError(t, err)

	assert.Len(t, result.ScenarioResults, 1)
	assert.Equal(t, []string{"bad"}, manager.created)
}

func TestRunner_Parallel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()
	manager := newFakeInstanceManager(t, srv)

	runner := newRunnerUnderTest(manager, nil, &bytes.Buffer{})
	result, err := runner.Run(context.Background(), TestConfiguration{Parallel: 2, Timeout: time.Minute},
		[]TestScenario{okScenario("a"), okScenario("b"), okScenario("c")})
	require.NoError(t, err)

	assert.Equal(t, 3, result.PassedScenarios)
	assert.Len(t, result.ScenarioResults, 3)
	assert.True(t, result.Succeeded())
}

func TestRunner_CreateInstanceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()
	manager := newFakeInstanceManager(t, srv)
	manager.createErr = errors.New("gateway did not become ready")
	manager.banner = []string{rdline("1", "Error parsing config")}

	runner := newRunnerUnderTest(manager, nil, &bytes.Buffer{})
	result, err := runner.Run(context.Background(), TestConfiguration{Parallel: 1, Timeout: time.Minute},
		[]TestScenario{okScenario("broken")})
	require.NoError(t, err)

	require.Len(t, result.ScenarioResults, 1)
	sr := result.ScenarioResults[0]
	assert.Equal(t, ResultError, sr.Result)
	assert.Contains(t, sr.Error, "did not become ready")
	assert.Equal(t, []string{rdline("1", "Error parsing config")}, sr.LogTail)
	assert.Equal(t, 1, result.ErrorScenarios)
}

func TestRunner_ScenarioExpectationsSeeStartupLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()
	manager := newFakeInstanceManager(t, srv)
	manager.banner = []string{
		rdline("1", "Kafka_config[queue.buffering.max.ms][100]"),
		rdline("1", " Creating new HTTP listener on port 2057"),
	}

	scenario := okScenario("config-echo")
	scenario.Expect = []Expectation{{Log: []string{`Kafka_config\[queue.buffering.max.ms\]\[100\]`}}}

	runner := newRunnerUnderTest(manager, nil, &bytes.Buffer{})
	result, err := runner.Run(context.Background(), TestConfiguration{Parallel: 1, Timeout: time.Minute}, []TestScenario{scenario})
	require.NoError(t, err)
	assert.Equal(t, ResultPassed, result.ScenarioResults[0].Result, result.ScenarioResults[0].Error)
}

func TestRunner_SessionChecks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()
	manager := newFakeInstanceManager(t, srv)
	manager.findings = 2
	b := &fakeBroker{drained: errors.New("topic n2kh1 still holds 1 message")}

	runner := newRunnerUnderTest(manager, b, &bytes.Buffer{})
	result, err := runner.Run(context.Background(), TestConfiguration{Parallel: 1, Timeout: time.Minute}, []TestScenario{okScenario("ok")})
	require.NoError(t, err)

	assert.Equal(t, 1, result.PassedScenarios)
	assert.Equal(t, "topic n2kh1 still holds 1 message", result.DrainError)
	assert.Equal(t, 2, result.DiagnosticFindings)
	assert.False(t, result.Succeeded())
}

func TestRunner_UserVarShadowingIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()
	manager := newFakeInstanceManager(t, srv)

	scenario := okScenario("shadow")
	scenario.Vars = map[string]string{"host": "elsewhere"}

	runner := newRunnerUnderTest(manager, nil, &bytes.Buffer{})
	result, err := runner.Run(context.Background(), TestConfiguration{Parallel: 1, Timeout: time.Minute}, []TestScenario{scenario})
	require.NoError(t, err)
	assert.Equal(t, ResultError, result.ScenarioResults[0].Result)
	assert.Empty(t, manager.created)
}

func TestScenarioDir(t *testing.T) {
	dir := scenarioDir(TestScenario{File: "scenarios/0004_htpasswd.yaml"})
	assert.True(t, filepath.IsAbs(dir))
	assert.Equal(t, "scenarios", filepath.Base(dir))
}

// panickingReporter fails inside the message loop of a running scenario.
type panickingReporter struct {
	TestReporter
}

func (panickingReporter) ReportMessageResult(MessageResult) {
	panic("reporter exploded")
}

func TestRunner_GatewayStoppedWhenScenarioPanics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()
	manager := newFakeInstanceManager(t, srv)

	logger := NewSilentLogger(false, false)
	runner := NewTestRunnerWithLogger(
		NewTestScenarioLoaderWithLogger(false, logger),
		panickingReporter{TestReporter: NewQuietReporter()},
		manager,
		nil,
		"127.0.0.1",
		runnerTimeouts{Request: 5 * time.Second, LogPattern: 100 * time.Millisecond, Line: 100 * time.Millisecond},
		false,
		logger,
	)

	assert.PanicsWithValue(t, "reporter exploded", func() {
		_, _ = runner.Run(context.Background(), TestConfiguration{Parallel: 1, Timeout: time.Minute},
			[]TestScenario{okScenario("ok")})
	})

	manager.mu.Lock()
	defer manager.mu.Unlock()
	assert.Equal(t, []string{"ok"}, manager.created)
	assert.Equal(t, 1, manager.destroyed)
}
