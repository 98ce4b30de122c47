package harness

import (
	"context"
	"fmt"
	"time"

	"n2kharness/internal/broker"
	"n2kharness/internal/rdlog"
)

// TestResult represents the result of a test execution
type TestResult string

const (
	// ResultPassed indicates the test passed successfully
	ResultPassed TestResult = "PASSED"
	// ResultFailed indicates the test failed
	ResultFailed TestResult = "FAILED"
	// ResultSkipped indicates the test was skipped
	ResultSkipped TestResult = "SKIPPED"
	// ResultError indicates the harness itself could not run the test
	ResultError TestResult = "ERROR"
)

// TestLogger provides logging for scenario execution
type TestLogger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
	IsDebugEnabled() bool
	IsVerboseEnabled() bool
}

// TestConfiguration defines how a suite is executed
type TestConfiguration struct {
	// Timeout bounds the whole evaluation of one scenario
	Timeout time.Duration `json:"timeout"`
	// Parallel is the number of scenarios run at once
	Parallel int `json:"parallel"`
	// FailFast stops after the first failing scenario
	FailFast bool `json:"fail_fast"`
	Verbose  bool `json:"verbose"`
	Debug    bool `json:"debug"`
	// ScenarioPaths are files or directories holding scenario YAML
	ScenarioPaths []string `json:"scenario_paths"`
	// Scenario selects a single scenario by name
	Scenario string `json:"scenario,omitempty"`
	// Tags selects scenarios carrying at least one of the tags
	Tags []string `json:"tags,omitempty"`
	// ReportPath is the directory receiving the JSON suite report
	ReportPath string `json:"report_path,omitempty"`
}

// TestScenario is one gateway configuration plus the HTTP interactions
// replayed against it.
type TestScenario struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string      `yaml:"tags,omitempty" json:"tags,omitempty"`
	Skip        bool          `yaml:"skip,omitempty" json:"skip,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Vars are rendered in key order and may reference the built-in
	// variables and earlier vars.
	Vars map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`
	// Env is passed to the gateway process only.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	// Args are extra gateway arguments placed before the config file.
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`
	// Gateway is the scenario's part of the gateway config artifact. A
	// "listeners" list is completed with defaults.
	Gateway map[string]interface{} `yaml:"gateway,omitempty" json:"gateway,omitempty"`

	Messages []Message `yaml:"messages,omitempty" json:"messages,omitempty"`
	// Expect is evaluated after every message, before the gateway stops.
	Expect []Expectation `yaml:"expect,omitempty" json:"expect,omitempty"`

	// File is the path the scenario was loaded from.
	File string `yaml:"-" json:"file,omitempty"`
}

// Message is one HTTP interaction with the gateway.
type Message struct {
	Name    string            `yaml:"name,omitempty" json:"name,omitempty"`
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Proto   string            `yaml:"proto,omitempty" json:"proto,omitempty"`
	URI     string            `yaml:"uri" json:"uri"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	// Compress is "deflate" or "gzip". Chunks are compressed one by one
	// and the stream is finished on the last data chunk.
	Compress string `yaml:"compress,omitempty" json:"compress,omitempty"`
	// Body is sent in one piece. Mutually exclusive with Chunks.
	Body   *string     `yaml:"body,omitempty" json:"body,omitempty"`
	Chunks []Chunk     `yaml:"chunks,omitempty" json:"chunks,omitempty"`
	TLS    *TLSOptions `yaml:"tls,omitempty" json:"tls,omitempty"`
	// ExpectedError names the transport failure that is the correct
	// outcome of the interaction.
	ExpectedError TransportErrorKind `yaml:"expected_error,omitempty" json:"expected_error,omitempty"`
	Expect        []Expectation      `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// Chunk is one element of a chunked body as written in YAML. Exactly one
// of Data and Fail is set; Broker may accompany Data.
type Chunk struct {
	Data   *string            `yaml:"data,omitempty" json:"data,omitempty"`
	Fail   TransportErrorKind `yaml:"fail,omitempty" json:"fail,omitempty"`
	Broker *BrokerExpectation `yaml:"broker,omitempty" json:"broker,omitempty"`
}

// TLSOptions configures https interactions. Without a CA file the system
// roots are used.
type TLSOptions struct {
	CAFile   string `yaml:"ca_file,omitempty" json:"ca_file,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

// Expectation holds exactly one check.
type Expectation struct {
	Status *int               `yaml:"status,omitempty" json:"status,omitempty"`
	Body   *string            `yaml:"body,omitempty" json:"body,omitempty"`
	Broker *BrokerExpectation `yaml:"broker,omitempty" json:"broker,omitempty"`
	// Log patterns are regular expressions that must each eventually
	// appear in the gateway output, in order.
	Log   []string          `yaml:"log,omitempty" json:"log,omitempty"`
	NoLog *NoLogExpectation `yaml:"no_log,omitempty" json:"no_log,omitempty"`
	Stats *StatsExpectation `yaml:"stats,omitempty" json:"stats,omitempty"`
}

// Kind names the check an Expectation holds.
func (e Expectation) Kind() string {
	var kinds []string
	if e.Status != nil {
		kinds = append(kinds, "status")
	}
	if e.Body != nil {
		kinds = append(kinds, "body")
	}
	if e.Broker != nil {
		kinds = append(kinds, "broker")
	}
	if len(e.Log) > 0 {
		kinds = append(kinds, "log")
	}
	if e.NoLog != nil {
		kinds = append(kinds, "no_log")
	}
	if e.Stats != nil {
		kinds = append(kinds, "stats")
	}
	switch len(kinds) {
	case 0:
		return ""
	case 1:
		return kinds[0]
	default:
		return fmt.Sprintf("%v", kinds)
	}
}

// BrokerExpectation is an ordered list of messages expected on a topic.
type BrokerExpectation struct {
	Topic    string        `yaml:"topic" json:"topic"`
	Messages []MessageSpec `yaml:"messages" json:"messages"`
}

// MessageSpec is one expected broker message: a literal payload, or a
// {match: <expr>} predicate over the consumed message.
type MessageSpec struct {
	Payload string `yaml:"payload,omitempty" json:"payload,omitempty"`
	Match   string `yaml:"match,omitempty" json:"match,omitempty"`
}

// NoLogExpectation fails when a pattern shows up among the lines already
// read for the message or within the observation window.
type NoLogExpectation struct {
	Patterns []string      `yaml:"patterns" json:"patterns"`
	Within   time.Duration `yaml:"within,omitempty" json:"within,omitempty"`
}

// StatsExpectation evaluates a jq query over the statistics documents the
// gateway's Kafka client logs. It passes on the first truthy result.
type StatsExpectation struct {
	Query   string        `yaml:"query" json:"query"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// State is a step of the per-message state machine.
type State string

const (
	StateIdle                 State = "idle"
	StateSending              State = "sending"
	StateAwaitingExpectations State = "awaiting_expectations"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// MessageResult records the outcome of one message.
type MessageResult struct {
	Message    Message       `json:"message"`
	States     []State       `json:"states"`
	Result     TestResult    `json:"result"`
	StatusCode int           `json:"status_code,omitempty"`
	Transport  string        `json:"transport_error,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
}

// State returns the last state reached.
func (r MessageResult) State() State {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1]
}

// ScenarioResult records the outcome of one scenario.
type ScenarioResult struct {
	Scenario       TestScenario    `json:"scenario"`
	Result         TestResult      `json:"result"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	Duration       time.Duration   `json:"duration"`
	MessageResults []MessageResult `json:"message_results"`
	Error          string          `json:"error,omitempty"`
	// ConfigFile is the generated gateway config artifact.
	ConfigFile string `json:"config_file,omitempty"`
	// LogTail holds the last gateway lines read, for failed scenarios.
	LogTail []string `json:"log_tail,omitempty"`
}

// SuiteResult represents the overall result of a harness session
type SuiteResult struct {
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	Duration         time.Duration     `json:"duration"`
	TotalScenarios   int               `json:"total_scenarios"`
	PassedScenarios  int               `json:"passed_scenarios"`
	FailedScenarios  int               `json:"failed_scenarios"`
	SkippedScenarios int               `json:"skipped_scenarios"`
	ErrorScenarios   int               `json:"error_scenarios"`
	ScenarioResults  []ScenarioResult  `json:"scenario_results"`
	Configuration    TestConfiguration `json:"configuration"`
	// DrainError is set when a topic still had messages at session end.
	DrainError string `json:"drain_error,omitempty"`
	// DiagnosticFindings counts distinct findings merged in the session.
	DiagnosticFindings int    `json:"diagnostic_findings"`
	DiagnosticsError   string `json:"diagnostics_error,omitempty"`
}

// Succeeded reports whether every scenario passed and the session checks
// held.
func (r SuiteResult) Succeeded() bool {
	return r.FailedScenarios == 0 && r.ErrorScenarios == 0 && r.DrainError == "" && r.DiagnosticsError == ""
}

// LogSource yields the gateway's output one line at a time.
type LogSource interface {
	ReadlineContext(ctx context.Context, timeout time.Duration) (rdlog.LogLine, error)
}

// BrokerChecker verifies produced messages.
type BrokerChecker interface {
	CheckMessages(ctx context.Context, topic string, expected []broker.Expected) error
}

// SessionBroker is a BrokerChecker with the session teardown checks.
type SessionBroker interface {
	BrokerChecker
	AssertDrained(ctx context.Context) error
	Close() error
}

// GatewayInstance is one running gateway.
type GatewayInstance struct {
	ID         string
	Port       int
	Proto      string
	ConfigFile string
	Config     map[string]interface{}
	Logs       LogSource
	StartTime  time.Time

	stop func() error
}

// GatewayInstanceManager launches and stops gateways for scenarios.
type GatewayInstanceManager interface {
	// CreateInstance writes the config artifact, starts the gateway and
	// waits for its listener. The journal records every line read.
	CreateInstance(ctx context.Context, scenario TestScenario, vars *templateProcessor, journal *logJournal) (*GatewayInstance, error)
	// DestroyInstance stops the gateway and removes its artifacts.
	DestroyInstance(instance *GatewayInstance) error
	// Flush writes session-wide artifacts.
	Flush() (int, error)
	Cleanup() error
}

// TestScenarioLoader loads and selects scenarios
type TestScenarioLoader interface {
	LoadScenarios(paths ...string) ([]TestScenario, error)
	FilterScenarios(scenarios []TestScenario, config TestConfiguration) []TestScenario
}

// TestReporter is notified while a suite runs
type TestReporter interface {
	ReportStart(config TestConfiguration)
	ReportScenarioStart(scenario TestScenario)
	ReportMessageResult(result MessageResult)
	ReportScenarioResult(result ScenarioResult)
	ReportSuiteResult(result SuiteResult)
	SetParallelMode(parallel bool)
}

// TestRunner executes scenarios
type TestRunner interface {
	Run(ctx context.Context, config TestConfiguration, scenarios []TestScenario) (*SuiteResult, error)
}
