package harness

import (
	"fmt"
	"time"

	"n2kharness/internal/broker"
	"n2kharness/internal/config"
)

// Reporter formats accepted by FrameworkOptions.
const (
	ReporterText  = "text"
	ReporterQuiet = "quiet"
	ReporterJSON  = "json"
)

// DefaultTestConfiguration returns a default test configuration
func DefaultTestConfiguration() TestConfiguration {
	return TestConfiguration{
		Timeout:       10 * time.Minute,
		Parallel:      1,
		ScenarioPaths: []string{DefaultScenarioPath},
	}
}

// FrameworkOptions selects the output of a TestFramework.
type FrameworkOptions struct {
	Verbose    bool
	Debug      bool
	ReportPath string
	Reporter   string
	// ConnectBroker opens the broker verifier. Suites without broker
	// expectations run without one.
	ConnectBroker bool
}

// TestFramework holds all components needed for a harness session
type TestFramework struct {
	Runner          TestRunner
	Loader          TestScenarioLoader
	Reporter        TestReporter
	InstanceManager GatewayInstanceManager
	Broker          SessionBroker
	Logger          TestLogger
}

// NewTestFramework wires the harness components for cfg.
func NewTestFramework(cfg config.HarnessConfig, opts FrameworkOptions) (*TestFramework, error) {
	logger := NewStdoutLogger(opts.Verbose, opts.Debug)

	instanceManager, err := NewGatewayInstanceManager(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance manager: %w", err)
	}

	var sessionBroker SessionBroker
	if opts.ConnectBroker {
		verifier, err := broker.New(cfg.Broker)
		if err != nil {
			instanceManager.Cleanup()
			return nil, fmt.Errorf("failed to connect to broker: %w", err)
		}
		sessionBroker = verifier
	}

	loader := NewTestScenarioLoaderWithLogger(opts.Debug, logger)

	var reporter TestReporter
	switch opts.Reporter {
	case ReporterQuiet:
		reporter = NewQuietReporter()
	case ReporterJSON:
		reporter = NewJSONReporter()
	default:
		reporter = NewTestReporter(opts.Verbose, opts.Debug, opts.ReportPath)
	}

	timeouts := runnerTimeouts{
		Request:    cfg.Timeouts.Request,
		LogPattern: cfg.Timeouts.LogPattern,
		Line:       cfg.Timeouts.Line,
	}
	runner := NewTestRunnerWithLogger(loader, reporter, instanceManager, sessionBroker, cfg.Host, timeouts, opts.Debug, logger)

	return &TestFramework{
		Runner:          runner,
		Loader:          loader,
		Reporter:        reporter,
		InstanceManager: instanceManager,
		Broker:          sessionBroker,
		Logger:          logger,
	}, nil
}

// Cleanup stops leftover gateways and closes the broker connection
func (tf *TestFramework) Cleanup() error {
	err := tf.InstanceManager.Cleanup()
	if tf.Broker != nil {
		if cerr := tf.Broker.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ValidateConfiguration validates a test configuration
func ValidateConfiguration(config TestConfiguration) error {
	if config.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if config.Parallel < 1 {
		return fmt.Errorf("parallel workers must be at least 1")
	}
	return nil
}

// ScenariosNeedBroker reports whether any scenario checks the broker.
func ScenariosNeedBroker(scenarios []TestScenario) bool {
	hasBroker := func(exps []Expectation) bool {
		for _, e := range exps {
			if e.Broker != nil {
				return true
			}
		}
		return false
	}
	for _, s := range scenarios {
		if s.Skip {
			continue
		}
		if hasBroker(s.Expect) {
			return true
		}
		for _, m := range s.Messages {
			if hasBroker(m.Expect) {
				return true
			}
			for _, c := range m.Chunks {
				if c.Broker != nil {
					return true
				}
			}
		}
	}
	return false
}
