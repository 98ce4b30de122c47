package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// logTailLines is how many gateway lines a failed scenario keeps.
const logTailLines = 30

// testRunner implements the TestRunner interface
type testRunner struct {
	loader          TestScenarioLoader
	reporter        TestReporter
	instanceManager GatewayInstanceManager
	broker          SessionBroker
	host            string
	timeouts        runnerTimeouts
	debug           bool
	logger          TestLogger
}

// NewTestRunner creates a new test runner. broker may be nil when no
// scenario checks produced messages.
func NewTestRunner(loader TestScenarioLoader, reporter TestReporter, instanceManager GatewayInstanceManager, broker SessionBroker, host string, timeouts runnerTimeouts, debug bool) TestRunner {
	return NewTestRunnerWithLogger(loader, reporter, instanceManager, broker, host, timeouts, debug, NewStdoutLogger(false, debug))
}

// NewTestRunnerWithLogger creates a new test runner with custom logger
func NewTestRunnerWithLogger(loader TestScenarioLoader, reporter TestReporter, instanceManager GatewayInstanceManager, broker SessionBroker, host string, timeouts runnerTimeouts, debug bool, logger TestLogger) TestRunner {
	return &testRunner{
		loader:          loader,
		reporter:        reporter,
		instanceManager: instanceManager,
		broker:          broker,
		host:            host,
		timeouts:        timeouts,
		debug:           debug,
		logger:          logger,
	}
}

// Run executes scenarios according to the configuration and finishes the
// session with the drain check and the diagnostics flush.
func (r *testRunner) Run(ctx context.Context, config TestConfiguration, scenarios []TestScenario) (*SuiteResult, error) {
	result := &SuiteResult{
		StartTime:       time.Now(),
		ScenarioResults: make([]ScenarioResult, 0, len(scenarios)),
		Configuration:   config,
	}

	r.reporter.ReportStart(config)

	filtered := r.loader.FilterScenarios(scenarios, config)
	result.TotalScenarios = len(filtered)

	if config.Parallel <= 1 {
		r.reporter.SetParallelMode(false)
		for _, scenario := range filtered {
			scenarioResult := r.runScenario(ctx, scenario, config, r.logger)
			result.ScenarioResults = append(result.ScenarioResults, scenarioResult)
			r.updateCounters(result, scenarioResult)
			r.reporter.ReportScenarioResult(scenarioResult)

			if config.FailFast && failed(scenarioResult.Result) {
				break
			}
			if ctx.Err() != nil {
				break
			}
		}
	} else if len(filtered) > 0 {
		r.reporter.SetParallelMode(true)
		result.ScenarioResults = r.runScenariosParallel(ctx, filtered, config, result)
	}

	r.finishSession(ctx, result)

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	r.reporter.ReportSuiteResult(*result)
	return result, nil
}

// finishSession checks that no produced message went unconsumed and writes
// the merged diagnostics.
func (r *testRunner) finishSession(ctx context.Context, result *SuiteResult) {
	if r.broker != nil {
		if err := r.broker.AssertDrained(ctx); err != nil {
			result.DrainError = err.Error()
			r.logger.Error("❌ Broker not drained: %v\n", err)
		}
	}

	findings, err := r.instanceManager.Flush()
	result.DiagnosticFindings = findings
	if err != nil {
		result.DiagnosticsError = err.Error()
		r.logger.Error("❌ Diagnostics: %v\n", err)
	}
}

// runScenariosParallel executes scenarios with a worker pool. Every
// scenario has its own gateway, port and topics.
func (r *testRunner) runScenariosParallel(ctx context.Context, scenarios []TestScenario, config TestConfiguration, suiteResult *SuiteResult) []ScenarioResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scenarioChan := make(chan TestScenario, len(scenarios))
	resultChan := make(chan ScenarioResult, len(scenarios))
	for _, scenario := range scenarios {
		scenarioChan <- scenario
	}
	close(scenarioChan)

	numWorkers := min(config.Parallel, len(scenarios))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for scenario := range scenarioChan {
				if ctx.Err() != nil {
					return
				}
				r.logger.Debug("🔄 Worker %d executing scenario: %s\n", workerID, scenario.Name)
				logger := withPrefix(r.logger, "["+scenario.Name+"] ")
				resultChan <- r.runScenario(ctx, scenario, config, logger)
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var results []ScenarioResult
	for result := range resultChan {
		results = append(results, result)
		r.updateCounters(suiteResult, result)
		r.reporter.ReportScenarioResult(result)

		if config.FailFast && failed(result.Result) {
			r.logger.Debug("🛑 Fail-fast triggered by scenario: %s\n", result.Scenario.Name)
			cancel()
		}
	}
	return results
}

// runScenario launches a gateway for scenario, replays its messages in
// order and evaluates the scenario-level expectations before stopping the
// gateway.
func (r *testRunner) runScenario(ctx context.Context, scenario TestScenario, config TestConfiguration, logger TestLogger) ScenarioResult {
	result := ScenarioResult{
		Scenario:       scenario,
		StartTime:      time.Now(),
		MessageResults: make([]MessageResult, 0, len(scenario.Messages)),
		Result:         ResultPassed,
	}
	finish := func(res TestResult, format string, args ...interface{}) ScenarioResult {
		if res != ResultPassed && result.Result == ResultPassed {
			result.Result = res
			result.Error = fmt.Sprintf(format, args...)
		}
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		return result
	}

	r.reporter.ReportScenarioStart(scenario)

	if scenario.Skip {
		result.Result = ResultSkipped
		return finish(ResultPassed, "")
	}

	timeout := scenario.Timeout
	if timeout <= 0 {
		timeout = config.Timeout
	}
	scenarioCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		scenarioCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	vars := newTemplateProcessor(r.host)
	vars.Set(VarScenarioDir, scenarioDir(scenario))
	if err := vars.AddUserVars(scenario.Vars); err != nil {
		return finish(ResultError, "template variables: %v", err)
	}

	journal := newLogJournal()

	logger.Debug("🏗️  Creating gateway for scenario: %s\n", scenario.Name)
	instance, err := r.instanceManager.CreateInstance(scenarioCtx, scenario, vars, journal)
	if err != nil {
		result.LogTail = journal.Tail(logTailLines)
		return finish(ResultError, "failed to create gateway instance: %v", err)
	}
	result.ConfigFile = instance.ConfigFile

	stopped := false
	defer func() {
		if !stopped {
			_ = r.instanceManager.DestroyInstance(instance)
		}
	}()

	runner := &messageRunner{
		host:     r.host,
		port:     instance.Port,
		proto:    instance.Proto,
		logs:     instance.Logs,
		journal:  journal,
		broker:   r.broker,
		timeouts: r.timeouts,
		logger:   logger,
	}

	r.runMessages(scenarioCtx, scenario, vars, runner, &result)

	stopped = true
	if err := r.instanceManager.DestroyInstance(instance); err != nil {
		logger.Debug("⚠️  Failed to stop gateway %s: %v\n", instance.ID, err)
		finish(ResultFailed, "gateway shutdown: %v", err)
	}

	if result.Result != ResultPassed {
		result.LogTail = journal.Tail(logTailLines)
	}
	return finish(ResultPassed, "")
}

// runMessages replays the messages and then the scenario-level checks,
// stopping at the first failure.
func (r *testRunner) runMessages(ctx context.Context, scenario TestScenario, vars *templateProcessor, runner *messageRunner, result *ScenarioResult) {
	for i, m := range scenario.Messages {
		resolved, err := vars.ResolveMessage(m)
		if err != nil {
			result.Result = ResultError
			result.Error = fmt.Sprintf("message %s: %v", messageLabel(i, m), err)
			return
		}

		mr := runner.Run(ctx, resolved)
		result.MessageResults = append(result.MessageResults, mr)
		r.reporter.ReportMessageResult(mr)

		if mr.Result != ResultPassed {
			result.Result = mr.Result
			result.Error = fmt.Sprintf("message %s: %s", messageLabel(i, m), mr.Error)
			return
		}
	}

	expectations, err := vars.ResolveExpectations(scenario.Expect)
	if err != nil {
		result.Result = ResultError
		result.Error = fmt.Sprintf("scenario expectations: %v", err)
		return
	}
	for i, e := range expectations {
		if err := runner.checkExpectation(ctx, e, nil, 0); err != nil {
			result.Result = ResultFailed
			result.Error = fmt.Sprintf("scenario expectation %d: %v", i, err)
			return
		}
	}
}

// scenarioDir returns the absolute directory of the scenario file, or the
// working directory for scenarios built in code.
func scenarioDir(scenario TestScenario) string {
	dir := "."
	if scenario.File != "" {
		dir = filepath.Dir(scenario.File)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func messageLabel(i int, m Message) string {
	if m.Name != "" {
		return fmt.Sprintf("%d (%s)", i, m.Name)
	}
	return fmt.Sprintf("%d (%s)", i, strings.TrimSpace(m.Method+" "+m.URI))
}

func failed(res TestResult) bool {
	return res == ResultFailed || res == ResultError
}

// updateCounters updates the result counters based on a scenario result
func (r *testRunner) updateCounters(suiteResult *SuiteResult, scenarioResult ScenarioResult) {
	switch scenarioResult.Result {
	case ResultPassed:
		suiteResult.PassedScenarios++
	case ResultFailed:
		suiteResult.FailedScenarios++
	case ResultSkipped:
		suiteResult.SkippedScenarios++
	case ResultError:
		suiteResult.ErrorScenarios++
	}
}
