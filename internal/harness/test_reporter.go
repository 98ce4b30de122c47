package harness

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"n2kharness/pkg/textutil"
)

// testReporter implements the TestReporter interface
type testReporter struct {
	verbose    bool
	debug      bool
	reportPath string
	out        io.Writer
	// spin shows a spinner while a sequential scenario runs.
	spin bool

	mu           sync.Mutex
	parallelMode bool
	spinner      *spinner.Spinner
}

// NewTestReporter creates a reporter printing to stdout
func NewTestReporter(verbose, debug bool, reportPath string) TestReporter {
	r := NewTestReporterWithWriter(verbose, debug, reportPath, os.Stdout).(*testReporter)
	r.spin = !verbose && !debug
	return r
}

// NewTestReporterWithWriter creates a reporter printing to out
func NewTestReporterWithWriter(verbose, debug bool, reportPath string, out io.Writer) TestReporter {
	return &testReporter{
		verbose:    verbose,
		debug:      debug,
		reportPath: reportPath,
		out:        out,
	}
}

func (r *testReporter) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

// SetParallelMode switches to one complete line per scenario
func (r *testReporter) SetParallelMode(parallel bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parallelMode = parallel
}

// ReportStart is called when test execution begins
func (r *testReporter) ReportStart(config TestConfiguration) {
	r.printf("🧪 Starting n2kafka integration harness\n")

	if r.verbose {
		r.printf("\n⚙️  Configuration:\n")
		r.printf("   • Scenario paths: %s\n", r.stringOrDefault(strings.Join(config.ScenarioPaths, ", "), DefaultScenarioPath))
		r.printf("   • Scenario: %s\n", r.stringOrDefault(config.Scenario, "all"))
		if len(config.Tags) > 0 {
			r.printf("   • Tags: %s\n", strings.Join(config.Tags, ", "))
		}
		r.printf("   • Parallel workers: %d\n", config.Parallel)
		r.printf("   • Fail fast: %t\n", config.FailFast)
		r.printf("   • Debug mode: %t\n", r.debug)
		r.printf("   • Timeout: %v\n", config.Timeout)
		if config.ReportPath != "" {
			r.printf("   • Report path: %s\n", config.ReportPath)
		}
		r.printf("\n")
	}
}

// ReportScenarioStart is called when a scenario begins
func (r *testReporter) ReportScenarioStart(scenario TestScenario) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.verbose {
		r.printf("🎯 Starting scenario: %s\n", scenario.Name)
		if scenario.Description != "" {
			r.printf("   📝 Description: %s\n", scenario.Description)
		}
		if len(scenario.Tags) > 0 {
			r.printf("   🏷️  Tags: %s\n", strings.Join(scenario.Tags, ", "))
		}
		r.printf("   📨 Messages: %d\n", len(scenario.Messages))
		if len(scenario.Expect) > 0 {
			r.printf("   🔎 Scenario expectations: %d\n", len(scenario.Expect))
		}
		if scenario.Timeout > 0 {
			r.printf("   ⏱️  Timeout: %v\n", scenario.Timeout)
		}
		return
	}

	if r.parallelMode {
		return
	}
	r.printf("🎯 %s... ", scenario.Name)
	if r.spin {
		r.spinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(r.out))
		r.spinner.Start()
	}
}

// ReportMessageResult is called when a message completes
func (r *testReporter) ReportMessageResult(result MessageResult) {
	if !r.verbose {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m := result.Message
	label := strings.TrimSpace(m.Method + " " + m.URI)
	if m.Name != "" {
		label = m.Name + ": " + label
	}
	r.printf("   %s %s (%v)\n", r.getResultSymbol(result.Result), label, result.Duration)

	if result.StatusCode != 0 {
		r.printf("      📬 HTTP %d\n", result.StatusCode)
	}
	if result.Transport != "" {
		r.printf("      🔌 %s error\n", result.Transport)
	}
	if result.Error != "" {
		r.printf("      ❌ %s\n", textutil.OneLine(result.Error, textutil.DefaultSummaryMaxLen))
	}
	if r.debug {
		states := make([]string, 0, len(result.States))
		for _, s := range result.States {
			states = append(states, string(s))
		}
		r.printf("      🔄 %s\n", strings.Join(states, " → "))
	}
}

// ReportScenarioResult is called when a scenario completes
func (r *testReporter) ReportScenarioResult(result ScenarioResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbol := r.getResultSymbol(result.Result)
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	if !r.verbose {
		if r.parallelMode {
			r.printf("🎯 %s... %s (%v)\n", result.Scenario.Name, symbol, result.Duration)
		} else {
			r.printf("%s (%v)\n", symbol, result.Duration)
		}
		if failed(result.Result) {
			r.printf("   %s\n", text.FgRed.Sprint(result.Error))
		}
		return
	}

	r.printf("%s Scenario completed: %s (%v)\n", symbol, result.Scenario.Name, result.Duration)
	if result.Error != "" {
		r.printf("   ❌ Scenario Error: %s\n", result.Error)
	}
	if result.ConfigFile != "" && r.debug {
		r.printf("   📝 Gateway config: %s\n", result.ConfigFile)
	}
	if len(result.LogTail) > 0 {
		r.printf("   📄 Gateway log (last %d lines):\n%s\n", len(result.LogTail), r.indentText(strings.Join(result.LogTail, "\n"), "      "))
	}
	r.printf("\n")
}

// indentText adds indentation to each line of text
func (r *testReporter) indentText(text string, indent string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}

// ReportSuiteResult is called when all tests complete
func (r *testReporter) ReportSuiteResult(result SuiteResult) {
	r.printf("\n🏁 Test Suite Complete\n")
	r.printf("⏱️  Duration: %v\n", result.Duration)

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"RESULT", "SCENARIOS"})
	t.AppendRow(table.Row{"✅ Passed", result.PassedScenarios})
	if result.FailedScenarios > 0 {
		t.AppendRow(table.Row{"❌ Failed", result.FailedScenarios})
	}
	if result.ErrorScenarios > 0 {
		t.AppendRow(table.Row{"💥 Errors", result.ErrorScenarios})
	}
	if result.SkippedScenarios > 0 {
		t.AppendRow(table.Row{"⏭️  Skipped", result.SkippedScenarios})
	}
	t.AppendFooter(table.Row{"Total", result.TotalScenarios})
	t.Render()

	if result.DiagnosticFindings > 0 {
		r.printf("🩺 Diagnostic findings: %d\n", result.DiagnosticFindings)
	}
	if result.DrainError != "" {
		r.printf("%s\n", text.FgRed.Sprintf("🚰 Broker not drained: %s", result.DrainError))
	}
	if result.DiagnosticsError != "" {
		r.printf("%s\n", text.FgRed.Sprintf("🩺 Diagnostics: %s", result.DiagnosticsError))
	}

	if result.Succeeded() {
		r.printf("\n🎉 All tests passed!\n")
	} else {
		r.printf("\n💔 Some tests failed\n")
	}

	if r.reportPath != "" {
		path, err := r.saveDetailedReport(result)
		if err != nil {
			r.printf("⚠️  Failed to save detailed report: %v\n", err)
		} else {
			r.printf("📄 Detailed report saved to: %s\n", path)
		}
	}
}

// saveDetailedReport saves a detailed JSON report to the report directory
func (r *testReporter) saveDetailedReport(result SuiteResult) (string, error) {
	if err := os.MkdirAll(r.reportPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(r.reportPath, fmt.Sprintf("n2kharness-report-%s.json", timestamp))

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return path, nil
}

// getResultSymbol returns an appropriate symbol for the test result
func (r *testReporter) getResultSymbol(result TestResult) string {
	switch result {
	case ResultPassed:
		return "✅"
	case ResultFailed:
		return "❌"
	case ResultSkipped:
		return "⏭️"
	case ResultError:
		return "💥"
	default:
		return "❓"
	}
}

func (r *testReporter) stringOrDefault(s, defaultValue string) string {
	if s == "" {
		return defaultValue
	}
	return s
}

// NewQuietReporter creates a reporter that only outputs failures and the
// final summary
func NewQuietReporter() TestReporter {
	return &quietReporter{out: os.Stdout}
}

// quietReporter implements minimal output for CI/CD integration
type quietReporter struct {
	out io.Writer
}

func (r *quietReporter) ReportStart(config TestConfiguration)   {}
func (r *quietReporter) ReportScenarioStart(scenario TestScenario) {}
func (r *quietReporter) ReportMessageResult(result MessageResult)  {}
func (r *quietReporter) SetParallelMode(parallel bool)            {}

func (r *quietReporter) ReportScenarioResult(result ScenarioResult) {
	if failed(result.Result) {
		symbol := "❌"
		if result.Result == ResultError {
			symbol = "💥"
		}
		fmt.Fprintf(r.out, "%s %s: %s\n", symbol, result.Scenario.Name, textutil.OneLine(result.Error, textutil.DefaultSummaryMaxLen))
	}
}

func (r *quietReporter) ReportSuiteResult(result SuiteResult) {
	if result.Succeeded() {
		fmt.Fprintf(r.out, "✅ All %d scenarios passed (%v)\n", result.TotalScenarios, result.Duration)
		return
	}
	fmt.Fprintf(r.out, "❌ %d/%d scenarios failed (%v)\n",
		result.FailedScenarios+result.ErrorScenarios, result.TotalScenarios, result.Duration)
}

// NewJSONReporter creates a reporter that prints the suite result as JSON
func NewJSONReporter() TestReporter {
	return &jsonReporter{out: os.Stdout}
}

// jsonReporter implements JSON output for machine consumption
type jsonReporter struct {
	out io.Writer
}

func (r *jsonReporter) ReportStart(config TestConfiguration)       {}
func (r *jsonReporter) ReportScenarioStart(scenario TestScenario)  {}
func (r *jsonReporter) ReportMessageResult(result MessageResult)   {}
func (r *jsonReporter) ReportScenarioResult(result ScenarioResult) {}
func (r *jsonReporter) SetParallelMode(parallel bool)             {}

func (r *jsonReporter) ReportSuiteResult(result SuiteResult) {
	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Fprintln(r.out, string(data))
}
