package harness

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"

	"n2kharness/internal/broker"
)

// ScenarioValidationResults represents the results of validating multiple scenarios
type ScenarioValidationResults struct {
	TotalScenarios    int                        `json:"total_scenarios"`
	ValidScenarios    int                        `json:"valid_scenarios"`
	TotalErrors       int                        `json:"total_errors"`
	ScenarioResults   []ScenarioValidationResult `json:"scenario_results"`
	ValidationSummary map[string]int             `json:"validation_summary"`
}

// Valid reports whether no scenario had errors.
func (r *ScenarioValidationResults) Valid() bool {
	return r.TotalErrors == 0
}

// ScenarioValidationResult represents the validation result for a single scenario
type ScenarioValidationResult struct {
	ScenarioName string            `json:"scenario_name"`
	File         string            `json:"file,omitempty"`
	Valid        bool              `json:"valid"`
	Errors       []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type validator struct {
	errs []ValidationError
}

func (v *validator) add(errType, field, format string, args ...interface{}) {
	v.errs = append(v.errs, ValidationError{Type: errType, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) suggest(suggestion string) {
	v.errs[len(v.errs)-1].Suggestion = suggestion
}

// ValidateScenarios checks every scenario for structural errors that
// would only surface halfway through a run.
func ValidateScenarios(scenarios []TestScenario) *ScenarioValidationResults {
	results := &ScenarioValidationResults{
		TotalScenarios:    len(scenarios),
		ScenarioResults:   make([]ScenarioValidationResult, 0, len(scenarios)),
		ValidationSummary: make(map[string]int),
	}

	seen := make(map[string]string)
	for _, scenario := range scenarios {
		result := validateScenario(scenario)
		if prev, dup := seen[scenario.Name]; dup {
			result.Valid = false
			result.Errors = append(result.Errors, ValidationError{
				Type:    "duplicate_name",
				Field:   "name",
				Message: fmt.Sprintf("scenario name %q already used in %s", scenario.Name, prev),
			})
		}
		seen[scenario.Name] = scenario.File

		if result.Valid {
			results.ValidScenarios++
		}
		results.TotalErrors += len(result.Errors)
		for _, err := range result.Errors {
			results.ValidationSummary[err.Type]++
		}
		results.ScenarioResults = append(results.ScenarioResults, result)
	}
	return results
}

func validateScenario(scenario TestScenario) ScenarioValidationResult {
	v := &validator{}

	if scenario.Name == "" {
		v.add("missing_field", "name", "scenario name is required")
	}
	if scenario.Timeout < 0 {
		v.add("invalid_value", "timeout", "timeout cannot be negative")
	}
	if listeners, ok := scenario.Gateway["listeners"]; ok {
		if _, isList := listeners.([]interface{}); !isList {
			v.add("invalid_value", "gateway.listeners", "listeners must be a list of maps")
		}
	}
	if len(scenario.Messages) == 0 && len(scenario.Expect) == 0 {
		v.add("empty_scenario", "messages", "scenario has neither messages nor expectations")
		v.suggest("add a message or a scenario-level expect list")
	}

	for i, m := range scenario.Messages {
		validateMessage(v, fmt.Sprintf("messages[%d]", i), m)
	}
	for i, e := range scenario.Expect {
		field := fmt.Sprintf("expect[%d]", i)
		if e.Status != nil || e.Body != nil {
			v.add("invalid_value", field, "status and body checks belong to a message")
			continue
		}
		validateExpectation(v, field, e)
	}

	return ScenarioValidationResult{
		ScenarioName: scenario.Name,
		File:         scenario.File,
		Valid:        len(v.errs) == 0,
		Errors:       v.errs,
	}
}

func validateMessage(v *validator, field string, m Message) {
	if m.Method != "" && !isToken(m.Method) {
		v.add("invalid_value", field+".method", "invalid HTTP method %q", m.Method)
	}
	switch strings.ToLower(m.Proto) {
	case "", "http", "https":
	default:
		v.add("invalid_value", field+".proto", "unsupported proto %q", m.Proto)
		v.suggest("use http or https")
	}
	if m.TLS != nil && !strings.EqualFold(m.Proto, "https") {
		v.add("invalid_value", field+".tls", "tls options need proto https")
	}
	if _, err := newCompressor(m.Compress); err != nil {
		v.add("invalid_value", field+".compress", "%v", err)
	}
	if m.Body != nil && m.Chunks != nil {
		v.add("conflict", field, "body and chunks are mutually exclusive")
	}
	if m.ExpectedError != "" && !m.ExpectedError.Valid() {
		v.add("invalid_value", field+".expected_error", "unknown transport error %q", m.ExpectedError)
		v.suggest("use connection, tls or disconnect")
	}

	for i, c := range m.Chunks {
		cf := fmt.Sprintf("%s.chunks[%d]", field, i)
		switch {
		case c.Data != nil && c.Fail != "":
			v.add("conflict", cf, "data and fail are mutually exclusive")
		case c.Data == nil && c.Fail == "":
			v.add("missing_field", cf, "chunk needs data or fail")
		case c.Fail != "" && c.Fail != TransportDisconnect:
			v.add("invalid_value", cf+".fail", "only %q can be injected", TransportDisconnect)
		case c.Fail != "" && c.Broker != nil:
			v.add("conflict", cf, "a fail chunk cannot expect broker messages")
		}
		if c.Fail != "" && !m.ExpectedError.Matches(TransportDisconnect) {
			v.add("conflict", cf+".fail", "injected disconnect without expected_error: disconnect")
		}
		if c.Broker != nil {
			validateBroker(v, cf+".broker", *c.Broker)
		}
	}

	for i, e := range m.Expect {
		validateExpectation(v, fmt.Sprintf("%s.expect[%d]", field, i), e)
	}
}

func validateExpectation(v *validator, field string, e Expectation) {
	kind := e.Kind()
	switch {
	case kind == "":
		v.add("missing_field", field, "expectation holds no check")
		return
	case strings.HasPrefix(kind, "["):
		v.add("conflict", field, "expectation holds more than one check: %s", kind)
		v.suggest("split it into one list entry per check")
		return
	}

	switch {
	case e.Status != nil:
		if *e.Status < 100 || *e.Status > 599 {
			v.add("invalid_value", field+".status", "status %d out of range", *e.Status)
		}
	case e.Broker != nil:
		validateBroker(v, field+".broker", *e.Broker)
	case len(e.Log) > 0:
		validatePatterns(v, field+".log", e.Log)
	case e.NoLog != nil:
		if len(e.NoLog.Patterns) == 0 {
			v.add("missing_field", field+".no_log.patterns", "at least one pattern is required")
		}
		if e.NoLog.Within < 0 {
			v.add("invalid_value", field+".no_log.within", "window cannot be negative")
		}
		validatePatterns(v, field+".no_log.patterns", e.NoLog.Patterns)
	case e.Stats != nil:
		if e.Stats.Query == "" {
			v.add("missing_field", field+".stats.query", "query is required")
		} else if _, err := gojq.Parse(e.Stats.Query); err != nil {
			v.add("invalid_value", field+".stats.query", "invalid jq query: %v", err)
		}
	}
}

func validateBroker(v *validator, field string, b BrokerExpectation) {
	if b.Topic == "" {
		v.add("missing_field", field+".topic", "topic is required")
	}
	for i, m := range b.Messages {
		if m.Match == "" || isTemplated(m.Match) {
			continue
		}
		if _, err := broker.CompileMatcher(m.Match); err != nil {
			v.add("invalid_value", fmt.Sprintf("%s.messages[%d].match", field, i), "%v", err)
		}
	}
}

func validatePatterns(v *validator, field string, patterns []string) {
	for i, p := range patterns {
		if isTemplated(p) {
			continue
		}
		if _, err := regexp.Compile(p); err != nil {
			v.add("invalid_value", fmt.Sprintf("%s[%d]", field, i), "invalid pattern: %v", err)
		}
	}
}

func isTemplated(s string) bool {
	return strings.Contains(s, "{{")
}

// isToken reports whether s is a valid HTTP method token.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	_, err := http.NewRequest(s, "http://localhost/", nil)
	return err == nil
}

// FormatValidationResults formats validation results for CLI output
func FormatValidationResults(results *ScenarioValidationResults, verbose bool) string {
	var output strings.Builder

	output.WriteString("🔍 Scenario Validation Results\n")
	output.WriteString("══════════════════════════════\n")
	output.WriteString(fmt.Sprintf("Total scenarios: %d\n", results.TotalScenarios))
	output.WriteString(fmt.Sprintf("Valid scenarios: %d\n", results.ValidScenarios))
	output.WriteString(fmt.Sprintf("Invalid scenarios: %d\n", results.TotalScenarios-results.ValidScenarios))
	output.WriteString(fmt.Sprintf("Total errors: %d\n", results.TotalErrors))

	if len(results.ValidationSummary) > 0 {
		output.WriteString("\n📊 Validation Summary:\n")
		for errorType, count := range results.ValidationSummary {
			output.WriteString(fmt.Sprintf("  %s: %d\n", errorType, count))
		}
	}

	if verbose || results.TotalErrors > 0 {
		output.WriteString("\n📋 Scenario Details:\n")
		for _, scenarioResult := range results.ScenarioResults {
			status := "✅"
			if !scenarioResult.Valid {
				status = "❌"
			}
			output.WriteString(fmt.Sprintf("  %s %s\n", status, scenarioResult.ScenarioName))

			for _, err := range scenarioResult.Errors {
				if err.Field != "" {
					output.WriteString(fmt.Sprintf("    • %s (%s): %s\n", err.Type, err.Field, err.Message))
				} else {
					output.WriteString(fmt.Sprintf("    • %s: %s\n", err.Type, err.Message))
				}
				if err.Suggestion != "" {
					output.WriteString(fmt.Sprintf("      💡 %s\n", err.Suggestion))
				}
			}
		}
	}

	return output.String()
}
