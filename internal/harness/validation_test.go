package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorFields(r ScenarioValidationResult) []string {
	var out []string
	for _, e := range r.Errors {
		out = append(out, e.Field)
	}
	return out
}

func TestValidateScenarios_Valid(t *testing.T) {
	s, err := ParseScenario([]byte(chunkedScenario))
	require.NoError(t, err)

	results := ValidateScenarios([]TestScenario{s})
	assert.True(t, results.Valid(), FormatValidationResults(results, true))
	assert.Equal(t, 1, results.ValidScenarios)
}

func TestValidateScenarios_Errors(t *testing.T) {
	tests := []struct {
		name     string
		scenario TestScenario
		field    string
	}{
		{
			name:     "missing name",
			scenario: TestScenario{Messages: []Message{{URI: "/"}}},
			field:    "name",
		},
		{
			name:     "empty",
			scenario: TestScenario{Name: "x"},
			field:    "messages",
		},
		{
			name: "body and chunks",
			scenario: TestScenario{Name: "x", Messages: []Message{
				{URI: "/", Body: strPtr("a"), Chunks: []Chunk{{Data: strPtr("b")}}},
			}},
			field: "messages[0]",
		},
		{
			name: "unknown compression",
			scenario: TestScenario{Name: "x", Messages: []Message{
				{URI: "/", Compress: "brotli"},
			}},
			field: "messages[0].compress",
		},
		{
			name: "fail chunk without expected disconnect",
			scenario: TestScenario{Name: "x", Messages: []Message{
				{URI: "/", Chunks: []Chunk{{Data: strPtr("a")}, {Fail: TransportDisconnect}}},
			}},
			field: "messages[0].chunks[1].fail",
		},
		{
			name: "two checks in one expectation",
			scenario: TestScenario{Name: "x", Messages: []Message{
				{URI: "/", Expect: []Expectation{{Status: intPtr(200), Body: strPtr("")}}},
			}},
			field: "messages[0].expect[0]",
		},
		{
			name: "bad regex",
			scenario: TestScenario{Name: "x", Messages: []Message{
				{URI: "/", Expect: []Expectation{{Log: []string{"("}}}},
			}},
			field: "messages[0].expect[0].log[0]",
		},
		{
			name: "bad jq",
			scenario: TestScenario{Name: "x", Messages: []Message{
				{URI: "/", Expect: []Expectation{{Stats: &StatsExpectation{Query: ".topics[["}}}},
			}},
			field: "messages[0].expect[0].stats.query",
		},
		{
			name: "bad matcher",
			scenario: TestScenario{Name: "x", Messages: []Message{
				{URI: "/", Expect: []Expectation{{Broker: &BrokerExpectation{Topic: "t", Messages: []MessageSpec{{Match: "json.a =="}}}}}},
			}},
			field: "messages[0].expect[0].broker.messages[0].match",
		},
		{
			name: "status at scenario level",
			scenario: TestScenario{Name: "x", Expect: []Expectation{{Status: intPtr(200)}}},
			field:    "expect[0]",
		},
		{
			name: "tls over http",
			scenario: TestScenario{Name: "x", Messages: []Message{
				{URI: "/", TLS: &TLSOptions{Insecure: true}},
			}},
			field: "messages[0].tls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := ValidateScenarios([]TestScenario{tt.scenario})
			require.False(t, results.Valid())
			assert.Contains(t, errorFields(results.ScenarioResults[0]), tt.field)
		})
	}
}

func TestValidateScenarios_TemplatedPatternsSkipped(t *testing.T) {
	s := TestScenario{Name: "x", Messages: []Message{
		{URI: "/", Expect: []Expectation{{Log: []string{`client localhost:{{ .listener_port }}`}}}},
	}}
	assert.True(t, ValidateScenarios([]TestScenario{s}).Valid())
}

func TestValidateScenarios_DuplicateNames(t *testing.T) {
	s := TestScenario{Name: "x", Messages: []Message{{URI: "/"}}}
	results := ValidateScenarios([]TestScenario{s, s})
	assert.Equal(t, 1, results.ValidScenarios)
	assert.Equal(t, 1, results.ValidationSummary["duplicate_name"])
}
