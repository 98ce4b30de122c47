package harness

import (
	"context"
	"testing"
	"time"

	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const msgsQuery = `any(.topics[]?.partitions[]?; .msgs > 0)`

func statsRunner(logs *fakeLogs) *messageRunner {
	return &messageRunner{
		logs:     logs,
		journal:  newLogJournal(),
		timeouts: runnerTimeouts{LogPattern: time.Second},
		logger:   NewSilentLogger(false, false),
	}
}

func TestExpectStats_SecondDocumentMatches(t *testing.T) {
	logs := newFakeLogs(
		rdline("5", "Creating new HTTP listener on port 2057"),
		rdline("42", " "+StatsBanner),
		rdline("42", `{"topics":{"t":{"partitions":{"0":{"msgs":0}}}}}`),
		rdline("43", "unrelated thread"),
		rdline("42", " "+StatsBanner),
		rdline("42", `{"topics":{"t":`),
		rdline("43", `{"not":"stats"}`),
		rdline("42", `{"partitions":{"0":{"msgs":3}}}}}`),
	)
	r := statsRunner(logs)

	err := r.expectStats(context.Background(), StatsExpectation{Query: msgsQuery})
	require.NoError(t, err)
}

func TestExpectStats_NoMatchingDocument(t *testing.T) {
	logs := newFakeLogs(
		rdline("42", " "+StatsBanner),
		rdline("42", `{"topics":{}}`),
	)
	r := statsRunner(logs)

	err := r.expectStats(context.Background(), StatsExpectation{Query: msgsQuery, Timeout: 100 * time.Millisecond})
	var expErr *ExpectationError
	require.ErrorAs(t, err, &expErr)
	assert.Equal(t, "stats", expErr.Expectation)
}

func TestExpectStats_NoBanner(t *testing.T) {
	r := statsRunner(newFakeLogs(rdline("1", "nothing to see")))
	err := r.expectStats(context.Background(), StatsExpectation{Query: "true"})
	assert.ErrorContains(t, err, "no statistics banner")
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"true", true},
		{"false", false},
		{"null", false},
		{".a", true},
		{".missing", false},
		{"empty", false},
		{"error(\"x\")", false},
		{"null, 1", true},
	}
	doc := map[string]interface{}{"a": 0.0}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := gojq.Parse(tt.query)
			require.NoError(t, err)
			code, err := gojq.Compile(q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, truthy(context.Background(), code, doc))
		})
	}
}
