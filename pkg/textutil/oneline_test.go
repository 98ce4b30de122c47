package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOneLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{name: "short string unchanged", input: "boom", maxLen: 10, expected: "boom"},
		{name: "exact length unchanged", input: "hello", maxLen: 5, expected: "hello"},
		{name: "long string cut", input: "want 201, got 200 from gateway", maxLen: 15, expected: "want 201, go..."},
		{name: "newlines collapsed", input: "body mismatch:\n  want \"\"\n  got \"{}\"", maxLen: 100, expected: `body mismatch: want "" got "{}"`},
		{name: "tabs and runs collapsed", input: "a\t\tb   c", maxLen: 100, expected: "a b c"},
		{name: "tiny max clamped", input: "abcdefgh", maxLen: 1, expected: "a..."},
		{name: "empty", input: "", maxLen: 10, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, OneLine(tt.input, tt.maxLen))
		})
	}
}

func TestOneLineCountsRunes(t *testing.T) {
	got := OneLine("🎯🎯🎯🎯🎯🎯", 5)
	assert.Equal(t, "🎯🎯...", got)
	assert.Len(t, []rune(got), 5)
}
