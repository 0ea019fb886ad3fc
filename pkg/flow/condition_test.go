package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition(t *testing.T) {
	program, err := ParseCondition("if contains 'order' then order-path; if equals 'hi' then greeting")
	require.NoError(t, err)
	require.Len(t, program, 2)

	assert.Equal(t, OpContains, program[0].Op)
	assert.Equal(t, "order", program[0].Arg)
	assert.Equal(t, "order-path", program[0].Target)

	assert.Equal(t, OpEquals, program[1].Op)
	assert.Equal(t, "hi", program[1].Arg)
	assert.Equal(t, "greeting", program[1].Target)
}

func TestParseConditionQuotedThen(t *testing.T) {
	// The argument may itself contain the word "then".
	program, err := ParseCondition("if contains 'and then some' then next-node")
	require.NoError(t, err)
	require.Len(t, program, 1)
	assert.Equal(t, "and then some", program[0].Arg)
	assert.Equal(t, "next-node", program[0].Target)
}

func TestParseConditionErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing if", "contains 'x' then a"},
		{"missing then", "if contains 'x'"},
		{"unquoted argument", "if contains x then a"},
		{"unknown predicate", "if matches 'x' then a"},
		{"empty source", "  ;  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCondition(tt.src)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	program, err := ParseCondition("if contains 'order' then first; if contains 'order status' then second")
	require.NoError(t, err)

	target, ok := program.Evaluate("what is my order status")
	require.True(t, ok)
	assert.Equal(t, "first", target)
}

func TestEvaluateCaseInsensitive(t *testing.T) {
	program, err := ParseCondition("if starts_with 'hello' then greeting")
	require.NoError(t, err)

	target, ok := program.Evaluate("HELLO there")
	require.True(t, ok)
	assert.Equal(t, "greeting", target)
}

func TestEvaluateNoMatch(t *testing.T) {
	program, err := ParseCondition("if equals 'refund' then refund-path")
	require.NoError(t, err)

	_, ok := program.Evaluate("something else entirely")
	assert.False(t, ok)
}
