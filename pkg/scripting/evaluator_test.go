package scripting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateBareExpression(t *testing.T) {
	e := NewGojaEvaluator()

	result, err := e.Evaluate("1 + 1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result)
}

func TestEvaluateWithContext(t *testing.T) {
	e := NewGojaEvaluator()

	result, err := e.Evaluate("message.toUpperCase()", map[string]interface{}{
		"message": "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", result)
}

func TestEvaluateObjectResult(t *testing.T) {
	e := NewGojaEvaluator()

	result, err := e.Evaluate("({a: 1, b: 'two'})", nil)
	require.NoError(t, err)

	obj, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, obj["a"])
	assert.Equal(t, "two", obj["b"])
}

func TestEvaluateReturnStatement(t *testing.T) {
	e := NewGojaEvaluator()

	result, err := e.Evaluate("if (x > 2) { return 'big' } return 'small'", map[string]interface{}{
		"x": 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "big", result)
}

func TestEvaluateUndefinedIsNil(t *testing.T) {
	e := NewGojaEvaluator()

	result, err := e.Evaluate("undefined", nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestEvaluateSyntaxError(t *testing.T) {
	e := NewGojaEvaluator()

	_, err := e.Evaluate("this is not javascript", nil)
	assert.Error(t, err)
}

func TestEvaluateIsolatedBetweenCalls(t *testing.T) {
	e := NewGojaEvaluator()

	_, err := e.Evaluate("globalThis.leak = 42", nil)
	require.NoError(t, err)

	result, err := e.Evaluate("typeof leak", nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", result)
}
