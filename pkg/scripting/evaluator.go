// Package scripting provides JavaScript expression evaluation for
// flows: scripted condition predicates and action expressions.
package scripting

import (
	"fmt"

	"github.com/dop251/goja"
)

// Evaluator runs an expression against a context map.
type Evaluator interface {
	// Evaluate runs an expression with the given context and returns
	// the exported result
	Evaluate(expression string, context map[string]interface{}) (interface{}, error)
}

// GojaEvaluator evaluates expressions with the goja JavaScript engine.
// A fresh VM per call keeps evaluations isolated; flow authors cannot
// leak state between turns through the engine.
type GojaEvaluator struct{}

// NewGojaEvaluator creates a goja-backed evaluator.
func NewGojaEvaluator() *GojaEvaluator {
	return &GojaEvaluator{}
}

// Evaluate runs the expression with the context keys bound as globals.
// The expression is wrapped in a function so `return` works naturally.
func (e *GojaEvaluator) Evaluate(expression string, context map[string]interface{}) (interface{}, error) {
	vm := goja.New()
	for key, value := range context {
		if err := vm.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to bind %q: %w", key, err)
		}
	}

	result, err := vm.RunString(expression)
	if err != nil {
		// Scripts with return statements do not parse as bare
		// expressions; retry wrapped in a function.
		wrapped := "(function() {\n" + expression + "\n})()"
		result, err = vm.RunString(wrapped)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate expression: %w", err)
		}
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}
