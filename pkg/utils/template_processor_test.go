package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessTemplate(t *testing.T) {
	vars := map[string]interface{}{
		"name":     "Sam",
		"order_id": 12345,
		"order": map[string]interface{}{
			"status": "shipped",
		},
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"simple substitution", "Hi {{name}}", "Hi Sam"},
		{"non-string value", "Order {{order_id}}", "Order 12345"},
		{"dotted path", "Status: {{order.status}}", "Status: shipped"},
		{"unknown placeholder left verbatim", "Hi {{nobody}}", "Hi {{nobody}}"},
		{"mixed", "{{name}}: {{missing}} ({{order.status}})", "Sam: {{missing}} (shipped)"},
		{"no placeholders", "plain text", "plain text"},
		{"whitespace inside braces", "Hi {{ name }}", "Hi Sam"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProcessTemplate(tt.template, vars))
		})
	}
}

func TestProcessTemplateNilBag(t *testing.T) {
	assert.Equal(t, "Hi {{name}}", ProcessTemplate("Hi {{name}}", nil))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "text", Stringify("text"))
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "true", Stringify(true))
}
