package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`{{([^{}]+)}}`)

// ProcessTemplate replaces {{variableName}} placeholders in a template
// with stringified values from the variable bag. A placeholder whose
// variable is not in the bag is left verbatim, so a misconfigured flow
// renders an odd-looking reply instead of crashing a live conversation.
func ProcessTemplate(template string, variables map[string]interface{}) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])

		value, ok := lookup(variables, name)
		if !ok {
			return match
		}
		return Stringify(value)
	})
}

// Stringify renders a variable value the way it should appear inside a
// reply: strings pass through, everything else goes through fmt.
func Stringify(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	if value == nil {
		return ""
	}
	return fmt.Sprintf("%v", value)
}

// lookup resolves a dotted path ("order.id") against nested maps. A
// plain name is a single map lookup.
func lookup(variables map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")

	var current interface{} = variables
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
