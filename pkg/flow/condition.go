package flow

import (
	"fmt"
	"strings"
)

// PredicateOp is the matching operator of a condition clause.
type PredicateOp string

const (
	OpContains   PredicateOp = "contains"
	OpEquals     PredicateOp = "equals"
	OpStartsWith PredicateOp = "starts_with"
)

// Clause is one parsed `if <predicate> then <node-id>` rule.
type Clause struct {
	Op     PredicateOp
	Arg    string
	Target string
}

// ConditionProgram is an ordered list of clauses. Clauses are matched
// case-insensitively in declaration order; the first match wins.
type ConditionProgram []Clause

// ParseCondition parses the semicolon-separated rule source of a
// condition node once at flow-load time. A malformed clause is a
// configuration error, reported to the author instead of failing a
// live turn later.
func ParseCondition(src string) (ConditionProgram, error) {
	var program ConditionProgram

	for _, raw := range strings.Split(src, ";") {
		clause := strings.TrimSpace(raw)
		if clause == "" {
			continue
		}

		rest, ok := strings.CutPrefix(clause, "if ")
		if !ok {
			return nil, fmt.Errorf("%w: clause %q must start with 'if'", ErrInvalidConfig, clause)
		}

		predicate, target, ok := cutLast(rest, " then ")
		if !ok {
			return nil, fmt.Errorf("%w: clause %q is missing 'then'", ErrInvalidConfig, clause)
		}
		target = strings.TrimSpace(target)
		if target == "" {
			return nil, fmt.Errorf("%w: clause %q has an empty target", ErrInvalidConfig, clause)
		}

		op, arg, err := parsePredicate(strings.TrimSpace(predicate))
		if err != nil {
			return nil, err
		}

		program = append(program, Clause{Op: op, Arg: arg, Target: target})
	}

	if len(program) == 0 {
		return nil, fmt.Errorf("%w: condition has no clauses", ErrInvalidConfig)
	}
	return program, nil
}

// Evaluate matches the user message against the program. It returns the
// target node id of the first matching clause, or ok=false when no
// clause matches.
func (p ConditionProgram) Evaluate(message string) (string, bool) {
	msg := strings.ToLower(message)
	for _, clause := range p {
		arg := strings.ToLower(clause.Arg)
		var matched bool
		switch clause.Op {
		case OpContains:
			matched = strings.Contains(msg, arg)
		case OpEquals:
			matched = msg == arg
		case OpStartsWith:
			matched = strings.HasPrefix(msg, arg)
		}
		if matched {
			return clause.Target, true
		}
	}
	return "", false
}

func parsePredicate(predicate string) (PredicateOp, string, error) {
	for _, op := range []PredicateOp{OpContains, OpEquals, OpStartsWith} {
		rest, ok := strings.CutPrefix(predicate, string(op)+" ")
		if !ok {
			continue
		}
		arg, err := unquote(strings.TrimSpace(rest))
		if err != nil {
			return "", "", fmt.Errorf("%w: predicate %q: %v", ErrInvalidConfig, predicate, err)
		}
		return op, arg, nil
	}
	return "", "", fmt.Errorf("%w: unknown predicate in %q", ErrInvalidConfig, predicate)
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", fmt.Errorf("argument must be single-quoted")
	}
	return s[1 : len(s)-1], nil
}

// cutLast splits s around the last occurrence of sep, so a quoted
// argument may itself contain the word "then".
func cutLast(s, sep string) (before, after string, found bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+len(sep):], true
}
