// Package flow defines the conversation graph model: typed nodes, the
// condition rule language and the YAML loader that compiles author
// definitions into validated, immutable flows.
package flow

import (
	"errors"
	"fmt"
)

// Errors reported for broken flow configurations. These surface to the
// author at load time, never mid-conversation.
var (
	ErrNoEntryPoint     = errors.New("flow has no trigger node")
	ErrMultipleTriggers = errors.New("flow has more than one trigger node")
	ErrUnknownNodeKind  = errors.New("unknown node kind")
	ErrDanglingTarget   = errors.New("connection targets a node that does not exist")
	ErrInvalidConfig    = errors.New("invalid node configuration")
)

// NodeKind identifies the behavior of a node. The set is closed: the
// engine keeps an exhaustive handler table keyed by kind.
type NodeKind string

const (
	KindTrigger      NodeKind = "trigger"
	KindCondition    NodeKind = "condition"
	KindResponse     NodeKind = "response"
	KindRetrieval    NodeKind = "retrieval"
	KindAction       NodeKind = "action"
	KindExternalCall NodeKind = "external_call"
)

// Position is an authoring-surface layout hint. The engine ignores it.
type Position struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Node is one step in a flow. Nodes are immutable once compiled; a
// traversal never mutates its flow.
type Node struct {
	ID       string
	Kind     NodeKind
	Content  string
	Next     []string
	Position Position

	// Compiled per-kind configuration. Exactly the field matching Kind
	// is populated; the open config map is decoded once at load time.
	Condition    *ConditionConfig
	Response     *ResponseConfig
	Retrieval    *RetrievalConfig
	Action       *ActionConfig
	ExternalCall *ExternalCallConfig

	program ConditionProgram
}

// Program returns the condition program parsed from the node content,
// or nil for non-condition nodes and expr-based conditions.
func (n *Node) Program() ConditionProgram {
	return n.program
}

// Flow is a compiled conversation graph. A Flow handed to the engine is
// a snapshot: author edits produce a new Flow, they never alter one an
// in-flight turn is traversing.
type Flow struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	Active      bool
	Nodes       map[string]*Node

	triggerID string
}

// Trigger returns the flow's single entry node.
func (f *Flow) Trigger() *Node {
	return f.Nodes[f.triggerID]
}

// Node returns the node with the given id, or nil.
func (f *Flow) Node(id string) *Node {
	return f.Nodes[id]
}

// validate checks the structural invariants: exactly one trigger and
// every connection target resolvable.
func (f *Flow) validate() error {
	triggers := 0
	for _, node := range f.Nodes {
		if node.Kind == KindTrigger {
			triggers++
			f.triggerID = node.ID
		}
		for _, target := range node.Next {
			if _, ok := f.Nodes[target]; !ok {
				return fmt.Errorf("%w: node %q -> %q", ErrDanglingTarget, node.ID, target)
			}
		}
		for _, clause := range node.program {
			if _, ok := f.Nodes[clause.Target]; !ok {
				return fmt.Errorf("%w: condition %q -> %q", ErrDanglingTarget, node.ID, clause.Target)
			}
		}
	}
	if triggers == 0 {
		return ErrNoEntryPoint
	}
	if triggers > 1 {
		return ErrMultipleTriggers
	}
	return nil
}
