package engine

// Reserved variable-bag keys written by retrieval nodes.
const (
	VarRAGAnswer  = "_rag_answer"
	VarRAGSources = "_rag_sources"
	VarRAGModel   = "_rag_model"
)

// Side-effect types. The set is open: callers dispatch on the string
// tag and ignore types they do not handle.
const (
	EffectSendEmail        = "send_email"
	EffectCreateTicket     = "create_ticket"
	EffectVariableSet      = "variable_set"
	EffectAPICallCompleted = "api_call_completed"
	EffectError            = "error"
)

// SideEffect describes an action the flow requests but does not itself
// execute. The engine performs no side-effect I/O; the caller does.
type SideEffect struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// AgentResponse is the result of one turn.
type AgentResponse struct {
	// Reply is the natural-language text to show the user.
	Reply string `json:"reply"`

	// NextNodes are the node ids reached at turn end; empty means the
	// conversation path is terminal.
	NextNodes []string `json:"next_nodes"`

	// Variables is the session variable bag after the turn.
	Variables map[string]interface{} `json:"variables"`

	// SideEffects are ordered descriptors for the caller to execute.
	SideEffects []SideEffect `json:"side_effects,omitempty"`

	// Suggestions are optional follow-up prompts for the widget.
	Suggestions []string `json:"suggestions,omitempty"`
}
