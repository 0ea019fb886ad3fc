package flow

import (
	"fmt"
)

// ConditionConfig holds the optional scripted predicate of a condition
// node. When Expr is set it takes precedence over the rule language in
// the node content; the script receives `message` and `variables` and
// returns the target node id (empty string for no match).
type ConditionConfig struct {
	Expr string
}

// ResponseConfig holds the optional extras of a response node.
type ResponseConfig struct {
	Suggestions []string
}

// RetrievalConfig drives a retrieval node. SimilarityThreshold and
// MaxContextLength are required tenant configuration and are never
// silently defaulted: both must be greater than zero, and a zero
// threshold is treated as unset and rejected at load time. There is
// no "retrieve everything" threshold; use a small positive value.
type RetrievalConfig struct {
	Index               string
	TopK                int
	SimilarityThreshold float64
	MaxContextLength    int
	SystemPrompt        string
	HistoryWindow       int

	// Generation overrides; empty values fall back to engine defaults.
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// ActionConfig is the tagged variant decoded from an action node's
// config map. Exactly one of the variant fields matching Kind is set.
type ActionConfig struct {
	Kind string // "set_variable", "expression", "send_email", "create_ticket"

	SetVariable  *SetVariableAction
	Expression   string
	SendEmail    *SendEmailAction
	CreateTicket *CreateTicketAction
}

// SetVariableAction writes one value into the session variable bag.
// String values are templated against the bag before assignment.
type SetVariableAction struct {
	Variable string
	Value    interface{}
}

// SendEmailAction describes an email the caller should send. Fields are
// templates resolved against the variable bag at traversal time.
type SendEmailAction struct {
	To      string
	Subject string
	Body    string
}

// CreateTicketAction describes a support ticket the caller should open.
type CreateTicketAction struct {
	Queue    string
	Subject  string
	Body     string
	Priority string
}

// ExternalCallConfig drives an external_call node: one outbound HTTP
// request whose parsed result lands in the variable bag.
type ExternalCallConfig struct {
	Method         string
	URL            string
	Headers        map[string]string
	Body           string
	TimeoutSeconds int
	ResultVariable string
}

// decodeConfig turns a node's open config map into its typed per-kind
// configuration. Misconfiguration is caught here, at flow-load time.
func decodeConfig(node *Node, config map[string]interface{}) error {
	switch node.Kind {
	case KindTrigger:
		return nil

	case KindCondition:
		cfg := &ConditionConfig{Expr: stringValue(config, "expr")}
		node.Condition = cfg
		if cfg.Expr == "" {
			program, err := ParseCondition(node.Content)
			if err != nil {
				return err
			}
			node.program = program
		}
		return nil

	case KindResponse:
		node.Response = &ResponseConfig{Suggestions: stringSlice(config, "suggestions")}
		return nil

	case KindRetrieval:
		cfg := &RetrievalConfig{
			Index:               stringValue(config, "index"),
			TopK:                intValue(config, "top_k"),
			SimilarityThreshold: floatValue(config, "similarity_threshold"),
			MaxContextLength:    intValue(config, "max_context_length"),
			SystemPrompt:        stringValue(config, "system_prompt"),
			HistoryWindow:       intValue(config, "history_window"),
			Provider:            stringValue(config, "provider"),
			Model:               stringValue(config, "model"),
			Temperature:         floatValue(config, "temperature"),
			MaxTokens:           intValue(config, "max_tokens"),
			TopP:                floatValue(config, "top_p"),
		}
		if cfg.SimilarityThreshold <= 0 {
			return fmt.Errorf("%w: retrieval node %q requires similarity_threshold", ErrInvalidConfig, node.ID)
		}
		if cfg.MaxContextLength <= 0 {
			return fmt.Errorf("%w: retrieval node %q requires max_context_length", ErrInvalidConfig, node.ID)
		}
		node.Retrieval = cfg
		return nil

	case KindAction:
		return decodeActionConfig(node, config)

	case KindExternalCall:
		cfg := &ExternalCallConfig{
			Method:         stringValue(config, "method"),
			URL:            stringValue(config, "url"),
			Headers:        stringMap(config, "headers"),
			Body:           stringValue(config, "body"),
			TimeoutSeconds: intValue(config, "timeout_seconds"),
			ResultVariable: stringValue(config, "result_variable"),
		}
		if cfg.URL == "" {
			return fmt.Errorf("%w: external_call node %q requires url", ErrInvalidConfig, node.ID)
		}
		if cfg.Method == "" {
			cfg.Method = "GET"
		}
		if cfg.ResultVariable == "" {
			cfg.ResultVariable = "_external_result"
		}
		node.ExternalCall = cfg
		return nil

	default:
		return fmt.Errorf("%w: %q on node %q", ErrUnknownNodeKind, node.Kind, node.ID)
	}
}

func decodeActionConfig(node *Node, config map[string]interface{}) error {
	kind := stringValue(config, "action")
	cfg := &ActionConfig{Kind: kind}

	switch kind {
	case "set_variable":
		variable := stringValue(config, "variable")
		if variable == "" {
			return fmt.Errorf("%w: action node %q requires variable", ErrInvalidConfig, node.ID)
		}
		cfg.SetVariable = &SetVariableAction{
			Variable: variable,
			Value:    config["value"],
		}

	case "expression":
		cfg.Expression = stringValue(config, "expression")
		if cfg.Expression == "" {
			return fmt.Errorf("%w: action node %q requires expression", ErrInvalidConfig, node.ID)
		}

	case "send_email":
		cfg.SendEmail = &SendEmailAction{
			To:      stringValue(config, "to"),
			Subject: stringValue(config, "subject"),
			Body:    stringValue(config, "body"),
		}
		if cfg.SendEmail.To == "" {
			return fmt.Errorf("%w: action node %q requires to", ErrInvalidConfig, node.ID)
		}

	case "create_ticket":
		cfg.CreateTicket = &CreateTicketAction{
			Queue:    stringValue(config, "queue"),
			Subject:  stringValue(config, "subject"),
			Body:     stringValue(config, "body"),
			Priority: stringValue(config, "priority"),
		}

	default:
		return fmt.Errorf("%w: action node %q has unknown action %q", ErrInvalidConfig, node.ID, kind)
	}

	node.Action = cfg
	return nil
}

func stringValue(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intValue(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatValue(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func stringSlice(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringMap(m map[string]interface{}, key string) map[string]string {
	raw, ok := m[key].(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
