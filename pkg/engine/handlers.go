package engine

import (
	"time"

	"github.com/convoflow/convoflow/pkg/flow"
	"github.com/convoflow/convoflow/pkg/gateway"
	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/rag"
	"github.com/convoflow/convoflow/pkg/utils"
)

// handleTrigger enters the flow by following the trigger's first
// connection. A trigger without connections ends the turn immediately.
func (e *Engine) handleTrigger(t *turn, node *flow.Node) handlerResult {
	if len(node.Next) == 0 {
		return handlerResult{stop: true}
	}
	return handlerResult{next: node.Next[0]}
}

// handleCondition selects at most one outgoing node. The first matching
// clause wins; no match is graceful, not an error: the turn ends with
// the clarification reply and an empty next-node set.
func (e *Engine) handleCondition(t *turn, node *flow.Node) handlerResult {
	if node.Condition != nil && node.Condition.Expr != "" {
		return e.handleConditionExpr(t, node)
	}

	target, ok := node.Program().Evaluate(t.message)
	if !ok {
		t.reply = e.opts.ClarificationReply
		t.next = nil
		return handlerResult{stop: true}
	}
	return handlerResult{next: target}
}

// handleConditionExpr evaluates a scripted predicate that returns the
// target node id, or an empty string for no match. Script failures and
// unknown targets degrade to the no-match path.
func (e *Engine) handleConditionExpr(t *turn, node *flow.Node) handlerResult {
	result, err := e.eval.Evaluate(node.Condition.Expr, map[string]interface{}{
		"message":   t.message,
		"variables": t.sess.Variables,
	})
	if err != nil {
		e.logger.Warn("condition expression failed",
			logging.F("flow_id", t.flow.ID),
			logging.F("node_id", node.ID),
			logging.F("error", err.Error()),
		)
	}

	target, _ := result.(string)
	if target == "" || t.flow.Node(target) == nil {
		t.reply = e.opts.ClarificationReply
		t.next = nil
		return handlerResult{stop: true}
	}
	return handlerResult{next: target}
}

// handleResponse renders the node content against the variable bag and
// ends the turn. Unknown placeholders stay verbatim so a misconfigured
// flow never crashes a live conversation.
func (e *Engine) handleResponse(t *turn, node *flow.Node) handlerResult {
	t.reply = utils.ProcessTemplate(node.Content, t.templateVars())
	if node.Response != nil {
		t.suggestions = node.Response.Suggestions
	}
	t.next = node.Next
	return handlerResult{stop: true}
}

// handleRetrieval delegates to the RAG pipeline and stores the answer,
// its sources and the backend model into reserved variable-bag keys.
// Pipeline failures are caught here: fallback reply plus error side
// effect, never an unhandled fault.
func (e *Engine) handleRetrieval(t *turn, node *flow.Node) handlerResult {
	cfg := node.Retrieval

	gen := gateway.GenerationConfig{
		Provider:    gateway.Provider(e.opts.DefaultProvider),
		Model:       e.opts.DefaultModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		TopP:        cfg.TopP,
	}
	if cfg.Provider != "" {
		gen.Provider = gateway.Provider(cfg.Provider)
	}
	if cfg.Model != "" {
		gen.Model = cfg.Model
	}
	if e.creds != nil {
		if key, err := e.creds.ProviderKey(t.ctx, t.sess.TenantID, string(gen.Provider)); err == nil {
			gen.APIKey = key
		}
	}

	answer, err := e.rag.Answer(t.ctx, t.message, t.sess.TenantID, rag.Config{
		Index:               cfg.Index,
		TopK:                cfg.TopK,
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxContextLength:    cfg.MaxContextLength,
		SystemPrompt:        cfg.SystemPrompt,
		HistoryWindow:       cfg.HistoryWindow,
		Generation:          gen,
	}, t.sess.History)
	if err != nil {
		e.logger.Warn("retrieval node failed",
			logging.F("flow_id", t.flow.ID),
			logging.F("node_id", node.ID),
			logging.F("error", err.Error()),
		)
		t.reply = e.opts.FallbackReply
		t.next = nil
		t.addEffect(EffectError, map[string]interface{}{
			"node_id": node.ID,
			"stage":   "retrieval",
			"error":   err.Error(),
		})
		return handlerResult{stop: true}
	}

	t.sess.Variables[VarRAGAnswer] = answer.Text
	t.sess.Variables[VarRAGSources] = answer.Sources
	t.sess.Variables[VarRAGModel] = answer.Model

	if len(node.Next) == 0 {
		t.reply = answer.Text
		return handlerResult{stop: true}
	}
	return handlerResult{next: node.Next[0]}
}

// handleAction mutates the variable bag or enqueues a side effect for
// the caller. The engine itself performs no I/O here, which keeps
// action nodes deterministic and testable.
func (e *Engine) handleAction(t *turn, node *flow.Node) handlerResult {
	cfg := node.Action
	vars := t.templateVars()

	switch cfg.Kind {
	case "set_variable":
		value := cfg.SetVariable.Value
		if s, ok := value.(string); ok {
			value = utils.ProcessTemplate(s, vars)
		}
		t.sess.Variables[cfg.SetVariable.Variable] = value
		t.addEffect(EffectVariableSet, map[string]interface{}{
			"variable": cfg.SetVariable.Variable,
			"value":    value,
		})

	case "expression":
		result, err := e.eval.Evaluate(cfg.Expression, map[string]interface{}{
			"message":   t.message,
			"variables": t.sess.Variables,
		})
		if err != nil {
			e.logger.Warn("action expression failed",
				logging.F("flow_id", t.flow.ID),
				logging.F("node_id", node.ID),
				logging.F("error", err.Error()),
			)
			t.addEffect(EffectError, map[string]interface{}{
				"node_id": node.ID,
				"stage":   "action",
				"error":   err.Error(),
			})
			break
		}
		// A returned object merges into the variable bag.
		if updates, ok := result.(map[string]interface{}); ok {
			for k, v := range updates {
				t.sess.Variables[k] = v
				t.addEffect(EffectVariableSet, map[string]interface{}{
					"variable": k,
					"value":    v,
				})
			}
		}

	case "send_email":
		t.addEffect(EffectSendEmail, map[string]interface{}{
			"to":      utils.ProcessTemplate(cfg.SendEmail.To, vars),
			"subject": utils.ProcessTemplate(cfg.SendEmail.Subject, vars),
			"body":    utils.ProcessTemplate(cfg.SendEmail.Body, vars),
		})

	case "create_ticket":
		t.addEffect(EffectCreateTicket, map[string]interface{}{
			"queue":    cfg.CreateTicket.Queue,
			"subject":  utils.ProcessTemplate(cfg.CreateTicket.Subject, vars),
			"body":     utils.ProcessTemplate(cfg.CreateTicket.Body, vars),
			"priority": cfg.CreateTicket.Priority,
		})
	}

	if len(node.Next) == 0 {
		return handlerResult{stop: true}
	}
	return handlerResult{next: node.Next[0]}
}

// handleExternalCall issues one outbound HTTP request per config and
// stores the parsed result in the variable bag. Network and parse
// failures degrade to the fallback reply plus an error side effect;
// every request carries a timeout so no node can block a turn
// indefinitely.
func (e *Engine) handleExternalCall(t *turn, node *flow.Node) handlerResult {
	cfg := node.ExternalCall
	vars := t.templateVars()

	timeout := e.opts.HTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = utils.ProcessTemplate(v, vars)
	}

	var body interface{}
	if cfg.Body != "" {
		body = utils.ProcessTemplate(cfg.Body, vars)
	}

	resp, err := e.http.Do(t.ctx, &utils.HTTPRequest{
		URL:     utils.ProcessTemplate(cfg.URL, vars),
		Method:  cfg.Method,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	})
	if err != nil || resp.StatusCode >= 400 {
		status := 0
		errText := ""
		if err != nil {
			errText = err.Error()
		}
		if resp != nil {
			status = resp.StatusCode
		}
		e.logger.Warn("external call failed",
			logging.F("flow_id", t.flow.ID),
			logging.F("node_id", node.ID),
			logging.F("status", status),
			logging.F("error", errText),
		)
		t.reply = e.opts.FallbackReply
		t.next = nil
		t.addEffect(EffectError, map[string]interface{}{
			"node_id":     node.ID,
			"stage":       "external_call",
			"status_code": status,
			"error":       errText,
		})
		return handlerResult{stop: true}
	}

	t.sess.Variables[cfg.ResultVariable] = resp.Body
	t.addEffect(EffectAPICallCompleted, map[string]interface{}{
		"node_id":     node.ID,
		"status_code": resp.StatusCode,
	})

	if len(node.Next) == 0 {
		return handlerResult{stop: true}
	}
	return handlerResult{next: node.Next[0]}
}
