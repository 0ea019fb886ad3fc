// Package engine interprets compiled conversation flows. One call to
// Run is one turn: locate the trigger, dispatch node by node along a
// single path, and return the reply, the nodes reached, the updated
// variable bag and any requested side effects.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/convoflow/convoflow/pkg/flow"
	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/rag"
	"github.com/convoflow/convoflow/pkg/scripting"
	"github.com/convoflow/convoflow/pkg/session"
	"github.com/convoflow/convoflow/pkg/utils"
)

// Errors reported to the caller as broken configuration.
var (
	ErrFlowNotFound = errors.New("flow not found")
	ErrNoEntryPoint = errors.New("flow has no entry point")
)

const (
	defaultMaxSteps    = 64
	defaultHTTPTimeout = 15 * time.Second

	defaultClarificationReply = "I'm not sure I understood that. Could you rephrase?"
	defaultFallbackReply      = "Sorry, I'm having trouble with that right now. Please try again in a moment."
)

// FlowSource resolves a flow id to a compiled snapshot. The registry
// implements it; tests inject fakes.
type FlowSource interface {
	// Flow returns the compiled flow for a tenant
	Flow(ctx context.Context, tenantID, flowID string) (*flow.Flow, error)
}

// CredentialResolver supplies provider API keys per tenant, typically
// backed by the secret vault. A nil resolver leaves keys empty.
type CredentialResolver interface {
	ProviderKey(ctx context.Context, tenantID string, provider string) (string, error)
}

// Options tune engine behavior. Zero values fall back to defaults.
type Options struct {
	// MaxSteps bounds nodes dispatched per turn so an authored cycle
	// cannot spin a turn forever.
	MaxSteps int

	// HTTPTimeout bounds external_call nodes without an explicit
	// timeout of their own.
	HTTPTimeout time.Duration

	// ClarificationReply is used when no condition clause matches or a
	// turn ends without producing a reply.
	ClarificationReply string

	// FallbackReply is used when an external collaborator fails.
	FallbackReply string

	// DefaultProvider and DefaultModel apply to retrieval nodes that
	// do not override generation settings.
	DefaultProvider string
	DefaultModel    string
}

type handlerResult struct {
	next string
	stop bool
}

type handlerFunc func(*turn, *flow.Node) handlerResult

// Engine executes turns. It is safe for concurrent use across
// sessions; a single session's turns must be serialized by the caller.
type Engine struct {
	rag      *rag.Pipeline
	eval     scripting.Evaluator
	flows    FlowSource
	creds    CredentialResolver
	http     *utils.HTTPClient
	logger   logging.Logger
	handlers map[flow.NodeKind]handlerFunc
	opts     Options
}

// New creates a flow engine.
func New(pipeline *rag.Pipeline, eval scripting.Evaluator, flows FlowSource, creds CredentialResolver, logger logging.Logger, opts Options) *Engine {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = defaultHTTPTimeout
	}
	if opts.ClarificationReply == "" {
		opts.ClarificationReply = defaultClarificationReply
	}
	if opts.FallbackReply == "" {
		opts.FallbackReply = defaultFallbackReply
	}

	e := &Engine{
		rag:    pipeline,
		eval:   eval,
		flows:  flows,
		creds:  creds,
		http:   utils.NewHTTPClient(),
		logger: logger,
		opts:   opts,
	}

	// One handler per node kind. The table covers the closed kind set
	// exhaustively; flow.Compile rejects anything outside it.
	e.handlers = map[flow.NodeKind]handlerFunc{
		flow.KindTrigger:      e.handleTrigger,
		flow.KindCondition:    e.handleCondition,
		flow.KindResponse:     e.handleResponse,
		flow.KindRetrieval:    e.handleRetrieval,
		flow.KindAction:       e.handleAction,
		flow.KindExternalCall: e.handleExternalCall,
	}
	return e
}

// turn carries the mutable state of one traversal.
type turn struct {
	ctx         context.Context
	flow        *flow.Flow
	message     string
	sess        *session.Context
	reply       string
	next        []string
	suggestions []string
	effects     []SideEffect
}

func (t *turn) addEffect(effectType string, data map[string]interface{}) {
	t.effects = append(t.effects, SideEffect{Type: effectType, Data: data})
}

// templateVars exposes the variable bag plus the current user message
// to templates, without mutating the bag itself.
func (t *turn) templateVars() map[string]interface{} {
	vars := make(map[string]interface{}, len(t.sess.Variables)+1)
	for k, v := range t.sess.Variables {
		vars[k] = v
	}
	if _, ok := vars["message"]; !ok {
		vars["message"] = t.message
	}
	return vars
}

// RunFlow resolves a flow id through the FlowSource and executes one
// turn against it. Unknown and inactive flows fail with
// ErrFlowNotFound.
func (e *Engine) RunFlow(ctx context.Context, tenantID, flowID, userMessage string, sess *session.Context) (*AgentResponse, error) {
	if e.flows == nil {
		return nil, ErrFlowNotFound
	}
	f, err := e.flows.Flow(ctx, tenantID, flowID)
	if err != nil || f == nil {
		return nil, ErrFlowNotFound
	}
	return e.Run(ctx, f, userMessage, sess)
}

// Run executes one turn of the given flow. The flow is a snapshot:
// author edits made while the turn is in flight are never observed.
// External failures degrade the turn (fallback reply plus error side
// effect); only configuration errors propagate.
func (e *Engine) Run(ctx context.Context, f *flow.Flow, userMessage string, sess *session.Context) (*AgentResponse, error) {
	if f == nil || !f.Active {
		return nil, ErrFlowNotFound
	}
	node := f.Trigger()
	if node == nil {
		return nil, ErrNoEntryPoint
	}

	t := &turn{
		ctx:     ctx,
		flow:    f,
		message: userMessage,
		sess:    sess,
	}

	e.logger.LogTurn(f.ID, sess.SessionID, "started", map[string]interface{}{
		"tenant_id": sess.TenantID,
	})

	steps := 0
	for node != nil {
		steps++
		if steps > e.opts.MaxSteps {
			t.reply = e.opts.FallbackReply
			t.next = nil
			t.addEffect(EffectError, map[string]interface{}{
				"reason":  "max_steps_exceeded",
				"node_id": node.ID,
			})
			e.logger.Warn("turn exceeded step ceiling",
				logging.F("flow_id", f.ID),
				logging.F("session_id", sess.SessionID),
				logging.F("node_id", node.ID),
			)
			break
		}

		e.logger.LogNode(f.ID, sess.SessionID, node.ID, "dispatch", nil)
		result := e.handlers[node.Kind](t, node)
		if result.stop {
			break
		}
		node = f.Node(result.next)
	}

	// A turn that ends without text still answers the user.
	if t.reply == "" {
		t.reply = e.opts.ClarificationReply
	}

	e.logger.LogTurn(f.ID, sess.SessionID, "completed", map[string]interface{}{
		"steps":        steps,
		"side_effects": len(t.effects),
	})

	return &AgentResponse{
		Reply:       t.reply,
		NextNodes:   t.next,
		Variables:   sess.Variables,
		SideEffects: t.effects,
		Suggestions: t.suggestions,
	}, nil
}
