// Package rag answers a query by grounding a model call in retrieved
// knowledge-base passages: retrieve, filter by similarity, pack a
// bounded context, generate.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/convoflow/convoflow/pkg/gateway"
	"github.com/convoflow/convoflow/pkg/knowledge"
	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/session"
)

// ErrInvalidConfig is returned when required tenant configuration is
// missing. Threshold and context budget are never silently defaulted.
var ErrInvalidConfig = errors.New("invalid rag configuration")

const defaultTopK = 5

const defaultSystemPrompt = "You are a helpful customer support assistant. Answer concisely and stay on topic."

// Config is the per-call configuration of the pipeline.
// SimilarityThreshold and MaxContextLength must be greater than zero;
// a zero threshold is indistinguishable from unset and rejected.
type Config struct {
	Index               string
	TopK                int
	SimilarityThreshold float64
	MaxContextLength    int
	SystemPrompt        string
	HistoryWindow       int
	Generation          gateway.GenerationConfig
}

// Answer is the result of one grounded generation.
type Answer struct {
	Text    string
	Sources []knowledge.Result
	Model   string
	Usage   gateway.Usage
}

// Pipeline wires the knowledge service and the model gateway.
type Pipeline struct {
	knowledge *knowledge.Service
	gateway   *gateway.Gateway
	logger    logging.Logger
}

// NewPipeline creates a RAG pipeline.
func NewPipeline(svc *knowledge.Service, gw *gateway.Gateway, logger logging.Logger) *Pipeline {
	return &Pipeline{knowledge: svc, gateway: gw, logger: logger}
}

// Answer retrieves passages for (query, tenant), packs the survivors
// into a bounded context and generates a grounded reply. Zero surviving
// passages degrade to ungrounded generation; they are not an error.
func (p *Pipeline) Answer(ctx context.Context, query, tenantID string, cfg Config, history []session.Message) (*Answer, error) {
	if cfg.SimilarityThreshold <= 0 {
		return nil, fmt.Errorf("%w: similarity_threshold is required", ErrInvalidConfig)
	}
	if cfg.MaxContextLength <= 0 {
		return nil, fmt.Errorf("%w: max_context_length is required", ErrInvalidConfig)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	passages, err := p.knowledge.Search(ctx, cfg.Index, query, tenantID, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	// Drop passages below the threshold. The survivors, in rank order,
	// are the citation set regardless of whether they all fit the
	// context budget.
	survivors := make([]knowledge.Result, 0, len(passages))
	for _, passage := range passages {
		if passage.Score >= cfg.SimilarityThreshold {
			survivors = append(survivors, passage)
		}
	}

	contextText := packContext(survivors, cfg.MaxContextLength)

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	messages := make([]gateway.Message, 0, len(history)+2)
	messages = append(messages, gateway.Message{Role: "system", Content: systemPrompt})
	for _, msg := range historyTail(history, cfg.HistoryWindow) {
		messages = append(messages, gateway.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, gateway.Message{Role: "user", Content: query})

	resp, err := p.gateway.Generate(ctx, messages, cfg.Generation, contextText)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("rag answer generated",
		logging.F("tenant_id", tenantID),
		logging.F("passages", len(passages)),
		logging.F("survivors", len(survivors)),
		logging.F("context_len", len(contextText)),
		logging.F("model", resp.Model),
	)

	return &Answer{
		Text:    resp.Text,
		Sources: survivors,
		Model:   resp.Model,
		Usage:   resp.Usage,
	}, nil
}

// packContext greedily concatenates passages in rank order without
// exceeding the budget. A passage that would overflow is skipped whole;
// passages are never truncated mid-passage.
func packContext(passages []knowledge.Result, maxLen int) string {
	var b strings.Builder
	for _, passage := range passages {
		needed := len(passage.Content)
		if b.Len() > 0 {
			needed += 2 // separator
		}
		if b.Len()+needed > maxLen {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(passage.Content)
	}
	return b.String()
}

func historyTail(history []session.Message, window int) []session.Message {
	if window <= 0 || window >= len(history) {
		return history
	}
	return history[len(history)-window:]
}
