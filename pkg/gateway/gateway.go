// Package gateway provides a uniform contract over generative-model
// backends. Per-provider differences (wire format, token accounting,
// finish-reason vocabulary) are isolated to one translate-in /
// translate-out pair per backend; adding a backend touches only that
// pair.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/utils"
)

// Provider identifies a configured model backend. The set is closed;
// anything else fails with ErrUnsupportedProvider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGeneric   Provider = "generic"
)

// ErrUnsupportedProvider is returned for provider tags the gateway has
// no adapter for.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// ProviderError wraps a backend failure so all providers surface
// uniformly to callers.
type ProviderError struct {
	Provider Provider
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Message is a role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationConfig selects the backend and generation parameters for
// one call. APIKey is resolved by the caller (typically from the
// tenant's secret vault) before the call.
type GenerationConfig struct {
	Provider         Provider `json:"provider"`
	Model            string   `json:"model"`
	Temperature      float64  `json:"temperature"`
	MaxTokens        int      `json:"max_tokens"`
	TopP             float64  `json:"top_p"`
	PresencePenalty  float64  `json:"presence_penalty"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	APIKey           string   `json:"-"`

	// BaseURL overrides the provider endpoint; required for generic.
	BaseURL string `json:"base_url,omitempty"`
}

// FinishReason is the normalized reason a backend stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishUnknown       FinishReason = "unknown"
)

// Usage is normalized token accounting. Missing backend fields are
// zero-filled and TotalTokens always equals PromptTokens plus
// CompletionTokens.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized result of a generation call.
type Response struct {
	Text         string       `json:"text"`
	Model        string       `json:"model"`
	Usage        Usage        `json:"usage"`
	FinishReason FinishReason `json:"finish_reason"`
}

// Gateway dispatches generation calls to provider adapters.
type Gateway struct {
	http   *utils.HTTPClient
	logger logging.Logger

	// endpoint overrides, used by tests and self-hosted deployments
	openAIBaseURL    string
	anthropicBaseURL string

	// httpTimeout bounds every backend request
	httpTimeout time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithOpenAIBaseURL overrides the OpenAI endpoint.
func WithOpenAIBaseURL(url string) Option {
	return func(g *Gateway) { g.openAIBaseURL = url }
}

// WithAnthropicBaseURL overrides the Anthropic endpoint.
func WithAnthropicBaseURL(url string) Option {
	return func(g *Gateway) { g.anthropicBaseURL = url }
}

// WithHTTPTimeout overrides the per-request timeout for backend calls.
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.httpTimeout = timeout
		}
	}
}

// New creates a model gateway.
func New(logger logging.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		http:             utils.NewHTTPClient(),
		logger:           logger,
		openAIBaseURL:    "https://api.openai.com/v1",
		anthropicBaseURL: "https://api.anthropic.com/v1",
		httpTimeout:      60 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends the messages to the configured backend and returns a
// normalized response. When knowledgeContext is non-empty the first
// system message is rewritten to ground the model in that context; the
// transform is textual and identical for every backend.
func (g *Gateway) Generate(ctx context.Context, messages []Message, cfg GenerationConfig, knowledgeContext string) (*Response, error) {
	if knowledgeContext != "" {
		messages = injectContext(messages, knowledgeContext)
	}

	var (
		resp *Response
		err  error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		resp, err = g.generateOpenAI(ctx, messages, cfg)
	case ProviderAnthropic:
		resp, err = g.generateAnthropic(ctx, messages, cfg)
	case ProviderGeneric:
		resp, err = g.generateGeneric(ctx, messages, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
	if err != nil {
		return nil, &ProviderError{Provider: cfg.Provider, Cause: err}
	}

	resp.Usage = normalizeUsage(resp.Usage)
	if resp.Model == "" {
		resp.Model = cfg.Model
	}
	return resp, nil
}

// TestConnection performs one minimal call against the provider and
// reports reachability. Errors are logged and swallowed; this is a
// configuration-time health check, never on the serving path.
func (g *Gateway) TestConnection(ctx context.Context, provider Provider, apiKey string) bool {
	cfg := GenerationConfig{
		Provider:  provider,
		APIKey:    apiKey,
		MaxTokens: 1,
	}
	switch provider {
	case ProviderOpenAI, ProviderGeneric:
		cfg.Model = "gpt-4o-mini"
	case ProviderAnthropic:
		cfg.Model = "claude-3-haiku-20240307"
	default:
		return false
	}

	_, err := g.Generate(ctx, []Message{{Role: "user", Content: "ping"}}, cfg, "")
	if err != nil {
		g.logger.Warn("provider connection test failed",
			logging.F("provider", provider),
			logging.F("error", err.Error()),
		)
		return false
	}
	return true
}

// injectContext rewrites the first system message to instruct the model
// to prefer the retrieved context and to disclose when it falls back to
// general knowledge. Message slices are never mutated in place.
func injectContext(messages []Message, knowledgeContext string) []Message {
	instruction := fmt.Sprintf(
		"Use the following reference material to answer. Prefer it over general knowledge, and say so explicitly when you have to answer from general knowledge instead.\n\nReference material:\n%s",
		knowledgeContext,
	)

	out := make([]Message, len(messages))
	copy(out, messages)
	for i, msg := range out {
		if msg.Role == "system" {
			out[i].Content = strings.TrimSpace(msg.Content + "\n\n" + instruction)
			return out
		}
	}
	return append([]Message{{Role: "system", Content: instruction}}, out...)
}

// normalizeUsage zero-fills missing counters and keeps the total
// consistent with its parts.
func normalizeUsage(u Usage) Usage {
	if u.PromptTokens < 0 {
		u.PromptTokens = 0
	}
	if u.CompletionTokens < 0 {
		u.CompletionTokens = 0
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// normalizeFinishReason maps backend stop vocabularies onto the closed
// FinishReason set.
func normalizeFinishReason(raw string) FinishReason {
	switch strings.ToLower(raw) {
	case "stop", "end_turn", "stop_sequence":
		return FinishStop
	case "length", "max_tokens":
		return FinishLength
	case "content_filter", "refusal":
		return FinishContentFilter
	default:
		return FinishUnknown
	}
}
