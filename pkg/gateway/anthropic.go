package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/convoflow/convoflow/pkg/utils"
)

// generateAnthropic is the translate-in/translate-out pair for the
// Anthropic messages API. System messages move to the top-level system
// field; content blocks collapse to one text reply.
func (g *Gateway) generateAnthropic(ctx context.Context, messages []Message, cfg GenerationConfig) (*Response, error) {
	baseURL := g.anthropicBaseURL
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	var systemPrompt string
	chat := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		chat = append(chat, msg)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		// The messages API rejects requests without max_tokens.
		maxTokens = 1024
	}

	body := map[string]interface{}{
		"model":       cfg.Model,
		"messages":    chat,
		"max_tokens":  maxTokens,
		"temperature": cfg.Temperature,
	}
	if systemPrompt != "" {
		body["system"] = systemPrompt
	}
	if cfg.TopP > 0 {
		body["top_p"] = cfg.TopP
	}

	resp, err := g.http.Do(ctx, &utils.HTTPRequest{
		URL:    fmt.Sprintf("%s/messages", baseURL),
		Method: "POST",
		Body:   body,
		Headers: map[string]string{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": "2023-06-01",
		},
		Timeout: g.httpTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apiError(resp.StatusCode, resp.RawBody)
	}

	var parsed struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(resp.RawBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Text:  text.String(),
		Model: parsed.Model,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
		FinishReason: normalizeFinishReason(parsed.StopReason),
	}, nil
}
