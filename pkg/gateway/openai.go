package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/convoflow/convoflow/pkg/utils"
)

// generateOpenAI is the translate-in/translate-out pair for the OpenAI
// chat completions API.
func (g *Gateway) generateOpenAI(ctx context.Context, messages []Message, cfg GenerationConfig) (*Response, error) {
	baseURL := g.openAIBaseURL
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	body := map[string]interface{}{
		"model":       cfg.Model,
		"messages":    messages,
		"temperature": cfg.Temperature,
	}
	if cfg.MaxTokens > 0 {
		body["max_tokens"] = cfg.MaxTokens
	}
	if cfg.TopP > 0 {
		body["top_p"] = cfg.TopP
	}
	if cfg.PresencePenalty != 0 {
		body["presence_penalty"] = cfg.PresencePenalty
	}
	if cfg.FrequencyPenalty != 0 {
		body["frequency_penalty"] = cfg.FrequencyPenalty
	}

	resp, err := g.http.Do(ctx, &utils.HTTPRequest{
		URL:    fmt.Sprintf("%s/chat/completions", baseURL),
		Method: "POST",
		Body:   body,
		Headers: map[string]string{
			"Authorization": fmt.Sprintf("Bearer %s", cfg.APIKey),
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
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(resp.RawBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	return &Response{
		Text:  parsed.Choices[0].Message.Content,
		Model: parsed.Model,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		},
		FinishReason: normalizeFinishReason(parsed.Choices[0].FinishReason),
	}, nil
}

// generateGeneric targets any OpenAI-compatible endpoint (self-hosted
// gateways, local runtimes). The endpoint comes from cfg.BaseURL.
func (g *Gateway) generateGeneric(ctx context.Context, messages []Message, cfg GenerationConfig) (*Response, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("generic provider requires base_url")
	}
	return g.generateOpenAI(ctx, messages, cfg)
}

// apiError extracts a backend error message without ever echoing the
// raw payload into user-visible text.
func apiError(status int, rawBody []byte) error {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Errorf("api error (status %d): %s", status, parsed.Error.Message)
	}
	return fmt.Errorf("api error (status %d)", status)
}
