package rag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/gateway"
	"github.com/convoflow/convoflow/pkg/knowledge"
	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/session"
)

// fakeRetriever returns canned results so threshold and packing
// behavior can be pinned down exactly.
type fakeRetriever struct {
	results []knowledge.Result
	err     error
}

func (f *fakeRetriever) Search(_ context.Context, _, _, _ string, k int) ([]knowledge.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > k {
		return f.results[:k], nil
	}
	return f.results, nil
}

func (f *fakeRetriever) Add(context.Context, string, string, knowledge.Document) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeRetriever) Update(context.Context, string, string, string, knowledge.Document) error {
	return errors.New("not implemented")
}

func (f *fakeRetriever) Delete(context.Context, string, string, string) error {
	return errors.New("not implemented")
}

func (f *fakeRetriever) Stats(context.Context, string, string) (knowledge.Stats, error) {
	return knowledge.Stats{}, errors.New("not implemented")
}

type capturedRequest struct {
	Messages []gateway.Message `json:"messages"`
}

func newPipeline(t *testing.T, retriever knowledge.Retriever, captured *capturedRequest) (*Pipeline, func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			json.NewDecoder(r.Body).Decode(captured)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "grounded answer"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 4},
		})
	}))

	logger := logging.NewNopLogger()
	gw := gateway.New(logger, gateway.WithOpenAIBaseURL(server.URL))
	svc := knowledge.NewService(retriever, logger)
	return NewPipeline(svc, gw, logger), server.Close
}

func genConfig() gateway.GenerationConfig {
	return gateway.GenerationConfig{Provider: gateway.ProviderOpenAI, Model: "gpt-4o-mini"}
}

func TestAnswerRequiresThresholdAndBudget(t *testing.T) {
	p, cleanup := newPipeline(t, &fakeRetriever{}, nil)
	defer cleanup()

	_, err := p.Answer(context.Background(), "q", "acme", Config{
		MaxContextLength: 1000,
		Generation:       genConfig(),
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = p.Answer(context.Background(), "q", "acme", Config{
		SimilarityThreshold: 0.5,
		Generation:          genConfig(),
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAnswerFiltersBelowThreshold(t *testing.T) {
	retriever := &fakeRetriever{results: []knowledge.Result{
		{DocumentID: "a", Content: "passage a", Score: 0.9},
		{DocumentID: "b", Content: "passage b", Score: 0.7},
		{DocumentID: "c", Content: "passage c", Score: 0.3},
	}}
	var captured capturedRequest
	p, cleanup := newPipeline(t, retriever, &captured)
	defer cleanup()

	answer, err := p.Answer(context.Background(), "q", "acme", Config{
		SimilarityThreshold: 0.7,
		MaxContextLength:    1000,
		Generation:          genConfig(),
	}, nil)
	require.NoError(t, err)

	require.Len(t, answer.Sources, 2)
	assert.Equal(t, "a", answer.Sources[0].DocumentID)
	assert.Equal(t, "b", answer.Sources[1].DocumentID)

	// Both survivors end up in the grounding context.
	require.NotEmpty(t, captured.Messages)
	system := captured.Messages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "passage a")
	assert.Contains(t, system.Content, "passage b")
	assert.NotContains(t, system.Content, "passage c")
}

func TestAnswerSkipsOversizedPassageWhole(t *testing.T) {
	big := make([]byte, 200)
	for i := range big {
		big[i] = 'x'
	}
	retriever := &fakeRetriever{results: []knowledge.Result{
		{DocumentID: "small1", Content: "first passage", Score: 0.9},
		{DocumentID: "huge", Content: string(big), Score: 0.85},
		{DocumentID: "small2", Content: "second passage", Score: 0.8},
	}}
	var captured capturedRequest
	p, cleanup := newPipeline(t, retriever, &captured)
	defer cleanup()

	answer, err := p.Answer(context.Background(), "q", "acme", Config{
		SimilarityThreshold: 0.5,
		MaxContextLength:    60,
		Generation:          genConfig(),
	}, nil)
	require.NoError(t, err)

	// Sources keep every survivor, including the one that did not fit.
	assert.Len(t, answer.Sources, 3)

	system := captured.Messages[0].Content
	assert.Contains(t, system, "first passage")
	assert.Contains(t, system, "second passage")
	assert.NotContains(t, system, string(big))
}

func TestAnswerUngroundedWhenNothingSurvives(t *testing.T) {
	retriever := &fakeRetriever{results: []knowledge.Result{
		{DocumentID: "a", Content: "weak passage", Score: 0.1},
	}}
	var captured capturedRequest
	p, cleanup := newPipeline(t, retriever, &captured)
	defer cleanup()

	answer, err := p.Answer(context.Background(), "q", "acme", Config{
		SimilarityThreshold: 0.8,
		MaxContextLength:    1000,
		SystemPrompt:        "Custom prompt.",
		Generation:          genConfig(),
	}, nil)
	require.NoError(t, err)

	assert.Empty(t, answer.Sources)
	assert.Equal(t, "grounded answer", answer.Text)

	// No reference material is injected; the system prompt stays as
	// configured.
	assert.Equal(t, "Custom prompt.", captured.Messages[0].Content)
}

func TestAnswerPropagatesRetrievalFailure(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("store down")}
	p, cleanup := newPipeline(t, retriever, nil)
	defer cleanup()

	_, err := p.Answer(context.Background(), "q", "acme", Config{
		SimilarityThreshold: 0.5,
		MaxContextLength:    1000,
		Generation:          genConfig(),
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval failed")
}

func TestAnswerBoundsHistoryWindow(t *testing.T) {
	retriever := &fakeRetriever{}
	var captured capturedRequest
	p, cleanup := newPipeline(t, retriever, &captured)
	defer cleanup()

	history := []session.Message{
		{Role: "user", Content: "turn one"},
		{Role: "assistant", Content: "reply one"},
		{Role: "user", Content: "turn two"},
		{Role: "assistant", Content: "reply two"},
	}
	_, err := p.Answer(context.Background(), "current question", "acme", Config{
		SimilarityThreshold: 0.5,
		MaxContextLength:    1000,
		HistoryWindow:       2,
		Generation:          genConfig(),
	}, history)
	require.NoError(t, err)

	// system + 2 history messages + current user query
	require.Len(t, captured.Messages, 4)
	assert.Equal(t, "turn two", captured.Messages[1].Content)
	assert.Equal(t, "reply two", captured.Messages[2].Content)
	assert.Equal(t, "current question", captured.Messages[3].Content)
}
