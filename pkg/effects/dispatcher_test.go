package effects

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/config"
	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/logging"
)

func TestDispatchCreateTicket(t *testing.T) {
	var captured map[string]interface{}
	var gotAuth string
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusCreated)
	}))
	defer webhook.Close()

	d := NewDispatcher(config.EffectsConfig{
		Ticket: config.TicketConfig{WebhookURL: webhook.URL, APIKey: "hook-key"},
	}, logging.NewNopLogger())

	d.Dispatch(context.Background(), "acme", "sess-1", []engine.SideEffect{
		{Type: engine.EffectCreateTicket, Data: map[string]interface{}{
			"queue":    "billing",
			"subject":  "Refund request",
			"body":     "Customer wants a refund",
			"priority": "high",
		}},
	})

	require.NotNil(t, captured)
	assert.Equal(t, "acme", captured["tenant_id"])
	assert.Equal(t, "sess-1", captured["session_id"])
	assert.Equal(t, "billing", captured["queue"])
	assert.Equal(t, "Refund request", captured["subject"])
	assert.Equal(t, "Bearer hook-key", gotAuth)
}

func TestDispatchTicketWithoutWebhookIsDropped(t *testing.T) {
	d := NewDispatcher(config.EffectsConfig{}, logging.NewNopLogger())

	// Must not panic or block.
	d.Dispatch(context.Background(), "acme", "sess-1", []engine.SideEffect{
		{Type: engine.EffectCreateTicket, Data: map[string]interface{}{"subject": "x"}},
	})
}

func TestDispatchEmailWithoutSMTPIsDropped(t *testing.T) {
	d := NewDispatcher(config.EffectsConfig{}, logging.NewNopLogger())

	d.Dispatch(context.Background(), "acme", "sess-1", []engine.SideEffect{
		{Type: engine.EffectSendEmail, Data: map[string]interface{}{
			"to":      "a@example.com",
			"subject": "hello",
			"body":    "body",
		}},
	})
}

func TestDispatchIgnoresUnknownTypes(t *testing.T) {
	d := NewDispatcher(config.EffectsConfig{}, logging.NewNopLogger())

	d.Dispatch(context.Background(), "acme", "sess-1", []engine.SideEffect{
		{Type: "someday_maybe"},
		{Type: engine.EffectVariableSet, Data: map[string]interface{}{"variable": "x"}},
		{Type: engine.EffectError, Data: map[string]interface{}{"reason": "max_steps_exceeded"}},
	})
}

// recordingLogger captures log calls so tests can assert on fields.
type recordingLogger struct {
	entries []recordedEntry
}

type recordedEntry struct {
	msg    string
	fields map[string]interface{}
}

func (l *recordingLogger) log(msg string, fields []logging.Field) {
	entry := recordedEntry{msg: msg, fields: make(map[string]interface{}, len(fields))}
	for _, f := range fields {
		entry.fields[f.Key] = f.Value
	}
	l.entries = append(l.entries, entry)
}

func (l *recordingLogger) Debug(msg string, fields ...logging.Field) { l.log(msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...logging.Field)  { l.log(msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...logging.Field)  { l.log(msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...logging.Field) { l.log(msg, fields) }

func (l *recordingLogger) WithFields(fields ...logging.Field) logging.Logger { return l }

func (l *recordingLogger) LogTurn(flowID, sessionID, event string, data map[string]interface{}) {}
func (l *recordingLogger) LogNode(flowID, sessionID, nodeID, event string, data map[string]interface{}) {
}

func (l *recordingLogger) find(msg string) (recordedEntry, bool) {
	for _, e := range l.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return recordedEntry{}, false
}

func TestDispatchLogsExternalCallNode(t *testing.T) {
	logger := &recordingLogger{}
	d := NewDispatcher(config.EffectsConfig{}, logger)

	d.Dispatch(context.Background(), "acme", "sess-1", []engine.SideEffect{
		{Type: engine.EffectAPICallCompleted, Data: map[string]interface{}{
			"node_id":     "lookup-order",
			"status_code": 200,
		}},
	})

	entry, ok := logger.find("external call completed")
	require.True(t, ok)
	assert.Equal(t, "lookup-order", entry.fields["node_id"])
}

func TestSplitAddresses(t *testing.T) {
	assert.Equal(t, []string{"a@example.com", "b@example.com"},
		splitAddresses("a@example.com, b@example.com"))
	assert.Empty(t, splitAddresses("  ,  "))
}
