// Package session holds per-conversation mutable state and its stores.
// A Context is created by the caller before the first turn, passed into
// every engine call and destroyed by the caller at conversation end.
// The engine never owns a session's lifetime.
package session

import (
	"time"
)

// Message is one entry in the conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is the per-conversation state threaded through the engine.
// It is exclusively owned by the turn processing it; concurrent turns
// on the same session must be serialized by the caller.
type Context struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`

	// History is caller-owned and append-only. The engine only ever
	// reads a suffix of it.
	History []Message `json:"history"`

	// Variables is the mutable string-keyed bag nodes read and write.
	Variables map[string]interface{} `json:"variables"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a fresh session context.
func New(sessionID, userID, tenantID string) *Context {
	now := time.Now().UTC()
	return &Context{
		SessionID: sessionID,
		UserID:    userID,
		TenantID:  tenantID,
		Variables: make(map[string]interface{}),
		Metadata:  make(map[string]interface{}),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message to the conversation history.
func (c *Context) Append(role, content string) {
	c.History = append(c.History, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	c.UpdatedAt = time.Now().UTC()
}

// Tail returns the last n history messages, or the whole history when
// n <= 0 or the history is shorter.
func (c *Context) Tail(n int) []Message {
	if n <= 0 || n >= len(c.History) {
		return c.History
	}
	return c.History[len(c.History)-n:]
}
