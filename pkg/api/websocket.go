package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/convoflow/convoflow/pkg/logging"
)

// SessionAuthorizer reports whether a tenant may watch a session.
type SessionAuthorizer func(ctx context.Context, tenantID, sessionID string) bool

// WebSocketManager fans turn events out to connected watchers. A
// watcher subscribes to session ids and receives a TurnEvent whenever
// a turn completes in one of them. Subscriptions are tenant checked;
// a watcher only sees sessions of its own tenant.
type WebSocketManager struct {
	upgrader  websocket.Upgrader
	authorize SessionAuthorizer

	// connections maps session ids to sets of subscribed connections
	connections map[string]map[*websocket.Conn]bool

	// connectionMeta stores metadata for each connection
	connectionMeta map[*websocket.Conn]*connectionMetadata

	mu     sync.RWMutex
	logger logging.Logger
}

type connectionMetadata struct {
	tenantID      string
	connectedAt   time.Time
	subscriptions map[string]bool
	writeMu       sync.Mutex
}

// watchMessage is the incoming client protocol.
type watchMessage struct {
	Type      string `json:"type"` // "subscribe", "unsubscribe", "ping"
	SessionID string `json:"session_id,omitempty"`
}

// NewWebSocketManager creates a WebSocket manager.
func NewWebSocketManager(authorize SessionAuthorizer, logger logging.Logger) *WebSocketManager {
	return &WebSocketManager{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		authorize:      authorize,
		connections:    make(map[string]map[*websocket.Conn]bool),
		connectionMeta: make(map[*websocket.Conn]*connectionMetadata),
		logger:         logger,
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	s.ws.Handle(w, r, tenantID)
}

// Handle upgrades the connection and serves the subscription loop
// until the client disconnects.
func (m *WebSocketManager) Handle(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", logging.F("error", err.Error()))
		return
	}
	defer conn.Close()

	meta := &connectionMetadata{
		tenantID:      tenantID,
		connectedAt:   time.Now(),
		subscriptions: make(map[string]bool),
	}
	m.mu.Lock()
	m.connectionMeta[conn] = meta
	m.mu.Unlock()

	defer m.drop(conn)

	for {
		var msg watchMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.SessionID == "" {
				continue
			}
			if !m.subscribe(r.Context(), conn, msg.SessionID) {
				m.send(conn, map[string]string{"type": "error", "error": "session not found"})
			}
		case "unsubscribe":
			if msg.SessionID != "" {
				m.unsubscribe(conn, msg.SessionID)
			}
		case "ping":
			m.send(conn, map[string]string{"type": "pong"})
		}
	}
}

// subscribe registers the connection as a watcher of the session.
// It reports false when the session does not belong to the
// connection's tenant.
func (m *WebSocketManager) subscribe(ctx context.Context, conn *websocket.Conn, sessionID string) bool {
	m.mu.RLock()
	meta := m.connectionMeta[conn]
	m.mu.RUnlock()
	if meta == nil {
		return false
	}
	if m.authorize != nil && !m.authorize(ctx, meta.tenantID, sessionID) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connections[sessionID] == nil {
		m.connections[sessionID] = make(map[*websocket.Conn]bool)
	}
	m.connections[sessionID][conn] = true
	meta.subscriptions[sessionID] = true
	return true
}

func (m *WebSocketManager) unsubscribe(conn *websocket.Conn, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections[sessionID], conn)
	if len(m.connections[sessionID]) == 0 {
		delete(m.connections, sessionID)
	}
	if meta, ok := m.connectionMeta[conn]; ok {
		delete(meta.subscriptions, sessionID)
	}
}

func (m *WebSocketManager) drop(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta, ok := m.connectionMeta[conn]; ok {
		for sessionID := range meta.subscriptions {
			delete(m.connections[sessionID], conn)
			if len(m.connections[sessionID]) == 0 {
				delete(m.connections, sessionID)
			}
		}
	}
	delete(m.connectionMeta, conn)
}

// Broadcast sends a turn event to every watcher of the session.
func (m *WebSocketManager) Broadcast(sessionID string, event TurnEvent) {
	m.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.connections[sessionID]))
	for conn := range m.connections[sessionID] {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		m.send(conn, event)
	}
}

func (m *WebSocketManager) send(conn *websocket.Conn, payload interface{}) {
	m.mu.RLock()
	meta := m.connectionMeta[conn]
	m.mu.RUnlock()
	if meta == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	meta.writeMu.Lock()
	defer meta.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Debug("websocket write failed", logging.F("error", err.Error()))
	}
}
