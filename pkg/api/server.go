// Package api exposes the HTTP surface of convoflow: flow management,
// the conversation turn endpoint, secrets, knowledge documents,
// schedules and real-time turn events over SSE and WebSocket.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/r3labs/sse/v2"

	"github.com/convoflow/convoflow/pkg/auth"
	"github.com/convoflow/convoflow/pkg/config"
	"github.com/convoflow/convoflow/pkg/effects"
	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/knowledge"
	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/scheduler"
	"github.com/convoflow/convoflow/pkg/secrets"
	"github.com/convoflow/convoflow/pkg/session"
)

// Deps bundles the collaborators the server needs.
type Deps struct {
	Engine     *engine.Engine
	Registry   *registry.Registry
	Sessions   session.Store
	Vault      *secrets.Vault
	Dispatcher *effects.Dispatcher
	Scheduler  *scheduler.Scheduler
	Knowledge  *knowledge.Service
	JWT        *auth.JWTService
	Logger     logging.Logger
}

// Server is the HTTP API server.
type Server struct {
	config *config.Config
	router *mux.Router
	server *http.Server
	deps   Deps
	events *sse.Server
	ws     *WebSocketManager
	logger logging.Logger
}

// NewServer creates an API server and wires its routes.
func NewServer(cfg *config.Config, deps Deps) *Server {
	events := sse.New()
	events.AutoStream = true
	events.AutoReplay = false

	s := &Server{
		config: cfg,
		router: mux.NewRouter(),
		deps:   deps,
		events: events,
		logger: deps.Logger,
	}
	s.ws = NewWebSocketManager(s.ownsSession, deps.Logger)
	s.setupRoutes()
	return s
}

// ownsSession reports whether the session exists and belongs to the
// tenant. Both watch surfaces gate on it before exposing turn events.
func (s *Server) ownsSession(ctx context.Context, tenantID, sessionID string) bool {
	sess, err := s.deps.Sessions.Get(ctx, sessionID)
	return err == nil && sess.TenantID == tenantID
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", logging.F("addr", addr))

	var err error
	if s.config.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.events.Close()
	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.deps.JWT)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	authenticated := api.PathPrefix("").Subrouter()
	authenticated.Use(authMiddleware.Authenticate)

	// Flow routes
	flows := authenticated.PathPrefix("/flows").Subrouter()
	flows.HandleFunc("", s.handleListFlows).Methods(http.MethodGet, http.MethodOptions)
	flows.HandleFunc("", s.handleCreateFlow).Methods(http.MethodPost, http.MethodOptions)
	flows.HandleFunc("/{id}", s.handleGetFlow).Methods(http.MethodGet, http.MethodOptions)
	flows.HandleFunc("/{id}", s.handleUpdateFlow).Methods(http.MethodPut, http.MethodOptions)
	flows.HandleFunc("/{id}", s.handleDeleteFlow).Methods(http.MethodDelete, http.MethodOptions)

	// Conversation routes
	conversations := authenticated.PathPrefix("/conversations").Subrouter()
	conversations.HandleFunc("/{id}/messages", s.handleSendMessage).Methods(http.MethodPost, http.MethodOptions)
	conversations.HandleFunc("/{id}", s.handleGetConversation).Methods(http.MethodGet, http.MethodOptions)
	conversations.HandleFunc("/{id}", s.handleDeleteConversation).Methods(http.MethodDelete, http.MethodOptions)

	// Secret routes
	secretsRouter := authenticated.PathPrefix("/secrets").Subrouter()
	secretsRouter.HandleFunc("", s.handleListSecrets).Methods(http.MethodGet, http.MethodOptions)
	secretsRouter.HandleFunc("/{key}", s.handleSetSecret).Methods(http.MethodPut, http.MethodOptions)
	secretsRouter.HandleFunc("/{key}", s.handleDeleteSecret).Methods(http.MethodDelete, http.MethodOptions)

	// Knowledge routes
	kb := authenticated.PathPrefix("/knowledge/{index}").Subrouter()
	kb.HandleFunc("/documents", s.handleAddDocument).Methods(http.MethodPost, http.MethodOptions)
	kb.HandleFunc("/documents/{docID}", s.handleUpdateDocument).Methods(http.MethodPut, http.MethodOptions)
	kb.HandleFunc("/documents/{docID}", s.handleDeleteDocument).Methods(http.MethodDelete, http.MethodOptions)
	kb.HandleFunc("/search", s.handleSearchKnowledge).Methods(http.MethodPost, http.MethodOptions)
	kb.HandleFunc("/stats", s.handleKnowledgeStats).Methods(http.MethodGet, http.MethodOptions)

	// Schedule routes
	schedules := authenticated.PathPrefix("/schedules").Subrouter()
	schedules.HandleFunc("", s.handleListSchedules).Methods(http.MethodGet, http.MethodOptions)
	schedules.HandleFunc("", s.handleCreateSchedule).Methods(http.MethodPost, http.MethodOptions)
	schedules.HandleFunc("/{id}", s.handleDeleteSchedule).Methods(http.MethodDelete, http.MethodOptions)

	// Real-time turn events
	authenticated.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet, http.MethodOptions)

	s.router.Use(CORS)
}
