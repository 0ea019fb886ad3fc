package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/r3labs/sse/v2"

	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/knowledge"
	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/scheduler"
	"github.com/convoflow/convoflow/pkg/session"
	"github.com/convoflow/convoflow/pkg/storage"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// flowSummary is the list representation of a stored flow.
type flowSummary struct {
	FlowID      string    `json:"flow_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	records, err := s.deps.Registry.List(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list flows")
		return
	}
	summaries := make([]flowSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, flowSummary{
			FlowID:      rec.FlowID,
			Name:        rec.Name,
			Description: rec.Description,
			Active:      rec.Active,
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	source, err := io.ReadAll(r.Body)
	if err != nil || len(source) == 0 {
		writeError(w, http.StatusBadRequest, "flow definition required")
		return
	}

	compiled, err := s.deps.Registry.Create(tenantID, "", source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"flow_id": compiled.ID})
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	flowID := mux.Vars(r)["id"]

	record, err := s.deps.Registry.Source(tenantID, flowID)
	if errors.Is(err, storage.ErrFlowNotFound) {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get flow")
		return
	}

	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(record.Definition)
}

func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	flowID := mux.Vars(r)["id"]

	source, err := io.ReadAll(r.Body)
	if err != nil || len(source) == 0 {
		writeError(w, http.StatusBadRequest, "flow definition required")
		return
	}

	if _, err := s.deps.Registry.Update(tenantID, flowID, source); err != nil {
		if errors.Is(err, storage.ErrFlowNotFound) {
			writeError(w, http.StatusNotFound, "flow not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"flow_id": flowID})
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	flowID := mux.Vars(r)["id"]

	if err := s.deps.Registry.Delete(tenantID, flowID); err != nil {
		if errors.Is(err, storage.ErrFlowNotFound) {
			writeError(w, http.StatusNotFound, "flow not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete flow")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendMessageRequest is the body of the turn endpoint.
type sendMessageRequest struct {
	FlowID  string `json:"flow_id"`
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// sendMessageResponse is the turn result returned to the widget.
type sendMessageResponse struct {
	SessionID string `json:"session_id"`
	*engine.AgentResponse
}

// TurnEvent is the real-time notification published after each turn.
type TurnEvent struct {
	SessionID   string    `json:"session_id"`
	FlowID      string    `json:"flow_id"`
	Reply       string    `json:"reply"`
	NextNodes   []string  `json:"next_nodes"`
	SideEffects int       `json:"side_effects"`
	Timestamp   time.Time `json:"timestamp"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	sessionID := mux.Vars(r)["id"]

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FlowID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "flow_id and message are required")
		return
	}

	ctx := r.Context()
	sess, err := s.deps.Sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		sess = session.New(sessionID, req.UserID, tenantID)
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess.TenantID != tenantID {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	sess.Append("user", req.Message)

	resp, err := s.deps.Engine.RunFlow(ctx, tenantID, req.FlowID, req.Message, sess)
	if err != nil {
		if errors.Is(err, engine.ErrFlowNotFound) {
			writeError(w, http.StatusNotFound, "flow not found")
			return
		}
		s.logger.Error("turn failed",
			logging.F("tenant_id", tenantID),
			logging.F("session_id", sessionID),
			logging.F("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}

	sess.Append("assistant", resp.Reply)
	if err := s.deps.Sessions.Save(ctx, sess); err != nil {
		s.logger.Error("failed to save session",
			logging.F("session_id", sessionID),
			logging.F("error", err.Error()))
	}

	// The reply goes out first; effects and notifications follow in the
	// background.
	go s.deps.Dispatcher.Dispatch(context.WithoutCancel(ctx), tenantID, sessionID, resp.SideEffects)
	s.publishTurn(TurnEvent{
		SessionID:   sessionID,
		FlowID:      req.FlowID,
		Reply:       resp.Reply,
		NextNodes:   resp.NextNodes,
		SideEffects: len(resp.SideEffects),
		Timestamp:   time.Now().UTC(),
	})

	writeJSON(w, http.StatusOK, sendMessageResponse{SessionID: sessionID, AgentResponse: resp})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	sessionID := mux.Vars(r)["id"]

	sess, err := s.deps.Sessions.Get(r.Context(), sessionID)
	if errors.Is(err, session.ErrNotFound) || (err == nil && sess.TenantID != tenantID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	sessionID := mux.Vars(r)["id"]

	sess, err := s.deps.Sessions.Get(r.Context(), sessionID)
	if errors.Is(err, session.ErrNotFound) || (err == nil && sess.TenantID != tenantID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if err := s.deps.Sessions.Delete(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	metas, err := s.deps.Vault.List(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list secrets")
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	key := mux.Vars(r)["key"]

	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if err := s.deps.Vault.Set(tenantID, key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store secret")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	key := mux.Vars(r)["key"]

	if err := s.deps.Vault.Delete(tenantID, key); err != nil {
		if errors.Is(err, storage.ErrSecretNotFound) {
			writeError(w, http.StatusNotFound, "secret not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete secret")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	index := mux.Vars(r)["index"]

	var doc knowledge.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc.Content == "" {
		writeError(w, http.StatusBadRequest, "document content required")
		return
	}
	docID, err := s.deps.Knowledge.Add(r.Context(), index, tenantID, doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add document")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"document_id": docID})
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	vars := mux.Vars(r)

	var doc knowledge.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc.Content == "" {
		writeError(w, http.StatusBadRequest, "document content required")
		return
	}
	err := s.deps.Knowledge.Update(r.Context(), vars["index"], tenantID, vars["docID"], doc)
	if errors.Is(err, knowledge.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update document")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"document_id": vars["docID"]})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	vars := mux.Vars(r)

	err := s.deps.Knowledge.Delete(r.Context(), vars["index"], tenantID, vars["docID"])
	if errors.Is(err, knowledge.ErrDocumentNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchKnowledge(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	index := mux.Vars(r)["index"]

	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}
	results, err := s.deps.Knowledge.Search(r.Context(), index, req.Query, tenantID, req.TopK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleKnowledgeStats(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	index := mux.Vars(r)["index"]

	stats, err := s.deps.Knowledge.Stats(r.Context(), index, tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	jobs := s.deps.Scheduler.List(tenantID)
	if jobs == nil {
		jobs = []scheduler.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)

	var req struct {
		FlowID  string `json:"flow_id"`
		Spec    string `json:"spec"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FlowID == "" || req.Spec == "" {
		writeError(w, http.StatusBadRequest, "flow_id and spec are required")
		return
	}

	job, err := s.deps.Scheduler.Add(tenantID, req.FlowID, req.Spec, req.Message)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cron spec")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	jobID := mux.Vars(r)["id"]

	for _, job := range s.deps.Scheduler.List(tenantID) {
		if job.ID == jobID {
			s.deps.Scheduler.Remove(jobID)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "schedule not found")
}

// handleEvents streams turn events over SSE. The stream id is the
// session id, passed as the "stream" query parameter; the session must
// belong to the caller's tenant.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := TenantID(r)
	sessionID := r.URL.Query().Get("stream")
	if sessionID == "" || !s.ownsSession(r.Context(), tenantID, sessionID) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.events.ServeHTTP(w, r)
}

func (s *Server) publishTurn(event TurnEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	s.events.Publish(event.SessionID, &sse.Event{Data: data})
	s.ws.Broadcast(event.SessionID, event)
}
