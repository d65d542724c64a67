// Package httpapi exposes the HTTP and SSE surface: session lifecycle, the
// collaborative chat stream, panel configuration, and persona management.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/health"
	"github.com/groupchatllm/orchestrator/internal/providers"
	"github.com/groupchatllm/orchestrator/internal/session"
)

// Server wires the API handlers to the session manager.
type Server struct {
	manager  *session.Manager
	factory  *providers.Factory
	health   *health.Checker
	personas *personaStore
	logger   *zap.Logger
}

func NewServer(manager *session.Manager, factory *providers.Factory, checker *health.Checker, logger *zap.Logger) *Server {
	return &Server{
		manager:  manager,
		factory:  factory,
		health:   checker,
		personas: newPersonaStore(),
		logger:   logger,
	}
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/sessions/create", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{$}", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{session_id}", s.handleGetSession)
	mux.HandleFunc("PUT /api/sessions/{session_id}/end", s.handleEndSession)

	// Legacy alias kept for older frontends.
	mux.HandleFunc("POST /api/chat/sessions/create", s.handleCreateSession)
	mux.HandleFunc("GET /api/chat/{session_id}/stream", s.handleStream)
	mux.HandleFunc("GET /api/chat/{session_id}/status", s.handleStatus)
	mux.HandleFunc("GET /api/chat/{session_id}/synapse-events", s.handleSynapseEvents)

	mux.HandleFunc("GET /api/panels/available-models", s.handleAvailableModels)
	mux.HandleFunc("GET /api/panels/presets", s.handlePresets)
	mux.HandleFunc("POST /api/panels/validate", s.handleValidatePanel)

	mux.HandleFunc("GET /api/personas", s.handleListPersonas)
	mux.HandleFunc("POST /api/personas", s.handleCreatePersona)
	mux.HandleFunc("PUT /api/personas/{persona_id}", s.handleUpdatePersona)
	mux.HandleFunc("DELETE /api/personas/{persona_id}", s.handleDeletePersona)

	return s.withCORS(mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "GroupChatLLM",
		"version": "3.0.0",
		"status":  "operational",
		"message": "Collaborative AI Intelligence Orchestration Platform",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Report(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
