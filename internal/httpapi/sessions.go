package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/models"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := s.manager.CreateSession(r.Context(), req)
	if err != nil {
		s.logger.Error("Error creating session", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"panelists": lo.Map(sess.Panelists, func(p models.Panelist, _ int) map[string]any {
			return map[string]any{
				"id":    p.ID,
				"role":  p.Persona.Role,
				"icon":  p.Persona.Icon,
				"model": p.Persona.ModelName,
			}
		}),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") != "false"
	sessions := s.manager.ListSessions(activeOnly)

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": lo.Map(sessions, func(sess *models.Session, _ int) map[string]any {
			stats, _ := s.manager.SessionStats(sess.ID)
			return map[string]any{
				"id":            sess.ID,
				"mission":       sess.Mission,
				"created_at":    sess.CreatedAt.Format(time.RFC3339),
				"updated_at":    sess.UpdatedAt.Format(time.RFC3339),
				"is_active":     sess.IsActive,
				"message_count": stats.TotalMessages,
				"synapse_count": stats.TotalSynapses,
			}
		}),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	sess, err := s.manager.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var messages []map[string]any
	if mem, ok := s.manager.Memory(sessionID); ok {
		all := mem.Messages()
		if len(all) > 50 {
			all = all[len(all)-50:]
		}
		messages = lo.Map(all, func(m models.Message, _ int) map[string]any {
			return map[string]any{
				"id":        m.ID,
				"content":   m.Content,
				"type":      string(m.Type),
				"model":     m.ModelSource,
				"timestamp": m.Timestamp.Format(time.RFC3339),
				"synapses":  m.SynapseRefs,
			}
		})
	}
	stats, _ := s.manager.SessionStats(sessionID)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         sess.ID,
		"mission":    sess.Mission,
		"created_at": sess.CreatedAt.Format(time.RFC3339),
		"updated_at": sess.UpdatedAt.Format(time.RFC3339),
		"is_active":  sess.IsActive,
		"panelists": lo.Map(sess.Panelists, func(p models.Panelist, _ int) map[string]any {
			return map[string]any{
				"id":    p.ID,
				"role":  p.Persona.Role,
				"icon":  p.Persona.Icon,
				"model": p.Persona.ModelName,
				"state": string(p.State),
			}
		}),
		"messages": messages,
		"stats":    stats,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if _, err := s.manager.GetSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err := s.manager.EndSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Session ended successfully",
		"session_id": sessionID,
	})
}
