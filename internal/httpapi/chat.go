package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/models"
)

// heartbeatInterval paces SSE keepalive comments so proxies don't drop the
// connection between chunks.
const heartbeatInterval = 15 * time.Second

// handleStream is the collaborative SSE endpoint: one GET streams every
// panelist's response interleaved, chunk by chunk.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	message := r.URL.Query().Get("message")

	if _, err := s.manager.GetSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if message == "" {
		writeError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sse := func(event string, data any) {
		b, err := json.Marshal(data)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	sse("connected", map[string]string{
		"session_id": sessionID,
		"message":    "Connected to collaborative stream",
	})

	chunks, err := s.manager.StreamResponses(r.Context(), sessionID, message)
	if err != nil {
		sse("error", map[string]string{"error": err.Error(), "session_id": sessionID})
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", zap.String("session_id", sessionID))
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case chunk, ok := <-chunks:
			if !ok {
				stats, _ := s.manager.SessionStats(sessionID)
				sse("all_complete", map[string]any{
					"session_id": sessionID,
					"stats":      stats,
				})
				return
			}

			data := map[string]any{
				"model":    chunk.ModelSource,
				"content":  chunk.Content,
				"type":     string(chunk.Type),
				"complete": chunk.IsComplete,
			}
			if chunk.AnchorMessageID != "" {
				data["synapse"] = map[string]any{
					"detected":    true,
					"building_on": chunk.AnchorMessageID,
				}
			}
			if len(chunk.Metadata) > 0 {
				data["metadata"] = chunk.Metadata
			}
			sse("response", data)

			if chunk.IsComplete {
				sse("model_complete", map[string]any{
					"model":     chunk.ModelSource,
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
			}
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if _, err := s.manager.GetSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	orch, ok := s.manager.Orchestrator(sessionID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"error": "No active orchestrator"})
		return
	}
	stats, _ := s.manager.SessionStats(sessionID)

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sessionID,
		"active_models": orch.ActiveModels(),
		"model_states":  orch.ProviderStates(),
		"stats":         stats,
	})
}

func (s *Server) handleSynapseEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if _, err := s.manager.GetSession(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	mem, ok := s.manager.Memory(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"synapses": lo.Map(mem.Synapses(), func(c models.SynapseConnection, _ int) map[string]any {
			return map[string]any{
				"id":           c.ID,
				"from_message": c.FromMessageID,
				"to_message":   c.ToMessageID,
				"type":         string(c.Kind),
				"strength":     c.Strength,
			}
		}),
		"events": lo.Map(mem.Events(), func(e models.CollaborationEvent, _ int) map[string]any {
			return map[string]any{
				"id":          e.ID,
				"type":        e.Type,
				"models":      e.InvolvedModels,
				"description": e.Description,
				"timestamp":   e.Timestamp.Format(time.RFC3339),
			}
		}),
	})
}
