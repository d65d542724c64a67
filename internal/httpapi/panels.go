package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"
)

type panelPreset struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Models         []string `json:"models"`
	Icon           string   `json:"icon"`
	AvailableCount int      `json:"available_count,omitempty"`
}

var panelPresets = []panelPreset{
	{
		ID:          "balanced",
		Name:        "Balanced Panel",
		Description: "A well-rounded team with strategic, creative, and analytical perspectives",
		Models:      []string{"gpt-4o", "claude-3.5", "gemini-1.5"},
		Icon:        "⚖️",
	},
	{
		ID:          "creative",
		Name:        "Creative Think Tank",
		Description: "Maximum innovation with creative and exploratory models",
		Models:      []string{"claude-3.5", "claude-3", "gemini-2.0"},
		Icon:        "🎨",
	},
	{
		ID:          "analytical",
		Name:        "Data-Driven Team",
		Description: "Deep analysis with strategic and evidence-based approaches",
		Models:      []string{"gpt-4o", "gpt-4", "gemini-1.5"},
		Icon:        "📊",
	},
	{
		ID:          "full",
		Name:        "Full Expert Panel",
		Description: "All available models for maximum perspective diversity",
		Models:      []string{"gpt-4o", "claude-3.5", "gemini-1.5", "gpt-4", "claude-3", "gemini-2.0"},
		Icon:        "🌟",
	},
}

func (s *Server) handleAvailableModels(w http.ResponseWriter, _ *http.Request) {
	available := s.manager.AvailableModels()

	out := make([]map[string]any, 0, len(available))
	for id, p := range available {
		out = append(out, map[string]any{
			"id":                  id,
			"provider":            p.Provider,
			"model_name":          p.ModelName,
			"role":                p.Role,
			"icon":                p.Icon,
			"description":         p.PromptPrefix,
			"collaboration_style": p.CollaborationStyle,
			"color_theme":         p.ColorTheme,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

// handlePresets returns the predefined panel configurations, filtered down
// to models whose credentials are configured. Presets shrinking below two
// usable models are dropped.
func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	available := s.manager.AvailableModels()

	var out []panelPreset
	for _, preset := range panelPresets {
		usable := lo.Filter(preset.Models, func(id string, _ int) bool {
			_, ok := available[id]
			return ok
		})
		if len(usable) < 2 {
			continue
		}
		preset.Models = usable
		preset.AvailableCount = len(usable)
		out = append(out, preset)
	}
	if out == nil {
		out = []panelPreset{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"presets": out})
}

func (s *Server) handleValidatePanel(w http.ResponseWriter, r *http.Request) {
	var modelIDs []string
	if err := json.NewDecoder(r.Body).Decode(&modelIDs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(modelIDs) < 2 {
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":  false,
			"reason": "At least 2 models required for collaboration",
		})
		return
	}
	if len(modelIDs) > 6 {
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":  false,
			"reason": "Maximum 6 models recommended for optimal performance",
		})
		return
	}

	available := s.manager.AvailableModels()
	invalid := lo.Filter(modelIDs, func(id string, _ int) bool {
		_, ok := available[id]
		return !ok
	})
	if len(invalid) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":  false,
			"reason": fmt.Sprintf("Invalid or unavailable models: %s", strings.Join(invalid, ", ")),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"message": "Panel configuration is valid",
	})
}
