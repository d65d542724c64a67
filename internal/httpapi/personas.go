package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// userPersona is a user-created persona. Stored in memory; a database would
// back this in a multi-node deployment.
type userPersona struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	Name               string         `json:"name"`
	Provider           string         `json:"provider"`
	ModelName          string         `json:"model_name"`
	Role               string         `json:"role"`
	Icon               string         `json:"icon"`
	PromptPrefix       string         `json:"prompt_prefix"`
	CollaborationStyle string         `json:"collaboration_style"`
	ColorTheme         string         `json:"color_theme"`
	CustomSettings     map[string]any `json:"custom_settings"`
	IsPublic           bool           `json:"is_public"`
	IsActive           bool           `json:"is_active"`
	CreatedAt          string         `json:"created_at"`
	UpdatedAt          string         `json:"updated_at"`
}

type personaStore struct {
	mu       sync.RWMutex
	personas map[string]*userPersona
}

func newPersonaStore() *personaStore {
	return &personaStore{personas: make(map[string]*userPersona)}
}

type createPersonaRequest struct {
	Name               string         `json:"name"`
	Provider           string         `json:"provider"`
	ModelName          string         `json:"model_name"`
	Role               string         `json:"role"`
	Icon               string         `json:"icon"`
	PromptPrefix       string         `json:"prompt_prefix"`
	CollaborationStyle string         `json:"collaboration_style"`
	ColorTheme         string         `json:"color_theme"`
	CustomSettings     map[string]any `json:"custom_settings"`
	IsPublic           bool           `json:"is_public"`
}

type updatePersonaRequest struct {
	Name               *string        `json:"name"`
	Role               *string        `json:"role"`
	Icon               *string        `json:"icon"`
	PromptPrefix       *string        `json:"prompt_prefix"`
	CollaborationStyle *string        `json:"collaboration_style"`
	ColorTheme         *string        `json:"color_theme"`
	CustomSettings     map[string]any `json:"custom_settings"`
	IsPublic           *bool          `json:"is_public"`
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}
	includePublic := r.URL.Query().Get("include_public") != "false"
	includeDefaults := r.URL.Query().Get("include_defaults") != "false"

	personas := []map[string]any{}

	if includeDefaults {
		for id, p := range s.factory.Catalog() {
			personas = append(personas, map[string]any{
				"id":                  "default-" + id,
				"name":                p.Role,
				"is_default":          true,
				"is_public":           true,
				"provider":            p.Provider,
				"model_name":          p.ModelName,
				"role":                p.Role,
				"icon":                p.Icon,
				"prompt_prefix":       p.PromptPrefix,
				"collaboration_style": p.CollaborationStyle,
				"color_theme":         p.ColorTheme,
			})
		}
	}

	s.personas.mu.RLock()
	for _, p := range s.personas.personas {
		if !p.IsActive {
			continue
		}
		if p.UserID != userID && !(includePublic && p.IsPublic) {
			continue
		}
		personas = append(personas, map[string]any{
			"id":                  p.ID,
			"name":                p.Name,
			"is_default":          false,
			"is_public":           p.IsPublic,
			"provider":            p.Provider,
			"model_name":          p.ModelName,
			"role":                p.Role,
			"icon":                p.Icon,
			"prompt_prefix":       p.PromptPrefix,
			"collaboration_style": p.CollaborationStyle,
			"color_theme":         p.ColorTheme,
		})
	}
	s.personas.mu.RUnlock()

	writeJSON(w, http.StatusOK, personas)
}

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	var req createPersonaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	p := &userPersona{
		ID:                 uuid.New().String(),
		UserID:             userID,
		Name:               req.Name,
		Provider:           req.Provider,
		ModelName:          req.ModelName,
		Role:               req.Role,
		Icon:               req.Icon,
		PromptPrefix:       req.PromptPrefix,
		CollaborationStyle: req.CollaborationStyle,
		ColorTheme:         req.ColorTheme,
		CustomSettings:     req.CustomSettings,
		IsPublic:           req.IsPublic,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	s.personas.mu.Lock()
	s.personas.personas[p.ID] = p
	s.personas.mu.Unlock()

	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePersona(w http.ResponseWriter, r *http.Request) {
	personaID := r.PathValue("persona_id")
	userID := r.URL.Query().Get("user_id")

	var req updatePersonaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.personas.mu.Lock()
	defer s.personas.mu.Unlock()

	p, ok := s.personas.personas[personaID]
	if !ok {
		writeError(w, http.StatusNotFound, "Persona not found")
		return
	}
	if p.UserID != userID {
		writeError(w, http.StatusForbidden, "Not authorized to update this persona")
		return
	}

	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Role != nil {
		p.Role = *req.Role
	}
	if req.Icon != nil {
		p.Icon = *req.Icon
	}
	if req.PromptPrefix != nil {
		p.PromptPrefix = *req.PromptPrefix
	}
	if req.CollaborationStyle != nil {
		p.CollaborationStyle = *req.CollaborationStyle
	}
	if req.ColorTheme != nil {
		p.ColorTheme = *req.ColorTheme
	}
	if req.CustomSettings != nil {
		p.CustomSettings = req.CustomSettings
	}
	if req.IsPublic != nil {
		p.IsPublic = *req.IsPublic
	}
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	personaID := r.PathValue("persona_id")
	userID := r.URL.Query().Get("user_id")

	s.personas.mu.Lock()
	defer s.personas.mu.Unlock()

	p, ok := s.personas.personas[personaID]
	if !ok {
		writeError(w, http.StatusNotFound, "Persona not found")
		return
	}
	if p.UserID != userID {
		writeError(w, http.StatusForbidden, "Not authorized to delete this persona")
		return
	}

	// Soft delete keeps the record for sessions that referenced it.
	p.IsActive = false
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	writeJSON(w, http.StatusOK, map[string]string{"message": "Persona deleted successfully"})
}
