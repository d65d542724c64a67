package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when writing to a session with active=false
	ErrSessionClosed = errors.New("session is closed")

	// ErrInvalidRequest is returned for malformed session or panel requests
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStreamInFlight is returned when a second orchestration is requested
	// while one is still running for the same session
	ErrStreamInFlight = errors.New("stream already in flight for session")
)

// MessageType categorizes a message within a collaborative session.
type MessageType string

const (
	MessageMission   MessageType = "mission"
	MessageResponse  MessageType = "response"
	MessageGuidance  MessageType = "guidance"
	MessageSynthesis MessageType = "synthesis"
	MessageAnalysis  MessageType = "analysis"
	MessageCreative  MessageType = "creative"
	MessageSystem    MessageType = "system"
)

// PanelistState is an observable projection of a participant's adapter.
// It is not a coordination lock.
type PanelistState string

const (
	StateStandby      PanelistState = "standby"
	StateThinking     PanelistState = "thinking"
	StateResponding   PanelistState = "responding"
	StateBuilding     PanelistState = "building"
	StateSynthesizing PanelistState = "synthesizing"
	StateComplete     PanelistState = "complete"
	StateError        PanelistState = "error"
)

// SynapseKind classifies the relationship between two messages.
type SynapseKind string

const (
	SynapseReinforcement SynapseKind = "reinforcement"
	SynapseBuilding      SynapseKind = "building"
	SynapseSynthesis     SynapseKind = "synthesis"
	SynapseContrast      SynapseKind = "contrast"
	SynapseClarification SynapseKind = "clarification"
)

// SynapseKinds lists all kinds in tie-break preference order.
var SynapseKinds = []SynapseKind{
	SynapseBuilding,
	SynapseSynthesis,
	SynapseReinforcement,
	SynapseClarification,
}

// Persona configures how a participant presents itself and prompts its model.
type Persona struct {
	Provider           string `json:"provider" yaml:"provider"`
	ModelName          string `json:"model_name" yaml:"model_name"`
	Role               string `json:"role" yaml:"role"`
	Icon               string `json:"icon" yaml:"icon"`
	PromptPrefix       string `json:"prompt_prefix" yaml:"prompt_prefix"`
	CollaborationStyle string `json:"collaboration_style" yaml:"collaboration_style"`
	ColorTheme         string `json:"color_theme" yaml:"color_theme"`
}

// Panelist is one configured participant in a session.
type Panelist struct {
	ID       string        `json:"id"`
	Persona  Persona       `json:"personality"`
	IsActive bool          `json:"is_active"`
	State    PanelistState `json:"state"`
}

// NewPanelist creates an active panelist in standby with a fresh ID.
func NewPanelist(persona Persona) Panelist {
	return Panelist{
		ID:       uuid.New().String(),
		Persona:  persona,
		IsActive: true,
		State:    StateStandby,
	}
}

// Message is one entry in the append-only conversation log.
// ModelSource is empty for user messages and "system" for injected notices.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Content     string         `json:"content"`
	Type        MessageType    `json:"message_type"`
	ModelSource string         `json:"model_source,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	SynapseRefs []string       `json:"synapse_connections,omitempty"`
}

// NewMessage constructs a message with a fresh ID and the current timestamp.
func NewMessage(sessionID, content string, typ MessageType, modelSource string) Message {
	return Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Content:     content,
		Type:        typ,
		ModelSource: modelSource,
		Timestamp:   time.Now().UTC(),
		Metadata:    map[string]any{},
	}
}

// IsParticipant reports whether the message was authored by a panelist
// (as opposed to the user or the system).
func (m Message) IsParticipant() bool {
	return m.ModelSource != "" && m.ModelSource != "system"
}

// SynapseConnection is a typed, directed relation between two messages.
// FromMessageID is the earlier (anchor) message; ToMessageID is the message
// that builds on it. Authors of the two endpoints always differ.
type SynapseConnection struct {
	ID            string      `json:"id"`
	FromMessageID string      `json:"from_message_id"`
	ToMessageID   string      `json:"to_message_id"`
	Kind          SynapseKind `json:"synapse_type"`
	Strength      float64     `json:"strength"`
	Timestamp     time.Time   `json:"timestamp"`
}

// CollaborationEvent records a notable cross-participant occurrence.
type CollaborationEvent struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	Type           string         `json:"event_type"`
	InvolvedModels []string       `json:"involved_models"`
	Description    string         `json:"description"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Session is the durable shell of a collaborative session. The message log
// itself lives in the group memory; Session carries configuration and
// lifecycle state. A session is pinned to the node that created it.
type Session struct {
	ID        string         `json:"id"`
	Mission   string         `json:"mission"`
	Panelists []Panelist     `json:"panelist_configs"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	IsActive  bool           `json:"is_active"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ContextTurn is one role-tagged turn in a context view handed to an adapter.
type ContextTurn struct {
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chat roles used in context views.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StreamChunk is one outbound unit of the merged session stream.
// AnchorMessageID carries the advisory real-time synapse hint; the
// authoritative synapse is computed when the message finalizes.
type StreamChunk struct {
	SessionID       string         `json:"session_id"`
	ModelSource     string         `json:"model_source"`
	Content         string         `json:"content"`
	Type            MessageType    `json:"message_type"`
	IsComplete      bool           `json:"is_complete"`
	AnchorMessageID string         `json:"synapse_detected,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// PanelistSpec is the tagged request variant for one panelist: either a
// reference to a configured persona or an inline custom one.
type PanelistSpec struct {
	ModelID       string   `json:"model_id,omitempty"`
	PersonaID     string   `json:"persona_id,omitempty"`
	CustomPersona *Persona `json:"custom_persona,omitempty"`
}

// CreateSessionRequest creates a new collaborative session. Either
// SelectedModels (legacy shape) or Panelists must carry at least one entry.
type CreateSessionRequest struct {
	Mission        string         `json:"mission"`
	SelectedModels []string       `json:"selected_models,omitempty"`
	Panelists      []PanelistSpec `json:"panelists,omitempty"`
}

// Validate checks structural validity of the request.
func (r CreateSessionRequest) Validate() error {
	if r.Mission == "" {
		return errors.New("mission is required")
	}
	if len(r.SelectedModels) == 0 && len(r.Panelists) == 0 {
		return errors.New("either selected_models or panelists must be provided")
	}
	return nil
}
