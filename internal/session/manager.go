// Package session coordinates the lifecycle of collaborative sessions:
// creation with persona resolution, streaming, rehydration from the store,
// statistics, and teardown.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/memory"
	"github.com/groupchatllm/orchestrator/internal/metrics"
	"github.com/groupchatllm/orchestrator/internal/models"
	"github.com/groupchatllm/orchestrator/internal/orchestrator"
	"github.com/groupchatllm/orchestrator/internal/providers"
	"github.com/groupchatllm/orchestrator/internal/store"
	"github.com/groupchatllm/orchestrator/internal/summarizer"
	"github.com/groupchatllm/orchestrator/internal/synapse"
)

// Config tunes per-session streaming.
type Config struct {
	IdleTimeout time.Duration
	Buffer      int
}

// Manager owns all live sessions on this node. A session is pinned to the
// node that created it; rehydration from the store rebuilds memory and
// providers after a restart.
type Manager struct {
	factory    *providers.Factory
	store      *store.Store
	detector   *synapse.Detector
	summarizer *summarizer.Summarizer
	cfg        Config
	logger     *zap.Logger

	mu            sync.Mutex
	sessions      map[string]*models.Session
	memories      map[string]*memory.GroupMemory
	orchestrators map[string]*orchestrator.Orchestrator
}

func NewManager(factory *providers.Factory, st *store.Store, det *synapse.Detector, sum *summarizer.Summarizer, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		factory:       factory,
		store:         st,
		detector:      det,
		summarizer:    sum,
		cfg:           cfg,
		logger:        logger,
		sessions:      make(map[string]*models.Session),
		memories:      make(map[string]*memory.GroupMemory),
		orchestrators: make(map[string]*orchestrator.Orchestrator),
	}
}

// resolved pairs a panelist with the catalog identifier (or custom persona)
// its provider is created from.
type resolved struct {
	panelist models.Panelist
	modelID  string
	custom   *models.Persona
}

// CreateSession validates the request, resolves every panelist's persona,
// creates providers, and wires memory and orchestrator. A single
// unresolvable panelist fails the whole creation.
func (m *Manager) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	specs, err := m.resolvePanelists(req)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	now := time.Now().UTC()
	sess := &models.Session{
		ID:        sessionID,
		Mission:   req.Mission,
		CreatedAt: now,
		UpdatedAt: now,
		IsActive:  true,
		Metadata:  map[string]any{},
	}

	mem := memory.New(sessionID, m.detector, m.summarizer, m.logger)
	orch := orchestrator.New(mem, m.cfg.IdleTimeout, m.cfg.Buffer, m.logger)

	for _, r := range specs {
		provider, err := m.factory.Create(ctx, r.modelID, r.custom)
		if err != nil {
			return nil, fmt.Errorf("create provider for %q: %w", r.modelID, err)
		}
		orch.AddProvider(r.modelID, provider)
		sess.Panelists = append(sess.Panelists, r.panelist)
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.memories[sessionID] = mem
	m.orchestrators[sessionID] = orch
	m.mu.Unlock()

	m.store.SaveSession(ctx, sess)
	m.store.AddActiveSession(ctx, sessionID)
	if snap, err := mem.Snapshot(); err == nil {
		m.store.SaveMemory(ctx, sessionID, snap)
	}

	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Inc()
	m.logger.Info("Created session",
		zap.String("session_id", sessionID),
		zap.Int("panelists", len(sess.Panelists)))
	return sess, nil
}

func (m *Manager) resolvePanelists(req models.CreateSessionRequest) ([]resolved, error) {
	var out []resolved

	if len(req.Panelists) == 0 {
		for _, modelID := range req.SelectedModels {
			persona, ok := m.factory.Persona(modelID)
			if !ok {
				return nil, fmt.Errorf("%w: unknown model %q", models.ErrInvalidRequest, modelID)
			}
			out = append(out, resolved{panelist: models.NewPanelist(persona), modelID: modelID})
		}
		return out, nil
	}

	for i, spec := range req.Panelists {
		switch {
		case spec.CustomPersona != nil:
			modelID := spec.ModelID
			if modelID == "" {
				modelID = spec.CustomPersona.ModelName
			}
			out = append(out, resolved{
				panelist: models.NewPanelist(*spec.CustomPersona),
				modelID:  modelID,
				custom:   spec.CustomPersona,
			})
		case spec.PersonaID != "" || spec.ModelID != "":
			id := spec.PersonaID
			if id == "" {
				id = spec.ModelID
			}
			persona, ok := m.factory.Persona(id)
			if !ok {
				return nil, fmt.Errorf("%w: unknown persona %q", models.ErrInvalidRequest, id)
			}
			out = append(out, resolved{panelist: models.NewPanelist(persona), modelID: id})
		default:
			return nil, fmt.Errorf("%w: panelist %d names no persona", models.ErrInvalidRequest, i)
		}
	}
	return out, nil
}

// StreamResponses fans the user turn out to the session's panel. The first
// user turn is the mission; later turns are guidance.
func (m *Manager) StreamResponses(ctx context.Context, sessionID, userInput string) (<-chan models.StreamChunk, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	orch := m.orchestrators[sessionID]
	mem := m.memories[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	if !sess.IsActive {
		return nil, models.ErrSessionClosed
	}

	msgType := models.MessageMission
	if len(mem.Messages()) > 0 {
		msgType = models.MessageGuidance
	}

	upstream, err := orch.Stream(ctx, userInput, msgType)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamChunk, m.cfg.Buffer)
	go func() {
		defer close(out)
		for chunk := range upstream {
			out <- chunk
		}
		m.finishStream(sessionID)
	}()
	return out, nil
}

// finishStream refreshes timestamps and persists state after a full
// orchestration round. Uses a background context: the request context is
// typically cancelled by then.
func (m *Manager) finishStream(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	mem := m.memories[sessionID]
	orch := m.orchestrators[sessionID]
	if ok {
		sess.UpdatedAt = time.Now().UTC()
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.store.SaveSession(ctx, sess)
	if snap, err := mem.Snapshot(); err == nil {
		m.store.SaveMemory(ctx, sessionID, snap)
	}
	m.store.SaveOrchestratorState(ctx, sessionID, orch.ProviderStates())
}

// GetSession returns a session, consulting the store when this node has no
// live copy and rebuilding memory and providers from the snapshot.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	sess, ok := m.store.LoadSession(ctx, sessionID)
	if !ok {
		return nil, models.ErrSessionNotFound
	}

	mem := memory.New(sessionID, m.detector, m.summarizer, m.logger)
	if snap, ok := m.store.LoadMemory(ctx, sessionID); ok {
		if err := mem.Restore(snap); err != nil {
			m.logger.Warn("Failed to restore memory snapshot",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	orch := orchestrator.New(mem, m.cfg.IdleTimeout, m.cfg.Buffer, m.logger)
	for _, p := range sess.Panelists {
		modelID := models.ModelIdentifier(p.Persona.ModelName)
		provider, err := m.factory.Create(ctx, modelID, &p.Persona)
		if err != nil {
			m.logger.Warn("Could not rebuild provider for rehydrated session",
				zap.String("session_id", sessionID),
				zap.String("model_id", modelID),
				zap.Error(err))
			continue
		}
		orch.AddProvider(modelID, provider)
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.memories[sessionID] = mem
	m.orchestrators[sessionID] = orch
	m.mu.Unlock()

	m.logger.Info("Rehydrated session from store", zap.String("session_id", sessionID))
	return sess, nil
}

// ListSessions returns sessions held on this node, newest first.
func (m *Manager) ListSessions(activeOnly bool) []*models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Session
	for _, s := range m.sessions {
		if activeOnly && !s.IsActive {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// SessionStats returns collaboration statistics for a session.
func (m *Manager) SessionStats(sessionID string) (memory.Stats, error) {
	m.mu.Lock()
	mem, ok := m.memories[sessionID]
	m.mu.Unlock()
	if !ok {
		return memory.Stats{}, models.ErrSessionNotFound
	}
	return mem.Stats(), nil
}

// Memory returns a session's group memory.
func (m *Manager) Memory(sessionID string) (*memory.GroupMemory, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.memories[sessionID]
	return mem, ok
}

// Orchestrator returns a session's orchestrator.
func (m *Manager) Orchestrator(sessionID string) (*orchestrator.Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orchestrators[sessionID]
	return o, ok
}

// EndSession deactivates a session and releases its resources. The persisted
// copy is removed; ending an unknown session is an error.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		sess.IsActive = false
		delete(m.orchestrators, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return models.ErrSessionNotFound
	}

	m.summarizer.Forget(sessionID)
	m.store.DeleteSession(ctx, sessionID)
	m.store.DeleteMemory(ctx, sessionID)
	m.store.DeleteOrchestratorState(ctx, sessionID)

	metrics.SessionsEnded.Inc()
	metrics.SessionsActive.Dec()
	m.logger.Info("Ended session", zap.String("session_id", sessionID))
	return nil
}

// AvailableModels lists catalog models whose provider credential is set.
func (m *Manager) AvailableModels() map[string]models.Persona {
	return m.factory.AvailableModels()
}
