// Package memory implements the shared group memory for a collaborative
// session: the append-only message log, detected synapse connections, the
// rolling context summary, and the context views handed to model adapters.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/metrics"
	"github.com/groupchatllm/orchestrator/internal/models"
	"github.com/groupchatllm/orchestrator/internal/summarizer"
	"github.com/groupchatllm/orchestrator/internal/synapse"
)

// DefaultContextMessages is how many trailing messages a plain context view
// carries.
const DefaultContextMessages = 20

// responseReserve is the token headroom kept for the model's own response in
// budgeted views.
const responseReserve = 200

// detectionWindow is how much history the synapse detector sees.
const detectionWindow = 10

// Callback receives memory events: "message_added", "synapse_detected",
// "context_updated". Each subscriber gets its own delivery goroutine and a
// bounded queue; a slow or blocking callback never stalls appends or readers.
// Events are dropped (and logged) when a subscriber's queue is full; panics
// are recovered and logged.
type Callback func(event string, data any)

// subscriberBuffer bounds each subscriber's event queue.
const subscriberBuffer = 64

type memoryEvent struct {
	name string
	data any
}

type subscriber struct {
	cb Callback
	ch chan memoryEvent
}

// Stats summarizes collaboration activity in one session.
type Stats struct {
	TotalMessages        int            `json:"total_messages"`
	TotalSynapses        int            `json:"total_synapses"`
	SynapseBreakdown     map[string]int `json:"synapse_breakdown"`
	MessageBreakdown     map[string]int `json:"message_breakdown"`
	CollaborationEvents  int            `json:"collaboration_events"`
	CollaborationDensity float64        `json:"collaboration_density"`
}

// snapshot is the persisted wire shape. The legacy model_contexts field is
// accepted on restore and ignored.
type snapshot struct {
	SessionID          string                      `json:"session_id"`
	Messages           []models.Message            `json:"messages"`
	SynapseConnections []models.SynapseConnection  `json:"synapse_connections"`
	Events             []models.CollaborationEvent `json:"collaboration_events"`
	ContextSummary     string                      `json:"context_summary"`
}

// GroupMemory is the shared memory of one session. All mutation goes through
// Append, serialized by the memory's mutex, so every participant observes
// the same history.
type GroupMemory struct {
	sessionID  string
	detector   *synapse.Detector
	summarizer *summarizer.Summarizer
	logger     *zap.Logger

	mu        sync.Mutex
	messages  []models.Message
	synapses  []models.SynapseConnection
	events    []models.CollaborationEvent
	summary   string
	callbacks map[string]*subscriber
}

func New(sessionID string, detector *synapse.Detector, sum *summarizer.Summarizer, logger *zap.Logger) *GroupMemory {
	return &GroupMemory{
		sessionID:  sessionID,
		detector:   detector,
		summarizer: sum,
		logger:     logger,
		callbacks:  make(map[string]*subscriber),
	}
}

func (g *GroupMemory) SessionID() string { return g.sessionID }

// Append adds a finalized message to the log, runs synapse detection for
// participant responses, refreshes the context summary when due, and
// notifies subscribers. The returned message carries any synapse refs the
// detection added.
func (g *GroupMemory) Append(ctx context.Context, msg models.Message) models.Message {
	g.mu.Lock()
	defer g.mu.Unlock()

	msg.SessionID = g.sessionID
	g.messages = append(g.messages, msg)
	idx := len(g.messages) - 1

	if eligibleForDetection(msg.Type) && msg.IsParticipant() {
		g.detectLocked(ctx, idx)
	}
	g.refreshSummaryLocked(ctx)

	metrics.MessagesAppended.WithLabelValues(string(msg.Type)).Inc()
	g.notifyLocked("message_added", g.messages[idx])
	g.notifyLocked("context_updated", g.contextViewLocked(DefaultContextMessages))

	return g.messages[idx]
}

func eligibleForDetection(t models.MessageType) bool {
	return t == models.MessageResponse || t == models.MessageSynthesis || t == models.MessageAnalysis
}

func (g *GroupMemory) detectLocked(ctx context.Context, idx int) {
	if idx < 1 {
		return
	}
	recent := g.messages[:idx]
	if len(recent) > detectionWindow {
		recent = recent[len(recent)-detectionWindow:]
	}

	result := g.detector.Detect(ctx, g.messages[idx], recent)
	if result == nil {
		return
	}

	newMsg := &g.messages[idx]
	conn := models.SynapseConnection{
		ID:            uuid.New().String(),
		FromMessageID: result.AnchorID,
		ToMessageID:   newMsg.ID,
		Kind:          result.Kind,
		Strength:      result.Strength,
		Timestamp:     newMsg.Timestamp,
	}
	g.synapses = append(g.synapses, conn)
	newMsg.SynapseRefs = append(newMsg.SynapseRefs, result.AnchorID)

	anchorAuthor := g.authorOfLocked(result.AnchorID)
	event := models.CollaborationEvent{
		ID:             uuid.New().String(),
		SessionID:      g.sessionID,
		Type:           "synapse_detected",
		InvolvedModels: []string{anchorAuthor, newMsg.ModelSource},
		Description:    fmt.Sprintf("%s %s %s's idea", newMsg.ModelSource, result.Kind, anchorAuthor),
		Timestamp:      newMsg.Timestamp,
	}
	g.events = append(g.events, event)

	g.notifyLocked("synapse_detected", conn)
	g.logger.Info("Synapse detected",
		zap.String("session_id", g.sessionID),
		zap.String("kind", string(result.Kind)),
		zap.String("from", anchorAuthor),
		zap.String("to", newMsg.ModelSource),
		zap.Float64("strength", result.Strength))
}

func (g *GroupMemory) authorOfLocked(messageID string) string {
	for i := range g.messages {
		if g.messages[i].ID == messageID {
			return g.messages[i].ModelSource
		}
	}
	return ""
}

func (g *GroupMemory) refreshSummaryLocked(ctx context.Context) {
	if g.summarizer == nil || !g.summarizer.ShouldSummarize(g.messages) {
		return
	}
	if s := g.summarizer.Summarize(ctx, g.sessionID, g.messages); s != "" {
		g.summary = s
	}
}

// ContextView returns the summary (as a leading system turn) plus the last
// maxMessages messages in chronological order.
func (g *GroupMemory) ContextView(maxMessages int) []models.ContextTurn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contextViewLocked(maxMessages)
}

func (g *GroupMemory) contextViewLocked(maxMessages int) []models.ContextTurn {
	if maxMessages <= 0 {
		maxMessages = DefaultContextMessages
	}

	var turns []models.ContextTurn
	if g.summary != "" {
		turns = append(turns, models.ContextTurn{
			Role:    models.RoleSystem,
			Content: "Context Summary: " + g.summary,
		})
	}

	recent := g.messages
	if len(recent) > maxMessages {
		recent = recent[len(recent)-maxMessages:]
	}
	for i := range recent {
		turns = append(turns, turnFor(&recent[i], true))
	}
	return turns
}

// BudgetedContextView returns as much trailing history as fits the token
// limit, reserving room for the summary and the model's response. Messages
// are selected newest-first and emitted chronologically.
func (g *GroupMemory) BudgetedContextView(modelName string, tokenLimit int) []models.ContextTurn {
	g.mu.Lock()
	defer g.mu.Unlock()

	var turns []models.ContextTurn
	summaryTokens := 0
	if g.summary != "" {
		content := "Previous Conversation Summary: " + g.summary
		turns = append(turns, models.ContextTurn{Role: models.RoleSystem, Content: content})
		summaryTokens = models.EstimateTokens(g.summary)
	}

	remaining := tokenLimit - summaryTokens - responseReserve

	included := 0
	current := 0
	for i := len(g.messages) - 1; i >= 0; i-- {
		cost := models.EstimateTokens(g.messages[i].Content)
		if current+cost > remaining {
			break
		}
		current += cost
		included++
	}

	start := len(g.messages) - included
	for i := start; i < len(g.messages); i++ {
		turns = append(turns, turnFor(&g.messages[i], false))
	}
	return turns
}

func turnFor(m *models.Message, withSynapses bool) models.ContextTurn {
	var role string
	switch {
	case m.Type == models.MessageSystem:
		role = models.RoleSystem
	case m.ModelSource != "":
		role = models.RoleAssistant
	default:
		role = models.RoleUser
	}

	content := m.Content
	if len(m.SynapseRefs) > 0 && role == models.RoleAssistant {
		content = "[Building on previous ideas] " + content
	}

	meta := map[string]any{
		"model_source": m.ModelSource,
		"message_type": string(m.Type),
		"timestamp":    m.Timestamp,
	}
	if withSynapses {
		meta["synapse_connections"] = m.SynapseRefs
	}
	return models.ContextTurn{Role: role, Content: content, Metadata: meta}
}

// Messages returns a copy of the full log.
func (g *GroupMemory) Messages() []models.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Message, len(g.messages))
	copy(out, g.messages)
	return out
}

// Synapses returns a copy of all detected connections.
func (g *GroupMemory) Synapses() []models.SynapseConnection {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.SynapseConnection, len(g.synapses))
	copy(out, g.synapses)
	return out
}

// Events returns a copy of all collaboration events.
func (g *GroupMemory) Events() []models.CollaborationEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.CollaborationEvent, len(g.events))
	copy(out, g.events)
	return out
}

// Summary returns the current context summary, empty until the first
// summarization.
func (g *GroupMemory) Summary() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.summary
}

// Stats reports collaboration statistics for the session.
func (g *GroupMemory) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	synapseCounts := make(map[string]int)
	for _, c := range g.synapses {
		synapseCounts[string(c.Kind)]++
	}
	messageCounts := make(map[string]int)
	for _, m := range g.messages {
		if m.ModelSource != "" {
			messageCounts[m.ModelSource]++
		}
	}

	denom := len(g.messages)
	if denom == 0 {
		denom = 1
	}
	return Stats{
		TotalMessages:        len(g.messages),
		TotalSynapses:        len(g.synapses),
		SynapseBreakdown:     synapseCounts,
		MessageBreakdown:     messageCounts,
		CollaborationEvents:  len(g.events),
		CollaborationDensity: float64(len(g.synapses)) / float64(denom),
	}
}

// Subscribe registers a callback for memory events and returns its handle.
func (g *GroupMemory) Subscribe(cb Callback) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := uuid.New().String()
	sub := &subscriber{cb: cb, ch: make(chan memoryEvent, subscriberBuffer)}
	g.callbacks[id] = sub
	go g.dispatch(id, sub)
	return id
}

// Unsubscribe removes a previously registered callback and stops its
// delivery goroutine.
func (g *GroupMemory) Unsubscribe(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sub, ok := g.callbacks[id]; ok {
		delete(g.callbacks, id)
		close(sub.ch)
	}
}

func (g *GroupMemory) dispatch(id string, sub *subscriber) {
	for ev := range sub.ch {
		g.deliver(id, sub, ev)
	}
}

func (g *GroupMemory) deliver(id string, sub *subscriber, ev memoryEvent) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Memory callback panicked",
				zap.String("callback_id", id),
				zap.String("event", ev.name),
				zap.Any("panic", r))
		}
	}()
	sub.cb(ev.name, ev.data)
}

func (g *GroupMemory) notifyLocked(event string, data any) {
	for id, sub := range g.callbacks {
		select {
		case sub.ch <- memoryEvent{name: event, data: data}:
		default:
			g.logger.Warn("Subscriber queue full, dropping event",
				zap.String("callback_id", id),
				zap.String("event", event))
		}
	}
}

// Snapshot serializes the memory for persistence.
func (g *GroupMemory) Snapshot() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return json.Marshal(snapshot{
		SessionID:          g.sessionID,
		Messages:           g.messages,
		SynapseConnections: g.synapses,
		Events:             g.events,
		ContextSummary:     g.summary,
	})
}

// Restore replaces the memory's contents from a snapshot. Unknown fields in
// older snapshots are ignored.
func (g *GroupMemory) Restore(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode memory snapshot: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if s.SessionID != "" {
		g.sessionID = s.SessionID
	}
	g.messages = s.Messages
	g.synapses = s.SynapseConnections
	g.events = s.Events
	g.summary = s.ContextSummary
	return nil
}
