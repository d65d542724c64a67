// Package orchestrator fans a user turn out to every panelist concurrently
// and merges their streams into one interleaved channel. Each participant
// runs in its own goroutine; a failure isolates to that participant and is
// surfaced to the rest of the panel as a system notice.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/memory"
	"github.com/groupchatllm/orchestrator/internal/metrics"
	"github.com/groupchatllm/orchestrator/internal/models"
	"github.com/groupchatllm/orchestrator/internal/providers"
)

// Token budgets per request: large-context model families get more history.
const (
	largeContextBudget = 8000
	defaultBudget      = 4000
)

// DefaultIdleTimeout is how long a participant may go without producing a
// chunk before its stream is treated as failed.
const DefaultIdleTimeout = 30 * time.Second

// buildingPhrases trigger the advisory real-time synapse hint while a
// participant is still streaming.
var buildingPhrases = []string{
	"building on", "as mentioned", "following up",
	"to add to", "expanding on", "great point",
}

// hintWindow is how far back the real-time hint looks for an anchor.
const hintWindow = 5

// Orchestrator coordinates concurrent streaming for one session. At most one
// orchestration may be in flight at a time.
type Orchestrator struct {
	memory      *memory.GroupMemory
	idleTimeout time.Duration
	buffer      int
	logger      *zap.Logger

	mu        sync.Mutex
	order     []string
	providers map[string]providers.Provider
	states    map[string]models.PanelistState
	inFlight  bool
}

func New(mem *memory.GroupMemory, idleTimeout time.Duration, buffer int, logger *zap.Logger) *Orchestrator {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Orchestrator{
		memory:      mem,
		idleTimeout: idleTimeout,
		buffer:      buffer,
		logger:      logger,
		providers:   make(map[string]providers.Provider),
		states:      make(map[string]models.PanelistState),
	}
}

// AddProvider registers a participant. modelID is the catalog identifier the
// participant streams as.
func (o *Orchestrator) AddProvider(modelID string, p providers.Provider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.providers[modelID]; !exists {
		o.order = append(o.order, modelID)
	}
	o.providers[modelID] = p
	o.states[modelID] = models.StateStandby
	o.logger.Info("Added provider",
		zap.String("model_id", modelID),
		zap.String("role", p.Persona().Role))
}

// ProviderStates returns every participant's current state.
func (o *Orchestrator) ProviderStates() map[string]models.PanelistState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]models.PanelistState, len(o.states))
	for id, s := range o.states {
		out[id] = s
	}
	return out
}

// ActiveModels lists participants currently mid-stream.
func (o *Orchestrator) ActiveModels() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var active []string
	for _, id := range o.order {
		if s := o.states[id]; s == models.StateThinking || s == models.StateResponding {
			active = append(active, id)
		}
	}
	return active
}

func (o *Orchestrator) setState(modelID string, s models.PanelistState) {
	o.mu.Lock()
	o.states[modelID] = s
	o.mu.Unlock()
}

// Stream appends the user turn to memory and streams every participant's
// response on the returned channel. The channel closes when all participants
// have terminated. Cancelling ctx discards in-progress buffers without
// appending them.
func (o *Orchestrator) Stream(ctx context.Context, userInput string, msgType models.MessageType) (<-chan models.StreamChunk, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return nil, models.ErrStreamInFlight
	}
	o.inFlight = true
	participants := make([]string, len(o.order))
	copy(participants, o.order)
	o.mu.Unlock()

	userMsg := models.NewMessage(o.memory.SessionID(), userInput, msgType, "")
	o.memory.Append(ctx, userMsg)

	out := make(chan models.StreamChunk, o.buffer)
	var wg sync.WaitGroup
	for _, modelID := range participants {
		o.mu.Lock()
		provider := o.providers[modelID]
		o.mu.Unlock()

		wg.Add(1)
		go func(modelID string, p providers.Provider) {
			defer wg.Done()
			o.streamParticipant(ctx, modelID, p, out)
		}(modelID, provider)
	}

	go func() {
		wg.Wait()
		close(out)
		o.mu.Lock()
		o.inFlight = false
		o.mu.Unlock()
	}()

	return out, nil
}

func (o *Orchestrator) streamParticipant(ctx context.Context, modelID string, p providers.Provider, out chan<- models.StreamChunk) {
	persona := p.Persona()
	start := time.Now()

	o.setState(modelID, models.StateThinking)
	budget := defaultBudget
	if models.LargeContextModel(persona.ModelName) {
		budget = largeContextBudget
	}
	turns := o.memory.BudgetedContextView(persona.ModelName, budget)

	stream := p.Stream(ctx, turns, providers.Options{})
	o.setState(modelID, models.StateResponding)

	messageID := uuid.New().String()
	var buffer strings.Builder

	idle := time.NewTimer(o.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			// Cancellation discards the buffer: no append, no notice.
			return

		case <-idle.C:
			err := fmt.Errorf("no output within %s", o.idleTimeout)
			o.failParticipant(ctx, modelID, persona, err, "idle_timeout", out)
			return

		case chunk, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				o.completeParticipant(ctx, modelID, messageID, buffer.String(), out)
				metrics.StreamDuration.WithLabelValues(persona.Provider).Observe(time.Since(start).Seconds())
				return
			}
			if chunk.Err != nil {
				o.failParticipant(ctx, modelID, persona, chunk.Err, "stream_error", out)
				return
			}

			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(o.idleTimeout)

			buffer.WriteString(chunk.Text)
			metrics.ChunksStreamed.WithLabelValues(persona.Provider).Inc()

			sc := models.StreamChunk{
				SessionID:       o.memory.SessionID(),
				ModelSource:     modelID,
				Content:         chunk.Text,
				Type:            models.MessageResponse,
				IsComplete:      false,
				AnchorMessageID: o.realtimeHint(modelID, buffer.String()),
			}
			select {
			case out <- sc:
			case <-ctx.Done():
				return
			}
		}
	}
}

// completeParticipant finalizes a finished stream: the accumulated buffer
// becomes one message in group memory (triggering authoritative synapse
// detection) and a completion marker goes out.
func (o *Orchestrator) completeParticipant(ctx context.Context, modelID, messageID, content string, out chan<- models.StreamChunk) {
	msg := models.Message{
		ID:          messageID,
		SessionID:   o.memory.SessionID(),
		Content:     content,
		Type:        models.MessageResponse,
		ModelSource: modelID,
		Timestamp:   time.Now().UTC(),
		Metadata:    map[string]any{},
	}
	o.memory.Append(ctx, msg)
	o.setState(modelID, models.StateComplete)

	o.logger.Info("Completed message",
		zap.String("model_id", modelID),
		zap.Int("chars", len(content)))

	select {
	case out <- models.StreamChunk{
		SessionID:   o.memory.SessionID(),
		ModelSource: modelID,
		Content:     "",
		Type:        models.MessageResponse,
		IsComplete:  true,
	}:
	case <-ctx.Done():
	}
}

// failParticipant isolates a failure: the participant's buffer is dropped, a
// system notice joins group memory so the rest of the panel sees it, and the
// outbound stream carries one terminal system chunk. Other participants keep
// streaming; there is no retry.
func (o *Orchestrator) failParticipant(ctx context.Context, modelID string, persona models.Persona, cause error, reason string, out chan<- models.StreamChunk) {
	o.setState(modelID, models.StateError)
	metrics.ProviderFailures.WithLabelValues(persona.Provider, reason).Inc()
	o.logger.Warn("Provider failed, injecting system notice",
		zap.String("model_id", modelID),
		zap.Error(cause))

	name := persona.Role
	if name == "" {
		name = modelID
	}
	notice := models.NewMessage(o.memory.SessionID(),
		fmt.Sprintf("[System Notice] %s has temporarily left the conversation due to a technical issue.", name),
		models.MessageSystem, "system")
	notice.Metadata = map[string]any{
		"error_type":    "provider_failure",
		"failed_model":  modelID,
		"error_details": cause.Error(),
	}
	o.memory.Append(ctx, notice)

	select {
	case out <- models.StreamChunk{
		SessionID:   o.memory.SessionID(),
		ModelSource: "system",
		Content:     notice.Content,
		Type:        models.MessageSystem,
		IsComplete:  true,
		Metadata: map[string]any{
			"event": "provider_failure",
			"model": modelID,
		},
	}:
	case <-ctx.Done():
	}
}

// realtimeHint returns the ID of the most recent other-participant message
// when the partial buffer contains an explicit building phrase. It is
// advisory only; the authoritative synapse is computed at finalization.
func (o *Orchestrator) realtimeHint(modelID, partial string) string {
	lower := strings.ToLower(partial)
	found := false
	for _, phrase := range buildingPhrases {
		if strings.Contains(lower, phrase) {
			found = true
			break
		}
	}
	if !found {
		return ""
	}

	msgs := o.memory.Messages()
	if len(msgs) > hintWindow {
		msgs = msgs[len(msgs)-hintWindow:]
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsParticipant() && msgs[i].ModelSource != modelID {
			return msgs[i].ID
		}
	}
	return ""
}
