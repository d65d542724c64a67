// Package mock provides scripted provider adapters for tests: fixed chunk
// sequences, injected mid-stream failures, and optional pacing delays.
package mock

import (
	"context"
	"time"

	"github.com/groupchatllm/orchestrator/internal/models"
	"github.com/groupchatllm/orchestrator/internal/providers"
)

// Scripted is a provider that replays a fixed chunk sequence. If Err is set,
// it is emitted as a terminal error chunk after FailAfter chunks (all chunks
// when FailAfter exceeds the script length).
type Scripted struct {
	PersonaConfig models.Persona
	Chunks        []string
	FailAfter     int
	Err           error
	Delay         time.Duration

	CompleteText string
	CompleteErr  error

	// LastTurns records the context handed to the most recent call.
	LastTurns []models.ContextTurn
}

var _ providers.Provider = (*Scripted)(nil)

func (s *Scripted) Persona() models.Persona { return s.PersonaConfig }

func (s *Scripted) Stream(ctx context.Context, turns []models.ContextTurn, _ providers.Options) <-chan providers.Chunk {
	s.LastTurns = turns
	ch := make(chan providers.Chunk, len(s.Chunks)+1)

	go func() {
		defer close(ch)
		for i, text := range s.Chunks {
			if s.Err != nil && i == s.FailAfter {
				ch <- providers.Chunk{Text: "[Error: " + s.Err.Error() + "]", Err: s.Err}
				return
			}
			if s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- providers.Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if s.Err != nil && s.FailAfter >= len(s.Chunks) {
			ch <- providers.Chunk{Text: "[Error: " + s.Err.Error() + "]", Err: s.Err}
		}
	}()

	return ch
}

func (s *Scripted) Complete(_ context.Context, turns []models.ContextTurn, _ providers.Options) (string, error) {
	s.LastTurns = turns
	return s.CompleteText, s.CompleteErr
}

// Hanging is a provider whose stream never produces a chunk until the
// context is cancelled. Used to exercise idle-timeout handling.
type Hanging struct {
	PersonaConfig models.Persona
}

var _ providers.Provider = (*Hanging)(nil)

func (h *Hanging) Persona() models.Persona { return h.PersonaConfig }

func (h *Hanging) Stream(ctx context.Context, _ []models.ContextTurn, _ providers.Options) <-chan providers.Chunk {
	ch := make(chan providers.Chunk)
	go func() {
		defer close(ch)
		<-ctx.Done()
	}()
	return ch
}

func (h *Hanging) Complete(ctx context.Context, _ []models.ContextTurn, _ providers.Options) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
