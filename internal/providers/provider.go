// Package providers adapts heterogeneous LLM APIs (OpenAI, Anthropic, Gemini)
// to one streaming interface. Each adapter owns a persona and translates the
// neutral context-turn format into its provider's native message shape.
package providers

import (
	"context"

	"github.com/groupchatllm/orchestrator/internal/models"
)

// Chunk is one unit of a provider stream. A non-nil Err marks a mid-stream
// provider failure; the chunk is terminal and the channel closes after it.
// Err chunks still carry a human-readable "[Error: ...]" text so downstream
// consumers that only look at text degrade gracefully.
type Chunk struct {
	Text string
	Err  error
}

// Options tunes a single generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Provider is a streaming LLM adapter bound to one persona.
//
// Stream returns immediately; chunks arrive on the channel and the channel
// closes at end-of-stream. Cancelling ctx stops the stream without error.
type Provider interface {
	// Persona returns the persona this adapter speaks as.
	Persona() models.Persona

	// Stream generates a response to the given context incrementally.
	Stream(ctx context.Context, turns []models.ContextTurn, opts Options) <-chan Chunk

	// Complete generates a full response in one call. Used for non-interactive
	// work such as summarization.
	Complete(ctx context.Context, turns []models.ContextTurn, opts Options) (string, error)
}

// streamBuffer is the channel capacity for adapter streams. Large enough that
// a briefly slow consumer does not stall the SDK read loop.
const streamBuffer = 32

func errorChunk(err error) Chunk {
	return Chunk{Text: "[Error: " + err.Error() + "]", Err: err}
}
