package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/memory"
	"github.com/groupchatllm/orchestrator/internal/models"
	"github.com/groupchatllm/orchestrator/internal/providers/mock"
	"github.com/groupchatllm/orchestrator/internal/summarizer"
	"github.com/groupchatllm/orchestrator/internal/synapse"
)

func newTestMemory() *memory.GroupMemory {
	det := synapse.NewDetector(nil, zap.NewNop())
	sum := summarizer.New(nil, summarizer.Config{}, zap.NewNop())
	return memory.New("sess-1", det, sum, zap.NewNop())
}

func persona(modelID, role string) models.Persona {
	return models.Persona{Provider: "openai", ModelName: modelID, Role: role}
}

func collect(t *testing.T, ch <-chan models.StreamChunk) []models.StreamChunk {
	t.Helper()
	var out []models.StreamChunk
	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-deadline:
			t.Fatal("stream did not close in time")
		}
	}
}

func TestStreamFansOutAllParticipants(t *testing.T) {
	mem := newTestMemory()
	o := New(mem, time.Second, 64, zap.NewNop())
	o.AddProvider("gpt-4o", &mock.Scripted{
		PersonaConfig: persona("gpt-4-0125-preview", "Analyst"),
		Chunks:        []string{"alpha ", "beta"},
	})
	o.AddProvider("claude-3.5", &mock.Scripted{
		PersonaConfig: persona("claude-3-5-sonnet-20241022", "Synthesizer"),
		Chunks:        []string{"gamma"},
	})

	ch, err := o.Stream(context.Background(), "the mission", models.MessageMission)
	require.NoError(t, err)
	chunks := collect(t, ch)

	perModel := map[string]string{}
	completions := map[string]bool{}
	for _, c := range chunks {
		if c.IsComplete {
			completions[c.ModelSource] = true
			continue
		}
		perModel[c.ModelSource] += c.Content
	}
	assert.Equal(t, "alpha beta", perModel["gpt-4o"])
	assert.Equal(t, "gamma", perModel["claude-3.5"])
	assert.True(t, completions["gpt-4o"])
	assert.True(t, completions["claude-3.5"])

	// Memory holds the user turn plus one finalized message per participant.
	msgs := mem.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "the mission", msgs[0].Content)

	byAuthor := map[string]string{}
	for _, m := range msgs[1:] {
		byAuthor[m.ModelSource] = m.Content
	}
	assert.Equal(t, "alpha beta", byAuthor["gpt-4o"])
	assert.Equal(t, "gamma", byAuthor["claude-3.5"])

	states := o.ProviderStates()
	assert.Equal(t, models.StateComplete, states["gpt-4o"])
	assert.Equal(t, models.StateComplete, states["claude-3.5"])
}

func TestProviderFailureIsIsolated(t *testing.T) {
	mem := newTestMemory()
	o := New(mem, time.Second, 64, zap.NewNop())
	o.AddProvider("gpt-4o", &mock.Scripted{
		PersonaConfig: persona("gpt-4-0125-preview", "Analyst"),
		Chunks:        []string{"fine"},
	})
	o.AddProvider("claude-3.5", &mock.Scripted{
		PersonaConfig: persona("claude-3-5-sonnet-20241022", "Synthesizer"),
		Chunks:        []string{"partial "},
		FailAfter:     1,
		Err:           errors.New("upstream 500"),
	})

	ch, err := o.Stream(context.Background(), "mission", models.MessageMission)
	require.NoError(t, err)
	chunks := collect(t, ch)

	var notice *models.StreamChunk
	survived := false
	for i := range chunks {
		c := chunks[i]
		if c.ModelSource == "system" {
			notice = &chunks[i]
		}
		if c.ModelSource == "gpt-4o" && c.IsComplete {
			survived = true
		}
	}

	// The healthy participant finished normally.
	assert.True(t, survived)

	require.NotNil(t, notice)
	assert.Equal(t, "[System Notice] Synthesizer has temporarily left the conversation due to a technical issue.", notice.Content)
	assert.True(t, notice.IsComplete)
	assert.Equal(t, "provider_failure", notice.Metadata["event"])
	assert.Equal(t, "claude-3.5", notice.Metadata["model"])

	// The failed participant's partial buffer is not in memory, but the
	// system notice is, with failure metadata.
	var sysMsg *models.Message
	for _, m := range mem.Messages() {
		assert.NotEqual(t, "partial ", m.Content)
		if m.ModelSource == "system" {
			c := m
			sysMsg = &c
		}
	}
	require.NotNil(t, sysMsg)
	assert.Equal(t, models.MessageSystem, sysMsg.Type)
	assert.Equal(t, "provider_failure", sysMsg.Metadata["error_type"])
	assert.Equal(t, "claude-3.5", sysMsg.Metadata["failed_model"])
	assert.Equal(t, "upstream 500", sysMsg.Metadata["error_details"])

	assert.Equal(t, models.StateError, o.ProviderStates()["claude-3.5"])
}

func TestIdleTimeoutFailsStream(t *testing.T) {
	mem := newTestMemory()
	o := New(mem, 50*time.Millisecond, 64, zap.NewNop())
	o.AddProvider("gpt-4o", &mock.Hanging{
		PersonaConfig: persona("gpt-4-0125-preview", "Analyst"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := o.Stream(ctx, "mission", models.MessageMission)
	require.NoError(t, err)
	chunks := collect(t, ch)

	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.Equal(t, "system", last.ModelSource)
	assert.Contains(t, last.Content, "temporarily left the conversation")
	assert.Equal(t, models.StateError, o.ProviderStates()["gpt-4o"])
}

func TestOnlyOneStreamInFlight(t *testing.T) {
	mem := newTestMemory()
	o := New(mem, time.Second, 64, zap.NewNop())
	o.AddProvider("gpt-4o", &mock.Scripted{
		PersonaConfig: persona("gpt-4-0125-preview", "Analyst"),
		Chunks:        []string{"slow"},
		Delay:         100 * time.Millisecond,
	})

	ch, err := o.Stream(context.Background(), "mission", models.MessageMission)
	require.NoError(t, err)

	_, err = o.Stream(context.Background(), "second", models.MessageGuidance)
	assert.ErrorIs(t, err, models.ErrStreamInFlight)

	collect(t, ch)

	// After the round completes a new orchestration is allowed.
	ch, err = o.Stream(context.Background(), "third", models.MessageGuidance)
	require.NoError(t, err)
	collect(t, ch)
}

func TestCancellationDiscardsBuffers(t *testing.T) {
	mem := newTestMemory()
	o := New(mem, time.Second, 64, zap.NewNop())
	o.AddProvider("gpt-4o", &mock.Scripted{
		PersonaConfig: persona("gpt-4-0125-preview", "Analyst"),
		Chunks:        []string{"one ", "two ", "three"},
		Delay:         50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := o.Stream(ctx, "mission", models.MessageMission)
	require.NoError(t, err)

	// Read one chunk, then cancel mid-stream.
	<-ch
	cancel()
	collect(t, ch)

	// Only the user turn is in memory: no partial response, no notice.
	msgs := mem.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "mission", msgs[0].Content)
}

func TestRealtimeHintPointsAtOtherParticipant(t *testing.T) {
	mem := newTestMemory()
	anchor := mem.Append(context.Background(),
		models.NewMessage("sess-1", "Use a queue here.", models.MessageResponse, "claude-3.5"))

	o := New(mem, time.Second, 64, zap.NewNop())
	o.AddProvider("gpt-4o", &mock.Scripted{
		PersonaConfig: persona("gpt-4-0125-preview", "Analyst"),
		Chunks:        []string{"Building on ", "that queue idea"},
	})

	ch, err := o.Stream(context.Background(), "continue", models.MessageGuidance)
	require.NoError(t, err)
	chunks := collect(t, ch)

	hinted := false
	for _, c := range chunks {
		if c.AnchorMessageID == anchor.ID {
			hinted = true
		}
	}
	assert.True(t, hinted)
}

func TestLargeContextBudgetSelection(t *testing.T) {
	assert.True(t, models.LargeContextModel("gpt-4-0125-preview"))
	assert.False(t, models.LargeContextModel("claude-3-5-sonnet-20241022"))
}
