package providers

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/groupchatllm/orchestrator/internal/models"
)

// anthropicMaxTokens is the request default when the caller sets no cap; the
// Anthropic API requires max_tokens on every call.
const anthropicMaxTokens = 4096

// Anthropic streams messages for Claude-family models. Claude takes system
// text as a dedicated parameter, so system-role turns are folded into it
// rather than sent as messages.
type Anthropic struct {
	client  sdk.Client
	persona models.Persona
}

// NewAnthropic constructs an Anthropic adapter for the given persona.
func NewAnthropic(apiKey string, persona models.Persona) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key not configured")
	}
	return &Anthropic{
		client:  sdk.NewClient(option.WithAPIKey(apiKey)),
		persona: persona,
	}, nil
}

func (p *Anthropic) Persona() models.Persona { return p.persona }

func (p *Anthropic) Stream(ctx context.Context, turns []models.ContextTurn, opts Options) <-chan Chunk {
	ch := make(chan Chunk, streamBuffer)

	go func() {
		defer close(ch)

		stream := p.client.Messages.NewStreaming(ctx, p.buildParams(turns, opts))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.ContentBlockDeltaEvent:
				delta, ok := ev.Delta.AsAny().(sdk.TextDelta)
				if !ok || delta.Text == "" {
					continue
				}
				select {
				case ch <- Chunk{Text: delta.Text}:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- errorChunk(err):
			case <-ctx.Done():
			}
		}
	}()

	return ch
}

func (p *Anthropic) Complete(ctx context.Context, turns []models.ContextTurn, opts Options) (string, error) {
	msg, err := p.client.Messages.New(ctx, p.buildParams(turns, opts))
	if err != nil {
		return "", fmt.Errorf("anthropic: message: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(sdk.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String(), nil
}

func (p *Anthropic) buildParams(turns []models.ContextTurn, opts Options) sdk.MessageNewParams {
	var systemParts []string
	if p.persona.PromptPrefix != "" {
		systemParts = append(systemParts, p.persona.PromptPrefix)
	}

	var messages []sdk.MessageParam
	for _, t := range turns {
		switch t.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, t.Content)
		case models.RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(t.Content)))
		default:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(t.Content)))
		}
	}
	// The API rejects an empty messages array.
	if len(messages) == 0 {
		messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock("Begin.")))
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.persona.ModelName),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(systemParts) > 0 {
		params.System = []sdk.TextBlockParam{{Text: strings.Join(systemParts, "\n\n")}}
	}
	if opts.Temperature != 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}
	return params
}
