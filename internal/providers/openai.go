package providers

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/groupchatllm/orchestrator/internal/models"
)

// OpenAI streams chat completions for GPT-family models. The persona's prompt
// prefix rides as a leading system message.
type OpenAI struct {
	client  oai.Client
	persona models.Persona
}

// NewOpenAI constructs an OpenAI adapter for the given persona.
func NewOpenAI(apiKey string, persona models.Persona) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key not configured")
	}
	return &OpenAI{
		client:  oai.NewClient(option.WithAPIKey(apiKey)),
		persona: persona,
	}, nil
}

func (p *OpenAI) Persona() models.Persona { return p.persona }

func (p *OpenAI) Stream(ctx context.Context, turns []models.ContextTurn, opts Options) <-chan Chunk {
	ch := make(chan Chunk, streamBuffer)

	go func() {
		defer close(ch)

		stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(turns, opts))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			select {
			case ch <- Chunk{Text: text}:
			case <-ctx.Done():
				return
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

func (p *OpenAI) Complete(ctx context.Context, turns []models.ContextTurn, opts Options) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(turns, opts))
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAI) buildParams(turns []models.ContextTurn, opts Options) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion
	if p.persona.PromptPrefix != "" {
		messages = append(messages, oai.SystemMessage(p.persona.PromptPrefix))
	}
	for _, t := range turns {
		switch t.Role {
		case models.RoleSystem:
			messages = append(messages, oai.SystemMessage(t.Content))
		case models.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(t.Content))
		default:
			messages = append(messages, oai.UserMessage(t.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.persona.ModelName),
		Messages: messages,
	}
	if opts.Temperature != 0 {
		params.Temperature = param.NewOpt(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(opts.MaxTokens))
	}
	return params
}
