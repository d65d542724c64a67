package providers

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/groupchatllm/orchestrator/internal/models"
)

// geminiAck primes Gemini's turn alternation: the persona rides as the first
// user turn and this canned model reply acknowledges it, since the Gemini
// chat format has no system role.
const geminiAck = "Understood. I will collaborate in that role."

// Gemini streams generations for Gemini-family models via the GenAI API.
type Gemini struct {
	client  *genai.Client
	persona models.Persona
}

// NewGemini constructs a Gemini adapter for the given persona.
func NewGemini(ctx context.Context, apiKey string, persona models.Persona) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Gemini{client: client, persona: persona}, nil
}

func (p *Gemini) Persona() models.Persona { return p.persona }

func (p *Gemini) Stream(ctx context.Context, turns []models.ContextTurn, opts Options) <-chan Chunk {
	ch := make(chan Chunk, streamBuffer)

	go func() {
		defer close(ch)

		contents, config := p.buildRequest(turns, opts)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.persona.ModelName, contents, config) {
			if err != nil {
				if ctx.Err() == nil {
					select {
					case ch <- errorChunk(err):
					case <-ctx.Done():
					}
				}
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case ch <- Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

func (p *Gemini) Complete(ctx context.Context, turns []models.ContextTurn, opts Options) (string, error) {
	contents, config := p.buildRequest(turns, opts)
	resp, err := p.client.Models.GenerateContent(ctx, p.persona.ModelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	return resp.Text(), nil
}

// buildRequest folds the persona prefix and any system turns into a priming
// user/model exchange, then maps the remaining turns onto user/model roles.
func (p *Gemini) buildRequest(turns []models.ContextTurn, opts Options) ([]*genai.Content, *genai.GenerateContentConfig) {
	priming := p.persona.PromptPrefix
	for _, t := range turns {
		if t.Role == models.RoleSystem {
			if priming != "" {
				priming += "\n\n"
			}
			priming += t.Content
		}
	}

	var contents []*genai.Content
	if priming != "" {
		contents = append(contents,
			genai.NewContentFromText(priming, genai.RoleUser),
			genai.NewContentFromText(geminiAck, genai.RoleModel),
		)
	}
	for _, t := range turns {
		switch t.Role {
		case models.RoleSystem:
			// already folded into the priming turn
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromText("Begin.", genai.RoleUser))
	}

	config := &genai.GenerateContentConfig{}
	if opts.Temperature != 0 {
		config.Temperature = genai.Ptr(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	return contents, config
}
