package providers

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/groupchatllm/orchestrator/internal/models"
)

// apiKeyEnv maps provider names to the environment variable carrying their
// credential. A model is available iff its provider's key is set.
var apiKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"google":    "GOOGLE_API_KEY",
}

// personasFile is the on-disk shape of the personas catalog.
type personasFile struct {
	Personas map[string]models.Persona `yaml:"personas"`
}

// Factory creates provider adapters from the persona catalog. Personas are
// loaded once from YAML; custom personas bypass the catalog entirely.
type Factory struct {
	logger *zap.Logger
	path   string

	mu       sync.RWMutex
	personas map[string]models.Persona
}

// NewFactory loads the persona catalog from path. A missing or unparsable
// file is an error; a catalog entry that fails validation is skipped with a
// warning, matching a partially-deployed config.
func NewFactory(path string, logger *zap.Logger) (*Factory, error) {
	f := &Factory{logger: logger, path: path}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Factory) reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read personas config: %w", err)
	}

	var file personasFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse personas config: %w", err)
	}

	personas := make(map[string]models.Persona, len(file.Personas))
	for id, p := range file.Personas {
		if p.ModelName == "" {
			f.logger.Warn("Skipping persona with no model name", zap.String("id", id))
			continue
		}
		if p.Provider == "" {
			p.Provider = models.DetectProvider(p.ModelName)
		}
		personas[id] = p
	}

	f.mu.Lock()
	f.personas = personas
	f.mu.Unlock()

	f.logger.Info("Loaded personas from configuration",
		zap.String("path", f.path),
		zap.Int("count", len(personas)))
	return nil
}

// Persona returns the catalog persona for a model identifier.
func (f *Factory) Persona(modelID string) (models.Persona, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.personas[modelID]
	return p, ok
}

// Catalog returns a copy of the full persona catalog.
func (f *Factory) Catalog() map[string]models.Persona {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]models.Persona, len(f.personas))
	for id, p := range f.personas {
		out[id] = p
	}
	return out
}

// AvailableModels returns the catalog entries whose provider credential is
// configured, keyed by model identifier.
func (f *Factory) AvailableModels() map[string]models.Persona {
	f.mu.RLock()
	defer f.mu.RUnlock()

	available := make(map[string]models.Persona)
	for id, p := range f.personas {
		if os.Getenv(apiKeyEnv[p.Provider]) != "" {
			available[id] = p
		}
	}
	return available
}

// Create builds a provider adapter for a model identifier, using the custom
// persona when given and the catalog entry otherwise.
func (f *Factory) Create(ctx context.Context, modelID string, custom *models.Persona) (Provider, error) {
	var persona models.Persona
	if custom != nil {
		persona = *custom
		if persona.Provider == "" {
			persona.Provider = models.DetectProvider(persona.ModelName)
		}
	} else {
		p, ok := f.Persona(modelID)
		if !ok {
			return nil, fmt.Errorf("%w: unknown model identifier %q", models.ErrInvalidRequest, modelID)
		}
		persona = p
	}

	apiKey := os.Getenv(apiKeyEnv[persona.Provider])
	if apiKey == "" {
		return nil, fmt.Errorf("no api key configured for provider %q", persona.Provider)
	}

	switch persona.Provider {
	case "openai":
		return NewOpenAI(apiKey, persona)
	case "anthropic":
		return NewAnthropic(apiKey, persona)
	case "google":
		return NewGemini(ctx, apiKey, persona)
	default:
		return nil, fmt.Errorf("unknown provider %q for model %q", persona.Provider, persona.ModelName)
	}
}
