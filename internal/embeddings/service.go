// Package embeddings generates text embeddings for synapse detection, with a
// two-level cache (in-process LRU, then Redis) in front of the OpenAI API.
package embeddings

import (
	"context"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/metrics"
)

// Config tunes the embedding service.
type Config struct {
	Model    string
	CacheTTL time.Duration
	MaxLRU   int
	Timeout  time.Duration
}

// Service provides embedding generation with caching.
type Service struct {
	cfg    Config
	client oai.Client
	cache  Cache
	lru    *LocalLRU
	logger *zap.Logger
}

// New constructs the embedding service. cache may be nil (LRU only). An
// empty apiKey is allowed; callers get errors from Embed and are expected
// to degrade.
func New(apiKey string, cfg Config, cache Cache, logger *zap.Logger) *Service {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Service{
		cfg:    cfg,
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		cache:  cache,
		lru:    NewLocalLRU(cfg.MaxLRU),
		logger: logger,
	}
}

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float64, error) {
	key := MakeKey(s.cfg.Model, text)

	if v, ok := s.lru.Get(ctx, key); ok {
		metrics.EmbeddingRequests.WithLabelValues("lru_hit").Inc()
		return v, nil
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, 30*time.Minute)
			metrics.EmbeddingRequests.WithLabelValues("cache_hit").Inc()
			return v, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: oai.EmbeddingModel(s.cfg.Model),
		Input: oai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding response carried no data")
	}

	vec := resp.Data[0].Embedding
	s.lru.Set(ctx, key, vec, s.cfg.CacheTTL)
	if s.cache != nil {
		s.cache.Set(ctx, key, vec, s.cfg.CacheTTL)
	}
	metrics.EmbeddingRequests.WithLabelValues("ok").Inc()
	return vec, nil
}

// Model returns the configured embedding model name.
func (s *Service) Model() string { return s.cfg.Model }
