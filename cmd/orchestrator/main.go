// Command orchestrator runs the collaborative-intelligence API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/groupchatllm/orchestrator/internal/config"
	"github.com/groupchatllm/orchestrator/internal/embeddings"
	"github.com/groupchatllm/orchestrator/internal/health"
	"github.com/groupchatllm/orchestrator/internal/httpapi"
	"github.com/groupchatllm/orchestrator/internal/models"
	"github.com/groupchatllm/orchestrator/internal/providers"
	"github.com/groupchatllm/orchestrator/internal/session"
	"github.com/groupchatllm/orchestrator/internal/store"
	"github.com/groupchatllm/orchestrator/internal/summarizer"
	"github.com/groupchatllm/orchestrator/internal/synapse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Observability.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	factory, err := providers.NewFactory(cfg.PersonasPath, logger)
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}

	st := store.New(cfg.RedisURL, logger)
	defer st.Close()

	openaiKey := os.Getenv("OPENAI_API_KEY")

	var embedder synapse.Embedder
	if openaiKey != "" {
		var cache embeddings.Cache
		if cli := st.Client(); cli != nil {
			cache = embeddings.NewRedisCache(cli)
		}
		embedder = embeddings.New(openaiKey, embeddings.Config{
			Model:    cfg.Embeddings.Model,
			CacheTTL: cfg.Embeddings.CacheTTL,
			MaxLRU:   cfg.Embeddings.MaxLRU,
		}, cache, logger)
	} else {
		logger.Warn("No OpenAI key configured, synapse detection runs keyword-only")
	}
	detector := synapse.NewDetector(embedder, logger)

	var backend summarizer.Backend
	if openaiKey != "" {
		sp, err := providers.NewOpenAI(openaiKey, models.Persona{
			Provider:           "openai",
			ModelName:          cfg.Summarizer.Model,
			Role:               "Summarizer",
			Icon:               "📝",
			PromptPrefix:       "You are a concise summarizer. Create brief, informative summaries.",
			CollaborationStyle: "analytical",
			ColorTheme:         "gray",
		})
		if err == nil {
			backend = sp
		}
	} else {
		logger.Warn("No OpenAI key configured, summarization uses the basic fallback")
	}
	sum := summarizer.New(backend, summarizer.Config{
		ContextLimit: cfg.Summarizer.ContextLimit,
		KeepRecent:   cfg.Summarizer.KeepRecent,
	}, logger)

	manager := session.NewManager(factory, st, detector, sum, session.Config{
		IdleTimeout: cfg.Streaming.IdleTimeout,
		Buffer:      cfg.Streaming.Buffer,
	}, logger)

	api := httpapi.NewServer(manager, factory, health.NewChecker(factory), logger)

	apiServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	adminServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Observability.MetricsPort),
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API server listening", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Admin server listening", zap.String("addr", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = adminServer.Shutdown(shutdownCtx)
		return apiServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
