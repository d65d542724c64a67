// Package summarizer condenses older conversation history into a short
// summary so long sessions keep fitting into model context windows.
package summarizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/metrics"
	"github.com/groupchatllm/orchestrator/internal/models"
	"github.com/groupchatllm/orchestrator/internal/providers"
)

// Defaults for the summarization trigger.
const (
	defaultContextLimit = 3000
	defaultKeepRecent   = 10

	// triggerRatio of the context limit at which summarization kicks in.
	triggerRatio = 0.7

	// recentWindow is how many trailing messages the trigger measures.
	recentWindow = 20

	// maxLineLength truncates each summarized message line.
	maxLineLength = 500
)

// Backend produces the summary text. Any provider adapter satisfies it.
type Backend interface {
	Complete(ctx context.Context, turns []models.ContextTurn, opts providers.Options) (string, error)
}

// Config tunes the summarizer.
type Config struct {
	ContextLimit int
	KeepRecent   int
}

type cached struct {
	summary string
	point   int // message count when the summary was generated
}

// Summarizer creates and caches per-session summaries. A nil backend (no
// credential configured) degrades every call to the deterministic fallback.
type Summarizer struct {
	backend Backend
	cfg     Config
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]cached
}

func New(backend Backend, cfg Config, logger *zap.Logger) *Summarizer {
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = defaultContextLimit
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = defaultKeepRecent
	}
	return &Summarizer{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		cache:   make(map[string]cached),
	}
}

// ShouldSummarize reports whether the history is long and recent enough to
// need a summary: at least 10 messages, with the trailing window estimated
// above 70% of the context limit.
func (s *Summarizer) ShouldSummarize(msgs []models.Message) bool {
	if len(msgs) < defaultKeepRecent {
		return false
	}
	recent := msgs
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	return estimateMessages(recent) > int(float64(s.cfg.ContextLimit)*triggerRatio)
}

// Summarize returns a summary of all messages except the KeepRecent tail.
// Results are cached per session and regenerated only after KeepRecent new
// messages have arrived since the last summarization point.
func (s *Summarizer) Summarize(ctx context.Context, sessionID string, msgs []models.Message) string {
	if len(msgs) <= s.cfg.KeepRecent {
		return ""
	}

	s.mu.Lock()
	if c, ok := s.cache[sessionID]; ok && len(msgs)-c.point < s.cfg.KeepRecent {
		s.mu.Unlock()
		metrics.SummariesCreated.WithLabelValues("cached").Inc()
		return c.summary
	}
	s.mu.Unlock()

	older := msgs[:len(msgs)-s.cfg.KeepRecent]

	summary, outcome := s.generate(ctx, older)
	s.mu.Lock()
	s.cache[sessionID] = cached{summary: summary, point: len(msgs)}
	s.mu.Unlock()

	metrics.SummariesCreated.WithLabelValues(outcome).Inc()
	return summary
}

// Forget drops a session's cached summary.
func (s *Summarizer) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.cache, sessionID)
	s.mu.Unlock()
}

func (s *Summarizer) generate(ctx context.Context, older []models.Message) (summary, outcome string) {
	if s.backend == nil {
		return basicSummary(older), "fallback"
	}

	text, err := s.backend.Complete(ctx,
		[]models.ContextTurn{{Role: models.RoleUser, Content: buildPrompt(older)}},
		providers.Options{Temperature: 0.3})
	if err != nil || strings.TrimSpace(text) == "" {
		s.logger.Warn("Summary generation failed, using basic summary", zap.Error(err))
		return basicSummary(older), "fallback"
	}

	s.logger.Info("Created context summary", zap.Int("messages", len(older)))
	return strings.TrimSpace(text), "llm"
}

func buildPrompt(older []models.Message) string {
	lines := make([]string, 0, len(older))
	for _, m := range older {
		author := m.ModelSource
		if author == "" {
			author = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s...", author, truncateRunes(m.Content, maxLineLength)))
	}

	return fmt.Sprintf(`Summarize this collaborative AI discussion concisely:

%s

Create a brief summary (max 200 words) that:
1. Captures the main mission/goal
2. Lists key insights from each AI participant
3. Notes any important decisions or conclusions
4. Highlights areas of collaboration/disagreement

Summary:`, strings.Join(lines, "\n"))
}

// basicSummary is the deterministic fallback: per-author message counts plus
// the opening user request.
func basicSummary(older []models.Message) string {
	var order []string
	counts := make(map[string]int)
	for _, m := range older {
		author := m.ModelSource
		if author == "" {
			author = "User"
		}
		if _, seen := counts[author]; !seen {
			order = append(order, author)
		}
		counts[author]++
	}

	parts := make([]string, len(order))
	for i, author := range order {
		parts[i] = fmt.Sprintf("%s (%d)", author, counts[author])
	}

	summary := fmt.Sprintf("Previous discussion (%d messages): %s", len(older), strings.Join(parts, ", "))
	for _, m := range older {
		if m.ModelSource == "" {
			summary += fmt.Sprintf(". Initial request: %s...", truncateRunes(m.Content, 100))
			break
		}
	}
	return summary
}

// truncateRunes caps s at n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func estimateMessages(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += models.EstimateTokens(m.Content)
	}
	return total
}
