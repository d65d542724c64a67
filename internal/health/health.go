// Package health reports process and dependency status for the health
// endpoints.
package health

import (
	"context"
	"os"
	"sort"

	"github.com/groupchatllm/orchestrator/internal/providers"
)

// Checker assembles the health report.
type Checker struct {
	factory *providers.Factory
}

func NewChecker(factory *providers.Factory) *Checker {
	return &Checker{factory: factory}
}

// Report returns the health payload: per-provider credential presence and
// the models currently available.
func (c *Checker) Report(_ context.Context) map[string]any {
	available := c.factory.AvailableModels()
	ids := make([]string, 0, len(available))
	for id := range available {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return map[string]any{
		"status": "healthy",
		"services": map[string]any{
			"api":             "operational",
			"session_manager": "operational",
			"providers": map[string]bool{
				"openai":    os.Getenv("OPENAI_API_KEY") != "",
				"anthropic": os.Getenv("ANTHROPIC_API_KEY") != "",
				"google":    os.Getenv("GOOGLE_API_KEY") != "",
			},
			"available_models": ids,
		},
	}
}
