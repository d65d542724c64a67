package models

import "strings"

// DetectProvider determines the provider from a model name using pattern
// matching on common naming conventions. Persona configuration carries an
// explicit provider field; this is the fallback for bare model identifiers.
func DetectProvider(model string) string {
	if model == "" {
		return "unknown"
	}
	ml := strings.ToLower(model)

	if strings.Contains(ml, "gpt-") || strings.HasPrefix(ml, "o1") ||
		strings.Contains(ml, "davinci") || strings.Contains(ml, "turbo") {
		return "openai"
	}
	if strings.Contains(ml, "claude") || strings.Contains(ml, "opus") ||
		strings.Contains(ml, "sonnet") || strings.Contains(ml, "haiku") {
		return "anthropic"
	}
	if strings.Contains(ml, "gemini") || strings.Contains(ml, "palm") ||
		strings.Contains(ml, "bard") {
		return "google"
	}
	return "unknown"
}

// LargeContextModel reports whether the model belongs to a family that gets
// the larger per-request context budget.
func LargeContextModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "gpt-4")
}

// ModelIdentifier reverse-maps a full model name to its short catalog
// identifier, falling back to the name itself.
func ModelIdentifier(modelName string) string {
	m := map[string]string{
		"gpt-4-0125-preview":         "gpt-4o",
		"gpt-4":                      "gpt-4",
		"claude-3-5-sonnet-20241022": "claude-3.5",
		"claude-3-sonnet-20240229":   "claude-3",
		"gemini-1.5-pro":             "gemini-1.5",
		"gemini-2.0-flash":           "gemini-2.0",
	}
	if id, ok := m[modelName]; ok {
		return id
	}
	return modelName
}

// EstimateTokens is the shared rough token estimate used for context
// budgeting: ~4 characters per token plus a small per-message overhead.
// Exact counting is deliberately out of scope.
func EstimateTokens(content string) int {
	return len(content)/4 + 4
}

// EstimateTurnTokens sums token estimates over a context view.
func EstimateTurnTokens(turns []ContextTurn) int {
	total := 0
	for _, t := range turns {
		total += EstimateTokens(t.Content)
	}
	return total
}
