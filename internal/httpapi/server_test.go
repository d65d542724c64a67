package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/health"
	"github.com/groupchatllm/orchestrator/internal/providers"
	"github.com/groupchatllm/orchestrator/internal/session"
	"github.com/groupchatllm/orchestrator/internal/store"
	"github.com/groupchatllm/orchestrator/internal/summarizer"
	"github.com/groupchatllm/orchestrator/internal/synapse"
)

const testCatalog = `personas:
  gpt-4o:
    provider: openai
    model_name: gpt-4-0125-preview
    role: Strategic Analyst
    icon: "🧠"
    prompt_prefix: "You are a strategic analyst."
  gpt-4:
    provider: openai
    model_name: gpt-4
    role: Evidence Reviewer
    icon: "🔍"
    prompt_prefix: "You review evidence."
  claude-3.5:
    provider: anthropic
    model_name: claude-3-5-sonnet-20241022
    role: Creative Synthesizer
    icon: "✨"
    prompt_prefix: "You synthesize ideas."
  claude-3:
    provider: anthropic
    model_name: claude-3-sonnet-20240229
    role: Devil's Advocate
    icon: "😈"
    prompt_prefix: "You challenge assumptions."
  gemini-1.5:
    provider: google
    model_name: gemini-1.5-pro
    role: Research Specialist
    icon: "📚"
    prompt_prefix: "You research deeply."
  gemini-2.0:
    provider: google
    model_name: gemini-2.0-flash
    role: Rapid Prototyper
    icon: "⚡"
    prompt_prefix: "You prototype quickly."
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))
	factory, err := providers.NewFactory(path, zap.NewNop())
	require.NoError(t, err)

	det := synapse.NewDetector(nil, zap.NewNop())
	sum := summarizer.New(nil, summarizer.Config{}, zap.NewNop())
	st := store.NewWithClient(nil, zap.NewNop())
	mgr := session.NewManager(factory, st, det, sum,
		session.Config{IdleTimeout: time.Second, Buffer: 16}, zap.NewNop())

	srv := NewServer(mgr, factory, health.NewChecker(factory), zap.NewNop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, ts *httptest.Server, path string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func postJSON(t *testing.T, ts *httptest.Server, path string, payload any, wantStatus int) map[string]any {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t)
	body := getJSON(t, ts, "/", http.StatusOK)
	assert.Equal(t, "GroupChatLLM", body["name"])
	assert.Equal(t, "operational", body["status"])
}

func TestHealth(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	ts := newTestServer(t)

	body := getJSON(t, ts, "/api/health", http.StatusOK)
	assert.Equal(t, "healthy", body["status"])

	services := body["services"].(map[string]any)
	provs := services["providers"].(map[string]any)
	assert.Equal(t, true, provs["openai"])
	assert.Equal(t, false, provs["anthropic"])
	assert.ElementsMatch(t, []any{"gpt-4", "gpt-4o"}, services["available_models"])
}

func TestAvailableModels(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	ts := newTestServer(t)

	body := getJSON(t, ts, "/api/panels/available-models", http.StatusOK)
	ms := body["models"].([]any)
	require.Len(t, ms, 2)
	for _, m := range ms {
		entry := m.(map[string]any)
		assert.Equal(t, "openai", entry["provider"])
		assert.NotEmpty(t, entry["description"])
	}
}

func TestPresetsFilterUnavailableModels(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	ts := newTestServer(t)

	body := getJSON(t, ts, "/api/panels/presets", http.StatusOK)
	presets := body["presets"].([]any)

	// With only OpenAI credentials, balanced and creative shrink below two
	// usable models and are dropped; analytical and full survive with the
	// two GPT entries.
	ids := make([]string, 0, len(presets))
	for _, p := range presets {
		preset := p.(map[string]any)
		ids = append(ids, preset["id"].(string))
		assert.Equal(t, float64(2), preset["available_count"])
		assert.ElementsMatch(t, []any{"gpt-4o", "gpt-4"}, preset["models"])
	}
	assert.ElementsMatch(t, []string{"analytical", "full"}, ids)
}

func TestValidatePanel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	ts := newTestServer(t)

	body := postJSON(t, ts, "/api/panels/validate", []string{"gpt-4o"}, http.StatusOK)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "At least 2 models required for collaboration", body["reason"])

	body = postJSON(t, ts, "/api/panels/validate",
		[]string{"a", "b", "c", "d", "e", "f", "g"}, http.StatusOK)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "Maximum 6 models recommended for optimal performance", body["reason"])

	body = postJSON(t, ts, "/api/panels/validate", []string{"gpt-4o", "claude-3.5"}, http.StatusOK)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "Invalid or unavailable models: claude-3.5", body["reason"])

	body = postJSON(t, ts, "/api/panels/validate", []string{"gpt-4o", "gpt-4"}, http.StatusOK)
	assert.Equal(t, true, body["valid"])
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	ts := newTestServer(t)

	created := postJSON(t, ts, "/api/sessions/create", map[string]any{
		"mission":         "design a rate limiter",
		"selected_models": []string{"gpt-4o", "gpt-4"},
	}, http.StatusOK)
	sessionID := created["session_id"].(string)
	require.NotEmpty(t, sessionID)
	panelists := created["panelists"].([]any)
	require.Len(t, panelists, 2)

	// The legacy alias creates sessions too.
	aliased := postJSON(t, ts, "/api/chat/sessions/create", map[string]any{
		"mission":         "second session",
		"selected_models": []string{"gpt-4o", "gpt-4"},
	}, http.StatusOK)
	require.NotEmpty(t, aliased["session_id"])

	list := getJSON(t, ts, "/api/sessions", http.StatusOK)
	assert.Len(t, list["sessions"].([]any), 2)

	// The trailing-slash form serves the same listing.
	list = getJSON(t, ts, "/api/sessions/", http.StatusOK)
	assert.Len(t, list["sessions"].([]any), 2)

	got := getJSON(t, ts, "/api/sessions/"+sessionID, http.StatusOK)
	assert.Equal(t, "design a rate limiter", got["mission"])
	assert.Equal(t, true, got["is_active"])
	require.Len(t, got["panelists"].([]any), 2)
	first := got["panelists"].([]any)[0].(map[string]any)
	assert.Equal(t, "standby", first["state"])

	status := getJSON(t, ts, "/api/chat/"+sessionID+"/status", http.StatusOK)
	states := status["model_states"].(map[string]any)
	assert.Equal(t, "standby", states["gpt-4o"])

	events := getJSON(t, ts, "/api/chat/"+sessionID+"/synapse-events", http.StatusOK)
	assert.Empty(t, events["synapses"])
	assert.Empty(t, events["events"])

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/sessions/"+sessionID+"/end", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	list = getJSON(t, ts, "/api/sessions", http.StatusOK)
	assert.Len(t, list["sessions"].([]any), 1)
}

func TestCreateSessionRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)

	body := postJSON(t, ts, "/api/sessions/create", map[string]any{
		"mission": "",
	}, http.StatusBadRequest)
	assert.Contains(t, body["detail"], "mission is required")

	resp, err := http.Post(ts.URL+"/api/sessions/create", "application/json",
		bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownSessionIs404(t *testing.T) {
	ts := newTestServer(t)

	getJSON(t, ts, "/api/sessions/nope", http.StatusNotFound)
	getJSON(t, ts, "/api/chat/nope/status", http.StatusNotFound)
	getJSON(t, ts, "/api/chat/nope/synapse-events", http.StatusNotFound)
	getJSON(t, ts, "/api/chat/nope/stream?message=hi", http.StatusNotFound)
}

func TestStreamRequiresMessage(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	ts := newTestServer(t)

	created := postJSON(t, ts, "/api/sessions/create", map[string]any{
		"mission":         "m",
		"selected_models": []string{"gpt-4o", "gpt-4"},
	}, http.StatusOK)
	sessionID := created["session_id"].(string)

	body := getJSON(t, ts, "/api/chat/"+sessionID+"/stream", http.StatusBadRequest)
	assert.Equal(t, "message query parameter is required", body["detail"])
}

func TestPersonaCRUD(t *testing.T) {
	ts := newTestServer(t)

	created := postJSON(t, ts, "/api/personas?user_id=u1", map[string]any{
		"name":          "My Skeptic",
		"provider":      "openai",
		"model_name":    "gpt-4",
		"role":          "Skeptic",
		"prompt_prefix": "Challenge every claim.",
		"is_public":     false,
	}, http.StatusOK)
	personaID := created["id"].(string)
	require.NotEmpty(t, personaID)
	assert.Equal(t, "u1", created["user_id"])
	assert.Equal(t, true, created["is_active"])

	// Listing requires a user and includes catalog defaults.
	resp, err := http.Get(ts.URL + "/api/personas?user_id=u1")
	require.NoError(t, err)
	var listed []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()

	var defaults, own int
	for _, p := range listed {
		if p["is_default"] == true {
			defaults++
		}
		if p["id"] == personaID {
			own++
		}
	}
	assert.Equal(t, 6, defaults)
	assert.Equal(t, 1, own)

	resp, err = http.Get(ts.URL + "/api/personas")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Another user's private persona stays hidden.
	resp, err = http.Get(ts.URL + "/api/personas?user_id=u2&include_defaults=false")
	require.NoError(t, err)
	var other []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&other))
	resp.Body.Close()
	assert.Empty(t, other)

	// Updates are owner-only.
	newRole := map[string]any{"role": "Chief Skeptic"}
	b, _ := json.Marshal(newRole)
	req, _ := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/api/personas/%s?user_id=u2", ts.URL, personaID), bytes.NewReader(b))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/api/personas/%s?user_id=u1", ts.URL, personaID), bytes.NewReader(b))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var updated map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	resp.Body.Close()
	assert.Equal(t, "Chief Skeptic", updated["role"])

	// Delete is soft: the persona disappears from listings.
	req, _ = http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/api/personas/%s?user_id=u1", ts.URL, personaID), nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/personas?user_id=u1&include_defaults=false")
	require.NoError(t, err)
	var after []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&after))
	resp.Body.Close()
	assert.Empty(t, after)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/sessions", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
