package synapse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/models"
)

// stubEmbedder returns fixed vectors per text, or a global error.
type stubEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float64{1, 0, 0}, nil
}

func participantMsg(id, author, content string) models.Message {
	return models.Message{
		ID:          id,
		Content:     content,
		Type:        models.MessageResponse,
		ModelSource: author,
	}
}

func TestKeywordTierClassifiesReinforcement(t *testing.T) {
	d := NewDetector(nil, zap.NewNop())

	prev := participantMsg("m1", "claude-3.5", "We should cache embeddings aggressively.")
	next := participantMsg("m2", "gpt-4o", "I agree, absolutely, exactly the right call on caching.")

	r := d.Detect(context.Background(), next, []models.Message{prev})
	require.NotNil(t, r)
	assert.Equal(t, models.SynapseReinforcement, r.Kind)
	assert.Equal(t, "m1", r.AnchorID)
	assert.Greater(t, r.Strength, 0.3)
	assert.LessOrEqual(t, r.Strength, 1.0)
}

func TestKeywordTierRequiresThreshold(t *testing.T) {
	d := NewDetector(nil, zap.NewNop())

	prev := participantMsg("m1", "claude-3.5", "Completely unrelated topic about databases.")
	next := participantMsg("m2", "gpt-4o", "The weather is nice today.")

	assert.Nil(t, d.Detect(context.Background(), next, []models.Message{prev}))
}

func TestDetectSkipsSameAuthorAndNonParticipants(t *testing.T) {
	d := NewDetector(nil, zap.NewNop())

	next := participantMsg("m3", "gpt-4o", "I agree, absolutely, exactly right.")
	recent := []models.Message{
		participantMsg("m1", "gpt-4o", "I agree with the earlier framing, absolutely."),
		{ID: "m2", Content: "I agree, absolutely.", Type: models.MessageMission}, // user message
	}

	assert.Nil(t, d.Detect(context.Background(), next, recent))
}

func TestSemanticTierEmitsWithPatternEvidence(t *testing.T) {
	prevContent := "We should shard the inverted index across nodes."
	nextContent := "As claude mentioned, we should shard the index for scale."
	emb := &stubEmbedder{vectors: map[string][]float64{
		prevContent: {1, 0, 0},
		nextContent: {1, 0, 0},
	}}
	d := NewDetector(emb, zap.NewNop())

	prev := participantMsg("m1", "claude-3.5", prevContent)
	next := participantMsg("m2", "gpt-4o", nextContent)

	r := d.Detect(context.Background(), next, []models.Message{prev})
	require.NotNil(t, r)
	assert.Equal(t, models.SynapseBuilding, r.Kind)
	assert.Equal(t, "m1", r.AnchorID)
	// pattern 0.4 + high-similarity bonus 0.3, weighted by 0.8
	assert.InDelta(t, 0.56, r.Strength, 0.001)
}

func TestSemanticTierFallsBackToBuildingOnHighSimilarity(t *testing.T) {
	// No cue phrases at all, but near-identical embeddings: the connection
	// defaults to BUILDING at 0.7 of the similarity.
	prevContent := "Search should use an inverted index."
	nextContent := "That inverted index idea could power fuzzy matching too."
	emb := &stubEmbedder{vectors: map[string][]float64{
		prevContent: {0, 1, 0},
		nextContent: {0, 1, 0},
	}}
	d := NewDetector(emb, zap.NewNop())

	prev := participantMsg("m1", "claude-3.5", prevContent)
	next := participantMsg("m2", "gpt-4o", nextContent)

	r := d.Detect(context.Background(), next, []models.Message{prev})
	require.NotNil(t, r)
	assert.Equal(t, models.SynapseBuilding, r.Kind)
	assert.Greater(t, r.Strength, 0.699)
	assert.Equal(t, "m1", r.AnchorID)
}

func TestSemanticTierWeakCueFallsBackToSimilarity(t *testing.T) {
	// "Building on" is cue evidence, but one keyword alone scores below the
	// emission threshold even with the similarity bonus (0.48 at weight 0.8).
	// High similarity still carries the connection at 0.7 of the similarity.
	prevContent := "Search should use an inverted index."
	nextContent := "Building on that, search should support fuzzy match."
	emb := &stubEmbedder{vectors: map[string][]float64{
		prevContent: {0, 1, 0},
		nextContent: {0, 1, 0},
	}}
	d := NewDetector(emb, zap.NewNop())

	prev := participantMsg("m1", "claude-3.5", prevContent)
	next := participantMsg("m2", "gpt-4o", nextContent)

	r := d.Detect(context.Background(), next, []models.Message{prev})
	require.NotNil(t, r)
	assert.Equal(t, models.SynapseBuilding, r.Kind)
	assert.InDelta(t, 0.7, r.Strength, 1e-9)
	assert.Equal(t, "m1", r.AnchorID)
}

func TestSemanticTierIgnoresLowSimilarity(t *testing.T) {
	prevContent := "Totally orthogonal subject."
	nextContent := "Another unrelated remark."
	emb := &stubEmbedder{vectors: map[string][]float64{
		prevContent: {1, 0, 0},
		nextContent: {0, 1, 0}, // cosine 0 < minimum similarity
	}}
	d := NewDetector(emb, zap.NewNop())

	prev := participantMsg("m1", "claude-3.5", prevContent)
	next := participantMsg("m2", "gpt-4o", nextContent)

	assert.Nil(t, d.Detect(context.Background(), next, []models.Message{prev}))
}

func TestEmbeddingFailureDegradesToKeywordTier(t *testing.T) {
	emb := &stubEmbedder{err: errors.New("embedding service down")}
	d := NewDetector(emb, zap.NewNop())

	prev := participantMsg("m1", "claude-3.5", "We should cache results.")
	next := participantMsg("m2", "gpt-4o", "I agree, absolutely, exactly, supporting the caching plan.")

	r := d.Detect(context.Background(), next, []models.Message{prev})
	require.NotNil(t, r)
	assert.Equal(t, models.SynapseReinforcement, r.Kind)
}

func TestDetectNoCandidates(t *testing.T) {
	d := NewDetector(nil, zap.NewNop())
	next := participantMsg("m1", "gpt-4o", "Building on nothing.")
	assert.Nil(t, d.Detect(context.Background(), next, nil))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Zero(t, Cosine(nil, []float64{1}))
	assert.Zero(t, Cosine([]float64{0, 0}, []float64{0, 0}))
}
