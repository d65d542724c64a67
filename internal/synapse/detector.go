// Package synapse detects collaborative connections ("synapses") between
// participant messages: one message building on, synthesizing, reinforcing,
// or clarifying an earlier message by a different participant.
package synapse

import (
	"context"
	"math"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/groupchatllm/orchestrator/internal/metrics"
	"github.com/groupchatllm/orchestrator/internal/models"
)

// Similarity thresholds for the semantic tier.
const (
	highSimilarity    = 0.85
	mediumSimilarity  = 0.70
	lowSimilarity     = 0.55
	minimumSimilarity = 0.40
)

// Emission thresholds per tier.
const (
	semanticThreshold = 0.5
	keywordThreshold  = 0.3
)

// candidateWindow bounds how far back a new message can connect.
const candidateWindow = 10

// Embedder produces an embedding vector for a text. The production wiring
// uses the embeddings service; tests inject stubs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Result is a detected synapse: the new message connects to the message with
// AnchorID with the given kind and strength in (0, 1].
type Result struct {
	Kind     models.SynapseKind
	Strength float64
	AnchorID string
}

// cues describe one synapse kind's linguistic evidence and its weight.
type cues struct {
	kind     models.SynapseKind
	keywords []string
	patterns []*regexp.Regexp
	weight   float64
}

// kindCues is ordered by tie-break preference: on equal scores the earlier
// kind wins. All matching runs against lowercased content.
var kindCues = []cues{
	{
		kind:     models.SynapseBuilding,
		keywords: []string{"building on", "expanding", "adding to", "furthermore", "additionally", "moreover"},
		patterns: compile(`as \w+ mentioned`, `following up on`, `to add to`),
		weight:   0.8,
	},
	{
		kind:     models.SynapseSynthesis,
		keywords: []string{"combining", "synthesizing", "bringing together", "integrating", "merging"},
		patterns: compile(`taking both .* and`, `synthesis of`, `integrated approach`),
		weight:   0.9,
	},
	{
		kind:     models.SynapseReinforcement,
		keywords: []string{"agree", "absolutely", "exactly", "reinforcing", "supporting", "confirm"},
		patterns: compile(`i (?:strongly )?agree`, `exactly right`, `spot on`),
		weight:   0.7,
	},
	{
		kind:     models.SynapseClarification,
		keywords: []string{"clarifying", "specifically", "precisely", "to be clear", "in other words"},
		patterns: compile(`to clarify`, `more specifically`, `what i mean is`),
		weight:   0.6,
	},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Detector finds synapses between a finalized message and recent history.
// With no embedder (or when embedding fails) it silently degrades to the
// keyword tier; detection never returns an error.
type Detector struct {
	embedder Embedder
	logger   *zap.Logger
}

func NewDetector(embedder Embedder, logger *zap.Logger) *Detector {
	return &Detector{embedder: embedder, logger: logger}
}

// Detect analyzes a new message against recent history and returns the
// strongest connection found, or nil.
func (d *Detector) Detect(ctx context.Context, newMsg models.Message, recent []models.Message) *Result {
	candidates := d.candidates(newMsg, recent)
	if len(candidates) == 0 {
		return nil
	}

	if d.embedder != nil {
		// A semantic tier that ran but found nothing strong enough still
		// falls through to the keyword tier.
		if r, ok := d.semanticTier(ctx, newMsg, candidates); ok && r != nil {
			metrics.SynapsesDetected.WithLabelValues(string(r.Kind)).Inc()
			return r
		}
	}

	r := d.keywordTier(newMsg, candidates)
	if r != nil {
		metrics.SynapsesDetected.WithLabelValues(string(r.Kind)).Inc()
	}
	return r
}

// candidates returns the last candidateWindow participant messages authored
// by someone other than the new message's author.
func (d *Detector) candidates(newMsg models.Message, recent []models.Message) []models.Message {
	var out []models.Message
	for _, m := range recent {
		if m.ID == newMsg.ID || !m.IsParticipant() || m.ModelSource == newMsg.ModelSource {
			continue
		}
		out = append(out, m)
	}
	if len(out) > candidateWindow {
		out = out[len(out)-candidateWindow:]
	}
	return out
}

// semanticTier finds the most similar candidate above the minimum similarity
// and classifies the connection. The second return is false when embeddings
// were unavailable and the caller should degrade to the keyword tier.
func (d *Detector) semanticTier(ctx context.Context, newMsg models.Message, candidates []models.Message) (*Result, bool) {
	newVec, err := d.embedder.Embed(ctx, newMsg.Content)
	if err != nil {
		d.logger.Debug("Embedding unavailable, degrading to keyword detection", zap.Error(err))
		return nil, false
	}

	var best *models.Message
	highest := 0.0
	for i := range candidates {
		vec, err := d.embedder.Embed(ctx, candidates[i].Content)
		if err != nil {
			d.logger.Debug("Embedding unavailable, degrading to keyword detection", zap.Error(err))
			return nil, false
		}
		sim := Cosine(newVec, vec)
		if sim > highest && sim >= minimumSimilarity {
			highest = sim
			best = &candidates[i]
		}
	}
	if best == nil {
		return nil, true
	}

	kind, strength := classify(newMsg.Content, highest)
	if strength > semanticThreshold {
		return &Result{Kind: kind, Strength: strength, AnchorID: best.ID}, true
	}
	return nil, true
}

// classify scores the new content against each kind's cues, factoring in the
// semantic similarity, and returns the best kind with its strength. When the
// cue evidence stays below the emission threshold but similarity is medium or
// better, the connection defaults to BUILDING at 0.7 of the similarity.
func classify(content string, similarity float64) (models.SynapseKind, float64) {
	lower := strings.ToLower(content)

	bestKind := models.SynapseBuilding
	bestScore := 0.0
	for _, c := range kindCues {
		score := cueScore(lower, c)
		if score == 0 {
			// the similarity bonus amplifies linguistic evidence, it is
			// not evidence by itself
			continue
		}
		switch {
		case similarity >= highSimilarity:
			score += 0.3
		case similarity >= mediumSimilarity:
			score += 0.2
		case similarity >= lowSimilarity:
			score += 0.1
		}
		score *= c.weight
		if score > bestScore {
			bestScore = score
			bestKind = c.kind
		}
	}

	if bestScore < semanticThreshold && similarity >= mediumSimilarity {
		return models.SynapseBuilding, similarity * 0.7
	}
	return bestKind, math.Min(bestScore, 1.0)
}

// cueScore sums keyword (0.3 each) and pattern (0.4 each) evidence.
func cueScore(lower string, c cues) float64 {
	score := 0.0
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			score += 0.3
		}
	}
	for _, p := range c.patterns {
		if p.MatchString(lower) {
			score += 0.4
		}
	}
	return score
}

// keywordTier scores every (candidate, kind) pair on cue evidence plus term
// overlap with the candidate, and emits the best pair above the threshold.
func (d *Detector) keywordTier(newMsg models.Message, candidates []models.Message) *Result {
	lower := strings.ToLower(newMsg.Content)
	newTerms := termSet(lower)

	var best *Result
	bestScore := 0.0
	for i := range candidates {
		prevTerms := termSet(strings.ToLower(candidates[i].Content))
		overlap := termOverlap(newTerms, prevTerms)

		for _, c := range kindCues {
			score := (cueScore(lower, c) + overlap*0.3) * c.weight
			if score > bestScore {
				bestScore = score
				best = &Result{Kind: c.kind, Strength: score, AnchorID: candidates[i].ID}
			}
		}
	}

	if best != nil && bestScore > keywordThreshold {
		best.Strength = math.Min(best.Strength, 1.0)
		return best
	}
	return nil
}

func termSet(lower string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, t := range strings.Fields(lower) {
		terms[t] = struct{}{}
	}
	return terms
}

func termOverlap(a, b map[string]struct{}) float64 {
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	if denom == 0 {
		denom = 1
	}
	return float64(shared) / float64(denom)
}

// Cosine computes cosine similarity between two vectors, 0 when either is
// empty or lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
