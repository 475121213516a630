// Package linking matches evidence items against promises using embedding
// similarity with LLM validation of borderline candidates.
package linking

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/civictrail/promisetrack/internal/models"
)

// Embedder generates embedding vectors for matching text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// MatchCandidate pairs a promise id with its cosine similarity to an
// evidence item.
type MatchCandidate struct {
	PromiseID  string
	Similarity float64
}

// DefaultMaxCandidates caps the candidate list returned by FindMatches.
const DefaultMaxCandidates = 50

// EvidenceMatchingText selects the text embedded for an evidence item.
// Preference order: summary, then title, then description, then joined
// concepts, then the record id. The result is never empty.
func EvidenceMatchingText(item models.EvidenceItem) string {
	if s := strings.TrimSpace(item.Summary); s != "" {
		return s
	}
	if s := strings.TrimSpace(item.Title); s != "" {
		return s
	}
	if s := strings.TrimSpace(item.Description); s != "" {
		return s
	}
	if s := strings.TrimSpace(strings.Join(item.ExtractedConcepts, " ")); s != "" {
		return s
	}
	return item.ID.String()
}

// PromiseMatchingText selects the text embedded for a promise: the promise
// text plus its description when present.
func PromiseMatchingText(p models.Promise) string {
	text := strings.TrimSpace(p.Text)
	if desc := strings.TrimSpace(p.Description); desc != "" {
		if text == "" {
			return desc
		}
		return text + " " + desc
	}
	return text
}

// CosineSimilarity computes cosine similarity between two vectors, hardened
// against malformed embeddings: mismatched lengths, zero norms, NaN or Inf
// components all yield 0. The result is clipped to [-1, 1].
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// minVectorNorm rejects degenerate embeddings. An all-zeros vector has no
// direction, so every cosine similarity against it is meaningless.
const minVectorNorm = 1e-10

func vectorUsable(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	var norm float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		norm += f * f
	}
	return math.Sqrt(norm) >= minVectorNorm
}

// FindMatches ranks promise embeddings by cosine similarity to the query
// vector, keeping candidates at or above threshold, sorted descending, and
// truncated to maxCandidates (DefaultMaxCandidates when <= 0). Candidate
// vectors that are malformed are skipped with a warning instead of failing
// the whole batch; a malformed query vector is an error.
func FindMatches(query []float32, promiseVectors map[string][]float32, threshold float64, maxCandidates int) ([]MatchCandidate, error) {
	if !vectorUsable(query) {
		return nil, fmt.Errorf("query embedding unusable (len=%d)", len(query))
	}
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	candidates := make([]MatchCandidate, 0, len(promiseVectors))
	for id, vec := range promiseVectors {
		if !vectorUsable(vec) || len(vec) != len(query) {
			slog.Warn("skipping promise with unusable embedding", "promise_id", id, "dimension", len(vec))
			continue
		}
		sim := CosineSimilarity(query, vec)
		if sim >= threshold {
			candidates = append(candidates, MatchCandidate{PromiseID: id, Similarity: sim})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].PromiseID < candidates[j].PromiseID
	})

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates, nil
}
