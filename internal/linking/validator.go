package linking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/civictrail/promisetrack/internal/models"
)

// Completer generates free-text completions. Satisfied by llm.Model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Relationship categories assigned to validated matches.
const (
	CategoryDirectImplementation = "Direct Implementation"
	CategorySupportingAction     = "Supporting Action"
	CategoryRelatedPolicy        = "Related Policy"
	CategoryNotRelated           = "Not Related"
)

// Similarity tiers. Candidates at or above the bypass threshold skip LLM
// validation and get a category assigned from their similarity band.
const (
	DefaultBypassThreshold     = 0.50
	DefaultValidationThreshold = 0.5
	DefaultMaxLLMCandidates    = 5

	bandDirect     = 0.65
	bandSupporting = 0.55

	// Hard cap on candidates packed into a single validation prompt.
	maxPromptCandidates = 8
)

// MatchEvaluation is the validator's verdict on one candidate.
type MatchEvaluation struct {
	PromiseID  string  `json:"promise_id"`
	Similarity float64 `json:"similarity"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Bypassed   bool    `json:"bypassed"`
}

// Validator routes candidates through similarity-tier bypass or batched LLM
// validation and filters the results by confidence.
type Validator struct {
	completer           Completer
	logger              *slog.Logger
	bypassThreshold     float64
	validationThreshold float64
	maxLLMCandidates    int
}

// NewValidator builds a validator with the default thresholds. The completer
// may be nil, in which case every sub-bypass candidate is discarded.
func NewValidator(completer Completer, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		completer:           completer,
		logger:              logger,
		bypassThreshold:     DefaultBypassThreshold,
		validationThreshold: DefaultValidationThreshold,
		maxLLMCandidates:    DefaultMaxLLMCandidates,
	}
}

// bypassEvaluation maps a high-similarity candidate onto a category and
// fixed confidence without consulting the LLM.
func bypassEvaluation(c MatchCandidate) MatchEvaluation {
	eval := MatchEvaluation{
		PromiseID:  c.PromiseID,
		Similarity: c.Similarity,
		Bypassed:   true,
	}
	switch {
	case c.Similarity >= bandDirect:
		eval.Category = CategoryDirectImplementation
		eval.Confidence = 0.9
	case c.Similarity >= bandSupporting:
		eval.Category = CategorySupportingAction
		eval.Confidence = 0.8
	default:
		eval.Category = CategoryRelatedPolicy
		eval.Confidence = 0.7
	}
	return eval
}

// Validate evaluates candidates for one evidence item. Candidates at or
// above the bypass threshold are categorized from their similarity band; the
// top maxLLMCandidates below it are judged by the LLM in one batched prompt.
// Returned evaluations are confidence-filtered, Not Related removed, and
// sorted by confidence then similarity descending.
func (v *Validator) Validate(ctx context.Context, item models.EvidenceItem, promises map[string]models.Promise, candidates []MatchCandidate) ([]MatchEvaluation, error) {
	var evaluations []MatchEvaluation
	var llmCandidates []MatchCandidate

	for _, c := range candidates {
		if c.Similarity >= v.bypassThreshold {
			evaluations = append(evaluations, bypassEvaluation(c))
		} else {
			llmCandidates = append(llmCandidates, c)
		}
	}

	// The cap keeps the strongest candidates regardless of input order.
	sort.Slice(llmCandidates, func(i, j int) bool {
		return llmCandidates[i].Similarity > llmCandidates[j].Similarity
	})
	if len(llmCandidates) > v.maxLLMCandidates {
		llmCandidates = llmCandidates[:v.maxLLMCandidates]
	}
	if len(llmCandidates) > maxPromptCandidates {
		llmCandidates = llmCandidates[:maxPromptCandidates]
	}

	if len(llmCandidates) > 0 && v.completer != nil {
		llmEvals, err := v.validateBatch(ctx, item, promises, llmCandidates)
		if err != nil {
			return nil, err
		}
		evaluations = append(evaluations, llmEvals...)
	}

	filtered := evaluations[:0]
	for _, e := range evaluations {
		if e.Category == CategoryNotRelated || e.Confidence < v.validationThreshold {
			continue
		}
		filtered = append(filtered, e)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Confidence != filtered[j].Confidence {
			return filtered[i].Confidence > filtered[j].Confidence
		}
		return filtered[i].Similarity > filtered[j].Similarity
	})
	return filtered, nil
}

// validationItem is the shape the LLM is asked to return per candidate.
type validationItem struct {
	MatchNumber int     `json:"match_number"`
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

func (v *Validator) validateBatch(ctx context.Context, item models.EvidenceItem, promises map[string]models.Promise, candidates []MatchCandidate) ([]MatchEvaluation, error) {
	prompt := buildValidationPrompt(item, promises, candidates)

	response, err := v.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("validate matches: %w", err)
	}

	parsed, parseErr := parseValidationResponse(response, len(candidates))
	if parseErr != nil {
		v.logger.Warn("batched validation unparseable, falling back to per-item calls",
			"evidence_id", item.ID.String(), "candidates", len(candidates), "error", parseErr)
		return v.validatePerItem(ctx, item, promises, candidates)
	}

	evaluations := make([]MatchEvaluation, 0, len(candidates))
	seen := make(map[int]bool, len(candidates))
	for _, p := range parsed {
		idx := p.MatchNumber - 1
		if idx < 0 || idx >= len(candidates) || seen[idx] {
			continue
		}
		seen[idx] = true
		evaluations = append(evaluations, MatchEvaluation{
			PromiseID:  candidates[idx].PromiseID,
			Similarity: candidates[idx].Similarity,
			Category:   normalizeCategory(p.Category),
			Confidence: clampConfidence(p.Confidence),
			Reasoning:  p.Reasoning,
		})
	}

	// Anything the model skipped gets a low-confidence Not Related verdict
	// so downstream filtering drops it without losing the audit trail.
	for i, c := range candidates {
		if !seen[i] {
			evaluations = append(evaluations, placeholderEvaluation(c))
		}
	}
	return evaluations, nil
}

func buildValidationPrompt(item models.EvidenceItem, promises map[string]models.Promise, candidates []MatchCandidate) string {
	var b strings.Builder
	b.WriteString("You evaluate whether a government action relates to an election promise.\n\n")
	b.WriteString("GOVERNMENT ACTION:\n")
	if item.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", item.Title)
	}
	if item.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", item.Summary)
	}
	if item.SourceType != "" {
		fmt.Fprintf(&b, "Source: %s\n", item.SourceType)
	}
	b.WriteString("\nCANDIDATE PROMISES:\n")
	for i, c := range candidates {
		p := promises[c.PromiseID]
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.Text)
		if p.Description != "" {
			fmt.Fprintf(&b, "   Context: %s\n", p.Description)
		}
	}
	b.WriteString("\nFor each candidate, classify the relationship as one of: ")
	b.WriteString(`"Direct Implementation", "Supporting Action", "Related Policy", "Not Related".`)
	b.WriteString("\nRespond with ONLY a JSON array, one object per candidate:\n")
	b.WriteString(`[{"match_number": 1, "category": "...", "confidence": 0.0, "reasoning": "..."}]`)
	b.WriteString("\nmatch_number refers to the candidate numbering above. confidence is 0.0 to 1.0.\n")
	return b.String()
}

// parseValidationResponse extracts a JSON array from free-form model output.
// Models wrap JSON in markdown fences or prose, so we strip fences and slice
// from the first '[' to the last ']' before unmarshalling.
func parseValidationResponse(response string, expected int) ([]validationItem, error) {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var items []validationItem
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("parse validation array: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("empty validation array (expected %d items)", expected)
	}
	return items, nil
}

// validatePerItem judges candidates one at a time. A candidate whose
// response still cannot be parsed gets a low-confidence Not Related
// placeholder instead of failing the evidence item.
func (v *Validator) validatePerItem(ctx context.Context, item models.EvidenceItem, promises map[string]models.Promise, candidates []MatchCandidate) ([]MatchEvaluation, error) {
	evaluations := make([]MatchEvaluation, 0, len(candidates))
	for _, c := range candidates {
		prompt := buildValidationPrompt(item, promises, []MatchCandidate{c})
		response, err := v.completer.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("validate match %s: %w", c.PromiseID, err)
		}

		parsed, parseErr := parseValidationResponse(response, 1)
		if parseErr != nil || parsed[0].MatchNumber != 1 {
			v.logger.Warn("per-item validation unparseable",
				"evidence_id", item.ID.String(), "promise_id", c.PromiseID)
			evaluations = append(evaluations, placeholderEvaluation(c))
			continue
		}

		evaluations = append(evaluations, MatchEvaluation{
			PromiseID:  c.PromiseID,
			Similarity: c.Similarity,
			Category:   normalizeCategory(parsed[0].Category),
			Confidence: clampConfidence(parsed[0].Confidence),
			Reasoning:  parsed[0].Reasoning,
		})
	}
	return evaluations, nil
}

func placeholderEvaluation(c MatchCandidate) MatchEvaluation {
	return MatchEvaluation{
		PromiseID:  c.PromiseID,
		Similarity: c.Similarity,
		Category:   CategoryNotRelated,
		Confidence: 0.1,
		Reasoning:  "no verdict returned",
	}
}

func normalizeCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "direct implementation":
		return CategoryDirectImplementation
	case "supporting action":
		return CategorySupportingAction
	case "related policy":
		return CategoryRelatedPolicy
	default:
		return CategoryNotRelated
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
