package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/civictrail/promisetrack/internal/llm"
	"github.com/civictrail/promisetrack/internal/metrics"
	"github.com/civictrail/promisetrack/internal/models"
	"github.com/civictrail/promisetrack/internal/pipeline"
)

// JobName identifies the linker inside the linking stage.
const JobName = "evidence_linker"

// DefaultSimilarityThreshold is the minimum cosine similarity for a promise
// to enter the candidate list at all.
const DefaultSimilarityThreshold = 0.3

// Store is the document-store surface the linker needs.
type Store interface {
	Ping(ctx context.Context) error
	PendingEvidence(ctx context.Context, session string, limit int) ([]models.EvidenceItem, error)
	ProcessedEvidenceByRawID(ctx context.Context, rawID string) ([]models.EvidenceItem, error)
	PromisesForSession(ctx context.Context, session string) ([]models.Promise, error)
	MergeEvidenceLinks(ctx context.Context, id string, promiseIDs []string, metadata map[string]any) error
	MarkEvidenceError(ctx context.Context, id string, msg string) error
}

// Linker is the evidence-linking job: it embeds pending evidence items,
// ranks promises by similarity, validates borderline matches with the LLM
// and writes the resulting links back as idempotent merges.
type Linker struct {
	store     Store
	embedder  Embedder
	validator *Validator
	collector *metrics.Collector
	logger    *slog.Logger
	opts      map[string]any
}

var _ pipeline.Job = (*Linker)(nil)

// NewLinker wires the linker's collaborators. The collector may be nil.
func NewLinker(store Store, embedder Embedder, validator *Validator, collector *metrics.Collector, logger *slog.Logger, opts map[string]any) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{
		store:     store,
		embedder:  embedder,
		validator: validator,
		collector: collector,
		logger:    logger,
		opts:      opts,
	}
}

func (l *Linker) Name() string { return JobName }

func (l *Linker) Config() map[string]any { return l.opts }

// ValidatePrerequisites checks the document store is reachable. A failure
// here is terminal; connection problems are not worth retrying the whole run.
func (l *Linker) ValidatePrerequisites(ctx context.Context) error {
	if l.store == nil {
		return fmt.Errorf("invalid configuration: no document store")
	}
	if l.embedder == nil {
		return fmt.Errorf("invalid configuration: no embedder")
	}
	if err := l.store.Ping(ctx); err != nil {
		return fmt.Errorf("document store unreachable: %w", err)
	}
	return nil
}

// Execute links all pending evidence items. Per-item failures are recorded
// and counted without failing the run; a fatal LLM API error (exhausted
// credits, bad key) aborts immediately.
func (l *Linker) Execute(ctx context.Context, args map[string]any) (pipeline.Counts, map[string]any, error) {
	session := pipeline.StringOption(args, "parliament_session", pipeline.StringOption(l.opts, "parliament_session", ""))
	limit := pipeline.IntOption(args, "limit", pipeline.IntOption(l.opts, "limit", 100))
	threshold := floatOption(args, "similarity_threshold", floatOption(l.opts, "similarity_threshold", DefaultSimilarityThreshold))

	var counts pipeline.Counts

	items, err := l.store.PendingEvidence(ctx, session, limit)
	if err != nil {
		return counts, nil, fmt.Errorf("load pending evidence: %w", err)
	}
	if len(items) == 0 {
		l.logger.Info("no pending evidence", "session", session)
		return counts, map[string]any{"affected_promise_ids": []string{}}, nil
	}

	promises, err := l.store.PromisesForSession(ctx, session)
	if err != nil {
		return counts, nil, fmt.Errorf("load promises: %w", err)
	}

	promiseIndex := make(map[string]models.Promise, len(promises))
	for _, p := range promises {
		promiseIndex[p.ID.String()] = p
	}

	// Promise embeddings are computed once per run and reused across items.
	promiseVectors, err := l.embedPromises(ctx, promises)
	if err != nil {
		return counts, nil, fmt.Errorf("embed promises: %w", err)
	}

	l.logger.Info("linking run starting",
		"pending", len(items), "promises", len(promises), "session", session)

	affected := make(map[string]struct{})
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return counts, triggerMeta(affected, session), err
		}

		itemLinks, itemErr := l.linkItem(ctx, item, promiseIndex, promiseVectors, threshold, &counts)
		if itemErr != nil {
			if errors.Is(itemErr, llm.ErrFatalAPI) {
				return counts, triggerMeta(affected, session), fmt.Errorf("aborting run: %w", itemErr)
			}
			counts.Errors++
			l.logger.Warn("evidence item failed", "evidence_id", item.ID.String(), "error", itemErr)
			if markErr := l.store.MarkEvidenceError(ctx, models.MustRecordIDString(item.ID), itemErr.Error()); markErr != nil {
				l.logger.Warn("could not mark evidence error", "evidence_id", item.ID.String(), "error", markErr)
			}
			continue
		}
		for _, id := range itemLinks {
			affected[id] = struct{}{}
		}
	}

	l.logger.Info("linking run complete",
		"processed", counts.Processed, "links_created", counts.Created,
		"skipped", counts.Skipped, "errors", counts.Errors)
	return counts, triggerMeta(affected, session), nil
}

// linkItem processes one evidence item and returns the promise ids it was
// linked to. Counts are updated in place.
func (l *Linker) linkItem(ctx context.Context, item models.EvidenceItem, promiseIndex map[string]models.Promise, promiseVectors map[string][]float32, threshold float64, counts *pipeline.Counts) ([]string, error) {
	counts.Processed++
	itemID := models.MustRecordIDString(item.ID)

	// Evidence items extracted from the same raw document as an already
	// linked sibling inherit its links: a bill's later stages implement the
	// same promises the bill's introduction did.
	if item.SourceType == models.SourceBillEvent && item.SourceDocumentRaw != "" {
		inherited, err := l.sameDocumentLinks(ctx, item)
		if err != nil {
			return nil, err
		}
		if len(inherited) > 0 {
			meta := map[string]any{
				"method":     "same_document",
				"confidence": 0.95,
				"linked_at":  time.Now().UTC().Format(time.RFC3339),
			}
			if err := l.store.MergeEvidenceLinks(ctx, itemID, inherited, meta); err != nil {
				return nil, err
			}
			counts.Created += len(inherited)
			if l.collector != nil {
				l.collector.RecordItems(metrics.OpBypass, 0, int64(len(inherited)))
			}
			l.logger.Debug("same-document links inherited",
				"evidence_id", itemID, "links", len(inherited))
			return inherited, nil
		}
	}

	// Matching text falls back to the record id, so there is always
	// something to embed.
	text := EvidenceMatchingText(item)

	embedStart := time.Now()
	queryVec, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed evidence: %w", err)
	}
	if l.collector != nil {
		l.collector.RecordTiming(metrics.OpEmbedding, time.Since(embedStart))
	}

	candidates, err := FindMatches(queryVec, promiseVectors, threshold, 0)
	if err != nil {
		return nil, err
	}

	validateStart := time.Now()
	evaluations, err := l.validator.Validate(ctx, item, promiseIndex, candidates)
	if err != nil {
		return nil, err
	}
	if l.collector != nil {
		l.collector.RecordItems(metrics.OpLLMValidate, time.Since(validateStart), int64(len(candidates)))
	}

	linked := make([]string, 0, len(evaluations))
	matchMeta := make([]map[string]any, 0, len(evaluations))
	var confidenceSum float64
	for _, e := range evaluations {
		linked = append(linked, e.PromiseID)
		confidenceSum += e.Confidence
		matchMeta = append(matchMeta, map[string]any{
			"promise_id": e.PromiseID,
			"similarity": e.Similarity,
			"category":   e.Category,
			"confidence": e.Confidence,
			"bypassed":   e.Bypassed,
		})
	}

	meta := map[string]any{
		"method":    "embedding",
		"matches":   matchMeta,
		"linked_at": time.Now().UTC().Format(time.RFC3339),
	}
	if len(evaluations) > 0 {
		meta["avg_confidence"] = confidenceSum / float64(len(evaluations))
	}
	if err := l.store.MergeEvidenceLinks(ctx, itemID, linked, meta); err != nil {
		return nil, err
	}
	counts.Created += len(linked)
	return linked, nil
}

// sameDocumentLinks collects the union of promise ids across processed
// siblings sharing the item's raw source document.
func (l *Linker) sameDocumentLinks(ctx context.Context, item models.EvidenceItem) ([]string, error) {
	siblings, err := l.store.ProcessedEvidenceByRawID(ctx, item.SourceDocumentRaw)
	if err != nil {
		return nil, fmt.Errorf("same-document lookup: %w", err)
	}

	seen := make(map[string]struct{})
	for _, sib := range siblings {
		if sib.ID == item.ID {
			continue
		}
		for _, id := range sib.PromiseIDs {
			seen[id] = struct{}{}
		}
	}

	links := make([]string, 0, len(seen))
	for id := range seen {
		links = append(links, id)
	}
	sort.Strings(links)
	return links, nil
}

func (l *Linker) embedPromises(ctx context.Context, promises []models.Promise) (map[string][]float32, error) {
	if len(promises) == 0 {
		return map[string][]float32{}, nil
	}

	ids := make([]string, 0, len(promises))
	texts := make([]string, 0, len(promises))
	for _, p := range promises {
		text := PromiseMatchingText(p)
		if text == "" {
			l.logger.Warn("promise has no matching text", "promise_id", p.ID.String())
			continue
		}
		ids = append(ids, p.ID.String())
		texts = append(texts, text)
	}

	start := time.Now()
	vectors, err := l.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if l.collector != nil {
		l.collector.RecordTiming(metrics.OpEmbedding, time.Since(start))
	}

	out := make(map[string][]float32, len(ids))
	for i, id := range ids {
		out[id] = vectors[i]
	}
	return out, nil
}

// ShouldTriggerDownstream fires downstream jobs only when new links exist.
func (l *Linker) ShouldTriggerDownstream(result pipeline.Result) bool {
	return result.Succeeded() && result.Counts.Created > 0
}

// TriggerMetadata forwards the affected promise ids so downstream jobs can
// rescore only what changed.
func (l *Linker) TriggerMetadata(result pipeline.Result) map[string]any {
	args := map[string]any{}
	if result.Metadata != nil {
		if ids, ok := result.Metadata["affected_promise_ids"]; ok {
			args["affected_promise_ids"] = ids
		}
		if session, ok := result.Metadata["parliament_session"]; ok {
			args["parliament_session"] = session
		}
	}
	return args
}

func triggerMeta(affected map[string]struct{}, session string) map[string]any {
	ids := make([]string, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	meta := map[string]any{"affected_promise_ids": ids}
	if session != "" {
		meta["parliament_session"] = session
	}
	return meta
}

func floatOption(opts map[string]any, key string, defaultVal float64) float64 {
	if opts == nil {
		return defaultVal
	}
	switch v := opts[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return defaultVal
}
