// Package scoring computes promise fulfillment scores from linked evidence.
package scoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/civictrail/promisetrack/internal/models"
	"github.com/civictrail/promisetrack/internal/pipeline"
)

// JobName identifies the scorer inside the scoring stage.
const JobName = "promise_scorer"

// Store is the document-store surface the scorer needs.
type Store interface {
	Ping(ctx context.Context) error
	PromisesForSession(ctx context.Context, session string) ([]models.Promise, error)
	GetPromise(ctx context.Context, id string) (*models.Promise, error)
	CountLinkedEvidence(ctx context.Context, promiseID string) (int, error)
	UpdatePromiseScore(ctx context.Context, promiseID string, score float64, evidenceCount int) error
}

// Scorer recomputes fulfillment scores. When triggered by the linker it
// rescores only the affected promises; standalone runs rescore a whole
// session.
type Scorer struct {
	store  Store
	logger *slog.Logger
	opts   map[string]any
}

var _ pipeline.Job = (*Scorer)(nil)

// NewScorer wires the scorer's collaborators.
func NewScorer(store Store, logger *slog.Logger, opts map[string]any) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{store: store, logger: logger, opts: opts}
}

func (s *Scorer) Name() string { return JobName }

func (s *Scorer) Config() map[string]any { return s.opts }

func (s *Scorer) ValidatePrerequisites(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("invalid configuration: no document store")
	}
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("document store unreachable: %w", err)
	}
	return nil
}

// score maps an evidence count onto [0, 1) with diminishing returns: one
// piece of evidence scores 0.33, three score 0.6, ten score ~0.83.
func score(evidenceCount int) float64 {
	if evidenceCount <= 0 {
		return 0
	}
	return float64(evidenceCount) / float64(evidenceCount+2)
}

// Execute rescores promises. An affected_promise_ids argument (set by the
// linker's trigger) narrows the run; otherwise every promise in the session
// is rescored. Per-promise failures are counted, not fatal.
func (s *Scorer) Execute(ctx context.Context, args map[string]any) (pipeline.Counts, map[string]any, error) {
	session := pipeline.StringOption(args, "parliament_session", pipeline.StringOption(s.opts, "parliament_session", ""))
	affected := pipeline.StringSliceOption(args, "affected_promise_ids")

	var counts pipeline.Counts

	var promiseIDs []string
	if len(affected) > 0 {
		promiseIDs = affected
	} else {
		promises, err := s.store.PromisesForSession(ctx, session)
		if err != nil {
			return counts, nil, fmt.Errorf("load promises: %w", err)
		}
		for _, p := range promises {
			promiseIDs = append(promiseIDs, p.ID.String())
		}
	}

	s.logger.Info("scoring run starting", "promises", len(promiseIDs), "session", session)

	for _, id := range promiseIDs {
		if err := ctx.Err(); err != nil {
			return counts, nil, err
		}
		counts.Processed++

		count, err := s.store.CountLinkedEvidence(ctx, id)
		if err != nil {
			counts.Errors++
			s.logger.Warn("count linked evidence failed", "promise_id", id, "error", err)
			continue
		}

		if err := s.store.UpdatePromiseScore(ctx, id, score(count), count); err != nil {
			counts.Errors++
			s.logger.Warn("update promise score failed", "promise_id", id, "error", err)
			continue
		}
		counts.Updated++
	}

	s.logger.Info("scoring run complete",
		"processed", counts.Processed, "updated", counts.Updated, "errors", counts.Errors)
	return counts, map[string]any{"scored": counts.Updated}, nil
}

// ShouldTriggerDownstream is always false: scoring is the last stage.
func (s *Scorer) ShouldTriggerDownstream(result pipeline.Result) bool { return false }

func (s *Scorer) TriggerMetadata(result pipeline.Result) map[string]any { return nil }
