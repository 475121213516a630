package db

import (
	"context"
	"fmt"
	"time"

	"github.com/civictrail/promisetrack/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// PendingEvidence returns evidence items awaiting linking, optionally
// filtered by parliament session. Results are capped at limit.
func (c *Client) PendingEvidence(ctx context.Context, session string, limit int) ([]models.EvidenceItem, error) {
	if limit <= 0 {
		limit = 100
	}

	sessionClause := ""
	vars := map[string]any{"limit": limit}
	if session != "" {
		sessionClause = "AND parliament_session = $session"
		vars["session"] = session
	}

	sql := fmt.Sprintf(`
		SELECT * FROM evidence_item
		WHERE linking_status = "pending" %s
		LIMIT $limit
	`, sessionClause)

	results, err := surrealdb.Query[[]models.EvidenceItem](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("pending evidence: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.EvidenceItem{}, nil
	}
	return (*results)[0].Result, nil
}

// GetEvidence retrieves an evidence item by ID. Returns nil if not found.
func (c *Client) GetEvidence(ctx context.Context, id string) (*models.EvidenceItem, error) {
	results, err := surrealdb.Query[[]models.EvidenceItem](ctx, c.db, `
		SELECT * FROM type::record("evidence_item", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get evidence: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// ProcessedEvidenceByRawID returns already-processed evidence items sharing a
// source document. Used by the same-document linking bypass.
func (c *Client) ProcessedEvidenceByRawID(ctx context.Context, rawID string) ([]models.EvidenceItem, error) {
	results, err := surrealdb.Query[[]models.EvidenceItem](ctx, c.db, `
		SELECT * FROM evidence_item
		WHERE source_document_raw_id = $raw_id
		  AND linking_status = "processed"
		  AND array::len(promise_ids) > 0
	`, map[string]any{"raw_id": rawID})
	if err != nil {
		return nil, fmt.Errorf("evidence by raw id: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.EvidenceItem{}, nil
	}
	return (*results)[0].Result, nil
}

// MergeEvidenceLinks unions new promise ids into an evidence item and marks
// it processed. The update is an idempotent field merge: re-applying the same
// links leaves promise_ids unchanged, and links written by an overlapping
// retry are never dropped.
func (c *Client) MergeEvidenceLinks(ctx context.Context, id string, promiseIDs []string, metadata map[string]any) error {
	if promiseIDs == nil {
		promiseIDs = []string{}
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("evidence_item", $id) SET
			promise_ids = array::distinct(array::union(promise_ids ?? [], $promise_ids)),
			linking_status = "processed",
			linking_metadata = $metadata,
			updated = time::now()
	`, map[string]any{
		"id":          id,
		"promise_ids": promiseIDs,
		"metadata":    metadata,
	})
	if err != nil {
		return fmt.Errorf("merge evidence links: %w", wrapQueryError(err))
	}
	return nil
}

// MarkEvidenceError records a linking failure for an evidence item. The
// status moves to "error" and never back to "pending" automatically.
func (c *Client) MarkEvidenceError(ctx context.Context, id string, msg string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("evidence_item", $id) SET
			linking_status = "error",
			linking_metadata = { error: $msg },
			updated = time::now()
	`, map[string]any{"id": id, "msg": msg})
	if err != nil {
		return fmt.Errorf("mark evidence error: %w", wrapQueryError(err))
	}
	return nil
}

// PromisesForSession returns promises, optionally filtered by parliament
// session. Promises are read-only for the linking stage.
func (c *Client) PromisesForSession(ctx context.Context, session string) ([]models.Promise, error) {
	sessionClause := ""
	vars := map[string]any{}
	if session != "" {
		sessionClause = "WHERE parliament_session = $session"
		vars["session"] = session
	}

	sql := fmt.Sprintf(`SELECT * FROM promise %s`, sessionClause)

	results, err := surrealdb.Query[[]models.Promise](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("promises for session: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.Promise{}, nil
	}
	return (*results)[0].Result, nil
}

// GetPromise retrieves a promise by ID. Returns nil if not found.
func (c *Client) GetPromise(ctx context.Context, id string) (*models.Promise, error) {
	results, err := surrealdb.Query[[]models.Promise](ctx, c.db, `
		SELECT * FROM type::record("promise", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get promise: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// CountLinkedEvidence counts processed evidence items linked to a promise.
func (c *Client) CountLinkedEvidence(ctx context.Context, promiseID string) (int, error) {
	results, err := surrealdb.Query[[]struct {
		C int `json:"c"`
	}](ctx, c.db, `
		SELECT count() AS c FROM evidence_item
		WHERE linking_status = "processed" AND promise_ids CONTAINS $promise_id
		GROUP ALL
	`, map[string]any{"promise_id": promiseID})
	if err != nil {
		return 0, fmt.Errorf("count linked evidence: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}

// UpdatePromiseScore writes the fulfillment score for a promise as a partial
// field merge. Last write wins; no transactions.
func (c *Client) UpdatePromiseScore(ctx context.Context, promiseID string, score float64, evidenceCount int) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("promise", $id) SET
			fulfillment_score = $score,
			evidence_count = $count,
			scored_at = time::now()
	`, map[string]any{
		"id":    promiseID,
		"score": score,
		"count": evidenceCount,
	})
	if err != nil {
		return fmt.Errorf("update promise score: %w", wrapQueryError(err))
	}
	return nil
}

// AppendJobExecution appends one audit record to the job_execution
// collection.
func (c *Client) AppendJobExecution(ctx context.Context, rec models.JobExecution) error {
	// Readable record ids make the audit table greppable by stage and job.
	recordID := models.Slugify(rec.Stage+"-"+rec.JobName) + "-" + rec.RunID
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::thing('job_execution', $id) CONTENT {
			run_id: $run_id,
			stage: $stage,
			job_name: $job_name,
			status: $status,
			started_at: <datetime>$started_at,
			completed_at: <datetime>$completed_at,
			duration_ms: $duration_ms,
			processed: $processed,
			created: $created,
			updated: $updated,
			skipped: $skipped,
			errors: $errors,
			message: $message,
			metadata: $metadata
		}
	`, map[string]any{
		"id":           recordID,
		"run_id":       rec.RunID,
		"stage":        rec.Stage,
		"job_name":     rec.JobName,
		"status":       rec.Status,
		"started_at":   rec.StartedAt.UTC().Format(time.RFC3339Nano),
		"completed_at": rec.CompletedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms":  rec.DurationMs,
		"processed":    rec.Processed,
		"created":      rec.Created,
		"updated":      rec.Updated,
		"skipped":      rec.Skipped,
		"errors":       rec.Errors,
		"message":      rec.Message,
		"metadata":     rec.Metadata,
	})
	if err != nil {
		return fmt.Errorf("append job execution: %w", wrapQueryError(err))
	}
	return nil
}

// RecentJobExecutions lists audit records for a job, newest first.
func (c *Client) RecentJobExecutions(ctx context.Context, stage, jobName string, limit int) ([]models.JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}

	results, err := surrealdb.Query[[]models.JobExecution](ctx, c.db, `
		SELECT * FROM job_execution
		WHERE stage = $stage AND job_name = $job_name
		ORDER BY started_at DESC
		LIMIT $limit
	`, map[string]any{"stage": stage, "job_name": jobName, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("recent job executions: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return []models.JobExecution{}, nil
	}
	return (*results)[0].Result, nil
}
