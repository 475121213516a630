package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/civictrail/promisetrack/internal/models"
	"github.com/google/uuid"
)

// Defaults applied when neither the call arguments nor the job configuration
// specify timeout or retries.
const (
	DefaultTimeoutMinutes = 30
	DefaultRetryAttempts  = 2

	maxBackoffInterval = 60 * time.Second
)

// nonRetryablePatterns are matched case-insensitively against failure
// messages. A match surfaces the failure immediately instead of retrying.
// This is a substring classifier over error text, not a typed hierarchy:
// collaborator errors arrive as free text, and the patterns track their
// current wording.
var nonRetryablePatterns = []string{
	"authentication failed",
	"invalid configuration",
	"permission denied",
	"not found",
	"already exists",
}

// IsRetryableMessage reports whether a failure message permits another
// attempt.
func IsRetryableMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	return true
}

// AuditStore is the append-only job execution log.
type AuditStore interface {
	AppendJobExecution(ctx context.Context, rec models.JobExecution) error
}

// Runner executes a Job with a hard timeout and a bounded retry/backoff
// policy, and writes one audit record per invocation.
type Runner struct {
	audit  AuditStore
	logger *slog.Logger

	// sleep is replaced in tests to observe backoff without waiting.
	sleep func(time.Duration)
}

// NewRunner creates a runner. audit may be nil (audit writes are skipped).
func NewRunner(audit AuditStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		audit:  audit,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// newBackoff builds the attempt delay sequence 1s, 2s, 4s, ... capped at 60s.
func newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2.0
	b.MaxInterval = maxBackoffInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run executes a job until it succeeds, exhausts its retries, or fails
// non-retryably. Timeout and retry counts resolve from args, then the job's
// own configuration, then defaults.
func (r *Runner) Run(ctx context.Context, stage string, job Job, args map[string]any) Result {
	timeoutMin := resolveOption(args, job.Config(), "timeout_minutes", DefaultTimeoutMinutes)
	retries := resolveOption(args, job.Config(), "retry_attempts", DefaultRetryAttempts)
	timeout := time.Duration(timeoutMin) * time.Minute

	runID := uuid.New().String()[:8]
	r.logger.Info("job starting",
		"run_id", runID, "stage", stage, "job", job.Name(),
		"timeout_minutes", timeoutMin, "retry_attempts", retries)

	var res Result
	if err := job.ValidatePrerequisites(ctx); err != nil {
		// Prerequisite failures are terminal: retrying cannot make a missing
		// collaborator appear.
		now := time.Now()
		res = Result{
			RunID:       runID,
			Stage:       stage,
			JobName:     job.Name(),
			Status:      StatusFailed,
			StartedAt:   now,
			CompletedAt: time.Now(),
			Attempts:    0,
			Message:     fmt.Sprintf("prerequisites: %v", err),
		}
		r.logger.Error("job prerequisites failed",
			"run_id", runID, "stage", stage, "job", job.Name(), "error", err)
	} else {
		res = r.runAttempts(ctx, runID, stage, job, timeout, retries, args)
	}

	r.writeAudit(ctx, res)

	r.logger.Info("job finished",
		"run_id", runID, "stage", stage, "job", job.Name(),
		"status", res.Status, "attempts", res.Attempts,
		"duration_ms", res.Duration().Milliseconds(),
		"processed", res.Counts.Processed, "created", res.Counts.Created,
		"errors", res.Counts.Errors)
	return res
}

func (r *Runner) runAttempts(ctx context.Context, runID, stage string, job Job, timeout time.Duration, retries int, args map[string]any) Result {
	bo := newBackoff()
	attempts := retries + 1

	var res Result
	for attempt := 0; attempt < attempts; attempt++ {
		res = r.attempt(ctx, runID, stage, job, timeout, args)
		res.Attempts = attempt + 1

		if res.Status == StatusSuccess || res.Status == StatusCancelled {
			return res
		}
		if !IsRetryableMessage(res.Message) {
			r.logger.Warn("job failed non-retryably",
				"run_id", runID, "stage", stage, "job", job.Name(), "message", res.Message)
			return res
		}
		if attempt == attempts-1 {
			break
		}

		delay := bo.NextBackOff()
		r.logger.Info("retrying job",
			"run_id", runID, "stage", stage, "job", job.Name(),
			"attempt", attempt+1, "status", res.Status, "backoff", delay.String())
		r.sleep(delay)
	}
	return res
}

// attempt runs one execution on its own goroutine and waits for completion or
// timeout. On timeout the attempt context is cancelled, but work already
// dispatched to a network service may still run to completion in the
// background; linking writes are idempotent merges to tolerate that race.
func (r *Runner) attempt(ctx context.Context, runID, stage string, job Job, timeout time.Duration, args map[string]any) Result {
	started := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		counts Counts
		meta   map[string]any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("job panicked: %v", p)}
			}
		}()
		counts, meta, err := job.Execute(attemptCtx, args)
		done <- outcome{counts: counts, meta: meta, err: err}
	}()

	res := Result{
		RunID:     runID,
		Stage:     stage,
		JobName:   job.Name(),
		StartedAt: started,
	}

	select {
	case out := <-done:
		res.CompletedAt = time.Now()
		res.Counts = out.counts
		res.Metadata = out.meta
		if out.err != nil {
			res.Status = StatusFailed
			res.Message = out.err.Error()
		} else {
			res.Status = StatusSuccess
		}
	case <-attemptCtx.Done():
		res.CompletedAt = time.Now()
		if ctx.Err() != nil {
			res.Status = StatusCancelled
			res.Message = "cancelled: " + ctx.Err().Error()
		} else {
			res.Status = StatusTimeout
			res.Message = fmt.Sprintf("timed out after %s", timeout)
		}
	}
	return res
}

// RunBatch executes jobs under a bounded worker pool. A submission failure
// (a panic reaching the pool, not a job-level failure) yields a synthetic
// Failed result; sibling jobs keep running.
func (r *Runner) RunBatch(ctx context.Context, stage string, jobs []Job, maxConcurrent int, args map[string]any) []Result {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	results := make([]Result, len(jobs))
	jobChan := make(chan int, len(jobs))
	var wg sync.WaitGroup

	for w := 0; w < maxConcurrent; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobChan {
				results[i] = r.runGuarded(ctx, stage, jobs[i], args)
			}
		}()
	}

	for i := range jobs {
		jobChan <- i
	}
	close(jobChan)
	wg.Wait()

	return results
}

func (r *Runner) runGuarded(ctx context.Context, stage string, job Job, args map[string]any) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job submission panicked", "stage", stage, "job", job.Name(), "panic", p)
			now := time.Now()
			res = Result{
				Stage:       stage,
				JobName:     job.Name(),
				Status:      StatusFailed,
				StartedAt:   now,
				CompletedAt: now,
				Message:     fmt.Sprintf("submission failed: %v", p),
			}
		}
	}()
	return r.Run(ctx, stage, job, args)
}

func (r *Runner) writeAudit(ctx context.Context, res Result) {
	if r.audit == nil {
		return
	}

	rec := models.JobExecution{
		RunID:       res.RunID,
		Stage:       res.Stage,
		JobName:     res.JobName,
		Status:      string(res.Status),
		StartedAt:   res.StartedAt,
		CompletedAt: res.CompletedAt,
		DurationMs:  res.Duration().Milliseconds(),
		Processed:   res.Counts.Processed,
		Created:     res.Counts.Created,
		Updated:     res.Counts.Updated,
		Skipped:     res.Counts.Skipped,
		Errors:      res.Counts.Errors,
		Metadata:    res.Metadata,
	}
	if res.Message != "" {
		msg := res.Message
		rec.Message = &msg
	}

	// The audit trail is best-effort: a logging failure must not change the
	// job's outcome.
	if err := r.audit.AppendJobExecution(ctx, rec); err != nil {
		r.logger.Warn("failed to write job audit record",
			"run_id", res.RunID, "stage", res.Stage, "job", res.JobName, "error", err)
	}
}

// resolveOption resolves an integer option: explicit argument, then job
// configuration, then default.
func resolveOption(args, cfg map[string]any, key string, defaultVal int) int {
	if v := IntOption(args, key, -1); v >= 0 {
		return v
	}
	if v := IntOption(cfg, key, -1); v >= 0 {
		return v
	}
	return defaultVal
}
