package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/civictrail/promisetrack/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJob is a configurable Job for runner and orchestrator tests.
type fakeJob struct {
	name    string
	opts    map[string]any
	prereq  error
	execute func(ctx context.Context, args map[string]any) (Counts, map[string]any, error)
	trigger bool

	mu    sync.Mutex
	calls int
}

func (j *fakeJob) Name() string { return j.name }

func (j *fakeJob) Config() map[string]any { return j.opts }

func (j *fakeJob) ValidatePrerequisites(ctx context.Context) error { return j.prereq }

func (j *fakeJob) Execute(ctx context.Context, args map[string]any) (Counts, map[string]any, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	if j.execute != nil {
		return j.execute(ctx, args)
	}
	return Counts{Processed: 1}, nil, nil
}

func (j *fakeJob) ShouldTriggerDownstream(result Result) bool { return j.trigger && result.Succeeded() }

func (j *fakeJob) TriggerMetadata(result Result) map[string]any { return result.Metadata }

func (j *fakeJob) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

// memAudit records audit writes in memory.
type memAudit struct {
	mu   sync.Mutex
	recs []models.JobExecution
}

func (a *memAudit) AppendJobExecution(ctx context.Context, rec models.JobExecution) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, rec)
	return nil
}

func (a *memAudit) records() []models.JobExecution {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.JobExecution(nil), a.recs...)
}

// newTestRunner builds a runner whose sleeps are recorded instead of slept.
func newTestRunner(audit AuditStore) (*Runner, *[]time.Duration) {
	r := NewRunner(audit, slog.Default())
	slept := &[]time.Duration{}
	r.sleep = func(d time.Duration) { *slept = append(*slept, d) }
	return r, slept
}

func TestRunnerSuccessFirstAttempt(t *testing.T) {
	audit := &memAudit{}
	r, slept := newTestRunner(audit)

	job := &fakeJob{name: "ok"}
	res := r.Run(context.Background(), "linking", job, nil)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, job.callCount())
	assert.Empty(t, *slept)
	require.Len(t, audit.records(), 1)
	assert.Equal(t, "success", audit.records()[0].Status)
}

func TestRunnerRetriesWithBackoff(t *testing.T) {
	r, slept := newTestRunner(nil)

	job := &fakeJob{
		name: "flaky",
		execute: func(ctx context.Context, args map[string]any) (Counts, map[string]any, error) {
			return Counts{}, nil, fmt.Errorf("connection refused")
		},
	}
	res := r.Run(context.Background(), "linking", job, nil)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, job.callCount())
	// Backoff doubles from one second: two sleeps for three attempts.
	require.Len(t, *slept, 2)
	assert.Equal(t, 1*time.Second, (*slept)[0])
	assert.Equal(t, 2*time.Second, (*slept)[1])
}

func TestRunnerRecoversFromFailureMidway(t *testing.T) {
	r, _ := newTestRunner(nil)

	var attempts int
	job := &fakeJob{
		name: "recovers",
		execute: func(ctx context.Context, args map[string]any) (Counts, map[string]any, error) {
			attempts++
			if attempts < 2 {
				return Counts{}, nil, fmt.Errorf("temporary outage")
			}
			return Counts{Processed: 5}, nil, nil
		},
	}
	res := r.Run(context.Background(), "linking", job, nil)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 5, res.Counts.Processed)
}

func TestRunnerNonRetryableFailsImmediately(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"permission", "permission denied for table"},
		{"auth", "authentication failed"},
		{"config", "invalid configuration: no store"},
		{"missing", "promise not found"},
		{"duplicate", "record already exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, slept := newTestRunner(nil)
			job := &fakeJob{
				name: "fatal",
				execute: func(ctx context.Context, args map[string]any) (Counts, map[string]any, error) {
					return Counts{}, nil, fmt.Errorf("%s", tt.msg)
				},
			}
			res := r.Run(context.Background(), "linking", job, nil)

			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, 1, res.Attempts)
			assert.Empty(t, *slept)
		})
	}
}

func TestRunnerPrerequisiteFailureIsTerminal(t *testing.T) {
	audit := &memAudit{}
	r, _ := newTestRunner(audit)

	job := &fakeJob{name: "noprereq", prereq: fmt.Errorf("store unreachable")}
	res := r.Run(context.Background(), "linking", job, nil)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 0, job.callCount())
	assert.Contains(t, res.Message, "prerequisites")
	require.Len(t, audit.records(), 1)
}

func TestRunnerTimeout(t *testing.T) {
	r, slept := newTestRunner(nil)

	job := &fakeJob{
		name: "slow",
		execute: func(ctx context.Context, args map[string]any) (Counts, map[string]any, error) {
			<-ctx.Done()
			return Counts{}, nil, ctx.Err()
		},
	}
	// timeout_minutes cannot express sub-minute timeouts, so drive the
	// attempt directly with a short deadline.
	res := r.attempt(context.Background(), "run1", "linking", job, 20*time.Millisecond, nil)

	assert.Equal(t, StatusTimeout, res.Status)
	assert.Contains(t, res.Message, "timed out after")
	assert.Empty(t, *slept)
}

func TestRunnerCancellation(t *testing.T) {
	r, _ := newTestRunner(nil)

	ctx, cancel := context.WithCancel(context.Background())
	job := &fakeJob{
		name: "cancellable",
		execute: func(ctx context.Context, args map[string]any) (Counts, map[string]any, error) {
			cancel()
			// Stay busy past the runner's select so cancellation, not our
			// return value, decides the outcome.
			time.Sleep(100 * time.Millisecond)
			return Counts{}, nil, ctx.Err()
		},
	}
	res := r.Run(ctx, "linking", job, map[string]any{"retry_attempts": 2})

	assert.Equal(t, StatusCancelled, res.Status)
	// Cancellation is never retried.
	assert.Equal(t, 1, res.Attempts)
}

func TestRunnerPanicBecomesFailure(t *testing.T) {
	r, _ := newTestRunner(nil)

	job := &fakeJob{
		name: "panics",
		execute: func(ctx context.Context, args map[string]any) (Counts, map[string]any, error) {
			panic("boom")
		},
	}
	res := r.Run(context.Background(), "linking", job, map[string]any{"retry_attempts": 0})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Message, "job panicked")
}

func TestRunnerOptionResolution(t *testing.T) {
	r, _ := newTestRunner(nil)

	var got int
	job := &fakeJob{
		name: "opts",
		opts: map[string]any{"retry_attempts": 5},
		execute: func(ctx context.Context, args map[string]any) (Counts, map[string]any, error) {
			got++
			return Counts{}, nil, fmt.Errorf("transient")
		},
	}

	// Explicit argument beats job configuration.
	res := r.Run(context.Background(), "linking", job, map[string]any{"retry_attempts": 1})
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, got)
}

func TestRunBatchBoundedPool(t *testing.T) {
	r, _ := newTestRunner(nil)

	var mu sync.Mutex
	var inFlight, peak int

	jobs := make([]Job, 6)
	for i := range jobs {
		jobs[i] = &fakeJob{
			name: fmt.Sprintf("job-%d", i),
			execute: func(ctx context.Context, args map[string]any) (Counts, map[string]any, error) {
				mu.Lock()
				inFlight++
				if inFlight > peak {
					peak = inFlight
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return Counts{Processed: 1}, nil, nil
			},
		}
	}

	results := r.RunBatch(context.Background(), "linking", jobs, 2, nil)

	require.Len(t, results, 6)
	for _, res := range results {
		assert.Equal(t, StatusSuccess, res.Status)
	}
	assert.LessOrEqual(t, peak, 2)
}

func TestIsRetryableMessage(t *testing.T) {
	assert.True(t, IsRetryableMessage("connection refused"))
	assert.True(t, IsRetryableMessage("timed out after 30m"))
	assert.False(t, IsRetryableMessage("Authentication Failed: bad token"))
	assert.False(t, IsRetryableMessage("evidence not found"))
}
