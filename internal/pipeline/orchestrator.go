package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Orchestrator holds the stage -> job configuration graph, resolves job
// implementations through the registry, prevents duplicate concurrent runs of
// the same job id, and fires downstream triggers asynchronously.
type Orchestrator struct {
	cfg      Config
	registry *Registry
	runner   *Runner
	logger   *slog.Logger

	// active guards against duplicate concurrent execution. Check-and-insert
	// is atomic under mu; this is the only in-process shared mutable state.
	mu     sync.Mutex
	active map[string]struct{}

	// triggered tracks detached downstream runs so shutdown (and tests) can
	// wait for them.
	triggered sync.WaitGroup
}

// NewOrchestrator wires the configuration graph, registry and runner.
func NewOrchestrator(cfg Config, registry *Registry, runner *Runner, logger *slog.Logger) (*Orchestrator, error) {
	if err := registry.ValidateAgainst(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		runner:   runner,
		logger:   logger,
		active:   make(map[string]struct{}),
	}, nil
}

// ExecuteJob runs one configured job. A job already running under the same
// stage.name id returns an immediate Failed result instead of queueing.
func (o *Orchestrator) ExecuteJob(ctx context.Context, stage, jobName string, args map[string]any) Result {
	spec, ok := o.cfg.JobSpec(stage, jobName)
	if !ok {
		return immediateFailure(stage, jobName, fmt.Sprintf("job not found: %s.%s", stage, jobName))
	}

	id := stage + "." + jobName
	if !o.tryAcquire(id) {
		o.logger.Warn("duplicate job execution rejected", "stage", stage, "job", jobName)
		return immediateFailure(stage, jobName, "already running")
	}
	defer o.release(id)

	job, err := o.registry.Resolve(jobName, spec.Options)
	if err != nil {
		return immediateFailure(stage, jobName, err.Error())
	}

	res := o.runner.Run(ctx, stage, job, mergeRunArgs(args, spec))

	if job.ShouldTriggerDownstream(res) {
		o.fireTriggers(job, spec.Triggers, res)
	}
	return res
}

// fireTriggers spawns satisfied downstream jobs detached from the parent:
// a fresh background context, no deadline or cancellation inherited.
func (o *Orchestrator) fireTriggers(job Job, triggers []TriggerConfig, res Result) {
	for _, t := range triggers {
		if !conditionMet(t.Condition, res) {
			continue
		}

		o.logger.Info("trigger satisfied",
			"from", res.Stage+"."+res.JobName,
			"to", t.Stage+"."+t.Job,
			"condition", t.Condition)

		args := job.TriggerMetadata(res)
		o.triggered.Add(1)
		go func(t TriggerConfig, args map[string]any) {
			defer o.triggered.Done()
			defer func() {
				if p := recover(); p != nil {
					o.logger.Error("triggered job panicked",
						"stage", t.Stage, "job", t.Job, "panic", p)
				}
			}()
			o.ExecuteJob(context.Background(), t.Stage, t.Job, args)
		}(t, args)
	}
}

// WaitForTriggered blocks until all detached downstream jobs finish. Used
// during shutdown and in tests.
func (o *Orchestrator) WaitForTriggered() {
	o.triggered.Wait()
}

// BatchRequest names one job execution inside a batch.
type BatchRequest struct {
	Stage string         `json:"stage"`
	Job   string         `json:"job"`
	Args  map[string]any `json:"args,omitempty"`
}

// BatchResult aggregates per-job results; Success requires every job to
// succeed.
type BatchResult struct {
	Success bool     `json:"success"`
	Results []Result `json:"results"`
}

// ExecuteBatch runs a set of jobs under the configured concurrency cap. A
// failing job never aborts its siblings.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, requests []BatchRequest) BatchResult {
	maxConcurrent := o.cfg.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	results := make([]Result, len(requests))
	reqChan := make(chan int, len(requests))
	var wg sync.WaitGroup

	for w := 0; w < maxConcurrent; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range reqChan {
				req := requests[i]
				results[i] = o.ExecuteJob(ctx, req.Stage, req.Job, req.Args)
			}
		}()
	}

	for i := range requests {
		reqChan <- i
	}
	close(reqChan)
	wg.Wait()

	batch := BatchResult{Success: true, Results: results}
	for _, res := range results {
		if !res.Succeeded() {
			batch.Success = false
			break
		}
	}
	return batch
}

// JobInfo describes one configured job and whether it is currently active.
type JobInfo struct {
	Stage          string          `json:"stage"`
	Job            string          `json:"job"`
	TimeoutMinutes int             `json:"timeout_minutes"`
	RetryAttempts  int             `json:"retry_attempts"`
	Triggers       []TriggerConfig `json:"triggers,omitempty"`
	Active         bool            `json:"active"`
}

// StatusSnapshot is a read-only view of active job ids plus the static
// catalog of configured jobs.
type StatusSnapshot struct {
	ActiveJobs []string  `json:"active_jobs"`
	Configured []JobInfo `json:"configured"`
}

// Status returns a snapshot, optionally filtered by stage and/or job name.
func (o *Orchestrator) Status(stageFilter, jobFilter string) StatusSnapshot {
	o.mu.Lock()
	activeSet := make(map[string]struct{}, len(o.active))
	for id := range o.active {
		activeSet[id] = struct{}{}
	}
	o.mu.Unlock()

	snapshot := StatusSnapshot{ActiveJobs: []string{}, Configured: []JobInfo{}}
	for id := range activeSet {
		snapshot.ActiveJobs = append(snapshot.ActiveJobs, id)
	}
	sort.Strings(snapshot.ActiveJobs)

	for stageName, stage := range o.cfg.Stages {
		if stageFilter != "" && stageName != stageFilter {
			continue
		}
		for jobName, spec := range stage.Jobs {
			if jobFilter != "" && jobName != jobFilter {
				continue
			}

			retries := DefaultRetryAttempts
			if spec.RetryAttempts != nil {
				retries = *spec.RetryAttempts
			}
			timeout := spec.TimeoutMinutes
			if timeout <= 0 {
				timeout = DefaultTimeoutMinutes
			}

			_, active := activeSet[stageName+"."+jobName]
			snapshot.Configured = append(snapshot.Configured, JobInfo{
				Stage:          stageName,
				Job:            jobName,
				TimeoutMinutes: timeout,
				RetryAttempts:  retries,
				Triggers:       spec.Triggers,
				Active:         active,
			})
		}
	}
	sort.Slice(snapshot.Configured, func(i, j int) bool {
		a, b := snapshot.Configured[i], snapshot.Configured[j]
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		return a.Job < b.Job
	})

	return snapshot
}

func (o *Orchestrator) tryAcquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, running := o.active[id]; running {
		return false
	}
	o.active[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, id)
}

// mergeRunArgs overlays the configured timeout/retry values onto the caller's
// arguments without clobbering explicit ones.
func mergeRunArgs(args map[string]any, spec JobConfig) map[string]any {
	merged := make(map[string]any, len(args)+2)
	for k, v := range args {
		merged[k] = v
	}
	if _, ok := merged["timeout_minutes"]; !ok && spec.TimeoutMinutes > 0 {
		merged["timeout_minutes"] = spec.TimeoutMinutes
	}
	if _, ok := merged["retry_attempts"]; !ok && spec.RetryAttempts != nil {
		merged["retry_attempts"] = *spec.RetryAttempts
	}
	return merged
}

func immediateFailure(stage, jobName, msg string) Result {
	now := time.Now()
	return Result{
		Stage:       stage,
		JobName:     jobName,
		Status:      StatusFailed,
		StartedAt:   now,
		CompletedAt: now,
		Message:     msg,
	}
}
