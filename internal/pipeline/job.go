// Package pipeline implements the job execution framework: the Job contract,
// a runner with timeout and retry/backoff, and an orchestrator that resolves
// jobs from configuration, guards against duplicate runs and fires downstream
// triggers.
package pipeline

import "context"

// Status is the terminal or in-flight state of a job run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Counts aggregates per-item outcomes of one job run.
type Counts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Add merges another set of counts into this one.
func (c *Counts) Add(other Counts) {
	c.Processed += other.Processed
	c.Created += other.Created
	c.Updated += other.Updated
	c.Skipped += other.Skipped
	c.Errors += other.Errors
}

// Job is the contract for one unit of pipeline work. Implementations supply
// Execute; the runner owns timing, retries and the audit trail.
type Job interface {
	// Name identifies the job inside its stage (e.g. "evidence_linker").
	Name() string

	// Config returns the job's own option map. The runner falls back to it
	// when timeout/retry arguments are not passed explicitly.
	Config() map[string]any

	// ValidatePrerequisites fails fast when a required collaborator (e.g. the
	// document store) is unreachable. Prerequisite failures are never retried.
	ValidatePrerequisites(ctx context.Context) error

	// Execute performs the work and reports counts plus open metadata.
	Execute(ctx context.Context, args map[string]any) (Counts, map[string]any, error)

	// ShouldTriggerDownstream decides whether configured triggers are
	// evaluated for this result.
	ShouldTriggerDownstream(result Result) bool

	// TriggerMetadata builds the argument map passed to downstream jobs.
	TriggerMetadata(result Result) map[string]any
}

// IntOption reads an integer option from an argument or configuration map,
// tolerating the numeric types JSON and YAML decoding produce.
func IntOption(opts map[string]any, key string, defaultVal int) int {
	if opts == nil {
		return defaultVal
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return defaultVal
}

// StringOption reads a string option from an argument or configuration map.
func StringOption(opts map[string]any, key, defaultVal string) string {
	if opts == nil {
		return defaultVal
	}
	if s, ok := opts[key].(string); ok && s != "" {
		return s
	}
	return defaultVal
}

// StringSliceOption reads a string slice option, tolerating []any from JSON
// decoding.
func StringSliceOption(opts map[string]any, key string) []string {
	if opts == nil {
		return nil
	}
	switch v := opts[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
