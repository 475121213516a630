package pipeline

import "time"

// Result is the structured outcome of one job run (possibly spanning several
// attempts).
type Result struct {
	RunID       string         `json:"run_id"`
	Stage       string         `json:"stage"`
	JobName     string         `json:"job_name"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Counts      Counts         `json:"counts"`
	Attempts    int            `json:"attempts"`
	Message     string         `json:"message,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Duration is the wall-clock time between start and completion.
func (r Result) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the run ended in Success.
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}
