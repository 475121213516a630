package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// JobExecution is one audit record in the append-only job_execution
// collection. Every job invocation writes exactly one, regardless of outcome.
type JobExecution struct {
	ID          surrealmodels.RecordID `json:"id,omitempty"`
	RunID       string                 `json:"run_id"`
	Stage       string                 `json:"stage"`
	JobName     string                 `json:"job_name"`
	Status      string                 `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	DurationMs  int64                  `json:"duration_ms"`
	Processed   int                    `json:"processed"`
	Created     int                    `json:"created"`
	Updated     int                    `json:"updated"`
	Skipped     int                    `json:"skipped"`
	Errors      int                    `json:"errors"`
	Message     *string                `json:"message,omitempty"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
}
