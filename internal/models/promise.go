package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Promise is a tracked government commitment. Read-only from the linker's
// perspective; only the scoring stage writes fulfillment fields.
type Promise struct {
	ID                surrealmodels.RecordID `json:"id"`
	Text              string                 `json:"text"`
	Description       string                 `json:"description,omitempty"`
	Background        []string               `json:"background,omitempty"`
	Concepts          []string               `json:"concepts,omitempty"`
	ParliamentSession string                 `json:"parliament_session,omitempty"`
	FulfillmentScore  float64                `json:"fulfillment_score,omitempty"`
	EvidenceCount     int                    `json:"evidence_count,omitempty"`
	ScoredAt          *time.Time             `json:"scored_at,omitempty"`
	Created           time.Time              `json:"created,omitempty"`
}
