// Package models defines data structures for the promisetrack document store.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// LinkingStatus describes whether promise-matching has run for an evidence item.
// Transitions are one-directional: pending -> processed | error. An item never
// reverts to pending automatically.
type LinkingStatus string

const (
	LinkingPending   LinkingStatus = "pending"
	LinkingProcessed LinkingStatus = "processed"
	LinkingError     LinkingStatus = "error"
)

// Source types for evidence items. BillEvent items are eligible for the
// same-document linking bypass.
const (
	SourceBillEvent      = "bill_event"
	SourceGazette        = "gazette"
	SourceOrderInCouncil = "order_in_council"
	SourceNews           = "news"
)

// EvidenceItem is a structured record derived from a government document,
// candidate for linking to promises. Mutated only by the linking stage;
// never deleted by this subsystem.
type EvidenceItem struct {
	ID                surrealmodels.RecordID `json:"id"`
	Title             string                 `json:"title,omitempty"`
	Summary           string                 `json:"summary,omitempty"`
	Description       string                 `json:"description,omitempty"`
	ExtractedConcepts []string               `json:"extracted_concepts,omitempty"`
	SourceType        string                 `json:"source_type"`
	SourceDocumentRaw string                 `json:"source_document_raw_id,omitempty"`
	ParliamentSession string                 `json:"parliament_session,omitempty"`
	LinkingStatus     LinkingStatus          `json:"linking_status"`
	PromiseIDs        []string               `json:"promise_ids,omitempty"`
	LinkingMetadata   map[string]any         `json:"linking_metadata,omitempty"`
	Created           time.Time              `json:"created,omitempty"`
	Updated           time.Time              `json:"updated,omitempty"`
}
