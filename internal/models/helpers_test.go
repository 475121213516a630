package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestRecordIDString(t *testing.T) {
	s, err := RecordIDString(surrealmodels.RecordID{Table: "evidence_item", ID: "bill-c5-reading-2"})
	require.NoError(t, err)
	assert.Equal(t, "bill-c5-reading-2", s)

	_, err = RecordIDString(surrealmodels.RecordID{Table: "evidence_item", ID: 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected ID type")
}

func TestMustRecordIDString(t *testing.T) {
	assert.Equal(t, "gazette-2025-114",
		MustRecordIDString(surrealmodels.RecordID{Table: "evidence_item", ID: "gazette-2025-114"}))

	assert.Panics(t, func() {
		MustRecordIDString(surrealmodels.RecordID{Table: "evidence_item", ID: []byte("raw")})
	})
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"linking-evidence_linker", "linking-evidence-linker"},
		{"Scoring Promise Scorer", "scoring-promise-scorer"},
		{"Bill C-5 (Second Reading)", "bill-c-5-second-reading"},
		{"doc v2.1", "doc-v21"},
		{"", ""},
		{"!@#$%", ""},
		{"séance pléniére", "sance-plnire"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), "input %q", tt.in)
	}
}
