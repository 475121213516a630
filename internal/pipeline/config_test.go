package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
max_concurrent_jobs: 8
stages:
  linking:
    jobs:
      evidence_linker:
        timeout_minutes: 30
        retry_attempts: 2
        options:
          similarity_threshold: 0.3
        triggers:
          - stage: scoring
            job: promise_scorer
            condition: new_links_created
  scoring:
    jobs:
      promise_scorer:
        timeout_minutes: 10
`))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxConcurrentJobs)

	spec, ok := cfg.JobSpec("linking", "evidence_linker")
	require.True(t, ok)
	assert.Equal(t, 30, spec.TimeoutMinutes)
	require.NotNil(t, spec.RetryAttempts)
	assert.Equal(t, 2, *spec.RetryAttempts)
	require.Len(t, spec.Triggers, 1)
	assert.Equal(t, "scoring", spec.Triggers[0].Stage)
	assert.Equal(t, 0.3, spec.Options["similarity_threshold"])

	_, ok = cfg.JobSpec("linking", "missing")
	assert.False(t, ok)
	_, ok = cfg.JobSpec("missing", "evidence_linker")
	assert.False(t, ok)
}

func TestParseConfigDefaultsConcurrency(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
stages:
  scoring:
    jobs:
      promise_scorer: {}
`))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxConcurrentJobs)
}

func TestParseConfigRejectsUnknownCondition(t *testing.T) {
	_, err := ParseConfig([]byte(`
stages:
  linking:
    jobs:
      evidence_linker:
        triggers:
          - stage: linking
            job: evidence_linker
            condition: whenever
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trigger condition")
}

func TestParseConfigRejectsDanglingTrigger(t *testing.T) {
	_, err := ParseConfig([]byte(`
stages:
  linking:
    jobs:
      evidence_linker:
        triggers:
          - stage: scoring
            job: promise_scorer
            condition: always
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestConditionMet(t *testing.T) {
	withCreated := Result{Status: StatusSuccess, Counts: Counts{Created: 3}}
	withoutCreated := Result{Status: StatusSuccess, Counts: Counts{Processed: 10}}

	assert.True(t, conditionMet(ConditionAlways, withoutCreated))
	assert.True(t, conditionMet(ConditionNewLinksCreated, withCreated))
	assert.True(t, conditionMet(ConditionNewItemsFound, withCreated))
	assert.True(t, conditionMet(ConditionNewEvidenceCreated, withCreated))
	assert.False(t, conditionMet(ConditionNewLinksCreated, withoutCreated))
	assert.False(t, conditionMet("unknown", withCreated))
}
