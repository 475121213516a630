package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/civictrail/promisetrack/internal/metrics"
	"github.com/civictrail/promisetrack/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubJob is a minimal pipeline.Job for handler tests.
type stubJob struct {
	name string
	err  error
}

func (j *stubJob) Name() string                                       { return j.name }
func (j *stubJob) Config() map[string]any                             { return nil }
func (j *stubJob) ValidatePrerequisites(ctx context.Context) error    { return nil }
func (j *stubJob) ShouldTriggerDownstream(r pipeline.Result) bool     { return false }
func (j *stubJob) TriggerMetadata(r pipeline.Result) map[string]any   { return nil }
func (j *stubJob) Execute(ctx context.Context, args map[string]any) (pipeline.Counts, map[string]any, error) {
	if j.err != nil {
		return pipeline.Counts{}, nil, j.err
	}
	return pipeline.Counts{Processed: 2, Created: 1}, nil, nil
}

const serverTestConfig = `
stages:
  linking:
    jobs:
      evidence_linker:
        retry_attempts: 0
  scoring:
    jobs:
      promise_scorer:
        retry_attempts: 0
`

func newTestServer(t *testing.T, linkerErr error) *Server {
	t.Helper()

	cfg, err := pipeline.ParseConfig([]byte(serverTestConfig))
	require.NoError(t, err)

	registry := pipeline.NewRegistry()
	registry.Register("evidence_linker", func(opts map[string]any) (pipeline.Job, error) {
		return &stubJob{name: "evidence_linker", err: linkerErr}, nil
	})
	registry.Register("promise_scorer", func(opts map[string]any) (pipeline.Job, error) {
		return &stubJob{name: "promise_scorer"}, nil
	})

	runner := pipeline.NewRunner(nil, slog.Default())
	orch, err := pipeline.NewOrchestrator(cfg, registry, runner, slog.Default())
	require.NoError(t, err)

	return New(":0", orch, metrics.NewCollector(), slog.Default())
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthUnknownPathIs404(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobsCatalog(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap pipeline.StatusSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Empty(t, snap.ActiveJobs)
	require.Len(t, snap.Configured, 2)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs?stage=linking", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Configured, 1)
	assert.Equal(t, "evidence_linker", snap.Configured[0].Job)
}

func TestRunJobSuccess(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/linking/evidence_linker",
		strings.NewReader(`{"parliament_session": "44-1"}`))
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Counts.Processed)
}

func TestRunJobEmptyBody(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/linking/evidence_linker", nil)
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunJobFailureIs500(t *testing.T) {
	srv := newTestServer(t, fmt.Errorf("permission denied"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/linking/evidence_linker", nil)
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, pipeline.StatusFailed, res.Status)
}

func TestRunJobUnknownIs500(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/linking/ghost", nil)
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Contains(t, res.Message, "job not found")
}

func TestBatchPartialFailure(t *testing.T) {
	srv := newTestServer(t, fmt.Errorf("permission denied"))

	payload := `{"jobs": [
		{"stage": "linking", "job": "evidence_linker"},
		{"stage": "scoring", "job": "promise_scorer"}
	]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/batch", strings.NewReader(payload))
	srv.Handler().ServeHTTP(rec, req)

	// Any failed job in the batch makes the response non-200; the body
	// still carries the per-job detail.
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body struct {
		Status  string            `json:"status"`
		Results []pipeline.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "partial_failure", body.Status)
	require.Len(t, body.Results, 2)
	assert.Equal(t, pipeline.StatusFailed, body.Results[0].Status)
	assert.Equal(t, pipeline.StatusSuccess, body.Results[1].Status)
}

func TestBatchAllSucceed(t *testing.T) {
	srv := newTestServer(t, nil)

	payload := `{"jobs": [
		{"stage": "linking", "job": "evidence_linker"},
		{"stage": "scoring", "job": "promise_scorer"}
	]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/batch", strings.NewReader(payload))
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status  string            `json:"status"`
		Results []pipeline.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	require.Len(t, body.Results, 2)
	for _, res := range body.Results {
		assert.Equal(t, pipeline.StatusSuccess, res.Status)
	}
}

func TestBatchRejectsBadPayload(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/batch", strings.NewReader("not json"))
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/jobs/batch", strings.NewReader(`{"jobs": []}`))
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}
