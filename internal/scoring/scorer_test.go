package scoring

import (
	"context"
	"fmt"
	"testing"

	"github.com/civictrail/promisetrack/internal/models"
	"github.com/civictrail/promisetrack/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// fakeStore is an in-memory Store for scorer tests.
type fakeStore struct {
	promises []models.Promise
	counts   map[string]int
	countErr map[string]error

	scores map[string]float64
	evs    map[string]int

	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counts:   map[string]int{},
		countErr: map[string]error{},
		scores:   map[string]float64{},
		evs:      map[string]int{},
	}
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeStore) PromisesForSession(ctx context.Context, session string) ([]models.Promise, error) {
	return s.promises, nil
}

func (s *fakeStore) GetPromise(ctx context.Context, id string) (*models.Promise, error) {
	for i := range s.promises {
		if s.promises[i].ID.String() == id {
			return &s.promises[i], nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CountLinkedEvidence(ctx context.Context, promiseID string) (int, error) {
	if err := s.countErr[promiseID]; err != nil {
		return 0, err
	}
	return s.counts[promiseID], nil
}

func (s *fakeStore) UpdatePromiseScore(ctx context.Context, promiseID string, score float64, evidenceCount int) error {
	s.scores[promiseID] = score
	s.evs[promiseID] = evidenceCount
	return nil
}

func prID(id string) surrealmodels.RecordID {
	return surrealmodels.RecordID{Table: "promise", ID: id}
}

func TestScoreCurve(t *testing.T) {
	assert.Equal(t, 0.0, score(0))
	assert.Equal(t, 0.0, score(-1))
	assert.InDelta(t, 1.0/3.0, score(1), 1e-9)
	assert.InDelta(t, 0.6, score(3), 1e-9)
	assert.InDelta(t, 10.0/12.0, score(10), 1e-9)
	// Monotonic, never reaching 1.
	assert.Less(t, score(100), 1.0)
	assert.Greater(t, score(100), score(10))
}

func TestScorerRescoresAffectedPromises(t *testing.T) {
	store := newFakeStore()
	store.counts["promise:a"] = 3
	store.counts["promise:b"] = 0

	scorer := NewScorer(store, nil, nil)
	counts, _, err := scorer.Execute(context.Background(), map[string]any{
		"affected_promise_ids": []string{"promise:a", "promise:b"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, counts.Processed)
	assert.Equal(t, 2, counts.Updated)
	assert.InDelta(t, 0.6, store.scores["promise:a"], 1e-9)
	assert.Equal(t, 3, store.evs["promise:a"])
	assert.Equal(t, 0.0, store.scores["promise:b"])
}

func TestScorerRescoresWholeSessionWithoutArgs(t *testing.T) {
	store := newFakeStore()
	store.promises = []models.Promise{
		{ID: prID("a"), Text: "one"},
		{ID: prID("b"), Text: "two"},
		{ID: prID("c"), Text: "three"},
	}
	store.counts["promise:a"] = 1

	scorer := NewScorer(store, nil, nil)
	counts, _, err := scorer.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, counts.Processed)
	assert.Equal(t, 3, counts.Updated)
	assert.InDelta(t, 1.0/3.0, store.scores["promise:a"], 1e-9)
}

func TestScorerPerPromiseErrorCounted(t *testing.T) {
	store := newFakeStore()
	store.countErr["promise:bad"] = fmt.Errorf("query failed")
	store.counts["promise:good"] = 2

	scorer := NewScorer(store, nil, nil)
	counts, _, err := scorer.Execute(context.Background(), map[string]any{
		"affected_promise_ids": []string{"promise:bad", "promise:good"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, counts.Processed)
	assert.Equal(t, 1, counts.Updated)
	assert.Equal(t, 1, counts.Errors)
	assert.NotContains(t, store.scores, "promise:bad")
	assert.Contains(t, store.scores, "promise:good")
}

func TestScorerPrerequisites(t *testing.T) {
	store := newFakeStore()
	scorer := NewScorer(store, nil, nil)
	assert.NoError(t, scorer.ValidatePrerequisites(context.Background()))

	store.pingErr = fmt.Errorf("connection refused")
	require.Error(t, scorer.ValidatePrerequisites(context.Background()))

	noStore := NewScorer(nil, nil, nil)
	err := noStore.ValidatePrerequisites(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestScorerNeverTriggersDownstream(t *testing.T) {
	res := pipeline.Result{Status: pipeline.StatusSuccess, Counts: pipeline.Counts{Updated: 5}}
	scorer := NewScorer(newFakeStore(), nil, nil)
	assert.False(t, scorer.ShouldTriggerDownstream(res))
	assert.Nil(t, scorer.TriggerMetadata(res))
}
