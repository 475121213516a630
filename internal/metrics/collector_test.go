package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpEmbedding, 10*time.Millisecond)
	c.RecordTiming(OpEmbedding, 30*time.Millisecond)
	c.RecordItems(OpLLMValidate, 100*time.Millisecond, 5)
	c.RecordItems(OpBypass, 0, 2)

	snap := c.Snapshot()

	require.NotNil(t, snap.Embedding)
	assert.Equal(t, int64(2), snap.Embedding.Count)
	assert.Equal(t, int64(40), snap.Embedding.TotalTimeMs)
	assert.Equal(t, 20.0, snap.Embedding.AvgTimeMs)
	assert.Equal(t, int64(10), snap.Embedding.MinTimeMs)
	assert.Equal(t, int64(30), snap.Embedding.MaxTimeMs)
	assert.Nil(t, snap.Embedding.TotalItems)

	require.NotNil(t, snap.LLMValidate)
	require.NotNil(t, snap.LLMValidate.TotalItems)
	assert.Equal(t, int64(5), *snap.LLMValidate.TotalItems)

	require.NotNil(t, snap.Bypass)
	require.NotNil(t, snap.Bypass.TotalItems)
	assert.Equal(t, int64(2), *snap.Bypass.TotalItems)

	// Untouched operations are omitted.
	assert.Nil(t, snap.JobRun)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}

func TestCollectorConcurrentWrites(t *testing.T) {
	c := NewCollector()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				c.RecordTiming(OpJobRun, time.Millisecond)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	snap := c.Snapshot()
	require.NotNil(t, snap.JobRun)
	assert.Equal(t, int64(800), snap.JobRun.Count)
}
