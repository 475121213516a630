package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register("linker", func(opts map[string]any) (Job, error) {
		return &fakeJob{name: "linker", opts: opts}, nil
	})

	job, err := r.Resolve("linker", map[string]any{"limit": 10})
	require.NoError(t, err)
	assert.Equal(t, "linker", job.Name())
	assert.Equal(t, 10, IntOption(job.Config(), "limit", 0))
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("ghost", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found: ghost")
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	factory := func(opts map[string]any) (Job, error) { return &fakeJob{name: "x"}, nil }
	r.Register("x", factory)
	assert.Panics(t, func() { r.Register("x", factory) })
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	factory := func(opts map[string]any) (Job, error) { return &fakeJob{name: "x"}, nil }
	r.Register("scorer", factory)
	r.Register("linker", factory)
	assert.Equal(t, []string{"linker", "scorer"}, r.Names())
}

func TestRegistryValidateAgainst(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
stages:
  linking:
    jobs:
      evidence_linker: {}
`))
	require.NoError(t, err)

	r := NewRegistry()
	err = r.ValidateAgainst(cfg)
	require.Error(t, err)

	r.Register("evidence_linker", func(opts map[string]any) (Job, error) {
		return &fakeJob{name: "evidence_linker"}, nil
	})
	assert.NoError(t, r.ValidateAgainst(cfg))
}
