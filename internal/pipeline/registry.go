package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a Job from its configured options. Factories capture
// their collaborators (store, embedder, LLM client) at registration time, so
// job resolution stays an explicit map lookup rather than reflection.
type Factory func(opts map[string]any) (Job, error)

// Registry maps job names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a job name. Registering the same name twice is
// a programming error and panics at startup.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("job factory %q registered twice", name))
	}
	r.factories[name] = factory
}

// Resolve constructs the job registered under name.
func (r *Registry) Resolve(name string, opts map[string]any) (Job, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job not found: %s", name)
	}

	job, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("construct job %s: %w", name, err)
	}
	return job, nil
}

// Names returns registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAgainst confirms every job in the configuration graph has a
// registered factory. Called once at startup so a typo in the configuration
// fails the process, not the first triggered run.
func (r *Registry) ValidateAgainst(cfg Config) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for stageName, stage := range cfg.Stages {
		for jobName := range stage.Jobs {
			if _, ok := r.factories[jobName]; !ok {
				return fmt.Errorf("configured job %s.%s has no registered factory", stageName, jobName)
			}
		}
	}
	return nil
}
