package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Trigger conditions. The three "new_*" conditions are satisfied identically:
// the triggering result created at least one item.
const (
	ConditionAlways             = "always"
	ConditionNewItemsFound      = "new_items_found"
	ConditionNewEvidenceCreated = "new_evidence_created"
	ConditionNewLinksCreated    = "new_links_created"
)

// TriggerConfig names a downstream job and the condition under which it fires.
type TriggerConfig struct {
	Stage     string `yaml:"stage" json:"stage"`
	Job       string `yaml:"job" json:"job"`
	Condition string `yaml:"condition" json:"condition"`
}

// JobConfig is the declarative configuration of one job inside a stage.
type JobConfig struct {
	TimeoutMinutes int             `yaml:"timeout_minutes" json:"timeout_minutes"`
	RetryAttempts  *int            `yaml:"retry_attempts" json:"retry_attempts,omitempty"`
	Triggers       []TriggerConfig `yaml:"triggers" json:"triggers,omitempty"`
	Options        map[string]any  `yaml:"options" json:"options,omitempty"`
}

// StageConfig groups the jobs of one pipeline stage.
type StageConfig struct {
	Jobs map[string]JobConfig `yaml:"jobs"`
}

// Config is the full stage -> job -> trigger graph plus global limits. The
// graph is fixed at load time; it is not a user-programmable DAG.
type Config struct {
	MaxConcurrentJobs int                    `yaml:"max_concurrent_jobs"`
	Stages            map[string]StageConfig `yaml:"stages"`
}

// LoadConfig reads a pipeline configuration from a YAML file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read pipeline config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a pipeline configuration from YAML bytes.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse pipeline config: %w", err)
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 4
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks trigger references and conditions against the graph.
func (c Config) validate() error {
	for stageName, stage := range c.Stages {
		for jobName, job := range stage.Jobs {
			for _, t := range job.Triggers {
				switch t.Condition {
				case ConditionAlways, ConditionNewItemsFound,
					ConditionNewEvidenceCreated, ConditionNewLinksCreated:
				default:
					return fmt.Errorf("job %s.%s: unknown trigger condition %q",
						stageName, jobName, t.Condition)
				}

				target, ok := c.Stages[t.Stage]
				if !ok {
					return fmt.Errorf("job %s.%s: trigger references unknown stage %q",
						stageName, jobName, t.Stage)
				}
				if _, ok := target.Jobs[t.Job]; !ok {
					return fmt.Errorf("job %s.%s: trigger references unknown job %s.%s",
						stageName, jobName, t.Stage, t.Job)
				}
			}
		}
	}
	return nil
}

// JobSpec looks up a configured job. The second return is false when the
// stage or job is not part of the graph.
func (c Config) JobSpec(stage, job string) (JobConfig, bool) {
	s, ok := c.Stages[stage]
	if !ok {
		return JobConfig{}, false
	}
	spec, ok := s.Jobs[job]
	return spec, ok
}

// conditionMet evaluates a trigger condition against a job result.
func conditionMet(condition string, res Result) bool {
	switch condition {
	case ConditionAlways:
		return true
	case ConditionNewItemsFound, ConditionNewEvidenceCreated, ConditionNewLinksCreated:
		return res.Counts.Created > 0
	default:
		return false
	}
}
