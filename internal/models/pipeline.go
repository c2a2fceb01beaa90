package models

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Pipeline represents a release pipeline definition loaded from YAML
type Pipeline struct {
	Name        string            `yaml:"name"`        // Pipeline name (unique across loaded files)
	On          Trigger           `yaml:"on"`          // Trigger rules for incoming events
	Permissions Permissions       `yaml:"permissions"` // Grants available to steps
	Env         map[string]string `yaml:"env"`         // Environment shared by every job
	Jobs        []*Job            `yaml:"jobs"`        // Jobs executed in Needs order
	SourceFile  string            `yaml:"-"`           // File this pipeline was loaded from
}

// Job is a named sequence of steps executed strictly in order
type Job struct {
	ID      string            `yaml:"id"`
	Name    string            `yaml:"name"`
	Needs   []string          `yaml:"needs"`    // Job IDs that must pass first
	Env     map[string]string `yaml:"env"`      // Environment for every step in the job
	WorkDir string            `yaml:"work-dir"` // Working directory override
	Steps   []*Step           `yaml:"steps"`
}

// Step is a single pipeline step: either a builtin (`uses`) or a shell
// command (`run`), never both
type Step struct {
	ID      string            `yaml:"id"`
	Name    string            `yaml:"name"`
	Uses    string            `yaml:"uses"`    // Builtin name (checkout, build, publish, ...)
	Run     string            `yaml:"run"`     // Shell command text
	With    map[string]any    `yaml:"with"`    // Builtin options
	Env     map[string]string `yaml:"env"`     // Step-level environment
	If      string            `yaml:"if"`      // Condition expression (empty means success())
	WorkDir string            `yaml:"work-dir"`
	Timeout string            `yaml:"timeout"` // Duration string, e.g. "10m"
}

// Trigger describes which events start a pipeline
type Trigger struct {
	Release []string `yaml:"release"` // Release actions, e.g. published, created
	Tags    []string `yaml:"tags"`    // Tag glob patterns, e.g. v*
	Manual  bool     `yaml:"manual"`  // Allow manual invocation
}

// Validate checks structural requirements before any execution is attempted
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(p.Jobs) == 0 {
		return fmt.Errorf("pipeline %q has no jobs", p.Name)
	}

	jobIDs := make(map[string]bool)
	for _, job := range p.Jobs {
		if job.ID == "" {
			return fmt.Errorf("pipeline %q: job id is required", p.Name)
		}
		if jobIDs[job.ID] {
			return fmt.Errorf("pipeline %q: duplicate job id %q", p.Name, job.ID)
		}
		jobIDs[job.ID] = true

		if err := job.Validate(); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
	}

	// Needs may only reference jobs that exist
	for _, job := range p.Jobs {
		for _, need := range job.Needs {
			if !jobIDs[need] {
				return fmt.Errorf("pipeline %q: job %q needs unknown job %q", p.Name, job.ID, need)
			}
		}
	}

	if HasCyclicNeeds(p.Jobs) {
		return fmt.Errorf("pipeline %q: cyclic job dependencies", p.Name)
	}

	if err := p.Permissions.Validate(); err != nil {
		return fmt.Errorf("pipeline %q: %w", p.Name, err)
	}
	return nil
}

// Validate checks a job and its steps
func (j *Job) Validate() error {
	if len(j.Steps) == 0 {
		return fmt.Errorf("job %q has no steps", j.ID)
	}

	stepIDs := make(map[string]bool)
	for i, step := range j.Steps {
		if step.ID == "" {
			return fmt.Errorf("job %q: step %d has no id", j.ID, i+1)
		}
		if stepIDs[step.ID] {
			return fmt.Errorf("job %q: duplicate step id %q", j.ID, step.ID)
		}
		stepIDs[step.ID] = true

		if err := step.Validate(); err != nil {
			return fmt.Errorf("job %q: %w", j.ID, err)
		}
	}
	return nil
}

// Validate enforces the uses/run exclusivity and timeout syntax
func (s *Step) Validate() error {
	hasUses := s.Uses != ""
	hasRun := strings.TrimSpace(s.Run) != ""
	if hasUses == hasRun {
		return fmt.Errorf("step %q must set exactly one of uses or run", s.ID)
	}
	if hasRun && len(s.With) > 0 {
		return fmt.Errorf("step %q: with is only valid on uses steps", s.ID)
	}
	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return fmt.Errorf("step %q: invalid timeout %q: %w", s.ID, s.Timeout, err)
		}
	}
	return nil
}

// TimeoutDuration returns the parsed step timeout, or zero when unset.
// Validate guarantees the string parses.
func (s *Step) TimeoutDuration() time.Duration {
	if s.Timeout == "" {
		return 0
	}
	d, _ := time.ParseDuration(s.Timeout)
	return d
}

// Matches reports whether an event satisfies the trigger rules
func (t *Trigger) Matches(e *Event) bool {
	switch e.Kind {
	case EventRelease:
		for _, action := range t.Release {
			if action == e.Action {
				return true
			}
		}
	case EventTag:
		for _, pattern := range t.Tags {
			if ok, err := path.Match(pattern, e.Tag); err == nil && ok {
				return true
			}
		}
	case EventManual:
		return t.Manual
	}
	return false
}

// Empty reports whether no trigger rule is configured at all
func (t *Trigger) Empty() bool {
	return len(t.Release) == 0 && len(t.Tags) == 0 && !t.Manual
}

// HasCyclicNeeds detects circular job dependencies using DFS with color
// marking (white=unvisited, gray=visiting, black=visited)
func HasCyclicNeeds(jobs []*Job) bool {
	graph := make(map[string][]string)
	known := make(map[string]bool)

	for _, job := range jobs {
		known[job.ID] = true
		graph[job.ID] = []string{}
	}

	// Edge B -> A when job A needs B
	for _, job := range jobs {
		for _, need := range job.Needs {
			if need == job.ID {
				return true
			}
			if known[need] {
				graph[need] = append(graph[need], job.ID)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)

	colors := make(map[string]int)
	for id := range known {
		colors[id] = white
	}

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		for _, neighbor := range graph[node] {
			if colors[neighbor] == gray {
				return true
			}
			if colors[neighbor] == white && dfs(neighbor) {
				return true
			}
		}
		colors[node] = black
		return false
	}

	for id := range known {
		if colors[id] == white {
			if dfs(id) {
				return true
			}
		}
	}
	return false
}
