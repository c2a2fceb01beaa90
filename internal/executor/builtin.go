package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/slipway-ci/slipway/internal/artifact"
	"github.com/slipway-ci/slipway/internal/models"
)

// ErrStepSkipped is returned by a builtin to report that it deliberately
// did nothing. The runner records the step as skipped rather than failed.
var ErrStepSkipped = errors.New("step skipped")

// GrantRequirement names one permission a builtin needs from the pipeline.
type GrantRequirement struct {
	Scope string
	Grant models.Grant
}

func (g GrantRequirement) String() string {
	return fmt.Sprintf("%s: %s", g.Scope, g.Grant)
}

// Builtin is a named step implementation invoked via a step's uses field.
type Builtin interface {
	Name() string
	RequiredGrants() []GrantRequirement
	Execute(ctx context.Context, sc *StepContext) error
}

// PriorSuccessGated marks builtins that must never execute once an earlier
// step in the run has failed, no matter what the step's condition says.
type PriorSuccessGated interface {
	GatedOnPriorSuccess() bool
}

// ReleaseGated marks builtins that only run for a release publication
// event. Under any other event the step is skipped before its
// permissions are even checked.
type ReleaseGated interface {
	GatedOnReleasePublication() bool
}

// StepContext carries everything a builtin needs to perform its step.
type StepContext struct {
	Pipeline *models.Pipeline
	Job      *models.Job
	Step     *models.Step
	Event    *models.Event
	RunID    string
	WorkDir  string
	Env      []string       // Resolved environment in KEY=VALUE form
	With     map[string]any // Step options with variables expanded
	Runner   CommandRunner
	Logger   Logger
	DryRun   bool
	State    *RunState
}

// LookupEnv reads a single variable from the resolved step environment.
func (sc *StepContext) LookupEnv(key string) (string, bool) {
	prefix := key + "="
	for _, kv := range sc.Env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

// Registry holds the builtins available to a run, keyed by name.
type Registry struct {
	builtins map[string]Builtin
}

// NewRegistry creates an empty builtin registry.
func NewRegistry() *Registry {
	return &Registry{builtins: make(map[string]Builtin)}
}

// Register adds a builtin. Registering the same name twice is an error.
func (r *Registry) Register(b Builtin) error {
	name := b.Name()
	if name == "" {
		return errors.New("builtin name cannot be empty")
	}
	if _, exists := r.builtins[name]; exists {
		return fmt.Errorf("builtin %q already registered", name)
	}
	r.builtins[name] = b
	return nil
}

// Lookup returns the builtin registered under name.
func (r *Registry) Lookup(name string) (Builtin, bool) {
	b, ok := r.builtins[name]
	return b, ok
}

// Names returns all registered builtin names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.builtins))
	for name := range r.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunState is the mutable state shared by all steps of one run. Builtins
// publish what they produced (artifacts, tool paths) for later steps.
type RunState struct {
	mu           sync.Mutex
	distDir      string
	artifacts    []artifact.Artifact
	pathPrepends []string
	published    bool
}

// NewRunState creates an empty run state.
func NewRunState() *RunState {
	return &RunState{}
}

// SetDistDir records the directory build output is collected in.
func (s *RunState) SetDistDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distDir = dir
}

// DistDir returns the recorded build output directory, if any.
func (s *RunState) DistDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distDir
}

// SetArtifacts replaces the recorded build artifacts.
func (s *RunState) SetArtifacts(artifacts []artifact.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append([]artifact.Artifact(nil), artifacts...)
}

// Artifacts returns a copy of the recorded build artifacts.
func (s *RunState) Artifacts() []artifact.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]artifact.Artifact(nil), s.artifacts...)
}

// PrependPath registers a directory to prepend to PATH for later steps.
func (s *RunState) PrependPath(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pathPrepends = append(s.pathPrepends, dir)
}

// PathPrepends returns the registered PATH prepends in registration order.
func (s *RunState) PathPrepends() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pathPrepends...)
}

// MarkPublished records that at least one artifact reached the index.
func (s *RunState) MarkPublished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = true
}

// Published reports whether any artifact was uploaded during the run.
func (s *RunState) Published() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}
