package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/slipway-ci/slipway/internal/models"
)

// ErrTriggerNotMatched is returned when the triggering event does not
// satisfy the pipeline's trigger rules.
var ErrTriggerNotMatched = errors.New("event does not match pipeline trigger")

// Logger interface for execution events. Implementations must handle
// nil-safe operation.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogRunStart(pipeline *models.Pipeline, event *models.Event)
	LogJobStart(job *models.Job)
	LogJobComplete(job *models.Job, duration time.Duration)
	LogStepResult(result models.StepResult) error
	LogProgress(results []models.StepResult, total int)
	LogRunSummary(result models.RunResult)
}

// Options configures a Runner.
type Options struct {
	Builtins    *Registry     // Builtin steps available to pipelines (nil = empty)
	Logger      Logger        // Execution logger (nil = discard)
	Command     CommandRunner // Shell runner (nil = real shell)
	BaseEnv     []string      // Base process environment (nil = os.Environ())
	WorkDir     string        // Default working directory for steps
	StepTimeout time.Duration // Timeout for steps that set none (0 = unlimited)
	DryRun      bool          // Resolve and log the plan without side effects
	Force       bool          // Run even when the event does not match the trigger
}

// Runner executes release pipelines: jobs in dependency order, steps
// sequentially and fail-fast within each job.
type Runner struct {
	builtins    *Registry
	logger      Logger
	command     CommandRunner
	baseEnv     []string
	workDir     string
	stepTimeout time.Duration
	dryRun      bool
	force       bool
}

// NewRunner creates a Runner from options, applying defaults for any
// unset field.
func NewRunner(opts Options) *Runner {
	if opts.Builtins == nil {
		opts.Builtins = NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Command == nil {
		opts.Command = NewShellCommandRunner()
	}
	if opts.BaseEnv == nil {
		opts.BaseEnv = os.Environ()
	}
	return &Runner{
		builtins:    opts.Builtins,
		logger:      opts.Logger,
		command:     opts.Command,
		baseEnv:     opts.BaseEnv,
		workDir:     opts.WorkDir,
		stepTimeout: opts.StepTimeout,
		dryRun:      opts.DryRun,
		force:       opts.Force,
	}
}

// GenerateRunID produces a unique, sortable run identifier.
func GenerateRunID() string {
	return fmt.Sprintf("run-%s-%s", time.Now().Format("20060102-150405"), uuid.New().String()[:8])
}

// Execute runs the pipeline for the given event. Jobs run in dependency
// order; within a job, steps run sequentially and a failure blocks later
// steps unless their condition says otherwise. The returned RunResult is
// non-nil whenever execution started, even if the run failed or was
// interrupted.
func (r *Runner) Execute(ctx context.Context, pipeline *models.Pipeline, event *models.Event) (*models.RunResult, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline cannot be nil")
	}
	if err := pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	if err := ValidateConditions(pipeline); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	if event != nil && !pipeline.On.Matches(event) && !r.force {
		return nil, fmt.Errorf("%w: pipeline %q does not react to %s", ErrTriggerNotMatched, pipeline.Name, event)
	}

	ordered, err := OrderJobs(pipeline.Jobs)
	if err != nil {
		return nil, err
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			r.logger.LogWarn("Interrupt received, cancelling run")
			cancel()
		case <-ctx.Done():
		}
	}()

	result := &models.RunResult{
		RunID:     GenerateRunID(),
		Pipeline:  pipeline.Name,
		Event:     event,
		StartedAt: time.Now(),
	}
	state := NewRunState()

	r.logger.LogRunStart(pipeline, event)
	if r.dryRun {
		r.logPlan(ordered)
	}

	totalSteps := 0
	for _, job := range ordered {
		totalSteps += len(job.Steps)
	}

	failedJobs := make(map[string]bool)
	for _, job := range ordered {
		if blocker := firstFailedNeed(job, failedJobs); blocker != "" {
			r.logger.LogWarn(fmt.Sprintf("Job %s blocked: needs %s, which did not pass", job.ID, blocker))
			for _, step := range job.Steps {
				blocked := models.StepResult{JobID: job.ID, StepID: step.ID, StepName: step.Name, Status: models.StatusBlocked}
				result.Steps = append(result.Steps, blocked)
				_ = r.logger.LogStepResult(blocked)
			}
			failedJobs[job.ID] = true
			continue
		}

		r.logger.LogJobStart(job)
		jobStart := time.Now()
		priorFailed := false

		for _, step := range job.Steps {
			runFailed := priorFailed || len(failedJobs) > 0
			stepResult := r.executeStep(ctx, pipeline, job, step, event, result.RunID, state, priorFailed, runFailed)
			result.Steps = append(result.Steps, stepResult)
			if err := r.logger.LogStepResult(stepResult); err != nil {
				r.logger.LogWarn(fmt.Sprintf("Failed to log step result: %v", err))
			}
			r.logger.LogProgress(result.Steps, totalSteps)
			if stepResult.Status == models.StatusFailed {
				priorFailed = true
			}
		}

		r.logger.LogJobComplete(job, time.Since(jobStart))
		if priorFailed {
			failedJobs[job.ID] = true
		}
	}

	result.Duration = time.Since(result.StartedAt)
	result.ArtifactCount = len(state.Artifacts())
	result.Published = state.Published()
	switch {
	case r.dryRun:
		result.Status = models.StatusSkipped
	case len(result.Failed()) == 0 && ctx.Err() == nil:
		result.Status = models.StatusPassed
	default:
		result.Status = models.StatusFailed
	}

	r.logger.LogRunSummary(*result)

	if ctx.Err() != nil {
		return result, fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	return result, nil
}

// executeStep runs one step and maps its outcome to a StepResult.
// priorFailed tracks failures within the current job (it feeds the
// success()/failure() condition language); runFailed also covers jobs
// that failed or were blocked earlier in the run.
func (r *Runner) executeStep(ctx context.Context, pipeline *models.Pipeline, job *models.Job, step *models.Step, event *models.Event, runID string, state *RunState, priorFailed, runFailed bool) models.StepResult {
	sr := models.StepResult{JobID: job.ID, StepID: step.ID, StepName: step.Name}

	// A cancelled run blocks everything that has not started yet.
	if ctx.Err() != nil {
		sr.Status = models.StatusBlocked
		return sr
	}

	// Conditions were validated before the run started.
	cond, _ := ParseCondition(step.If)

	var builtin Builtin
	if step.Uses != "" {
		var ok bool
		builtin, ok = r.builtins.Lookup(step.Uses)
		if !ok {
			sr.Status = models.StatusFailed
			sr.Error = fmt.Errorf("unknown builtin %q (available: %s)", step.Uses, strings.Join(r.builtins.Names(), ", "))
			return sr
		}
		// Some builtins refuse to run after a failure anywhere in the
		// run, no matter what the step condition evaluates to.
		// Publishing is the canonical case.
		if gated, ok := builtin.(PriorSuccessGated); ok && gated.GatedOnPriorSuccess() && runFailed {
			r.logger.LogWarn(fmt.Sprintf("Step %s blocked: %s never runs after a failed step", step.ID, builtin.Name()))
			sr.Status = models.StatusBlocked
			return sr
		}
		if gated, ok := builtin.(ReleaseGated); ok && gated.GatedOnReleasePublication() {
			if event == nil || !event.IsReleasePublication() {
				r.logger.LogInfo(fmt.Sprintf("Step %s skipped: %s only runs for a published release", step.ID, builtin.Name()))
				sr.Status = models.StatusSkipped
				return sr
			}
		}
	}

	if !cond.Evaluate(EvalContext{Event: event, PriorFailed: priorFailed}) {
		if priorFailed {
			sr.Status = models.StatusBlocked
		} else {
			sr.Status = models.StatusSkipped
		}
		return sr
	}

	if builtin != nil {
		for _, req := range builtin.RequiredGrants() {
			if !pipeline.Permissions.Allows(req.Scope, req.Grant) {
				sr.Status = models.StatusFailed
				sr.Error = fmt.Errorf("step %q requires permission %s, which the pipeline does not grant", step.ID, req)
				return sr
			}
		}
	}

	envMap := ResolveStepEnv(r.baseEnv, pipeline, job, step, event, runID, state.PathPrepends())
	env := FlattenEnv(envMap)
	workDir := resolveWorkDir(r.workDir, job.WorkDir, step.WorkDir)

	timeout := step.TimeoutDuration()
	if timeout == 0 {
		timeout = r.stepTimeout
	}
	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sr.StartedAt = time.Now()
	var output string
	var err error
	if builtin != nil {
		sc := &StepContext{
			Pipeline: pipeline,
			Job:      job,
			Step:     step,
			Event:    event,
			RunID:    runID,
			WorkDir:  workDir,
			Env:      env,
			With:     ExpandWith(step.With, envMap),
			Runner:   r.command,
			Logger:   r.logger,
			DryRun:   r.dryRun,
			State:    state,
		}
		err = builtin.Execute(stepCtx, sc)
	} else {
		command := ExpandString(step.Run, envMap)
		if r.dryRun {
			r.logger.LogInfo(fmt.Sprintf("[dry-run] would run: %s", command))
		} else {
			output, err = r.command.Run(stepCtx, command, RunOptions{Dir: workDir, Env: env})
		}
	}
	sr.Duration = time.Since(sr.StartedAt)
	sr.Output = output

	switch {
	case r.dryRun && err == nil:
		sr.Status = models.StatusSkipped
	case err == nil:
		sr.Status = models.StatusPassed
	case errors.Is(err, ErrStepSkipped):
		sr.Status = models.StatusSkipped
		if sr.Output == "" {
			sr.Output = err.Error()
		}
	case stepCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		sr.Status = models.StatusFailed
		sr.Error = fmt.Errorf("step timed out after %s: %w", timeout, err)
	default:
		sr.Status = models.StatusFailed
		sr.Error = err
	}
	return sr
}

// logPlan reports the resolved execution plan during a dry run.
func (r *Runner) logPlan(ordered []*models.Job) {
	r.logger.LogInfo("[dry-run] resolved plan:")
	for _, job := range ordered {
		line := fmt.Sprintf("[dry-run] job %s", job.ID)
		if len(job.Needs) > 0 {
			line += fmt.Sprintf(" (needs %s)", strings.Join(job.Needs, ", "))
		}
		r.logger.LogInfo(line)
		for _, step := range job.Steps {
			cond, _ := ParseCondition(step.If)
			what := "run: " + strings.TrimSpace(step.Run)
			if step.Uses != "" {
				what = "uses: " + step.Uses
				if b, ok := r.builtins.Lookup(step.Uses); ok && len(b.RequiredGrants()) > 0 {
					grants := make([]string, len(b.RequiredGrants()))
					for i, g := range b.RequiredGrants() {
						grants[i] = g.String()
					}
					what += fmt.Sprintf(" [%s]", strings.Join(grants, ", "))
				}
			}
			r.logger.LogInfo(fmt.Sprintf("[dry-run]   step %s: %s (if %s)", step.ID, what, cond.String()))
		}
	}
}

// OrderJobs computes a dependency-respecting execution order using Kahn's
// algorithm. Jobs with no unmet dependencies keep their declaration order.
func OrderJobs(jobs []*models.Job) ([]*models.Job, error) {
	position := make(map[string]int, len(jobs))
	byID := make(map[string]*models.Job, len(jobs))
	inDegree := make(map[string]int, len(jobs))
	dependents := make(map[string][]string)

	for i, job := range jobs {
		position[job.ID] = i
		byID[job.ID] = job
		inDegree[job.ID] = 0
	}
	for _, job := range jobs {
		for _, need := range job.Needs {
			if _, known := byID[need]; !known {
				return nil, fmt.Errorf("job %q needs unknown job %q", job.ID, need)
			}
			dependents[need] = append(dependents[need], job.ID)
			inDegree[job.ID]++
		}
	}

	ordered := make([]*models.Job, 0, len(jobs))
	for len(inDegree) > 0 {
		ready := make([]string, 0, len(inDegree))
		for id, deg := range inDegree {
			if deg == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, errors.New("cyclic job dependencies detected")
		}
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })

		for _, id := range ready {
			ordered = append(ordered, byID[id])
			delete(inDegree, id)
			for _, dep := range dependents[id] {
				if _, pending := inDegree[dep]; pending {
					inDegree[dep]--
				}
			}
		}
	}
	return ordered, nil
}

// firstFailedNeed returns the first dependency of job that failed, or "".
func firstFailedNeed(job *models.Job, failedJobs map[string]bool) string {
	for _, need := range job.Needs {
		if failedJobs[need] {
			return need
		}
	}
	return ""
}

// resolveWorkDir picks the most specific working directory. Relative
// overrides are joined onto the runner's base directory.
func resolveWorkDir(base, jobDir, stepDir string) string {
	dir := base
	for _, override := range []string{jobDir, stepDir} {
		if override == "" {
			continue
		}
		if filepath.IsAbs(override) || base == "" {
			dir = override
		} else {
			dir = filepath.Join(base, override)
		}
	}
	return dir
}

type nopLogger struct{}

func (nopLogger) LogDebug(string)                             {}
func (nopLogger) LogInfo(string)                              {}
func (nopLogger) LogWarn(string)                              {}
func (nopLogger) LogError(string)                             {}
func (nopLogger) LogRunStart(*models.Pipeline, *models.Event) {}
func (nopLogger) LogJobStart(*models.Job)                     {}
func (nopLogger) LogJobComplete(*models.Job, time.Duration)   {}
func (nopLogger) LogStepResult(models.StepResult) error       { return nil }
func (nopLogger) LogProgress([]models.StepResult, int)        {}
func (nopLogger) LogRunSummary(models.RunResult)              {}
