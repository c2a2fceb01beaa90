package models

import "time"

// Step execution status constants
const (
	StatusPassed  = "passed"  // Step completed successfully
	StatusFailed  = "failed"  // Step executed and failed
	StatusSkipped = "skipped" // Condition evaluated false, step not run
	StatusBlocked = "blocked" // Not attempted because an earlier failure stopped the job
)

// StepResult represents the outcome of executing a single step
type StepResult struct {
	JobID     string        // Job the step belongs to
	StepID    string        // Step identifier
	StepName  string        // Human-readable step name
	Status    string        // passed, failed, skipped, blocked
	Output    string        // Captured combined output
	Error     error         // Error when Status is failed
	StartedAt time.Time     // When execution began (zero for skipped/blocked)
	Duration  time.Duration // Time taken to execute
}

// RunResult represents the aggregate outcome of one pipeline run
type RunResult struct {
	RunID         string        // Unique run identifier
	Pipeline      string        // Pipeline name
	Event         *Event        // Triggering event
	Status        string        // passed or failed
	Steps         []StepResult  // Per-step outcomes in execution order
	ArtifactCount int           // Artifacts accounted for by the run
	Published     bool          // Whether the publish step uploaded anything
	StartedAt     time.Time     // When the run began
	Duration      time.Duration // Total execution time
}

// Failed returns the results of steps that failed
func (r *RunResult) Failed() []StepResult {
	var failed []StepResult
	for _, sr := range r.Steps {
		if sr.Status == StatusFailed {
			failed = append(failed, sr)
		}
	}
	return failed
}

// Passed reports whether every executed step passed
func (r *RunResult) Passed() bool {
	return r.Status == StatusPassed
}

// CountByStatus tallies step results per status
func (r *RunResult) CountByStatus() map[string]int {
	counts := make(map[string]int)
	for _, sr := range r.Steps {
		counts[sr.Status]++
	}
	return counts
}
