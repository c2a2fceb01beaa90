package logger

import (
	"time"

	"github.com/slipway-ci/slipway/internal/models"
)

// Logger is the full logging surface shared by the console and file
// implementations.
type Logger interface {
	LogTrace(message string)
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

// MultiLogger fans every call out to a list of loggers, typically the
// console logger plus a file logger.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger over the given loggers. Nil
// entries are dropped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	kept := make([]Logger, 0, len(loggers))
	for _, l := range loggers {
		if l != nil {
			kept = append(kept, l)
		}
	}
	return &MultiLogger{loggers: kept}
}

func (m *MultiLogger) LogTrace(message string) {
	for _, l := range m.loggers {
		l.LogTrace(message)
	}
}

func (m *MultiLogger) LogDebug(message string) {
	for _, l := range m.loggers {
		l.LogDebug(message)
	}
}

func (m *MultiLogger) LogInfo(message string) {
	for _, l := range m.loggers {
		l.LogInfo(message)
	}
}

func (m *MultiLogger) LogWarn(message string) {
	for _, l := range m.loggers {
		l.LogWarn(message)
	}
}

func (m *MultiLogger) LogError(message string) {
	for _, l := range m.loggers {
		l.LogError(message)
	}
}

func (m *MultiLogger) LogRunStart(pipeline *models.Pipeline, event *models.Event) {
	for _, l := range m.loggers {
		l.LogRunStart(pipeline, event)
	}
}

func (m *MultiLogger) LogJobStart(job *models.Job) {
	for _, l := range m.loggers {
		l.LogJobStart(job)
	}
}

func (m *MultiLogger) LogJobComplete(job *models.Job, duration time.Duration) {
	for _, l := range m.loggers {
		l.LogJobComplete(job, duration)
	}
}

// LogStepResult forwards to every logger; the first error is returned
// after all loggers have seen the result.
func (m *MultiLogger) LogStepResult(result models.StepResult) error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.LogStepResult(result); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiLogger) LogProgress(results []models.StepResult, total int) {
	for _, l := range m.loggers {
		l.LogProgress(results, total)
	}
}

func (m *MultiLogger) LogRunSummary(result models.RunResult) {
	for _, l := range m.loggers {
		l.LogRunSummary(result)
	}
}
