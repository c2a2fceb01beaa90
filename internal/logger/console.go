// Package logger provides logging implementations for pipeline runs.
//
// The logger package offers structured logging of run progress at the
// job, step, and summary levels. Implementations are thread-safe and
// support various output destinations (console, file, etc.).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/slipway-ci/slipway/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs run progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps for tracking execution flow.
// It supports log level filtering to control message verbosity.
// Color output is automatically enabled for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// logLevel determines the minimum log level for messages to be output.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
// Color output is automatically enabled when writing to os.Stdout or os.Stderr with TTY support.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	// Normalize and validate log level
	normalizedLevel := normalizeLogLevel(logLevel)

	// Detect if we should use color output
	useColor := isTerminal(writer)

	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizedLevel,
		mutex:       sync.Mutex{},
		colorOutput: useColor,
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
// Returns true for *os.File writers that are TTYs, respecting NO_COLOR
// via the color library.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if validLevels[normalized] {
		return normalized
	}

	return "info" // Default level
}

// shouldLog checks if a message at the given level should be logged.
// Returns true if messageLevel >= configured logLevel.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	configuredLevel := logLevelToInt(cl.logLevel)
	msgLevel := logLevelToInt(messageLevel)
	return msgLevel >= configuredLevel
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo // Default to info if unknown
	}
}

// LogTrace logs a trace-level message (most verbose).
// Format: "[HH:MM:SS] [TRACE] <message>"
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
// Format: "[HH:MM:SS] [DEBUG] <message>"
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
// Format: "[HH:MM:SS] [INFO] <message>"
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
// Format: "[HH:MM:SS] [WARN] <message>"
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
// Format: "[HH:MM:SS] [ERROR] <message>"
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

// logWithLevel is a helper that logs a message at the specified level if filtering allows it.
func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil {
		return
	}

	// Check if this level should be logged
	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var formatted string

	if cl.colorOutput {
		// Format with colors
		formatted = cl.formatWithColor(ts, level, message)
	} else {
		// Plain text format
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	}

	cl.writer.Write([]byte(formatted))
}

// formatWithColor formats a log message with ANSI color codes.
func (cl *ConsoleLogger) formatWithColor(ts, level, message string) string {
	var coloredLevel string

	switch strings.ToUpper(level) {
	case "TRACE":
		coloredLevel = color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		coloredLevel = color.New(color.FgCyan).Sprint(level)
	case "INFO":
		coloredLevel = color.New(color.FgBlue).Sprint(level)
	case "WARN":
		coloredLevel = color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		coloredLevel = color.New(color.FgRed).Sprint(level)
	default:
		coloredLevel = level
	}

	return fmt.Sprintf("[%s] [%s] %s\n", ts, coloredLevel, message)
}

// LogRunStart logs the start of a pipeline run at INFO level.
// Format: "[HH:MM:SS] Starting <pipeline>: <count> jobs (event <kind.action>)"
func (cl *ConsoleLogger) LogRunStart(pipeline *models.Pipeline, event *models.Event) {
	if cl.writer == nil {
		return
	}

	// Run logging is at INFO level
	if !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	jobCount := len(pipeline.Jobs)

	eventInfo := ""
	if event != nil {
		eventInfo = fmt.Sprintf(" (event %s)", event.String())
	}

	var message string
	if cl.colorOutput {
		// Bold/bright for run headers
		name := color.New(color.Bold).Sprint(pipeline.Name)
		message = fmt.Sprintf("[%s] Starting %s: %d jobs%s\n", ts, name, jobCount, eventInfo)
	} else {
		message = fmt.Sprintf("[%s] Starting %s: %d jobs%s\n", ts, pipeline.Name, jobCount, eventInfo)
	}

	cl.writer.Write([]byte(message))
}

// LogJobStart logs the start of a job execution at INFO level.
// Format: "[HH:MM:SS] Job <id>: <count> steps"
func (cl *ConsoleLogger) LogJobStart(job *models.Job) {
	if cl.writer == nil {
		return
	}

	// Job logging is at INFO level
	if !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	stepCount := len(job.Steps)

	var message string
	if cl.colorOutput {
		jobID := color.New(color.Bold).Sprint(job.ID)
		message = fmt.Sprintf("[%s] Job %s: %d steps\n", ts, jobID, stepCount)
	} else {
		message = fmt.Sprintf("[%s] Job %s: %d steps\n", ts, job.ID, stepCount)
	}

	cl.writer.Write([]byte(message))
}

// LogJobComplete logs the completion of a job execution at INFO level.
// Format: "[HH:MM:SS] Job <id> complete (<duration>)"
func (cl *ConsoleLogger) LogJobComplete(job *models.Job, duration time.Duration) {
	if cl.writer == nil {
		return
	}

	// Job logging is at INFO level
	if !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	durationStr := formatDuration(duration)

	var message string
	if cl.colorOutput {
		// Green for successful completion
		jobID := color.New(color.Bold).Sprint(job.ID)
		completeText := color.New(color.FgGreen).Sprint("complete")
		message = fmt.Sprintf("[%s] Job %s %s (%s)\n", ts, jobID, completeText, durationStr)
	} else {
		message = fmt.Sprintf("[%s] Job %s complete (%s)\n", ts, job.ID, durationStr)
	}

	cl.writer.Write([]byte(message))
}

// LogStepResult logs the completion of a step at DEBUG level.
// Format: "[HH:MM:SS] Step <job>/<id> (<name>): <status>"
// Returns nil for successful logging, or an error if logging failed.
func (cl *ConsoleLogger) LogStepResult(result models.StepResult) error {
	if cl.writer == nil {
		return nil
	}

	// Step result logging is at DEBUG level
	if !cl.shouldLog("debug") {
		return nil
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	stepInfo := fmt.Sprintf("Step %s/%s (%s)", result.JobID, result.StepID, result.StepName)

	var message string
	if cl.colorOutput {
		// Color code based on status
		var statusText string
		switch result.Status {
		case models.StatusPassed:
			statusText = color.New(color.FgGreen).Sprint(result.Status)
		case models.StatusFailed:
			statusText = color.New(color.FgRed).Sprint(result.Status)
		case models.StatusSkipped:
			statusText = color.New(color.FgYellow).Sprint(result.Status)
		case models.StatusBlocked:
			statusText = color.New(color.FgHiBlack).Sprint(result.Status)
		default:
			statusText = result.Status
		}
		message = fmt.Sprintf("[%s] %s: %s\n", ts, stepInfo, statusText)
	} else {
		message = fmt.Sprintf("[%s] %s: %s\n", ts, stepInfo, result.Status)
	}

	_, err := cl.writer.Write([]byte(message))
	return err
}

// LogRunSummary logs the run summary with completion statistics at INFO level.
// Format: "[HH:MM:SS] === Run Summary ===\n[HH:MM:SS] Pipeline: <name>\n..."
func (cl *ConsoleLogger) LogRunSummary(result models.RunResult) {
	if cl.writer == nil {
		return
	}

	// Summary logging is at INFO level
	if !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	durationStr := formatDuration(result.Duration)
	counts := result.CountByStatus()
	failed := result.Failed()

	published := "no"
	if result.Published {
		published = "yes"
	}

	var output string

	if cl.colorOutput {
		// Colorized summary
		header := color.New(color.Bold).Sprint("=== Run Summary ===")
		output = fmt.Sprintf("[%s] %s\n", ts, header)
		output += fmt.Sprintf("[%s] Pipeline: %s\n", ts, result.Pipeline)
		if result.Event != nil {
			output += fmt.Sprintf("[%s] Event: %s\n", ts, result.Event.String())
		}

		// Green for passed steps
		passedText := color.New(color.FgGreen).Sprintf("Passed: %d", counts[models.StatusPassed])
		output += fmt.Sprintf("[%s] %s\n", ts, passedText)

		// Red for failed steps if any, otherwise show in default color
		if counts[models.StatusFailed] > 0 {
			failedText := color.New(color.FgRed).Sprintf("Failed: %d", counts[models.StatusFailed])
			output += fmt.Sprintf("[%s] %s\n", ts, failedText)
		} else {
			output += fmt.Sprintf("[%s] Failed: %d\n", ts, counts[models.StatusFailed])
		}

		if counts[models.StatusSkipped] > 0 {
			output += fmt.Sprintf("[%s] Skipped: %d\n", ts, counts[models.StatusSkipped])
		}
		if counts[models.StatusBlocked] > 0 {
			output += fmt.Sprintf("[%s] Blocked: %d\n", ts, counts[models.StatusBlocked])
		}

		output += fmt.Sprintf("[%s] Artifacts: %d\n", ts, result.ArtifactCount)
		output += fmt.Sprintf("[%s] Published: %s\n", ts, published)
		output += fmt.Sprintf("[%s] Duration: %s\n", ts, durationStr)

		if len(failed) > 0 {
			failedHeader := color.New(color.FgRed).Sprint("Failed steps:")
			output += fmt.Sprintf("[%s] %s\n", ts, failedHeader)
			for _, sr := range failed {
				stepName := color.New(color.FgRed).Sprintf("%s/%s", sr.JobID, sr.StepID)
				output += fmt.Sprintf("[%s]   - %s: %v\n", ts, stepName, sr.Error)
			}
		}
	} else {
		// Plain text summary
		output = fmt.Sprintf("[%s] === Run Summary ===\n", ts)
		output += fmt.Sprintf("[%s] Pipeline: %s\n", ts, result.Pipeline)
		if result.Event != nil {
			output += fmt.Sprintf("[%s] Event: %s\n", ts, result.Event.String())
		}
		output += fmt.Sprintf("[%s] Passed: %d\n", ts, counts[models.StatusPassed])
		output += fmt.Sprintf("[%s] Failed: %d\n", ts, counts[models.StatusFailed])
		if counts[models.StatusSkipped] > 0 {
			output += fmt.Sprintf("[%s] Skipped: %d\n", ts, counts[models.StatusSkipped])
		}
		if counts[models.StatusBlocked] > 0 {
			output += fmt.Sprintf("[%s] Blocked: %d\n", ts, counts[models.StatusBlocked])
		}
		output += fmt.Sprintf("[%s] Artifacts: %d\n", ts, result.ArtifactCount)
		output += fmt.Sprintf("[%s] Published: %s\n", ts, published)
		output += fmt.Sprintf("[%s] Duration: %s\n", ts, durationStr)

		if len(failed) > 0 {
			output += fmt.Sprintf("[%s] Failed steps:\n", ts)
			for _, sr := range failed {
				output += fmt.Sprintf("[%s]   - %s/%s: %v\n", ts, sr.JobID, sr.StepID, sr.Error)
			}
		}
	}

	cl.writer.Write([]byte(output))
}

// LogProgress logs real-time progress of step execution with percentage and counts.
// Format: "[HH:MM:SS] Progress: [=====     ] 50% (4/8 steps) - Avg: 3s/step"
// Handles edge cases: zero steps, all completed, no duration data.
func (cl *ConsoleLogger) LogProgress(results []models.StepResult, total int) {
	if cl.writer == nil {
		return
	}

	// Progress logging is at INFO level
	if !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()

	// Count executed steps and accumulate durations
	done := len(results)
	executed := 0
	totalDuration := time.Duration(0)
	for _, sr := range results {
		if sr.Status == models.StatusPassed || sr.Status == models.StatusFailed {
			executed++
			totalDuration += sr.Duration
		}
	}

	// Calculate percentage
	var percentage int
	if total == 0 {
		percentage = 0
	} else {
		percentage = (done * 100) / total
		if percentage > 100 {
			percentage = 100
		}
	}

	// Create progress bar using ProgressBar component
	pb := NewProgressBar(total, 10, cl.colorOutput)
	pb.Update(done)
	pbRender := pb.Render()

	// Calculate average duration per executed step
	var avgDurationStr string
	if executed > 0 {
		avgDuration := totalDuration / time.Duration(executed)
		avgDurationStr = fmt.Sprintf(" - Avg: %s/step", formatDuration(avgDuration))
	}

	// Build progress message
	progressMsg := fmt.Sprintf("Progress: %s (%d/%d steps)%s", pbRender, done, total, avgDurationStr)

	var output string
	if cl.colorOutput {
		// Apply cyan color for in-progress, green for complete
		if percentage < 100 {
			progressMsg = color.New(color.FgCyan).Sprint(progressMsg)
		} else if percentage == 100 && total > 0 {
			progressMsg = color.New(color.FgGreen).Sprint(progressMsg)
		}
		output = fmt.Sprintf("[%s] %s\n", ts, progressMsg)
	} else {
		output = fmt.Sprintf("[%s] %s\n", ts, progressMsg)
	}

	cl.writer.Write([]byte(output))
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

// NoOpLogger is a Logger implementation that discards all log messages.
// Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// LogTrace is a no-op implementation.
func (n *NoOpLogger) LogTrace(message string) {
}

// LogDebug is a no-op implementation.
func (n *NoOpLogger) LogDebug(message string) {
}

// LogInfo is a no-op implementation.
func (n *NoOpLogger) LogInfo(message string) {
}

// LogWarn is a no-op implementation.
func (n *NoOpLogger) LogWarn(message string) {
}

// LogError is a no-op implementation.
func (n *NoOpLogger) LogError(message string) {
}

// LogRunStart is a no-op implementation.
func (n *NoOpLogger) LogRunStart(pipeline *models.Pipeline, event *models.Event) {
}

// LogJobStart is a no-op implementation.
func (n *NoOpLogger) LogJobStart(job *models.Job) {
}

// LogJobComplete is a no-op implementation.
func (n *NoOpLogger) LogJobComplete(job *models.Job, duration time.Duration) {
}

// LogStepResult is a no-op implementation.
func (n *NoOpLogger) LogStepResult(result models.StepResult) error {
	return nil
}

// LogRunSummary is a no-op implementation.
func (n *NoOpLogger) LogRunSummary(result models.RunResult) {
}

// LogProgress is a no-op implementation.
func (n *NoOpLogger) LogProgress(results []models.StepResult, total int) {
}
