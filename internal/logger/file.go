package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/slipway-ci/slipway/internal/models"
)

// FileLogger logs pipeline run events to files in a log directory.
// It creates timestamped per-run log files, per-step detailed logs,
// and maintains a latest.log symlink pointing to the most recent run.
// It is thread-safe and supports log level filtering.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	stepsDir string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a new FileLogger that writes to .slipway/logs/.
// It creates the log directory if it doesn't exist, opens a timestamped
// run log file, and creates/updates the latest.log symlink.
// Uses default log level "info".
func NewFileLogger() (*FileLogger, error) {
	// Default log directory is .slipway/logs/ in current working directory
	logDir := filepath.Join(".slipway", "logs")
	return NewFileLoggerWithDirAndLevel(logDir, "info")
}

// NewFileLoggerWithDir creates a new FileLogger with a custom log directory.
// This is useful for testing or custom deployments.
// Uses default log level "info".
func NewFileLoggerWithDir(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(logDir, "info")
}

// NewFileLoggerWithDirAndLevel creates a new FileLogger with a custom log directory and log level.
// This is useful for testing or custom deployments.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	// Create log directory if it doesn't exist
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Create steps subdirectory
	stepsDir := filepath.Join(logDir, "steps")
	if err := os.MkdirAll(stepsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create steps directory: %w", err)
	}

	// Generate timestamped filename: run-YYYYMMDD-HHMMSS.log
	timestamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", timestamp))

	// Open run log file for writing
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	// Create/update latest.log symlink
	symlinkPath := filepath.Join(logDir, "latest.log")

	// Remove existing symlink if it exists
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}

	// Create new symlink pointing to current run log
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	// Normalize and validate log level
	normalizedLevel := normalizeLogLevel(logLevel)

	logger := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		stepsDir: stepsDir,
		logLevel: normalizedLevel,
		mu:       sync.Mutex{},
	}

	// Write header to run log
	logger.writeRunLog("=== Slipway Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// shouldLog checks if a message at the given level should be logged.
// Returns true if messageLevel >= configured logLevel.
func (fl *FileLogger) shouldLog(messageLevel string) bool {
	configuredLevel := logLevelToInt(fl.logLevel)
	msgLevel := logLevelToInt(messageLevel)
	return msgLevel >= configuredLevel
}

// LogTrace logs a trace-level message (most verbose).
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

// logWithLevel is a helper that logs a message at the specified level if filtering allows it.
func (fl *FileLogger) logWithLevel(level string, message string) {
	// Check if this level should be logged
	levelLower := strings.ToLower(level)
	if !fl.shouldLog(levelLower) {
		return
	}

	formatted := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), level, message)
	fl.writeRunLog(formatted)
}

// LogRunStart logs the start of a pipeline run at INFO level.
// It records the pipeline name, job count, and triggering event.
func (fl *FileLogger) LogRunStart(pipeline *models.Pipeline, event *models.Event) {
	// Run logging is at INFO level
	if !fl.shouldLog("info") {
		return
	}

	eventInfo := ""
	if event != nil {
		eventInfo = fmt.Sprintf(" (event %s)", event.String())
	}

	message := fmt.Sprintf(
		"[%s] Starting %s: %d jobs%s\n",
		time.Now().Format("15:04:05"),
		pipeline.Name,
		len(pipeline.Jobs),
		eventInfo,
	)

	fl.writeRunLog(message)
}

// LogJobStart logs the start of a job execution at INFO level.
// It records the job identifier and how many steps it contains.
func (fl *FileLogger) LogJobStart(job *models.Job) {
	// Job logging is at INFO level
	if !fl.shouldLog("info") {
		return
	}

	stepCount := len(job.Steps)
	stepLabel := "step"
	if stepCount != 1 {
		stepLabel = "steps"
	}

	message := fmt.Sprintf(
		"[%s] Job %s: %d %s\n",
		time.Now().Format("15:04:05"),
		job.ID,
		stepCount,
		stepLabel,
	)

	fl.writeRunLog(message)
}

// LogJobComplete logs the completion of a job execution at INFO level.
// It records the job identifier and duration.
func (fl *FileLogger) LogJobComplete(job *models.Job, duration time.Duration) {
	// Job logging is at INFO level
	if !fl.shouldLog("info") {
		return
	}

	message := fmt.Sprintf(
		"[%s] Job %s complete: duration %.1fs\n",
		time.Now().Format("15:04:05"),
		job.ID,
		duration.Seconds(),
	)

	fl.writeRunLog(message)
}

// LogRunSummary logs the run summary with final statistics at INFO level.
// It records step counts, artifact count, publish state, duration, and status.
func (fl *FileLogger) LogRunSummary(result models.RunResult) {
	// Summary logging is at INFO level
	if !fl.shouldLog("info") {
		return
	}

	timestamp := time.Now().Format("15:04:05")
	counts := result.CountByStatus()

	// Determine status
	status := "SUCCESS"
	if counts[models.StatusFailed] > 0 {
		status = "FAILED"
	}

	published := "no"
	if result.Published {
		published = "yes"
	}

	// Build summary output
	message := fmt.Sprintf(
		"\n[%s] === RUN SUMMARY ===\n"+
			"[%s] Pipeline:     %s\n"+
			"[%s] Total steps:  %d\n"+
			"[%s] Passed:       %d\n"+
			"[%s] Failed:       %d\n"+
			"[%s] Skipped:      %d\n"+
			"[%s] Artifacts:    %d\n"+
			"[%s] Published:    %s\n"+
			"[%s] Total time:   %.1fs\n"+
			"[%s] Status:       %s\n"+
			"[%s] Completed at: %s\n",
		timestamp,
		timestamp,
		result.Pipeline,
		timestamp,
		len(result.Steps),
		timestamp,
		counts[models.StatusPassed],
		timestamp,
		counts[models.StatusFailed],
		timestamp,
		counts[models.StatusSkipped],
		timestamp,
		result.ArtifactCount,
		timestamp,
		published,
		timestamp,
		result.Duration.Seconds(),
		timestamp,
		status,
		timestamp,
		time.Now().Format(time.RFC3339),
	)

	fl.writeRunLog(message)
}

// LogStepResult logs detailed information about a step execution.
// It creates a separate log file for each step in the steps/ subdirectory.
func (fl *FileLogger) LogStepResult(result models.StepResult) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	// Create step log file: steps/<job>-<step>.log
	stepLogPath := filepath.Join(fl.stepsDir, fmt.Sprintf("%s-%s.log", result.JobID, result.StepID))

	file, err := os.OpenFile(stepLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create step log file: %w", err)
	}
	defer file.Close()

	// Write step details
	content := fmt.Sprintf("=== Step %s/%s: %s ===\n", result.JobID, result.StepID, result.StepName)
	content += fmt.Sprintf("Status: %s\n", result.Status)
	content += fmt.Sprintf("Duration: %.1fs\n", result.Duration.Seconds())
	content += "\n"

	if result.Output != "" {
		content += fmt.Sprintf("Output:\n%s\n\n", result.Output)
	}

	if result.Error != nil {
		content += fmt.Sprintf("Error:\n%v\n\n", result.Error)
	}

	content += fmt.Sprintf("Completed at: %s\n", time.Now().Format(time.RFC3339))

	_, err = file.WriteString(content)
	if err != nil {
		return fmt.Errorf("failed to write step log: %w", err)
	}

	return nil
}

// LogProgress logs the current execution progress (no-op for file logger).
// Progress is displayed on console but not written to log files.
func (fl *FileLogger) LogProgress(results []models.StepResult, total int) {
	// No-op: progress bars are console-only for now
}

// Close flushes and closes the run log file.
// It should be called when the logger is no longer needed.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}

	return nil
}

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		// Flush after each write for real-time logging
		fl.runLog.Sync()
	}
}
