// Package logging provides config-driven categorized file-based logging for agentforge.
// Logs are written to .agentforge/logs/ with separate files per category.
// Logging is controlled by debug_mode in the logging config - when false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot     Category = "boot"     // Boot/initialization
	CategoryWorkflow Category = "workflow" // Run lifecycle, dispatch
	CategoryAPI      Category = "api"      // LLM API calls

	// Execution categories
	CategorySandbox Category = "sandbox" // Sandbox provisioning, commands
	CategoryTools   Category = "tools"   // Tool execution
	CategorySteps   Category = "steps"   // Step executor, replay
	CategoryRetry   Category = "retry"   // Quota classification, backoff
	CategoryRouter  Category = "router"  // Agent network turns

	// Storage categories
	CategoryCache   Category = "cache"   // Response cache
	CategoryPersist Category = "persist" // Persistence gateway
	CategoryStore   Category = "store"   // SQLite store
)

// Options mirrors config.LoggingConfig to avoid circular imports.
type Options struct {
	DebugMode  bool
	Level      string
	JSONFormat bool
	Categories map[string]bool
}

// Logger wraps a zap sugared logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	workspace string
	config    Options
	configMu  sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	nop       = zap.NewNop().Sugar()
)

// Initialize sets up the logging directory and applies the options.
// Should be called once at startup with the workspace path.
func Initialize(ws string, opts Options) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	CloseAll()

	configMu.Lock()
	workspace = ws
	logsDir = filepath.Join(workspace, ".agentforge", "logs")
	config = opts
	configMu.Unlock()

	level.SetLevel(parseLevel(opts.Level))

	if !opts.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== agentforge logging initialized ===")
	boot.Info("Workspace: %s", workspace)
	boot.Info("Log level: %s", level.Level())
	if len(opts.Categories) == 0 {
		boot.Info("All categories enabled (no category filter)")
	}
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: nop}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	configMu.RLock()
	dir := logsDir
	jsonFormat := config.JSONFormat
	configMu.RUnlock()
	if dir == "" {
		return &Logger{category: category, sugar: nop}
	}

	// Date prefix for easy rotation
	filename := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category)
	logPath := filepath.Join(dir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category, sugar: nop}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if jsonFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(file), level)

	l := &Logger{
		category: category,
		file:     file,
		sugar:    zap.New(core).Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a child logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// WithRunID creates a run-scoped logger for correlating all entries of one workflow run.
func WithRunID(category Category, runID string) *Logger {
	return Get(category).With("run_id", runID)
}

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		_ = l.sugar.Sync()
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

// BootError logs errors to the boot category
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

// Workflow logs to the workflow category
func Workflow(format string, args ...interface{}) { Get(CategoryWorkflow).Info(format, args...) }

// WorkflowDebug logs debug to the workflow category
func WorkflowDebug(format string, args ...interface{}) { Get(CategoryWorkflow).Debug(format, args...) }

// WorkflowWarn logs warnings to the workflow category
func WorkflowWarn(format string, args ...interface{}) { Get(CategoryWorkflow).Warn(format, args...) }

// WorkflowError logs errors to the workflow category
func WorkflowError(format string, args ...interface{}) { Get(CategoryWorkflow).Error(format, args...) }

// API logs to the api category
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs debug to the api category
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

// APIWarn logs warnings to the api category
func APIWarn(format string, args ...interface{}) { Get(CategoryAPI).Warn(format, args...) }

// Sandbox logs to the sandbox category
func Sandbox(format string, args ...interface{}) { Get(CategorySandbox).Info(format, args...) }

// SandboxDebug logs debug to the sandbox category
func SandboxDebug(format string, args ...interface{}) { Get(CategorySandbox).Debug(format, args...) }

// SandboxWarn logs warnings to the sandbox category
func SandboxWarn(format string, args ...interface{}) { Get(CategorySandbox).Warn(format, args...) }

// SandboxError logs errors to the sandbox category
func SandboxError(format string, args ...interface{}) { Get(CategorySandbox).Error(format, args...) }

// Tools logs to the tools category
func Tools(format string, args ...interface{}) { Get(CategoryTools).Info(format, args...) }

// ToolsDebug logs debug to the tools category
func ToolsDebug(format string, args ...interface{}) { Get(CategoryTools).Debug(format, args...) }

// ToolsWarn logs warnings to the tools category
func ToolsWarn(format string, args ...interface{}) { Get(CategoryTools).Warn(format, args...) }

// Steps logs to the steps category
func Steps(format string, args ...interface{}) { Get(CategorySteps).Info(format, args...) }

// StepsDebug logs debug to the steps category
func StepsDebug(format string, args ...interface{}) { Get(CategorySteps).Debug(format, args...) }

// Retry logs to the retry category
func Retry(format string, args ...interface{}) { Get(CategoryRetry).Info(format, args...) }

// RetryWarn logs warnings to the retry category
func RetryWarn(format string, args ...interface{}) { Get(CategoryRetry).Warn(format, args...) }

// Router logs to the router category
func Router(format string, args ...interface{}) { Get(CategoryRouter).Info(format, args...) }

// RouterDebug logs debug to the router category
func RouterDebug(format string, args ...interface{}) { Get(CategoryRouter).Debug(format, args...) }

// RouterWarn logs warnings to the router category
func RouterWarn(format string, args ...interface{}) { Get(CategoryRouter).Warn(format, args...) }

// CacheDebug logs debug to the cache category
func CacheDebug(format string, args ...interface{}) { Get(CategoryCache).Debug(format, args...) }

// Persist logs to the persist category
func Persist(format string, args ...interface{}) { Get(CategoryPersist).Info(format, args...) }

// PersistError logs errors to the persist category
func PersistError(format string, args ...interface{}) { Get(CategoryPersist).Error(format, args...) }

// Store logs to the store category
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// StoreError logs errors to the store category
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
