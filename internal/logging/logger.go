// Package logging provides categorized structured logging for conductor.
// Each subsystem logs under its own named zap logger so campaign runs can
// be filtered per concern (campaign, checkpoint, queue, worker, store).
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup and configuration
	CategoryCampaign   Category = "campaign"   // Control loop and state transitions
	CategoryCheckpoint Category = "checkpoint" // Checkpoint create/validate/resume
	CategoryQueue      Category = "queue"      // Domain queue scheduling
	CategoryWorker     Category = "worker"     // Worker dispatch and modes
	CategoryAgent      Category = "agent"      // Agent adapter calls
	CategoryGit        Category = "git"        // Git collaborator
	CategoryStore      Category = "store"      // Relational sink
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize sets up the root logger. Should be called once at startup.
// With debug=false, output is production JSON at info level; with
// debug=true, development console output at debug level.
func Initialize(debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}

	root = logger
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Get returns the sugared logger for a category, creating it on first use.
// Safe to call before Initialize; falls back to a no-op logger.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	base := root
	if base == nil {
		base = zap.NewNop()
	}
	l := base.Named(string(category)).Sugar()
	loggers[category] = l
	return l
}

// Sync flushes any buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// Campaign logs an info message to the campaign category.
func Campaign(format string, args ...interface{}) {
	Get(CategoryCampaign).Infof(format, args...)
}

// CampaignDebug logs a debug message to the campaign category.
func CampaignDebug(format string, args ...interface{}) {
	Get(CategoryCampaign).Debugf(format, args...)
}

// CampaignWarn logs a warning to the campaign category.
func CampaignWarn(format string, args ...interface{}) {
	Get(CategoryCampaign).Warnf(format, args...)
}

// Worker logs an info message to the worker category.
func Worker(format string, args ...interface{}) {
	Get(CategoryWorker).Infof(format, args...)
}

// WorkerDebug logs a debug message to the worker category.
func WorkerDebug(format string, args ...interface{}) {
	Get(CategoryWorker).Debugf(format, args...)
}

// Checkpoint logs an info message to the checkpoint category.
func Checkpoint(format string, args ...interface{}) {
	Get(CategoryCheckpoint).Infof(format, args...)
}

// Store logs an info message to the store category.
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Infof(format, args...)
}

// StoreDebug logs a debug message to the store category.
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debugf(format, args...)
}
