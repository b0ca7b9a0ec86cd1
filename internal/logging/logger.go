// Package logging provides category-tagged structured logging for certgate.
// Each subsystem logs through a named child of one shared zap logger, so a
// single level/encoding configuration governs the whole process.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryHealth   Category = "health"
	CategoryGateway  Category = "gateway"
	CategoryReview   Category = "review"
	CategoryArbiter  Category = "arbiter"
	CategoryPipeline Category = "pipeline"
	CategoryStore    Category = "store"
)

var (
	mu       sync.RWMutex
	base     = zap.NewNop()
	children = make(map[Category]*zap.Logger)
)

// Options configures the process logger.
type Options struct {
	Level       string // debug, info, warn, error
	Development bool   // console encoding with human timestamps
}

// Init installs the process-wide logger. Safe to call more than once; the
// last call wins. Before Init, all categories log to a nop logger.
func Init(opts Options) error {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return err
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	base = logger
	children = make(map[Category]*zap.Logger)
	mu.Unlock()
	return nil
}

// Get returns the logger for a category. Children are cached per category.
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := children[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := children[cat]; ok {
		return l
	}
	l := base.Named(string(cat))
	children[cat] = l
	return l
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}
