// Package logging wraps go.uber.org/zap behind the small leveled interface
// this codebase's components log through: Debug/Info/Warn/Error plus
// printf-style variants, a package-scoped default, and structured
// key-value args. The level-filtering facade shape mirrors a hand-rolled
// stdlib-log wrapper; the backing implementation is zap's SugaredLogger
// instead, since the wider example pack reaches for zap as its structured
// logger of choice.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LogLevel filters which severities are emitted.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config controls how a Logger is built.
type Config struct {
	Level LogLevel
	// Development selects zap's human-readable console encoder instead of
	// JSON, for a more readable cmd/rdma-echo console.
	Development bool
}

// DefaultConfig returns an Info-level, JSON-encoded configuration suitable
// for production use.
func DefaultConfig() Config {
	return Config{Level: LevelInfo}
}

// Logger is the leveled, structured logging facade every package in this
// module logs through.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewLogger builds a Logger from cfg.
func NewLogger(cfg Config) (*Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	switch cfg.Level {
	case LevelDebug:
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case LevelInfo:
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case LevelWarn:
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case LevelError:
		zcfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}
	z, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build zap logger: %w", err)
	}
	return &Logger{sugar: z.Sugar()}, nil
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.sugar.Errorw(msg, args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Sync flushes any buffered log entries; callers defer it on shutdown.
func (l *Logger) Sync() error { return l.sugar.Sync() }

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Default returns the package-scoped default logger, lazily building a
// DefaultConfig() instance the first time it's needed.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		l, err := NewLogger(DefaultConfig())
		if err != nil {
			l = &Logger{sugar: zap.NewNop().Sugar()}
		}
		defaultLogger = l
	}
	return defaultLogger
}

// SetDefault installs l as the package-scoped default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

func Debug(msg string, args ...interface{}) { Default().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { Default().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { Default().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { Default().Error(msg, args...) }
