// Package zdblog wires the core's logging to go.uber.org/zap. Callers own
// the logger's lifecycle; nothing here uses a package-global logger.
package zdblog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the logger built by New.
type Config struct {
	// Level is the minimum level logged; zapcore.InfoLevel (0) by default.
	Level zapcore.Level

	// Development enables human-readable, stack-trace-on-warn output
	// suited to local development instead of structured JSON.
	Development bool
}

// New builds a *zap.SugaredLogger per Config. Pass the result (or a named
// child of it, see Named) to pool.New via pool.WithLogger.
func New(cfg Config) (*zap.SugaredLogger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(cfg.Level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Named returns a child logger scoped to component, e.g. "pool", "reaper".
func Named(l *zap.SugaredLogger, component string) *zap.SugaredLogger {
	return l.Named(component)
}

// Noop returns a logger that discards everything, for tests and callers
// that don't want pool/reaper chatter.
func Noop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
