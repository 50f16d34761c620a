package pool

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a ConnectionPool at construction time.
type Option func(*ConnectionPool)

// WithInitialConnections sets how many connections Start pre-warms.
func WithInitialConnections(n int) Option {
	return func(p *ConnectionPool) { p.initial = n }
}

// WithMaxConnections sets the pool's connection ceiling.
func WithMaxConnections(n int) Option {
	return func(p *ConnectionPool) { p.max = n }
}

// WithConnectionTimeout sets both the ping/open deadline and the
// staleness threshold the reaper uses.
func WithConnectionTimeout(d time.Duration) Option {
	return func(p *ConnectionPool) { p.connectionTimeout = d }
}

// WithSweepInterval sets how often the reaper goroutine runs.
func WithSweepInterval(d time.Duration) Option {
	return func(p *ConnectionPool) { p.sweepInterval = d }
}

// WithReaperEnabled toggles the reaper goroutine started by Start.
func WithReaperEnabled(enabled bool) Option {
	return func(p *ConnectionPool) { p.reaperEnabled = enabled }
}

// WithLogger attaches a logger; the pool defaults to a no-op logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *ConnectionPool) {
		if log != nil {
			p.log = log
		}
	}
}

// WithOnPoolFull registers a callback invoked each time GetConnection or
// TryGetConnection finds the pool at Max with no healthy idle connection.
// Intended for metrics instrumentation (zdbmetrics wires a counter here).
func WithOnPoolFull(f func()) Option {
	return func(p *ConnectionPool) { p.onPoolFull = f }
}

// WithOnReap registers a callback invoked after a reaper sweep that
// removed at least one connection, with the count removed.
func WithOnReap(f func(n int)) Option {
	return func(p *ConnectionPool) { p.onReap = f }
}
