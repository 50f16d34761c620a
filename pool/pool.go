package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/icgo-zdb/zdb/zdberr"
	"github.com/icgo-zdb/zdb/zdbdriver"
	"github.com/icgo-zdb/zdb/zdburl"
)

const (
	// DefaultInitialConnections is spec.md §6.3's initial_connections default.
	DefaultInitialConnections = 5
	// DefaultMaxConnections is spec.md §6.3's max_connections default.
	DefaultMaxConnections = 20
	// DefaultConnectionTimeout bounds both how long a ping/open may take
	// and how long an idle connection may sit before the reaper considers
	// it stale (spec.md §6.3).
	DefaultConnectionTimeout = 90 * time.Second
	// DefaultSweepInterval is how often the reaper goroutine runs (spec.md §6.3).
	DefaultSweepInterval = 60 * time.Second
)

// Stats is a point-in-time snapshot of pool occupancy, read under lock.
type Stats struct {
	Size    int
	Active  int
	Idle    int
	Initial int
	Max     int
}

// ConnectionPool manages a bounded set of Connections against a single
// URL. It guarantees at most Max() live connections; it never queues
// callers on exhaustion — GetConnection fails fast with a "pool full"
// error instead of blocking (spec.md §4.6: redesigned from the blocking
// wait the original library performed).
type ConnectionPool struct {
	mu sync.Mutex

	url    *zdburl.URL
	opener zdbdriver.Opener
	log    *zap.SugaredLogger

	initial           int
	max               int
	connectionTimeout time.Duration
	sweepInterval     time.Duration
	reaperEnabled     bool

	pool []*Connection // insertion order; holds both idle and checked-out connections

	started bool
	stopped bool

	reaperStop chan struct{}
	reaperDone chan struct{}

	onPoolFull func()
	onReap     func(n int)
}

// New builds a pool for url. The pool is inert until Start is called.
func New(u *zdburl.URL, opts ...Option) (*ConnectionPool, error) {
	opener, err := zdbdriver.Lookup(u.Protocol())
	if err != nil {
		return nil, err
	}

	p := &ConnectionPool{
		url:               u,
		opener:            opener,
		log:               zap.NewNop().Sugar(),
		initial:           DefaultInitialConnections,
		max:               DefaultMaxConnections,
		connectionTimeout: DefaultConnectionTimeout,
		sweepInterval:     DefaultSweepInterval,
		reaperEnabled:     true,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.initial > p.max {
		return nil, zdberr.New("initial connections (%d) exceeds max connections (%d)", p.initial, p.max)
	}
	return p, nil
}

// Start opens the pool's initial connections and, if enabled, launches
// the reaper goroutine. Opening the very first connection failing is
// fatal; failures opening later pre-warmed connections are logged and
// stop the warm-up early, leaving the pool usable with fewer than
// Initial() idle connections.
func (p *ConnectionPool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return zdberr.New("pool already started")
	}
	p.started = true
	initial, reaperEnabled, sweepInterval := p.initial, p.reaperEnabled, p.sweepInterval
	p.mu.Unlock()

	for i := 0; i < initial; i++ {
		conn, err := p.openOne(ctx)
		if err != nil {
			if i == 0 {
				p.mu.Lock()
				p.started = false
				p.mu.Unlock()
				return zdberr.Wrap(err, "starting pool: opening initial connection")
			}
			p.log.Warnw("pre-warm connection failed, continuing with fewer idle connections",
				"index", i, "initial", initial, "err", err)
			break
		}
		p.mu.Lock()
		conn.available = true
		p.pool = append(p.pool, conn)
		p.mu.Unlock()
	}

	if reaperEnabled && sweepInterval > 0 {
		p.reaperStop = make(chan struct{})
		p.reaperDone = make(chan struct{})
		go p.reapLoop()
	}
	return nil
}

// GetConnection claims an available connection, opening a new one if the
// pool is under Max and none are idle. It never blocks: a pool at Max
// with no healthy idle connection fails immediately with a "pool full"
// *zdberr.Error (spec.md §4.6.2).
func (p *ConnectionPool) GetConnection(ctx context.Context) (*Connection, error) {
	conn, full, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if full {
		return nil, zdberr.New("pool full (%d/%d connections in use)", p.Active(), p.max)
	}
	return conn, nil
}

// TryGetConnection is GetConnection's non-failing sibling: where
// GetConnection returns a "pool full" error, TryGetConnection returns
// (nil, nil) instead. Genuine errors (a stopped pool, a failed open) are
// still returned as errors in both (spec.md §4.6.1).
func (p *ConnectionPool) TryGetConnection(ctx context.Context) (*Connection, error) {
	conn, full, err := p.acquire(ctx)
	if err != nil || full {
		return nil, err
	}
	return conn, nil
}

// acquire runs the fail-fast acquisition algorithm shared by
// GetConnection and TryGetConnection, reporting pool exhaustion as a
// distinct outcome (full=true) rather than baking the "pool full" error
// into the loop, so the two public methods can react to it differently.
func (p *ConnectionPool) acquire(ctx context.Context) (conn *Connection, full bool, err error) {
	for {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return nil, false, zdberr.New("pool is stopped")
		}

		var candidate *Connection
		for _, c := range p.pool {
			if c.available {
				candidate = c
				break
			}
		}
		if candidate != nil {
			candidate.available = false
			candidate.returned = false
			p.mu.Unlock()

			pingCtx, cancel := context.WithTimeout(ctx, p.connectionTimeout)
			pingErr := candidate.Ping(pingCtx)
			cancel()
			if pingErr == nil {
				candidate.lastAccessed = time.Now()
				return candidate, false, nil
			}

			p.log.Warnw("dropping dead idle connection", "connection", candidate.ID(), "err", pingErr)
			p.mu.Lock()
			p.removeLocked(candidate)
			p.mu.Unlock()
			_ = candidate.raw.Close()
			continue
		}

		size, max := len(p.pool), p.max
		if size < max {
			p.mu.Unlock()
			opened, openErr := p.openOne(ctx)
			if openErr != nil {
				return nil, false, openErr
			}
			p.mu.Lock()
			if p.stopped || len(p.pool) >= p.max {
				// Another caller filled the pool (or Stop ran) while this
				// connection was being opened unlocked: drop it and re-check.
				p.mu.Unlock()
				_ = opened.raw.Close()
				continue
			}
			opened.available = false
			opened.returned = false
			p.pool = append(p.pool, opened)
			p.mu.Unlock()
			return opened, false, nil
		}

		p.mu.Unlock()
		if p.onPoolFull != nil {
			p.onPoolFull()
		}
		return nil, true, nil
	}
}

// returnConnection is called by Connection.Close to hand a connection
// back to the pool. If the pool has been stopped in the meantime, the
// connection is closed and dropped instead of returned to service.
func (p *ConnectionPool) returnConnection(c *Connection) {
	p.mu.Lock()
	if p.stopped {
		p.removeLocked(c)
		p.mu.Unlock()
		_ = c.raw.Close()
		return
	}
	c.available = true
	p.mu.Unlock()
}

// Stop drains and closes every connection in the pool. It refuses to
// stop while any connection is checked out (spec.md §4.6.4); callers
// must return all active connections first.
func (p *ConnectionPool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}

	active := 0
	for _, c := range p.pool {
		if !c.available {
			active++
		}
	}
	if active > 0 {
		p.mu.Unlock()
		return zdberr.New("can't stop pool: %d connection(s) still checked out", active)
	}

	p.stopped = true
	conns := p.pool
	p.pool = nil
	reaperStop, reaperDone := p.reaperStop, p.reaperDone
	p.mu.Unlock()

	if reaperStop != nil {
		close(reaperStop)
		<-reaperDone
	}
	for _, c := range conns {
		_ = c.raw.Close()
	}
	return nil
}

// Size is the number of connections currently held by the pool, idle or
// checked out.
func (p *ConnectionPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pool)
}

// Active is the number of connections currently checked out.
func (p *ConnectionPool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

func (p *ConnectionPool) activeLocked() int {
	n := 0
	for _, c := range p.pool {
		if !c.available {
			n++
		}
	}
	return n
}

// IsFull reports whether the pool has Max() connections checked out
// (spec.md's resolved definition: full means active == max, not
// size == max).
func (p *ConnectionPool) IsFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked() == p.max
}

// Stats returns a point-in-time snapshot, convenient for metrics export.
func (p *ConnectionPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	active := p.activeLocked()
	return Stats{
		Size:    len(p.pool),
		Active:  active,
		Idle:    len(p.pool) - active,
		Initial: p.initial,
		Max:     p.max,
	}
}

func (p *ConnectionPool) Initial() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initial
}

// SetInitial changes the reaper's floor. initial must not exceed Max.
func (p *ConnectionPool) SetInitial(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 || n > p.max {
		zdberr.Assert("initial connections must be in [0,%d], got %d", p.max, n)
		return
	}
	p.initial = n
}

func (p *ConnectionPool) Max() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// SetMax changes the pool's connection ceiling. max must not drop below
// Initial.
func (p *ConnectionPool) SetMax(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < p.initial {
		zdberr.Assert("max connections (%d) must be >= initial connections (%d)", n, p.initial)
		return
	}
	p.max = n
}

func (p *ConnectionPool) ConnectionTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectionTimeout
}

func (p *ConnectionPool) SetConnectionTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectionTimeout = d
}

func (p *ConnectionPool) SweepInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sweepInterval
}

func (p *ConnectionPool) SetSweepInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepInterval = d
}

// URL returns the pool's connection descriptor.
func (p *ConnectionPool) URL() *zdburl.URL { return p.url }

func (p *ConnectionPool) openOne(ctx context.Context) (*Connection, error) {
	p.mu.Lock()
	timeout := p.connectionTimeout
	p.mu.Unlock()
	openCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := p.opener.Open(openCtx, p.url)
	if err != nil {
		return nil, zdberr.Wrap(err, "opening connection to %s", p.url.Redacted())
	}
	return newConnection(p, raw), nil
}

// removeLocked splices c out of the pool by identity. Callers must hold
// p.mu.
func (p *ConnectionPool) removeLocked(c *Connection) {
	for i, x := range p.pool {
		if x == c {
			p.pool = append(p.pool[:i], p.pool[i+1:]...)
			return
		}
	}
}

// reapLoop runs until Stop closes reaperStop.
func (p *ConnectionPool) reapLoop() {
	defer close(p.reaperDone)

	p.mu.Lock()
	interval := p.sweepInterval
	stop := p.reaperStop
	p.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapOnce(context.Background())
			// Pick up a sweep interval changed via SetSweepInterval.
			p.mu.Lock()
			next := p.sweepInterval
			p.mu.Unlock()
			if next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-stop:
			return
		}
	}
}

// reapOnce culls idle connections beyond Initial that are either stale
// (unused longer than ConnectionTimeout) or fail a liveness ping. It
// claims candidates under lock, inspects them unlocked (ping is a
// network round-trip), then commits the outcome under lock — so a
// connection handed out by GetConnection mid-sweep is never double-owned.
func (p *ConnectionPool) reapOnce(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	var idle []*Connection
	for _, c := range p.pool {
		if c.available {
			idle = append(idle, c)
		}
	}
	if len(idle) <= p.initial {
		p.mu.Unlock()
		return
	}
	excess := idle[:len(idle)-p.initial]
	for _, c := range excess {
		c.available = false
	}
	timeout := p.connectionTimeout
	p.mu.Unlock()

	var dead, revive []*Connection
	for _, c := range excess {
		if time.Since(c.lastAccessed) > timeout {
			dead = append(dead, c)
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.Ping(pingCtx)
		cancel()
		if err != nil {
			dead = append(dead, c)
		} else {
			revive = append(revive, c)
		}
	}

	p.mu.Lock()
	for _, c := range dead {
		p.removeLocked(c)
	}
	for _, c := range revive {
		c.available = true
	}
	p.mu.Unlock()

	for _, c := range dead {
		_ = c.raw.Close()
		p.log.Debugw("reaped idle connection", "connection", c.ID())
	}
	if len(dead) > 0 && p.onReap != nil {
		p.onReap(len(dead))
	}
}
