// Package pool implements the core's pool manager, connection lifecycle,
// and statement/result abstraction (spec.md §4.3-§4.6).
package pool

import (
	"context"
	dsqldriver "database/sql/driver"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/icgo-zdb/zdb/zdberr"
	"github.com/icgo-zdb/zdb/zdbdriver"
	"github.com/icgo-zdb/zdb/zdburl"
)

// defaultFetchSize is the spec.md §6.3 default for backends that prefetch.
const defaultFetchSize = 100

// Connection wraps one backend session. It is not safe for concurrent use
// by more than one goroutine at a time (spec.md §5): the pool hands a
// Connection to exactly one caller between Acquire and Close/return.
type Connection struct {
	id   uuid.UUID
	pool *ConnectionPool
	raw  zdbdriver.Conn
	url  *zdburl.URL
	log  *zap.SugaredLogger

	// available is read/written only while the pool's mutex is held; it is
	// the field spec.md §3 calls "available: bool".
	available bool

	inTransaction bool
	tx            zdbdriver.Tx

	createdAt    time.Time
	lastAccessed time.Time

	queryTimeout time.Duration
	maxRows      int
	fetchSize    int

	liveResult  *ResultSet
	activeStmts map[int]*PreparedStatement
	nextStmtID  int

	lastInsertID int64
	rowsChanged  int64

	returned bool
}

func newConnection(p *ConnectionPool, raw zdbdriver.Conn) *Connection {
	now := time.Now()
	return &Connection{
		id:           uuid.New(),
		pool:         p,
		raw:          raw,
		url:          p.url,
		log:          p.log,
		createdAt:    now,
		lastAccessed: now,
		fetchSize:    defaultFetchSize,
		activeStmts:  make(map[int]*PreparedStatement),
	}
}

// ID returns a stable identifier for this connection, used in log fields
// and pool metrics so a single session can be traced acquire-to-reap.
func (c *Connection) ID() uuid.UUID { return c.id }

// URL returns the pool's connection descriptor.
func (c *Connection) URL() *zdburl.URL { return c.url }

// Ping round-trips a liveness check to the backend.
func (c *Connection) Ping(ctx context.Context) error {
	return c.raw.Ping(ctx)
}

// QueryTimeout, MaxRows, and FetchSize are the per-session tuning knobs of
// spec.md §3.
func (c *Connection) QueryTimeout() time.Duration { return c.queryTimeout }
func (c *Connection) SetQueryTimeout(d time.Duration) {
	c.queryTimeout = d
}

func (c *Connection) MaxRows() int { return c.maxRows }
func (c *Connection) SetMaxRows(n int) {
	c.maxRows = n
}

func (c *Connection) FetchSize() int { return c.fetchSize }
func (c *Connection) SetFetchSize(n int) {
	if n < 1 {
		zdberr.Assert("fetch_size must be >= 1, got %d", n)
		return
	}
	c.fetchSize = n
}

// LastRowID returns the auto-increment id of the last Execute, if any.
func (c *Connection) LastRowID() int64 { return c.lastInsertID }

// RowsChanged is meaningful only before commit when inside a transaction;
// after commit it reads zero (spec.md §4.4).
func (c *Connection) RowsChanged() int64 { return c.rowsChanged }

// InTransaction reports whether a transaction is open on this connection.
func (c *Connection) InTransaction() bool { return c.inTransaction }

// Execute issues sql directly (no args) or prepares-binds-executes once
// (with args), per spec.md §4.3. It updates RowsChanged and invalidates
// any previously live ResultSet on this connection.
func (c *Connection) Execute(ctx context.Context, sql string, args ...interface{}) error {
	c.invalidateLiveResult()

	if len(args) == 0 {
		res, err := c.raw.Exec(ctx, sql, nil)
		if err != nil {
			return zdberr.Wrap(err, "can't execute %q", sql)
		}
		c.noteResult(res)
		c.lastAccessed = time.Now()
		return nil
	}

	stmt, err := c.Prepare(ctx, sql)
	if err != nil {
		return err
	}
	defer stmt.invalidate()

	if err := stmt.BindValues(args...); err != nil {
		return err
	}
	return stmt.Execute(ctx)
}

// ExecuteQuery issues sql (direct or prepared, per the same dispatch as
// Execute) and returns a ResultSet. Only the first statement of a
// multi-statement string is executed — a characteristic of the
// underlying driver, surfaced here per spec.md §4.3.
func (c *Connection) ExecuteQuery(ctx context.Context, sql string, args ...interface{}) (*ResultSet, error) {
	c.invalidateLiveResult()

	if len(args) == 0 {
		rows, err := c.raw.Query(ctx, sql, nil)
		if err != nil {
			return nil, zdberr.Wrap(err, "can't execute query %q", sql)
		}
		c.lastAccessed = time.Now()
		return c.adoptResult(rows), nil
	}

	stmt, err := c.Prepare(ctx, sql)
	if err != nil {
		return nil, err
	}
	if err := stmt.BindValues(args...); err != nil {
		stmt.invalidate()
		return nil, err
	}
	rs, err := stmt.ExecuteQuery(ctx)
	stmt.invalidate()
	return rs, err
}

// Prepare compiles sql and returns a PreparedStatement tied to this
// connection (spec.md §4.3/§4.4).
func (c *Connection) Prepare(ctx context.Context, sql string) (*PreparedStatement, error) {
	raw, err := c.raw.Prepare(ctx, sql)
	if err != nil {
		return nil, zdberr.Wrap(err, "can't prepare %q", sql)
	}

	id := c.nextStmtID
	c.nextStmtID++

	ps := &PreparedStatement{
		id:        id,
		conn:      c,
		raw:       raw,
		paramCnt:  raw.NumInput(),
		valid:     true,
	}
	c.activeStmts[id] = ps
	return ps, nil
}

// BeginTransaction starts a transaction of the given isolation type.
// Nested transactions are forbidden: calling this while already inside a
// transaction is a checked *zdberr.Error of KindSQL, not a panic.
func (c *Connection) BeginTransaction(ctx context.Context, iso zdbdriver.IsolationLevel) error {
	if c.inTransaction {
		return zdberr.New("begin_transaction: already in a transaction")
	}

	tx, err := c.raw.Begin(ctx, iso)
	if err != nil {
		return zdberr.Wrap(err, "can't begin transaction")
	}
	c.tx = tx
	c.inTransaction = true
	return nil
}

// Commit commits the open transaction and clears InTransaction.
func (c *Connection) Commit() error {
	if !c.inTransaction {
		return zdberr.New("commit: no transaction is open")
	}
	err := c.tx.Commit()
	c.tx = nil
	c.inTransaction = false
	c.rowsChanged = 0
	if err != nil {
		return zdberr.Wrap(err, "can't commit transaction")
	}
	return nil
}

// Rollback clears any live statement/result, then rolls back the open
// transaction and clears InTransaction.
func (c *Connection) Rollback() error {
	if !c.inTransaction {
		return zdberr.New("rollback: no transaction is open")
	}
	c.invalidateLiveResult()
	for _, stmt := range c.activeStmts {
		stmt.invalidate()
	}
	err := c.tx.Rollback()
	c.tx = nil
	c.inTransaction = false
	if err != nil {
		return zdberr.Wrap(err, "can't roll back transaction")
	}
	return nil
}

// Close returns the connection to its pool (spec.md §4.6.3). Any open
// transaction is rolled back (failures are logged, not propagated); any
// live statement/result is invalidated. Subsequent Close calls are
// no-ops (spec.md §8 idempotence law).
func (c *Connection) Close() {
	if c.returned {
		return
	}
	c.returned = true

	if c.inTransaction {
		if err := c.tx.Rollback(); err != nil {
			c.log.Warnw("rollback on return failed", "connection", c.id, "err", err)
		}
		c.tx = nil
		c.inTransaction = false
	}
	c.invalidateLiveResult()
	for _, stmt := range c.activeStmts {
		stmt.invalidate()
	}
	c.lastAccessed = time.Now()

	c.pool.returnConnection(c)
}

func (c *Connection) invalidateLiveResult() {
	if c.liveResult != nil {
		c.liveResult.valid = false
		c.liveResult = nil
	}
}

func (c *Connection) adoptResult(rows zdbdriver.Rows) *ResultSet {
	rs := newResultSet(c, rows)
	_ = rs.SetFetchSize(c.fetchSize) // session default; no-op where unsupported
	c.liveResult = rs
	return rs
}

func (c *Connection) noteResult(res zdbdriver.Result) {
	if id, err := res.LastInsertId(); err == nil {
		c.lastInsertID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		c.rowsChanged = n
	}
}

// bindNamedValues converts positional Go arguments into the
// []driver.NamedValue slice the zdbdriver contract expects, applying the
// uniform parameter coercion of spec.md §4.4: nil and an empty byte slice
// both bind SQL null; strings/blobs are borrowed for the duration of the
// call; integers/floats are passed through; time.Time is passed through
// as a Unix timestamp-bearing value for backends that understand it.
func bindNamedValues(args []interface{}) []dsqldriver.NamedValue {
	out := make([]dsqldriver.NamedValue, len(args))
	for i, a := range args {
		v := a
		if b, ok := a.([]byte); ok && len(b) == 0 {
			v = nil
		}
		out[i] = dsqldriver.NamedValue{Ordinal: i + 1, Value: normalizeValue(v)}
	}
	return out
}

// normalizeValue narrows arbitrary Go values down to the limited set
// database/sql/driver.Value accepts (int64, float64, bool, []byte,
// string, time.Time, nil), widening integer types per spec.md §4.4
// ("promoted to int or long-long by width").
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, int64, float64, bool, []byte, string, time.Time:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
