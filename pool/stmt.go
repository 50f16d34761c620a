package pool

import (
	"context"
	dsqldriver "database/sql/driver"

	"github.com/icgo-zdb/zdb/zdberr"
	"github.com/icgo-zdb/zdb/zdbdriver"
)

// PreparedStatement is a compiled statement bound to one Connection.
// Parameters are positional, numbered from 1 (spec.md §4.4). It remains
// usable until its Connection is returned to the pool.
type PreparedStatement struct {
	id       int
	conn     *Connection
	raw      zdbdriver.Stmt
	paramCnt int
	bound    []dsqldriver.NamedValue
	valid    bool
}

// NumParams reports the number of bind parameters the statement expects,
// or -1 if the underlying driver doesn't report one.
func (s *PreparedStatement) NumParams() int { return s.paramCnt }

// BindValues stores args as the statement's bind parameters. Binding is
// atomic with respect to parameter count: either all of args are
// accepted, or none are and the previous binding (if any) is untouched
// (spec.md §4.4).
func (s *PreparedStatement) BindValues(args ...interface{}) error {
	if !s.valid {
		return zdberr.New("bind_values: statement is no longer valid")
	}
	if s.paramCnt >= 0 && len(args) != s.paramCnt {
		return zdberr.New("bind_values: expected %d parameters, got %d", s.paramCnt, len(args))
	}
	s.bound = bindNamedValues(args)
	return nil
}

// Execute runs the statement for its side effects, updating the owning
// Connection's LastRowID/RowsChanged.
func (s *PreparedStatement) Execute(ctx context.Context) error {
	if !s.valid {
		return zdberr.New("execute: statement is no longer valid")
	}
	s.conn.invalidateLiveResult()
	res, err := s.raw.Exec(ctx, s.bound)
	if err != nil {
		return zdberr.Wrap(err, "can't execute prepared statement")
	}
	s.conn.noteResult(res)
	return nil
}

// ExecuteQuery runs the statement as a query and returns a ResultSet that
// is invalidated by the next statement call on the same connection
// (spec.md §4.4).
func (s *PreparedStatement) ExecuteQuery(ctx context.Context) (*ResultSet, error) {
	if !s.valid {
		return nil, zdberr.New("execute_query: statement is no longer valid")
	}
	s.conn.invalidateLiveResult()
	rows, err := s.raw.Query(ctx, s.bound)
	if err != nil {
		return nil, zdberr.Wrap(err, "can't execute prepared query")
	}
	return s.conn.adoptResult(rows), nil
}

// RowsChanged is meaningful only before commit when the statement ran
// inside a still-open transaction (spec.md §4.4); it reads through to the
// owning connection's last Execute outcome.
func (s *PreparedStatement) RowsChanged() int64 { return s.conn.rowsChanged }

// Close releases the statement early instead of waiting for the owning
// connection to return to the pool. Closing an already-closed statement
// is a no-op.
func (s *PreparedStatement) Close() {
	s.invalidate()
}

// invalidate marks the statement unusable and releases its driver handle.
// Called when the statement goes out of scope (direct Execute/ExecuteQuery
// helpers on Connection) or when the owning connection is returned.
func (s *PreparedStatement) invalidate() {
	if !s.valid {
		return
	}
	s.valid = false
	delete(s.conn.activeStmts, s.id)
	_ = s.raw.Close()
}
