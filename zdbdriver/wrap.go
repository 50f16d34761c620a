package zdbdriver

import (
	"context"
	dsqldriver "database/sql/driver"
	"io"

	"github.com/icgo-zdb/zdb/zdberr"
)

// Wrap adapts a stock database/sql/driver.Conn (as returned by any
// database/sql-compatible driver's Connector or Driver) to our narrower
// Conn contract. It does this once, generically, by type-asserting the
// optional stdlib interfaces a given driver.Conn implements
// (driver.Pinger, driver.ExecerContext, driver.QueryerContext,
// driver.ConnPrepareContext, driver.ConnBeginTx) instead of requiring
// every backend adapter to reimplement that dispatch.
func Wrap(raw dsqldriver.Conn) Conn {
	return &wrappedConn{raw: raw}
}

type wrappedConn struct {
	raw dsqldriver.Conn
}

func (c *wrappedConn) Close() error { return c.raw.Close() }

func (c *wrappedConn) Ping(ctx context.Context) error {
	if p, ok := c.raw.(dsqldriver.Pinger); ok {
		return p.Ping(ctx)
	}
	// No Pinger: fall back to preparing a trivial no-op statement, which
	// round-trips to the backend on any real driver.
	stmt, err := c.raw.Prepare("SELECT 1")
	if err != nil {
		return err
	}
	return stmt.Close()
}

func (c *wrappedConn) Exec(ctx context.Context, query string, args []dsqldriver.NamedValue) (Result, error) {
	if ec, ok := c.raw.(dsqldriver.ExecerContext); ok {
		return ec.ExecContext(ctx, query, args)
	}
	if e, ok := c.raw.(dsqldriver.Execer); ok { //nolint:staticcheck // legacy driver fallback
		values, err := namedToPositional(args)
		if err != nil {
			return nil, err
		}
		return e.Exec(query, values) //nolint:staticcheck
	}
	return nil, errNotSupported("exec")
}

func (c *wrappedConn) Query(ctx context.Context, query string, args []dsqldriver.NamedValue) (Rows, error) {
	if qc, ok := c.raw.(dsqldriver.QueryerContext); ok {
		rows, err := qc.QueryContext(ctx, query, args)
		if err != nil {
			return nil, err
		}
		return rows, nil
	}
	if q, ok := c.raw.(dsqldriver.Queryer); ok { //nolint:staticcheck // legacy driver fallback
		values, err := namedToPositional(args)
		if err != nil {
			return nil, err
		}
		rows, err := q.Query(query, values) //nolint:staticcheck
		if err != nil {
			return nil, err
		}
		return rows, nil
	}
	return nil, errNotSupported("query")
}

func (c *wrappedConn) Prepare(ctx context.Context, query string) (Stmt, error) {
	var (
		stmt dsqldriver.Stmt
		err  error
	)
	if pc, ok := c.raw.(dsqldriver.ConnPrepareContext); ok {
		stmt, err = pc.PrepareContext(ctx, query)
	} else {
		stmt, err = c.raw.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &wrappedStmt{raw: stmt}, nil
}

func (c *wrappedConn) Begin(ctx context.Context, iso IsolationLevel) (Tx, error) {
	if bc, ok := c.raw.(dsqldriver.ConnBeginTx); ok {
		tx, err := bc.BeginTx(ctx, dsqldriver.TxOptions{Isolation: dsqldriver.IsolationLevel(isoToSQL(iso))})
		if err != nil {
			return nil, err
		}
		return tx, nil
	}
	tx, err := c.raw.Begin() //nolint:staticcheck // legacy driver fallback
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// isoToSQL maps our spec-level isolation enum onto the handful of values
// database/sql itself understands; the SQLite-only levels (immediate,
// exclusive) have no stdlib equivalent and are passed through as
// LevelDefault — backend adapters that care about them (e.g. SQLite's
// BEGIN IMMEDIATE) special-case IsolationLevel directly instead of going
// through driver.TxOptions.
func isoToSQL(iso IsolationLevel) int {
	switch iso {
	case LevelReadUncommitted:
		return 1 // sql.LevelReadUncommitted
	case LevelReadCommitted:
		return 2 // sql.LevelReadCommitted
	case LevelRepeatableRead:
		return 4 // sql.LevelRepeatableRead
	case LevelSerializable:
		return 6 // sql.LevelSerializable
	default:
		return 0 // sql.LevelDefault
	}
}

type wrappedStmt struct {
	raw dsqldriver.Stmt
}

func (s *wrappedStmt) NumInput() int { return s.raw.NumInput() }

func (s *wrappedStmt) Exec(ctx context.Context, args []dsqldriver.NamedValue) (Result, error) {
	if ec, ok := s.raw.(dsqldriver.StmtExecContext); ok {
		return ec.ExecContext(ctx, args)
	}
	values, err := namedToPositional(args)
	if err != nil {
		return nil, err
	}
	return s.raw.Exec(values) //nolint:staticcheck // legacy driver fallback
}

func (s *wrappedStmt) Query(ctx context.Context, args []dsqldriver.NamedValue) (Rows, error) {
	if qc, ok := s.raw.(dsqldriver.StmtQueryContext); ok {
		rows, err := qc.QueryContext(ctx, args)
		if err != nil {
			return nil, err
		}
		return rows, nil
	}
	values, err := namedToPositional(args)
	if err != nil {
		return nil, err
	}
	rows, err := s.raw.Query(values) //nolint:staticcheck // legacy driver fallback
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *wrappedStmt) Close() error { return s.raw.Close() }

// namedToPositional downgrades []driver.NamedValue to []driver.Value for
// legacy (non-context) drivers, which only ever see positional args.
func namedToPositional(args []dsqldriver.NamedValue) ([]dsqldriver.Value, error) {
	out := make([]dsqldriver.Value, len(args))
	for i, a := range args {
		if a.Name != "" {
			return nil, zdberr.New("named parameter %q not supported by this driver", a.Name)
		}
		out[i] = a.Value
	}
	return out, nil
}

// EOF re-exports io.EOF so callers of Rows.Next don't need an io import
// just to spell the cursor-exhausted sentinel.
var EOF = io.EOF
