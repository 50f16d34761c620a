package zdbdriver

import (
	"context"
	"fmt"
	"net/url"

	"modernc.org/sqlite"

	"github.com/icgo-zdb/zdb/zdburl"
)

func init() {
	Register("sqlite", OpenerFunc(openSQLite))
}

// openSQLite builds a modernc.org/sqlite DSN from u and opens a new
// connection. modernc.org/sqlite is cgo-free, which is why it (rather
// than mattn/go-sqlite3) is the SQLite backend here; it exposes a plain
// database/sql/driver.Driver (no Connector, no context on Open — SQLite
// connections are opened synchronously), so we wrap its driver.Conn the
// same way as the connector-based backends, then layer sqliteConn on top
// to honor the SQLite-specific BEGIN IMMEDIATE/EXCLUSIVE locking levels
// spec.md §6.2 calls out as SQLite-only.
func openSQLite(ctx context.Context, u *zdburl.URL) (Conn, error) {
	dsn := u.Path()

	pragmas := url.Values{}
	for _, name := range u.ParameterNames() {
		switch name {
		case "synchronous", "journal_mode", "cache", "mode", "_busy_timeout":
			v, _ := u.Parameter(name)
			pragmas.Set(name, v)
		}
	}
	if len(pragmas) > 0 {
		dsn = dsn + "?" + pragmas.Encode()
	}

	d := &sqlite.Driver{}
	raw, err := d.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %q: %w", dsn, err)
	}
	return &sqliteConn{Conn: Wrap(raw)}, nil
}

// sqliteConn decorates the generic Wrap(raw) adapter to special-case
// BEGIN IMMEDIATE/EXCLUSIVE, which have no equivalent in
// database/sql/driver.TxOptions.Isolation.
type sqliteConn struct {
	Conn
}

func (c *sqliteConn) Begin(ctx context.Context, iso IsolationLevel) (Tx, error) {
	switch iso {
	case LevelImmediate, LevelExclusive:
		stmt := "BEGIN"
		if iso == LevelImmediate {
			stmt = "BEGIN IMMEDIATE"
		} else {
			stmt = "BEGIN EXCLUSIVE"
		}
		if _, err := c.Conn.Exec(ctx, stmt, nil); err != nil {
			return nil, err
		}
		return &sqliteTx{conn: c.Conn}, nil
	default:
		return c.Conn.Begin(ctx, iso)
	}
}

// sqliteTx commits/rolls back a manually-issued BEGIN IMMEDIATE/EXCLUSIVE
// by sending the matching statement directly, since the underlying
// driver.Tx returned by a normal Begin() only pairs with its own BEGIN.
type sqliteTx struct {
	conn Conn
}

func (t *sqliteTx) Commit() error {
	_, err := t.conn.Exec(context.Background(), "COMMIT", nil)
	return err
}

func (t *sqliteTx) Rollback() error {
	_, err := t.conn.Exec(context.Background(), "ROLLBACK", nil)
	return err
}

var _ Tx = (*sqliteTx)(nil)
