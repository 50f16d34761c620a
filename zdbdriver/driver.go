// Package zdbdriver defines the narrow driver contract the pool core
// consumes (spec.md §4.2/§6.4) and adapts real, already wire-compatible
// database/sql/driver packages to it. The core never imports
// database/sql itself — only database/sql/driver, so it gets none of that
// package's own connection pooling.
package zdbdriver

import (
	"context"
	dsqldriver "database/sql/driver"
	"sync"

	"github.com/icgo-zdb/zdb/zdberr"
	"github.com/icgo-zdb/zdb/zdburl"
)

// IsolationLevel enumerates the transaction types of spec.md §4.3/§6.2.
// Semantics are forwarded to the backend unchanged; unsupported
// combinations are a backend characteristic, not a core concern.
type IsolationLevel int

const (
	LevelDefault IsolationLevel = iota
	LevelReadUncommitted
	LevelReadCommitted
	LevelRepeatableRead
	LevelSerializable
	LevelImmediate
	LevelExclusive
)

func (l IsolationLevel) String() string {
	switch l {
	case LevelReadUncommitted:
		return "read_uncommitted"
	case LevelReadCommitted:
		return "read_committed"
	case LevelRepeatableRead:
		return "repeatable_read"
	case LevelSerializable:
		return "serializable"
	case LevelImmediate:
		return "immediate"
	case LevelExclusive:
		return "exclusive"
	default:
		return "default"
	}
}

// Conn is one backend session. Implementations must be safe to use from a
// single goroutine at a time only — the pool never shares a Conn
// concurrently (spec.md §5).
type Conn interface {
	Close() error
	Ping(ctx context.Context) error
	Exec(ctx context.Context, query string, args []dsqldriver.NamedValue) (Result, error)
	Query(ctx context.Context, query string, args []dsqldriver.NamedValue) (Rows, error)
	Prepare(ctx context.Context, query string) (Stmt, error)
	Begin(ctx context.Context, iso IsolationLevel) (Tx, error)
}

// Stmt is a compiled statement handle bound to one Conn.
type Stmt interface {
	NumInput() int
	Exec(ctx context.Context, args []dsqldriver.NamedValue) (Result, error)
	Query(ctx context.Context, args []dsqldriver.NamedValue) (Rows, error)
	Close() error
}

// Rows is a forward-only cursor over a result set.
type Rows interface {
	Columns() []string
	// Next populates dest with the next row's values. It returns io.EOF
	// once the cursor is exhausted, matching database/sql/driver.Rows.
	Next(dest []dsqldriver.Value) error
	Close() error
}

// FetchSizer is an optional capability a Rows may implement to honor
// ResultSet.SetFetchSize (spec.md §4.2/§4.5: "for backends that prefetch —
// MySQL, Oracle — hints the batch size for subsequent next() calls").
// database/sql/driver.Rows has no such concept, so none of the three
// adapters in this package implement it today; ResultSet.SetFetchSize
// type-asserts for it and is a documented no-op where it's absent.
type FetchSizer interface {
	SetFetchSize(n int) error
}

// Result reports the effect of an Exec.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Tx is an open transaction.
type Tx interface {
	Commit() error
	Rollback() error
}

// Opener opens a new Conn to the backend described by u.
type Opener interface {
	Open(ctx context.Context, u *zdburl.URL) (Conn, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, u *zdburl.URL) (Conn, error)

func (f OpenerFunc) Open(ctx context.Context, u *zdburl.URL) (Conn, error) { return f(ctx, u) }

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Opener)
)

// Register associates protocol (a URL scheme, e.g. "mysql") with an
// Opener. Adapter packages call this from init(); callers may also
// register their own backends, mirroring database/sql's driver registry.
func Register(protocol string, opener Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[protocol] = opener
}

// Lookup returns the Opener registered for protocol.
func Lookup(protocol string) (Opener, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	o, ok := registry[protocol]
	if !ok {
		return nil, zdberr.New("no driver registered for protocol %q", protocol)
	}
	return o, nil
}

// errNotSupported is the canonical error for backend operations spec.md
// §6.4 allows a driver to decline.
func errNotSupported(op string) error {
	return zdberr.New("%s: not supported", op)
}
