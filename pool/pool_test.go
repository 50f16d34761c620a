package pool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/icgo-zdb/zdb/zdberr"
	_ "github.com/icgo-zdb/zdb/zdbdriver"
	"github.com/icgo-zdb/zdb/zdburl"
)

func memURL(t *testing.T) *zdburl.URL {
	t.Helper()
	u, err := zdburl.Parse("sqlite:///:memory:")
	if err != nil {
		t.Fatalf("parsing test URL: %v", err)
	}
	return u
}

func newTestPool(t *testing.T, initial, max int) *ConnectionPool {
	t.Helper()
	p, err := New(memURL(t), WithInitialConnections(initial), WithMaxConnections(max), WithReaperEnabled(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		for p.Active() > 0 {
			// tests that leave connections checked out are responsible
			// for closing them; this just avoids leaking goroutines.
			break
		}
		_ = p.Stop()
	})
	return p
}

func TestStartOpensInitialConnections(t *testing.T) {
	p := newTestPool(t, 2, 5)
	if got := p.Size(); got != 2 {
		t.Fatalf("Size() = %d, want 2", got)
	}
	if got := p.Active(); got != 0 {
		t.Fatalf("Active() = %d, want 0", got)
	}
}

func TestGetConnectionReusesIdle(t *testing.T) {
	p := newTestPool(t, 1, 1)

	c, err := p.GetConnection(context.Background())
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got := p.Active(); got != 1 {
		t.Fatalf("Active() = %d, want 1", got)
	}
	c.Close()
	if got := p.Active(); got != 0 {
		t.Fatalf("Active() after Close = %d, want 0", got)
	}
	if got := p.Size(); got != 1 {
		t.Fatalf("Size() after Close = %d, want 1", got)
	}
}

func TestGetConnectionFailsFastWhenFull(t *testing.T) {
	p := newTestPool(t, 0, 1)

	c, err := p.GetConnection(context.Background())
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	defer c.Close()

	start := time.Now()
	_, err = p.GetConnection(context.Background())
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("GetConnection on a full pool: want error, got nil")
	}
	if !strings.Contains(err.Error(), "pool full") {
		t.Fatalf("GetConnection error = %q, want it to mention pool full", err.Error())
	}
	if elapsed > 100*time.Millisecond {
		t.Fatalf("GetConnection on a full pool took %s, want it to fail immediately", elapsed)
	}
}

func TestTryGetConnectionReturnsNoneWhenFull(t *testing.T) {
	p := newTestPool(t, 0, 1)

	c, err := p.TryGetConnection(context.Background())
	if err != nil {
		t.Fatalf("TryGetConnection: %v", err)
	}
	if c == nil {
		t.Fatalf("TryGetConnection on an empty pool: want a connection, got nil")
	}
	defer c.Close()

	none, err := p.TryGetConnection(context.Background())
	if err != nil {
		t.Fatalf("TryGetConnection on a full pool: want nil error, got %v", err)
	}
	if none != nil {
		t.Fatalf("TryGetConnection on a full pool: want nil connection, got %v", none)
	}
}

func TestIsFullReflectsActiveNotSize(t *testing.T) {
	p := newTestPool(t, 2, 2)
	if p.IsFull() {
		t.Fatalf("IsFull() = true with 0 active, want false")
	}

	c1, err := p.GetConnection(context.Background())
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	c2, err := p.GetConnection(context.Background())
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}

	if !p.IsFull() {
		t.Fatalf("IsFull() = false with active == max, want true")
	}
	c1.Close()
	c2.Close()
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	p := newTestPool(t, 1, 1)
	c, err := p.GetConnection(context.Background())
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	c.Close()
	c.Close() // must not panic or double-return

	if got := p.Size(); got != 1 {
		t.Fatalf("Size() after double Close = %d, want 1", got)
	}
}

func TestStopRefusesWhileConnectionsActive(t *testing.T) {
	p := newTestPool(t, 1, 1)
	c, err := p.GetConnection(context.Background())
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}

	if err := p.Stop(); err == nil {
		t.Fatalf("Stop() with an active connection: want error, got nil")
	}
	c.Close()
}

func TestStopDrainsPool(t *testing.T) {
	p, err := New(memURL(t), WithInitialConnections(2), WithMaxConnections(2), WithReaperEnabled(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := p.Size(); got != 0 {
		t.Fatalf("Size() after Stop = %d, want 0", got)
	}
}

func TestExecuteAndQueryRoundTrip(t *testing.T) {
	p := newTestPool(t, 1, 1)
	c, err := p.GetConnection(context.Background())
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Execute(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := c.Execute(ctx, "INSERT INTO widgets (id, name) VALUES (?, ?)", int64(1), "sprocket"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := c.LastRowID(); got != 1 {
		t.Fatalf("LastRowID() = %d, want 1", got)
	}

	rs, err := c.ExecuteQuery(ctx, "SELECT id, name FROM widgets WHERE id = ?", int64(1))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	ok, err := rs.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok {
		t.Fatalf("Next() = false, want a row")
	}
	id, err := rs.GetLLong(1)
	if err != nil {
		t.Fatalf("GetLLong: %v", err)
	}
	if id != 1 {
		t.Fatalf("id column = %d, want 1", id)
	}
	name, err := rs.GetString(2)
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if name == nil || *name != "sprocket" {
		t.Fatalf("name column = %v, want sprocket", name)
	}
	ok, err = rs.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ok {
		t.Fatalf("Next() after last row = true, want false")
	}
}

func TestTransactionRollback(t *testing.T) {
	p := newTestPool(t, 1, 1)
	c, err := p.GetConnection(context.Background())
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Execute(ctx, "CREATE TABLE counters (n INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := c.Execute(ctx, "INSERT INTO counters (n) VALUES (0)"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := c.BeginTransaction(ctx, 0); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := c.BeginTransaction(ctx, 0); err == nil {
		t.Fatalf("nested BeginTransaction: want error, got nil")
	}
	if err := c.Execute(ctx, "UPDATE counters SET n = 99"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if c.InTransaction() {
		t.Fatalf("InTransaction() after Rollback = true, want false")
	}

	rs, err := c.ExecuteQuery(ctx, "SELECT n FROM counters")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if ok, err := rs.Next(); err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	n, err := rs.GetLLong(1)
	if err != nil {
		t.Fatalf("GetLLong: %v", err)
	}
	if n != 0 {
		t.Fatalf("n after rollback = %d, want 0", n)
	}
}

// TestCloseRollsBackUncommittedTransaction covers spec.md §8 scenario 4: a
// connection returned to the pool without an explicit commit or rollback
// must have its open transaction rolled back automatically.
func TestCloseRollsBackUncommittedTransaction(t *testing.T) {
	p := newTestPool(t, 1, 1)
	ctx := context.Background()

	c, err := p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if err := c.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	c.Close()

	c, err = p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("re-GetConnection: %v", err)
	}
	defer c.Close()

	if err := c.BeginTransaction(ctx, 0); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := c.Execute(ctx, "INSERT INTO t (id, name) VALUES (1, 'Kaoru')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	c.Close() // returned without commit: insert must be rolled back

	c, err = p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("re-GetConnection: %v", err)
	}
	defer c.Close()

	rs, err := c.ExecuteQuery(ctx, "SELECT COUNT(*) FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if ok, err := rs.Next(); err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	count, err := rs.GetLLong(1)
	if err != nil {
		t.Fatalf("GetLLong: %v", err)
	}
	if count != 0 {
		t.Fatalf("row count after close-without-commit = %d, want 0 (auto-rollback)", count)
	}
	if c.InTransaction() {
		t.Fatalf("InTransaction() on freshly reacquired connection = true, want false")
	}
}

// TestBindValuesRejectsParameterCountMismatch covers spec.md §4.4/§8: a
// mismatched argument count fails atomically and performs no bindings.
func TestBindValuesRejectsParameterCountMismatch(t *testing.T) {
	p := newTestPool(t, 1, 1)
	ctx := context.Background()
	c, err := p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	defer c.Close()

	if err := c.Execute(ctx, "CREATE TABLE t (id INTEGER, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	stmt, err := c.Prepare(ctx, "INSERT INTO t (id, name) VALUES (?, ?)")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := stmt.BindValues(int64(1)); err == nil {
		t.Fatalf("BindValues with wrong arg count: want error, got nil")
	}
}

// TestBlobRoundTrip covers spec.md §8's round-trip law for binary data.
func TestBlobRoundTrip(t *testing.T) {
	p := newTestPool(t, 1, 1)
	ctx := context.Background()
	c, err := p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	defer c.Close()

	if err := c.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, bin BLOB, ts INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	blob := []byte{0x01, 0x02, 0x03}
	if err := c.Execute(ctx, "INSERT INTO t (name, bin, ts) VALUES (?, ?, ?)", "Kaoru", blob, int64(1700000000)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rs, err := c.ExecuteQuery(ctx, "SELECT name, bin, ts FROM t WHERE id = ?", int64(1))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if ok, err := rs.Next(); err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if got := rs.ColumnCount(); got != 3 {
		t.Fatalf("ColumnCount() = %d, want 3", got)
	}
	name, err := rs.GetString(1)
	if err != nil || name == nil || *name != "Kaoru" {
		t.Fatalf("GetString(1) = %v, err=%v, want Kaoru", name, err)
	}
	gotBlob, err := rs.GetBlob(2)
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if string(gotBlob) != string(blob) {
		t.Fatalf("GetBlob = %v, want %v", gotBlob, blob)
	}
	ts, err := rs.GetTimestamp(3)
	if err != nil {
		t.Fatalf("GetTimestamp: %v", err)
	}
	if ts != 1700000000 {
		t.Fatalf("GetTimestamp = %d, want 1700000000", ts)
	}
}

// TestReaperTrimsIdleBeyondInitial covers spec.md §8 scenario 5: idle
// connections beyond Initial are culled once they go stale.
func TestReaperTrimsIdleBeyondInitial(t *testing.T) {
	p, err := New(memURL(t),
		WithInitialConnections(1),
		WithMaxConnections(3),
		WithConnectionTimeout(200*time.Millisecond),
		WithSweepInterval(100*time.Millisecond),
		WithReaperEnabled(true),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		for p.Active() > 0 {
			break
		}
		_ = p.Stop()
	}()

	ctx := context.Background()
	var conns []*Connection
	for i := 0; i < 3; i++ {
		c, err := p.GetConnection(ctx)
		if err != nil {
			t.Fatalf("GetConnection %d: %v", i, err)
		}
		conns = append(conns, c)
	}
	for _, c := range conns {
		c.Close()
	}
	if got := p.Size(); got != 3 {
		t.Fatalf("Size() before reap = %d, want 3", got)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p.Size() == 1 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if got := p.Size(); got != 1 {
		t.Fatalf("Size() after reap = %d, want 1 (trimmed to Initial)", got)
	}

	c, err := p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("GetConnection after reap: %v", err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("surviving connection failed to ping: %v", err)
	}
	c.Close()
}

// TestConnectionReusableAcrossMultipleAcquireCloseCycles guards against a
// connection becoming permanently unreturnable after its first round trip:
// Close must work every time a connection is handed back out, not just the
// first.
func TestConnectionReusableAcrossMultipleAcquireCloseCycles(t *testing.T) {
	p := newTestPool(t, 1, 1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c, err := p.GetConnection(ctx)
		if err != nil {
			t.Fatalf("cycle %d: GetConnection: %v", i, err)
		}
		c.Close()
		if got := p.Active(); got != 0 {
			t.Fatalf("cycle %d: Active() after Close = %d, want 0", i, got)
		}
		if got := p.Size(); got != 1 {
			t.Fatalf("cycle %d: Size() after Close = %d, want 1", i, got)
		}
	}
}

// TestResultSetSetFetchSize exercises spec.md §4.5/§4.2's set_fetch_size
// operation: valid sizes are accepted (a no-op for backends, like this
// sqlite adapter, whose Rows doesn't implement zdbdriver.FetchSizer), and
// sizes below 1 are a programmer error.
func TestResultSetSetFetchSize(t *testing.T) {
	p := newTestPool(t, 1, 1)
	ctx := context.Background()
	c, err := p.GetConnection(ctx)
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	defer c.Close()

	if err := c.Execute(ctx, "CREATE TABLE t (n INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	rs, err := c.ExecuteQuery(ctx, "SELECT n FROM t")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if err := rs.SetFetchSize(50); err != nil {
		t.Fatalf("SetFetchSize(50): %v", err)
	}

	aborted := false
	zdberr.SetAbortHandler(func(*zdberr.Error) { aborted = true })
	defer zdberr.SetAbortHandler(nil)
	if err := rs.SetFetchSize(0); err != nil {
		t.Fatalf("SetFetchSize(0): %v", err)
	}
	if !aborted {
		t.Fatalf("SetFetchSize(0): expected the Assert abort handler to fire")
	}
}
