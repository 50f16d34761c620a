package zdbdriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/icgo-zdb/zdb/zdburl"
)

func TestLookupUnknownProtocol(t *testing.T) {
	_, err := Lookup("does-not-exist")
	require.Error(t, err)
}

func TestSQLiteOpenAndPing(t *testing.T) {
	opener, err := Lookup("sqlite")
	require.NoError(t, err)

	u, err := zdburl.Parse("sqlite:///:memory:")
	require.NoError(t, err)

	conn, err := opener.Open(context.Background(), u)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Ping(context.Background()))
}

func TestSQLiteBeginImmediate(t *testing.T) {
	opener, err := Lookup("sqlite")
	require.NoError(t, err)
	u, err := zdburl.Parse("sqlite:///:memory:")
	require.NoError(t, err)

	conn, err := opener.Open(context.Background(), u)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	_, err = conn.Exec(ctx, "CREATE TABLE t (n INTEGER)", nil)
	require.NoError(t, err)

	tx, err := conn.Begin(ctx, LevelImmediate)
	require.NoError(t, err)

	_, err = conn.Exec(ctx, "INSERT INTO t (n) VALUES (1)", nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	rows, err := conn.Query(ctx, "SELECT n FROM t", nil)
	require.NoError(t, err)
	defer rows.Close()

	require.Equal(t, []string{"n"}, rows.Columns())
}
