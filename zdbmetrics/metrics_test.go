package zdbmetrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/icgo-zdb/zdb/zdbdriver"
	"github.com/icgo-zdb/zdb/zdburl"

	"github.com/icgo-zdb/zdb/pool"
)

func TestCollectorReflectsPoolOccupancy(t *testing.T) {
	u, err := zdburl.Parse("sqlite:///:memory:")
	require.NoError(t, err)

	pend, opts := NewPending("test")
	opts = append(opts, pool.WithInitialConnections(1), pool.WithMaxConnections(1), pool.WithReaperEnabled(false))

	p, err := pool.New(u, opts...)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	collector := pend.Bind(p)

	mfs, err := collector.Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)

	c, err := p.GetConnection(context.Background())
	require.NoError(t, err)
	defer c.Close()

	_, err = p.GetConnection(context.Background())
	require.Error(t, err)

	mfs, err = collector.Registry.Gather()
	require.NoError(t, err)

	found, foundActive := false, false
	for _, mf := range mfs {
		if mf.GetName() == "zdb_pool_exhausted_total" {
			found = true
			require.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())
		}
		if mf.GetName() == "zdb_pool_active" {
			foundActive = true
			require.Equal(t, float64(1), mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	require.True(t, found, "expected zdb_pool_exhausted_total metric")
	require.True(t, foundActive, "expected zdb_pool_active metric")
}
