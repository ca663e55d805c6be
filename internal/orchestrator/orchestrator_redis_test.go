package orchestrator

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-arbor/internal/config"
	"go-arbor/internal/domain"
	redisinfra "go-arbor/internal/infrastructure/redis"
)

// newRedisFixture runs the tree over Redis Pub/Sub on miniredis, with every
// worker in-process.
func newRedisFixture(t *testing.T, ids ...domain.NodeID) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})

	cfg := scaledConfig()
	cfg.Transport.Kind = config.TransportRedis
	cfg.Transport.RedisAddr = mr.Addr()
	// extra room for broker round trips
	cfg.Orchestrator.LivenessTimeoutMs *= 2

	fabric := redisinfra.NewFabric(client)
	fabric.SetJoinWait(cfg.Transport.JoinWait())
	return startFixture(t, cfg, fabric, ids...)
}

func TestRedisTreeLifecycle(t *testing.T) {
	f := newRedisFixture(t, 10, 5, 15, 3)
	ctx := context.Background()
	assert.Equal(t, []domain.NodeID{3, 5, 10, 15}, f.orch.Topology().All())

	res, err := f.orch.RunJob(ctx, 3, []float64{2.0, 3.5, 4.5})
	require.NoError(t, err)
	assert.Equal(t, domain.NodeID(3), res.WorkerID)
	assert.InDelta(t, 10.0, res.Value, 1e-9)

	removed, err := f.orch.RemoveWorker(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []domain.NodeID{3, 5}, removed)
	assert.Equal(t, []domain.NodeID{10, 15}, f.orch.Topology().All())

	require.True(t, f.spawner.Kill(15))
	alive, err := f.orch.Status(ctx, 15)
	require.NoError(t, err)
	assert.False(t, alive)

	alive, err = f.orch.Status(ctx, 10)
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestRedisSweep(t *testing.T) {
	f := newRedisFixture(t, 10, 5, 15, 3, 7)
	require.True(t, f.spawner.Kill(3))
	require.True(t, f.spawner.Kill(7))

	report := f.orch.Sweep(context.Background(), f.orch.opts.LivenessTimeout)
	assert.Equal(t, []domain.NodeID{3, 7}, report.Unreachable)
}
