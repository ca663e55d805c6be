package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-arbor/internal/domain"
	"go-arbor/internal/infrastructure/memory"
	"go-arbor/internal/logging"
	"go-arbor/internal/orchestrator"
	"go-arbor/internal/topology"
)

type fakeTree struct {
	topo      *topology.Tree
	jobResult domain.JobResult
	jobErr    error
	heartbeat time.Duration
}

func newFakeTree(ids ...domain.NodeID) *fakeTree {
	f := &fakeTree{topo: topology.New()}
	for _, id := range ids {
		_ = f.topo.Insert(id)
	}
	return f
}

func (f *fakeTree) SpawnWorker(ctx context.Context, id domain.NodeID) (orchestrator.SpawnResult, error) {
	parent := f.topo.Place(id)
	if err := f.topo.Insert(id); err != nil {
		return orchestrator.SpawnResult{}, err
	}
	return orchestrator.SpawnResult{ID: id, Parent: parent, PID: 1000 + int(id)}, nil
}

func (f *fakeTree) RemoveWorker(ctx context.Context, id domain.NodeID) ([]domain.NodeID, error) {
	return f.topo.Remove(id)
}

func (f *fakeTree) Status(ctx context.Context, id domain.NodeID) (bool, error) {
	if !f.topo.Contains(id) {
		return false, domain.ErrNotFound
	}
	return true, nil
}

func (f *fakeTree) RunJob(ctx context.Context, id domain.NodeID, values []float64) (domain.JobResult, error) {
	return f.jobResult, f.jobErr
}

func (f *fakeTree) ToggleHeartbeat(interval time.Duration) bool {
	if f.heartbeat > 0 {
		f.heartbeat = 0
		return false
	}
	f.heartbeat = interval
	return true
}

func (f *fakeTree) HeartbeatInterval() (time.Duration, bool) {
	return f.heartbeat, f.heartbeat > 0
}

func (f *fakeTree) Topology() *topology.Tree { return f.topo }

func TestRunJobRecordsSuccess(t *testing.T) {
	ctx := context.Background()
	tree := newFakeTree(10, 3)
	tree.jobResult = domain.JobResult{WorkerID: 3, Value: 10, CorrelationID: 9}
	ledger := memory.NewJobLedger(0)
	svc := NewTreeService(tree, ledger, logging.Discard())

	res, err := svc.RunJob(ctx, 3, []float64{2.0, 3.5, 4.5})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, res.Value, 1e-9)

	jobs, err := svc.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobCompleted, jobs[0].Status)
	assert.Equal(t, domain.NodeID(3), jobs[0].WorkerID)
	assert.Equal(t, uint64(9), jobs[0].CorrelationID)
	assert.JSONEq(t, `[2, 3.5, 4.5]`, string(jobs[0].Args))

	got, err := svc.GetJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, jobs[0].ID, got.ID)
}

func TestRunJobRecordsFailureOnlyWhenAttempted(t *testing.T) {
	ctx := context.Background()
	tree := newFakeTree(10)
	ledger := memory.NewJobLedger(0)
	svc := NewTreeService(tree, ledger, logging.Discard())

	tree.jobErr = domain.ErrNotFound
	_, err := svc.RunJob(ctx, 99, []float64{1})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tree.jobErr = domain.ErrUnavailable
	_, err = svc.RunJob(ctx, 10, []float64{1})
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	jobs, err := svc.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].Error, "unavailable")
}

func TestServiceWithoutLedger(t *testing.T) {
	ctx := context.Background()
	tree := newFakeTree(10)
	tree.jobResult = domain.JobResult{WorkerID: 10, Value: 1}
	svc := NewTreeService(tree, nil, logging.Discard())

	_, err := svc.RunJob(ctx, 10, []float64{1})
	require.NoError(t, err)

	jobs, err := svc.ListJobs(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = svc.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTopologyView(t *testing.T) {
	svc := NewTreeService(newFakeTree(10, 5, 15), nil, logging.Discard())

	view := svc.Topology()
	require.NotNil(t, view.Root)
	assert.Equal(t, domain.NodeID(10), *view.Root)
	require.Len(t, view.Nodes, 3)
	assert.Equal(t, domain.NodeID(5), view.Nodes[0].ID)
	require.NotNil(t, view.Nodes[0].Parent)
	assert.Equal(t, domain.NodeID(10), *view.Nodes[0].Parent)
	assert.Nil(t, view.Nodes[1].Parent)
	assert.Equal(t, "--15\n10\n--5\n", view.Rendered)

	empty := NewTreeService(newFakeTree(), nil, logging.Discard()).Topology()
	assert.Nil(t, empty.Root)
	assert.Empty(t, empty.Nodes)
}

func TestToggleHeartbeatState(t *testing.T) {
	svc := NewTreeService(newFakeTree(10), nil, logging.Discard())

	on := svc.ToggleHeartbeat(250 * time.Millisecond)
	assert.True(t, on.Enabled)
	assert.Equal(t, int64(250), on.IntervalMs)

	off := svc.ToggleHeartbeat(0)
	assert.False(t, off.Enabled)
}
