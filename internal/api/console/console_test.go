package console

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-arbor/internal/domain"
	"go-arbor/internal/orchestrator"
	"go-arbor/internal/service"
)

type fakeService struct {
	nodes     map[domain.NodeID]bool
	dead      map[domain.NodeID]bool
	values    []float64
	heartbeat time.Duration
	pending   bool
	rendered  string
}

func newFakeService() *fakeService {
	return &fakeService{nodes: map[domain.NodeID]bool{}, dead: map[domain.NodeID]bool{}}
}

func (f *fakeService) SpawnWorker(ctx context.Context, id domain.NodeID) (orchestrator.SpawnResult, error) {
	if f.nodes[id] {
		return orchestrator.SpawnResult{}, fmt.Errorf("%w: worker %d", domain.ErrAlreadyExists, id)
	}
	if f.dead[10] && len(f.nodes) > 0 {
		return orchestrator.SpawnResult{ID: id, Parent: 10}, fmt.Errorf("%w: parent 10", domain.ErrUnavailable)
	}
	f.nodes[id] = true
	return orchestrator.SpawnResult{ID: id, Parent: 10, PID: 5000 + int(id), Pending: f.pending}, nil
}

func (f *fakeService) RemoveWorker(ctx context.Context, id domain.NodeID) ([]domain.NodeID, error) {
	if !f.nodes[id] {
		return nil, domain.ErrNotFound
	}
	delete(f.nodes, id)
	return []domain.NodeID{id}, nil
}

func (f *fakeService) Status(ctx context.Context, id domain.NodeID) (bool, error) {
	if !f.nodes[id] {
		return false, domain.ErrNotFound
	}
	return !f.dead[id], nil
}

func (f *fakeService) RunJob(ctx context.Context, id domain.NodeID, values []float64) (domain.JobResult, error) {
	if !f.nodes[id] {
		return domain.JobResult{}, domain.ErrNotFound
	}
	if f.dead[id] {
		return domain.JobResult{}, domain.ErrUnavailable
	}
	f.values = values
	var sum float64
	for _, v := range values {
		sum += v
	}
	return domain.JobResult{WorkerID: id, Value: sum}, nil
}

func (f *fakeService) ListJobs(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	return nil, nil
}

func (f *fakeService) GetJob(ctx context.Context, id uuid.UUID) (*domain.JobRecord, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeService) Topology() service.TopologyView {
	return service.TopologyView{Rendered: f.rendered}
}

func (f *fakeService) ToggleHeartbeat(interval time.Duration) service.HeartbeatState {
	if f.heartbeat > 0 {
		f.heartbeat = 0
		return service.HeartbeatState{}
	}
	f.heartbeat = interval
	return service.HeartbeatState{Enabled: true, IntervalMs: interval.Milliseconds()}
}

func runScript(t *testing.T, svc service.TreeService, script string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := New(svc, strings.NewReader(script), &out).Run(context.Background())
	return out.String(), err
}

func TestSpawnAndRun(t *testing.T) {
	svc := newFakeService()
	out, err := runScript(t, svc, "spawn 10\ncreate 3\nrun 3 3 2.0 3.5 4.5\nexec 10 0\n")
	require.NoError(t, err)

	assert.Equal(t, "OK: 5010\nOK: 5003\nOK: response from node 3 is 10\nOK: response from node 10 is 0\n", out)
	assert.Empty(t, svc.values)
}

func TestOperatorErrors(t *testing.T) {
	svc := newFakeService()
	svc.nodes[10] = true
	svc.nodes[4] = true
	svc.dead[4] = true

	out, err := runScript(t, svc, strings.Join([]string{
		"spawn 10",
		"run 7 1 1",
		"run 4 1 1",
		"status 7",
		"status 4",
		"status 10",
		"remove 7",
		"frobnicate",
		"run 10 2 1",
		"spawn x",
	}, "\n"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, []string{
		"Error: node 10 already exists",
		"Error: node 7 doesn't exist",
		"Error: node 4 is unavailable",
		"Error: node 7 doesn't exist",
		"Node 4 is unavailable",
		"OK",
		"Error: node 7 doesn't exist",
		"invalid command",
		"Error: expected 2 values",
		`Error: bad node id "x"`,
	}, lines)
}

func TestSpawnUnderUnavailableParent(t *testing.T) {
	svc := newFakeService()
	svc.nodes[10] = true
	svc.dead[10] = true

	out, err := runScript(t, svc, "spawn 3\n")
	require.NoError(t, err)
	assert.Equal(t, "Error: parent node 10 is unavailable\n", out)
}

func TestPendingSpawn(t *testing.T) {
	svc := newFakeService()
	svc.pending = true

	out, err := runScript(t, svc, "spawn 8\n")
	require.NoError(t, err)
	assert.Equal(t, "Pending: node 8 not confirmed yet\n", out)
}

func TestHeartbeatAndPrint(t *testing.T) {
	svc := newFakeService()
	out, err := runScript(t, svc, "print\nheartbeat\nheartbeat\nheartbeat 250\nheartbeat -1\n")
	require.NoError(t, err)

	assert.Equal(t, strings.Join([]string{
		"(empty)",
		"Heartbeat enabled every 1000ms",
		"Heartbeat disabled",
		"Heartbeat enabled every 250ms",
		`Error: bad heartbeat interval "-1"`,
	}, "\n")+"\n", out)

	svc.rendered = "--15\n10\n--5\n"
	out, err = runScript(t, svc, "print\n")
	require.NoError(t, err)
	assert.Equal(t, "--15\n10\n--5\n", out)
}

func TestExitStopsReading(t *testing.T) {
	svc := newFakeService()
	out, err := runScript(t, svc, "exit\nspawn 1\n")
	assert.ErrorIs(t, err, ErrExit)
	assert.Equal(t, "Exiting...\n", out)
	assert.Empty(t, svc.nodes)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := New(newFakeService(), strings.NewReader("spawn 1\n"), &out).Run(ctx)
	assert.NoError(t, err)
}

func TestExecReturnsPlainErrors(t *testing.T) {
	var out bytes.Buffer
	c := New(newFakeService(), strings.NewReader(""), &out)

	err := c.Exec(context.Background(), "run 7 1 1")
	require.EqualError(t, err, "node 7 doesn't exist")
	assert.Equal(t, "Error: node 7 doesn't exist\n", out.String())

	out.Reset()
	err = c.Exec(context.Background(), "status")
	require.EqualError(t, err, "missing node id")
	assert.Equal(t, "Error: missing node id\n", out.String())
}
