package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"go-arbor/internal/core/ports"
	"go-arbor/internal/domain"
	"go-arbor/internal/metrics"
)

// firstLocalPID keeps synthetic pids clear of anything a test might mistake
// for a real process.
const firstLocalPID = 100000

// LocalSpawner runs workers as goroutines sharing one fabric. It stands in
// for process spawning with the in-memory transport and in tests.
type LocalSpawner struct {
	fabric       ports.Fabric
	replyTimeout time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	nextPID int
	nodes   map[int]*Node
}

var _ ports.Spawner = (*LocalSpawner)(nil)

func NewLocalSpawner(fabric ports.Fabric, replyTimeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *LocalSpawner {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalSpawner{
		fabric:       fabric,
		replyTimeout: replyTimeout,
		logger:       logger,
		metrics:      m,
		ctx:          ctx,
		cancel:       cancel,
		nextPID:      firstLocalPID,
		nodes:        make(map[int]*Node),
	}
}

// Spawn opens the node's endpoints before returning, so the caller can
// connect to it immediately.
func (s *LocalSpawner) Spawn(ctx context.Context, id domain.NodeID, connectAddr string) (int, error) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return 0, domain.ErrSpawnFailed
	}
	s.nextPID++
	pid := s.nextPID
	s.mu.Unlock()

	node, err := New(Config{
		ID:           id,
		PID:          pid,
		ParentAddr:   connectAddr,
		ReplyTimeout: s.replyTimeout,
	}, s.fabric, s, s.logger, s.metrics)
	if err != nil {
		return 0, err
	}
	if err := node.Open(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		node.Shutdown()
		return 0, domain.ErrSpawnFailed
	}
	s.nodes[pid] = node
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := node.Run(s.ctx); err != nil {
			s.logger.Warn("worker exited", zap.Stringer("worker", id), zap.Int("pid", pid), zap.Error(err))
		}
		s.mu.Lock()
		delete(s.nodes, pid)
		s.mu.Unlock()
	}()
	return pid, nil
}

// Kill stops the worker with the given node id without telling its parent,
// the way a crashed process would disappear.
func (s *LocalSpawner) Kill(id domain.NodeID) bool {
	s.mu.Lock()
	var target *Node
	for _, n := range s.nodes {
		if n.ID() == id {
			target = n
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return false
	}
	target.Shutdown()
	return true
}

// Running lists the ids of workers whose loop has not exited, ascending.
func (s *LocalSpawner) Running() []domain.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.NodeID, 0, len(s.nodes))
	for _, n := range s.nodes {
		ids = append(ids, n.ID())
	}
	slices.Sort(ids)
	return ids
}

// Close stops every worker and waits for their loops to exit.
func (s *LocalSpawner) Close() {
	s.mu.Lock()
	s.cancel()
	nodes := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	s.mu.Unlock()

	for _, n := range nodes {
		n.Shutdown()
	}
	s.wg.Wait()
}
