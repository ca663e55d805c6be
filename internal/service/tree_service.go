package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-arbor/internal/core/ports"
	"go-arbor/internal/domain"
	"go-arbor/internal/orchestrator"
	"go-arbor/internal/topology"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tree is the part of the orchestrator the operator surfaces drive.
type Tree interface {
	SpawnWorker(ctx context.Context, id domain.NodeID) (orchestrator.SpawnResult, error)
	RemoveWorker(ctx context.Context, id domain.NodeID) ([]domain.NodeID, error)
	Status(ctx context.Context, id domain.NodeID) (bool, error)
	RunJob(ctx context.Context, id domain.NodeID, values []float64) (domain.JobResult, error)
	ToggleHeartbeat(interval time.Duration) bool
	HeartbeatInterval() (time.Duration, bool)
	Topology() *topology.Tree
}

type TreeService interface {
	SpawnWorker(ctx context.Context, id domain.NodeID) (orchestrator.SpawnResult, error)
	RemoveWorker(ctx context.Context, id domain.NodeID) ([]domain.NodeID, error)
	Status(ctx context.Context, id domain.NodeID) (bool, error)
	RunJob(ctx context.Context, id domain.NodeID, values []float64) (domain.JobResult, error)
	ListJobs(ctx context.Context, limit int) ([]domain.JobRecord, error)
	GetJob(ctx context.Context, id uuid.UUID) (*domain.JobRecord, error)
	Topology() TopologyView
	ToggleHeartbeat(interval time.Duration) HeartbeatState
}

type TopologyNode struct {
	ID     domain.NodeID  `json:"id"`
	Parent *domain.NodeID `json:"parent"`
}

type TopologyView struct {
	Root     *domain.NodeID `json:"root"`
	Nodes    []TopologyNode `json:"nodes"`
	Rendered string         `json:"rendered"`
}

type HeartbeatState struct {
	Enabled    bool  `json:"enabled"`
	IntervalMs int64 `json:"interval_ms,omitempty"`
}

// The Implementation
type treeService struct {
	tree   Tree
	jobs   ports.JobRepository
	logger *zap.Logger
}

// NewTreeService wires the orchestrator to the job ledger. jobs may be nil,
// in which case no history is kept.
func NewTreeService(tree Tree, jobs ports.JobRepository, logger *zap.Logger) TreeService {
	return &treeService{
		tree:   tree,
		jobs:   jobs,
		logger: logger.Named("service"),
	}
}

func (s *treeService) SpawnWorker(ctx context.Context, id domain.NodeID) (orchestrator.SpawnResult, error) {
	return s.tree.SpawnWorker(ctx, id)
}

func (s *treeService) RemoveWorker(ctx context.Context, id domain.NodeID) ([]domain.NodeID, error) {
	return s.tree.RemoveWorker(ctx, id)
}

func (s *treeService) Status(ctx context.Context, id domain.NodeID) (bool, error) {
	return s.tree.Status(ctx, id)
}

// RunJob runs the job and records the outcome. Requests rejected before
// reaching a worker leave no record.
func (s *treeService) RunJob(ctx context.Context, id domain.NodeID, values []float64) (domain.JobResult, error) {
	res, err := s.tree.RunJob(ctx, id, values)
	if err != nil && !attempted(err) {
		return res, err
	}

	if s.jobs != nil {
		record := domain.NewJobRecord(id, values)
		if err != nil {
			record.Status = domain.JobFailed
			record.Error = err.Error()
		} else {
			record.WorkerID = res.WorkerID
			record.Result = res.Value
			record.CorrelationID = res.CorrelationID
		}
		// The ledger must not fail a job that already ran
		if rerr := s.jobs.Create(context.WithoutCancel(ctx), record); rerr != nil {
			s.logger.Warn("record job failed", zap.Stringer("worker", id), zap.Error(rerr))
		}
	}
	return res, err
}

func attempted(err error) bool {
	return !errors.Is(err, domain.ErrNotFound) &&
		!errors.Is(err, domain.ErrPayloadTooLarge) &&
		!errors.Is(err, domain.ErrInvalidID)
}

func (s *treeService) ListJobs(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	if s.jobs == nil {
		return []domain.JobRecord{}, nil
	}
	return s.jobs.ListRecent(ctx, limit)
}

func (s *treeService) GetJob(ctx context.Context, id uuid.UUID) (*domain.JobRecord, error) {
	if s.jobs == nil {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return s.jobs.FindByID(ctx, id)
}

func (s *treeService) Topology() TopologyView {
	t := s.tree.Topology()
	view := TopologyView{Nodes: []TopologyNode{}, Rendered: t.Render()}
	if root, ok := t.Root(); ok {
		view.Root = &root
	}
	for _, id := range t.All() {
		node := TopologyNode{ID: id}
		if parent, ok := t.Parent(id); ok && parent != domain.NoParent {
			node.Parent = &parent
		}
		view.Nodes = append(view.Nodes, node)
	}
	return view
}

func (s *treeService) ToggleHeartbeat(interval time.Duration) HeartbeatState {
	s.tree.ToggleHeartbeat(interval)
	current, on := s.tree.HeartbeatInterval()
	if !on {
		return HeartbeatState{}
	}
	return HeartbeatState{Enabled: true, IntervalMs: current.Milliseconds()}
}
