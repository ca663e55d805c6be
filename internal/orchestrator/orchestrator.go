// Package orchestrator is the root-equivalent process of the tree. It owns
// the topology store, issues commands to the first-level worker and matches
// the replies that come back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"go-arbor/internal/config"
	"go-arbor/internal/core/ports"
	"go-arbor/internal/domain"
	"go-arbor/internal/lifecycle"
	"go-arbor/internal/metrics"
	"go-arbor/internal/topology"
)

type Options struct {
	Namespace       string
	PID             int
	RootID          domain.NodeID
	SpawnRoot       bool
	LivenessTimeout time.Duration
	JobTimeout      time.Duration
	SpawnTimeout    time.Duration
	HeartbeatFactor int
	ShutdownGrace   time.Duration

	// Operator-facing output: heartbeat reports go here, not to the log
	Out io.Writer
}

// OptionsFrom maps the orchestrator section of cfg. The namespace is passed
// separately because every run gets a unique one.
func OptionsFrom(cfg config.Config, namespace string) Options {
	o := cfg.Orchestrator
	return Options{
		Namespace:       namespace,
		PID:             os.Getpid(),
		RootID:          domain.NodeID(o.RootID),
		SpawnRoot:       o.SpawnRoot,
		LivenessTimeout: o.LivenessTimeout(),
		JobTimeout:      o.JobTimeout(),
		SpawnTimeout:    o.SpawnTimeout(),
		HeartbeatFactor: o.HeartbeatTimeoutFactor,
		ShutdownGrace:   o.ShutdownGrace(),
		Out:             os.Stdout,
	}
}

// SpawnResult describes a worker added to the tree. Pending is set when
// the spawn was sent but its confirmation did not arrive in time; the
// worker stays in the topology.
type SpawnResult struct {
	ID      domain.NodeID
	Parent  domain.NodeID
	PID     int
	Pending bool
}

type Orchestrator struct {
	opts    Options
	fabric  ports.Fabric
	spawner ports.Spawner
	logger  *zap.Logger
	metrics *metrics.Metrics

	tree  *topology.Tree
	seq   domain.Sequence
	addrs lifecycle.Addresses
	down  ports.Publisher

	corr *correlator
	last atomic.Pointer[domain.Command]

	// ops serializes topology mutations issued by the operator surfaces
	ops      sync.Mutex
	listenMu sync.Mutex
	listener *listener

	checks singleflight.Group

	hbToggle  sync.Mutex
	hbMu      sync.Mutex
	heartbeat *heartbeat
	onSweep   atomic.Pointer[func(SweepReport)]

	outMu     sync.Mutex
	closeOnce sync.Once
}

func New(opts Options, fabric ports.Fabric, spawner ports.Spawner, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	if opts.HeartbeatFactor <= 0 {
		opts.HeartbeatFactor = 4
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Orchestrator{
		opts:    opts,
		fabric:  fabric,
		spawner: spawner,
		logger:  logger.Named("orchestrator"),
		metrics: m,
		tree:    topology.New(),
		addrs:   lifecycle.For(opts.Namespace, opts.PID),
		corr:    newCorrelator(),
	}
}

// Address is where first-level workers connect.
func (o *Orchestrator) Address() string { return o.addrs.Left }

func (o *Orchestrator) Namespace() string { return o.opts.Namespace }

func (o *Orchestrator) Topology() *topology.Tree { return o.tree }

// LastReply returns the most recent reply seen by the listener.
func (o *Orchestrator) LastReply() (domain.Command, bool) {
	if r := o.last.Load(); r != nil {
		return *r, true
	}
	return domain.Command{}, false
}

// Start binds the downward channel and, when configured, spawns the
// first-level worker.
func (o *Orchestrator) Start(ctx context.Context) error {
	down, err := o.fabric.Bind(ctx, o.addrs.Left)
	if err != nil {
		return fmt.Errorf("bind %s: %w", o.addrs.Left, err)
	}
	o.down = down
	o.logger.Info("orchestrator started", zap.String("namespace", o.opts.Namespace), zap.String("address", o.addrs.Left))

	if o.opts.SpawnRoot {
		res, err := o.SpawnWorker(ctx, o.opts.RootID)
		if err != nil {
			return fmt.Errorf("spawn first-level worker %d: %w", o.opts.RootID, err)
		}
		o.logger.Info("first-level worker running", zap.Stringer("worker", res.ID), zap.Int("pid", res.PID))
	}
	return nil
}

// SpawnWorker adds id to the tree under the parent the topology places it
// at. The topology entry is inserted before the spawn is confirmed and
// rolled back if the parent reports failure.
func (o *Orchestrator) SpawnWorker(ctx context.Context, id domain.NodeID) (SpawnResult, error) {
	if err := domain.ValidateID(id); err != nil {
		return SpawnResult{}, err
	}

	o.ops.Lock()
	defer o.ops.Unlock()

	if o.tree.Contains(id) {
		return SpawnResult{}, fmt.Errorf("%w: worker %d", domain.ErrAlreadyExists, id)
	}

	parent := o.tree.Place(id)
	if parent == domain.NoParent {
		return o.spawnFirst(ctx, id)
	}
	if !o.CheckLiveness(ctx, parent, o.opts.LivenessTimeout) {
		return SpawnResult{ID: id, Parent: parent}, fmt.Errorf("%w: parent %d of worker %d", domain.ErrUnavailable, parent, id)
	}

	cmd := o.seq.NewCommand(domain.KindSpawnChild, parent, int32(id), nil)
	if err := o.tree.Insert(id); err != nil {
		return SpawnResult{}, err
	}
	o.metrics.Topology(o.tree.Len())

	reply, err := o.roundTrip(ctx, cmd, o.opts.SpawnTimeout)
	switch {
	case errors.Is(err, domain.ErrTimeout):
		o.logger.Warn("spawn not confirmed",
			zap.Stringer("worker", id),
			zap.Stringer("parent", parent),
			zap.Duration("timeout", o.opts.SpawnTimeout))
		return SpawnResult{ID: id, Parent: parent, Pending: true}, nil
	case err != nil:
		o.rollback(id)
		return SpawnResult{}, err
	case reply.Kind == domain.KindError:
		o.rollback(id)
		return SpawnResult{}, fmt.Errorf("%w: worker %d under %d", domain.ErrSpawnFailed, id, parent)
	}

	o.logger.Info("worker spawned", zap.Stringer("worker", id), zap.Stringer("parent", parent), zap.Int32("pid", reply.Secondary))
	return SpawnResult{ID: id, Parent: parent, PID: int(reply.Secondary)}, nil
}

// spawnFirst starts the worker the orchestrator is the direct parent of.
func (o *Orchestrator) spawnFirst(ctx context.Context, id domain.NodeID) (SpawnResult, error) {
	if o.down == nil {
		return SpawnResult{}, fmt.Errorf("%w: orchestrator not started", domain.ErrChannelFailure)
	}

	pid, err := o.spawner.Spawn(ctx, id, o.addrs.Left)
	if err != nil {
		if !errors.Is(err, domain.ErrSpawnFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrSpawnFailed, err)
		}
		return SpawnResult{}, err
	}
	if err := o.startListener(ctx, lifecycle.For(o.opts.Namespace, pid).Parent); err != nil {
		return SpawnResult{}, err
	}
	if err := o.tree.Insert(id); err != nil {
		o.stopListener()
		return SpawnResult{}, err
	}
	o.metrics.Topology(o.tree.Len())

	res := SpawnResult{ID: id, Parent: domain.NoParent, PID: pid}
	if !o.ping(ctx, id, o.opts.SpawnTimeout) {
		o.logger.Warn("first-level worker not answering yet", zap.Stringer("worker", id), zap.Int("pid", pid))
		res.Pending = true
	}
	return res, nil
}

func (o *Orchestrator) rollback(id domain.NodeID) {
	if _, err := o.tree.Remove(id); err != nil {
		o.logger.Warn("rollback failed", zap.Stringer("worker", id), zap.Error(err))
	}
	o.metrics.Topology(o.tree.Len())
}

// RunJob asks worker id to aggregate values.
func (o *Orchestrator) RunJob(ctx context.Context, id domain.NodeID, values []float64) (domain.JobResult, error) {
	if len(values) > domain.MaxPayload {
		return domain.JobResult{}, fmt.Errorf("%w: %d values", domain.ErrPayloadTooLarge, len(values))
	}
	if !o.tree.Contains(id) {
		return domain.JobResult{}, fmt.Errorf("%w: worker %d", domain.ErrNotFound, id)
	}
	if !o.CheckLiveness(ctx, id, o.opts.LivenessTimeout) {
		return domain.JobResult{}, fmt.Errorf("%w: worker %d", domain.ErrUnavailable, id)
	}

	cmd := o.seq.NewCommand(domain.KindRunJob, id, 0, values)
	reply, err := o.roundTrip(ctx, cmd, o.opts.JobTimeout)
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("job on worker %d: %w", id, err)
	}
	if reply.Kind == domain.KindError || len(reply.Payload) == 0 {
		return domain.JobResult{}, fmt.Errorf("%w: worker %d did not complete the job", domain.ErrUnavailable, id)
	}
	return domain.JobResult{
		WorkerID:      domain.NodeID(reply.Secondary),
		Value:         reply.Payload[0],
		CorrelationID: reply.CorrelationID,
	}, nil
}

// RemoveWorker terminates id and everything beneath it, returning the ids
// dropped from the topology.
func (o *Orchestrator) RemoveWorker(ctx context.Context, id domain.NodeID) ([]domain.NodeID, error) {
	o.ops.Lock()
	defer o.ops.Unlock()

	if !o.tree.Contains(id) {
		return nil, fmt.Errorf("%w: worker %d", domain.ErrNotFound, id)
	}

	cmd := o.seq.NewCommand(domain.KindRemoveChild, id, 0, nil)
	reply, err := o.roundTrip(ctx, cmd, o.opts.SpawnTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: remove worker %d: %w", domain.ErrUnavailable, id, err)
	}
	if reply.Kind == domain.KindError {
		return nil, fmt.Errorf("%w: worker %d could not be reached", domain.ErrUnavailable, id)
	}

	removed, err := o.tree.Remove(id)
	if err != nil {
		return nil, err
	}
	o.metrics.Topology(o.tree.Len())
	if o.tree.Len() == 0 {
		o.stopListener()
	}
	o.logger.Info("worker removed", zap.Stringer("worker", id), zap.Int("descendants", len(removed)-1))
	return removed, nil
}

// forgetDetached drops the subtree of a worker whose detach notice arrived
// after its removal had been given up on.
func (o *Orchestrator) forgetDetached(id domain.NodeID) {
	o.ops.Lock()
	defer o.ops.Unlock()

	if !o.tree.Contains(id) {
		return
	}
	removed, err := o.tree.Remove(id)
	if err != nil {
		o.logger.Warn("forget detached worker", zap.Stringer("worker", id), zap.Error(err))
		return
	}
	o.metrics.Topology(o.tree.Len())
	if o.tree.Len() == 0 {
		o.stopListener()
	}
	o.logger.Info("late detach applied", zap.Stringer("worker", id), zap.Int("descendants", len(removed)-1))
}

// Status is the operator status check.
func (o *Orchestrator) Status(ctx context.Context, id domain.NodeID) (bool, error) {
	if !o.tree.Contains(id) {
		return false, fmt.Errorf("%w: worker %d", domain.ErrNotFound, id)
	}
	return o.CheckLiveness(ctx, id, o.opts.LivenessTimeout), nil
}

// CheckLiveness pings id and waits up to timeout for the correlated reply.
// Concurrent checks of the same id share one ping.
func (o *Orchestrator) CheckLiveness(ctx context.Context, id domain.NodeID, timeout time.Duration) bool {
	v, _, _ := o.checks.Do(strconv.Itoa(int(id)), func() (any, error) {
		return o.ping(ctx, id, timeout), nil
	})
	return v.(bool)
}

func (o *Orchestrator) ping(ctx context.Context, id domain.NodeID, timeout time.Duration) bool {
	cmd := o.seq.NewCommand(domain.KindPing, id, 0, nil)
	expected := cmd.AsReply()
	expected.Destination = domain.Orchestrator

	reply, err := o.roundTrip(ctx, cmd, timeout)
	alive := err == nil && reply.Matches(expected)
	if err != nil {
		if last, ok := o.LastReply(); ok && last.Matches(expected) {
			alive = true
		}
	}
	o.metrics.Liveness(alive)
	if !alive {
		o.logger.Debug("ping unanswered", zap.Stringer("worker", id), zap.Uint64("corr", cmd.CorrelationID), zap.Error(err))
	}
	return alive
}

// roundTrip publishes cmd and waits for the reply carrying its correlation
// id. An ERROR reply is returned as a reply, not as an error.
func (o *Orchestrator) roundTrip(ctx context.Context, cmd domain.Command, timeout time.Duration) (domain.Command, error) {
	if !o.listening() {
		return domain.Command{}, fmt.Errorf("%w: no first-level worker", domain.ErrChannelFailure)
	}

	ch, release := o.corr.expect(cmd.CorrelationID)
	defer release()

	if err := o.down.Publish(ctx, cmd); err != nil {
		return domain.Command{}, err
	}
	o.metrics.CommandSent(cmd.Kind.String())

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply, nil
	case <-timer.C:
		return domain.Command{}, domain.TimeoutError()
	case <-ctx.Done():
		return domain.Command{}, ctx.Err()
	}
}

// Close is the operator exit: stop the heartbeat, tear the tree down and
// release the channels. Only the first call has any effect.
func (o *Orchestrator) Close(ctx context.Context) {
	o.closeOnce.Do(func() {
		o.stopHeartbeat()

		if o.listening() {
			cmd := o.seq.NewCommand(domain.KindRemoveChild, domain.Broadcast, 0, nil)
			if err := o.down.Publish(ctx, cmd); err != nil {
				o.logger.Warn("broadcast shutdown failed", zap.Error(err))
			} else {
				select {
				case <-time.After(o.opts.ShutdownGrace):
				case <-ctx.Done():
				}
			}
		}

		o.stopListener()
		if o.down != nil {
			o.down.Close()
		}
		o.logger.Info("orchestrator stopped")
	})
}

func (o *Orchestrator) printf(format string, args ...any) {
	o.outMu.Lock()
	defer o.outMu.Unlock()
	fmt.Fprintf(o.opts.Out, format+"\n", args...)
}
