package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"go-arbor/internal/core/ports"
	"go-arbor/internal/domain"
	"go-arbor/internal/lifecycle"
	"go-arbor/internal/metrics"
)

type side int

const (
	left side = iota
	right
)

func (s side) String() string {
	if s == left {
		return "left"
	}
	return "right"
}

type Config struct {
	ID           domain.NodeID
	PID          int
	ParentAddr   string
	ReplyTimeout time.Duration
}

// Node is one worker of the tree. All routing happens on the goroutine
// running Run; Shutdown may be called from anywhere.
type Node struct {
	cfg       Config
	namespace string
	addrs     lifecycle.Addresses

	fabric   ports.Fabric
	spawner  ports.Spawner
	registry Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics

	parentPub ports.Publisher
	childPub  [2]ports.Publisher
	parentSub ports.Subscriber

	mu       sync.Mutex
	childSub [2]ports.Subscriber // opened once a child is spawned on that side

	shutdown   sync.Once
	terminated atomic.Bool
}

func New(cfg Config, fabric ports.Fabric, spawner ports.Spawner, logger *zap.Logger, m *metrics.Metrics) (*Node, error) {
	if err := domain.ValidateID(cfg.ID); err != nil {
		return nil, err
	}
	ns, err := lifecycle.NamespaceOf(cfg.ParentAddr)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", cfg.ID, err)
	}
	return &Node{
		cfg:       cfg,
		namespace: ns,
		addrs:     lifecycle.For(ns, cfg.PID),
		fabric:    fabric,
		spawner:   spawner,
		registry:  DefaultRegistry(),
		logger:    logger.Named("worker").With(zap.Stringer("worker", cfg.ID)),
		metrics:   m,
	}, nil
}

func (n *Node) ID() domain.NodeID               { return n.cfg.ID }
func (n *Node) PID() int                        { return n.cfg.PID }
func (n *Node) Addresses() lifecycle.Addresses { return n.addrs }

// Children reports which sides currently have a child subscription.
func (n *Node) Children() (hasLeft, hasRight bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.childSub[left] != nil, n.childSub[right] != nil
}

// Open binds the three publish endpoints and connects to the parent.
func (n *Node) Open(ctx context.Context) error {
	var err error
	if n.parentPub, err = n.fabric.Bind(ctx, n.addrs.Parent); err != nil {
		n.Shutdown()
		return fmt.Errorf("worker %d: bind parent-facing: %w", n.cfg.ID, err)
	}
	if n.childPub[left], err = n.fabric.Bind(ctx, n.addrs.Left); err != nil {
		n.Shutdown()
		return fmt.Errorf("worker %d: bind left-facing: %w", n.cfg.ID, err)
	}
	if n.childPub[right], err = n.fabric.Bind(ctx, n.addrs.Right); err != nil {
		n.Shutdown()
		return fmt.Errorf("worker %d: bind right-facing: %w", n.cfg.ID, err)
	}
	if n.parentSub, err = n.fabric.Connect(ctx, n.cfg.ParentAddr); err != nil {
		n.Shutdown()
		return fmt.Errorf("worker %d: connect to parent: %w", n.cfg.ID, err)
	}
	return nil
}

// Run drives the receive-route-reply loop until the node is removed, shut
// down, or hits a protocol error.
func (n *Node) Run(ctx context.Context) error {
	defer n.Shutdown()
	n.logger.Info("worker started", zap.Int("pid", n.cfg.PID), zap.String("parent", n.cfg.ParentAddr))

	for {
		cmd, err := n.parentSub.Receive(ctx)
		if err != nil {
			if n.terminated.Load() || ctx.Err() != nil || errors.Is(err, domain.ErrChannelClosed) {
				return nil
			}
			return fmt.Errorf("worker %d: receive from parent: %w", n.cfg.ID, err)
		}

		stop, err := n.handle(ctx, cmd)
		if err != nil {
			n.logger.Error("worker loop stopped", zap.Error(err))
			return err
		}
		if stop {
			return nil
		}
	}
}

func (n *Node) handle(ctx context.Context, cmd domain.Command) (bool, error) {
	if cmd.Kind == domain.KindError {
		return true, fmt.Errorf("worker %d: %w: ERROR record received", n.cfg.ID, domain.ErrProtocol)
	}
	if cmd.RelayMode {
		n.sendUp(ctx, cmd)
		return false, nil
	}
	if cmd.Destination != n.cfg.ID && cmd.Destination != domain.Broadcast {
		n.relay(ctx, cmd)
		return false, nil
	}

	handler, ok := n.registry[cmd.Kind]
	if !ok {
		return true, fmt.Errorf("worker %d: %w: unhandled command %s", n.cfg.ID, domain.ErrProtocol, cmd.Kind)
	}
	return handler(ctx, n, cmd)
}

// relay forwards cmd down the branch that must contain its destination and
// waits for exactly one reply before passing it up.
func (n *Node) relay(ctx context.Context, cmd domain.Command) {
	reply := n.forward(ctx, n.branch(cmd.Destination), cmd.AsRequest())
	if reply.IsDetachNotice() {
		n.passDetachUp(ctx, reply)
		return
	}
	n.sendUp(ctx, reply)
}

// passDetachUp drops the branch of the child that sent notice and tells the
// orchestrator it is gone.
func (n *Node) passDetachUp(ctx context.Context, notice domain.Command) {
	gone := n.branch(domain.NodeID(notice.Secondary))
	n.detach(gone)
	notice.Destination = domain.Orchestrator
	n.logger.Info("child detached", zap.Int32("child", notice.Secondary), zap.Stringer("side", gone))
	n.sendUp(ctx, notice)
}

func (n *Node) forward(ctx context.Context, s side, req domain.Command) domain.Command {
	sub := n.child(s)
	if sub == nil {
		n.logger.Warn("no child on branch", zap.Stringer("side", s), zap.Stringer("destination", req.Destination))
		n.metrics.RelayFailed()
		return req.ErrorReply()
	}
	if err := n.childPub[s].Publish(ctx, req); err != nil {
		n.logger.Warn("forward failed", zap.Stringer("cmd", req), zap.Stringer("side", s), zap.Error(err))
		n.metrics.RelayFailed()
		return req.ErrorReply()
	}
	n.metrics.Relay("down")

	reply, err := n.awaitReply(ctx, sub, req)
	if err != nil {
		n.logger.Warn("no reply from child", zap.Stringer("side", s), zap.Stringer("cmd", req), zap.Error(err))
		n.metrics.RelayFailed()
		return req.ErrorReply()
	}
	return reply
}

// awaitReply blocks for the reply correlated with req. Late replies to
// earlier, timed-out requests are dropped, except a late detach notice:
// it answers a retried removal of the same child, and otherwise closes the
// branch and fails req.
func (n *Node) awaitReply(ctx context.Context, sub ports.Subscriber, req domain.Command) (domain.Command, error) {
	rctx := ctx
	if n.cfg.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, n.cfg.ReplyTimeout)
		defer cancel()
	}
	for {
		reply, err := sub.Receive(rctx)
		if err != nil {
			return domain.Command{}, err
		}
		if reply.Answers(req) {
			return reply, nil
		}
		if reply.IsDetachNotice() {
			if req.Kind == domain.KindRemoveChild && req.Destination == domain.NodeID(reply.Secondary) {
				reply.CorrelationID = req.CorrelationID
				return reply, nil
			}
			n.passDetachUp(ctx, reply)
			return domain.Command{}, fmt.Errorf("child %d detached: %w", reply.Secondary, domain.ErrChannelClosed)
		}
		n.logger.Debug("dropping stale reply", zap.Stringer("reply", reply), zap.Uint64("waiting", req.CorrelationID))
	}
}

func (n *Node) sendUp(ctx context.Context, cmd domain.Command) {
	if err := n.parentPub.Publish(ctx, cmd.AsReply()); err != nil {
		n.logger.Warn("send to parent failed", zap.Stringer("cmd", cmd), zap.Error(err))
		return
	}
	n.metrics.Relay("up")
}

// broadcastDown forwards cmd to every spawned child. No reply is awaited.
func (n *Node) broadcastDown(ctx context.Context, cmd domain.Command) {
	down := cmd.AsRequest()
	down.Destination = domain.Broadcast
	for _, s := range []side{left, right} {
		if n.child(s) == nil {
			continue
		}
		if err := n.childPub[s].Publish(ctx, down); err != nil {
			n.logger.Warn("broadcast failed", zap.Stringer("cmd", down), zap.Stringer("side", s), zap.Error(err))
		}
	}
}

func (n *Node) branch(id domain.NodeID) side {
	if id < n.cfg.ID {
		return left
	}
	return right
}

func (n *Node) child(s side) ports.Subscriber {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.childSub[s]
}

func (n *Node) attach(s side, sub ports.Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.childSub[s] = sub
}

func (n *Node) detach(s side) {
	n.mu.Lock()
	sub := n.childSub[s]
	n.childSub[s] = nil
	n.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// Shutdown closes every endpoint exactly once. The shared fabric belongs
// to the caller.
func (n *Node) Shutdown() {
	n.shutdown.Do(func() {
		n.terminated.Store(true)

		n.mu.Lock()
		subs := n.childSub
		n.childSub = [2]ports.Subscriber{}
		n.mu.Unlock()

		for _, sub := range append(subs[:], n.parentSub) {
			if sub != nil {
				sub.Close()
			}
		}
		for _, pub := range []ports.Publisher{n.parentPub, n.childPub[left], n.childPub[right]} {
			if pub != nil {
				pub.Close()
			}
		}
		n.logger.Info("worker terminated")
	})
}
