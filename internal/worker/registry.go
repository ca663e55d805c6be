package worker

import (
	"context"

	"go.uber.org/zap"

	"go-arbor/internal/domain"
	"go-arbor/internal/lifecycle"
)

// Handler consumes a command addressed to this node. Returning stop ends
// the node's loop.
type Handler func(ctx context.Context, n *Node, cmd domain.Command) (stop bool, err error)

// Registry maps each command kind a worker executes to its handler
type Registry map[domain.Kind]Handler

// DefaultRegistry wires up the worker behaviour
func DefaultRegistry() Registry {
	registry := make(Registry)
	registry[domain.KindPing] = handlePing
	registry[domain.KindSpawnChild] = handleSpawn
	registry[domain.KindRemoveChild] = handleRemove
	registry[domain.KindRunJob] = handleRunJob
	return registry
}

// Sum is the job every worker runs.
func Sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func handlePing(ctx context.Context, n *Node, cmd domain.Command) (bool, error) {
	reply := cmd.AsReply()
	reply.Destination = domain.Orchestrator
	n.sendUp(ctx, reply)
	return false, nil
}

func handleRunJob(ctx context.Context, n *Node, cmd domain.Command) (bool, error) {
	result := Sum(cmd.Payload)

	reply := cmd.AsReply()
	reply.Destination = domain.Orchestrator
	reply.Secondary = int32(n.cfg.ID)
	if len(reply.Payload) == 0 {
		reply.Payload = []float64{result}
	} else {
		reply.Payload[0] = result
	}
	n.logger.Debug("job done", zap.Uint64("corr", cmd.CorrelationID), zap.Int("values", len(cmd.Payload)), zap.Float64("sum", result))
	n.sendUp(ctx, reply)
	return false, nil
}

// handleSpawn starts the child in the branch its id belongs to and
// subscribes to the child's parent-facing endpoint. The success reply
// carries the child's pid in Secondary.
func handleSpawn(ctx context.Context, n *Node, cmd domain.Command) (bool, error) {
	childID := domain.NodeID(cmd.Secondary)
	if childID == n.cfg.ID || childID.IsReserved() {
		n.logger.Warn("refusing to spawn child", zap.Stringer("child", childID))
		n.sendUp(ctx, cmd.ErrorReply())
		return false, nil
	}

	s := n.branch(childID)
	if n.child(s) != nil {
		n.logger.Warn("branch already occupied", zap.Stringer("side", s), zap.Stringer("child", childID))
		n.sendUp(ctx, cmd.ErrorReply())
		return false, nil
	}

	connect := n.addrs.Left
	if s == right {
		connect = n.addrs.Right
	}
	pid, err := n.spawner.Spawn(ctx, childID, connect)
	if err != nil {
		n.logger.Error("spawn child failed", zap.Stringer("child", childID), zap.Error(err))
		n.sendUp(ctx, cmd.ErrorReply())
		return false, nil
	}

	sub, err := n.fabric.Connect(ctx, lifecycle.For(n.namespace, pid).Parent)
	if err != nil {
		n.logger.Error("connect to child failed", zap.Stringer("child", childID), zap.Int("pid", pid), zap.Error(err))
		n.sendUp(ctx, cmd.ErrorReply())
		return false, nil
	}
	sub.SetReceiveTimeout(n.cfg.ReplyTimeout)
	n.attach(s, sub)
	n.logger.Info("spawned child", zap.Stringer("child", childID), zap.Int("pid", pid), zap.Stringer("side", s))

	reply := cmd.AsReply()
	reply.Destination = domain.Orchestrator
	reply.Secondary = int32(pid)
	n.sendUp(ctx, reply)
	return false, nil
}

// handleRemove tears down this node's subtree. Only the node named by the
// command notifies its parent; descendants reached through the broadcast
// exit silently.
func handleRemove(ctx context.Context, n *Node, cmd domain.Command) (bool, error) {
	n.broadcastDown(ctx, cmd)
	if cmd.Destination == n.cfg.ID {
		n.sendUp(ctx, cmd.DetachNotice(n.cfg.ID))
	}
	n.logger.Info("worker removed")
	return true, nil
}
