package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"go-arbor/internal/core/ports"
	"go-arbor/internal/domain"
)

const listenerBackoff = 100 * time.Millisecond

// listener drains the first-level worker's parent-facing channel. It never
// touches the topology.
type listener struct {
	sub    ports.Subscriber
	cancel context.CancelFunc
	done   chan struct{}
}

func (o *Orchestrator) startListener(ctx context.Context, address string) error {
	o.listenMu.Lock()
	defer o.listenMu.Unlock()

	if o.listener != nil {
		return nil
	}
	sub, err := o.fabric.Connect(ctx, address)
	if err != nil {
		return err
	}

	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &listener{sub: sub, cancel: cancel, done: make(chan struct{})}
	o.listener = l
	go o.listen(lctx, l)
	o.logger.Debug("listening", zap.String("address", address))
	return nil
}

func (o *Orchestrator) stopListener() {
	o.listenMu.Lock()
	l := o.listener
	o.listener = nil
	o.listenMu.Unlock()

	if l == nil {
		return
	}
	l.cancel()
	l.sub.Close()
	<-l.done
}

func (o *Orchestrator) listening() bool {
	o.listenMu.Lock()
	defer o.listenMu.Unlock()
	return o.listener != nil
}

func (o *Orchestrator) listen(ctx context.Context, l *listener) {
	defer close(l.done)

	for {
		reply, err := l.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, domain.ErrChannelClosed) {
				return
			}
			o.logger.Warn("listener receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(listenerBackoff):
			}
			continue
		}

		o.metrics.ReplyReceived(reply.Kind.String())
		o.last.Store(&reply)
		o.report(reply)
		if !o.corr.deliver(reply) {
			o.logger.Debug("reply with no waiter", zap.Stringer("reply", reply))
			if reply.Kind == domain.KindRemoveChild {
				// a removal that already timed out went through after all
				go o.forgetDetached(domain.NodeID(reply.Secondary))
			}
		}
	}
}

func (o *Orchestrator) report(reply domain.Command) {
	switch reply.Kind {
	case domain.KindSpawnChild:
		o.logger.Info("spawn confirmed", zap.Int32("pid", reply.Secondary), zap.Uint64("corr", reply.CorrelationID))
	case domain.KindRunJob:
		if len(reply.Payload) > 0 {
			o.logger.Info("job result",
				zap.Int32("worker", reply.Secondary),
				zap.Float64("value", reply.Payload[0]),
				zap.Uint64("corr", reply.CorrelationID))
		}
	case domain.KindRemoveChild:
		o.logger.Info("worker detached", zap.Int32("worker", reply.Secondary), zap.Uint64("corr", reply.CorrelationID))
	case domain.KindError:
		o.logger.Debug("error reply", zap.Uint64("corr", reply.CorrelationID))
	}
}
