package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"go-arbor/internal/domain"
)

// SweepReport is the outcome of one heartbeat pass.
type SweepReport struct {
	At          time.Time
	Checked     []domain.NodeID
	Unreachable []domain.NodeID
}

// OK reports whether every checked node answered.
func (r SweepReport) OK() bool { return len(r.Unreachable) == 0 }

// heartbeat is one running sweep loop.
type heartbeat struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// ToggleHeartbeat starts the periodic sweep, or stops it if one is running.
// Stopping waits for the pass in progress to finish. It returns whether the
// sweep is running afterwards.
func (o *Orchestrator) ToggleHeartbeat(interval time.Duration) bool {
	o.hbToggle.Lock()
	defer o.hbToggle.Unlock()

	if o.stopHeartbeat() {
		return false
	}
	if interval <= 0 {
		interval = time.Second
	}

	o.hbMu.Lock()
	defer o.hbMu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	hb := &heartbeat{interval: interval, cancel: cancel, done: make(chan struct{})}
	o.heartbeat = hb
	go o.runHeartbeat(ctx, hb)
	o.logger.Info("heartbeat enabled", zap.Duration("interval", interval))
	return true
}

// HeartbeatInterval returns the running sweep's interval, or false if the
// sweep is off.
func (o *Orchestrator) HeartbeatInterval() (time.Duration, bool) {
	o.hbMu.Lock()
	defer o.hbMu.Unlock()
	if o.heartbeat == nil {
		return 0, false
	}
	return o.heartbeat.interval, true
}

// OnSweep registers fn to receive every heartbeat report.
func (o *Orchestrator) OnSweep(fn func(SweepReport)) {
	o.onSweep.Store(&fn)
}

func (o *Orchestrator) stopHeartbeat() bool {
	o.hbMu.Lock()
	hb := o.heartbeat
	o.heartbeat = nil
	o.hbMu.Unlock()

	if hb == nil {
		return false
	}
	hb.cancel()
	<-hb.done
	o.logger.Info("heartbeat disabled")
	return true
}

func (o *Orchestrator) runHeartbeat(ctx context.Context, hb *heartbeat) {
	defer close(hb.done)

	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()

	timeout := time.Duration(o.opts.HeartbeatFactor) * hb.interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// a pass that has started runs to completion
			o.Sweep(context.WithoutCancel(ctx), timeout)
		}
	}
}

// Sweep checks every node in the topology once and reports the ones that
// did not answer within timeout. Checks run one at a time: workers relay
// synchronously, so a ping queued behind a dead branch would time out
// even when its target is healthy. timeout never drops below the
// liveness timeout.
func (o *Orchestrator) Sweep(ctx context.Context, timeout time.Duration) SweepReport {
	timeout = max(timeout, o.opts.LivenessTimeout)
	ids := o.tree.All()
	alive := make([]bool, len(ids))
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		alive[i] = o.CheckLiveness(ctx, id, timeout)
	}

	report := SweepReport{At: time.Now(), Checked: ids}
	for i, id := range ids {
		if !alive[i] {
			report.Unreachable = append(report.Unreachable, id)
		}
	}

	if report.OK() {
		o.printf("OK")
	}
	for _, id := range report.Unreachable {
		o.printf("Heartbeat: node %d is unavailable now", id)
	}
	o.metrics.Sweep(len(report.Unreachable))
	if fn := o.onSweep.Load(); fn != nil {
		(*fn)(report)
	}
	return report
}
