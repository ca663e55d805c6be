package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CommandSent("PING")
	m.CommandSent("PING")
	m.ReplyReceived("RUN_JOB")
	m.Liveness(true)
	m.Liveness(false)
	m.Liveness(false)
	m.Sweep(3)
	m.Topology(5)
	m.Relay("down")
	m.RelayFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandsSent.WithLabelValues("PING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepliesReceived.WithLabelValues("RUN_JOB")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LivenessChecks.WithLabelValues("dead")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.HeartbeatUnreachable))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HeartbeatPasses))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.TopologySize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayFailures))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Positive(t, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CommandSent("PING")
		m.ReplyReceived("PING")
		m.Liveness(true)
		m.Sweep(1)
		m.Topology(1)
		m.Relay("up")
		m.RelayFailed()
	})
}
