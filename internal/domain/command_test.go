package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceAssignsIncreasingCorrelationIDs(t *testing.T) {
	var seq Sequence
	a := seq.NewCommand(KindPing, 3, 0, nil)
	b := seq.NewCommand(KindPing, 3, 0, nil)
	c := seq.NewCommand(KindRunJob, 4, 0, []float64{1})

	assert.Less(t, a.CorrelationID, b.CorrelationID)
	assert.Less(t, b.CorrelationID, c.CorrelationID)
	assert.False(t, a.RelayMode)
}

func TestSequenceWraps(t *testing.T) {
	var seq Sequence
	seq.next.Store(^uint64(0))
	cmd := seq.NewCommand(KindPing, 1, 0, nil)
	assert.Equal(t, uint64(0), cmd.CorrelationID)
}

func TestNewCommandCopiesPayload(t *testing.T) {
	var seq Sequence
	args := []float64{1, 2}
	cmd := seq.NewCommand(KindRunJob, 1, 0, args)
	args[0] = 99
	assert.Equal(t, []float64{1, 2}, cmd.Payload)
}

func TestAsReplyKeepsCorrelation(t *testing.T) {
	var seq Sequence
	req := seq.NewCommand(KindRunJob, 5, 0, []float64{2, 3})
	reply := req.AsReply()

	assert.True(t, reply.RelayMode)
	assert.False(t, req.RelayMode)
	assert.True(t, reply.Answers(req))

	reply.Payload[0] = 42
	assert.Equal(t, 2.0, req.Payload[0], "reply must not alias request payload")

	back := reply.AsRequest()
	assert.False(t, back.RelayMode)
}

func TestErrorReply(t *testing.T) {
	var seq Sequence
	req := seq.NewCommand(KindPing, 9, 0, nil)
	e := req.ErrorReply()

	assert.Equal(t, KindError, e.Kind)
	assert.Equal(t, Orchestrator, e.Destination)
	assert.True(t, e.RelayMode)
	assert.True(t, e.Answers(req))
}

func TestDetachNotice(t *testing.T) {
	var seq Sequence
	req := seq.NewCommand(KindRemoveChild, 7, 0, nil)
	n := req.DetachNotice(7)

	assert.True(t, n.IsDetachNotice())
	assert.Equal(t, int32(7), n.Secondary)
	assert.True(t, n.Answers(req))
	assert.False(t, req.IsDetachNotice())
}

func TestMatches(t *testing.T) {
	var seq Sequence
	ping := seq.NewCommand(KindPing, 4, 0, nil)
	expected := ping.AsReply()
	expected.Destination = Orchestrator

	tests := []struct {
		name  string
		mut   func(c *Command)
		match bool
	}{
		{"identical", func(c *Command) {}, true},
		{"relay flag ignored", func(c *Command) { c.RelayMode = false }, true},
		{"other correlation", func(c *Command) { c.CorrelationID++ }, false},
		{"error kind", func(c *Command) { c.Kind = KindError }, false},
		{"not rewritten", func(c *Command) { c.Destination = 4 }, false},
		{"secondary differs", func(c *Command) { c.Secondary = 1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expected
			tt.mut(&got)
			assert.Equal(t, tt.match, got.Matches(expected))
		})
	}
}

func TestValidateID(t *testing.T) {
	for _, id := range []NodeID{Broadcast, Orchestrator, ParentSignal, NoParent} {
		err := ValidateID(id)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidID))
	}
	assert.NoError(t, ValidateID(0))
	assert.NoError(t, ValidateID(-10))
	assert.NoError(t, ValidateID(500))
}

func TestTimeoutErrorIsChannelFailure(t *testing.T) {
	err := TimeoutError()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrChannelFailure)
	assert.ErrorIs(t, ErrChannelClosed, ErrChannelFailure)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "SPAWN_CHILD", KindSpawnChild.String())
	assert.Equal(t, "KIND(9)", Kind(9).String())
	assert.False(t, Kind(9).Valid())
	assert.Equal(t, "BROADCAST", Broadcast.String())
	assert.Equal(t, "12", NodeID(12).String())
}
