package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-arbor/internal/domain"
)

func TestEncodeIsFixedSize(t *testing.T) {
	var seq domain.Sequence
	small, err := Encode(seq.NewCommand(domain.KindPing, 1, 0, nil))
	require.NoError(t, err)
	large, err := Encode(seq.NewCommand(domain.KindRunJob, 1, 0, make([]float64, domain.MaxPayload)))
	require.NoError(t, err)

	assert.Len(t, small, FrameSize)
	assert.Len(t, large, FrameSize)
}

func TestDecodeRestoresCommand(t *testing.T) {
	var seq domain.Sequence
	cmd := seq.NewCommand(domain.KindRunJob, 12, -7, []float64{2.0, 3.5, 4.5})
	cmd = cmd.AsReply()

	b, err := Encode(cmd)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)

	assert.Equal(t, cmd, got)
}

func TestDecodeEmptyPayloadIsNil(t *testing.T) {
	b, err := Encode(domain.Command{Kind: domain.KindPing, Destination: domain.Broadcast, CorrelationID: 3})
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	assert.Nil(t, got.Payload)
	assert.Equal(t, domain.Broadcast, got.Destination)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(domain.Command{Kind: domain.KindRunJob, Payload: make([]float64, domain.MaxPayload+1)})
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	valid, err := Encode(domain.Command{Kind: domain.KindPing})
	require.NoError(t, err)

	t.Run("short", func(t *testing.T) {
		_, err := Decode(valid[:10])
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})

	t.Run("unknown kind", func(t *testing.T) {
		b := append([]byte(nil), valid...)
		binary.LittleEndian.PutUint32(b[0:4], 77)
		_, err := Decode(b)
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})

	t.Run("size overflow", func(t *testing.T) {
		b := append([]byte(nil), valid...)
		binary.LittleEndian.PutUint32(b[16:20], domain.MaxPayload+1)
		_, err := Decode(b)
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})
}
