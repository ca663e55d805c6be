// Package wire encodes commands as fixed-size little-endian frames so a
// receiver can decode any message without negotiating its length.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go-arbor/internal/domain"
)

type frame struct {
	Kind        int32
	Destination int32
	Secondary   int32
	Relay       uint8
	_           [3]byte
	Size        uint32
	Correlation uint64
	Values      [domain.MaxPayload]float64
}

// FrameSize is the byte length of every encoded command.
var FrameSize = binary.Size(frame{})

func Encode(cmd domain.Command) ([]byte, error) {
	if len(cmd.Payload) > domain.MaxPayload {
		return nil, fmt.Errorf("encode %s: %w (%d values)", cmd.Kind, domain.ErrPayloadTooLarge, len(cmd.Payload))
	}
	f := frame{
		Kind:        int32(cmd.Kind),
		Destination: int32(cmd.Destination),
		Secondary:   cmd.Secondary,
		Size:        uint32(len(cmd.Payload)),
		Correlation: cmd.CorrelationID,
	}
	if cmd.RelayMode {
		f.Relay = 1
	}
	copy(f.Values[:], cmd.Payload)

	var buf bytes.Buffer
	buf.Grow(FrameSize)
	if err := binary.Write(&buf, binary.LittleEndian, &f); err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Kind, err)
	}
	return buf.Bytes(), nil
}

func Decode(b []byte) (domain.Command, error) {
	if len(b) != FrameSize {
		return domain.Command{}, fmt.Errorf("%w: frame is %d bytes, want %d", domain.ErrProtocol, len(b), FrameSize)
	}
	var f frame
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &f); err != nil {
		return domain.Command{}, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}
	kind := domain.Kind(f.Kind)
	if !kind.Valid() {
		return domain.Command{}, fmt.Errorf("%w: unknown command kind %d", domain.ErrProtocol, f.Kind)
	}
	if f.Size > domain.MaxPayload {
		return domain.Command{}, fmt.Errorf("%w: payload size %d", domain.ErrProtocol, f.Size)
	}

	cmd := domain.Command{
		Kind:          kind,
		Destination:   domain.NodeID(f.Destination),
		Secondary:     f.Secondary,
		CorrelationID: f.Correlation,
		RelayMode:     f.Relay != 0,
	}
	if f.Size > 0 {
		cmd.Payload = append([]float64(nil), f.Values[:f.Size]...)
	}
	return cmd, nil
}
