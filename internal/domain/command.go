package domain

import (
	"fmt"
	"sync/atomic"
)

// NodeID names a worker in the tree. Negative values below are reserved.
type NodeID int32

const (
	Broadcast    NodeID = -1 // deliver to every node
	Orchestrator NodeID = -2 // deliver to the root
	ParentSignal NodeID = -3 // deliver to the immediate parent only (detach notice)
	NoParent     NodeID = -4 // topology placement on an empty tree
)

// MaxPayload bounds the number of values a single command can carry.
const MaxPayload = 1000

// IsReserved reports whether id is one of the out-of-band sentinels.
func (id NodeID) IsReserved() bool {
	switch id {
	case Broadcast, Orchestrator, ParentSignal, NoParent:
		return true
	}
	return false
}

func (id NodeID) String() string {
	switch id {
	case Broadcast:
		return "BROADCAST"
	case Orchestrator:
		return "ORCHESTRATOR"
	case ParentSignal:
		return "PARENT_SIGNAL"
	case NoParent:
		return "NO_PARENT"
	}
	return fmt.Sprintf("%d", int32(id))
}

// ValidateID rejects sentinel values used as real worker identifiers.
func ValidateID(id NodeID) error {
	if id.IsReserved() {
		return fmt.Errorf("%w: %d is reserved", ErrInvalidID, int32(id))
	}
	return nil
}

type Kind int32

const (
	KindError Kind = iota
	KindPing
	KindSpawnChild
	KindRemoveChild
	KindRunJob
)

func (k Kind) Valid() bool {
	return k >= KindError && k <= KindRunJob
}

func (k Kind) String() string {
	switch k {
	case KindError:
		return "ERROR"
	case KindPing:
		return "PING"
	case KindSpawnChild:
		return "SPAWN_CHILD"
	case KindRemoveChild:
		return "REMOVE_CHILD"
	case KindRunJob:
		return "RUN_JOB"
	}
	return fmt.Sprintf("KIND(%d)", int32(k))
}

// Command is the unit of communication between the orchestrator and workers.
//
// Secondary is overloaded per kind: the new worker's id (later its pid) for
// SPAWN_CHILD, the executing worker's id for a RUN_JOB reply, and the
// detaching worker's id for a PARENT_SIGNAL notice.
type Command struct {
	Kind          Kind
	Destination   NodeID
	Secondary     int32
	CorrelationID uint64
	RelayMode     bool
	Payload       []float64
}

// Sequence hands out correlation ids. The zero value is ready to use and
// wraps on overflow.
type Sequence struct {
	next atomic.Uint64
}

// NewCommand builds a request record with a fresh correlation id.
func (s *Sequence) NewCommand(kind Kind, destination NodeID, secondary int32, payload []float64) Command {
	var values []float64
	if len(payload) > 0 {
		values = append(values, payload...)
	}
	return Command{
		Kind:          kind,
		Destination:   destination,
		Secondary:     secondary,
		CorrelationID: s.next.Add(1),
		Payload:       values,
	}
}

// AsReply returns a copy flagged as already past the routing phase.
func (c Command) AsReply() Command {
	r := c.clone()
	r.RelayMode = true
	return r
}

// AsRequest returns a copy that is routed hop by hop again.
func (c Command) AsRequest() Command {
	r := c.clone()
	r.RelayMode = false
	return r
}

// ErrorReply answers c with an ERROR record carrying the same correlation id.
func (c Command) ErrorReply() Command {
	return Command{
		Kind:          KindError,
		Destination:   Orchestrator,
		Secondary:     c.Secondary,
		CorrelationID: c.CorrelationID,
		RelayMode:     true,
	}
}

// DetachNotice is what a directly removed node tells its parent.
func (c Command) DetachNotice(self NodeID) Command {
	r := c.AsReply()
	r.Destination = ParentSignal
	r.Secondary = int32(self)
	return r
}

// Answers reports whether c is a reply to req.
func (c Command) Answers(req Command) bool {
	return c.CorrelationID == req.CorrelationID
}

// Matches compares the fields that identify a reply shape.
func (c Command) Matches(expected Command) bool {
	return c.Kind == expected.Kind &&
		c.Destination == expected.Destination &&
		c.Secondary == expected.Secondary &&
		c.CorrelationID == expected.CorrelationID
}

// IsDetachNotice reports whether c is a child's PARENT_SIGNAL removal notice.
func (c Command) IsDetachNotice() bool {
	return c.Kind == KindRemoveChild && c.Destination == ParentSignal
}

func (c Command) clone() Command {
	r := c
	if c.Payload != nil {
		r.Payload = append([]float64(nil), c.Payload...)
	}
	return r
}

func (c Command) String() string {
	return fmt.Sprintf("%s{to=%s secondary=%d corr=%d relay=%t n=%d}",
		c.Kind, c.Destination, c.Secondary, c.CorrelationID, c.RelayMode, len(c.Payload))
}
