// Package memory is an in-process pub/sub fabric. Frames are encoded with
// the same codec as the network transport, so records never share memory
// between endpoints.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-arbor/internal/core/ports"
	"go-arbor/internal/domain"
	"go-arbor/internal/wire"
)

const defaultBufferSize = 64

// Fabric routes frames published at an address to every subscriber
// connected to that address. A full subscriber buffer drops the frame,
// matching the best-effort delivery of the network transport.
type Fabric struct {
	mu         sync.RWMutex
	topics     map[string]map[*subscriber]struct{}
	bound      map[string]bool
	bufferSize int
	closed     bool
}

func NewFabric(bufferSize int) *Fabric {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Fabric{
		topics:     make(map[string]map[*subscriber]struct{}),
		bound:      make(map[string]bool),
		bufferSize: bufferSize,
	}
}

var _ ports.Fabric = (*Fabric)(nil)

func (f *Fabric) Bind(ctx context.Context, address string) (ports.Publisher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, domain.ErrChannelClosed
	}
	if f.bound[address] {
		return nil, fmt.Errorf("%w: address %s already bound", domain.ErrChannelFailure, address)
	}
	f.bound[address] = true
	return &publisher{fabric: f, address: address}, nil
}

func (f *Fabric) Connect(ctx context.Context, address string) (ports.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, domain.ErrChannelClosed
	}
	s := &subscriber{
		fabric:  f,
		address: address,
		ch:      make(chan []byte, f.bufferSize),
		done:    make(chan struct{}),
	}
	subs, ok := f.topics[address]
	if !ok {
		subs = make(map[*subscriber]struct{})
		f.topics[address] = subs
	}
	subs[s] = struct{}{}
	return s, nil
}

// Close detaches every subscriber. Endpoints report ErrChannelClosed afterwards.
func (f *Fabric) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	for address, subs := range f.topics {
		for s := range subs {
			s.shut()
		}
		delete(f.topics, address)
	}
	return nil
}

// Subscribers returns how many endpoints are connected to address.
func (f *Fabric) Subscribers(address string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.topics[address])
}

func (f *Fabric) deliver(address string, frame []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return domain.ErrChannelClosed
	}
	for s := range f.topics[address] {
		select {
		case s.ch <- frame:
		default:
			// Subscriber buffer full, drop
		}
	}
	return nil
}

func (f *Fabric) unbind(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bound, address)
}

func (f *Fabric) disconnect(s *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if subs, ok := f.topics[s.address]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(f.topics, s.address)
		}
	}
	s.shut()
}

type publisher struct {
	fabric  *Fabric
	address string

	mu     sync.Mutex
	closed bool
}

func (p *publisher) Address() string { return p.address }

func (p *publisher) Publish(ctx context.Context, cmd domain.Command) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return domain.ErrChannelClosed
	}

	frame, err := wire.Encode(cmd)
	if err != nil {
		return err
	}
	return p.fabric.deliver(p.address, frame)
}

func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.fabric.unbind(p.address)
	return nil
}

type subscriber struct {
	fabric  *Fabric
	address string
	ch      chan []byte
	done    chan struct{}

	mu       sync.Mutex
	timeout  time.Duration
	shutOnce sync.Once
}

func (s *subscriber) Address() string { return s.address }

func (s *subscriber) SetReceiveTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

func (s *subscriber) Receive(ctx context.Context) (domain.Command, error) {
	s.mu.Lock()
	timeout := s.timeout
	s.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case frame := <-s.ch:
		return wire.Decode(frame)
	case <-s.done:
		return domain.Command{}, domain.ErrChannelClosed
	case <-expired:
		return domain.Command{}, domain.TimeoutError()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Command{}, domain.TimeoutError()
		}
		return domain.Command{}, ctx.Err()
	}
}

func (s *subscriber) Close() error {
	s.fabric.disconnect(s)
	return nil
}

func (s *subscriber) shut() {
	s.shutOnce.Do(func() { close(s.done) })
}
