package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go-arbor/internal/core/ports"
	"go-arbor/internal/domain"
	"go-arbor/internal/wire"

	"github.com/redis/go-redis/v9"
)

const (
	defaultJoinWait = 500 * time.Millisecond
	joinPoll        = 10 * time.Millisecond
)

// Fabric maps every tree address onto a Redis Pub/Sub channel of the same name.
//
// Redis drops messages published to a channel nobody listens on. A worker
// process that was just started may not have subscribed yet, so a publish
// that reaches zero receivers is retried for up to the join wait before it
// is given up as delivered to nobody.
type Fabric struct {
	client   *redis.Client
	joinWait time.Duration
}

func NewFabric(client *redis.Client) *Fabric {
	return &Fabric{client: client, joinWait: defaultJoinWait}
}

// SetJoinWait bounds how long a publish waits for a first subscriber. Zero
// publishes once.
func (f *Fabric) SetJoinWait(d time.Duration) {
	f.joinWait = d
}

var _ ports.Fabric = (*Fabric)(nil)

func (f *Fabric) Bind(ctx context.Context, address string) (ports.Publisher, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", domain.ErrChannelFailure)
	}
	return &publisher{client: f.client, address: address, joinWait: f.joinWait}, nil
}

// Connect subscribes and waits for Redis to confirm the subscription, so
// frames published after Connect returns are never missed.
func (f *Fabric) Connect(ctx context.Context, address string) (ports.Subscriber, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", domain.ErrChannelFailure)
	}
	pubsub := f.client.Subscribe(ctx, address)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", domain.ErrChannelFailure, address, err)
	}
	return &subscriber{pubsub: pubsub, address: address}, nil
}

// Close releases the shared client; every endpoint fails afterwards.
func (f *Fabric) Close() error {
	return f.client.Close()
}

type publisher struct {
	client   *redis.Client
	address  string
	joinWait time.Duration
	closed   atomic.Bool
}

func (p *publisher) Address() string { return p.address }

// Publish broadcasts the frame to the network
func (p *publisher) Publish(ctx context.Context, cmd domain.Command) error {
	if p.closed.Load() {
		return domain.ErrChannelClosed
	}
	frame, err := wire.Encode(cmd)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(p.joinWait)
	for {
		receivers, err := p.client.Publish(ctx, p.address, frame).Result()
		if err != nil {
			return fmt.Errorf("%w: publish %s: %v", domain.ErrChannelFailure, p.address, err)
		}
		if receivers > 0 || !time.Now().Before(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(joinPoll):
		}
	}
}

func (p *publisher) Close() error {
	p.closed.Store(true)
	return nil
}

type subscriber struct {
	pubsub  *redis.PubSub
	address string

	mu      sync.Mutex
	timeout time.Duration
	closed  atomic.Bool
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

	for {
		if s.closed.Load() {
			return domain.Command{}, domain.ErrChannelClosed
		}
		msg, err := s.pubsub.ReceiveTimeout(ctx, timeout)
		if err != nil {
			switch {
			case s.closed.Load() || errors.Is(err, redis.ErrClosed):
				return domain.Command{}, domain.ErrChannelClosed
			case isTimeout(err):
				return domain.Command{}, domain.TimeoutError()
			case errors.Is(err, context.Canceled):
				return domain.Command{}, err
			}
			return domain.Command{}, fmt.Errorf("%w: receive %s: %v", domain.ErrChannelFailure, s.address, err)
		}

		switch m := msg.(type) {
		case *redis.Message:
			return wire.Decode([]byte(m.Payload))
		case *redis.Subscription, *redis.Pong:
			// Control frames, keep waiting
		default:
			return domain.Command{}, fmt.Errorf("%w: unexpected pubsub frame %T", domain.ErrProtocol, msg)
		}
	}
}

func (s *subscriber) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.pubsub.Close()
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}
