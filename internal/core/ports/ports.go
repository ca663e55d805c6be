package ports

import (
	"context"
	"time"

	"go-arbor/internal/domain"

	"github.com/google/uuid"
)

// Publisher is a one-to-many endpoint bound at an address.
type Publisher interface {
	Address() string

	// Fire and forget: delivered to whoever is subscribed right now
	Publish(ctx context.Context, cmd domain.Command) error

	Close() error
}

// Subscriber is connected to exactly one publisher address.
type Subscriber interface {
	Address() string

	// Block until the next command arrives, the receive timeout elapses
	// (domain.ErrTimeout) or the subscriber is closed (domain.ErrChannelClosed)
	Receive(ctx context.Context) (domain.Command, error)

	// Zero disables the bound
	SetReceiveTimeout(d time.Duration)

	Close() error
}

// Fabric creates endpoints on a shared messaging context.
type Fabric interface {
	Bind(ctx context.Context, address string) (Publisher, error)
	Connect(ctx context.Context, address string) (Subscriber, error)
	Close() error
}

// Spawner starts a new worker process connected to connectAddr and returns
// its process id.
type Spawner interface {
	Spawn(ctx context.Context, id domain.NodeID, connectAddr string) (int, error)
}

// JobRepository represents the job history ledger
type JobRepository interface {
	Create(ctx context.Context, record *domain.JobRecord) error

	// Newest first
	ListRecent(ctx context.Context, limit int) ([]domain.JobRecord, error)

	FindByID(ctx context.Context, id uuid.UUID) (*domain.JobRecord, error)
}
