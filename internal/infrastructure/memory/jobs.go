package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"go-arbor/internal/core/ports"
	"go-arbor/internal/domain"
)

const defaultJobCapacity = 1024

// JobLedger keeps the most recent job records in memory. It serves as the
// job history when no database is configured.
type JobLedger struct {
	mu       sync.RWMutex
	records  []domain.JobRecord // oldest first
	capacity int
}

var _ ports.JobRepository = (*JobLedger)(nil)

func NewJobLedger(capacity int) *JobLedger {
	if capacity <= 0 {
		capacity = defaultJobCapacity
	}
	return &JobLedger{capacity: capacity}
}

func (l *JobLedger) Create(ctx context.Context, record *domain.JobRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, *record)
	if over := len(l.records) - l.capacity; over > 0 {
		l.records = append(l.records[:0:0], l.records[over:]...)
	}
	return nil
}

func (l *JobLedger) ListRecent(ctx context.Context, limit int) ([]domain.JobRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.records) {
		limit = len(l.records)
	}
	out := make([]domain.JobRecord, 0, limit)
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.records[i])
	}
	return out, nil
}

func (l *JobLedger) FindByID(ctx context.Context, id uuid.UUID) (*domain.JobRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := range l.records {
		if l.records[i].ID == id {
			r := l.records[i]
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
}
