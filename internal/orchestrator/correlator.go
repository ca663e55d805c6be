package orchestrator

import (
	"sync"

	"go-arbor/internal/domain"
)

// correlator hands each reply to the caller waiting on its correlation id.
// Replies nobody waits for are dropped.
type correlator struct {
	mu      sync.Mutex
	waiting map[uint64]chan domain.Command
}

func newCorrelator() *correlator {
	return &correlator{waiting: make(map[uint64]chan domain.Command)}
}

// expect registers interest in corr. The returned release must be called
// once the caller stops waiting.
func (c *correlator) expect(corr uint64) (<-chan domain.Command, func()) {
	ch := make(chan domain.Command, 1)
	c.mu.Lock()
	c.waiting[corr] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		if c.waiting[corr] == ch {
			delete(c.waiting, corr)
		}
		c.mu.Unlock()
	}
}

func (c *correlator) deliver(reply domain.Command) bool {
	c.mu.Lock()
	ch, ok := c.waiting[reply.CorrelationID]
	if ok {
		delete(c.waiting, reply.CorrelationID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- reply
	return true
}

func (c *correlator) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiting)
}
