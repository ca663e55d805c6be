// Package topology holds the orchestrator's view of the worker tree.
//
// Workers are arranged as an unbalanced binary search tree keyed by their
// NodeID. A new worker is attached as the left child of the first node
// whose id is greater than its own, or the right child of the first node
// whose id is smaller, exactly as every worker decides routing direction
// at runtime. Depth is whatever insertion order produces.
//
// Storage:
//
//	┌────────────────────────────────────────┐
//	│ Tree                                   │
//	├────────────────────────────────────────┤
//	│ slots: []slot   arena, index-linked    │
//	│ free:  []int    reusable slot indexes  │
//	│ index: id→slot  O(1) Contains          │
//	│ root:  slot index or none              │
//	└────────────────────────────────────────┘
//
// Nodes reference each other by slot index, never by pointer, so removing a
// subtree only returns its slots to the free list.
package topology

import (
	"fmt"
	"strings"
	"sync"

	"go-arbor/internal/domain"
)

const none = -1

type slot struct {
	id    domain.NodeID
	left  int
	right int
}

// Tree is the topology store. Thread-safe: all methods may be called
// concurrently.
type Tree struct {
	mu    sync.RWMutex
	slots []slot
	free  []int
	index map[domain.NodeID]int
	root  int
}

func New() *Tree {
	return &Tree{
		index: make(map[domain.NodeID]int),
		root:  none,
	}
}

// Place returns the id of the node that id would be attached under.
// It returns domain.NoParent when the tree is empty or already holds id.
func (t *Tree) Place(id domain.NodeID) domain.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.index[id]; ok {
		return domain.NoParent
	}
	cur := t.root
	for cur != none {
		s := t.slots[cur]
		next := s.right
		if id < s.id {
			next = s.left
		}
		if next == none {
			return s.id
		}
		cur = next
	}
	return domain.NoParent
}

// Insert attaches id at the position Place reports.
func (t *Tree) Insert(id domain.NodeID) error {
	if err := domain.ValidateID(id); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.index[id]; ok {
		return fmt.Errorf("node %d: %w", id, domain.ErrAlreadyExists)
	}
	n := t.alloc(id)
	if t.root == none {
		t.root = n
		return nil
	}
	cur := t.root
	for {
		s := &t.slots[cur]
		if id < s.id {
			if s.left == none {
				s.left = n
				return nil
			}
			cur = s.left
		} else {
			if s.right == none {
				s.right = n
				return nil
			}
			cur = s.right
		}
	}
}

func (t *Tree) Contains(id domain.NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.index[id]
	return ok
}

// Parent returns the id id hangs under, or domain.NoParent for the root.
func (t *Tree) Parent(id domain.NodeID) (domain.NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.index[id]; !ok {
		return 0, false
	}
	parent := domain.NoParent
	cur := t.root
	for t.slots[cur].id != id {
		parent = t.slots[cur].id
		if id < t.slots[cur].id {
			cur = t.slots[cur].left
		} else {
			cur = t.slots[cur].right
		}
	}
	return parent, true
}

// Remove deletes id together with its whole subtree and returns the removed
// ids in ascending order.
func (t *Tree) Remove(id domain.NodeID) ([]domain.NodeID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.index[id]; !ok {
		return nil, fmt.Errorf("node %d: %w", id, domain.ErrNotFound)
	}

	// Unlink from the parent first
	link := &t.root
	for *link != none && t.slots[*link].id != id {
		if id < t.slots[*link].id {
			link = &t.slots[*link].left
		} else {
			link = &t.slots[*link].right
		}
	}
	top := *link
	*link = none

	removed := t.inOrder(top)
	for _, rid := range removed {
		idx := t.index[rid]
		delete(t.index, rid)
		t.slots[idx] = slot{left: none, right: none}
		t.free = append(t.free, idx)
	}
	return removed, nil
}

// All returns every id in ascending (in-order) order.
func (t *Tree) All() []domain.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inOrder(t.root)
}

// Root returns the first-level worker, if any.
func (t *Tree) Root() (domain.NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root == none {
		return 0, false
	}
	return t.slots[t.root].id, true
}

func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

// Render draws the tree sideways: right subtree on top, one "--" per level.
func (t *Tree) Render() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var b strings.Builder
	var walk func(n, depth int)
	walk = func(n, depth int) {
		if n == none {
			return
		}
		s := t.slots[n]
		walk(s.right, depth+2)
		b.WriteString(strings.Repeat("-", depth))
		fmt.Fprintf(&b, "%d\n", s.id)
		walk(s.left, depth+2)
	}
	walk(t.root, 0)
	return b.String()
}

func (t *Tree) alloc(id domain.NodeID) int {
	s := slot{id: id, left: none, right: none}
	var n int
	if k := len(t.free); k > 0 {
		n = t.free[k-1]
		t.free = t.free[:k-1]
		t.slots[n] = s
	} else {
		n = len(t.slots)
		t.slots = append(t.slots, s)
	}
	t.index[id] = n
	return n
}

// inOrder walks the subtree under n without recursion.
func (t *Tree) inOrder(n int) []domain.NodeID {
	out := []domain.NodeID{}
	var stack []int
	cur := n
	for cur != none || len(stack) > 0 {
		for cur != none {
			stack = append(stack, cur)
			cur = t.slots[cur].left
		}
		cur = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, t.slots[cur].id)
		cur = t.slots[cur].right
	}
	return out
}
