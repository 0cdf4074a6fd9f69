// Package guard wraps heap.Heap with a single mutex: the coupling between
// descent, buddy scan and ancestor propagation makes finer-grained
// locking not worth the complexity here. It also adds minimal ownership
// bookkeeping so a handle can only be freed by the kind of caller that
// allocated it.
package guard

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nmxmxh/inos-heap/heap"
	"github.com/nmxmxh/inos-heap/internal/logging"
)

// Owner identifies which external collaborator requested a handle.
type Owner uint8

const (
	OwnerKernel Owner = 1 << iota
	OwnerGuest
	OwnerHost
)

func (o Owner) String() string {
	switch o {
	case OwnerKernel:
		return "kernel"
	case OwnerGuest:
		return "guest"
	case OwnerHost:
		return "host"
	default:
		return "unknown"
	}
}

// ErrNotOwner is returned when a caller tries to free a handle it did
// not allocate.
var ErrNotOwner = errors.New("handle not owned by this caller")

// Heap is a mutex-guarded heap.Heap with per-handle owner tracking.
type Heap struct {
	mu     sync.Mutex
	h      *heap.Heap
	owners map[uint32]Owner
	log    *logging.Logger
}

// New constructs a guarded heap over reservedBytes.
func New(reservedBytes uint32, log *logging.Logger) *Heap {
	return &Heap{
		h:      heap.NewWithLogger(reservedBytes, log),
		owners: make(map[uint32]Owner),
		log:    log,
	}
}

// Allocate requests size bytes on owner's behalf. Returns 0, nil on
// ordinary capacity exhaustion (per heap.Heap's contract); a non-nil
// error is only ever a caller-usage problem, never a capacity failure.
func (g *Heap) Allocate(owner Owner, size uint32) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	handle := g.h.Allocate(size)
	if handle != 0 {
		g.owners[handle] = owner
	}
	return handle, nil
}

// Deallocate releases handle on owner's behalf. An unknown handle is
// still a silent no-op, matching heap.Heap's contract; a handle that
// exists but belongs to a different owner is rejected instead of
// silently freed out from under its allocator.
func (g *Heap) Deallocate(owner Owner, handle uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if actual, live := g.owners[handle]; live {
		if actual != owner {
			return fmt.Errorf("deallocate handle %d as %s: %w", handle, owner, ErrNotOwner)
		}
		delete(g.owners, handle)
	}

	g.h.Deallocate(handle)
	return nil
}

// Stats is a point-in-time snapshot of the guarded heap, for
// introspection only.
type Stats struct {
	TotalSize   uint32
	Levels      uint32
	LiveByOwner map[Owner]int
}

// Stats returns a snapshot of the guarded heap's current state.
func (g *Heap) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	byOwner := make(map[Owner]int)
	for _, o := range g.owners {
		byOwner[o]++
	}

	return Stats{
		TotalSize:   g.h.TotalSize(),
		Levels:      g.h.Levels(),
		LiveByOwner: byOwner,
	}
}
