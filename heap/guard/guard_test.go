package guard

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/inos-heap/heap"
)

func TestAllocateTracksOwner(t *testing.T) {
	g := New(4*heap.BlockSize, nil)

	handle, err := g.Allocate(OwnerGuest, 128)
	require.NoError(t, err)
	require.NotZero(t, handle)

	stats := g.Stats()
	assert.Equal(t, 1, stats.LiveByOwner[OwnerGuest])
}

func TestDeallocateByWrongOwnerIsRejected(t *testing.T) {
	g := New(4*heap.BlockSize, nil)

	handle, err := g.Allocate(OwnerGuest, 128)
	require.NoError(t, err)

	err = g.Deallocate(OwnerHost, handle)
	assert.ErrorIs(t, err, ErrNotOwner)

	// Unchanged: the original owner can still free it.
	err = g.Deallocate(OwnerGuest, handle)
	assert.NoError(t, err)
}

func TestDeallocateUnknownHandleIsNoop(t *testing.T) {
	g := New(4*heap.BlockSize, nil)
	assert.NoError(t, g.Deallocate(OwnerKernel, 12345))
}

func TestConcurrentAllocateDoesNotRace(t *testing.T) {
	g := New(64*heap.BlockSize, nil)

	var wg sync.WaitGroup
	handles := make(chan uint32, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := g.Allocate(OwnerKernel, 128)
			assert.NoError(t, err)
			handles <- h
		}()
	}
	wg.Wait()
	close(handles)

	seen := make(map[uint32]bool)
	for h := range handles {
		require.NotZero(t, h)
		assert.False(t, seen[h], "duplicate handle %d", h)
		seen[h] = true
	}
}
