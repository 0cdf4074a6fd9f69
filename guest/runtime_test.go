package guest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/inos-heap/heap/guard"
)

func TestPackUnpackPtrLenRoundTrip(t *testing.T) {
	ptr, length := unpackPtrLen(packPtrLen(4096, 128))
	assert.Equal(t, uint32(4096), ptr)
	assert.Equal(t, uint32(128), length)
}

func TestCopyRegionWithinBounds(t *testing.T) {
	data := make([]byte, 64)
	copy(data[10:], []byte("hello"))

	out, err := copyRegion(data, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
}

func TestCopyRegionOutOfBoundsFails(t *testing.T) {
	data := make([]byte, 64)
	_, err := copyRegion(data, 60, 16)
	assert.Error(t, err)
}

func TestNewRuntimeSizesGuestHeap(t *testing.T) {
	r := New(4*8192, nil)
	require.NotNil(t, r.h)

	handle, err := r.h.Allocate(guard.OwnerGuest, 100)
	require.NoError(t, err)
	assert.NotZero(t, handle)
}
