package heap

import "math/bits"

// BlockSize is the fixed leaf-block granularity the heap tracks, in bytes.
const BlockSize uint32 = 8192

// blocksNeeded rounds a byte size up to a whole number of blocks.
func blocksNeeded(size uint32) uint32 {
	return (size + BlockSize - 1) / BlockSize
}

// levelOf returns the smallest k such that 2^k >= n, with levelOf(0) == 0.
// Both the allocation path and the release path must use this single
// definition (ceil(log2(max(n,1)))); using a floor variant on one side
// and a ceil variant on the other desyncs level arithmetic between
// allocate and free.
func levelOf(n uint32) uint32 {
	if n <= 1 {
		return 0
	}
	return uint32(bits.Len32(n - 1))
}
