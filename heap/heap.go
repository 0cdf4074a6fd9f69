// Package heap implements a buddy-allocation bookkeeper for a linear,
// externally-owned byte region such as a sandboxed guest's WASM linear
// memory. It tracks which fixed-size leaf blocks are handed out and
// returns byte offsets into that region; it never reads or writes a
// single byte of the region itself.
//
// Heap is single-threaded and non-blocking: every method runs to
// completion in bounded time and none may be called concurrently from
// multiple goroutines. Callers that need concurrent access should wrap
// a Heap in heap/guard.Heap, which adds a single mutex around the whole
// heap plus per-handle owner bookkeeping.
package heap

import (
	"math/bits"

	"github.com/nmxmxh/inos-heap/internal/logging"
)

// Heap is a buddy-allocation bookkeeper over reservedBytes of external
// memory, addressed in BlockSize-byte leaves.
type Heap struct {
	nodes     []nodeState
	levels    uint32
	live      map[uint32]uint32 // byte offset -> original requested size
	totalSize uint32
	log       *logging.Logger
}

// New constructs a Heap over reserved bytes of externally-owned memory.
// Construction never fails: a heap with fewer than BlockSize reserved
// bytes is legal but refuses every allocation.
func New(reserved uint32) *Heap {
	return NewWithLogger(reserved, nil)
}

// NewWithLogger is New with an observability hook for the corruption
// channel described in the package's error-handling design (an internal
// index computed out of range during release). log may be nil.
func NewWithLogger(reserved uint32, log *logging.Logger) *Heap {
	leaves := reserved / BlockSize
	levels := treeLevels(leaves)
	nodeCount := (1 << (levels + 1)) - 1

	return &Heap{
		nodes:  make([]nodeState, nodeCount),
		levels: levels,
		live:   make(map[uint32]uint32),
		log:    log,
	}
}

// treeLevels returns floor(log2(round-down-to-power-of-two(leaves))),
// or 0 if leaves == 0.
func treeLevels(leaves uint32) uint32 {
	if leaves == 0 {
		return 0
	}
	return uint32(bits.Len32(leaves)) - 1
}

// Levels returns the depth of the tree (0 = a single-node, single-block
// heap). Observability only.
func (h *Heap) Levels() uint32 { return h.levels }

// TotalSize returns the sum of original requested sizes (not rounded to
// block granularity) of currently-live allocations. Maintained purely
// for introspection; it is never consulted by any invariant.
func (h *Heap) TotalSize() uint32 { return h.totalSize }

// Allocate reserves a power-of-two-blocks region able to hold size
// bytes and returns a handle: byte_offset + 1. Returns 0 on failure
// (request too large for the heap, or current fragmentation cannot
// satisfy it) without mutating any state.
func (h *Heap) Allocate(size uint32) uint32 {
	needed := blocksNeeded(size)
	index, ok := h.allocateBlockInTree(needed)
	if !ok {
		if h.log != nil {
			h.log.Debug("heap too small for request", logging.Uint32("size", size))
		}
		return 0
	}

	currentLevel := levelOf(needed)
	byteOffset := h.blockOffset(index, currentLevel) * BlockSize

	h.live[byteOffset] = size
	h.totalSize += size

	if h.log != nil {
		h.log.Debug("heap size after allocation", logging.Uint32("total", h.totalSize))
	}

	return byteOffset + 1
}

// Deallocate releases a handle previously returned by Allocate. An
// unknown handle is a no-op: this tolerates double-free and stray
// releases without disturbing the heap.
func (h *Heap) Deallocate(handle uint32) {
	if handle == 0 {
		return
	}
	byteOffset := handle - 1

	size, ok := h.live[byteOffset]
	if !ok {
		return
	}

	blocks := blocksNeeded(size)
	releaseLevel := levelOf(blocks)
	index := h.treeIndex(byteOffset, releaseLevel)

	if index < 0 || index >= len(h.nodes) {
		if h.log != nil {
			h.log.Error("internal index out of range during release",
				logging.Uint32("handle", handle), logging.Int("index", index))
		}
		delete(h.live, byteOffset)
		h.totalSize = saturatingSub(h.totalSize, size)
		return
	}

	h.freeAndMerge(index)
	if index != 0 {
		h.updateParentNodes(parentIndex(index))
	}

	delete(h.live, byteOffset)
	h.totalSize = saturatingSub(h.totalSize, size)

	if h.log != nil {
		h.log.Debug("heap size after deallocation", logging.Uint32("total", h.totalSize))
	}
}

func saturatingSub(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}

// allocateBlockInTree performs the descent-with-buddy-scan-and-backtrack
// search described by the data model. It is read-only until a
// target-level Free node is found: no tree node is written until the
// instant the claim is committed, so a failing search leaves the tree
// byte-for-byte identical to its pre-call state.
func (h *Heap) allocateBlockInTree(blocks uint32) (int, bool) {
	targetLevel := levelOf(blocks)
	if targetLevel > h.levels {
		return 0, false
	}

	index := 0
	currentLevel := h.levels

	for {
		atTarget := currentLevel == targetLevel
		matched := false

		if atTarget {
			if h.nodes[index] == stateFree {
				matched = true
			}
		} else {
			switch h.nodes[index] {
			case stateFree, stateSplit:
				index = leftChild(index)
				currentLevel--
				continue
			case stateFull:
				if hasRightBuddy(index) {
					index++
					continue
				}
			}
		}

		if matched {
			h.nodes[index] = stateFull
			if index != 0 {
				h.updateParentNodes(parentIndex(index))
			}
			return index, true
		}

		if hasRightBuddy(index) {
			index++
			continue
		}

		// Backtrack: ascend until a node with a right buddy is found,
		// then step sideways into it. Reaching the root is failure.
		for {
			if index == 0 {
				return 0, false
			}
			index = parentIndex(index)
			currentLevel++
			if hasRightBuddy(index) {
				index++
				break
			}
		}
	}
}

// blockOffset converts a tree index at a given level into a leaf-block
// index within the heap's usable region.
func (h *Heap) blockOffset(index int, level uint32) uint32 {
	levelBase := (uint32(1) << (h.levels - level)) - 1
	levelOffset := uint32(index) - levelBase
	return levelOffset << level
}

// treeIndex is the inverse of blockOffset: given a byte offset and the
// level at which it was originally allocated, compute the tree index of
// the Full node that represents it.
func (h *Heap) treeIndex(byteOffset uint32, level uint32) int {
	levelBase := (uint32(1) << (h.levels - level)) - 1
	levelOffset := (byteOffset / BlockSize) >> level
	return int(levelBase + levelOffset)
}

// freeAndMerge marks index Free and recursively promotes the merge
// upward while the node's buddy is also Free, expressed iteratively so
// stack depth never couples to tree depth.
func (h *Heap) freeAndMerge(index int) {
	for {
		h.nodes[index] = stateFree
		if index == 0 {
			return
		}

		var buddy int
		if hasRightBuddy(index) {
			buddy = index + 1
		} else {
			buddy = index - 1
		}

		if h.nodes[buddy] != stateFree {
			return
		}
		index = parentIndex(index)
	}
}

// updateParentNodes recomputes a node's state from its two children and
// walks up to the root, iteratively.
func (h *Heap) updateParentNodes(index int) {
	for {
		left := h.nodes[leftChild(index)]
		right := h.nodes[rightChild(index)]

		switch {
		case left == stateFree && right == stateFree:
			h.nodes[index] = stateFree
		case left == stateFull && right == stateFull:
			h.nodes[index] = stateFull
		default:
			h.nodes[index] = stateSplit
		}

		if index == 0 {
			return
		}
		index = parentIndex(index)
	}
}
