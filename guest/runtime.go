// Package guest bridges heap.Heap's offset bookkeeping to an actual
// wasmer-go instance's linear memory. The heap itself never touches a
// byte of guest memory; Runtime is the one piece of this module that
// does, and only through the guest's own exported memory.
package guest

import (
	"errors"
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/nmxmxh/inos-heap/heap/guard"
	"github.com/nmxmxh/inos-heap/internal/logging"
)

// ErrOOM is returned when the guest's linear-memory heap cannot satisfy
// an input allocation.
var ErrOOM = errors.New("guest heap out of memory")

// ErrNoMemoryExport is returned when the compiled module does not
// export a memory named "memory".
var ErrNoMemoryExport = errors.New("module does not export \"memory\"")

// ErrNoMainExport is returned when the compiled module does not export
// a "main" function.
var ErrNoMainExport = errors.New("module does not export \"main\"")

// Runtime executes WASM modules against a heap-tracked guest linear
// memory region. A Runtime is reusable across Call invocations.
type Runtime struct {
	h   *guard.Heap
	log *logging.Logger
}

// New constructs a Runtime whose guest memory region is tracked by a
// heap sized to memoryBudget bytes.
func New(memoryBudget uint32, log *logging.Logger) *Runtime {
	return &Runtime{h: guard.New(memoryBudget, log), log: log}
}

// Call compiles and instantiates wasmBytes, writes input into the
// instance's linear memory at a heap-tracked offset, invokes its
// exported main(ptr, len) -> i64 function, and returns the bytes it
// wrote back.
//
// main takes two arguments and returns one i64 that packs the output
// (ptr, len) pair, ptr in the low 32 bits and len in the high 32 bits:
// the host picks the input offset (via the heap) and passes it in; the
// guest picks the output offset (typically by bump-allocating within
// its own memory) and returns it.
func (r *Runtime) Call(wasmBytes, input []byte) ([]byte, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile guest module: %w", err)
	}

	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, fmt.Errorf("instantiate guest module: %w", err)
	}

	memory, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, ErrNoMemoryExport
	}

	mainFunc, err := instance.Exports.GetFunction("main")
	if err != nil {
		return nil, ErrNoMainExport
	}

	handle, err := r.h.Allocate(guard.OwnerGuest, uint32(len(input)))
	if err != nil {
		return nil, fmt.Errorf("allocate guest input region: %w", err)
	}
	if handle == 0 {
		return nil, ErrOOM
	}
	defer r.h.Deallocate(guard.OwnerGuest, handle)

	inputOffset := handle - 1
	data := memory.Data()
	if int(inputOffset)+len(input) > len(data) {
		return nil, fmt.Errorf("guest memory too small for input at offset %d", inputOffset)
	}
	copy(data[inputOffset:], input)

	result, err := mainFunc(int32(inputOffset), int32(len(input)))
	if err != nil {
		return nil, fmt.Errorf("call guest main: %w", err)
	}

	return readResult(memory, result)
}

// readResult decodes main's (ptr, len) packed i64 return value (ptr in
// the low 32 bits, len in the high 32 bits) and copies the bytes it
// names out of guest memory before the instance is torn down.
func readResult(memory *wasmer.Memory, result interface{}) ([]byte, error) {
	packed, ok := result.(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected main return type %T", result)
	}

	ptr, length := unpackPtrLen(packed)
	return copyRegion(memory.Data(), ptr, length)
}

// unpackPtrLen splits a packed i64 (ptr, len) pair: ptr in the low 32
// bits, len in the high 32 bits.
func unpackPtrLen(packed int64) (ptr, length uint32) {
	return uint32(packed & 0xffffffff), uint32(packed >> 32)
}

// packPtrLen packs a (ptr, len) pair the way unpackPtrLen expects to
// split it. Exposed for tests that simulate a guest's return value.
func packPtrLen(ptr, length uint32) int64 {
	return int64(ptr) | int64(length)<<32
}

// copyRegion copies length bytes starting at ptr out of data, failing
// if the region falls outside data's bounds.
func copyRegion(data []byte, ptr, length uint32) ([]byte, error) {
	if int(ptr)+int(length) > len(data) {
		return nil, fmt.Errorf("guest result out of bounds: ptr=%d len=%d", ptr, length)
	}
	out := make([]byte, length)
	copy(out, data[ptr:ptr+length])
	return out, nil
}
