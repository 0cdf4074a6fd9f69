// Package hostnet exposes a guard.Heap to remote peers over libp2p, acting
// as the host that provides the backing byte region to callers elsewhere
// on the network, kept entirely outside the heap's own single-threaded,
// non-blocking contract. Every request this package handles is serialized
// through the guarded heap's mutex; the heap itself never learns a network
// exists.
package hostnet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtocolID is the libp2p stream protocol this package speaks.
const ProtocolID = "/heap/1.0.0"

const (
	opAllocate   byte = 1
	opDeallocate byte = 2
)

// frameSize is the fixed wire size of a request: 1 opcode byte plus a
// 4-byte big-endian uint32 operand (size for allocate, handle for
// deallocate). No codec dependency is introduced for a protocol this
// small; raw bytes over a stream are enough for a two-field control
// message.
const frameSize = 5

// ErrBadFrame is returned when a peer sends a malformed request frame.
var ErrBadFrame = errors.New("malformed heap protocol frame")

// Request is a decoded allocate/deallocate request.
type Request struct {
	Allocate bool
	Operand  uint32 // size for allocate, handle for deallocate
}

func encodeRequest(req Request) []byte {
	buf := make([]byte, frameSize)
	if req.Allocate {
		buf[0] = opAllocate
	} else {
		buf[0] = opDeallocate
	}
	binary.BigEndian.PutUint32(buf[1:], req.Operand)
	return buf
}

func decodeRequest(data []byte) (Request, error) {
	if len(data) != frameSize {
		return Request{}, fmt.Errorf("%w: want %d bytes, got %d", ErrBadFrame, frameSize, len(data))
	}
	switch data[0] {
	case opAllocate:
		return Request{Allocate: true, Operand: binary.BigEndian.Uint32(data[1:])}, nil
	case opDeallocate:
		return Request{Allocate: false, Operand: binary.BigEndian.Uint32(data[1:])}, nil
	default:
		return Request{}, fmt.Errorf("%w: unknown opcode %d", ErrBadFrame, data[0])
	}
}

func encodeResponse(handle uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, handle)
	return buf
}

func decodeResponse(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: want 4 bytes, got %d", ErrBadFrame, len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}
