package hostnet

import (
	"fmt"
	"io"

	libp2p "github.com/libp2p/go-libp2p"
	libp2pHost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"

	"github.com/nmxmxh/inos-heap/heap/guard"
	"github.com/nmxmxh/inos-heap/internal/logging"
)

// Host serves a guard.Heap's allocate/deallocate operations to remote
// peers over a libp2p stream.
type Host struct {
	libp2pHost.Host
	heap *guard.Heap
	log  *logging.Logger
}

// Serve starts a libp2p host bound to the given heap and registers the
// heap protocol's stream handler. It does not block: the caller chooses
// how to keep the process alive.
func Serve(h *guard.Heap, log *logging.Logger) (*Host, error) {
	priv, err := loadOrCreateKey()
	if err != nil {
		return nil, fmt.Errorf("load or create node key: %w", err)
	}

	raw, err := libp2p.New(libp2p.Identity(priv))
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}

	return serveOn(raw, h, log), nil
}

// serveOn registers the heap protocol's stream handler on an
// already-constructed libp2p host. Split out from Serve so tests can
// serve on a mocknet-generated host instead of a real one.
func serveOn(raw libp2pHost.Host, h *guard.Heap, log *logging.Logger) *Host {
	host := &Host{Host: raw, heap: h, log: log}
	raw.SetStreamHandler(ProtocolID, host.handleStream)

	if log != nil {
		log.Info("hostnet serving", logging.String("peer_id", raw.ID().String()))
	}

	return host
}

func (host *Host) handleStream(s network.Stream) {
	defer s.Close()

	data, err := io.ReadAll(s)
	if err != nil {
		if host.log != nil {
			host.log.Warn("hostnet read failed", logging.Err(err))
		}
		return
	}

	req, err := decodeRequest(data)
	if err != nil {
		if host.log != nil {
			host.log.Warn("hostnet bad frame", logging.Err(err))
		}
		return
	}

	var handle uint32
	if req.Allocate {
		handle, err = host.heap.Allocate(guard.OwnerHost, req.Operand)
		if err != nil && host.log != nil {
			host.log.Error("hostnet allocate failed", logging.Err(err))
		}
	} else {
		err = host.heap.Deallocate(guard.OwnerHost, req.Operand)
		if err != nil && host.log != nil {
			host.log.Warn("hostnet deallocate rejected", logging.Err(err))
		}
		handle = 0
	}

	s.Write(encodeResponse(handle))
}
