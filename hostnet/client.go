package hostnet

import (
	"context"
	"fmt"
	"io"

	libp2p "github.com/libp2p/go-libp2p"
	libp2pHost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Dial connects to a remote heap-hosting peer at addr (a full
// /p2p-addr multiaddr) and issues a single allocate or deallocate
// request, returning the handle the remote heap reports.
func Dial(ctx context.Context, addr string, req Request) (uint32, error) {
	host, err := libp2p.New()
	if err != nil {
		return 0, fmt.Errorf("start dialing host: %w", err)
	}
	defer host.Close()

	return dialWith(ctx, host, addr, req)
}

// dialWith issues req over an already-constructed libp2p host, letting
// callers (and tests) reuse a host across multiple dials.
func dialWith(ctx context.Context, host libp2pHost.Host, addr string, req Request) (uint32, error) {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return 0, fmt.Errorf("parse multiaddr: %w", err)
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return 0, fmt.Errorf("resolve peer address: %w", err)
	}

	if err := host.Connect(ctx, *info); err != nil {
		return 0, fmt.Errorf("connect to peer: %w", err)
	}

	stream, err := host.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return 0, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	if _, err := stream.Write(encodeRequest(req)); err != nil {
		return 0, fmt.Errorf("write request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return 0, fmt.Errorf("close write side: %w", err)
	}

	data, err := io.ReadAll(stream)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	return decodeResponse(data)
}
