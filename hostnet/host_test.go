package hostnet

import (
	"context"
	"testing"

	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/inos-heap/heap"
	"github.com/nmxmxh/inos-heap/heap/guard"
)

func TestHostServesAllocateAndDeallocateOverMocknet(t *testing.T) {
	mn := mocknet.New()

	serverRaw, err := mn.GenPeer()
	require.NoError(t, err)
	clientRaw, err := mn.GenPeer()
	require.NoError(t, err)

	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())

	g := guard.New(4*heap.BlockSize, nil)
	serveOn(serverRaw, g, nil)

	ctx := context.Background()
	serverAddr := serverRaw.Addrs()[0].String() + "/p2p/" + serverRaw.ID().String()

	handle, err := dialWith(ctx, clientRaw, serverAddr, Request{Allocate: true, Operand: 128})
	require.NoError(t, err)
	require.NotZero(t, handle)

	stats := g.Stats()
	assert.Equal(t, 1, stats.LiveByOwner[guard.OwnerHost])

	acked, err := dialWith(ctx, clientRaw, serverAddr, Request{Allocate: false, Operand: handle})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), acked)

	stats = g.Stats()
	assert.Equal(t, 0, stats.LiveByOwner[guard.OwnerHost])
}
