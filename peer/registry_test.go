package peer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQuotaNeverExceedsAllowed(t *testing.T) {
	r := &Record{AllowedIn: 100}
	require.True(t, r.TryReserve(60))
	require.True(t, r.TryReserve(40))
	require.False(t, r.TryReserve(1))
	require.EqualValues(t, 100, r.UsedIn())

	r.Release(40)
	require.True(t, r.TryReserve(40))
}

func TestRegistryAddGetRemove(t *testing.T) {
	reg := NewRegistry()
	nodeID := [16]byte{1, 2, 3}
	reg.Add(&Record{NodeID: nodeID, Name: "alice"})

	rec, ok := reg.Get(nodeID)
	require.True(t, ok)
	require.Equal(t, "alice", rec.Name)

	byName, ok := reg.ByName("alice")
	require.True(t, ok)
	require.Equal(t, nodeID, byName.NodeID)

	removed, ok := reg.Remove(nodeID)
	require.True(t, ok)
	require.Equal(t, "alice", removed.Name)

	_, ok = reg.Get(nodeID)
	require.False(t, ok)
}

func TestRequestBlockResolves(t *testing.T) {
	reg := NewRegistry()
	go func() {
		time.Sleep(5 * time.Millisecond)
		reg.ResolveBlockRequest(42, []byte("payload"))
	}()

	data, err := reg.RequestBlock(context.Background(), 42, func() error { return nil })
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

func TestRequestBlockTimesOut(t *testing.T) {
	reg := NewRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := reg.RequestBlock(ctx, 99, func() error { return nil })
	require.Error(t, err)
}

func TestBroadcastKeyFirstReplyWins(t *testing.T) {
	reg := NewRegistry()
	go func() {
		time.Sleep(2 * time.Millisecond)
		reg.ResolveKeyLookup("k", []byte("v1"))
		reg.ResolveKeyLookup("k", []byte("v2")) // should be a no-op, waiter already gone
	}()

	data, err := reg.BroadcastKey(context.Background(), "k", func() error { return nil })
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), data)
}
