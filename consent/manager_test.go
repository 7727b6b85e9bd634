package consent

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestAndResolveApproved(t *testing.T) {
	m := NewManager(time.Second)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	m.Request("s1", pub, "alice", 1024, 4096)

	resultCh := make(chan Decision, 1)
	go func() {
		resultCh <- m.Wait(context.Background(), "s1")
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Resolve("s1", ApprovedAndTrusted))

	select {
	case d := <-resultCh:
		require.Equal(t, ApprovedAndTrusted, d)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
}

func TestResolveUnknownSessionErrors(t *testing.T) {
	m := NewManager(time.Second)
	err := m.Resolve("does-not-exist", Denied)
	require.Error(t, err)
}

func TestJanitorDeniesExpiredRequests(t *testing.T) {
	m := NewManager(20 * time.Millisecond)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	m.Request("s2", pub, "bob", 512, 2048)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d := m.Wait(ctx, "s2")
	require.Equal(t, Denied, d)
}
