package fabric_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vibhanshu2001/memcloud/config"
	"github.com/vibhanshu2001/memcloud/consent"
	"github.com/vibhanshu2001/memcloud/control"
	memlog "github.com/vibhanshu2001/memcloud/core/log"
	"github.com/vibhanshu2001/memcloud/fabric"
)

func newTestNode(t *testing.T, name string, port int) *fabric.Node {
	t.Helper()
	backend, err := memlog.New("", "ERROR", false)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	cfg := config.Default()
	cfg.Name = name
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = port
	cfg.TrustStorePath = filepath.Join(t.TempDir(), "trusted.json")
	cfg.MaxMemoryBytes = 8 * 1024 * 1024
	cfg.DefaultPeerQuotaBytes = 4 * 1024 * 1024

	node, err := fabric.New(cfg, backend.GetLogger(name))
	require.NoError(t, err)
	require.NoError(t, node.Start())
	t.Cleanup(node.Stop)
	return node
}

func waitForAuthenticated(t *testing.T, node *fabric.Node, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, reason := node.PollConnect(addr)
		if state == "connected" {
			return
		}
		if state == "failed" {
			t.Fatalf("connect to %s failed: %s", addr, reason)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for connection to %s to authenticate", addr)
}

// join connects a to b and blocks until both sides have registered each
// other as an authenticated peer.
func join(t *testing.T, a, b *fabric.Node, bAddr string) {
	t.Helper()
	a.Connect(bAddr, 0)
	waitForAuthenticated(t, a, bAddr)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := b.Handle(control.Command{Kind: control.CmdListPeers})
		if len(resp.Items) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("peer never appeared in remote registry")
}

func TestNodesHandshakeAndStoreRemote(t *testing.T) {
	a := newTestNode(t, "node-a", 19301)
	b := newTestNode(t, "node-b", 19302)

	// a trusts nothing yet, so the inbound consent on b's side must be
	// approved out of band before the handshake completes. Simulate an
	// operator approving it immediately.
	go func() {
		for i := 0; i < 200; i++ {
			for _, p := range b.PendingConsents() {
				b.ResolveConsent(p.SessionID, consent.ApprovedOnce)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	join(t, a, b, "127.0.0.1:19302")

	stored := a.Handle(control.Command{Kind: control.CmdStoreRemote, Data: []byte("payload")})
	require.Equal(t, control.ResStored, stored.Kind)
	require.Zero(t, a.Handle(control.Command{Kind: control.CmdStat}).Blocks)

	loaded := a.Handle(control.Command{Kind: control.CmdLoad, ID: stored.ID})
	require.Equal(t, control.ResLoaded, loaded.Kind)
	require.Equal(t, []byte("payload"), loaded.Data)
}

func TestNodeSetAndGetKeyLocal(t *testing.T) {
	a := newTestNode(t, "node-c", 19303)

	stored := a.Handle(control.Command{Kind: control.CmdSet, Key: "greeting", Data: []byte("hi")})
	require.Equal(t, control.ResStored, stored.Kind)

	got := a.Handle(control.Command{Kind: control.CmdGet, Key: "greeting"})
	require.Equal(t, control.ResLoaded, got.Kind)
	require.Equal(t, []byte("hi"), got.Data)
}

func TestNodeStatReportsBlockCount(t *testing.T) {
	a := newTestNode(t, "node-d", 19304)
	a.Handle(control.Command{Kind: control.CmdStore, Data: []byte("x")})
	a.Handle(control.Command{Kind: control.CmdStore, Data: []byte("y")})

	stat := a.Handle(control.Command{Kind: control.CmdStat})
	require.Equal(t, control.ResStatus, stat.Kind)
	require.Equal(t, 2, stat.Blocks)
}

func TestNodeSetWithTargetStoresOnPeer(t *testing.T) {
	a := newTestNode(t, "node-e", 19305)
	b := newTestNode(t, "node-f", 19306)

	go func() {
		for i := 0; i < 200; i++ {
			for _, p := range b.PendingConsents() {
				b.ResolveConsent(p.SessionID, consent.ApprovedOnce)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	join(t, a, b, "127.0.0.1:19306")

	stored := a.Handle(control.Command{Kind: control.CmdSet, Key: "greeting", Data: []byte("hi"), Target: "node-f"})
	require.Equal(t, control.ResStored, stored.Kind)
	require.Zero(t, a.Handle(control.Command{Kind: control.CmdStat}).Blocks)

	got := a.Handle(control.Command{Kind: control.CmdGet, Key: "greeting"})
	require.Equal(t, control.ResLoaded, got.Kind)
	require.Equal(t, []byte("hi"), got.Data)
}

func TestConsentApproveWithTrustAlwaysPersistsTrust(t *testing.T) {
	a := newTestNode(t, "node-g", 19307)
	b := newTestNode(t, "node-h", 19308)

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			pending := b.Handle(control.Command{Kind: control.CmdConsentList})
			for _, p := range pending.Consents {
				b.Handle(control.Command{Kind: control.CmdConsentApprove, SessionID: p.SessionID, TrustAlways: true})
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	join(t, a, b, "127.0.0.1:19308")

	trusted := b.Handle(control.Command{Kind: control.CmdTrustList})
	require.Equal(t, control.ResTrustList, trusted.Kind)
	require.Len(t, trusted.TrustEntries, 1)
	require.Equal(t, "node-g", trusted.TrustEntries[0].Name)
}

func TestUpdatePeerQuotaAndDisconnect(t *testing.T) {
	a := newTestNode(t, "node-i", 19309)
	b := newTestNode(t, "node-j", 19310)

	go func() {
		for i := 0; i < 200; i++ {
			for _, p := range b.PendingConsents() {
				b.ResolveConsent(p.SessionID, consent.ApprovedOnce)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	join(t, a, b, "127.0.0.1:19310")

	resp := a.Handle(control.Command{Kind: control.CmdUpdatePeerQuota, Target: "node-j", Quota: 1024})
	require.Equal(t, control.ResSuccess, resp.Kind)

	resp = a.Handle(control.Command{Kind: control.CmdDisconnect, Target: "node-j"})
	require.Equal(t, control.ResSuccess, resp.Kind)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(a.Handle(control.Command{Kind: control.CmdListPeers}).Items) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("peer still listed after disconnect")
}

func TestFlushClearsLocalBlocks(t *testing.T) {
	a := newTestNode(t, "node-k", 19311)
	a.Handle(control.Command{Kind: control.CmdStore, Data: []byte("x")})
	a.Handle(control.Command{Kind: control.CmdStore, Data: []byte("y")})

	resp := a.Handle(control.Command{Kind: control.CmdFlush})
	require.Equal(t, control.ResSuccess, resp.Kind)

	stat := a.Handle(control.Command{Kind: control.CmdStat})
	require.Zero(t, stat.Blocks)
}
