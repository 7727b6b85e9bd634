package fabric

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"

	"github.com/vibhanshu2001/memcloud/block"
	"github.com/vibhanshu2001/memcloud/consent"
	"github.com/vibhanshu2001/memcloud/control"
	"github.com/vibhanshu2001/memcloud/peer"
	"github.com/vibhanshu2001/memcloud/transport"
)

func nodeIDHex(id [16]byte) string {
	return hex.EncodeToString(id[:])
}

// Handle implements control.Dispatcher, executing one control-plane
// command against this node's state (and, where the command needs
// cluster cooperation, the connected peers).
func (n *Node) Handle(cmd control.Command) control.Response {
	switch cmd.Kind {
	case control.CmdStore:
		return n.handleStore(cmd)
	case control.CmdStoreRemote:
		return n.handleStoreRemote(cmd)
	case control.CmdLoad:
		return n.handleLoad(cmd)
	case control.CmdFree:
		return n.handleFree(cmd)
	case control.CmdListPeers:
		return n.handleListPeers()
	case control.CmdConnect:
		n.Connect(cmd.Addr, cmd.OfferedQuota)
		return control.Response{Kind: control.ResConnectPending}
	case control.CmdPollConnect:
		return n.handlePollConnect(cmd)
	case control.CmdDisconnect:
		return n.handleDisconnect(cmd)
	case control.CmdUpdatePeerQuota:
		return n.handleUpdatePeerQuota(cmd)
	case control.CmdSet:
		return n.handleSet(cmd)
	case control.CmdGet:
		return n.handleGet(cmd)
	case control.CmdListKeys:
		return control.Response{Kind: control.ResList, Items: n.blocks.ListKeys(cmd.Pattern)}
	case control.CmdStat:
		return n.handleStat()
	case control.CmdStreamStart:
		id := n.blocks.StartStream(cmd.SizeHint)
		return control.Response{Kind: control.ResStreamStarted, StreamID: id}
	case control.CmdStreamChunk:
		if err := n.blocks.AppendStream(cmd.StreamID, cmd.Data); err != nil {
			return control.ErrorResponse(err.Error())
		}
		return control.Response{Kind: control.ResSuccess}
	case control.CmdStreamFinish:
		id, err := n.blocks.FinishStream(cmd.StreamID)
		if err != nil {
			return control.ErrorResponse(err.Error())
		}
		return control.StoredResponse(id)
	case control.CmdTrustList:
		return n.handleTrustList()
	case control.CmdTrustRemove:
		return n.handleTrustRemove(cmd)
	case control.CmdConsentList:
		return n.handleConsentList()
	case control.CmdConsentApprove:
		return n.handleConsentDecision(cmd, true)
	case control.CmdConsentDeny:
		return n.handleConsentDecision(cmd, false)
	case control.CmdFlush:
		n.blocks.Flush()
		return control.Response{Kind: control.ResSuccess}
	case control.CmdFlushRemote:
		return n.handleFlushRemote(cmd)
	default:
		return control.ErrorResponse("unknown command")
	}
}

func (n *Node) handleStore(cmd control.Command) control.Response {
	id, err := n.blocks.PutLocal(cmd.Data, block.Pinned)
	if err != nil {
		return control.ErrorResponse(err.Error())
	}
	return control.StoredResponse(id)
}

func (n *Node) handleStoreRemote(cmd control.Command) control.Response {
	target, ok := n.resolveTarget(cmd.Target, uint64(len(cmd.Data)))
	if !ok {
		return control.ErrorResponse("no peer")
	}
	id := block.NewID()
	msg := transport.PutBlock{BlockID: uint64(id), Data: cmd.Data}
	if err := target.Sender.Send(string(transport.TagPutBlock), &msg); err != nil {
		return control.ErrorResponse(err.Error())
	}
	if err := n.blocks.RecordRemote(id, nodeIDHex(target.NodeID)); err != nil {
		return control.ErrorResponse(err.Error())
	}
	return control.StoredResponse(id)
}

func (n *Node) handleLoad(cmd control.Command) control.Response {
	id, err := block.ParseID(cmd.ID)
	if err != nil {
		return control.ErrorResponse("invalid block id")
	}
	if b, ok := n.blocks.GetLocal(id); ok {
		return control.Response{Kind: control.ResLoaded, Data: b.Data}
	}

	peerIDHex, ok := n.blocks.RemoteOwner(id)
	if !ok {
		return control.ErrorResponse("block not found")
	}
	owner, ok := n.peers.ByHexID(peerIDHex)
	if !ok {
		return control.ErrorResponse("remote owner no longer connected")
	}

	data, err := n.peers.RequestBlock(context.Background(), uint64(id), func() error {
		return owner.Sender.Send(string(transport.TagGetBlock), &transport.GetBlock{BlockID: uint64(id)})
	})
	if err != nil {
		return control.ErrorResponse(err.Error())
	}
	return control.Response{Kind: control.ResLoaded, Data: data}
}

func (n *Node) handleFree(cmd control.Command) control.Response {
	id, err := block.ParseID(cmd.ID)
	if err != nil {
		return control.ErrorResponse("invalid block id")
	}
	if err := n.blocks.Free(id); err != nil {
		return control.ErrorResponse(err.Error())
	}
	return control.Response{Kind: control.ResSuccess}
}

func (n *Node) handleListPeers() control.Response {
	var names []string
	for _, p := range n.peers.List() {
		names = append(names, p.Name)
	}
	return control.Response{Kind: control.ResList, Items: names}
}

func (n *Node) handlePollConnect(cmd control.Command) control.Response {
	state, reason := n.PollConnect(cmd.Addr)
	return control.Response{Kind: control.ResConnectStatus, ConnectState: state, ConnectReason: reason}
}

func (n *Node) handleDisconnect(cmd control.Command) control.Response {
	target, ok := n.resolveExplicitTarget(cmd.Target)
	if !ok {
		return control.ErrorResponse("no peer")
	}
	// An operator-initiated close halts the connection's goroutines
	// before the underlying socket errors, so the handler's own OnClose
	// never fires on this side; drop the registry entry directly rather
	// than relying on it.
	n.peers.Remove(target.NodeID)
	if err := target.Sender.Close(); err != nil {
		return control.ErrorResponse(err.Error())
	}
	return control.Response{Kind: control.ResSuccess}
}

func (n *Node) handleUpdatePeerQuota(cmd control.Command) control.Response {
	target, ok := n.resolveExplicitTarget(cmd.Target)
	if !ok {
		return control.ErrorResponse("no peer")
	}
	target.AllowedIn = cmd.Quota
	return control.Response{Kind: control.ResSuccess}
}

func (n *Node) handleFlushRemote(cmd control.Command) control.Response {
	target, ok := n.resolveExplicitTarget(cmd.Target)
	if !ok {
		return control.ErrorResponse("no peer")
	}
	if err := target.Sender.Send(string(transport.TagFlush), &transport.Flush{}); err != nil {
		return control.ErrorResponse(err.Error())
	}
	return control.Response{Kind: control.ResSuccess}
}

func (n *Node) handleTrustList() control.Response {
	entries := n.trust.List()
	out := make([]control.TrustSummary, 0, len(entries))
	for key, e := range entries {
		out = append(out, control.TrustSummary{Key: key, Name: e.Name, FirstSeen: e.FirstSeen, LastApproved: e.LastApproved})
	}
	return control.Response{Kind: control.ResTrustList, TrustEntries: out}
}

func (n *Node) handleTrustRemove(cmd control.Command) control.Response {
	pub, err := hex.DecodeString(cmd.Target)
	if err != nil {
		return control.ErrorResponse("invalid trust key")
	}
	removed, err := n.trust.Remove(ed25519.PublicKey(pub))
	if err != nil {
		return control.ErrorResponse(err.Error())
	}
	if !removed {
		return control.ErrorResponse("no such trust entry")
	}
	return control.Response{Kind: control.ResSuccess}
}

func (n *Node) handleConsentList() control.Response {
	pending := n.PendingConsents()
	out := make([]control.ConsentSummary, 0, len(pending))
	for _, p := range pending {
		out = append(out, control.ConsentSummary{
			SessionID:   p.SessionID,
			PeerKey:     hex.EncodeToString(p.PeerPubKey),
			PeerName:    p.PeerName,
			Quota:       p.Quota,
			TotalMemory: p.TotalMemory,
		})
	}
	return control.Response{Kind: control.ResConsentList, Consents: out}
}

func (n *Node) handleConsentDecision(cmd control.Command, approve bool) control.Response {
	decision := consent.Denied
	if approve {
		decision = consent.ApprovedOnce
		if cmd.TrustAlways {
			decision = consent.ApprovedAndTrusted
		}
	}
	if err := n.ResolveConsent(cmd.SessionID, decision); err != nil {
		return control.ErrorResponse(err.Error())
	}
	return control.Response{Kind: control.ResSuccess}
}

// handleSet implements both the local and target-aware remote forms of
// set(key, data, durability, target?). With no target, it stores
// locally and binds the key in one step. With a target, it pushes the
// data to that peer via PutKey, waits up to peer.KeyWriteTimeout for its
// KeyStored acknowledgement, records the remote location under the id
// the peer minted, and binds the key to that id without ever holding the
// data locally.
func (n *Node) handleSet(cmd control.Command) control.Response {
	if cmd.Target == "" {
		id, err := n.blocks.PutLocal(cmd.Data, block.Pinned)
		if err != nil {
			return control.ErrorResponse(err.Error())
		}
		n.blocks.SetKey(cmd.Key, id)
		return control.StoredResponse(id)
	}

	target, ok := n.resolveExplicitTarget(cmd.Target)
	if !ok {
		return control.ErrorResponse("no peer")
	}

	payload, err := n.peers.RequestKeyWrite(context.Background(), cmd.Key, func() error {
		return target.Sender.Send(string(transport.TagPutKey), &transport.PutKey{Key: cmd.Key, Data: cmd.Data})
	})
	if err != nil {
		return control.ErrorResponse(err.Error())
	}
	if len(payload) == 0 {
		return control.ErrorResponse("peer declined remote key write")
	}
	id, err := block.ParseID(string(payload))
	if err != nil {
		return control.ErrorResponse("invalid remote block id")
	}
	if err := n.blocks.RecordRemote(id, nodeIDHex(target.NodeID)); err != nil {
		return control.ErrorResponse(err.Error())
	}
	n.blocks.SetKey(cmd.Key, id)
	return control.StoredResponse(id)
}

func (n *Node) handleGet(cmd control.Command) control.Response {
	if id, ok := n.blocks.ResolveKey(cmd.Key); ok {
		if b, ok := n.blocks.GetLocal(id); ok {
			return control.Response{Kind: control.ResLoaded, Data: b.Data}
		}
	}

	peers := n.peers.List()
	if len(peers) == 0 {
		return control.ErrorResponse("key not found locally or in cluster")
	}

	data, err := n.peers.BroadcastKey(context.Background(), cmd.Key, func() error {
		for _, p := range peers {
			if err := p.Sender.Send(string(transport.TagGetKey), &transport.GetKey{Key: cmd.Key}); err != nil {
				n.log.Warningf("get_key to peer %s failed: %s", p.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return control.ErrorResponse("key not found locally or in cluster")
	}
	return control.Response{Kind: control.ResLoaded, Data: data}
}

func (n *Node) handleStat() control.Response {
	return control.Response{
		Kind:   control.ResStatus,
		Blocks: n.blocks.BlockCount(),
		Peers:  len(n.peers.List()),
		Memory: n.blocks.UsedMemory(),
	}
}

// resolveTarget picks the peer put_remote should send size bytes to: an
// explicit target if one was given, otherwise the first connected peer
// whose declared offered_out can still fit size bytes.
func (n *Node) resolveTarget(target string, size uint64) (*peer.Record, bool) {
	if target != "" {
		return n.resolveExplicitTarget(target)
	}
	return n.peers.FirstWithOfferedCapacity(size)
}

// resolveExplicitTarget resolves an operator-named target, tried as a
// hex node id first and then as a peer name, for operations that must
// fail outright rather than fall back to an arbitrary peer.
func (n *Node) resolveExplicitTarget(target string) (*peer.Record, bool) {
	if rec, ok := n.peers.ByHexID(target); ok {
		return rec, true
	}
	return n.peers.ByName(target)
}
