package fabric

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/vibhanshu2001/memcloud/block"
	"github.com/vibhanshu2001/memcloud/transport"
)

// nodeHandler implements transport.Handler for one peer connection,
// translating wire messages into block-store and registry operations.
type nodeHandler struct {
	node       *Node
	peerNodeID [16]byte
}

func (h *nodeHandler) OnMessage(tag transport.Tag, payload []byte) error {
	switch tag {
	case transport.TagGetBlock:
		return h.onGetBlock(payload)
	case transport.TagBlockData:
		return h.onBlockData(payload)
	case transport.TagPutBlock:
		return h.onPutBlock(payload)
	case transport.TagGetKey:
		return h.onGetKey(payload)
	case transport.TagKeyFound:
		return h.onKeyFound(payload)
	case transport.TagPutKey:
		return h.onPutKey(payload)
	case transport.TagKeyStored:
		return h.onKeyStored(payload)
	case transport.TagUpdateQuota:
		return h.onUpdateQuota(payload)
	case transport.TagFlush:
		return h.onFlush(payload)
	case transport.TagBye:
		return nil
	default:
		// Unknown tags are logged and ignored rather than treated as a
		// protocol error, so a newer peer's additions don't break an
		// older node.
		h.node.log.Debugf("ignoring unknown message tag %q from peer %x", tag, h.peerNodeID)
		return nil
	}
}

func (h *nodeHandler) OnClose(reason string) {
	rec, ok := h.node.peers.Remove(h.peerNodeID)
	if ok {
		h.node.log.Noticef("peer %s (%x) disconnected: %s", rec.Name, h.peerNodeID, reason)
	}
}

func (h *nodeHandler) onGetBlock(payload []byte) error {
	var msg transport.GetBlock
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return err
	}
	rec, ok := h.node.peers.Get(h.peerNodeID)
	if !ok {
		return nil
	}
	b, found := h.node.blocks.GetLocal(block.ID(msg.BlockID))
	reply := transport.BlockData{BlockID: msg.BlockID, Found: found}
	if found {
		reply.Data = b.Data
	}
	return rec.Sender.Send(string(transport.TagBlockData), &reply)
}

func (h *nodeHandler) onBlockData(payload []byte) error {
	var msg transport.BlockData
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return err
	}
	h.node.peers.ResolveBlockRequest(msg.BlockID, msg.Data)
	return nil
}

func (h *nodeHandler) onPutBlock(payload []byte) error {
	var msg transport.PutBlock
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return err
	}
	rec, ok := h.node.peers.Get(h.peerNodeID)
	if !ok {
		return nil
	}
	if !rec.TryReserve(uint64(len(msg.Data))) {
		h.node.log.Warningf("peer %x exceeded its granted quota, dropping put_block", h.peerNodeID)
		return nil
	}
	if err := h.node.blocks.PutRemoteRequested(block.ID(msg.BlockID), msg.Data, block.Pinned); err != nil {
		h.node.log.Warningf("put_block from %x failed: %s", h.peerNodeID, err)
	}
	return nil
}

func (h *nodeHandler) onGetKey(payload []byte) error {
	var msg transport.GetKey
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return err
	}
	rec, ok := h.node.peers.Get(h.peerNodeID)
	if !ok {
		return nil
	}
	id, found := h.node.blocks.ResolveKey(msg.Key)
	reply := transport.KeyFound{Key: msg.Key, Found: found}
	if found {
		if b, ok := h.node.blocks.GetLocal(id); ok {
			reply.Data = b.Data
		} else {
			reply.Found = false
		}
	}
	return rec.Sender.Send(string(transport.TagKeyFound), &reply)
}

func (h *nodeHandler) onKeyFound(payload []byte) error {
	var msg transport.KeyFound
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if msg.Found {
		h.node.peers.ResolveKeyLookup(msg.Key, msg.Data)
	}
	return nil
}

func (h *nodeHandler) onPutKey(payload []byte) error {
	var msg transport.PutKey
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return err
	}
	rec, ok := h.node.peers.Get(h.peerNodeID)
	if !ok {
		return nil
	}
	if !rec.TryReserve(uint64(len(msg.Data))) {
		rec.Sender.Send(string(transport.TagKeyStored), &transport.KeyStored{Key: msg.Key, OK: false})
		return nil
	}
	id, err := h.node.blocks.PutLocal(msg.Data, block.Pinned)
	ok2 := err == nil
	reply := transport.KeyStored{Key: msg.Key, OK: ok2}
	if ok2 {
		h.node.blocks.SetKey(msg.Key, id)
		reply.ID = uint64(id)
	}
	return rec.Sender.Send(string(transport.TagKeyStored), &reply)
}

func (h *nodeHandler) onKeyStored(payload []byte) error {
	var msg transport.KeyStored
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if !msg.OK {
		h.node.peers.ResolveKeyWrite(msg.Key, nil)
		return nil
	}
	h.node.peers.ResolveKeyWrite(msg.Key, []byte(block.ID(msg.ID).String()))
	return nil
}

func (h *nodeHandler) onUpdateQuota(payload []byte) error {
	var msg transport.UpdateQuota
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		return err
	}
	if rec, ok := h.node.peers.Get(h.peerNodeID); ok {
		rec.SetOfferedOut(msg.Quota)
	}
	return nil
}

func (h *nodeHandler) onFlush(payload []byte) error {
	h.node.blocks.Flush()
	return nil
}
