// Package peer tracks every peer this node is connected to, the quota
// each one has been granted, and the in-flight request/response
// correlation needed to serve distributed block and key operations.
package peer

import (
	"crypto/ed25519"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"
)

// Sender is implemented by a connected peer's transport side; the
// registry uses it to push messages without knowing about net.Conn,
// framing, or the wire message types transport defines.
type Sender interface {
	Send(tag string, v interface{}) error
	Close() error
}

// Record describes one connected, authenticated peer.
type Record struct {
	NodeID      [16]byte
	PublicKey   ed25519.PublicKey
	Name        string
	TotalMemory uint64

	AllowedIn uint64 // quota this node has granted the peer to store here
	usedIn    uint64 // atomic: bytes of that quota currently in use

	offeredOut uint64 // atomic: bytes the peer says it will host for us

	Sender Sender

	ConnectedAt time.Time
}

// TryReserve attempts to reserve n bytes of the quota this node granted
// the peer, succeeding only if usedIn+n does not exceed AllowedIn. Uses
// a compare-and-swap loop so concurrent reservations on the same peer
// never overrun the quota.
func (r *Record) TryReserve(n uint64) bool {
	for {
		used := atomic.LoadUint64(&r.usedIn)
		if used+n > r.AllowedIn {
			return false
		}
		if atomic.CompareAndSwapUint64(&r.usedIn, used, used+n) {
			return true
		}
	}
}

// Release gives back n bytes of previously reserved quota.
func (r *Record) Release(n uint64) {
	for {
		used := atomic.LoadUint64(&r.usedIn)
		next := used
		if n > used {
			next = 0
		} else {
			next = used - n
		}
		if atomic.CompareAndSwapUint64(&r.usedIn, used, next) {
			return
		}
	}
}

// UsedIn reports how much of the granted quota is currently reserved.
func (r *Record) UsedIn() uint64 {
	return atomic.LoadUint64(&r.usedIn)
}

// OfferedOut reports how much memory the peer has told us it is willing
// to host on our behalf.
func (r *Record) OfferedOut() uint64 {
	return atomic.LoadUint64(&r.offeredOut)
}

// SetOfferedOut records a new offered_out figure for the peer, from
// either the handshake's Hello quota or a later UpdateQuota message.
func (r *Record) SetOfferedOut(n uint64) {
	atomic.StoreUint64(&r.offeredOut, n)
}

// Registry is the set of currently connected peers plus the pending
// correlation tables for in-flight distributed operations.
type Registry struct {
	mu    sync.RWMutex
	peers map[[16]byte]*Record

	blockRequests *waiterTable
	keyRequests   *waiterTable
	keyWrites     *waiterTable

	outgoing *OutgoingTracker
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		peers:         make(map[[16]byte]*Record),
		blockRequests: newWaiterTable(),
		keyRequests:   newWaiterTable(),
		keyWrites:     newWaiterTable(),
		outgoing:      NewOutgoingTracker(),
	}
}

// Add registers a newly authenticated peer, replacing any prior record
// under the same NodeID (a reconnect).
func (r *Registry) Add(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[rec.NodeID] = rec
}

// Remove drops a peer record, returning it if one existed.
func (r *Registry) Remove(nodeID [16]byte) (*Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.peers[nodeID]
	if ok {
		delete(r.peers, nodeID)
	}
	return rec, ok
}

// Get returns the record for nodeID, if connected.
func (r *Registry) Get(nodeID [16]byte) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[nodeID]
	return rec, ok
}

// List returns every currently connected peer.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, rec)
	}
	return out
}

// ByName returns the first connected peer whose Name matches, if any.
func (r *Registry) ByName(name string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.peers {
		if rec.Name == name {
			return rec, true
		}
	}
	return nil, false
}

// Any returns an arbitrary connected peer, for callers that need "some
// peer" rather than a specific one.
func (r *Registry) Any() (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.peers {
		return rec, true
	}
	return nil, false
}

// ByHexID returns the connected peer whose NodeID hex-encodes to id, if
// any.
func (r *Registry) ByHexID(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for nodeID, rec := range r.peers {
		if hex.EncodeToString(nodeID[:]) == id {
			return rec, true
		}
	}
	return nil, false
}

// FirstWithOfferedCapacity returns the first connected peer whose
// declared offered_out is at least size, for the no-explicit-target case
// of put_remote.
func (r *Registry) FirstWithOfferedCapacity(size uint64) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.peers {
		if rec.OfferedOut() >= size {
			return rec, true
		}
	}
	return nil, false
}

// Outgoing returns the tracker for node-initiated connection attempts.
func (r *Registry) Outgoing() *OutgoingTracker {
	return r.outgoing
}
