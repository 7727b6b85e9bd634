package peer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// BlockRequestTimeout bounds how long a targeted block request waits
	// for its one peer to reply.
	BlockRequestTimeout = 5 * time.Second
	// KeyBroadcastTimeout bounds how long a broadcast key lookup waits
	// for the first peer to answer.
	KeyBroadcastTimeout = 2 * time.Second
	// KeyWriteTimeout bounds how long a remote key write waits for
	// acknowledgement.
	KeyWriteTimeout = 10 * time.Second
)

// ErrNoPeerAvailable is returned when an operation needs a connected
// peer and none are available.
var ErrNoPeerAvailable = errors.New("peer: no connected peer available")

func blockKey(id uint64) string  { return fmt.Sprintf("block:%d", id) }
func keyLookupKey(k string) string { return "key:" + k }
func keyWriteKey(k string) string  { return "keywrite:" + k }

// RequestBlock asks target for blockID and waits up to
// BlockRequestTimeout for its reply. The caller is responsible for
// actually sending the wire request to its target via send; this method
// only manages the correlation entry.
func (r *Registry) RequestBlock(ctx context.Context, blockID uint64, send func() error) ([]byte, error) {
	key := blockKey(blockID)
	w := r.blockRequests.Register(key)
	if err := send(); err != nil {
		r.blockRequests.Forget(key)
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, BlockRequestTimeout)
	defer cancel()
	payload, err := waitOn(ctx, w)
	if err != nil {
		r.blockRequests.Forget(key)
	}
	return payload, err
}

// ResolveBlockRequest delivers a BlockData reply to whatever is waiting
// on blockID, if anything. Returns false if the request already timed
// out or was never made (an unsolicited or late reply).
func (r *Registry) ResolveBlockRequest(blockID uint64, data []byte) bool {
	return r.blockRequests.Deliver(blockKey(blockID), data)
}

// BroadcastKey asks every connected peer for key and returns the first
// reply within KeyBroadcastTimeout. sendToAll should attempt a
// best-effort send to every peer; a failure to reach any individual peer
// does not fail the overall lookup.
func (r *Registry) BroadcastKey(ctx context.Context, key string, sendToAll func() error) ([]byte, error) {
	wk := keyLookupKey(key)
	w := r.keyRequests.Register(wk)
	if err := sendToAll(); err != nil {
		r.keyRequests.Forget(wk)
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, KeyBroadcastTimeout)
	defer cancel()
	payload, err := waitOn(ctx, w)
	if err != nil {
		r.keyRequests.Forget(wk)
	}
	return payload, err
}

// ResolveKeyLookup delivers a KeyFound reply for key, if anything is
// waiting. Later replies after the first are simply dropped by the
// waiter already having been removed from the table.
func (r *Registry) ResolveKeyLookup(key string, data []byte) bool {
	return r.keyRequests.Deliver(keyLookupKey(key), data)
}

// RequestKeyWrite asks target to store key=data and waits up to
// KeyWriteTimeout for acknowledgement.
func (r *Registry) RequestKeyWrite(ctx context.Context, key string, send func() error) ([]byte, error) {
	wk := keyWriteKey(key)
	w := r.keyWrites.Register(wk)
	if err := send(); err != nil {
		r.keyWrites.Forget(wk)
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, KeyWriteTimeout)
	defer cancel()
	payload, err := waitOn(ctx, w)
	if err != nil {
		r.keyWrites.Forget(wk)
	}
	return payload, err
}

// ResolveKeyWrite delivers a KeyStored acknowledgement for key.
func (r *Registry) ResolveKeyWrite(key string, data []byte) bool {
	return r.keyWrites.Deliver(keyWriteKey(key), data)
}
