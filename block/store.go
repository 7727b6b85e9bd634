package block

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when a block id or key has no local entry.
	ErrNotFound = errors.New("block: not found")
	// ErrOutOfMemory is returned when storing a Pinned block would
	// exceed the configured memory budget; unlike a Cache block, a
	// Pinned block is never evicted to make room for another.
	ErrOutOfMemory = errors.New("block: insufficient memory for pinned block")
	// ErrAlreadyRemote is returned when an id would end up both local
	// and remote-held: storing locally an id recorded as held by a
	// remote peer, or recording as remote an id held locally. Local and
	// remote-held blocks are mutually exclusive.
	ErrAlreadyRemote = errors.New("block: id is held by a remote peer")
)

// Store holds this node's local blocks, its key index over them, and the
// set of block ids this node knows to be held by a remote peer instead.
type Store struct {
	mu sync.RWMutex

	blocks    map[ID]*Block
	keys      map[string]ID
	remoteLoc map[ID]string // block id -> peer node id (hex/uuid string)

	currentMemory uint64
	maxMemory     uint64

	uploads map[uint64][]byte
}

// NewStore constructs an empty Store bounded by maxMemory bytes.
func NewStore(maxMemory uint64) *Store {
	return &Store{
		blocks:    make(map[ID]*Block),
		keys:      make(map[string]ID),
		remoteLoc: make(map[ID]string),
		maxMemory: maxMemory,
		uploads:   make(map[uint64][]byte),
	}
}

// PutLocal stores data as a new local block with the given durability.
// A Cache block that does not fit evicts least-recently-accessed Cache
// blocks to make room. A Pinned block that does not fit is rejected with
// ErrOutOfMemory without evicting anything.
func (s *Store) PutLocal(data []byte, durability Durability) (ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	need := uint64(len(data))
	if s.currentMemory+need > s.maxMemory {
		if durability == Cache {
			s.evictLocked(need)
		}
		if s.currentMemory+need > s.maxMemory {
			return 0, ErrOutOfMemory
		}
	}

	id := NewID()
	for {
		if _, exists := s.blocks[id]; !exists {
			if _, isRemote := s.remoteLoc[id]; !isRemote {
				break
			}
		}
		id = NewID()
	}

	s.blocks[id] = &Block{ID: id, Data: data, Durability: durability, LastAccess: nowFunc()}
	s.currentMemory += need
	return id, nil
}

// PutRemoteRequested stores data under the exact id a remote peer chose
// when it pushed the block to this node (a put_block message), so the
// sender's remote_locations record and this node's local block id agree
// on the same value. Ordinary local writes go through PutLocal instead,
// which always mints a fresh id.
func (s *Store) PutRemoteRequested(id ID, data []byte, durability Durability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.remoteLoc[id]; ok {
		return ErrAlreadyRemote
	}

	need := uint64(len(data))
	if s.currentMemory+need > s.maxMemory {
		s.evictLocked(need)
		if s.currentMemory+need > s.maxMemory {
			return ErrOutOfMemory
		}
	}

	s.blocks[id] = &Block{ID: id, Data: data, Durability: durability, LastAccess: nowFunc()}
	s.currentMemory += need
	return nil
}

// evictLocked frees at least `need` bytes by evicting Cache blocks in
// least-recently-accessed order. Pinned blocks are never touched.
func (s *Store) evictLocked(need uint64) {
	type candidate struct {
		id   ID
		last int64
	}
	var candidates []candidate
	for id, b := range s.blocks {
		if b.Durability == Cache {
			candidates = append(candidates, candidate{id: id, last: b.LastAccess.UnixNano()})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].last < candidates[j].last })

	freed := uint64(0)
	for _, c := range candidates {
		if freed >= need {
			break
		}
		b := s.blocks[c.id]
		freed += uint64(len(b.Data))
		s.currentMemory -= uint64(len(b.Data))
		delete(s.blocks, c.id)
		s.removeKeyForIDLocked(c.id)
	}
}

// GetLocal returns the block for id if it is stored locally, bumping its
// last-accessed time.
func (s *Store) GetLocal(id ID) (*Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, false
	}
	b.LastAccess = nowFunc()
	cp := *b
	return &cp, true
}

// Free removes a block id. If the id is locally held, its bytes are
// released; if it is only known as remote, the local remote_locations
// record is dropped without notifying the peer, per this node's chosen
// policy that freeing a remote block never round-trips over the
// network.
func (s *Store) Free(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blocks[id]; ok {
		s.currentMemory -= uint64(len(b.Data))
		delete(s.blocks, id)
		s.removeKeyForIDLocked(id)
		return nil
	}
	if _, ok := s.remoteLoc[id]; ok {
		delete(s.remoteLoc, id)
		return nil
	}
	return ErrNotFound
}

// RecordRemote notes that id is held by peerNodeID rather than locally.
func (s *Store) RecordRemote(id ID, peerNodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[id]; ok {
		return ErrAlreadyRemote
	}
	s.remoteLoc[id] = peerNodeID
	return nil
}

// RemoteOwner returns the peer holding id remotely, if any.
func (s *Store) RemoteOwner(id ID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.remoteLoc[id]
	return p, ok
}

// SetKey maps key to id, last-write-wins.
func (s *Store) SetKey(key string, id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = id
}

// ResolveKey returns the block id a key maps to, if any is recorded
// locally. A miss here does not mean the key doesn't exist anywhere in
// the cluster — only that this node has no local record of it.
func (s *Store) ResolveKey(key string) (ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[key]
	return id, ok
}

func (s *Store) removeKeyForIDLocked(id ID) {
	for k, v := range s.keys {
		if v == id {
			delete(s.keys, k)
		}
	}
}

// Flush clears all local state: every local block, the key index over
// them, and this node's remote-location bookkeeping. It does not notify
// any peer; a block this node was hosting for someone else simply stops
// existing here, and a block this node had pushed to a peer is no longer
// tracked as remote (the peer's copy is untouched). In-flight streaming
// uploads are also discarded.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = make(map[ID]*Block)
	s.keys = make(map[string]ID)
	s.remoteLoc = make(map[ID]string)
	s.uploads = make(map[uint64][]byte)
	s.currentMemory = 0
}

// UsedMemory returns the number of bytes currently held in local blocks.
func (s *Store) UsedMemory() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentMemory
}

// BlockCount returns the number of locally-held blocks.
func (s *Store) BlockCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// nowFunc is indirected for tests that need deterministic LRU ordering.
var nowFunc = defaultNow
