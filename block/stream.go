package block

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
)

// ErrUnknownStream is returned by AppendStream/FinishStream when the
// stream id is not (or is no longer) active.
var ErrUnknownStream = errors.New("block: unknown stream id")

// StartStream begins a new resumable upload and returns its id. sizeHint,
// if non-zero, preallocates the backing buffer.
func (s *Store) StartStream(sizeHint uint64) uint64 {
	var buf [8]byte
	rand.Read(buf[:])
	id := binary.BigEndian.Uint64(buf[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[id] = make([]byte, 0, int(sizeHint))
	return id
}

// AppendStream appends chunk to the named stream's buffer. Chunks are
// expected in sequence order over the underlying connection (the
// control-plane protocol is a single ordered stream per client, not a
// datagram transport), so no chunk-sequence bookkeeping is needed beyond
// what the wire already guarantees.
func (s *Store) AppendStream(streamID uint64, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.uploads[streamID]
	if !ok {
		return ErrUnknownStream
	}
	s.uploads[streamID] = append(buf, chunk...)
	return nil
}

// FinishStream materializes the accumulated bytes as a new Pinned block
// and discards the upload buffer.
func (s *Store) FinishStream(streamID uint64) (ID, error) {
	s.mu.Lock()
	buf, ok := s.uploads[streamID]
	if ok {
		delete(s.uploads, streamID)
	}
	s.mu.Unlock()
	if !ok {
		return 0, ErrUnknownStream
	}
	return s.PutLocal(buf, Pinned)
}
