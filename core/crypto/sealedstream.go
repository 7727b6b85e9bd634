package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrFrameAuth is returned when a sealed frame fails AEAD authentication.
// The caller must not retry decryption and must close the connection:
// MemCloud never attempts to resynchronize past a failed frame.
var ErrFrameAuth = errors.New("crypto: sealed frame failed authentication")

// SealedConn wraps a net.Conn with independent send and receive AEAD
// keys and independent monotonic counters, one per direction. Each frame
// is sealed with nonce 0x00000000 || counter_be64, incremented after
// every successful seal or open.
type SealedConn struct {
	conn net.Conn

	sendAEAD cipherAEAD
	recvAEAD cipherAEAD

	sendCounter uint64
	recvCounter uint64

	writeMu sync.Mutex
}

type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// chacha20poly1305New constructs the AEAD used for both sealed traffic
// frames and handshake-key-sealed gate messages.
func chacha20poly1305New(key []byte) (cipherAEAD, error) {
	return chacha20poly1305.New(key)
}

// NewSealedConn builds a SealedConn from a raw connection and the two
// 32-byte traffic keys agreed during the handshake.
func NewSealedConn(conn net.Conn, sendKey, recvKey []byte) (*SealedConn, error) {
	send, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: send cipher: %w", err)
	}
	recv, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: recv cipher: %w", err)
	}
	return &SealedConn{conn: conn, sendAEAD: send, recvAEAD: recv}, nil
}

func nonceFor(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// WriteMessage seals and frames plaintext as a single message. Safe for
// concurrent callers: the write path, counter increment, and frame write
// are all serialized under one mutex, matching the single-writer-per-peer
// invariant every connection type in this tree upholds.
func (s *SealedConn) WriteMessage(plaintext []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	counter := atomic.LoadUint64(&s.sendCounter)
	sealed := s.sendAEAD.Seal(nil, nonceFor(counter), plaintext, nil)
	atomic.AddUint64(&s.sendCounter, 1)

	return WriteFrame(s.conn, sealed)
}

// ReadMessage reads one framed, sealed message and decrypts it. Must be
// called from a single reader goroutine per connection; concurrent
// readers would race on recvCounter and on partial frame reads.
func (s *SealedConn) ReadMessage() ([]byte, error) {
	sealed, err := ReadFrame(s.conn)
	if err != nil {
		return nil, err
	}

	counter := s.recvCounter
	plaintext, err := s.recvAEAD.Open(nil, nonceFor(counter), sealed, nil)
	if err != nil {
		return nil, ErrFrameAuth
	}
	s.recvCounter++
	return plaintext, nil
}

// Close closes the underlying connection.
func (s *SealedConn) Close() error {
	return s.conn.Close()
}
