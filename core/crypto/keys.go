package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/gofrs/uuid"
	"golang.org/x/crypto/curve25519"
)

// Identity is a node's long-term Ed25519 signing keypair. The private
// half is held in a locked, zero-on-destroy buffer, matching the key
// hygiene ratchet.go applies to its own long-term keys.
type Identity struct {
	NodeID  uuid.UUID
	Public  ed25519.PublicKey
	private *memguard.LockedBuffer
}

// NewIdentity generates a fresh node identity: a random NodeId and an
// Ed25519 signing keypair.
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate identity: %w", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		memguard.WipeBytes(priv)
		return nil, fmt.Errorf("crypto: generate node id: %w", err)
	}
	return &Identity{
		NodeID:  id,
		Public:  pub,
		private: memguard.NewBufferFromBytes(priv),
	}, nil
}

// Sign signs message with the identity's long-term private key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(id.private.Bytes()), message)
}

// Destroy wipes the private key material. Call when the identity is no
// longer needed (process shutdown).
func (id *Identity) Destroy() {
	id.private.Destroy()
}

// EphemeralKeyPair is a single-use X25519 keypair generated per
// handshake.
type EphemeralKeyPair struct {
	Public  [32]byte
	private *memguard.LockedBuffer
}

// NewEphemeralKeyPair generates a fresh X25519 keypair for one
// handshake.
func NewEphemeralKeyPair() (*EphemeralKeyPair, error) {
	priv, err := memguard.NewBufferFromReader(rand.Reader, 32)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate ephemeral key: %w", err)
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, (*[32]byte)(priv.Bytes()))
	return &EphemeralKeyPair{Public: pub, private: priv}, nil
}

// SharedSecret computes the X25519 shared secret with peerPublic.
func (kp *EphemeralKeyPair) SharedSecret(peerPublic [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(kp.private.Bytes(), peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: x25519: %w", err)
	}
	return shared, nil
}

// Destroy wipes the ephemeral private scalar. The caller must call this
// once the shared secret and traffic keys have been derived.
func (kp *EphemeralKeyPair) Destroy() {
	kp.private.Destroy()
}
