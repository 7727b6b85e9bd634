package crypto

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// HandshakeTimeout bounds the entire handshake exchange, from the first
// byte sent to the final traffic keys being usable.
const HandshakeTimeout = 30 * time.Second

var (
	// ErrConsentDenied is returned to the dialing side when the accepting
	// node's operator declines the connection.
	ErrConsentDenied = errors.New("crypto: peer denied consent")
	// ErrBadSignature is returned when a peer's Auth message signature
	// does not verify against the transcript hash.
	ErrBadSignature = errors.New("crypto: auth signature invalid")
	// ErrUnexpectedMessage is returned when a handshake message arrives
	// out of the expected order.
	ErrUnexpectedMessage = errors.New("crypto: unexpected handshake message")
)

// helloMessage is the first message sent by either side of the
// handshake: an ephemeral public key plus the offer this node is making.
type helloMessage struct {
	Version         uint8
	EphemeralPublic [32]byte
	OfferedInQuota  uint64
	TotalMemory     uint64
}

// authMessage binds the sender's long-term identity to this transcript
// via a signature over the transcript digest taken just before the
// initiator's Auth (auth_a) is mixed in; both sides sign that same
// digest.
type authMessage struct {
	NodeID    [16]byte
	PublicKey [32]byte
	Name      string
	Signature []byte
}

type consentRequiredMessage struct {
	SessionID string
}

type consentDeniedMessage struct {
	Reason string
}

// gateMessage is the tagged envelope used for every message exchanged
// after Hello, so the initiator can tell an Auth reply apart from a
// ConsentRequired/ConsentDenied interruption without guessing.
type gateMessage struct {
	Kind    string
	Payload []byte
}

const (
	kindAuth            = "auth"
	kindConsentRequired = "consent_required"
	kindConsentDenied   = "consent_denied"
)

// Session is the result of a completed handshake: a pair of traffic
// keys plus everything learned about the remote peer.
type Session struct {
	SendKey         []byte
	RecvKey         []byte
	PeerNodeID      [16]byte
	PeerPublic      ed25519.PublicKey
	PeerName        string
	PeerQuota       uint64
	PeerTotalMemory uint64
}

// TrustChecker reports whether pub is already a trusted peer.
type TrustChecker func(pub ed25519.PublicKey) bool

// ConsentRequester blocks until the local operator approves or denies a
// pending inbound connection, returning (approved, shouldTrust).
type ConsentRequester func(ctx context.Context, sessionID string, pub ed25519.PublicKey, name string, quota, totalMemory uint64) (approved bool, trust bool, err error)

// Dial performs the initiating side of the MemCloud-v2 handshake over
// conn. myQuota is the amount of memory this node offers the peer;
// myTotalMemory is this node's total RAM budget, both advertised in
// Hello. name is this node's identity, carried in Auth the same way the
// responder carries its own. onWaitingForConsent, if non-nil, is called
// if the responder interrupts the handshake to ask its operator for
// approval, so the caller can surface that wait to whoever is polling
// the connection attempt.
func Dial(conn net.Conn, identity *Identity, myQuota, myTotalMemory uint64, name string, onWaitingForConsent func()) (*Session, error) {
	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	transcript := NewTranscript()

	eph, err := NewEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	defer eph.Destroy()

	myHello := helloMessage{Version: 2, EphemeralPublic: eph.Public, OfferedInQuota: myQuota, TotalMemory: myTotalMemory}
	if err := writePlain(conn, transcript, "hello_a", &myHello); err != nil {
		return nil, err
	}

	var peerHello helloMessage
	if err := readPlain(conn, transcript, "hello_b", &peerHello); err != nil {
		return nil, err
	}

	shared, err := eph.SharedSecret(peerHello.EphemeralPublic)
	if err != nil {
		return nil, err
	}
	handshakeKey := DeriveKey(shared, transcript.Sum(), "handshake_key")

	digestBeforeAuthA := append([]byte(nil), transcript.Sum()...)
	var nodeIDBytes [16]byte
	copy(nodeIDBytes[:], identity.NodeID.Bytes())
	myAuth := authMessage{NodeID: nodeIDBytes, PublicKey: publicKeyArray(identity.Public), Name: name, Signature: identity.Sign(digestBeforeAuthA)}
	if err := sealGate(conn, handshakeKey, 0, "auth_a", transcript, kindAuth, &myAuth); err != nil {
		return nil, err
	}

	// The reply may be an immediate Auth, or a ConsentRequired/
	// ConsentDenied pair if the responder doesn't already trust us.
	peerAuth, err := readUntilAuth(conn, handshakeKey, 1, "auth_b", transcript, onWaitingForConsent)
	if err != nil {
		return nil, err
	}

	// The responder signs the same pre-auth_a digest we signed, so both
	// sides authenticate over an identical transcript prefix.
	if !ed25519.Verify(peerAuth.PublicKey[:], digestBeforeAuthA, peerAuth.Signature) {
		return nil, ErrBadSignature
	}

	sendKey := DeriveKey(shared, transcript.Sum(), "traffic_a")
	recvKey := DeriveKey(shared, transcript.Sum(), "traffic_b")

	return &Session{
		SendKey:         sendKey,
		RecvKey:         recvKey,
		PeerNodeID:      peerAuth.NodeID,
		PeerPublic:      ed25519.PublicKey(peerAuth.PublicKey[:]),
		PeerName:        peerAuth.Name,
		PeerQuota:       peerHello.OfferedInQuota,
		PeerTotalMemory: peerHello.TotalMemory,
	}, nil
}

func readUntilAuth(conn net.Conn, handshakeKey []byte, startCounter uint64, label string, transcript *Transcript, onWaitingForConsent func()) (*authMessage, error) {
	counter := startCounter
	for {
		kind, payload, err := openGate(conn, handshakeKey, counter, transcript)
		if err != nil {
			return nil, err
		}
		counter++
		switch kind {
		case kindAuth:
			var auth authMessage
			if err := cbor.Unmarshal(payload, &auth); err != nil {
				return nil, fmt.Errorf("crypto: decode %s: %w", label, err)
			}
			return &auth, nil
		case kindConsentRequired:
			if onWaitingForConsent != nil {
				onWaitingForConsent()
			}
			// Keep reading for the eventual Auth or ConsentDenied.
			continue
		case kindConsentDenied:
			var denied consentDeniedMessage
			cbor.Unmarshal(payload, &denied)
			return nil, ErrConsentDenied
		default:
			return nil, ErrUnexpectedMessage
		}
	}
}

// Accept performs the responding side of the handshake: receive Hello,
// send Hello, derive the handshake key, verify the initiator's signed
// Auth, run the trust check and (if untrusted) the consent gate, reply
// with our own signed Auth, and derive the final traffic keys in the
// mirrored direction from Dial.
func Accept(conn net.Conn, identity *Identity, myQuota, myTotalMemory uint64, name string, trusted TrustChecker, consent ConsentRequester, sessionID string) (*Session, error) {
	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	transcript := NewTranscript()

	var peerHello helloMessage
	if err := readPlain(conn, transcript, "hello_a", &peerHello); err != nil {
		return nil, err
	}

	eph, err := NewEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	defer eph.Destroy()

	myHello := helloMessage{Version: 2, EphemeralPublic: eph.Public, OfferedInQuota: myQuota, TotalMemory: myTotalMemory}
	if err := writePlain(conn, transcript, "hello_b", &myHello); err != nil {
		return nil, err
	}

	shared, err := eph.SharedSecret(peerHello.EphemeralPublic)
	if err != nil {
		return nil, err
	}
	handshakeKey := DeriveKey(shared, transcript.Sum(), "handshake_key")

	digestBeforePeerAuth := append([]byte(nil), transcript.Sum()...)
	kind, payload, err := openGate(conn, handshakeKey, 0, transcript)
	if err != nil {
		return nil, err
	}
	if kind != kindAuth {
		return nil, ErrUnexpectedMessage
	}
	var peerAuth authMessage
	if err := cbor.Unmarshal(payload, &peerAuth); err != nil {
		return nil, fmt.Errorf("crypto: decode auth_a: %w", err)
	}
	if !ed25519.Verify(peerAuth.PublicKey[:], digestBeforePeerAuth, peerAuth.Signature) {
		return nil, ErrBadSignature
	}

	replyCounter := uint64(1)
	if !trusted(ed25519.PublicKey(peerAuth.PublicKey[:])) {
		if err := sealGate(conn, handshakeKey, replyCounter, "consent_required", transcript, kindConsentRequired, &consentRequiredMessage{SessionID: sessionID}); err != nil {
			return nil, err
		}
		replyCounter++
		approved, _, err := consent(context.Background(), sessionID, ed25519.PublicKey(peerAuth.PublicKey[:]), peerAuth.Name, peerHello.OfferedInQuota, peerHello.TotalMemory)
		if err != nil {
			return nil, err
		}
		if !approved {
			sealGate(conn, handshakeKey, replyCounter, "consent_denied", transcript, kindConsentDenied, &consentDeniedMessage{Reason: "denied by operator"})
			return nil, ErrConsentDenied
		}
	}

	var nodeIDBytes [16]byte
	copy(nodeIDBytes[:], identity.NodeID.Bytes())
	myAuth := authMessage{NodeID: nodeIDBytes, PublicKey: publicKeyArray(identity.Public), Name: name, Signature: identity.Sign(digestBeforePeerAuth)}
	if err := sealGate(conn, handshakeKey, replyCounter, "auth_b", transcript, kindAuth, &myAuth); err != nil {
		return nil, err
	}

	sendKey := DeriveKey(shared, transcript.Sum(), "traffic_b")
	recvKey := DeriveKey(shared, transcript.Sum(), "traffic_a")

	return &Session{
		SendKey:         sendKey,
		RecvKey:         recvKey,
		PeerNodeID:      peerAuth.NodeID,
		PeerPublic:      ed25519.PublicKey(peerAuth.PublicKey[:]),
		PeerName:        peerAuth.Name,
		PeerQuota:       peerHello.OfferedInQuota,
		PeerTotalMemory: peerHello.TotalMemory,
	}, nil
}

func sealGate(conn net.Conn, handshakeKey []byte, counter uint64, label string, t *Transcript, kind string, v interface{}) error {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("crypto: encode %s: %w", label, err)
	}
	env := gateMessage{Kind: kind, Payload: payload}
	plain, err := cbor.Marshal(&env)
	if err != nil {
		return fmt.Errorf("crypto: encode envelope %s: %w", label, err)
	}
	aead, err := newHandshakeAEAD(handshakeKey)
	if err != nil {
		return err
	}
	sealed := aead.Seal(nil, nonceFor(counter), plain, nil)
	if err := WriteFrame(conn, sealed); err != nil {
		return err
	}
	t.Mix(kind, plain)
	return nil
}

func openGate(conn net.Conn, handshakeKey []byte, counter uint64, t *Transcript) (string, []byte, error) {
	sealed, err := ReadFrame(conn)
	if err != nil {
		return "", nil, err
	}
	aead, err := newHandshakeAEAD(handshakeKey)
	if err != nil {
		return "", nil, err
	}
	plain, err := aead.Open(nil, nonceFor(counter), sealed, nil)
	if err != nil {
		return "", nil, ErrFrameAuth
	}
	var env gateMessage
	if err := cbor.Unmarshal(plain, &env); err != nil {
		return "", nil, fmt.Errorf("crypto: decode envelope: %w", err)
	}
	t.Mix(env.Kind, plain)
	return env.Kind, env.Payload, nil
}

func newHandshakeAEAD(key []byte) (cipherAEAD, error) {
	return chacha20poly1305New(key)
}

func writePlain(conn net.Conn, t *Transcript, label string, v interface{}) error {
	b, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	if err := WriteFrame(conn, b); err != nil {
		return err
	}
	t.Mix(label, b)
	return nil
}

func readPlain(conn net.Conn, t *Transcript, label string, v interface{}) error {
	b, err := ReadFrame(conn)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(b, v); err != nil {
		return err
	}
	t.Mix(label, b)
	return nil
}

func publicKeyArray(pub ed25519.PublicKey) [32]byte {
	var out [32]byte
	copy(out[:], pub)
	return out
}
