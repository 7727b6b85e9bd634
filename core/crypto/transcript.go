package crypto

import "lukechampine.com/blake3"

// protocolLabel seeds every handshake transcript, binding the running
// hash to this specific protocol version and preventing cross-protocol
// transcript confusion.
const protocolLabel = "MemCloud-v2"

// Transcript is a running BLAKE3 hash of every wire message exchanged
// during a handshake, in order. It is used both as the payload that each
// party signs and as KDF context, so a transcript divergence between the
// two sides (a tampered or reordered message) is caught either by a
// signature failure or by the two sides deriving different traffic keys.
type Transcript struct {
	h *blake3.Hasher
}

// NewTranscript starts a fresh transcript seeded with the protocol label.
func NewTranscript() *Transcript {
	h := blake3.New(32, nil)
	h.Write([]byte(protocolLabel))
	return &Transcript{h: h}
}

// Mix folds label and the raw encoded wire message into the transcript.
func (t *Transcript) Mix(label string, wireBytes []byte) {
	t.h.Write([]byte(label))
	t.h.Write(wireBytes)
}

// Sum returns the current transcript digest without finalizing the
// underlying hasher, so Mix can still be called afterward.
func (t *Transcript) Sum() []byte {
	return t.h.Sum(nil)
}

// DeriveKey computes BLAKE3(shared || context || label), the KDF used for
// both the handshake key and the two directional traffic keys.
func DeriveKey(shared, context []byte, label string) []byte {
	h := blake3.New(32, nil)
	h.Write(shared)
	h.Write(context)
	h.Write([]byte(label))
	return h.Sum(nil)
}
