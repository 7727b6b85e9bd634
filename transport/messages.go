// Package transport implements the peer-to-peer wire protocol: the ten
// message types nodes exchange once a secure session is established, and
// the connection plumbing (one reader, one writer) that carries them.
package transport

// Tag identifies a wire message's type. Messages are CBOR-encoded with
// an externally-tagged envelope, so an unrecognized tag from a newer
// peer can be logged and ignored instead of corrupting the stream.
type Tag string

const (
	TagGetBlock    Tag = "get_block"
	TagBlockData   Tag = "block_data"
	TagPutBlock    Tag = "put_block"
	TagGetKey      Tag = "get_key"
	TagKeyFound    Tag = "key_found"
	TagPutKey      Tag = "put_key"
	TagKeyStored   Tag = "key_stored"
	TagUpdateQuota Tag = "update_quota"
	TagFlush       Tag = "flush"
	TagBye         Tag = "bye"
)

// Envelope is the outer wire shape: a tag plus the CBOR-encoded payload
// for that tag's message type.
type Envelope struct {
	Tag     Tag
	Payload []byte
}

type GetBlock struct {
	BlockID uint64
}

type BlockData struct {
	BlockID uint64
	Data    []byte
	Found   bool
}

type PutBlock struct {
	BlockID uint64
	Data    []byte
}

type GetKey struct {
	Key string
}

type KeyFound struct {
	Key   string
	Data  []byte
	Found bool
}

type PutKey struct {
	Key     string
	BlockID uint64
	Data    []byte
}

// KeyStored acknowledges a PutKey. ID is the block id the receiver
// minted for the data, so the sender can record where the block actually
// lives (remote_locations[id]) and bind its own key index to it.
type KeyStored struct {
	Key string
	ID  uint64
	OK  bool
}

// UpdateQuota tells a connected peer how much memory this node is
// offering to host on its behalf, renegotiating the figure advertised at
// handshake time (Hello's offered quota) without requiring a reconnect.
type UpdateQuota struct {
	Quota uint64
}

// Flush asks the peer to clear all local state, equivalent to an
// operator-issued local flush on the receiving node.
type Flush struct{}

type Bye struct {
	Reason string
}
