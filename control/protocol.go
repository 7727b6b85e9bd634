// Package control implements the local control-plane protocol: the
// framed, CBOR-encoded command/response exchange an SDK or CLI client
// uses to drive a running node over a Unix socket (or loopback TCP where
// Unix sockets aren't available).
package control

import "github.com/vibhanshu2001/memcloud/block"

// CommandKind tags which variant of Command is populated, matching the
// externally-tagged enum shape the original prototype used on the wire.
type CommandKind string

const (
	CmdStore           CommandKind = "store"
	CmdStoreRemote     CommandKind = "store_remote"
	CmdLoad            CommandKind = "load"
	CmdFree            CommandKind = "free"
	CmdListPeers       CommandKind = "list_peers"
	CmdConnect         CommandKind = "connect"
	CmdPollConnect     CommandKind = "poll_connect"
	CmdDisconnect      CommandKind = "disconnect"
	CmdUpdatePeerQuota CommandKind = "update_peer_quota"
	CmdSet             CommandKind = "set"
	CmdGet             CommandKind = "get"
	CmdListKeys        CommandKind = "list_keys"
	CmdStat            CommandKind = "stat"
	CmdStreamStart     CommandKind = "stream_start"
	CmdStreamChunk     CommandKind = "stream_chunk"
	CmdStreamFinish    CommandKind = "stream_finish"
	CmdTrustList       CommandKind = "trust_list"
	CmdTrustRemove     CommandKind = "trust_remove"
	CmdConsentList     CommandKind = "consent_list"
	CmdConsentApprove  CommandKind = "consent_approve"
	CmdConsentDeny     CommandKind = "consent_deny"
	CmdFlush           CommandKind = "flush"
	CmdFlushRemote     CommandKind = "flush_remote"
)

// Command is the envelope for every control-plane request. Exactly one
// of the pointer/value fields relevant to Kind is populated; this
// mirrors the teacher's switch-on-populated-field dispatch idiom rather
// than modeling each variant as a separate Go type, since the wire shape
// is a single externally-tagged CBOR map either way.
type Command struct {
	Kind CommandKind

	Data         []byte `cbor:",omitempty"`
	Target       string `cbor:",omitempty"` // peer name, hex node id, or trust/consent key
	ID           string `cbor:",omitempty"` // decimal block.ID
	Key          string `cbor:",omitempty"`
	Pattern      string `cbor:",omitempty"`
	Addr         string `cbor:",omitempty"`
	SizeHint     uint64 `cbor:",omitempty"`
	StreamID     uint64 `cbor:",omitempty"`
	ChunkSeq     uint32 `cbor:",omitempty"`
	OfferedQuota uint64 `cbor:",omitempty"` // Connect: memory offered to the new peer
	Quota        uint64 `cbor:",omitempty"` // UpdatePeerQuota: new allowed_in for Target
	SessionID    string `cbor:",omitempty"` // ConsentApprove/ConsentDeny
	TrustAlways  bool   `cbor:",omitempty"` // ConsentApprove: persist to the trust store too
}

// ResponseKind tags which variant of Response is populated.
type ResponseKind string

const (
	ResStored        ResponseKind = "stored"
	ResLoaded        ResponseKind = "loaded"
	ResSuccess       ResponseKind = "success"
	ResList          ResponseKind = "list"
	ResError         ResponseKind = "error"
	ResStatus        ResponseKind = "status"
	ResStreamStarted ResponseKind = "stream_started"
	ResConnectPending ResponseKind = "connect_pending"
	ResConnectStatus  ResponseKind = "connect_status"
	ResTrustList     ResponseKind = "trust_list"
	ResConsentList   ResponseKind = "consent_list"
)

// TrustSummary describes one entry in the trust store, for TrustList.
type TrustSummary struct {
	Key          string // hex-encoded Ed25519 public key
	Name         string
	FirstSeen    int64
	LastApproved int64
}

// ConsentSummary describes one inbound handshake waiting on an operator
// decision, for ConsentList.
type ConsentSummary struct {
	SessionID   string
	PeerKey     string // hex-encoded Ed25519 public key
	PeerName    string
	Quota       uint64
	TotalMemory uint64
}

// Response is the envelope for every control-plane reply.
type Response struct {
	Kind ResponseKind

	ID       string   `cbor:",omitempty"` // decimal block.ID
	Data     []byte   `cbor:",omitempty"`
	Items    []string `cbor:",omitempty"`
	Msg      string   `cbor:",omitempty"`
	StreamID uint64   `cbor:",omitempty"`

	Blocks int    `cbor:",omitempty"`
	Peers  int    `cbor:",omitempty"`
	Memory uint64 `cbor:",omitempty"`

	ConnectState  string `cbor:",omitempty"`
	ConnectReason string `cbor:",omitempty"`

	TrustEntries []TrustSummary   `cbor:",omitempty"`
	Consents     []ConsentSummary `cbor:",omitempty"`
}

// StoredResponse builds a success response carrying a new block id.
func StoredResponse(id block.ID) Response {
	return Response{Kind: ResStored, ID: id.String()}
}

// ErrorResponse builds an error response carrying msg.
func ErrorResponse(msg string) Response {
	return Response{Kind: ResError, Msg: msg}
}
