// Package fabric wires the block store, peer registry, trust store,
// consent manager, and transport listener together into a single
// runnable node, and implements the control-plane and peer-transport
// operations that need more than one of those pieces to cooperate.
package fabric

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/vibhanshu2001/memcloud/block"
	"github.com/vibhanshu2001/memcloud/config"
	memcrypto "github.com/vibhanshu2001/memcloud/core/crypto"
	"github.com/vibhanshu2001/memcloud/core/worker"
	"github.com/vibhanshu2001/memcloud/consent"
	"github.com/vibhanshu2001/memcloud/peer"
	"github.com/vibhanshu2001/memcloud/transport"
	"github.com/vibhanshu2001/memcloud/trust"
)

// Node ties every MemCloud component together into the object a node
// process builds once at startup.
type Node struct {
	worker.Worker

	cfg      config.Config
	log      *logging.Logger
	identity *memcrypto.Identity

	blocks  *block.Store
	peers   *peer.Registry
	trust   *trust.Store
	consent *consent.Manager

	listener net.Listener
}

// New constructs a Node from cfg. It does not yet listen for
// connections; call Start for that.
func New(cfg config.Config, log *logging.Logger) (*Node, error) {
	identity, err := memcrypto.NewIdentity()
	if err != nil {
		return nil, fmt.Errorf("fabric: generate identity: %w", err)
	}

	trustStore, err := trust.Open(cfg.TrustStorePath)
	if err != nil {
		return nil, fmt.Errorf("fabric: open trust store: %w", err)
	}

	return &Node{
		cfg:      cfg,
		log:      log,
		identity: identity,
		blocks:   block.NewStore(cfg.MaxMemoryBytes),
		peers:    peer.NewRegistry(),
		trust:    trustStore,
		consent:  consent.NewManager(memcrypto.HandshakeTimeout),
	}, nil
}

// Start binds the peer transport listener and begins accepting
// connections.
func (n *Node) Start() error {
	ln, port, err := transport.Listen(n.cfg.ListenHost, n.cfg.ListenPort)
	if err != nil {
		return err
	}
	n.listener = ln
	n.log.Infof("peer transport listening on %s:%d", n.cfg.ListenHost, port)
	n.Go(n.acceptLoop)
	return nil
}

// Stop halts the accept loop and closes the listener.
func (n *Node) Stop() {
	n.Halt()
	if n.listener != nil {
		n.listener.Close()
	}
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.HaltCh():
				return
			default:
				n.log.Errorf("fabric: accept: %s", err)
				return
			}
		}
		n.Go(func() { n.acceptPeer(conn) })
	}
}

func (n *Node) acceptPeer(conn net.Conn) {
	sessionID := fmt.Sprintf("%p", conn)
	session, err := memcrypto.Accept(
		conn, n.identity, n.cfg.DefaultPeerQuotaBytes, n.cfg.MaxMemoryBytes, n.cfg.Name,
		n.trust.IsTrusted,
		n.requestConsent,
		sessionID,
	)
	if err != nil {
		n.log.Warningf("fabric: inbound handshake failed: %s", err)
		conn.Close()
		return
	}
	n.adoptSession(conn, session, n.cfg.DefaultPeerQuotaBytes)
}

func (n *Node) requestConsent(ctx context.Context, sessionID string, pub ed25519.PublicKey, name string, quota, totalMemory uint64) (bool, bool, error) {
	n.consent.Request(sessionID, pub, name, quota, totalMemory)
	decision := n.consent.Wait(ctx, sessionID)
	switch decision {
	case consent.ApprovedAndTrusted:
		if err := n.trust.Approve(pub, name); err != nil {
			return false, false, err
		}
		return true, true, nil
	case consent.ApprovedOnce:
		return true, false, nil
	default:
		return false, false, nil
	}
}

// ResolveConsent resolves a pending inbound handshake with an operator's
// decision. It is the backing call for the control plane's ConsentApprove
// and ConsentDeny commands.
func (n *Node) ResolveConsent(sessionID string, decision consent.Decision) error {
	return n.consent.Resolve(sessionID, decision)
}

// PendingConsents lists inbound handshakes currently waiting on an
// operator decision.
func (n *Node) PendingConsents() []consent.PendingConsent {
	return n.consent.PendingList()
}

// adoptSession registers a peer that just finished a handshake, in
// either direction. allowedIn is how much this node grants the peer to
// store here: the configured default for an inbound connection, or the
// caller-chosen offered_quota for one this node initiated.
func (n *Node) adoptSession(conn net.Conn, session *memcrypto.Session, allowedIn uint64) {
	sealed, err := memcrypto.NewSealedConn(conn, session.SendKey, session.RecvKey)
	if err != nil {
		n.log.Errorf("fabric: wrap sealed conn: %s", err)
		conn.Close()
		return
	}

	handler := &nodeHandler{node: n, peerNodeID: session.PeerNodeID}
	tconn := transport.NewConn(n.log, sealed, handler)
	tconn.Start()

	rec := &peer.Record{
		NodeID:      session.PeerNodeID,
		PublicKey:   session.PeerPublic,
		Name:        session.PeerName,
		TotalMemory: session.PeerTotalMemory,
		AllowedIn:   allowedIn,
		Sender:      &connSender{conn: tconn},
		ConnectedAt: time.Now(),
	}
	rec.SetOfferedOut(session.PeerQuota)
	n.peers.Add(rec)
	n.log.Noticef("peer %s (%x) authenticated", rec.Name, rec.NodeID)
}

// connSender adapts a *transport.Conn to peer.Sender.
type connSender struct {
	conn *transport.Conn
}

func (c *connSender) Send(tag string, v interface{}) error {
	return c.conn.Send(transport.Tag(tag), v)
}

func (c *connSender) Close() error {
	return c.conn.Close()
}
