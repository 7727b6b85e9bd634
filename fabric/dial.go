package fabric

import (
	"net"

	memcrypto "github.com/vibhanshu2001/memcloud/core/crypto"
)

// Connect kicks off an outgoing connection to addr without blocking the
// caller on the handshake. Progress is observed via PollConnect.
// offeredQuota is how much memory this node offers to host for the new
// peer; zero falls back to the configured default.
func (n *Node) Connect(addr string, offeredQuota uint64) {
	if offeredQuota == 0 {
		offeredQuota = n.cfg.DefaultPeerQuotaBytes
	}
	n.peers.Outgoing().Sweep()
	n.peers.Outgoing().Start(addr)
	n.Go(func() { n.dial(addr, offeredQuota) })
}

// PollConnect reports the status of a previously started outgoing
// connection attempt: pending, waiting_consent, connected, failed, or
// unknown if addr was never dialed (or the attempt already expired).
func (n *Node) PollConnect(addr string) (state string, reason string) {
	s, _, r, ok := n.peers.Outgoing().Poll(addr)
	if !ok {
		return "unknown", ""
	}
	return s.String(), r
}

func (n *Node) dial(addr string, offeredQuota uint64) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		n.peers.Outgoing().SetFailed(addr, err.Error())
		return
	}

	session, err := memcrypto.Dial(conn, n.identity, offeredQuota, n.cfg.MaxMemoryBytes, n.cfg.Name, func() {
		n.peers.Outgoing().SetWaitingForConsent(addr)
	})
	if err != nil {
		if err == memcrypto.ErrConsentDenied {
			n.peers.Outgoing().SetFailed(addr, "consent denied by remote operator")
		} else {
			n.peers.Outgoing().SetFailed(addr, err.Error())
		}
		conn.Close()
		return
	}

	n.adoptSession(conn, session, offeredQuota)
	n.peers.Outgoing().SetAuthenticated(addr, session.PeerNodeID)
}
