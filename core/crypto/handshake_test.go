package crypto

import (
	"context"
	"crypto/ed25519"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeDerivesSymmetricKeys(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	initiator, err := NewIdentity()
	require.NoError(t, err)
	responder, err := NewIdentity()
	require.NoError(t, err)

	var wg sync.WaitGroup
	var clientSession, serverSession *Session
	var clientErr, serverErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		clientSession, clientErr = Dial(clientConn, initiator, 1024, 4096, "initiator", nil)
	}()
	go func() {
		defer wg.Done()
		serverSession, serverErr = Accept(serverConn, responder, 2048, 8192, "responder",
			func(pub ed25519.PublicKey) bool { return true },
			func(ctx context.Context, sessionID string, pub ed25519.PublicKey, name string, quota, totalMemory uint64) (bool, bool, error) {
				return false, false, nil
			}, "session-1")
	}()
	wg.Wait()

	require.NoError(t, clientErr)
	require.NoError(t, serverErr)

	require.Equal(t, clientSession.SendKey, serverSession.RecvKey)
	require.Equal(t, clientSession.RecvKey, serverSession.SendKey)
	require.Equal(t, responder.NodeID.Bytes(), clientSession.PeerNodeID[:])
	require.Equal(t, initiator.NodeID.Bytes(), serverSession.PeerNodeID[:])
	require.EqualValues(t, 2048, clientSession.PeerQuota)
	require.EqualValues(t, 1024, serverSession.PeerQuota)
	require.Equal(t, "responder", clientSession.PeerName)
	require.Equal(t, "initiator", serverSession.PeerName)
}

func TestHandshakeConsentDenied(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	initiator, err := NewIdentity()
	require.NoError(t, err)
	responder, err := NewIdentity()
	require.NoError(t, err)

	var wg sync.WaitGroup
	var clientErr, serverErr error
	var waitedForConsent bool
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, clientErr = Dial(clientConn, initiator, 1024, 4096, "initiator", func() { waitedForConsent = true })
	}()
	go func() {
		defer wg.Done()
		_, serverErr = Accept(serverConn, responder, 2048, 8192, "responder",
			func(pub ed25519.PublicKey) bool { return false },
			func(ctx context.Context, sessionID string, pub ed25519.PublicKey, name string, quota, totalMemory uint64) (bool, bool, error) {
				return false, false, nil
			}, "session-2")
	}()
	wg.Wait()

	require.ErrorIs(t, serverErr, ErrConsentDenied)
	require.ErrorIs(t, clientErr, ErrConsentDenied)
	require.True(t, waitedForConsent)
}
