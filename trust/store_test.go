package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) ed25519.PublicKey {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub
}

func TestApproveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trusted.json")

	s, err := Open(path)
	require.NoError(t, err)

	pub := newTestKey(t)
	require.False(t, s.IsTrusted(pub))

	require.NoError(t, s.Approve(pub, "alice"))
	require.True(t, s.IsTrusted(pub))

	reloaded, err := Open(path)
	require.NoError(t, err)
	require.True(t, reloaded.IsTrusted(pub))
	entry, ok := reloaded.Get(pub)
	require.True(t, ok)
	require.Equal(t, "alice", entry.Name)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trusted.json")
	s, err := Open(path)
	require.NoError(t, err)

	pub := newTestKey(t)
	require.NoError(t, s.Approve(pub, "bob"))

	removed, err := s.Remove(pub)
	require.NoError(t, err)
	require.True(t, removed)
	require.False(t, s.IsTrusted(pub))

	removedAgain, err := s.Remove(pub)
	require.NoError(t, err)
	require.False(t, removedAgain)
}
