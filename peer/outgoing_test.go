package peer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutgoingTrackerLifecycle(t *testing.T) {
	tr := NewOutgoingTracker()
	tr.Start("10.0.0.1:8080")

	state, _, _, ok := tr.Poll("10.0.0.1:8080")
	require.True(t, ok)
	require.Equal(t, Connecting, state)

	tr.SetWaitingForConsent("10.0.0.1:8080")
	state, _, _, ok = tr.Poll("10.0.0.1:8080")
	require.True(t, ok)
	require.Equal(t, WaitingForConsent, state)

	tr.SetAuthenticated("10.0.0.1:8080", [16]byte{9})
	state, nodeID, _, ok := tr.Poll("10.0.0.1:8080")
	require.True(t, ok)
	require.Equal(t, Authenticated, state)
	require.Equal(t, [16]byte{9}, nodeID)

	// Entry is removed once a terminal state has been observed.
	_, _, _, ok = tr.Poll("10.0.0.1:8080")
	require.False(t, ok)
}

func TestOutgoingTrackerFailed(t *testing.T) {
	tr := NewOutgoingTracker()
	tr.Start("10.0.0.2:8080")
	tr.SetFailed("10.0.0.2:8080", "connection refused")

	state, _, reason, ok := tr.Poll("10.0.0.2:8080")
	require.True(t, ok)
	require.Equal(t, Failed, state)
	require.Equal(t, "connection refused", reason)
}
