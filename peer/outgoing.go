package peer

import (
	"sync"
	"time"
)

// OutgoingState is the lifecycle of a node-initiated connection attempt
// that the control plane lets a caller poll for instead of blocking on
// the handshake.
type OutgoingState int

const (
	Connecting OutgoingState = iota
	WaitingForConsent
	Authenticated
	Failed
)

func (s OutgoingState) String() string {
	switch s {
	case WaitingForConsent:
		return "waiting_consent"
	case Authenticated:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

type outgoingEntry struct {
	state     OutgoingState
	reason    string
	nodeID    [16]byte
	reachedAt time.Time
}

// OutgoingTracker lets a node kick off a connection attempt and later
// poll its progress, rather than blocking the control-plane caller on
// the entire handshake. An entry is removed on the first poll observed
// after it reaches a terminal state (Authenticated or Failed), or by
// Sweep once it has been terminal for more than 5 minutes, whichever
// comes first.
type OutgoingTracker struct {
	mu      sync.Mutex
	entries map[string]*outgoingEntry
}

// NewOutgoingTracker constructs an empty tracker.
func NewOutgoingTracker() *OutgoingTracker {
	return &OutgoingTracker{entries: make(map[string]*outgoingEntry)}
}

// Start records a new in-progress connection attempt to addr.
func (t *OutgoingTracker) Start(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[addr] = &outgoingEntry{state: Connecting}
}

// SetWaitingForConsent marks addr's attempt as blocked on the remote
// operator's approval.
func (t *OutgoingTracker) SetWaitingForConsent(addr string) {
	t.update(addr, func(e *outgoingEntry) {
		e.state = WaitingForConsent
	})
}

// SetAuthenticated marks addr's attempt as successfully completed.
func (t *OutgoingTracker) SetAuthenticated(addr string, nodeID [16]byte) {
	t.update(addr, func(e *outgoingEntry) {
		e.state = Authenticated
		e.nodeID = nodeID
		e.reachedAt = time.Now()
	})
}

// SetFailed marks addr's attempt as failed with reason.
func (t *OutgoingTracker) SetFailed(addr string, reason string) {
	t.update(addr, func(e *outgoingEntry) {
		e.state = Failed
		e.reason = reason
		e.reachedAt = time.Now()
	})
}

func (t *OutgoingTracker) update(addr string, fn func(*outgoingEntry)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		e = &outgoingEntry{}
		t.entries[addr] = e
	}
	fn(e)
}

// Poll reports the current state of addr's connection attempt. If the
// state is terminal (Authenticated or Failed), the entry is removed
// after this call so a subsequent poll reports "unknown" rather than
// replaying a stale result forever.
func (t *OutgoingTracker) Poll(addr string) (state OutgoingState, nodeID [16]byte, reason string, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		return 0, [16]byte{}, "", false
	}
	state, nodeID, reason = e.state, e.nodeID, e.reason
	if e.state == Authenticated || e.state == Failed {
		delete(t.entries, addr)
	}
	return state, nodeID, reason, true
}

// Sweep removes any entry that reached a terminal state more than 5
// minutes ago and was never polled, bounding memory for attempts the
// caller forgot about.
func (t *OutgoingTracker) Sweep() {
	const maxAge = 5 * time.Minute
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, e := range t.entries {
		if (e.state == Authenticated || e.state == Failed) && !e.reachedAt.IsZero() && now.Sub(e.reachedAt) > maxAge {
			delete(t.entries, addr)
		}
	}
}
