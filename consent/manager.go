// Package consent tracks inbound handshakes that are waiting on operator
// approval before they may proceed.
package consent

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/vibhanshu2001/memcloud/core/worker"
)

// Decision is the outcome of an operator's review of a pending consent
// request.
type Decision int

const (
	Pending Decision = iota
	ApprovedOnce
	ApprovedAndTrusted
	Denied
)

func (d Decision) String() string {
	switch d {
	case ApprovedOnce:
		return "approved_once"
	case ApprovedAndTrusted:
		return "approved_and_trusted"
	case Denied:
		return "denied"
	default:
		return "pending"
	}
}

// PendingConsent describes one inbound handshake awaiting a decision.
type PendingConsent struct {
	SessionID   string
	PeerPubKey  ed25519.PublicKey
	PeerName    string
	Quota       uint64
	TotalMemory uint64
	CreatedAt   time.Time
}

type subscriber struct {
	ch chan decisionEvent
}

type decisionEvent struct {
	sessionID string
	decision  Decision
}

// Manager holds every pending consent request and fans decisions out to
// whichever goroutine is waiting on each one.
type Manager struct {
	worker.Worker

	timeout time.Duration

	mu          sync.Mutex
	pending     map[string]PendingConsent
	subscribers map[int]*subscriber
	nextSubID   int
}

// NewManager constructs a Manager. timeout bounds how long a pending
// request may sit unresolved before the janitor goroutine treats it as
// Denied; it should match the handshake timeout so a request can never
// outlive the connection it belongs to.
func NewManager(timeout time.Duration) *Manager {
	m := &Manager{
		timeout:     timeout,
		pending:     make(map[string]PendingConsent),
		subscribers: make(map[int]*subscriber),
	}
	m.Go(m.janitor)
	return m
}

// Request registers a new pending consent request.
func (m *Manager) Request(sessionID string, peerPub ed25519.PublicKey, peerName string, quota, totalMemory uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[sessionID] = PendingConsent{
		SessionID:   sessionID,
		PeerPubKey:  append(ed25519.PublicKey(nil), peerPub...),
		PeerName:    peerName,
		Quota:       quota,
		TotalMemory: totalMemory,
		CreatedAt:   time.Now(),
	}
}

// Wait blocks until sessionID is resolved or ctx is done, whichever
// comes first. A context cancellation, or the manager being halted, is
// treated as Denied.
func (m *Manager) Wait(ctx context.Context, sessionID string) Decision {
	sub, id := m.subscribe()
	defer m.unsubscribe(id)

	for {
		select {
		case ev := <-sub.ch:
			if ev.sessionID == sessionID {
				return ev.decision
			}
		case <-ctx.Done():
			return Denied
		case <-m.HaltCh():
			return Denied
		}
	}
}

// Resolve removes the pending request for sessionID and notifies every
// waiter. Returns an error if there was no pending request under that
// id.
func (m *Manager) Resolve(sessionID string, decision Decision) error {
	m.mu.Lock()
	_, ok := m.pending[sessionID]
	if ok {
		delete(m.pending, sessionID)
	}
	subs := make([]*subscriber, 0, len(m.subscribers))
	for _, s := range m.subscribers {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("consent: no pending request for session %s", sessionID)
	}
	for _, s := range subs {
		select {
		case s.ch <- decisionEvent{sessionID: sessionID, decision: decision}:
		default:
		}
	}
	return nil
}

// PendingList returns a snapshot of every currently pending request.
func (m *Manager) PendingList() []PendingConsent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingConsent, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p)
	}
	return out
}

func (m *Manager) subscribe() (*subscriber, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &subscriber{ch: make(chan decisionEvent, 8)}
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = sub
	return sub, id
}

func (m *Manager) unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, id)
}

// janitor sweeps pending requests that outlived the handshake timeout
// without a decision and resolves them as Denied, so a caller blocked in
// Wait is never stuck past the connection that originated the request.
func (m *Manager) janitor() {
	ticker := time.NewTicker(m.timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-m.HaltCh():
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	now := time.Now()
	m.mu.Lock()
	var expired []string
	for id, p := range m.pending {
		if now.Sub(p.CreatedAt) > m.timeout {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.Resolve(id, Denied)
	}
}
