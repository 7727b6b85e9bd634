package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	logging "gopkg.in/op/go-logging.v1"

	memcrypto "github.com/vibhanshu2001/memcloud/core/crypto"
)

type recordingHandler struct {
	mu       sync.Mutex
	received []Tag
	closed   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closed: make(chan struct{})}
}

func (h *recordingHandler) OnMessage(tag Tag, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, tag)
	return nil
}

func (h *recordingHandler) OnClose(reason string) {
	close(h.closed)
}

func testLogger() *logging.Logger {
	l := logging.MustGetLogger("transport_test")
	l.SetBackend(logging.NewLogBackend(discardWriter{}, "", 0))
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func pairedSealedConns(t *testing.T) (*memcrypto.SealedConn, *memcrypto.SealedConn) {
	t.Helper()
	a, b := net.Pipe()
	keyA := make([]byte, 32)
	keyB := make([]byte, 32)
	for i := range keyA {
		keyA[i] = byte(i)
		keyB[i] = byte(200 + i)
	}
	sa, err := memcrypto.NewSealedConn(a, keyA, keyB)
	require.NoError(t, err)
	sb, err := memcrypto.NewSealedConn(b, keyB, keyA)
	require.NoError(t, err)
	return sa, sb
}

func TestConnSendAndReceive(t *testing.T) {
	sa, sb := pairedSealedConns(t)

	hA := newRecordingHandler()
	hB := newRecordingHandler()

	connA := NewConn(testLogger(), sa, hA)
	connB := NewConn(testLogger(), sb, hB)
	connA.Start()
	connB.Start()
	defer connA.Close()
	defer connB.Close()

	require.NoError(t, connA.Send(TagGetBlock, &GetBlock{BlockID: 7}))

	require.Eventually(t, func() bool {
		hB.mu.Lock()
		defer hB.mu.Unlock()
		return len(hB.received) == 1
	}, time.Second, 5*time.Millisecond)

	hB.mu.Lock()
	require.Equal(t, TagGetBlock, hB.received[0])
	hB.mu.Unlock()
}
