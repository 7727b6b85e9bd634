package transport

import (
	logging "gopkg.in/op/go-logging.v1"

	"github.com/fxamacker/cbor/v2"
	memcrypto "github.com/vibhanshu2001/memcloud/core/crypto"
	"github.com/vibhanshu2001/memcloud/core/worker"
)

// Handler processes one decoded wire message. The transport does not
// know about blocks, keys, or peers; fabric wires a Handler that does.
type Handler interface {
	OnMessage(tag Tag, payload []byte) error
	OnClose(reason string)
}

// Conn owns one peer connection: a single reader goroutine decoding
// frames and dispatching to Handler, and a single writer goroutine
// draining a bounded send queue, so at most one goroutine ever writes to
// the underlying SealedConn at a time.
type Conn struct {
	worker.Worker

	log     *logging.Logger
	sealed  *memcrypto.SealedConn
	handler Handler

	sendCh chan Envelope
}

// NewConn wraps an established SealedConn. Start must be called to begin
// the reader and writer goroutines.
func NewConn(log *logging.Logger, sealed *memcrypto.SealedConn, handler Handler) *Conn {
	return &Conn{
		log:     log,
		sealed:  sealed,
		handler: handler,
		sendCh:  make(chan Envelope, 64),
	}
}

// Start launches the reader and writer goroutines.
func (c *Conn) Start() {
	c.Go(c.readLoop)
	c.Go(c.writeLoop)
}

// Send enqueues msg for delivery. It never blocks on the network; if the
// send queue is full the caller gets errSendQueueFull immediately rather
// than stalling behind a slow peer.
func (c *Conn) Send(tag Tag, v interface{}) error {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	env := Envelope{Tag: tag, Payload: payload}
	select {
	case c.sendCh <- env:
		return nil
	case <-c.HaltCh():
		return errConnClosed
	default:
		return errSendQueueFull
	}
}

// Close tears down the connection, halting both goroutines.
func (c *Conn) Close() error {
	c.Halt()
	return c.sealed.Close()
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.HaltCh():
			return
		case env := <-c.sendCh:
			raw, err := cbor.Marshal(&env)
			if err != nil {
				c.log.Errorf("encode envelope: %s", err)
				continue
			}
			if err := c.sealed.WriteMessage(raw); err != nil {
				c.log.Errorf("write message: %s", err)
				c.handler.OnClose(err.Error())
				c.Halt()
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer c.log.Debug("read loop terminating")
	for {
		raw, err := c.sealed.ReadMessage()
		if err != nil {
			select {
			case <-c.HaltCh():
				return
			default:
			}
			c.handler.OnClose(err.Error())
			c.Halt()
			return
		}
		var env Envelope
		if err := cbor.Unmarshal(raw, &env); err != nil {
			c.log.Warningf("malformed envelope, dropping: %s", err)
			continue
		}
		if err := c.handler.OnMessage(env.Tag, env.Payload); err != nil {
			c.log.Warningf("handler error for tag %s: %s", env.Tag, err)
		}
	}
}
