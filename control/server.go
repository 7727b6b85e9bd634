package control

import (
	"net"
	"os"

	"github.com/fxamacker/cbor/v2"
	logging "gopkg.in/op/go-logging.v1"

	memcrypto "github.com/vibhanshu2001/memcloud/core/crypto"
	"github.com/vibhanshu2001/memcloud/core/worker"
)

// Dispatcher executes one decoded Command and returns the Response to
// send back.
type Dispatcher interface {
	Handle(cmd Command) Response
}

// Server accepts control-plane clients on a Unix socket and, at the same
// time, a loopback TCP listener, mirroring the dual-bind shape of the
// original SDK gateway: a local tool can reach the node either way
// without the operator having to pick one.
type Server struct {
	worker.Worker

	log        *logging.Logger
	dispatcher Dispatcher

	unixListener net.Listener
	tcpListener  net.Listener
	socketPath   string
}

// DefaultTCPAddr is the loopback fallback/companion address for clients
// that can't use a Unix socket.
const DefaultTCPAddr = "127.0.0.1:7070"

// NewServer binds socketPath (removing any stale socket file first) and
// DefaultTCPAddr, and constructs a Server around dispatcher.
func NewServer(log *logging.Logger, socketPath string, dispatcher Dispatcher) (*Server, error) {
	os.Remove(socketPath)

	unixLn, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}

	tcpLn, err := net.Listen("tcp", DefaultTCPAddr)
	if err != nil {
		unixLn.Close()
		return nil, err
	}

	return &Server{
		log:          log,
		dispatcher:   dispatcher,
		unixListener: unixLn,
		tcpListener:  tcpLn,
		socketPath:   socketPath,
	}, nil
}

// Start launches both accept loops.
func (s *Server) Start() {
	s.Go(func() { s.acceptLoop(s.unixListener) })
	s.Go(func() { s.acceptLoop(s.tcpListener) })
}

// Stop halts both accept loops and closes both listeners.
func (s *Server) Stop() {
	s.Halt()
	s.unixListener.Close()
	s.tcpListener.Close()
	os.Remove(s.socketPath)
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.HaltCh():
				return
			default:
				s.log.Errorf("control: accept: %s", err)
				return
			}
		}
		s.Go(func() { s.serveClient(conn) })
	}
}

func (s *Server) serveClient(conn net.Conn) {
	defer conn.Close()
	for {
		raw, err := memcrypto.ReadFrame(conn)
		if err != nil {
			return
		}
		var cmd Command
		if err := cbor.Unmarshal(raw, &cmd); err != nil {
			s.log.Warningf("control: malformed command: %s", err)
			return
		}

		resp := s.dispatcher.Handle(cmd)

		respBytes, err := cbor.Marshal(&resp)
		if err != nil {
			s.log.Errorf("control: encode response: %s", err)
			return
		}
		if err := memcrypto.WriteFrame(conn, respBytes); err != nil {
			return
		}
	}
}
