// Package server implements the TCP front-end: one goroutine per accepted
// connection decodes wire frames, translates them into Engine calls, and
// encodes responses. Grounded on the teacher repo's preference for
// hand-rolled concurrency (no net/rpc, no framework) generalized to a
// net.Listener accept loop and the same encoding/binary-flavored framing
// style the teacher uses in wal.go and sst/writer.go.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau/lsmkv/internal/engine"
	"github.com/bureau/lsmkv/internal/protocol"
)

// Server accepts TCP connections on a listen address, enforcing a
// connection cap and a shutdown drain timeout.
type Server struct {
	engine         *engine.Engine
	maxConnections int32
	drainTimeout   time.Duration

	ln       net.Listener
	conns    int32
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// New constructs a Server bound to addr, backed by e, capping concurrent
// connections at maxConnections and allowing up to drainTimeout for
// in-flight connections to finish on Shutdown.
func New(e *engine.Engine, addr string, maxConnections int, drainTimeout time.Duration) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s := &Server{
		engine:         e,
		maxConnections: int32(maxConnections),
		drainTimeout:   drainTimeout,
		ln:             ln,
		shutdown:       make(chan struct{}),
	}
	return s, nil
}

// Addr returns the server's bound listen address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve runs the accept loop until Shutdown is called or Accept returns a
// permanent error.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		if atomic.AddInt32(&s.conns, 1) > s.maxConnections {
			atomic.AddInt32(&s.conns, -1)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting new connections and gives in-flight connections
// up to drainTimeout to finish.
func (s *Server) Shutdown() error {
	close(s.shutdown)
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("server: close listener: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.drainTimeout):
		return fmt.Errorf("server: shutdown: %d connections still draining after %s", atomic.LoadInt32(&s.conns), s.drainTimeout)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer atomic.AddInt32(&s.conns, -1)
	defer conn.Close()

	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}

		req, err := protocol.DecodeRequest(payload)
		if err != nil {
			s.writeResponse(conn, protocol.EncodeError(err.Error()))
			continue
		}

		resp := s.dispatch(req)
		if err := s.writeResponse(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req protocol.Request) []byte {
	switch req.Op {
	case protocol.OpGet:
		value, found, err := s.engine.Get(req.Key)
		if err != nil {
			return protocol.EncodeError(err.Error())
		}
		if !found {
			return protocol.EncodeError("not found")
		}
		return protocol.EncodeOkValue(value)

	case protocol.OpSet:
		if err := s.engine.Set(req.Key, req.Value); err != nil {
			return protocol.EncodeError(err.Error())
		}
		return protocol.EncodeOk()

	default:
		return protocol.EncodeError("unknown op")
	}
}

func (s *Server) writeResponse(conn net.Conn, payload []byte) error {
	if err := protocol.WriteFrame(conn, payload); err != nil {
		fmt.Fprintf(os.Stderr, "server: write response: %v\n", err)
		return err
	}
	return nil
}
