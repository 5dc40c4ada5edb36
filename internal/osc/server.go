package osc

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	goosc "github.com/hypebeast/go-osc/osc"

	"expander-service/internal/logger"
)

// Server receives OSC packets on a UDP socket and dispatches them through a
// Registry.
type Server struct {
	logger   *logger.Logger
	addr     string
	registry *Registry

	conn    net.PacketConn
	closing atomic.Bool
	done    chan struct{}
}

func NewServer(addr string, registry *Registry, l *logger.Logger) *Server {
	return &Server{
		logger:   l,
		addr:     addr,
		registry: registry,
		done:     make(chan struct{}),
	}
}

func (s *Server) Start() error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.conn = conn

	srv := &goosc.Server{Addr: s.addr, Dispatcher: s.registry}
	go func() {
		defer close(s.done)
		err := srv.Serve(conn)
		if err != nil && !s.closing.Load() && !errors.Is(err, net.ErrClosed) {
			s.logger.Errorf("OSC server stopped: %v", err)
		}
	}()

	s.logger.Infof("Serving on %s", conn.LocalAddr())
	return nil
}

// LocalAddr is the bound address, useful when listening on port 0.
func (s *Server) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close stops receiving and waits for in-flight handlers.
func (s *Server) Close() error {
	if s.conn == nil {
		return nil
	}
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	err := s.conn.Close()
	<-s.done
	s.registry.Close()
	s.logger.Infof("Server closed")
	return err
}
