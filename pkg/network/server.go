package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

// ServerConfig configures the telemetry listener.
type ServerConfig struct {
	ListenAddress  string
	ReadBufferSize int
}

// Server accepts the vehicle's telemetry connection. Only one connection is
// active at a time: a newer accept closes the previous one.
type Server struct {
	cfg     ServerConfig
	inbound chan<- Chunk
	logger  log.Logger

	mu       sync.Mutex
	listener net.Listener
	active   net.Conn

	connected atomic.Bool
	accepted  atomic.Uint64
	wg        sync.WaitGroup
}

// NewServer creates a telemetry server that pushes every chunk read into inbound.
func NewServer(cfg ServerConfig, inbound chan<- Chunk, logger log.Logger) *Server {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	return &Server{
		cfg:     cfg,
		inbound: inbound,
		logger:  logger.WithField(log.ComponentField, "telemetry-server"),
	}
}

// Listen binds the listener. Serve must be called afterwards.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Infof("Listening for vehicle telemetry on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsConnected reports whether a vehicle connection is active.
func (s *Server) IsConnected() bool {
	return s.connected.Load()
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() uint64 {
	return s.accepted.Load()
}

// Run listens and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener and the active connection and waits for the read loop to exit.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("telemetry server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Errorf("Accept failed: %v", err)
			continue
		}

		s.accepted.Add(1)
		s.logger.Infof("Vehicle telemetry connection from %s", conn.RemoteAddr())

		s.mu.Lock()
		if s.active != nil {
			s.logger.Warnf("Replacing telemetry connection from %s", s.active.RemoteAddr())
			s.active.Close()
		}
		s.active = conn
		s.mu.Unlock()
		s.connected.Store(true)

		s.wg.Add(1)
		go s.readLoop(ctx, conn)
	}

	s.mu.Lock()
	if s.active != nil {
		s.active.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Infof("Telemetry server stopped")
	return nil
}

func (s *Server) readLoop(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		if s.active == conn {
			s.active = nil
			s.connected.Store(false)
		}
		s.mu.Unlock()
	}()

	stream := nextStream()
	defer sendEOF(ctx, s.inbound, stream)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case s.inbound <- Chunk{Stream: stream, Data: data}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Infof("Vehicle closed telemetry connection %s", conn.RemoteAddr())
			} else if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warnf("Telemetry read from %s failed: %v", conn.RemoteAddr(), err)
			}
			return
		}
		if n == 0 {
			return
		}
	}
}
