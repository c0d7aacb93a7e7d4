// Package network implements the vehicle link: a reconnecting TCP client
// that carries commands and heartbeats, and a TCP server that accepts the
// vehicle's telemetry connection.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

// Common errors
var (
	ErrNotConnected = errors.New("vehicle link is not connected")
	ErrClosed       = errors.New("vehicle link is closed")
)

// Defaults used when a config field is zero.
const (
	DefaultAddress           = "10.0.0.2:6900"
	DefaultRetryDelay        = 2 * time.Second
	DefaultHeartbeatInterval = 300 * time.Millisecond
	DefaultReadBufferSize    = 1024
	DefaultWriteTimeout      = time.Second
)

// ClientConfig configures the outbound vehicle connection.
type ClientConfig struct {
	Address           string
	RetryDelay        time.Duration
	HeartbeatInterval time.Duration
	ReadBufferSize    int
	WriteTimeout      time.Duration
	// Heartbeat is the frame written on every heartbeat tick.
	Heartbeat []byte
}

func (c *ClientConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// session is one established connection. It is closed exactly once, by
// whichever of send, heartbeat, read or shutdown fails first.
type session struct {
	conn    net.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
	err     error
}

func newSession(conn net.Conn) *session {
	return &session{conn: conn, done: make(chan struct{})}
}

func (s *session) close(err error) {
	s.once.Do(func() {
		s.err = err
		s.conn.Close()
		close(s.done)
	})
}

func (s *session) write(frame []byte, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(frame)
	return err
}

// Client keeps a persistent connection to the vehicle. Connect failures are
// retried after a fixed delay; a failed send or heartbeat tears the
// connection down and the connect loop starts over.
type Client struct {
	cfg     ClientConfig
	inbound chan<- Chunk
	logger  log.Logger
	dialer  net.Dialer

	mu      sync.Mutex
	current *session

	connected atomic.Bool
	running   atomic.Bool
	failLog   rate.Sometimes
}

// NewClient creates a client. Bytes read from the connection are pushed to
// inbound when it is non-nil, tagged with a stream id that changes on
// every reconnect.
func NewClient(cfg ClientConfig, inbound chan<- Chunk, logger log.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:     cfg,
		inbound: inbound,
		logger:  logger.WithField(log.ComponentField, "vehicle-client"),
		dialer:  net.Dialer{Timeout: cfg.RetryDelay},
		failLog: rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
}

// IsConnected reports whether a connection is currently established.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Address returns the vehicle address the client dials.
func (c *Client) Address() string {
	return c.cfg.Address
}

// Run connects and reconnects until ctx is cancelled. It returns nil on
// cancellation.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("vehicle client for %s is already running", c.cfg.Address)
	}
	defer c.running.Store(false)

	c.logger.Infof("Starting vehicle link to %s", c.cfg.Address)
	attempt := 0
	for {
		conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.Address)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Infof("Vehicle link stopped")
				return nil
			}
			attempt++
			c.failLog.Do(func() {
				c.logger.Errorf("Connection to %s failed (attempt %d): %v. Retrying in %v", c.cfg.Address, attempt, err, c.cfg.RetryDelay)
			})
			if !sleepCtx(ctx, c.cfg.RetryDelay) {
				c.logger.Infof("Vehicle link stopped")
				return nil
			}
			continue
		}

		attempt = 0
		c.logger.Infof("Connected to %s", c.cfg.Address)
		err = c.serve(ctx, newSession(conn))
		if ctx.Err() != nil {
			c.logger.Infof("Vehicle link stopped")
			return nil
		}
		c.logger.Warnf("Connection to %s lost: %v. Reconnecting", c.cfg.Address, err)
	}
}

// serve runs the heartbeat and read loops for one session and blocks until
// the session is closed or ctx is cancelled.
func (c *Client) serve(ctx context.Context, s *session) error {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	c.connected.Store(true)

	stop := context.AfterFunc(ctx, func() { s.close(ctx.Err()) })
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(s)
	}()
	go func() {
		defer wg.Done()
		c.readLoop(ctx, s)
	}()

	<-s.done
	c.connected.Store(false)
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
	wg.Wait()
	return s.err
}

func (c *Client) heartbeatLoop(s *session) {
	if len(c.cfg.Heartbeat) == 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(c.cfg.Heartbeat, c.cfg.WriteTimeout); err != nil {
				s.close(fmt.Errorf("heartbeat failed: %w", err))
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, s *session) {
	stream := nextStream()
	defer sendEOF(ctx, c.inbound, stream)

	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 && c.inbound != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case c.inbound <- Chunk{Stream: stream, Data: data}:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
		if err != nil {
			s.close(fmt.Errorf("read failed: %w", err))
			return
		}
	}
}

// Send writes one frame buffer to the vehicle. A write failure closes the
// connection so the run loop reconnects.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return ErrNotConnected
	}
	if err := s.write(frame, c.cfg.WriteTimeout); err != nil {
		err = fmt.Errorf("send to %s failed: %w", c.cfg.Address, err)
		s.close(err)
		return err
	}
	return nil
}

// sleepCtx waits for d and reports false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
