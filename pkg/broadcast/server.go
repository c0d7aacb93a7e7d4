package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

// Defaults used when a config field is zero.
const (
	DefaultPath         = "/ws/"
	DefaultCloseTimeout = 2 * time.Second
)

// Config configures the observer endpoint.
type Config struct {
	Path         string
	CloseTimeout time.Duration
}

// MessageHandler processes the value of one key of an observer message.
type MessageHandler interface {
	HandleClientMessage(client uuid.UUID, value json.RawMessage) error
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(client uuid.UUID, value json.RawMessage) error

// HandleClientMessage calls the function
func (f HandlerFunc) HandleClientMessage(client uuid.UUID, value json.RawMessage) error {
	return f(client, value)
}

// Stats counts broadcast activity.
type Stats struct {
	Clients     int    `json:"clients"`
	Backlog     int    `json:"backlog"`
	Broadcasts  uint64 `json:"broadcasts"`
	Deliveries  uint64 `json:"deliveries"`
	ClientMsgs  uint64 `json:"client_messages"`
	Unhandled   uint64 `json:"unhandled_keys"`
	ForceClosed uint64 `json:"force_closed"`
}

// Server distributes telemetry to observers connected over WebSocket.
type Server struct {
	cfg      Config
	registry *ClientRegistry
	logger   log.Logger

	mu       sync.RWMutex
	handlers map[string]MessageHandler

	broadcasts  atomic.Uint64
	deliveries  atomic.Uint64
	clientMsgs  atomic.Uint64
	unhandled   atomic.Uint64
	forceClosed atomic.Uint64

	shutdownOnce sync.Once
}

// NewServer creates a broadcast server with an empty registry.
func NewServer(cfg Config, logger log.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}
	return &Server{
		cfg:      cfg,
		registry: NewClientRegistry(),
		logger:   logger.WithField(log.ComponentField, "broadcast"),
		handlers: make(map[string]MessageHandler),
	}
}

// Registry exposes the client registry.
func (s *Server) Registry() *ClientRegistry {
	return s.registry
}

// Start mounts the observer endpoint on app.
func (s *Server) Start(app *fiber.App) {
	app.Use(s.cfg.Path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(s.cfg.Path, websocket.New(s.handleConn))
	s.logger.Infof("Observer endpoint mounted at %s", s.cfg.Path)
}

// OnClientMessage registers the handler for messages carrying key.
func (s *Server) OnClientMessage(key string, handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key] = handler
	s.logger.Debugf("Registered observer handler for key: %s", key)
}

// OnClientMessageFunc registers a handler function for key.
func (s *Server) OnClientMessageFunc(key string, handler func(uuid.UUID, json.RawMessage) error) {
	s.OnClientMessage(key, HandlerFunc(handler))
}

// Broadcast serializes v once and writes it to every connected observer.
func (s *Server) Broadcast(v interface{}, ensureDelivery bool) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize broadcast: %w", err)
	}
	s.BroadcastRaw(msg, ensureDelivery)
	return nil
}

// BroadcastRaw writes an already serialized message and returns the number
// of observers it reached.
func (s *Server) BroadcastRaw(msg []byte, ensureDelivery bool) int {
	s.broadcasts.Add(1)
	n := s.registry.Broadcast(msg, ensureDelivery)
	s.deliveries.Add(uint64(n))
	return n
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Clients:     s.registry.Len(),
		Backlog:     s.registry.BacklogLen(),
		Broadcasts:  s.broadcasts.Load(),
		Deliveries:  s.deliveries.Load(),
		ClientMsgs:  s.clientMsgs.Load(),
		Unhandled:   s.unhandled.Load(),
		ForceClosed: s.forceClosed.Load(),
	}
}

func (s *Server) handleConn(conn *websocket.Conn) {
	member, err := s.registry.Add(conn)
	if err != nil {
		if errors.Is(err, ErrRegistryClosed) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
		} else {
			s.logger.Warnf("Failed to flush backlog to %s: %v", conn.RemoteAddr(), err)
		}
		return
	}
	logger := s.logger.WithField("client", member.ID.String())
	logger.Infof("Observer connected: %s", conn.RemoteAddr())

	defer func() {
		s.registry.Remove(member.ID)
		member.Finish()
		logger.Infof("Observer disconnected: %s", conn.RemoteAddr())
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Errorf("Observer read error: %v", err)
			} else if err != websocket.ErrCloseSent && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				logger.Debugf("Observer connection closed: %v", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			logger.Debugf("Ignoring non-text observer message type: %d", mt)
			continue
		}
		s.dispatch(logger, member.ID, msg)
	}
}

// dispatch routes each key of an observer message to its handler.
func (s *Server) dispatch(logger log.Logger, client uuid.UUID, msg []byte) {
	s.clientMsgs.Add(1)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(msg, &obj); err != nil {
		logger.Warnf("Malformed observer message %q: %v", msg, err)
		return
	}

	for key, value := range obj {
		s.mu.RLock()
		handler, ok := s.handlers[key]
		s.mu.RUnlock()
		if !ok {
			s.unhandled.Add(1)
			logger.Warnf("No handler for observer key '%s'", key)
			continue
		}
		if err := handler.HandleClientMessage(client, value); err != nil {
			logger.Warnf("Observer message '%s' rejected: %v", key, err)
		}
	}
}

// Shutdown closes the registry to new observers, asks every connected
// observer to close, and force-closes those still open after the close
// timeout or when ctx ends. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var forced int
	s.shutdownOnce.Do(func() {
		members := s.registry.Close()
		s.logger.Infof("Shutting down observer endpoint, closing %d client(s)", len(members))

		deadline := time.Now().Add(s.cfg.CloseTimeout)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		for _, m := range members {
			if err := m.conn.WriteControl(CloseMessage, closeMsg, deadline); err != nil {
				s.logger.Debugf("Close frame to %s failed: %v", m.ID, err)
			}
		}

		timer := time.NewTimer(s.cfg.CloseTimeout)
		defer timer.Stop()
		expired := false
		for _, m := range members {
			if !expired {
				select {
				case <-m.Done():
					continue
				case <-timer.C:
					expired = true
				case <-ctx.Done():
					expired = true
				}
			}
			select {
			case <-m.Done():
				continue
			default:
			}
			if s.registry.Remove(m.ID) {
				forced++
				s.forceClosed.Add(1)
				s.logger.Warnf("Observer %s did not close in time, aborting", m.ID)
			}
			m.conn.Close()
		}
		s.logger.Infof("Observer endpoint shut down")
	})
	if forced > 0 {
		return fmt.Errorf("force-closed %d observer(s)", forced)
	}
	return nil
}
