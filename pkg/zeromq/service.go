// Package zeromq carries the auxiliary autonomy source (a PULL socket fed by
// the vision helper) and the optional PUB mirror of decoded telemetry.
package zeromq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/UiS-Subsea/rov-bridge/pkg/config"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
	"github.com/pebbe/zmq4"
)

// Common errors
var (
	ErrServiceClosed      = errors.New("zeromq service is closed")
	ErrInvalidMessage     = errors.New("invalid message format")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// DefaultPollTimeout bounds each poll so cancellation is noticed promptly.
const DefaultPollTimeout = 100 * time.Millisecond

// MessageHandler processes the value stored under one top-level key.
type MessageHandler interface {
	HandleMessage(value json.RawMessage) error
}

// HandlerFunc is a function type that implements MessageHandler
type HandlerFunc func(value json.RawMessage) error

// HandleMessage calls the function
func (f HandlerFunc) HandleMessage(value json.RawMessage) error {
	return f(value)
}

// MessageDispatcher routes the keys of a JSON object to their handlers.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	logger   log.Logger
	mu       sync.RWMutex
}

// NewMessageDispatcher creates a new message dispatcher
func NewMessageDispatcher(logger log.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		logger:   logger,
	}
}

// RegisterHandler adds a handler for a top-level key
func (d *MessageDispatcher) RegisterHandler(key string, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[key] = handler
	d.logger.Debugf("Registered handler for key: %s", key)
}

// Dispatch parses data as a JSON object and calls the handler of every
// registered key, in key order. A message with no registered key is
// reported as ErrUnknownMessageType.
func (d *MessageDispatcher) Dispatch(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d.mu.RLock()
	defer d.mu.RUnlock()

	var handled int
	var errs []error
	for _, k := range keys {
		handler, ok := d.handlers[k]
		if !ok {
			continue
		}
		handled++
		if err := handler.HandleMessage(fields[k]); err != nil {
			errs = append(errs, fmt.Errorf("handler for '%s': %w", k, err))
		}
	}

	if handled == 0 {
		return fmt.Errorf("%w: keys %v", ErrUnknownMessageType, keys)
	}
	return errors.Join(errs...)
}

// MessageReceiver owns the PULL socket. The socket is only touched by the
// goroutine running Run.
type MessageReceiver struct {
	socket      *zmq4.Socket
	dispatcher  *MessageDispatcher
	poller      *zmq4.Poller
	logger      log.Logger
	pollTimeout time.Duration
	address     string
	closeOnce   sync.Once
	received    uint64
	failed      uint64
	mu          sync.Mutex
}

func newMessageReceiver(ctx *zmq4.Context, address string, pollTimeout time.Duration, dispatcher *MessageDispatcher, logger log.Logger) (*MessageReceiver, error) {
	socket, err := ctx.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, fmt.Errorf("failed to create PULL socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}

	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	logger.Infof("MessageReceiver bound on %s", address)

	return &MessageReceiver{
		socket:      socket,
		dispatcher:  dispatcher,
		poller:      poller,
		logger:      logger,
		pollTimeout: pollTimeout,
		address:     address,
	}, nil
}

// Run polls the socket until ctx is cancelled, then closes it.
func (r *MessageReceiver) Run(ctx context.Context) error {
	defer r.close()
	r.logger.Infof("MessageReceiver started")

	for ctx.Err() == nil {
		sockets, err := r.poller.Poll(r.pollTimeout)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.ETERM {
				return ErrServiceClosed
			}
			r.logger.Warnf("Error polling socket: %v", err)
			continue
		}
		if len(sockets) == 0 {
			continue
		}

		msg, err := r.socket.RecvBytes(zmq4.DONTWAIT)
		if err != nil {
			r.logger.Warnf("Error receiving message: %v", err)
			continue
		}
		r.handle(msg)
	}

	r.logger.Infof("MessageReceiver stopped")
	return nil
}

func (r *MessageReceiver) handle(msg []byte) {
	r.logger.Debugf("Received message (%d bytes): %s", len(msg), string(msg))

	err := r.dispatcher.Dispatch(msg)

	r.mu.Lock()
	r.received++
	if err != nil {
		r.failed++
	}
	r.mu.Unlock()

	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownMessageType):
		r.logger.Warnf("Received unknown or invalid message structure: %s", string(msg))
	default:
		r.logger.Errorf("Error dispatching message: %v", err)
	}
}

// Counts returns the number of messages received and the number that failed.
func (r *MessageReceiver) Counts() (received, failed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received, r.failed
}

func (r *MessageReceiver) close() {
	r.closeOnce.Do(func() {
		r.socket.Close()
	})
}

// MessageSender publishes two-part messages (topic, payload) on a PUB socket.
type MessageSender struct {
	socket  *zmq4.Socket
	logger  log.Logger
	running bool
	mu      sync.Mutex
}

func newMessageSender(ctx *zmq4.Context, address string, logger log.Logger) (*MessageSender, error) {
	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}

	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}

	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}

	logger.Infof("MessageSender bound on %s", address)

	return &MessageSender{
		socket:  socket,
		logger:  logger,
		running: true,
	}, nil
}

// PublishMessage sends a message with the given topic
func (s *MessageSender) PublishMessage(topic string, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServiceClosed
	}

	if _, err := s.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := s.socket.SendBytes(message, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close cleans up resources
func (s *MessageSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.socket.Close()
}

// ZeroMQService owns the ZeroMQ context, the autonomy receiver and the
// optional telemetry publisher.
type ZeroMQService struct {
	ctx        *zmq4.Context
	receiver   *MessageReceiver
	sender     *MessageSender
	dispatcher *MessageDispatcher
	logger     log.Logger
	closeOnce  sync.Once
}

// NewZeroMQService binds the PULL socket and, when an address is
// configured, the telemetry PUB socket.
func NewZeroMQService(cfg config.ZeroMQConfig, logger log.Logger) (*ZeroMQService, error) {
	logger = logger.WithField(log.ComponentField, "zeromq")

	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	pollTimeout := time.Duration(cfg.PollTimeoutMs) * time.Millisecond
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}

	dispatcher := NewMessageDispatcher(logger)
	receiver, err := newMessageReceiver(ctx, cfg.AutonomBindAddress, pollTimeout, dispatcher, logger)
	if err != nil {
		ctx.Term()
		return nil, err
	}

	var sender *MessageSender
	if cfg.TelemetryPublishAddress != "" {
		sender, err = newMessageSender(ctx, cfg.TelemetryPublishAddress, logger)
		if err != nil {
			receiver.close()
			ctx.Term()
			return nil, err
		}
	}

	return &ZeroMQService{
		ctx:        ctx,
		receiver:   receiver,
		sender:     sender,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// RegisterHandler adds a handler for a top-level key
func (s *ZeroMQService) RegisterHandler(key string, handler MessageHandler) {
	s.dispatcher.RegisterHandler(key, handler)
}

// Run receives until ctx is cancelled.
func (s *ZeroMQService) Run(ctx context.Context) error {
	return s.receiver.Run(ctx)
}

// HasPublisher reports whether the telemetry PUB socket is bound.
func (s *ZeroMQService) HasPublisher() bool {
	return s.sender != nil
}

// PublishMessage sends a message with the given topic on the PUB socket.
func (s *ZeroMQService) PublishMessage(topic string, message []byte) error {
	if s.sender == nil {
		return ErrServiceClosed
	}
	return s.sender.PublishMessage(topic, message)
}

// Stats returns receive counters.
func (s *ZeroMQService) Stats() (received, failed uint64) {
	return s.receiver.Counts()
}

// Close releases the sockets and terminates the context. It must be called
// after Run has returned.
func (s *ZeroMQService) Close() {
	s.closeOnce.Do(func() {
		s.logger.Infof("Stopping ZeroMQ service")
		s.receiver.close()
		if s.sender != nil {
			s.sender.Close()
		}
		if err := s.ctx.Term(); err != nil {
			s.logger.Warnf("Error terminating ZMQ context: %v", err)
		}
		s.logger.Infof("ZeroMQ service stopped")
	})
}
