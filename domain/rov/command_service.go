// Package rov holds the single consumer of the command queue: every
// envelope is translated into wire packets and written to the vehicle.
package rov

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/UiS-Subsea/rov-bridge/pkg/command"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
	"github.com/UiS-Subsea/rov-bridge/pkg/network"
	"github.com/UiS-Subsea/rov-bridge/pkg/translation"
	"golang.org/x/time/rate"
)

// slowDequeue is the queue delay above which a command is logged.
const slowDequeue = 100 * time.Millisecond

// Source is the consumer side of the command queue.
type Source interface {
	Dequeue(ctx context.Context) (command.Envelope, bool)
}

// Sender writes one buffer of frames to the vehicle.
type Sender interface {
	Send(frame []byte) error
}

// Stats counts what the consumer did with dequeued envelopes.
type Stats struct {
	Dequeued uint64 `json:"dequeued"`
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	Empty    uint64 `json:"empty"`
}

// CommandService translates queued envelopes and sends them in FIFO order.
type CommandService struct {
	source     Source
	sender     Sender
	translator *translation.Translator
	logger     log.Logger
	offline    rate.Sometimes

	dequeued atomic.Uint64
	sent     atomic.Uint64
	failed   atomic.Uint64
	empty    atomic.Uint64
}

// NewCommandService creates a new command service instance
func NewCommandService(source Source, sender Sender, logger log.Logger) *CommandService {
	return &CommandService{
		source:     source,
		sender:     sender,
		translator: translation.NewTranslator(),
		logger:     logger.WithField(log.ComponentField, "commands"),
		offline:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Run consumes the queue until ctx is cancelled or the queue is closed and
// drained. Send failures are logged and the envelope is dropped.
func (s *CommandService) Run(ctx context.Context) error {
	s.logger.Infof("Command consumer started")
	defer s.logger.Infof("Command consumer stopped")

	for {
		env, ok := s.source.Dequeue(ctx)
		if !ok {
			return nil
		}
		s.Handle(env)
	}
}

// Handle translates and sends a single envelope.
func (s *CommandService) Handle(env command.Envelope) {
	s.dequeued.Add(1)
	if !env.Timestamp.IsZero() {
		if delay := time.Since(env.Timestamp); delay > slowDequeue {
			s.logger.Debugf("Command %v waited %v in queue", env.Names(), delay)
		}
	}

	if names := s.translator.Untranslated(env); len(names) > 0 {
		s.logger.Debugf("No vehicle opcode for %v", names)
	}

	packets := s.translator.Translate(env)
	if len(packets) == 0 {
		s.empty.Add(1)
		return
	}

	frame, err := translation.EncodeFrames(packets)
	if err != nil {
		s.failed.Add(1)
		s.logger.Errorf("Failed to encode %d packets: %v", len(packets), err)
		return
	}

	if err := s.sender.Send(frame); err != nil {
		s.failed.Add(1)
		if errors.Is(err, network.ErrNotConnected) {
			s.offline.Do(func() { s.logger.Warnf("Vehicle not connected, dropping commands") })
			return
		}
		s.logger.Errorf("Failed to send %v: %v", packets, err)
		return
	}
	s.sent.Add(1)
	s.logger.Debugf("Sent %v", packets)
}

// Stats returns the consumer counters.
func (s *CommandService) Stats() Stats {
	return Stats{
		Dequeued: s.dequeued.Load(),
		Sent:     s.sent.Load(),
		Failed:   s.failed.Load(),
		Empty:    s.empty.Load(),
	}
}
