package processing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

// TopicPrefix is prepended to the record type when mirroring telemetry.
const TopicPrefix = "telemetry."

// MessagePublisher defines the interface for publishing messages
type MessagePublisher interface {
	PublishMessage(topic string, data []byte) error
}

// Broadcaster is implemented by the observer broadcast server.
type Broadcaster interface {
	Broadcast(v interface{}, ensureDelivery bool) error
}

// NewBroadcastSink sends each batch to observers as one JSON array.
// Telemetry is not backlogged: observers only want live readings.
func NewBroadcastSink(b Broadcaster) BatchProcessor {
	return func(batch *Batch) error {
		return b.Broadcast(batch.Records, false)
	}
}

// PublishingResultHandler mirrors telemetry records to a publisher, one
// message per record on topic "telemetry.<Type>".
type PublishingResultHandler struct {
	logger    log.Logger
	publisher MessagePublisher
	name      string
}

// NewPublishingResultHandler creates a new publishing handler
func NewPublishingResultHandler(name string, logger log.Logger, publisher MessagePublisher) *PublishingResultHandler {
	return &PublishingResultHandler{
		logger:    logger,
		publisher: publisher,
		name:      name,
	}
}

// HandleBatch publishes every record in batch.
func (h *PublishingResultHandler) HandleBatch(batch *Batch) error {
	var errs []error
	for _, rec := range batch.Records {
		data, err := json.Marshal(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to serialize %s record: %w", rec.TypeName(), err))
			continue
		}

		topic := TopicPrefix + rec.TypeName()
		if err := h.publisher.PublishMessage(topic, data); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish to %s on '%s': %w", h.name, topic, err))
			continue
		}

		if len(data) > 100 {
			h.logger.Debugf("Published to %s on '%s': %s...", h.name, topic, string(data[:100]))
		} else {
			h.logger.Debugf("Published to %s on '%s': %s", h.name, topic, string(data))
		}
	}
	return errors.Join(errs...)
}

// CreateProcessorFunc creates a BatchProcessor for the MessageDirector
func (h *PublishingResultHandler) CreateProcessorFunc() BatchProcessor {
	return func(batch *Batch) error {
		if batch == nil {
			h.logger.Errorf("Received nil batch")
			return nil
		}
		return h.HandleBatch(batch)
	}
}
