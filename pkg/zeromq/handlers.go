package zeromq

import (
	"encoding/json"
	"fmt"

	"github.com/UiS-Subsea/rov-bridge/pkg/command"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

// AutonomKey is the key the vision helper pushes drive vectors under.
const AutonomKey = "autonom_data"

// autonomSlots is the number of values forwarded: X, Y, Z and rotation.
const autonomSlots = 4

// AutonomHandler enqueues drive vectors produced by the autonomy helper.
type AutonomHandler struct {
	producer command.Producer
	logger   log.Logger
}

// NewAutonomHandler creates a new handler for autonom_data messages
func NewAutonomHandler(producer command.Producer, logger log.Logger) *AutonomHandler {
	return &AutonomHandler{
		producer: producer,
		logger:   logger,
	}
}

// HandleMessage enqueues the first four values of an autonom_data array.
// Shorter arrays are rejected.
func (h *AutonomHandler) HandleMessage(value json.RawMessage) error {
	field, err := command.FieldFromJSON(AutonomKey, value)
	if err != nil {
		return err
	}
	if len(field.Ints) < autonomSlots {
		return fmt.Errorf("%w: %s needs %d values, got %d", ErrInvalidMessage, AutonomKey, autonomSlots, len(field.Ints))
	}

	env := command.NewEnvelope(command.Ints(command.KindAutonomData, field.Ints[:autonomSlots]...))
	if !h.producer.Enqueue(env) {
		h.logger.Warnf("Failed to enqueue %s command", AutonomKey)
		return command.ErrQueueClosed
	}
	return nil
}

// RegisterAutonomHandler wires the autonom_data key to producer.
func RegisterAutonomHandler(service *ZeroMQService, producer command.Producer, logger log.Logger) {
	service.RegisterHandler(AutonomKey, NewAutonomHandler(producer, logger))
	logger.Infof("Registered %s handler", AutonomKey)
}
