package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/UiS-Subsea/rov-bridge/pkg/command"
)

// ModeKey switches between manual and autonomous driving.
const ModeKey = "Mode"

// ModeSetter is implemented by the mode service.
type ModeSetter interface {
	SetMode(mode string) error
}

// settingKinds are the observer keys re-enqueued as commands.
var settingKinds = []command.Kind{
	command.KindTilt,
	command.KindRegMode,
	command.KindAutotune,
	command.KindPIDSettings,
	command.KindRegModeSetting,
	command.KindMPCSettings,
}

// RegisterCommandHandlers wires the mode key to modes and the settings keys
// to producer. Scalars are wrapped into single-element arrays.
func RegisterCommandHandlers(s *Server, producer command.Producer, modes ModeSetter) {
	s.OnClientMessageFunc(ModeKey, func(_ uuid.UUID, value json.RawMessage) error {
		var mode string
		if err := json.Unmarshal(value, &mode); err != nil {
			return fmt.Errorf("mode value must be a string: %w", err)
		}
		return modes.SetMode(mode)
	})

	for _, kind := range settingKinds {
		name := kind.String()
		s.OnClientMessageFunc(name, func(_ uuid.UUID, value json.RawMessage) error {
			field, err := command.FieldFromJSON(name, value)
			if err != nil {
				return err
			}
			if !producer.Enqueue(command.NewEnvelope(field)) {
				return command.ErrQueueClosed
			}
			return nil
		})
	}
}
