package services

import (
	"errors"
	"fmt"
	"sync/atomic"

	customlog "github.com/UiS-Subsea/rov-bridge/pkg/log"
)

// Drive modes as sent by observers and the HTTP layer.
const (
	ModeManual = "MANUAL"
	ModeAuto   = "AUTO"
)

// ErrUnknownMode is returned for a mode name other than MANUAL or AUTO.
var ErrUnknownMode = errors.New("unrecognized mode")

// ModeService holds the drive mode. In MANUAL the controller poll loop
// produces commands; in AUTO only the autonomy source drives the vehicle.
type ModeService struct {
	manual atomic.Bool
	logger customlog.Logger
}

// NewModeService starts in MANUAL.
func NewModeService(logger customlog.Logger) *ModeService {
	s := &ModeService{logger: logger.WithField(customlog.ComponentField, "mode")}
	s.manual.Store(true)
	return s
}

// SetManual switches to MANUAL.
func (s *ModeService) SetManual() {
	s.manual.Store(true)
	s.logger.Infof("Manual mode started")
}

// SetAutonomous switches to AUTO.
func (s *ModeService) SetAutonomous() {
	s.manual.Store(false)
	s.logger.Infof("Auto mode started")
}

// IsManual reports whether the controllers are in charge.
func (s *ModeService) IsManual() bool {
	return s.manual.Load()
}

// Mode returns the current mode name.
func (s *ModeService) Mode() string {
	if s.IsManual() {
		return ModeManual
	}
	return ModeAuto
}

// SetMode switches by name.
func (s *ModeService) SetMode(mode string) error {
	switch mode {
	case ModeManual:
		s.SetManual()
	case ModeAuto:
		s.SetAutonomous()
	default:
		s.logger.Warnf("Unrecognized mode value: %s", mode)
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return nil
}
