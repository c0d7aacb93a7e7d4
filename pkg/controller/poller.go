package controller

import (
	"context"
	"time"

	"github.com/UiS-Subsea/rov-bridge/pkg/command"
	"github.com/UiS-Subsea/rov-bridge/pkg/config"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

// ModeChecker is implemented by the mode service.
type ModeChecker interface {
	IsManual() bool
}

// DefaultPollInterval samples the controllers at 20 Hz.
const DefaultPollInterval = 50 * time.Millisecond

// Poller samples the vehicle and manipulator controllers and enqueues one
// merged snapshot per tick while the bridge is in MANUAL mode.
type Poller struct {
	rov      *Controller
	mani     *Controller
	modes    ModeChecker
	producer command.Producer
	interval time.Duration
	logger   log.Logger
}

// NewPoller creates a poller. Either controller may be nil; its fields are
// then sent as zeros.
func NewPoller(rov, mani *Controller, modes ModeChecker, producer command.Producer, interval time.Duration, logger log.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		rov:      rov,
		mani:     mani,
		modes:    modes,
		producer: producer,
		interval: interval,
		logger:   logger.WithField(log.ComponentField, "controllers"),
	}
}

// Run ticks until ctx is cancelled, then closes both controllers.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.close()

	p.logger.Infof("Controller poll loop started at %v", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Infof("Controller poll loop stopped")
			return nil
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Tick polls both controllers and, in MANUAL mode, enqueues a snapshot.
// AUTO mode keeps the state current without publishing it.
func (p *Poller) Tick() {
	manual := p.modes.IsManual()
	for _, c := range []*Controller{p.rov, p.mani} {
		if c != nil {
			c.Poll()
		}
	}
	if !manual {
		return
	}

	start := time.Now()
	if !p.producer.Enqueue(p.Snapshot()) {
		p.logger.Warnf("Failed to enqueue controller snapshot")
		return
	}
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		p.logger.Warnf("Enqueue took too long: %v", elapsed)
	}
}

// Snapshot merges both controller states into one envelope.
func (p *Poller) Snapshot() command.Envelope {
	rov := stateOf(p.rov, ROVLayout)
	mani := stateOf(p.mani, ManipulatorLayout)
	return command.NewEnvelope(
		command.Ints(command.KindRovAxis, rov.Axes...),
		command.Ints(command.KindRovButtons, rov.Buttons...),
		command.Ints(command.KindRovDPad, rov.DPad.X, rov.DPad.Y),
		command.Ints(command.KindManiJoystick, mani.Axes...),
		command.Ints(command.KindManiButtons, mani.Buttons...),
		command.Ints(command.KindManiDPad, mani.DPad.X, mani.DPad.Y),
	)
}

func stateOf(c *Controller, layout Layout) State {
	if c == nil {
		return State{Buttons: make([]int, layout.Buttons), Axes: make([]int, layout.Axes)}
	}
	return c.CurrentState()
}

func (p *Poller) close() {
	for _, c := range []*Controller{p.rov, p.mani} {
		if c != nil {
			c.Close()
		}
	}
}

// SetupControllers creates and initializes the controllers named in the
// operational config. A device that cannot be opened is logged and left
// for the poll loop to pick up once plugged in.
func SetupControllers(cfg *config.Config, source DeviceSource, registry *Registry, logger log.Logger) (rov, mani *Controller) {
	for _, role := range []string{config.RoleROV, config.RoleManipulator} {
		mapping, ok := cfg.GetControllerByRole(role)
		if !ok {
			continue
		}
		c, err := NewController(role, source, registry, cfg.Deadzone(), logger)
		if err != nil {
			logger.Errorf("Failed to create controller: %v", err)
			continue
		}
		bound := false
		if mapping.GUID != "" {
			registry.Remember(role, mapping.GUID, mapping.DeviceIndex)
			bound = c.Reconnect()
		}
		if !bound {
			if err := c.Initialize(mapping.DeviceIndex); err != nil {
				logger.Warnf("%v", err)
			}
		}
		if role == config.RoleROV {
			rov = c
		} else {
			mani = c
		}
	}
	return rov, mani
}

// HatAxesFromConfig collects the hat axis pairs per device index.
func HatAxesFromConfig(cfg *config.Config) map[int][2]int {
	out := make(map[int][2]int)
	for _, m := range cfg.Controllers {
		if len(m.HatAxes) == 2 {
			out[m.DeviceIndex] = [2]int{m.HatAxes[0], m.HatAxes[1]}
		}
	}
	return out
}
