package controller

import (
	"fmt"
	"sync"
	"time"

	"github.com/UiS-Subsea/rov-bridge/pkg/config"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

// Layout fixes the array sizes of a controller role.
type Layout struct {
	Buttons int
	Axes    int
	// DerivedButton sets button 15 to button 11 minus button 12.
	DerivedButton bool
}

// Role layouts.
var (
	ROVLayout         = Layout{Buttons: 15, Axes: 7}
	ManipulatorLayout = Layout{Buttons: 16, Axes: 7, DerivedButton: true}
)

// LayoutFor returns the layout of a configured role.
func LayoutFor(role string) (Layout, error) {
	switch role {
	case config.RoleROV:
		return ROVLayout, nil
	case config.RoleManipulator:
		return ManipulatorLayout, nil
	}
	return Layout{}, fmt.Errorf("unknown controller role '%s'", role)
}

const (
	derivedAxis      = 6
	derivedAxisPlus  = 5
	derivedAxisMinus = 2

	derivedButton      = 15
	derivedButtonPlus  = 11
	derivedButtonMinus = 12

	rumbleStrength = 0xFFFF
	rumbleDuration = 200 * time.Millisecond
)

// State is a snapshot of one controller.
type State struct {
	Buttons  []int  `json:"buttons"`
	Axes     []int  `json:"axes"`
	DPad     DPad   `json:"dpad"`
	GUID     string `json:"guid,omitempty"`
	Instance int    `json:"instance"`
}

// Controller normalizes the events of one device into a State. The arrays
// outlive the device so a brief unplug does not reset them.
type Controller struct {
	role     string
	layout   Layout
	deadzone int
	source   DeviceSource
	registry *Registry
	logger   log.Logger

	mu      sync.Mutex
	device  Device
	buttons []int
	axes    []int
	dpad    DPad
}

// NewController creates a controller for role. It is disconnected until Initialize.
func NewController(role string, source DeviceSource, registry *Registry, deadzone int, logger log.Logger) (*Controller, error) {
	layout, err := LayoutFor(role)
	if err != nil {
		return nil, err
	}
	if deadzone <= 0 {
		deadzone = DefaultDeadzone
	}
	return &Controller{
		role:     role,
		layout:   layout,
		deadzone: deadzone,
		source:   source,
		registry: registry,
		logger:   logger.WithField("role", role),
		buttons:  make([]int, layout.Buttons),
		axes:     make([]int, layout.Axes),
	}, nil
}

// Role returns the configured role.
func (c *Controller) Role() string {
	return c.role
}

// Initialize opens the device at index and records its GUID.
func (c *Controller) Initialize(index int) error {
	if c.source.Count() == 0 {
		c.logger.Warnf("There are no input devices connected")
	}
	if c.registry.HeldByOthers(c.role)[index] {
		return fmt.Errorf("failed to open %s controller: %w: index %d is in use", c.role, ErrNoDevice, index)
	}
	dev, err := c.source.Open(index)
	if err != nil {
		return fmt.Errorf("failed to open %s controller: %w", c.role, err)
	}
	c.bind(dev, index)
	c.logger.Infof("Controller connected: %s (index %d, guid %s)", dev.Name(), index, dev.GUID())
	return nil
}

func (c *Controller) bind(dev Device, index int) {
	c.mu.Lock()
	if c.device != nil && c.device != dev {
		c.device.Close()
	}
	c.device = dev
	c.mu.Unlock()

	c.registry.Remember(c.role, dev.GUID(), index)
	c.registry.Hold(c.role, index)
	c.acknowledge(dev)
}

func (c *Controller) acknowledge(dev Device) {
	r, ok := dev.(Rumbler)
	if !ok {
		return
	}
	if err := r.Rumble(rumbleStrength, rumbleStrength, rumbleDuration); err != nil {
		c.logger.Warnf("Failed to trigger vibration: %v", err)
	}
}

// IsConnected reports whether a device is bound and attached.
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device != nil && c.device.Attached()
}

// Reconnect rebinds to the previously bound device if it is present again.
func (c *Controller) Reconnect() bool {
	b, ok := c.registry.Binding(c.role)
	if !ok {
		return false
	}
	dev, index, err := Find(c.source, b, c.registry.HeldByOthers(c.role))
	if err != nil {
		return false
	}
	c.bind(dev, index)
	c.logger.Infof("Controller reconnected at index %d", index)
	return true
}

// IsRelevantEvent accepts button, axis and hat events from the bound device.
func (c *Controller) IsRelevantEvent(ev Event) bool {
	switch ev.Type {
	case EventButton, EventAxis, EventHat:
	default:
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device != nil && c.device.InstanceID() == ev.Instance
}

// ProcessEvent applies ev and reports whether the state changed.
func (c *Controller) ProcessEvent(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case EventButton:
		if ev.Index < 0 || ev.Index >= len(c.buttons) {
			return false
		}
		v := 0
		if ev.Value != 0 {
			v = 1
		}
		changed := c.buttons[ev.Index] != v
		c.buttons[ev.Index] = v
		if c.layout.DerivedButton {
			c.buttons[derivedButton] = c.buttons[derivedButtonPlus] - c.buttons[derivedButtonMinus]
		}
		return changed

	case EventAxis:
		if ev.Index < 0 || ev.Index >= derivedAxis {
			return false
		}
		v := NormalizeAxis(ev.Index, ev.Value, c.deadzone)
		changed := c.axes[ev.Index] != v
		c.axes[ev.Index] = v
		c.axes[derivedAxis] = c.axes[derivedAxisPlus] - c.axes[derivedAxisMinus]
		return changed

	case EventHat:
		d := HatVector(ev.Hat)
		changed := c.dpad != d
		c.dpad = d
		return changed
	}
	return false
}

// Poll reads pending events from the device, reconnecting first if it was
// unplugged. Events are always applied so the state follows the sticks
// even while snapshots are withheld.
func (c *Controller) Poll() error {
	c.mu.Lock()
	dev := c.device
	c.mu.Unlock()

	if dev == nil || !dev.Attached() {
		c.registry.Release(c.role)
		if !c.Reconnect() {
			return ErrDetached
		}
		c.mu.Lock()
		dev = c.device
		c.mu.Unlock()
	}

	events, err := dev.Poll()
	if err != nil {
		c.registry.Release(c.role)
		c.logger.Warnf("Controller disconnected: %v", err)
		return err
	}
	for _, ev := range events {
		if c.IsRelevantEvent(ev) {
			c.ProcessEvent(ev)
		}
	}
	return nil
}

// CurrentState returns a copy of the controller state.
func (c *Controller) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		Buttons: append([]int(nil), c.buttons...),
		Axes:    append([]int(nil), c.axes...),
		DPad:    c.dpad,
	}
	if c.device != nil {
		s.GUID = c.device.GUID()
		s.Instance = c.device.InstanceID()
	}
	return s
}

// Close releases the device and discards the state.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Close()
		c.device = nil
		c.registry.Release(c.role)
		c.logger.Infof("Controller disconnected")
	}
	c.buttons = make([]int, c.layout.Buttons)
	c.axes = make([]int, c.layout.Axes)
	c.dpad = DPad{}
}
