package controller

import (
	"fmt"
	"sync/atomic"

	"github.com/0xcafed00d/joystick"
	"github.com/google/uuid"
)

// MaxDevices bounds the device index scan.
const MaxDevices = 8

var guidNamespace = uuid.MustParse("5f0c3c52-8b6e-4f0e-9d8a-2a1b7c3e4d10")

// DeviceGUID derives a stable identifier from the properties a device
// reports, so the same pad is recognized after re-enumeration.
func DeviceGUID(name string, axes, buttons int) string {
	return uuid.NewSHA1(guidNamespace, []byte(fmt.Sprintf("%s/%d/%d", name, axes, buttons))).String()
}

// JoystickSource opens devices through the joystick library. That library
// reports state rather than events, so each device diffs successive reads.
type JoystickSource struct {
	// HatAxes maps a device index to the axis pair carrying its d-pad.
	HatAxes map[int][2]int

	nextInstance atomic.Int64
	open         func(int) (joystick.Joystick, error)
}

// NewJoystickSource creates a source over the system joystick devices.
func NewJoystickSource(hatAxes map[int][2]int) *JoystickSource {
	return &JoystickSource{HatAxes: hatAxes, open: joystick.Open}
}

// Count tries device indices and returns how many can be opened.
func (s *JoystickSource) Count() int {
	n := 0
	for i := 0; i < MaxDevices; i++ {
		js, err := s.open(i)
		if err != nil {
			continue
		}
		js.Close()
		n++
	}
	return n
}

// Open opens the device at index.
func (s *JoystickSource) Open(index int) (Device, error) {
	js, err := s.open(index)
	if err != nil {
		return nil, fmt.Errorf("%w at index %d: %v", ErrNoDevice, index, err)
	}

	d := &joystickDevice{
		js:       js,
		guid:     DeviceGUID(js.Name(), js.AxisCount(), js.ButtonCount()),
		instance: int(s.nextInstance.Add(1)),
		attached: true,
		hatX:     -1,
		hatY:     -1,
	}
	if pair, ok := s.HatAxes[index]; ok {
		d.hatX, d.hatY = pair[0], pair[1]
	}
	d.prev.AxisData = make([]int, js.AxisCount())
	return d, nil
}

type joystickDevice struct {
	js       joystick.Joystick
	guid     string
	instance int
	attached bool
	prev     joystick.State
	prevHat  Hat
	hatX     int
	hatY     int
}

func (d *joystickDevice) Name() string    { return d.js.Name() }
func (d *joystickDevice) GUID() string    { return d.guid }
func (d *joystickDevice) InstanceID() int { return d.instance }
func (d *joystickDevice) Attached() bool  { return d.attached }

func (d *joystickDevice) Poll() ([]Event, error) {
	if !d.attached {
		return nil, ErrDetached
	}
	state, err := d.js.Read()
	if err != nil {
		d.attached = false
		return nil, fmt.Errorf("%w: %v", ErrDetached, err)
	}

	events := diffStates(d.instance, d.prev, state, d.js.ButtonCount(), d.hatX, d.hatY)
	if d.hatX >= 0 {
		hat := hatFromAxes(state.AxisData, d.hatX, d.hatY)
		if hat != d.prevHat {
			events = append(events, Event{Type: EventHat, Instance: d.instance, Hat: hat})
			d.prevHat = hat
		}
	}
	d.prev = joystick.State{AxisData: append([]int(nil), state.AxisData...), Buttons: state.Buttons}
	return events, nil
}

func (d *joystickDevice) Close() error {
	d.attached = false
	d.js.Close()
	return nil
}

// diffStates emits button and axis events for everything that changed.
// The hat axis pair is excluded.
func diffStates(instance int, prev, cur joystick.State, buttons, hatX, hatY int) []Event {
	var events []Event
	for i := 0; i < buttons && i < 32; i++ {
		mask := uint32(1) << uint(i)
		if prev.Buttons&mask == cur.Buttons&mask {
			continue
		}
		v := 0
		if cur.Buttons&mask != 0 {
			v = 1
		}
		events = append(events, Event{Type: EventButton, Instance: instance, Index: i, Value: v})
	}
	for i, v := range cur.AxisData {
		if i == hatX || i == hatY {
			continue
		}
		if i < len(prev.AxisData) && prev.AxisData[i] == v {
			continue
		}
		events = append(events, Event{Type: EventAxis, Instance: instance, Index: i, Value: v})
	}
	return events
}

// hatFromAxes reads a d-pad reported as an axis pair. Negative Y is up.
func hatFromAxes(axes []int, x, y int) Hat {
	var h Hat
	if x < len(axes) {
		switch {
		case axes[x] < 0:
			h |= HatLeft
		case axes[x] > 0:
			h |= HatRight
		}
	}
	if y < len(axes) {
		switch {
		case axes[y] < 0:
			h |= HatUp
		case axes[y] > 0:
			h |= HatDown
		}
	}
	return h
}
