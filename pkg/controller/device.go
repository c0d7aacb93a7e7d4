package controller

import (
	"errors"
	"time"
)

// ErrNoDevice is returned when no device is present at an index.
var ErrNoDevice = errors.New("no input device")

// ErrDetached is returned by Poll once a device has been unplugged.
var ErrDetached = errors.New("input device detached")

// EventType classifies device events.
type EventType uint8

const (
	EventButton EventType = iota + 1
	EventAxis
	EventHat
)

// Event is one change reported by a device. Value is 0/1 for buttons and
// the raw reading for axes.
type Event struct {
	Type     EventType
	Instance int
	Index    int
	Value    int
	Hat      Hat
}

// Device is an open input device.
type Device interface {
	Name() string
	GUID() string
	InstanceID() int
	Attached() bool
	// Poll returns the events since the previous call.
	Poll() ([]Event, error)
	Close() error
}

// Rumbler is implemented by devices that can vibrate.
type Rumbler interface {
	Rumble(low, high uint16, d time.Duration) error
}

// DeviceSource enumerates and opens devices by index.
type DeviceSource interface {
	Count() int
	Open(index int) (Device, error)
}
