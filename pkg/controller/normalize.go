// Package controller turns gamepad input into the controller snapshot that
// drives the vehicle and the manipulator.
package controller

import "math"

// Raw axis range reported by input devices.
const (
	RawMin = -32768
	RawMax = 32767
)

// DefaultDeadzone zeroes normalized values with |v| <= 15.
const DefaultDeadzone = 15

// NormalizeAxis rescales a raw axis value for the given axis index.
// Axes 1 and 3 are inverted, axes 2 and 5 are triggers scaled to [0,100],
// all others map to [-100,100]. The deadzone is applied after scaling.
func NormalizeAxis(axis, raw, deadzone int) int {
	if raw < RawMin {
		raw = RawMin
	}
	if raw > RawMax {
		raw = RawMax
	}
	unit := (float64(raw) - RawMin) / (RawMax - RawMin)

	var v float64
	switch axis {
	case 1, 3:
		v = (unit*2 - 1) * -100
	case 2, 5:
		v = unit * 100
	default:
		v = (unit*2 - 1) * 100
	}
	return ApplyDeadzone(int(math.Round(v)), deadzone)
}

// ApplyDeadzone returns 0 when |value| <= deadzone.
func ApplyDeadzone(value, deadzone int) int {
	if value <= deadzone && value >= -deadzone {
		return 0
	}
	return value
}

// Hat is a bitmask of pressed d-pad directions.
type Hat uint8

const (
	HatCentered Hat = 0
	HatUp       Hat = 1
	HatRight    Hat = 2
	HatDown     Hat = 4
	HatLeft     Hat = 8
)

// DPad is the d-pad as a 2-D vector, each component in {-1,0,1}.
type DPad struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// HatVector maps a hat direction onto a d-pad vector. Up is +Y.
func HatVector(h Hat) DPad {
	var d DPad
	switch {
	case h&HatRight != 0 && h&HatLeft == 0:
		d.X = 1
	case h&HatLeft != 0 && h&HatRight == 0:
		d.X = -1
	}
	switch {
	case h&HatUp != 0 && h&HatDown == 0:
		d.Y = 1
	case h&HatDown != 0 && h&HatUp == 0:
		d.Y = -1
	}
	return d
}
