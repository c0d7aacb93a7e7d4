// Package command defines the command envelope passed from producers
// (controllers, observers, HTTP triggers, the auxiliary source) to the
// outbound pipeline, and the queue carrying it.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind identifies a known command field.
type Kind uint8

const (
	KindUnrecognized Kind = iota

	// Controller snapshot
	KindRovAxis
	KindRovButtons
	KindRovDPad
	KindManiJoystick
	KindManiButtons
	KindManiDPad

	// Auxiliary source
	KindAutonomData

	// Discrete vehicle commands
	KindControlsReset
	KindThrusterControlsReset
	KindManipulatorControlsReset
	KindDepthReset
	KindAnglesReset
	KindIMUCalibrate
	KindRegulatorTuning
	KindToggleAllRegulator
	KindToggleRollRegulator
	KindToggleStampRegulator
	KindToggleDepthRegulator
	KindFrontLightOn
	KindBottomLightOn
	KindFrontLightSlider
	KindBottomLightSlider
	KindTilt

	// Observer settings
	KindRegMode
	KindAutotune
	KindPIDSettings
	KindRegModeSetting
	KindMPCSettings
)

var kindNames = map[Kind]string{
	KindRovAxis:                  "rov_axis",
	KindRovButtons:               "rov_buttons",
	KindRovDPad:                  "rov_dpad",
	KindManiJoystick:             "mani_joystick",
	KindManiButtons:              "mani_buttons",
	KindManiDPad:                 "mani_dpad",
	KindAutonomData:              "autonom_data",
	KindControlsReset:            "Controls_Reset",
	KindThrusterControlsReset:    "Thruster_Controls_Reset",
	KindManipulatorControlsReset: "Manipulator_Controls_Reset",
	KindDepthReset:               "Depth_Reset",
	KindAnglesReset:              "Angles_Reset",
	KindIMUCalibrate:             "IMU_Calibrate",
	KindRegulatorTuning:          "Regulator_Tuning",
	KindToggleAllRegulator:       "Toggle_All_Regulator",
	KindToggleRollRegulator:      "Toggle_Roll_Regulator",
	KindToggleStampRegulator:     "Toggle_Stamp_Regulator",
	KindToggleDepthRegulator:     "Toggle_Depth_Regulator",
	KindFrontLightOn:             "Front_Light_On",
	KindBottomLightOn:            "Bottom_Light_On",
	KindFrontLightSlider:         "Front_Light_Slider",
	KindBottomLightSlider:        "Bottom_Light_Slider",
	KindTilt:                     "tilt",
	KindRegMode:                  "reg_mode",
	KindAutotune:                 "autotune",
	KindPIDSettings:              "pid_settings",
	KindRegModeSetting:           "reg_mode_setting",
	KindMPCSettings:              "mpc_settings",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// ErrInvalidValue is returned when a field value is neither a number nor an array of numbers.
var ErrInvalidValue = errors.New("invalid command value")

// ParseKind maps a field name to its Kind. Unknown names map to KindUnrecognized.
func ParseKind(name string) Kind {
	if k, ok := kindsByName[name]; ok {
		return k
	}
	return KindUnrecognized
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unrecognized"
}

// IsFloat reports whether the kind carries float values.
func (k Kind) IsFloat() bool {
	return k == KindRegModeSetting || k == KindMPCSettings
}

// Field is one named value inside an envelope. Ints holds the value for
// integer kinds, Floats for float kinds. Name keeps the original key,
// which matters for unrecognized fields.
type Field struct {
	Kind   Kind
	Name   string
	Ints   []int
	Floats []float64
}

// Envelope carries exactly the fields relevant to one logical action.
// It is not mutated once enqueued.
type Envelope struct {
	Fields    []Field
	Timestamp time.Time
}

// Ints builds an integer field of a known kind.
func Ints(k Kind, values ...int) Field {
	return Field{Kind: k, Name: k.String(), Ints: append([]int(nil), values...)}
}

// Floats builds a float field of a known kind.
func Floats(k Kind, values ...float64) Field {
	return Field{Kind: k, Name: k.String(), Floats: append([]float64(nil), values...)}
}

// NewEnvelope builds an envelope from fields, stamped with the current time.
func NewEnvelope(fields ...Field) Envelope {
	return Envelope{Fields: fields, Timestamp: time.Now()}
}

// Get returns the first field of kind k.
func (e Envelope) Get(k Kind) (Field, bool) {
	for _, f := range e.Fields {
		if f.Kind == k {
			return f, true
		}
	}
	return Field{}, false
}

// Names lists the field names in envelope order.
func (e Envelope) Names() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Value returns the slot at index i of an integer field, or 0 when the slot is missing.
func (f Field) Value(i int) int {
	if i < 0 || i >= len(f.Ints) {
		return 0
	}
	return f.Ints[i]
}

// FieldFromJSON normalizes a raw JSON value for the named key into a Field.
// Scalars are wrapped into single-element arrays. Integer kinds round
// fractional numbers to the nearest integer.
func FieldFromJSON(name string, raw json.RawMessage) (Field, error) {
	kind := ParseKind(name)
	values, err := decodeNumbers(raw)
	if err != nil {
		return Field{}, fmt.Errorf("%w for '%s': %v", ErrInvalidValue, name, err)
	}

	f := Field{Kind: kind, Name: name}
	if kind.IsFloat() {
		f.Floats = values
		return f, nil
	}
	f.Ints = make([]int, len(values))
	for i, v := range values {
		f.Ints[i] = int(math.Round(v))
	}
	return f, nil
}

func decodeNumbers(raw json.RawMessage) ([]float64, error) {
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return []float64{scalar}, nil
	}
	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	return values, nil
}
