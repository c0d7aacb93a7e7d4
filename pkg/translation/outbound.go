// Package translation converts command envelopes into vehicle wire packets
// and reassembles the vehicle's framed telemetry stream into typed records.
package translation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/UiS-Subsea/rov-bridge/pkg/command"
)

// PayloadSlots is the fixed payload width of every wire packet.
const PayloadSlots = 8

// Sentinel wraps every packet on the vehicle link.
const Sentinel = `"*"`

// HeartbeatFrame is written by the transport client on every heartbeat tick.
var HeartbeatFrame = []byte(Sentinel + "heartbeat" + Sentinel)

// Heartbeat formats accepted by HeartbeatFrameFor.
const (
	// HeartbeatPlain sends the bare framed word.
	HeartbeatPlain = "plain"
	// HeartbeatJSON sends the framed word as a JSON string, quotes escaped
	// as \".
	HeartbeatJSON = "json"
	// HeartbeatJSONUnicode sends the framed word as a JSON string, quotes
	// escaped as \u0022.
	HeartbeatJSONUnicode = "json_unicode"
)

// HeartbeatFrameFor returns the heartbeat bytes for format. An empty format
// selects HeartbeatPlain.
func HeartbeatFrameFor(format string) ([]byte, error) {
	switch format {
	case "", HeartbeatPlain:
		return HeartbeatFrame, nil
	case HeartbeatJSON:
		return json.Marshal(string(HeartbeatFrame))
	case HeartbeatJSONUnicode:
		b, err := json.Marshal(string(HeartbeatFrame))
		if err != nil {
			return nil, err
		}
		return bytes.ReplaceAll(b, []byte(`\"`), []byte(`\u0022`)), nil
	}
	return nil, fmt.Errorf("unknown heartbeat format %q", format)
}

// WirePacket is one vehicle command. Labelled packets (camera tilt) carry
// a string label and a single value instead of the 8-slot payload.
type WirePacket struct {
	Opcode  int
	Payload [PayloadSlots]int
	Label   string
}

// MarshalJSON encodes the packet as [opcode,[p0..p7]] or [opcode,["label",p0]].
func (p WirePacket) MarshalJSON() ([]byte, error) {
	if p.Label != "" {
		return json.Marshal([]interface{}{p.Opcode, []interface{}{p.Label, p.Payload[0]}})
	}
	return json.Marshal([]interface{}{p.Opcode, p.Payload})
}

func (p WirePacket) String() string {
	b, err := p.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("opcode=%d", p.Opcode)
	}
	return string(b)
}

func packet(opcode int, slots ...int) WirePacket {
	p := WirePacket{Opcode: opcode}
	copy(p.Payload[:], slots)
	return p
}

// rule builds at most one packet from an envelope. Rules run in table order.
type rule struct {
	name  string
	build func(env command.Envelope) (WirePacket, bool)
}

// single maps field kind k to opcode with v0 in slot 0.
func single(k command.Kind, opcode int) rule {
	return rule{name: k.String(), build: func(env command.Envelope) (WirePacket, bool) {
		f, ok := env.Get(k)
		if !ok {
			return WirePacket{}, false
		}
		return packet(opcode, f.Value(0)), true
	}}
}

// slider maps field kind k to opcode with v1 in slot 1.
func slider(k command.Kind, opcode int) rule {
	return rule{name: k.String(), build: func(env command.Envelope) (WirePacket, bool) {
		f, ok := env.Get(k)
		if !ok {
			return WirePacket{}, false
		}
		return packet(opcode, 0, f.Value(1)), true
	}}
}

// Opcodes 32, 66, 98 and 99 are shared by several commands; the vehicle
// firmware tells them apart. Keep the table in wire order.
var rules = []rule{
	{name: "rov_axis", build: func(env command.Envelope) (WirePacket, bool) {
		a, ok := env.Get(command.KindRovAxis)
		if !ok {
			return WirePacket{}, false
		}
		return packet(33, a.Value(1), a.Value(0), a.Value(6), a.Value(3)), true
	}},
	{name: "mani", build: func(env command.Envelope) (WirePacket, bool) {
		dpad, ok := env.Get(command.KindManiDPad)
		if !ok {
			return WirePacket{}, false
		}
		joy, ok := env.Get(command.KindManiJoystick)
		if !ok {
			return WirePacket{}, false
		}
		return packet(34, dpad.Value(1)*100, joy.Value(0), joy.Value(4), joy.Value(6)), true
	}},
	{name: "autonom_data", build: func(env command.Envelope) (WirePacket, bool) {
		d, ok := env.Get(command.KindAutonomData)
		if !ok {
			return WirePacket{}, false
		}
		return packet(33, d.Value(0), d.Value(1), d.Value(2), d.Value(3)), true
	}},
	single(command.KindControlsReset, 97),
	single(command.KindThrusterControlsReset, 98),
	single(command.KindManipulatorControlsReset, 99),
	single(command.KindDepthReset, 66),
	single(command.KindAnglesReset, 66),
	single(command.KindIMUCalibrate, 66),
	{name: "Regulator_Tuning", build: func(env command.Envelope) (WirePacket, bool) {
		f, ok := env.Get(command.KindRegulatorTuning)
		if !ok {
			return WirePacket{}, false
		}
		return packet(42, f.Value(0), f.Value(1)), true
	}},
	single(command.KindToggleAllRegulator, 32),
	single(command.KindToggleRollRegulator, 32),
	single(command.KindToggleStampRegulator, 32),
	single(command.KindToggleDepthRegulator, 32),
	single(command.KindFrontLightOn, 98),
	single(command.KindBottomLightOn, 99),
	slider(command.KindFrontLightSlider, 98),
	slider(command.KindBottomLightSlider, 99),
	{name: "tilt", build: func(env command.Envelope) (WirePacket, bool) {
		f, ok := env.Get(command.KindTilt)
		if !ok {
			return WirePacket{}, false
		}
		p := packet(200, f.Value(0))
		p.Label = "tilt"
		return p, true
	}},
}

// translated lists the kinds that contribute to at least one rule.
var translated = map[command.Kind]bool{
	command.KindRovAxis:                  true,
	command.KindManiDPad:                 true,
	command.KindManiJoystick:             true,
	command.KindAutonomData:              true,
	command.KindControlsReset:            true,
	command.KindThrusterControlsReset:    true,
	command.KindManipulatorControlsReset: true,
	command.KindDepthReset:               true,
	command.KindAnglesReset:              true,
	command.KindIMUCalibrate:             true,
	command.KindRegulatorTuning:          true,
	command.KindToggleAllRegulator:       true,
	command.KindToggleRollRegulator:      true,
	command.KindToggleStampRegulator:     true,
	command.KindToggleDepthRegulator:     true,
	command.KindFrontLightOn:             true,
	command.KindBottomLightOn:            true,
	command.KindFrontLightSlider:         true,
	command.KindBottomLightSlider:        true,
	command.KindTilt:                     true,
}

// Translator maps command envelopes to wire packets. It holds no state.
type Translator struct{}

// NewTranslator creates a Translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// Translate returns the packets for env in wire order. Envelopes without
// any translatable field yield an empty slice.
func (t *Translator) Translate(env command.Envelope) []WirePacket {
	packets := make([]WirePacket, 0, 2)
	for _, r := range rules {
		if p, ok := r.build(env); ok {
			packets = append(packets, p)
		}
	}
	return packets
}

// Untranslated returns the names of fields in env that no rule consumes:
// unknown keys and observer settings without a vehicle opcode.
func (t *Translator) Untranslated(env command.Envelope) []string {
	var names []string
	for _, f := range env.Fields {
		if !translated[f.Kind] {
			names = append(names, f.Name)
		}
	}
	return names
}

// EncodeFrames wraps each packet in sentinels and concatenates them into
// a single buffer for one write.
func EncodeFrames(packets []WirePacket) ([]byte, error) {
	var buf bytes.Buffer
	for _, p := range packets {
		b, err := p.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to encode packet with opcode %d: %w", p.Opcode, err)
		}
		buf.WriteString(Sentinel)
		buf.Write(b)
		buf.WriteString(Sentinel)
	}
	return buf.Bytes(), nil
}
