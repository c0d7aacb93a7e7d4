package translation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrShortPayload is returned when a channel payload has fewer values than its field set.
var ErrShortPayload = errors.New("telemetry payload too short")

// ErrInvalidField is returned when a payload value has the wrong JSON type.
var ErrInvalidField = errors.New("invalid telemetry field")

// Channel identifiers sent by the vehicle.
const (
	ChannelThrust       = 129
	ChannelRegTemp      = 130
	ChannelAccel        = 135
	ChannelGyro         = 136
	ChannelMagnetometer = 137
	ChannelAngles       = 138
	ChannelTempDepth    = 139
	ChannelSensorError  = 140
	ChannelComTemp      = 145
	Channel12VRight     = 150
	Channel12VLeft      = 151
	Channel5V           = 152
)

// TypeUnknown is the record type for channels without a mapping.
const TypeUnknown = "Unknown"

// Record is one decoded telemetry reading. Every implementation encodes
// to a JSON object with a "Type" key.
type Record interface {
	Channel() int
	TypeName() string
}

// ThrustRecord is the per-thruster output (129).
type ThrustRecord struct {
	Type string  `json:"Type"`
	HFF  float64 `json:"HFF"`
	HHB  float64 `json:"HHB"`
	HVB  float64 `json:"HVB"`
	HVF  float64 `json:"HVF"`
	VHF  float64 `json:"VHF"`
	VHB  float64 `json:"VHB"`
	VVB  float64 `json:"VVB"`
	VVF  float64 `json:"VVF"`
}

func (r ThrustRecord) Channel() int     { return ChannelThrust }
func (r ThrustRecord) TypeName() string { return r.Type }

// RegTempRecord carries regulator card temperatures (130).
type RegTempRecord struct {
	Type      string  `json:"Type"`
	RegTemp   float64 `json:"REG_temp"`
	MotorTemp float64 `json:"Motor_temp"`
	Depth     float64 `json:"Depth"`
}

func (r RegTempRecord) Channel() int     { return ChannelRegTemp }
func (r RegTempRecord) TypeName() string { return r.Type }

// IMURecord is shared by the accelerometer, gyro and magnetometer channels.
// Values are passed through unscaled.
type IMURecord struct {
	Type    string  `json:"Type"`
	Roll    float64 `json:"Roll"`
	Pitch   float64 `json:"Pitch"`
	Yaw     float64 `json:"Yaw"`
	channel int
}

func (r IMURecord) Channel() int     { return r.channel }
func (r IMURecord) TypeName() string { return r.Type }

// AnglesRecord is the vehicle attitude in degrees (138).
type AnglesRecord struct {
	Type  string  `json:"Type"`
	Roll  float64 `json:"Roll"`
	Stamp float64 `json:"Stamp"`
	Gir   float64 `json:"Gir"`
}

func (r AnglesRecord) Channel() int     { return ChannelAngles }
func (r AnglesRecord) TypeName() string { return r.Type }

// TempDepthRecord is depth in cm plus water and sensor temperature (139).
type TempDepthRecord struct {
	Type       string  `json:"Type"`
	Depth      float64 `json:"Depth"`
	WaterTemp  float64 `json:"Water_temp"`
	SensorTemp float64 `json:"Sensor_temp"`
}

func (r TempDepthRecord) Channel() int     { return ChannelTempDepth }
func (r TempDepthRecord) TypeName() string { return r.Type }

// SensorErrorRecord lists active sensor faults by name (140).
type SensorErrorRecord struct {
	Type           string   `json:"Type"`
	IMUErrors      []string `json:"IMU_Errors"`
	TempErrors     []string `json:"TEMP_Errors"`
	PressureErrors []string `json:"PRESSURE_Errors"`
	LeakErrors     []string `json:"Leak_Errors"`
}

func (r SensorErrorRecord) Channel() int     { return ChannelSensorError }
func (r SensorErrorRecord) TypeName() string { return r.Type }

// ComTempRecord is the communication card temperature (145).
type ComTempRecord struct {
	Type    string  `json:"Type"`
	ComTemp float64 `json:"Com_temp"`
}

func (r ComTempRecord) Channel() int     { return ChannelComTemp }
func (r ComTempRecord) TypeName() string { return r.Type }

// PowerRecord is a 12 V rail reading: current in A, temperature in C and fuse faults.
type PowerRecord struct {
	Type    string   `json:"Type"`
	Power   float64  `json:"Power"`
	Temp    float64  `json:"Temp"`
	Fuse    []string `json:"Fuse"`
	channel int
}

func (r PowerRecord) Channel() int     { return r.channel }
func (r PowerRecord) TypeName() string { return r.Type }

// Power5VRecord is the 5 V rail temperature (152).
type Power5VRecord struct {
	Type      string  `json:"Type"`
	PowerTemp float64 `json:"Power_temp"`
}

func (r Power5VRecord) Channel() int     { return Channel5V }
func (r Power5VRecord) TypeName() string { return r.Type }

// UnknownRecord preserves the id and raw payload of an unmapped channel.
type UnknownRecord struct {
	Type    string          `json:"Type"`
	CanID   int             `json:"CanID"`
	RawData json.RawMessage `json:"RawData"`
}

func (r UnknownRecord) Channel() int     { return r.CanID }
func (r UnknownRecord) TypeName() string { return r.Type }

// Fault categories inside the sensor error channel.
const (
	faultIMU = iota
	faultTemp
	faultPressure
	faultLeak
)

var halFaults = []string{"HAL_ERROR", "HAL_BUSY", "HAL_TIMEOUT"}

var faultTables = map[int][]string{
	faultIMU:      {"HAL_ERROR", "HAL_BUSY", "HAL_TIMEOUT", "INIT_ERROR", "WHO_AM_I_ERROR", "MEMS_ERROR", "MAG_WHO_AM_I_ERROR"},
	faultTemp:     halFaults,
	faultPressure: halFaults,
	faultLeak:     {"Probe_1", "Probe_2", "Probe_3", "Probe_4"},
}

var powerFaults = []string{"OverCurrent Trip", "Fuse Fault", "OverTemp Fuse"}

// channelDecoder maps one channel payload to a record.
type channelDecoder struct {
	name   string
	fields int
	decode func(name string, v []json.RawMessage) (Record, error)
}

var channels = map[int]channelDecoder{
	ChannelThrust: {name: "THRUSTPAADRAG", fields: 8, decode: func(name string, v []json.RawMessage) (Record, error) {
		n, err := numbers(v, 8)
		if err != nil {
			return nil, err
		}
		return ThrustRecord{
			Type: name,
			HFF:  round2(n[0]), HHB: round2(n[1]), HVB: round2(n[2]), HVF: round2(n[3]),
			VHF: round2(n[4]), VHB: round2(n[5]), VVB: round2(n[6]), VVF: round2(n[7]),
		}, nil
	}},
	ChannelRegTemp: {name: "REGTEMP", fields: 3, decode: func(name string, v []json.RawMessage) (Record, error) {
		n, err := numbers(v, 3)
		if err != nil {
			return nil, err
		}
		return RegTempRecord{Type: name, RegTemp: round2(n[0] / 100), MotorTemp: round2(n[1] / 100), Depth: round2(n[2] / 100)}, nil
	}},
	ChannelAccel:        {name: "AKSELERASJON", fields: 3, decode: imu(ChannelAccel)},
	ChannelGyro:         {name: "GYRO", fields: 3, decode: imu(ChannelGyro)},
	ChannelMagnetometer: {name: "MAGNETOMETER", fields: 3, decode: imu(ChannelMagnetometer)},
	ChannelAngles: {name: "VINKLER", fields: 3, decode: func(name string, v []json.RawMessage) (Record, error) {
		n, err := numbers(v, 3)
		if err != nil {
			return nil, err
		}
		return AnglesRecord{Type: name, Roll: round2(n[0]), Stamp: round2(n[1]), Gir: round2(n[2])}, nil
	}},
	ChannelTempDepth: {name: "TEMPDYBDE", fields: 3, decode: func(name string, v []json.RawMessage) (Record, error) {
		n, err := numbers(v, 3)
		if err != nil {
			return nil, err
		}
		return TempDepthRecord{Type: name, Depth: round2(n[0]), WaterTemp: round2(n[1]), SensorTemp: round2(n[2] / 100)}, nil
	}},
	ChannelSensorError: {name: "SENSORERROR", fields: 4, decode: func(name string, v []json.RawMessage) (Record, error) {
		r := SensorErrorRecord{Type: name}
		lists := []*[]string{&r.IMUErrors, &r.TempErrors, &r.PressureErrors, &r.LeakErrors}
		for category, dst := range lists {
			flags, err := flagList(v[category])
			if err != nil {
				return nil, fmt.Errorf("fault category %d: %w", category, err)
			}
			*dst = faultNames(faultTables[category], flags)
		}
		return r, nil
	}},
	ChannelComTemp: {name: "COMTEMP", fields: 1, decode: func(name string, v []json.RawMessage) (Record, error) {
		n, err := numbers(v, 1)
		if err != nil {
			return nil, err
		}
		return ComTempRecord{Type: name, ComTemp: round2(n[0])}, nil
	}},
	Channel12VRight: {name: "DATA12VRIGHT", fields: 3, decode: power(Channel12VRight)},
	Channel12VLeft:  {name: "DATA12VLEFT", fields: 3, decode: power(Channel12VLeft)},
	Channel5V: {name: "DATA5V", fields: 1, decode: func(name string, v []json.RawMessage) (Record, error) {
		n, err := numbers(v, 1)
		if err != nil {
			return nil, err
		}
		return Power5VRecord{Type: name, PowerTemp: round2(n[0] / 100)}, nil
	}},
}

func imu(channel int) func(string, []json.RawMessage) (Record, error) {
	return func(name string, v []json.RawMessage) (Record, error) {
		n, err := numbers(v, 3)
		if err != nil {
			return nil, err
		}
		return IMURecord{Type: name, Roll: n[0], Pitch: n[1], Yaw: n[2], channel: channel}, nil
	}
}

func power(channel int) func(string, []json.RawMessage) (Record, error) {
	return func(name string, v []json.RawMessage) (Record, error) {
		n, err := numbers(v, 2)
		if err != nil {
			return nil, err
		}
		flags, err := flagList(v[2])
		if err != nil {
			return nil, fmt.Errorf("fuse flags: %w", err)
		}
		return PowerRecord{
			Type:    name,
			Power:   round2(n[0] / 1000),
			Temp:    round2(n[1] / 100),
			Fuse:    faultNames(powerFaults, flags),
			channel: channel,
		}, nil
	}
}

// ChannelName returns the record type for a channel id, or TypeUnknown.
func ChannelName(id int) string {
	if d, ok := channels[id]; ok {
		return d.name
	}
	return TypeUnknown
}

// MapChannel converts one channel payload into a record. Unmapped ids
// become UnknownRecord with the raw payload.
func MapChannel(id int, payload json.RawMessage) (Record, error) {
	d, ok := channels[id]
	if !ok {
		raw := make(json.RawMessage, len(payload))
		copy(raw, payload)
		return UnknownRecord{Type: TypeUnknown, CanID: id, RawData: raw}, nil
	}

	var values []json.RawMessage
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, fmt.Errorf("channel %d payload is not an array: %w", id, err)
	}
	if len(values) < d.fields {
		return nil, fmt.Errorf("%w: channel %d (%s) needs %d values, got %d", ErrShortPayload, id, d.name, d.fields, len(values))
	}
	rec, err := d.decode(d.name, values)
	if err != nil {
		return nil, fmt.Errorf("channel %d (%s): %w", id, d.name, err)
	}
	return rec, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func numbers(v []json.RawMessage, count int) ([]float64, error) {
	out := make([]float64, count)
	for i := 0; i < count; i++ {
		if err := json.Unmarshal(v[i], &out[i]); err != nil {
			return nil, fmt.Errorf("%w: value %d is not a number", ErrInvalidField, i)
		}
	}
	return out, nil
}

// flagList accepts an array of booleans or of 0/1 numbers.
func flagList(raw json.RawMessage) ([]bool, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: flags are not an array", ErrInvalidField)
	}
	flags := make([]bool, len(items))
	for i, item := range items {
		var b bool
		if err := json.Unmarshal(item, &b); err == nil {
			flags[i] = b
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err != nil {
			return nil, fmt.Errorf("%w: flag %d is neither bool nor number", ErrInvalidField, i)
		}
		flags[i] = n != 0
	}
	return flags, nil
}

// faultNames zips flags onto names. Flags past the end of the table are ignored.
func faultNames(names []string, flags []bool) []string {
	out := make([]string, 0, len(names))
	for i, set := range flags {
		if i >= len(names) {
			break
		}
		if set {
			out = append(out, names[i])
		}
	}
	return out
}
