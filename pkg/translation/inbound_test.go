package translation

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

const thrustFrame = `"*"{"129":[1,2,3,4,5,6,7,8.456]}"*"`

func newTestDecoder() *Decoder {
	return NewDecoder(0, log.NewNopLogger())
}

func TestDecodeSingleFrame(t *testing.T) {
	d := newTestDecoder()
	records := d.Decode([]byte(thrustFrame))
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	thrust, ok := records[0].(ThrustRecord)
	if !ok {
		t.Fatalf("Expected ThrustRecord, got %T", records[0])
	}
	if thrust.Type != "THRUSTPAADRAG" || thrust.HFF != 1 || thrust.VVF != 8.46 {
		t.Errorf("Unexpected record: %+v", thrust)
	}
}

func TestDecodeSplitMatchesWhole(t *testing.T) {
	whole := newTestDecoder().Decode([]byte(thrustFrame))

	for split := 1; split < len(thrustFrame); split++ {
		d := newTestDecoder()
		first := d.Decode([]byte(thrustFrame[:split]))
		second := d.Decode([]byte(thrustFrame[split:]))
		got := append(first, second...)
		if !reflect.DeepEqual(got, whole) {
			t.Fatalf("Split at %d: expected %+v, got %+v", split, whole, got)
		}
	}
}

func TestDecodeConsecutiveFrames(t *testing.T) {
	d := newTestDecoder()
	first := d.Decode([]byte(thrustFrame))
	second := d.Decode([]byte(`"*"{"145":[31.256]}"*""*"{"152":[4210]}"*"`))
	if len(first) != 1 || len(second) != 2 {
		t.Fatalf("Expected 1 then 2 records, got %d then %d", len(first), len(second))
	}
	if com, ok := second[0].(ComTempRecord); !ok || com.ComTemp != 31.26 {
		t.Errorf("Unexpected COMTEMP record %+v", second[0])
	}
	if p, ok := second[1].(Power5VRecord); !ok || p.PowerTemp != 42.1 {
		t.Errorf("Unexpected DATA5V record %+v", second[1])
	}
}

func TestDecodeUnknownChannel(t *testing.T) {
	d := newTestDecoder()
	records := d.Decode([]byte(`"*"{"999":[1,2,3]}"*"`))
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	unknown, ok := records[0].(UnknownRecord)
	if !ok {
		t.Fatalf("Expected UnknownRecord, got %T", records[0])
	}
	if unknown.CanID != 999 || string(unknown.RawData) != "[1,2,3]" || unknown.Type != TypeUnknown {
		t.Errorf("Unexpected unknown record %+v", unknown)
	}

	b, err := json.Marshal(unknown)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(b) != `{"Type":"Unknown","CanID":999,"RawData":[1,2,3]}` {
		t.Errorf("Unexpected JSON %s", b)
	}
}

func TestDecodeAcceptedFormats(t *testing.T) {
	cases := map[string]string{
		"quoted keys": `"*"{"139":[250,12.5,1834]}"*"`,
		"bare keys":   `"*"{139:[250,12.5,1834]}"*"`,
		"legacy":      `"*"[139,[250,12.5,1834]]"*"`,
	}
	want := TempDepthRecord{Type: "TEMPDYBDE", Depth: 250, WaterTemp: 12.5, SensorTemp: 18.34}

	for name, frame := range cases {
		records := newTestDecoder().Decode([]byte(frame))
		if len(records) != 1 {
			t.Errorf("%s: expected 1 record, got %d", name, len(records))
			continue
		}
		if records[0] != want {
			t.Errorf("%s: expected %+v, got %+v", name, want, records[0])
		}
	}
}

func TestDecodeSkipsMarkersAndBadPackets(t *testing.T) {
	d := newTestDecoder()
	stream := `"*"heartbeat"*""*"INFO"*""*"{"129":[1,2]}"*""*"not json"*""*"{"145":[20]}"*"`
	records := d.Decode([]byte(stream))
	if len(records) != 1 {
		t.Fatalf("Expected only the COMTEMP record, got %+v", records)
	}
	if records[0].TypeName() != "COMTEMP" {
		t.Errorf("Expected COMTEMP, got %s", records[0].TypeName())
	}

	stats := d.Stats()
	if stats.Skipped != 2 || stats.Failed != 2 || stats.Records != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestDecodeDiscardsWithoutLeadingSentinel(t *testing.T) {
	d := newTestDecoder()
	if records := d.Decode([]byte(`{"129":[1,2,3,4,5,6,7,8]}"*"`)); len(records) != 0 {
		t.Errorf("Expected buffer to be discarded, got %+v", records)
	}
	if d.Pending() != 0 {
		t.Errorf("Expected no remainder after discard, got %d bytes", d.Pending())
	}
	if d.Stats().Discarded != 1 {
		t.Errorf("Expected one discarded buffer")
	}

	// The decoder recovers on the next well-formed frame.
	if records := d.Decode([]byte(thrustFrame)); len(records) != 1 {
		t.Errorf("Expected recovery, got %d records", len(records))
	}
}

func TestDecodeRemainderOverflow(t *testing.T) {
	d := NewDecoder(16, log.NewNopLogger())
	records := d.Decode([]byte(`"*"{"129":[` + strings.Repeat("1,", 50)))
	if len(records) != 0 {
		t.Errorf("Expected no records, got %d", len(records))
	}
	if d.Pending() != 0 {
		t.Errorf("Expected remainder to be dropped, got %d bytes", d.Pending())
	}
	if d.Stats().Overflows != 1 {
		t.Errorf("Expected one overflow")
	}
}

func TestSensorErrorFaults(t *testing.T) {
	d := newTestDecoder()
	frame := `"*"{"140":[[true,false,false,false,false,true,false],[0,1,0],[false,false,true],[true,false,false,true,true]]}"*"`
	records := d.Decode([]byte(frame))
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec, ok := records[0].(SensorErrorRecord)
	if !ok {
		t.Fatalf("Expected SensorErrorRecord, got %T", records[0])
	}
	if !reflect.DeepEqual(rec.IMUErrors, []string{"HAL_ERROR", "MEMS_ERROR"}) {
		t.Errorf("Unexpected IMU faults %v", rec.IMUErrors)
	}
	if !reflect.DeepEqual(rec.TempErrors, []string{"HAL_BUSY"}) {
		t.Errorf("Unexpected TEMP faults %v", rec.TempErrors)
	}
	if !reflect.DeepEqual(rec.PressureErrors, []string{"HAL_TIMEOUT"}) {
		t.Errorf("Unexpected PRESSURE faults %v", rec.PressureErrors)
	}
	// The fifth leak flag has no name and is dropped.
	if !reflect.DeepEqual(rec.LeakErrors, []string{"Probe_1", "Probe_4"}) {
		t.Errorf("Unexpected leak faults %v", rec.LeakErrors)
	}
}

func TestPowerRecord(t *testing.T) {
	rec, err := MapChannel(Channel12VLeft, json.RawMessage(`[12346,4567,[false,true,true]]`))
	if err != nil {
		t.Fatalf("MapChannel failed: %v", err)
	}
	p := rec.(PowerRecord)
	if p.Type != "DATA12VLEFT" || p.Power != 12.35 || p.Temp != 45.67 || p.Channel() != Channel12VLeft {
		t.Errorf("Unexpected power record %+v", p)
	}
	if !reflect.DeepEqual(p.Fuse, []string{"Fuse Fault", "OverTemp Fuse"}) {
		t.Errorf("Unexpected fuse faults %v", p.Fuse)
	}

	b, _ := json.Marshal(PowerRecord{Type: "DATA12VRIGHT", Fuse: faultNames(powerFaults, nil)})
	if string(b) != `{"Type":"DATA12VRIGHT","Power":0,"Temp":0,"Fuse":[]}` {
		t.Errorf("Expected empty fault list to encode as [], got %s", b)
	}
}

func TestMapChannelShortPayload(t *testing.T) {
	_, err := MapChannel(ChannelRegTemp, json.RawMessage(`[1,2]`))
	if !errors.Is(err, ErrShortPayload) {
		t.Errorf("Expected ErrShortPayload, got %v", err)
	}
}

func TestChannelName(t *testing.T) {
	if ChannelName(ChannelAngles) != "VINKLER" {
		t.Errorf("Expected VINKLER, got %s", ChannelName(ChannelAngles))
	}
	if ChannelName(7) != TypeUnknown {
		t.Errorf("Expected Unknown for unmapped channel")
	}
}

func TestStreamDecoderKeepsStreamsApart(t *testing.T) {
	m := NewStreamDecoder(0, log.NewNopLogger())
	if recs := m.Decode(1, []byte(`"*"{"145":[2`)); len(recs) != 0 {
		t.Fatalf("Expected no records from a partial packet, got %v", recs)
	}
	if recs := m.Decode(2, []byte(`"*"{"145":[1`)); len(recs) != 0 {
		t.Fatalf("Expected no records from a partial packet, got %v", recs)
	}

	recs := m.Decode(1, []byte(`5]}"*"`))
	if len(recs) != 1 || recs[0].(ComTempRecord).ComTemp != 25 {
		t.Errorf("Expected reading 25 on stream 1, got %+v", recs)
	}
	recs = m.Decode(2, []byte(`7]}"*"`))
	if len(recs) != 1 || recs[0].(ComTempRecord).ComTemp != 17 {
		t.Errorf("Expected reading 17 on stream 2, got %+v", recs)
	}

	m.Close(1)
	if m.Streams() != 1 {
		t.Errorf("Expected one open stream, got %d", m.Streams())
	}
	if m.Stats().Discarded != 0 {
		t.Errorf("Closing after a complete packet must not count a discard")
	}
	m.Close(2)
	m.Close(7)
	if m.Streams() != 0 {
		t.Errorf("Expected no open streams, got %d", m.Streams())
	}
}
