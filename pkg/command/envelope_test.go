package command

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseKind(t *testing.T) {
	if ParseKind("Front_Light_On") != KindFrontLightOn {
		t.Errorf("Expected KindFrontLightOn")
	}
	if ParseKind("front_light_on") != KindUnrecognized {
		t.Errorf("Expected field names to be case sensitive")
	}
	if KindMPCSettings.String() != "mpc_settings" {
		t.Errorf("Unexpected name %s", KindMPCSettings.String())
	}
	if !KindRegModeSetting.IsFloat() || KindTilt.IsFloat() {
		t.Errorf("Unexpected float classification")
	}
}

func TestFieldValueDefaultsToZero(t *testing.T) {
	f := Ints(KindRegulatorTuning, 7)
	if f.Value(0) != 7 {
		t.Errorf("Expected 7, got %d", f.Value(0))
	}
	if f.Value(1) != 0 || f.Value(-1) != 0 || f.Value(100) != 0 {
		t.Errorf("Expected missing slots to read as 0")
	}
}

func TestFieldFromJSON(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		kind   Kind
		ints   []int
		floats []float64
	}{
		{name: "tilt", raw: `5`, kind: KindTilt, ints: []int{5}},
		{name: "reg_mode", raw: `[2]`, kind: KindRegMode, ints: []int{2}},
		{name: "autotune", raw: `[1,0,3,0.5]`, kind: KindAutotune, ints: []int{1, 0, 3, 1}},
		{name: "reg_mode_setting", raw: `[0,0,0,0,1.5,0.25]`, kind: KindRegModeSetting, floats: []float64{0, 0, 0, 0, 1.5, 0.25}},
		{name: "mpc_settings", raw: `3.5`, kind: KindMPCSettings, floats: []float64{3.5}},
		{name: "something_else", raw: `[1]`, kind: KindUnrecognized, ints: []int{1}},
	}

	for _, tc := range cases {
		f, err := FieldFromJSON(tc.name, json.RawMessage(tc.raw))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if f.Kind != tc.kind || f.Name != tc.name {
			t.Errorf("%s: expected kind %v, got %v (%s)", tc.name, tc.kind, f.Kind, f.Name)
		}
		if len(f.Ints) != len(tc.ints) {
			t.Errorf("%s: expected ints %v, got %v", tc.name, tc.ints, f.Ints)
		} else {
			for i := range tc.ints {
				if f.Ints[i] != tc.ints[i] {
					t.Errorf("%s: expected ints %v, got %v", tc.name, tc.ints, f.Ints)
					break
				}
			}
		}
		if len(f.Floats) != len(tc.floats) {
			t.Errorf("%s: expected floats %v, got %v", tc.name, tc.floats, f.Floats)
		}
	}
}

func TestFieldFromJSONRejectsStrings(t *testing.T) {
	_, err := FieldFromJSON("tilt", json.RawMessage(`"up"`))
	if !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}
}

func TestIntsCopiesInput(t *testing.T) {
	values := []int{1, 2, 3}
	f := Ints(KindRovAxis, values...)
	values[0] = 99
	if f.Value(0) != 1 {
		t.Errorf("Expected field to keep its own copy, got %d", f.Value(0))
	}
}
