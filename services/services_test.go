package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/UiS-Subsea/rov-bridge/pkg/config"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
)

const validConfig = `version: "1.0"
config_id: bridge-test
vehicle_id: rov-1
controllers:
  - role: rov
    device_index: 0
input:
  deadzone: 15
channels:
  - id: 145
    name: COMTEMP
`

func TestModeService(t *testing.T) {
	s := NewModeService(log.NewNopLogger())
	if !s.IsManual() || s.Mode() != ModeManual {
		t.Fatalf("Expected MANUAL by default")
	}

	if err := s.SetMode(ModeAuto); err != nil {
		t.Fatalf("SetMode(AUTO) failed: %v", err)
	}
	if s.IsManual() || s.Mode() != ModeAuto {
		t.Errorf("Expected AUTO after SetMode")
	}

	if err := s.SetMode("auto"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("Expected ErrUnknownMode for lowercase mode, got %v", err)
	}
	if s.Mode() != ModeAuto {
		t.Errorf("Expected unknown mode to leave state unchanged")
	}

	s.SetManual()
	if !s.IsManual() {
		t.Errorf("Expected MANUAL after SetManual")
	}
}

func TestBridgeConfigServiceLoadAndUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(validConfig), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	svc, err := NewBridgeConfigService(path, log.NewNopLogger())
	if err != nil {
		t.Fatalf("NewBridgeConfigService failed: %v", err)
	}
	cfg := svc.GetCurrentConfig()
	if cfg == nil || cfg.ConfigID != "bridge-test" || len(cfg.Channels) != 1 {
		t.Fatalf("Unexpected loaded config %+v", cfg)
	}

	var notified *config.Config
	svc.AddListener(func(c *config.Config) { notified = c })

	updated := []byte(`version: "1.1"
config_id: bridge-next
vehicle_id: rov-1
`)
	if err := svc.UpdateConfig(updated); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if notified == nil || notified.ConfigID != "bridge-next" {
		t.Errorf("Expected listener to see the new config, got %+v", notified)
	}
	raw, err := svc.GetCurrentConfigYAML()
	if err != nil || string(raw) != string(updated) {
		t.Errorf("Expected persisted YAML to match update, got %q (%v)", raw, err)
	}

	if err := svc.UpdateConfig([]byte(`version: "2"`)); err == nil {
		t.Errorf("Expected validation error for missing fields")
	}
	if svc.GetCurrentConfig().ConfigID != "bridge-next" {
		t.Errorf("Expected rejected update to keep the current config")
	}
}

func TestBridgeConfigServiceMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	svc, err := NewBridgeConfigService(path, log.NewNopLogger())
	if err != nil {
		t.Fatalf("Expected service without config, got error %v", err)
	}
	if svc.GetCurrentConfig() != nil {
		t.Errorf("Expected nil config for missing file")
	}
	if _, err := svc.GetCurrentConfigYAML(); err == nil {
		t.Errorf("Expected error reading missing file")
	}

	if _, err := NewBridgeConfigService("", nil); err == nil {
		t.Errorf("Expected error for empty path")
	}
}
