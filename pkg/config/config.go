package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Controller roles
const (
	RoleROV         = "rov"
	RoleManipulator = "mani"
)

// Telemetry dispatch priorities
const (
	PriorityHigh     = "HIGH"
	PriorityStandard = "STANDARD"
	PriorityLow      = "LOW"
)

const (
	DefaultDeadzone = 15
	DefaultPollHz   = 20
)

// ErrInvalidConfig wraps every parse or validation failure of the operational config.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the operational bridge configuration (bridge.yaml)
type Config struct {
	Version     string              `yaml:"version" json:"version"`
	ConfigID    string              `yaml:"config_id" json:"config_id"`
	LastUpdated string              `yaml:"lastUpdated" json:"lastUpdated"`
	VehicleID   string              `yaml:"vehicle_id" json:"vehicle_id"`
	Controllers []ControllerMapping `yaml:"controllers" json:"controllers"`
	Input       InputConfig         `yaml:"input" json:"input"`
	Channels    []ChannelMapping    `yaml:"channels" json:"channels"`
	Defaults    DefaultsConfig      `yaml:"defaults" json:"defaults"`
}

// ControllerMapping binds a controller role to a physical input device
type ControllerMapping struct {
	Role        string `yaml:"role" json:"role"`
	DeviceIndex int    `yaml:"device_index" json:"device_index"`
	GUID        string `yaml:"guid,omitempty" json:"guid,omitempty"`
	// HatAxes names the axis pair the device reports its d-pad on.
	HatAxes []int `yaml:"hat_axes,omitempty" json:"hat_axes,omitempty"`
}

// InputConfig holds controller sampling settings
type InputConfig struct {
	Deadzone int `yaml:"deadzone" json:"deadzone"`
	PollHz   int `yaml:"poll_hz" json:"poll_hz"`
}

// ChannelMapping describes a known telemetry channel
type ChannelMapping struct {
	ID       int    `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Priority string `yaml:"priority" json:"priority"`
}

// DefaultsConfig holds default values for channel mappings
type DefaultsConfig struct {
	Priority string `yaml:"priority" json:"priority"`
}

// LoadConfig loads the operational configuration from the given path
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates operational configuration YAML
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: error parsing config file: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and controller roles
func (c *Config) Validate() error {
	if c.ConfigID == "" || c.Version == "" || c.VehicleID == "" {
		return fmt.Errorf("%w: validation failed: missing required fields (config_id, version, vehicle_id)", ErrInvalidConfig)
	}
	seen := make(map[string]bool)
	for _, m := range c.Controllers {
		if m.Role != RoleROV && m.Role != RoleManipulator {
			return fmt.Errorf("%w: validation failed: unknown controller role '%s'", ErrInvalidConfig, m.Role)
		}
		if seen[m.Role] {
			return fmt.Errorf("%w: validation failed: duplicate controller role '%s'", ErrInvalidConfig, m.Role)
		}
		seen[m.Role] = true
		if len(m.HatAxes) != 0 && len(m.HatAxes) != 2 {
			return fmt.Errorf("%w: validation failed: hat_axes for '%s' must name exactly two axes", ErrInvalidConfig, m.Role)
		}
	}
	return nil
}

// GetControllerByRole returns the controller mapping for a role
func (c *Config) GetControllerByRole(role string) (ControllerMapping, bool) {
	for _, m := range c.Controllers {
		if m.Role == role {
			return m, true
		}
	}
	return ControllerMapping{}, false
}

// GetChannelMapping returns the mapping for a channel id with defaults applied
func (c *Config) GetChannelMapping(id int) (ChannelMapping, bool) {
	for _, m := range c.Channels {
		if m.ID == id {
			return applyDefaults(m, c.Defaults), true
		}
	}
	return ChannelMapping{}, false
}

// Deadzone returns the configured deadzone or the default threshold.
func (c *Config) Deadzone() int {
	if c.Input.Deadzone <= 0 {
		return DefaultDeadzone
	}
	return c.Input.Deadzone
}

// PollInterval returns the controller sampling period.
func (c *Config) PollInterval() time.Duration {
	hz := c.Input.PollHz
	if hz <= 0 {
		hz = DefaultPollHz
	}
	return time.Second / time.Duration(hz)
}

func applyDefaults(mapping ChannelMapping, defaults DefaultsConfig) ChannelMapping {
	result := mapping
	if result.Priority == "" {
		result.Priority = defaults.Priority
	}
	if result.Priority == "" {
		result.Priority = PriorityStandard
	}
	return result
}
