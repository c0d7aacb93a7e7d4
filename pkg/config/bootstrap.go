package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BootstrapFileName is the name of the bootstrap file looked up in the config directory.
const BootstrapFileName = "bridge_config.yaml"

// BootstrapConfig holds the startup configuration loaded from bridge_config.yaml
type BootstrapConfig struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Vehicle    VehicleConfig    `yaml:"vehicle"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Observer   ObserverConfig   `yaml:"observer"`
	ZeroMQ     ZeroMQConfig     `yaml:"zeromq"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Data       DataConfig       `yaml:"data"`
	Processing ProcessingConfig `yaml:"processing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	HTTPPort         int     `yaml:"http_port"`
	TriggerRateLimit float64 `yaml:"trigger_rate_limit"`
	TriggerBurst     int     `yaml:"trigger_burst"`
}

// VehicleConfig describes the outbound link to the vehicle
type VehicleConfig struct {
	Address             string `yaml:"address"`
	Port                int    `yaml:"port"`
	HeartbeatIntervalMs int    `yaml:"heartbeat_interval_ms"`
	RetryDelayMs        int    `yaml:"retry_delay_ms"`
	ReadBufferSize      int    `yaml:"read_buffer_size"`
	// HeartbeatFormat selects the heartbeat encoding: plain, json or
	// json_unicode.
	HeartbeatFormat     string `yaml:"heartbeat_format"`
}

// TelemetryConfig describes the inbound telemetry listener
type TelemetryConfig struct {
	ListenAddress  string `yaml:"listen_address"`
	RemainderLimit int    `yaml:"remainder_limit"`
}

// ObserverConfig holds settings for the observer socket endpoint
type ObserverConfig struct {
	Path           string `yaml:"path"`
	CloseTimeoutMs int    `yaml:"close_timeout_ms"`
}

// ZeroMQConfig holds ZeroMQ socket addresses
type ZeroMQConfig struct {
	AutonomBindAddress      string `yaml:"autonom_bind_address"`
	TelemetryPublishAddress string `yaml:"telemetry_publish_address,omitempty"`
	PollTimeoutMs           int    `yaml:"poll_timeout_ms"`
}

// MQTTConfig configures the optional MQTT telemetry mirror
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// DataConfig holds data directory settings
type DataConfig struct {
	Directory             string `yaml:"directory"`
	OperationalConfigFile string `yaml:"operational_config_file"`
}

// ProcessingConfig holds telemetry dispatch pool settings
type ProcessingConfig struct {
	BroadcastWorkers int `yaml:"broadcast_workers"`
	MirrorWorkers    int `yaml:"mirror_workers"`
	QueueSize        int `yaml:"queue_size"`
}

// LoadBootstrapConfig loads the bootstrap configuration from configDir/bridge_config.yaml
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFileName)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if bootstrapCfg.Vehicle.Address == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: vehicle.address")
	}
	if bootstrapCfg.ZeroMQ.AutonomBindAddress == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: zeromq.autonom_bind_address")
	}
	if bootstrapCfg.Data.Directory == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if bootstrapCfg.Data.OperationalConfigFile == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: data.operational_config_file")
	}
	if bootstrapCfg.MQTT.Enabled && bootstrapCfg.MQTT.Broker == "" {
		return nil, fmt.Errorf("missing required field in bootstrap config: mqtt.broker")
	}

	bootstrapCfg.applyDefaults()
	return &bootstrapCfg, nil
}

func (c *BootstrapConfig) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 5000
	}
	if c.Server.TriggerRateLimit == 0 {
		c.Server.TriggerRateLimit = 10
	}
	if c.Server.TriggerBurst == 0 {
		c.Server.TriggerBurst = 5
	}
	if c.Vehicle.Port == 0 {
		c.Vehicle.Port = 6900
	}
	if c.Vehicle.HeartbeatIntervalMs == 0 {
		c.Vehicle.HeartbeatIntervalMs = 300
	}
	if c.Vehicle.HeartbeatFormat == "" {
		c.Vehicle.HeartbeatFormat = "plain"
	}
	if c.Vehicle.RetryDelayMs == 0 {
		c.Vehicle.RetryDelayMs = 2000
	}
	if c.Vehicle.ReadBufferSize == 0 {
		c.Vehicle.ReadBufferSize = 1024
	}
	if c.Telemetry.RemainderLimit == 0 {
		c.Telemetry.RemainderLimit = 64 * 1024
	}
	if c.Observer.Path == "" {
		c.Observer.Path = "/ws/"
	}
	if c.Observer.CloseTimeoutMs == 0 {
		c.Observer.CloseTimeoutMs = 2000
	}
	if c.ZeroMQ.PollTimeoutMs == 0 {
		c.ZeroMQ.PollTimeoutMs = 100
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "rov-bridge"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "rov/telemetry"
	}
	if c.Processing.BroadcastWorkers == 0 {
		c.Processing.BroadcastWorkers = 1
	}
	if c.Processing.MirrorWorkers == 0 {
		c.Processing.MirrorWorkers = 1
	}
	if c.Processing.QueueSize == 0 {
		c.Processing.QueueSize = 256
	}
}

// VehicleAddr returns host:port of the vehicle.
func (c *BootstrapConfig) VehicleAddr() string {
	return fmt.Sprintf("%s:%d", c.Vehicle.Address, c.Vehicle.Port)
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c *BootstrapConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.Vehicle.HeartbeatIntervalMs) * time.Millisecond
}

// RetryDelay returns the fixed reconnect delay as a duration.
func (c *BootstrapConfig) RetryDelay() time.Duration {
	return time.Duration(c.Vehicle.RetryDelayMs) * time.Millisecond
}

// ObserverCloseTimeout returns the bounded wait for observer close handshakes.
func (c *BootstrapConfig) ObserverCloseTimeout() time.Duration {
	return time.Duration(c.Observer.CloseTimeoutMs) * time.Millisecond
}

// OperationalConfigPath returns the full path of the operational config file.
func (c *BootstrapConfig) OperationalConfigPath() string {
	return filepath.Join(c.Data.Directory, c.Data.OperationalConfigFile)
}
