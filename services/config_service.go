package services

import (
	"fmt"
	"os"
	"sync"

	"github.com/UiS-Subsea/rov-bridge/pkg/config"
	customlog "github.com/UiS-Subsea/rov-bridge/pkg/log"
)

// ConfigListener is notified after a new operational configuration is applied.
type ConfigListener func(cfg *config.Config)

// BridgeConfigService defines the interface for managing the operational bridge configuration.
type BridgeConfigService interface {
	LoadConfig() error
	GetCurrentConfig() *config.Config
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(newConfigYAML []byte) error
	PersistConfig(yamlData []byte) error
	AddListener(l ConfigListener)
}

// bridgeConfigService implements the BridgeConfigService interface.
type bridgeConfigService struct {
	operationalConfigPath string
	logger                customlog.Logger
	listeners             []ConfigListener
	currentConfig         *config.Config
	mu                    sync.RWMutex
}

// NewBridgeConfigService creates a new BridgeConfigService. A missing or
// invalid file is logged and leaves the service without a config; the
// file can then be provided through UpdateConfig.
func NewBridgeConfigService(operationalConfigPath string, logger customlog.Logger) (BridgeConfigService, error) {
	if operationalConfigPath == "" {
		return nil, fmt.Errorf("operational configuration path cannot be empty")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	service := &bridgeConfigService{
		operationalConfigPath: operationalConfigPath,
		logger:                logger.WithField(customlog.ComponentField, "config"),
	}

	if err := service.LoadConfig(); err != nil {
		service.logger.Warnf("Initial load of operational config '%s' failed: %v. Service created, but config is nil.", operationalConfigPath, err)
		return service, nil
	}

	service.logger.Infof("BridgeConfigService initialized for path: %s", operationalConfigPath)
	return service, nil
}

// LoadConfig reads the operational config file from disk and updates the currentConfig.
func (s *bridgeConfigService) LoadConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading operational configuration from: %s", s.operationalConfigPath)
	cfg, err := config.LoadConfig(s.operationalConfigPath)
	if err != nil {
		s.currentConfig = nil
		return fmt.Errorf("error loading operational config '%s': %w", s.operationalConfigPath, err)
	}

	s.currentConfig = cfg
	s.logger.Infof("Loaded operational configuration ID: %s, Version: %s", cfg.ConfigID, cfg.Version)
	return nil
}

// GetCurrentConfig returns the currently loaded configuration. Callers must
// treat it as read-only; it is replaced, never mutated, by UpdateConfig.
func (s *bridgeConfigService) GetCurrentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentConfig
}

// GetCurrentConfigYAML returns the raw YAML content of the operational config file.
func (s *bridgeConfigService) GetCurrentConfigYAML() ([]byte, error) {
	s.mu.RLock()
	path := s.operationalConfigPath
	s.mu.RUnlock()

	s.logger.Debugf("Reading raw operational configuration YAML from: %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading operational config file '%s': %w", path, err)
	}
	return data, nil
}

// UpdateConfig validates, persists and applies new configuration YAML, then
// notifies listeners.
func (s *bridgeConfigService) UpdateConfig(newConfigYAML []byte) error {
	newCfg, err := config.ParseConfig(newConfigYAML)
	if err != nil {
		s.logger.Errorf("Rejected operational configuration: %v", err)
		return err
	}

	s.mu.Lock()
	if err := s.persistConfigUnlocked(newConfigYAML); err != nil {
		s.mu.Unlock()
		return err
	}

	oldCfgID := "N/A"
	if s.currentConfig != nil {
		oldCfgID = s.currentConfig.ConfigID
	}
	s.currentConfig = newCfg
	listeners := append([]ConfigListener(nil), s.listeners...)
	s.mu.Unlock()

	s.logger.Infof("Updated operational configuration. ID %s -> %s, Version: %s", oldCfgID, newCfg.ConfigID, newCfg.Version)

	for _, l := range listeners {
		l(newCfg)
	}
	return nil
}

// PersistConfig writes the given YAML data to the operational config file path.
func (s *bridgeConfigService) PersistConfig(yamlData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistConfigUnlocked(yamlData)
}

func (s *bridgeConfigService) persistConfigUnlocked(yamlData []byte) error {
	s.logger.Infof("Persisting operational configuration to: %s", s.operationalConfigPath)
	if err := os.WriteFile(s.operationalConfigPath, yamlData, 0644); err != nil {
		s.logger.Errorf("Error writing operational config file '%s': %v", s.operationalConfigPath, err)
		return fmt.Errorf("error writing operational config file '%s': %w", s.operationalConfigPath, err)
	}
	return nil
}

// AddListener registers l for configuration updates.
func (s *bridgeConfigService) AddListener(l ConfigListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}
