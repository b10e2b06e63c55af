// Package config loads, validates, and persists the node configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"neuromesh/internal/keys"
	"neuromesh/internal/logger"
	"neuromesh/internal/types"
	"neuromesh/pkg/consensus"
)

// Manager handles configuration loading, validation, and management
type Manager struct {
	keyManager *keys.KeyManager
}

// NewManager creates a new configuration manager with dependencies
func NewManager(keyManager *keys.KeyManager) *Manager {
	return &Manager{keyManager: keyManager}
}

// LoadConfig loads the file at filePath, creating it with defaults when it
// does not exist. A missing node id or private key is generated and written
// back, so the node keeps a stable identity across restarts.
func (m *Manager) LoadConfig(filePath string) (*types.Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if err := m.CreateConfigFile(filePath, types.DefaultConfig()); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	// Unmarshal over the defaults so fields absent from the file keep them.
	cfg := types.DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	dirty := false
	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.NewString()
		dirty = true
	}
	if cfg.Node.PrivateKey == "" {
		privateKey, err := m.keyManager.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate private key: %w", err)
		}
		cfg.Node.PrivateKey = privateKey
		dirty = true
	}
	if dirty {
		if err := m.SaveConfig(filePath, cfg); err != nil {
			return nil, fmt.Errorf("failed to save config with generated identity: %w", err)
		}
	}

	if err := m.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// CreateConfigFile writes the given configuration to filePath as YAML.
func (m *Manager) CreateConfigFile(filePath string, cfg *types.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveConfig saves the configuration to the specified file
func (m *Manager) SaveConfig(filePath string, cfg *types.Config) error {
	return m.CreateConfigFile(filePath, cfg)
}

// ValidateConfig validates every section of the configuration document.
func (m *Manager) ValidateConfig(cfg *types.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := m.validateNodeConfig(&cfg.Node); err != nil {
		return fmt.Errorf("node config validation failed: %w", err)
	}
	if err := validateNetworkConfig(&cfg.Network); err != nil {
		return fmt.Errorf("network config validation failed: %w", err)
	}
	if err := validatePeers(cfg.Peers); err != nil {
		return fmt.Errorf("peers config validation failed: %w", err)
	}
	if err := validateConsensusConfig(&cfg.Consensus); err != nil {
		return fmt.Errorf("consensus config validation failed: %w", err)
	}
	if err := validateGradientConfig(&cfg.Gradient); err != nil {
		return fmt.Errorf("gradient config validation failed: %w", err)
	}
	if err := validateProtocolConfig(&cfg.Protocol); err != nil {
		return fmt.Errorf("protocol config validation failed: %w", err)
	}
	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}

	return nil
}

func (m *Manager) validateNodeConfig(cfg *types.NodeConfig) error {
	if cfg.ID != "" {
		if _, err := uuid.Parse(cfg.ID); err != nil {
			return fmt.Errorf("node.id must be a UUID: %w", err)
		}
	}
	return m.keyManager.ValidatePrivateKey(cfg.PrivateKey)
}

func validateNetworkConfig(cfg *types.NetworkConfig) error {
	if len(cfg.Addresses) == 0 {
		return fmt.Errorf("network.addresses cannot be empty")
	}
	for i, addr := range cfg.Addresses {
		if err := types.ValidateListenAddress(addr); err != nil {
			return fmt.Errorf("invalid address at index %d: %w", i, err)
		}
	}
	if time.Duration(cfg.ConnectionTimeout) < time.Second {
		return fmt.Errorf("network.connection_timeout must be at least 1 second")
	}
	return nil
}

func validatePeers(peers []types.PeerConfig) error {
	seen := make(map[string]struct{}, len(peers))
	for i := range peers {
		if err := peers[i].Validate(); err != nil {
			return fmt.Errorf("invalid peer at index %d: %w", i, err)
		}
		if _, ok := seen[peers[i].NodeID]; ok {
			return fmt.Errorf("duplicate peer node_id %s", peers[i].NodeID)
		}
		seen[peers[i].NodeID] = struct{}{}
	}
	return nil
}

func validateConsensusConfig(cfg *types.ConsensusConfig) error {
	if _, err := consensus.ParseAlgorithm(cfg.Algorithm, cfg.QuorumThreshold); err != nil {
		return err
	}
	if time.Duration(cfg.ProposalTTL) < time.Second {
		return fmt.Errorf("consensus.proposal_ttl must be at least 1 second")
	}
	// Zero disables the background sweep entirely.
	if cfg.SweepInterval < 0 {
		return fmt.Errorf("consensus.sweep_interval cannot be negative")
	}
	if cfg.Retention < 0 {
		return fmt.Errorf("consensus.retention cannot be negative")
	}
	return nil
}

func validateGradientConfig(cfg *types.GradientConfig) error {
	if cfg.BatchSize < 1 {
		return fmt.Errorf("gradient.batch_size must be at least 1")
	}
	if cfg.MaxNorm <= 0 {
		return fmt.Errorf("gradient.max_norm must be positive")
	}
	return nil
}

func validateProtocolConfig(cfg *types.ProtocolConfig) error {
	if cfg.MaxMessageSize < 1024 {
		return fmt.Errorf("protocol.max_message_size must be at least 1024 bytes")
	}
	return nil
}

func validateLoggingConfig(cfg *types.LoggingConfig) error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Format != "json" && cfg.Format != "text" {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if cfg.FileOutput {
		if cfg.FileName == "" {
			return fmt.Errorf("logging.file_name is required when file output is enabled")
		}
		if _, err := logger.ParseMaxSize(cfg.FileMaxSize); err != nil {
			return fmt.Errorf("logging.file_max_size: %w", err)
		}
	}
	return nil
}

// LoadConfig is a convenience function that creates a manager and loads config
func LoadConfig(filePath string) (*types.Config, error) {
	return NewManager(keys.NewKeyManager()).LoadConfig(filePath)
}
