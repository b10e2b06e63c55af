// Package types defines the configuration document every component reads.
package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so the YAML document carries human-readable
// forms like "10s" or "1h".
type Duration time.Duration

// MarshalYAML emits the duration in time.Duration's string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML parses any form accepted by time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config represents the complete application configuration
type Config struct {
	Node      NodeConfig      `yaml:"node" validate:"required"`
	Network   NetworkConfig   `yaml:"network" validate:"required"`
	Peers     []PeerConfig    `yaml:"peers"`
	Consensus ConsensusConfig `yaml:"consensus" validate:"required"`
	Gradient  GradientConfig  `yaml:"gradient" validate:"required"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Logging   LoggingConfig   `yaml:"logging" validate:"required"`
}

// NodeConfig contains this node's identity. ID and PrivateKey are generated
// and written back on first load when empty. PeersFile enables the runtime
// peer registry; empty means peers learned at runtime are not persisted.
type NodeConfig struct {
	ID         string `yaml:"id" validate:"omitempty,uuid"`
	PrivateKey string `yaml:"private_key" validate:"omitempty,base64"`
	PeersFile  string `yaml:"peers_file,omitempty"`
}

// NetworkConfig contains the libp2p listener configuration.
type NetworkConfig struct {
	Addresses         []string `yaml:"addresses" validate:"required,min=1,dive,required"`
	ConnectionTimeout Duration `yaml:"connection_timeout" validate:"required,min=1s"`
}

// PeerConfig names one remote participant and where to reach it. The address
// is a multiaddr and must carry a /p2p component with the peer's libp2p id.
type PeerConfig struct {
	NodeID  string `yaml:"node_id" validate:"required,uuid"`
	Address string `yaml:"address" validate:"required"`
}

// ConsensusConfig selects the voting algorithm and the proposal lifecycle
// knobs. QuorumThreshold applies only to the quorum algorithm.
type ConsensusConfig struct {
	Algorithm       string   `yaml:"algorithm" validate:"required"`
	QuorumThreshold float64  `yaml:"quorum_threshold"`
	ProposalTTL     Duration `yaml:"proposal_ttl" validate:"required,min=1s"`
	SweepInterval   Duration `yaml:"sweep_interval"`
	Retention       Duration `yaml:"retention"`
}

// GradientConfig tunes accumulation and clipping.
type GradientConfig struct {
	BatchSize int     `yaml:"batch_size" validate:"required,min=1"`
	AutoFlush bool    `yaml:"auto_flush"`
	MaxNorm   float64 `yaml:"max_norm"`
}

// ProtocolConfig tunes what the node advertises during capability
// negotiation.
type ProtocolConfig struct {
	EnableCompression bool `yaml:"enable_compression"`
	EnableEncryption  bool `yaml:"enable_encryption"`
	MaxMessageSize    int  `yaml:"max_message_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string `yaml:"level" validate:"required,oneof=trace debug info warn error fatal"`
	Format        string `yaml:"format" validate:"required,oneof=json text"`
	ConsoleOutput bool   `yaml:"console_output"`
	ConsoleColor  bool   `yaml:"console_color"`
	FileOutput    bool   `yaml:"file_output"`
	FileName      string `yaml:"file_name"`
	FileMaxSize   string `yaml:"file_max_size"`
}

// DefaultConfig returns the document written when no config file exists.
// Loading unmarshals on top of these values, so fields absent from the file
// keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:         "", // generated if empty
			PrivateKey: "", // generated if empty
		},
		Network: NetworkConfig{
			Addresses: []string{
				"/ip4/0.0.0.0/tcp/9000",
			},
			ConnectionTimeout: Duration(10 * time.Second),
		},
		Consensus: ConsensusConfig{
			Algorithm:       "simple-majority",
			QuorumThreshold: 0.75,
			ProposalTTL:     Duration(60 * time.Second),
			SweepInterval:   Duration(30 * time.Second),
			Retention:       Duration(time.Hour),
		},
		Gradient: GradientConfig{
			BatchSize: 32,
			AutoFlush: true,
			MaxNorm:   5.0,
		},
		Protocol: ProtocolConfig{
			EnableCompression: true,
			EnableEncryption:  false,
			MaxMessageSize:    10 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			ConsoleOutput: true,
			ConsoleColor:  false,
			FileOutput:    false,
			FileName:      "neuromesh.log",
			FileMaxSize:   "10MB",
		},
	}
}
