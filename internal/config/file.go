// Package config - Daemon configuration file handling.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ObserverConfig holds the endpoints used to observe one chain.
type ObserverConfig struct {
	// RPCURL is the node endpoint (Ethereum JSON-RPC or Tendermint RPC).
	RPCURL string `yaml:"rpc_url"`
}

// InventorySeed is an initial inventory balance loaded on first start.
type InventorySeed struct {
	Chain   string `yaml:"chain"`
	Token   string `yaml:"token"`
	Balance uint64 `yaml:"balance"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RPCConfig holds the JSON-RPC API settings.
type RPCConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// File is the on-disk daemon configuration.
type File struct {
	// ResolverID identifies this resolver in resolutions and fills.
	ResolverID string `yaml:"resolver_id"`

	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	RPC     RPCConfig     `yaml:"rpc"`

	// Observers maps chain name to its endpoint configuration. Chains
	// without an entry fall back to a static observer.
	Observers map[string]ObserverConfig `yaml:"observers,omitempty"`

	// Inventory seeds the resolver ledger on first start.
	Inventory []InventorySeed `yaml:"inventory,omitempty"`
}

// DefaultFile returns the default daemon configuration.
func DefaultFile(dataDir string) *File {
	return &File{
		ResolverID: "resolver-local",
		Storage:    StorageConfig{DataDir: dataDir},
		Logging:    LoggingConfig{Level: "info"},
		RPC:        RPCConfig{ListenAddr: "127.0.0.1:8486"},
	}
}

// Path returns the config file path within a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// Load reads the config file from the data directory, creating a default
// one if it does not exist yet.
func Load(dataDir string) (*File, error) {
	path := Path(dataDir)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultFile(dataDir)
		if err := Save(dataDir, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultFile(dataDir)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config file to the data directory.
func Save(dataDir string, cfg *File) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(Path(dataDir), data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
