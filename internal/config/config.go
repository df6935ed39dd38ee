// Package config loads the YAML configuration shared by utxod and utxoctl.
//
// The file lives in the data directory and is created with defaults on first
// run. Command-line flags are applied on top of the loaded values by the
// binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klingon-exchange/utxoforge/internal/backend"
	"github.com/klingon-exchange/utxoforge/internal/chain"
	"github.com/klingon-exchange/utxoforge/internal/wallet"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// DefaultDataDir holds the config file and the broadcast journal.
	DefaultDataDir = "~/.utxoforge"

	// DefaultRPCListen is the daemon's JSON-RPC listen address.
	DefaultRPCListen = "127.0.0.1:8645"

	// DefaultFeeRate is used when neither the caller nor the backend supplies
	// a fee rate, in sat/vB.
	DefaultFeeRate = 2.0
)

// Config errors
var (
	ErrInvalidFeeRate = errors.New("fee rate must be positive")
	ErrInvalidListen  = errors.New("rpc listen address is empty")
)

// DefaultEVMEndpoints are public JSON-RPC endpoints per EVM network symbol.
var DefaultEVMEndpoints = map[string]string{
	"ETH":         "https://eth.llamarpc.com",
	"SEPOLIA":     "https://rpc.sepolia.org",
	"BSC":         "https://bsc-dataseed.binance.org",
	"BSC-TESTNET": "https://data-seed-prebsc-1-s1.binance.org:8545",
	"POLYGON":     "https://polygon-rpc.com",
	"ARBITRUM":    "https://arb1.arbitrum.io/rpc",
	"OPTIMISM":    "https://mainnet.optimism.io",
	"BASE":        "https://mainnet.base.org",
	"AVAX":        "https://api.avax.network/ext/bc/C/rpc",
}

// Config holds all configuration for the daemon and CLI.
type Config struct {
	// Network is the default Bitcoin-style network.
	Network chain.NetworkID `yaml:"network"`

	// AddressType is the default address type (p2tr or p2wpkh).
	AddressType string `yaml:"address_type"`

	// FeeRate is the default fee rate in sat/vB.
	FeeRate float64 `yaml:"fee_rate"`

	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	RPC     RPCConfig     `yaml:"rpc"`

	// Backends overrides the chain data provider per network.
	// Networks without an entry use their mempool.space API.
	Backends map[chain.NetworkID]*backend.Config `yaml:"backends,omitempty"`

	// EVM maps an EVM network symbol (ETH, BSC, ...) to a JSON-RPC URL.
	// Symbols without an entry use DefaultEVMEndpoints.
	EVM map[string]string `yaml:"evm_rpc,omitempty"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is text, json or logfmt.
	Format string `yaml:"format"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// RPCConfig holds the daemon's JSON-RPC settings.
type RPCConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network:     chain.Mainnet,
		AddressType: wallet.AddressTaprootKeyPath.String(),
		FeeRate:     DefaultFeeRate,
		Storage: StorageConfig{
			DataDir: DefaultDataDir,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		RPC: RPCConfig{
			ListenAddr: DefaultRPCListen,
		},
	}
}

// Validate checks the configuration against a network registry.
func (c *Config) Validate(registry *chain.Registry) error {
	if !registry.IsSupported(c.Network) {
		return fmt.Errorf("%w: %q", chain.ErrUnknownNetwork, c.Network)
	}
	if _, err := wallet.ParseAddressType(c.AddressType); err != nil {
		return err
	}
	if c.FeeRate <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidFeeRate, c.FeeRate)
	}
	if strings.TrimSpace(c.RPC.ListenAddr) == "" {
		return ErrInvalidListen
	}
	for id := range c.Backends {
		if !registry.IsSupported(id) {
			return fmt.Errorf("backends: %w: %q", chain.ErrUnknownNetwork, id)
		}
	}
	for symbol := range c.EVM {
		if _, err := registry.EVM(symbol); err != nil {
			return fmt.Errorf("evm_rpc: %w", err)
		}
	}
	return nil
}

// DefaultAddressType returns the parsed default address type.
func (c *Config) DefaultAddressType() wallet.AddressType {
	t, err := wallet.ParseAddressType(c.AddressType)
	if err != nil {
		return wallet.AddressTaprootKeyPath
	}
	return t
}

// GetBackendConfig returns the backend override for a network, or nil when
// the network uses its default backend.
func (c *Config) GetBackendConfig(network chain.NetworkID) *backend.Config {
	if c.Backends == nil {
		return nil
	}
	return c.Backends[network]
}

// EVMRPCURL returns the JSON-RPC URL for an EVM network symbol.
func (c *Config) EVMRPCURL(symbol string) (string, bool) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	for k, url := range c.EVM {
		if strings.ToUpper(k) == key && url != "" {
			return url, true
		}
	}
	url, ok := DefaultEVMEndpoints[key]
	return url, ok
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = dataDir
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# utxoforge configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
