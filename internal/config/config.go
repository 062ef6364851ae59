package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pelletier/go-toml/v2"
)

// Config is the full runtime configuration. Defaults cover Sepolia so the
// client works out of the box; a TOML file overrides any field.
type Config struct {
	Network    string `toml:"network"`
	RPCURL     string `toml:"rpc_url"`
	SessionAPI string `toml:"session_api"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	FinalityPollInterval time.Duration `toml:"finality_poll_interval"`
	FinalityTimeout      time.Duration `toml:"finality_timeout"`

	Networks map[string]Network `toml:"networks"`
}

// Network holds the per-chain contract and token registry.
type Network struct {
	ChainID        int64  `toml:"chain_id"`
	Factory        string `toml:"factory"`
	Implementation string `toml:"implementation"`
	// InitCodeHash enables local CREATE2 prediction without an RPC round-trip.
	InitCodeHash string            `toml:"init_code_hash"`
	Tokens       map[string]string `toml:"tokens"`
}

func Default() *Config {
	return &Config{
		Network:              "sepolia",
		RPCURL:               "https://ethereum-sepolia-rpc.publicnode.com",
		SessionAPI:           "http://localhost:8547/api/v1",
		LogLevel:             "info",
		LogFormat:            "text",
		FinalityPollInterval: 2 * time.Second,
		FinalityTimeout:      3 * time.Minute,
		Networks: map[string]Network{
			"sepolia": {
				ChainID: 11155111,
				Factory: "0x0000000000000000000000000000000000000000",
				Tokens: map[string]string{
					"USDC": "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
					"WETH": "0x7b79995e5f793A07Bc00c21412e50Ecae098E7f9",
				},
			},
			"mainnet": {
				ChainID: 1,
				Factory: "0x0000000000000000000000000000000000000000",
				Tokens: map[string]string{
					"PYUSD": "0x6c3ea9036406852006290770BEdFcAbA0e23A0e8",
					"USDC":  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
					"USDT":  "0xdAC17F958D2ee523a2206206994597C13D831ec7",
					"WETH":  "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
				},
			},
		},
	}
}

// Load reads a TOML config file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := toml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if format := os.Getenv("ZAKOBOX_LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if _, ok := cfg.Networks[cfg.Network]; !ok {
		return nil, fmt.Errorf("unknown network %q", cfg.Network)
	}
	return cfg, nil
}

// Active returns the selected network entry.
func (c *Config) Active() Network {
	return c.Networks[c.Network]
}

// FactoryAddress returns the factory contract address for the active network.
func (c *Config) FactoryAddress() common.Address {
	return common.HexToAddress(c.Active().Factory)
}

// TokenAddress resolves a token symbol on the active network.
func (c *Config) TokenAddress(symbol string) (common.Address, bool) {
	hex, ok := c.Active().Tokens[symbol]
	if !ok {
		return common.Address{}, false
	}
	return common.HexToAddress(hex), true
}
