// Package config defines the server configuration: a TOML file merged
// over built-in defaults, then overridden by SKOLL_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig  `toml:"server"`
	Storage  StorageConfig `toml:"storage"`
	Market   MarketConfig  `toml:"market"`
	Engine   EngineConfig  `toml:"engine"`
	Faucet   FaucetConfig  `toml:"faucet"`
	LogLevel string        `toml:"log_level"`
}

type ServerConfig struct {
	ListenAddr     string   `toml:"listen_addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type StorageConfig struct {
	// DataDir is the pebble database directory. Empty disables
	// persistence and the engine runs purely in memory.
	DataDir string `toml:"data_dir"`
}

type MarketConfig struct {
	QuoteAsset string   `toml:"quote_asset"`
	Assets     []string `toml:"assets"`
}

type EngineConfig struct {
	// MaxFillsPerOrder bounds the resting orders one placement may
	// consume; 0 means unbounded.
	MaxFillsPerOrder int `toml:"max_fills_per_order"`
}

type FaucetConfig struct {
	Enabled   bool   `toml:"enabled"`
	MaxAmount uint64 `toml:"max_amount"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:     "127.0.0.1:8480",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Market: MarketConfig{
			QuoteAsset: "USDT",
		},
		Faucet: FaucetConfig{
			MaxAmount: 1_000_000,
		},
		LogLevel: "info",
	}
}

// Load reads the TOML file at path (skipped when empty), merges it over
// the defaults and applies SKOLL_* environment overrides. A .env file
// is loaded if present.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must be set")
	}
	if c.Market.QuoteAsset == "" {
		return fmt.Errorf("market.quote_asset must be set")
	}
	for _, a := range c.Market.Assets {
		if a == "" || a == c.Market.QuoteAsset {
			return fmt.Errorf("market.assets entry %q invalid against quote %q", a, c.Market.QuoteAsset)
		}
	}
	if c.Engine.MaxFillsPerOrder < 0 {
		return fmt.Errorf("engine.max_fills_per_order must not be negative")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.ListenAddr, "SKOLL_LISTEN_ADDR")
	setStr(&cfg.Storage.DataDir, "SKOLL_DATA_DIR")
	setStr(&cfg.Market.QuoteAsset, "SKOLL_QUOTE_ASSET")
	setInt(&cfg.Engine.MaxFillsPerOrder, "SKOLL_MAX_FILLS_PER_ORDER")
	setBool(&cfg.Faucet.Enabled, "SKOLL_FAUCET_ENABLED")
	setUint64(&cfg.Faucet.MaxAmount, "SKOLL_FAUCET_MAX_AMOUNT")
	setStr(&cfg.LogLevel, "SKOLL_LOG_LEVEL")
}

func setStr(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
