package config

import (
	"fmt"
	"os"
	"strings"

	"lendgate/crypto"

	"github.com/BurntSushi/toml"
)

// Config carries the node-level wiring for the gateway: network identity,
// the module custody addresses and the risk parameters of the default market.
type Config struct {
	ChainID     uint64 `toml:"ChainID"`
	NetworkName string `toml:"NetworkName"`
	DataDir     string `toml:"DataDir"`

	// Bech32 custody addresses, "lg" prefix.
	RegistryAddress   string `toml:"RegistryAddress"`
	SettlementAddress string `toml:"SettlementAddress"`
	MarketAddress     string `toml:"MarketAddress"`
	FeeSinkAddress    string `toml:"FeeSinkAddress"`

	// Bech32 collateral addresses, "zlg" prefix.
	CollateralIssuer string `toml:"CollateralIssuer"`
	CirculationSink  string `toml:"CirculationSink"`

	// RequireEndorsement forces a validator co-signature on every borrow.
	RequireEndorsement bool `toml:"RequireEndorsement"`

	Market MarketConfig `toml:"Market"`
}

// MarketConfig is the risk configuration of the default market instance.
type MarketConfig struct {
	LLTVBps uint64 `toml:"LLTVBps"`
	RateBps uint64 `toml:"RateBps"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "lendgate-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lendgate-data"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if cfg.Market.LLTVBps == 0 {
		cfg.Market.LLTVBps = 8000
	}
}

// Validate checks the address encodings and risk bounds.
func (c *Config) Validate() error {
	for name, field := range map[string]struct {
		value  string
		prefix crypto.AddressPrefix
	}{
		"RegistryAddress":   {c.RegistryAddress, crypto.QSDPrefix},
		"SettlementAddress": {c.SettlementAddress, crypto.QSDPrefix},
		"MarketAddress":     {c.MarketAddress, crypto.QSDPrefix},
		"FeeSinkAddress":    {c.FeeSinkAddress, crypto.QSDPrefix},
		"CollateralIssuer":  {c.CollateralIssuer, crypto.CLTPrefix},
		"CirculationSink":   {c.CirculationSink, crypto.CLTPrefix},
	} {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("config: %s is required", name)
		}
		addr, err := crypto.DecodeAddress(field.value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		if addr.Prefix() != field.prefix {
			return fmt.Errorf("config: %s must carry the %q prefix", name, field.prefix)
		}
	}
	if c.Market.LLTVBps == 0 || c.Market.LLTVBps >= 10_000 {
		return fmt.Errorf("config: Market.LLTVBps must be in (0, 10000)")
	}
	if c.Market.RateBps > 10_000 {
		return fmt.Errorf("config: Market.RateBps out of range")
	}
	return nil
}

// DecodedAddress returns the 20-byte form of a configured bech32 address.
func DecodedAddress(value string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
