package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"communityledger/crypto"
)

// Config is the communityd node configuration.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	GatewayAddress string `toml:"GatewayAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	LogFile        string `toml:"LogFile"`
	Environment    string `toml:"Environment"`

	CommunityName        string `toml:"CommunityName"`
	CommunityDescription string `toml:"CommunityDescription"`
	// AdminAddress is the bech32 cmty address holding the admin capability
	// when the ledger is first created. Later reassignments live in state.
	AdminAddress string `toml:"AdminAddress"`
	// AdminGenesisBalance seeds the admin account on first boot so deposits
	// have a funding source. Decimal string in base units.
	AdminGenesisBalance string `toml:"AdminGenesisBalance"`
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:           "127.0.0.1:8645",
		GatewayAddress:       "127.0.0.1:8646",
		MetricsAddress:       "127.0.0.1:9464",
		DataDir:              "./communityd-data",
		Environment:          "dev",
		CommunityName:        "community",
		CommunityDescription: "",
		AdminGenesisBalance:  "0",
	}
}

// Load reads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := defaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown fields: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields a running node cannot do without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must be set")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if strings.TrimSpace(c.CommunityName) == "" {
		return fmt.Errorf("CommunityName must be set")
	}
	if strings.TrimSpace(c.AdminAddress) != "" {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(c.AdminAddress)); err != nil {
			return fmt.Errorf("invalid AdminAddress: %w", err)
		}
	}
	if strings.TrimSpace(c.AdminGenesisBalance) != "" {
		if _, err := c.GenesisBalance(); err != nil {
			return err
		}
	}
	return nil
}

// Admin returns the parsed admin address, or an error when unset.
func (c *Config) Admin() (crypto.Address, error) {
	trimmed := strings.TrimSpace(c.AdminAddress)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("AdminAddress must be set")
	}
	return crypto.DecodeAddress(trimmed)
}

// GenesisBalance returns the parsed admin seed balance.
func (c *Config) GenesisBalance() (*big.Int, error) {
	trimmed := strings.TrimSpace(c.AdminGenesisBalance)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid AdminGenesisBalance %q", c.AdminGenesisBalance)
	}
	return value, nil
}
