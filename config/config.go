package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config describes the kisxd service configuration.
type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	IndexerPath  string `toml:"IndexerPath"`
	ServiceName  string `toml:"ServiceName"`
	Environment  string `toml:"Environment"`
	AdminAddress string `toml:"AdminAddress"`
	MintPriceWei string `toml:"MintPriceWei"`
	RPCAuthToken string `toml:"RPCAuthToken"`
	// PausedModules lists module names whose mutating operations are
	// rejected at startup, e.g. ["market"].
	PausedModules []string `toml:"PausedModules"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.IndexerPath) == "" {
		c.IndexerPath = filepath.Join(c.DataDir, "index.db")
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "kisxd"
	}
	if strings.TrimSpace(c.MintPriceWei) == "" {
		c.MintPriceWei = "0"
	}
}

// Validate checks the admin address and mint price formats.
func (c *Config) Validate() error {
	if _, err := c.Admin(); err != nil {
		return err
	}
	if _, err := c.MintPrice(); err != nil {
		return err
	}
	return nil
}

// Admin parses the configured administrator address.
func (c *Config) Admin() ([20]byte, error) {
	return ParseAddress(c.AdminAddress)
}

// MintPrice parses the configured issuance fee.
func (c *Config) MintPrice() (*big.Int, error) {
	trimmed := strings.TrimSpace(c.MintPriceWei)
	fee, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || fee.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid MintPriceWei %q", c.MintPriceWei)
	}
	return fee, nil
}

// ParseAddress decodes a 0x-prefixed 20-byte hex address.
func ParseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if len(trimmed) != 40 {
		return out, fmt.Errorf("config: address must be 20 bytes of hex, got %q", value)
	}
	for i := 0; i < 20; i++ {
		hi, err := hexNibble(trimmed[2*i])
		if err != nil {
			return out, err
		}
		lo, err := hexNibble(trimmed[2*i+1])
		if err != nil {
			return out, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("config: invalid hex character %q", c)
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:   ":8545",
		DataDir:      "./data",
		ServiceName:  "kisxd",
		Environment:  "dev",
		AdminAddress: "0x" + strings.Repeat("00", 20),
		MintPriceWei: "0",
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
