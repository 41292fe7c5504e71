package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// AssetConfig registers one whitelisted silo asset. Entry order in the config
// file is the registration order used for planner tie-breaking. Numeric fields
// carrying token amounts are decimal strings to survive 256-bit values.
type AssetConfig struct {
	Address     string `toml:"Address"`
	Name        string `toml:"Name"`
	SeedsPerBDV string `toml:"SeedsPerBDV"`
	IsBase      bool   `toml:"IsBase"`
	// BaseReserve/TokenReserve bootstrap the well reserves for pool assets.
	BaseReserve  string `toml:"BaseReserve,omitempty"`
	TokenReserve string `toml:"TokenReserve,omitempty"`
}

type Config struct {
	RPCAddress         string        `toml:"RPCAddress"`
	MetricsAddress     string        `toml:"MetricsAddress"`
	DataDir            string        `toml:"DataDir"`
	Env                string        `toml:"Env"`
	GerminationStems   string        `toml:"GerminationStems"`
	DefaultSlippageBps uint64        `toml:"DefaultSlippageBps"`
	Assets             []AssetConfig `toml:"Assets"`
}

// Load reads the configuration from path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %q", path, undecoded[0].String())
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8547"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = "127.0.0.1:9464"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./silod-data"
	}
	if strings.TrimSpace(cfg.GerminationStems) == "" {
		cfg.GerminationStems = "2"
	}
	if cfg.DefaultSlippageBps == 0 {
		cfg.DefaultSlippageBps = 100
	}
}

// Validate checks the configuration can actually boot a silod instance.
func (c *Config) Validate() error {
	if _, err := c.Germination(); err != nil {
		return err
	}
	if c.DefaultSlippageBps > 10_000 {
		return fmt.Errorf("config: DefaultSlippageBps above 10000")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("config: at least one asset required")
	}
	baseCount := 0
	seen := make(map[common.Address]bool, len(c.Assets))
	for i, asset := range c.Assets {
		addr, err := asset.ParsedAddress()
		if err != nil {
			return fmt.Errorf("config: asset %d: %w", i, err)
		}
		if seen[addr] {
			return fmt.Errorf("config: asset %s registered twice", addr.Hex())
		}
		seen[addr] = true
		if _, err := asset.Seeds(); err != nil {
			return fmt.Errorf("config: asset %d: %w", i, err)
		}
		if asset.IsBase {
			baseCount++
			continue
		}
		if _, _, err := asset.Reserves(); err != nil {
			return fmt.Errorf("config: asset %d: %w", i, err)
		}
	}
	if baseCount != 1 {
		return fmt.Errorf("config: exactly one base asset required, found %d", baseCount)
	}
	return nil
}

// Germination parses the germination window in stems.
func (c *Config) Germination() (*big.Int, error) {
	return parsePositive("GerminationStems", c.GerminationStems, true)
}

// ParsedAddress decodes the asset's hex address.
func (a AssetConfig) ParsedAddress() (common.Address, error) {
	trimmed := strings.TrimSpace(a.Address)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", a.Address)
	}
	return common.HexToAddress(trimmed), nil
}

// Seeds parses the asset's seeds-per-BDV reward rate.
func (a AssetConfig) Seeds() (*big.Int, error) {
	return parsePositive("SeedsPerBDV", a.SeedsPerBDV, true)
}

// Reserves parses the well reserve bootstrap for a pool asset.
func (a AssetConfig) Reserves() (*big.Int, *big.Int, error) {
	base, err := parsePositive("BaseReserve", a.BaseReserve, false)
	if err != nil {
		return nil, nil, err
	}
	token, err := parsePositive("TokenReserve", a.TokenReserve, false)
	if err != nil {
		return nil, nil, err
	}
	return base, token, nil
}

func parsePositive(field, value string, allowZero bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s must be set", field)
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s is not a valid integer: %q", field, value)
	}
	if parsed.Sign() < 0 || (!allowZero && parsed.Sign() == 0) {
		return nil, fmt.Errorf("%s must be positive: %q", field, value)
	}
	return parsed, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Assets: []AssetConfig{
			{
				Address:     "0x00000000000000000000000000000000000000b0",
				Name:        "PINTO",
				SeedsPerBDV: "1",
				IsBase:      true,
			},
			{
				Address:      "0x00000000000000000000000000000000000000c0",
				Name:         "PINTO-WETH",
				SeedsPerBDV:  "3",
				BaseReserve:  "1000000000000",
				TokenReserve: "1000000000000",
			},
		},
	}
	applyDefaults(cfg)

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
