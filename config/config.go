package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// TokenConfig declares a ledger token the daemon registers at startup.
type TokenConfig struct {
	Address string `toml:"Address"`
	Owner   string `toml:"Owner"`
	Name    string `toml:"Name"`
	Symbol  string `toml:"Symbol"`
}

type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	RPCToken     string `toml:"RPCToken"`
	DataDir      string `toml:"DataDir"`
	Env          string `toml:"Env"`
	AdminAddress string `toml:"AdminAddress"`
	// VaultAddress is the ledger account the engine custodies pool funds
	// under. RouterAddress holds the swap pair reserves.
	VaultAddress  string `toml:"VaultAddress"`
	RouterAddress string `toml:"RouterAddress"`
	FeeAddress    string `toml:"FeeAddress"`
	// LendFee and BorrowFee are 1e8-scaled ratios withheld from settled
	// principal on finish and liquidation.
	LendFee   int64 `toml:"LendFee"`
	BorrowFee int64 `toml:"BorrowFee"`

	Tokens []TokenConfig `toml:"Tokens"`
}

// Load reads the configuration at path, writing and returning defaults when
// the file does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the address fields and fee bounds.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./pledge-data"
	}
	if !common.IsHexAddress(cfg.AdminAddress) {
		return fmt.Errorf("config: AdminAddress %q is not a hex address", cfg.AdminAddress)
	}
	if !common.IsHexAddress(cfg.VaultAddress) {
		return fmt.Errorf("config: VaultAddress %q is not a hex address", cfg.VaultAddress)
	}
	if !common.IsHexAddress(cfg.RouterAddress) {
		return fmt.Errorf("config: RouterAddress %q is not a hex address", cfg.RouterAddress)
	}
	if cfg.FeeAddress != "" && !common.IsHexAddress(cfg.FeeAddress) {
		return fmt.Errorf("config: FeeAddress %q is not a hex address", cfg.FeeAddress)
	}
	if cfg.LendFee < 0 || cfg.BorrowFee < 0 {
		return fmt.Errorf("config: fees must not be negative")
	}
	for i, tok := range cfg.Tokens {
		if !common.IsHexAddress(tok.Address) {
			return fmt.Errorf("config: Tokens[%d].Address %q is not a hex address", i, tok.Address)
		}
		if !common.IsHexAddress(tok.Owner) {
			return fmt.Errorf("config: Tokens[%d].Owner %q is not a hex address", i, tok.Owner)
		}
		if strings.TrimSpace(tok.Symbol) == "" {
			return fmt.Errorf("config: Tokens[%d].Symbol must not be empty", i)
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:    ":8545",
		DataDir:       "./pledge-data",
		Env:           "local",
		AdminAddress:  common.Address{}.Hex(),
		VaultAddress:  common.HexToAddress("0x1").Hex(),
		RouterAddress: common.HexToAddress("0x2").Hex(),
		FeeAddress:    "",
		LendFee:       0,
		BorrowFee:     0,
		Tokens:        []TokenConfig{},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
