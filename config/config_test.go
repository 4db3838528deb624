package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validConfig = `
RPCAddress = ":9000"
RPCToken = "secret"
DataDir = "/tmp/pledge-test"
Env = "test"
AdminAddress = "0x1111111111111111111111111111111111111111"
VaultAddress = "0x2222222222222222222222222222222222222222"
RouterAddress = "0x3333333333333333333333333333333333333333"
FeeAddress = "0x4444444444444444444444444444444444444444"
LendFee = 100000
BorrowFee = 200000

[[Tokens]]
Address = "0x5555555555555555555555555555555555555555"
Owner = "0x1111111111111111111111111111111111111111"
Name = "Lend Coin"
Symbol = "LEND"
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.RPCAddress)
	require.Equal(t, "secret", cfg.RPCToken)
	require.EqualValues(t, 100000, cfg.LendFee)
	require.EqualValues(t, 200000, cfg.BorrowFee)
	require.Len(t, cfg.Tokens, 1)
	require.Equal(t, "LEND", cfg.Tokens[0].Symbol)
}

func TestLoadRejectsBadAddresses(t *testing.T) {
	body := strings.Replace(validConfig,
		`AdminAddress = "0x1111111111111111111111111111111111111111"`,
		`AdminAddress = "not-an-address"`, 1)
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "AdminAddress")
}

func TestLoadRejectsNegativeFees(t *testing.T) {
	body := strings.Replace(validConfig, "LendFee = 100000", "LendFee = -1", 1)
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
}

func TestLoadRejectsBadToken(t *testing.T) {
	body := strings.Replace(validConfig, `Symbol = "LEND"`, `Symbol = ""`, 1)
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Symbol")
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8545", cfg.RPCAddress)

	_, err = os.Stat(path)
	require.NoError(t, err, "default file must be written")

	// The written default must load back cleanly.
	_, err = Load(path)
	require.NoError(t, err)
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{
		AdminAddress:  "0x1111111111111111111111111111111111111111",
		VaultAddress:  "0x2222222222222222222222222222222222222222",
		RouterAddress: "0x3333333333333333333333333333333333333333",
	}
	require.NoError(t, cfg.Validate())
	require.NotEmpty(t, cfg.RPCAddress)
	require.NotEmpty(t, cfg.DataDir)
}
