package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8545", cfg.RPCAddress)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, filepath.Join("./data", "index.db"), cfg.IndexerPath)
	require.Equal(t, "kisxd", cfg.ServiceName)
	require.Equal(t, "0", cfg.MintPriceWei)

	// The default file must be written and loadable.
	_, err = os.Stat(path)
	require.NoError(t, err)
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, reloaded.RPCAddress)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
AdminAddress = "0x0102030405060708090a0b0c0d0e0f1011121314"
MintPriceWei = "10000000000000000"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8545", cfg.RPCAddress)
	require.Equal(t, filepath.Join("./data", "index.db"), cfg.IndexerPath)

	admin, err := cfg.Admin()
	require.NoError(t, err)
	require.Equal(t, byte(0x01), admin[0])
	require.Equal(t, byte(0x14), admin[19])

	fee, err := cfg.MintPrice()
	require.NoError(t, err)
	require.Equal(t, 0, fee.Cmp(new(big.Int).SetUint64(10_000_000_000_000_000)))
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
AdminAddress = "not-an-address"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	_, err := Load(path)
	require.Error(t, err)

	contents = `
AdminAddress = "0x0000000000000000000000000000000000000000"
MintPriceWei = "-5"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x0102030405060708090a0b0c0d0e0f1011121314")
	require.NoError(t, err)
	require.Equal(t, byte(0x02), addr[1])

	// Uppercase hex and surrounding whitespace are tolerated.
	addr, err = ParseAddress("  0x0102030405060708090A0B0C0D0E0F1011121314 ")
	require.NoError(t, err)
	require.Equal(t, byte(0x0a), addr[9])

	_, err = ParseAddress("0x01")
	require.Error(t, err)
	_, err = ParseAddress("0x01020304050607080g0a0b0c0d0e0f1011121314")
	require.Error(t, err)
	_, err = ParseAddress("")
	require.Error(t, err)
}

func TestMintPriceParsing(t *testing.T) {
	cfg := &Config{MintPriceWei: "0"}
	fee, err := cfg.MintPrice()
	require.NoError(t, err)
	require.Equal(t, 0, fee.Sign())

	cfg.MintPriceWei = "abc"
	_, err = cfg.MintPrice()
	require.Error(t, err)
}
