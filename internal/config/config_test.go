package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/OKaluzny/wallet-engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mainnet", cfg.Chain)
	assert.True(t, strings.HasSuffix(cfg.KeystoreDir, filepath.Join(".ethereum", "keystore")), cfg.KeystoreDir)
	assert.Equal(t, int64(5), cfg.GasPriceGwei)
	assert.Equal(t, "5000000000", cfg.GasPrice().String())
	assert.Equal(t, uint64(25_000), cfg.GasLimit)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	assert.Zero(t, cfg.SecurityRatio)
}

func TestFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WALLET_KEYSTORE_DIR", dir)
	t.Setenv("WALLET_CHAIN", "ropsten")
	t.Setenv("WALLET_GAS_PRICE_GWEI", "20")
	t.Setenv("WALLET_SECURITY_RATIO", "10")
	t.Setenv("WALLET_HTTP_TIMEOUT", "3s")
	t.Setenv("WALLET_ETHERSCAN_API_KEY", "key")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.KeystoreDir)
	assert.Equal(t, "ropsten", cfg.Chain)
	assert.Equal(t, int64(20), cfg.GasPriceGwei)
	assert.Equal(t, 10, cfg.SecurityRatio)
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "key", cfg.EtherscanAPIKey)
	assert.Equal(t, uint64(25_000), cfg.GasLimit)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
keystore_dir: /var/lib/wallet
chain: ropsten
indexer_url: http://localhost:8080/api
gas_limit: 21000
`), 0o600))
	t.Setenv("WALLET_GAS_LIMIT", "30000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/wallet", cfg.KeystoreDir)
	assert.Equal(t, uint64(30_000), cfg.GasLimit, "env overrides file")

	chain, err := cfg.ChainInfo()
	require.NoError(t, err)
	assert.Equal(t, models.ChainRopsten, chain.ID)
	assert.Equal(t, "http://localhost:8080/api", chain.IndexerURL)
	assert.Equal(t, "https://ropsten.infura.io", chain.RPCURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown chain", func(c *Config) { c.Chain = "kovan" }},
		{"ratio too high", func(c *Config) { c.SecurityRatio = 101 }},
		{"negative ratio", func(c *Config) { c.SecurityRatio = -1 }},
		{"empty keystore", func(c *Config) { c.KeystoreDir = "" }},
		{"negative gas price", func(c *Config) { c.GasPriceGwei = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), walleterr.ErrInvalidParameter)
		})
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("WALLET_CHAIN", "kovan")
	_, err := FromEnv()
	assert.ErrorIs(t, err, walleterr.ErrInvalidParameter)
}
