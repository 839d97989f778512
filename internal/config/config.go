package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OKaluzny/wallet-engine/internal/walleterr"
	"github.com/OKaluzny/wallet-engine/pkg/models"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WALLET_KEYSTORE_DIR.
const EnvPrefix = "WALLET"

// Config holds all configurable parameters of the wallet engine.
type Config struct {
	// Keystore
	KeystoreDir   string `mapstructure:"keystore_dir"`
	SecurityRatio int    `mapstructure:"security_ratio"` // 0 = keyfile default work factor

	// Chain selection; IndexerURL and RPCURL override the chain defaults
	Chain      string `mapstructure:"chain"`
	IndexerURL string `mapstructure:"indexer_url"`
	RPCURL     string `mapstructure:"rpc_url"`

	// Indexer client
	EtherscanAPIKey   string        `mapstructure:"etherscan_api_key"`
	UserAgent         string        `mapstructure:"user_agent"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	IndexerMaxRetries uint          `mapstructure:"indexer_max_retries"`

	// Transaction builder
	GasPriceGwei int64  `mapstructure:"gas_price_gwei"`
	GasLimit     uint64 `mapstructure:"gas_limit"`
}

// DefaultKeystoreDir returns the conventional geth keystore location,
// $HOME/.ethereum/keystore.
func DefaultKeystoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".ethereum", "keystore")
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		KeystoreDir: DefaultKeystoreDir(),

		Chain: "mainnet",

		UserAgent:         "wallet-engine/1.0",
		HTTPTimeout:       15 * time.Second,
		IndexerMaxRetries: 3,

		GasPriceGwei: 5,
		GasLimit:     25_000,
	}
}

// FromEnv returns a Config populated from WALLET_* environment variables,
// falling back to defaults for unset values.
func FromEnv() (Config, error) {
	return Load("")
}

// Load reads the YAML (or any viper-supported) file at path, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// every key needs a default for AutomaticEnv to reach Unmarshal
	d := Default()
	v.SetDefault("keystore_dir", d.KeystoreDir)
	v.SetDefault("security_ratio", d.SecurityRatio)
	v.SetDefault("chain", d.Chain)
	v.SetDefault("indexer_url", d.IndexerURL)
	v.SetDefault("rpc_url", d.RPCURL)
	v.SetDefault("etherscan_api_key", d.EtherscanAPIKey)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("http_timeout", d.HTTPTimeout)
	v.SetDefault("indexer_max_retries", d.IndexerMaxRetries)
	v.SetDefault("gas_price_gwei", d.GasPriceGwei)
	v.SetDefault("gas_limit", d.GasLimit)
	return v
}

// Validate reports settings the engine cannot run with.
func (c Config) Validate() error {
	if c.KeystoreDir == "" {
		return fmt.Errorf("%w: keystore_dir is empty", walleterr.ErrInvalidParameter)
	}
	if _, err := models.ChainByName(c.Chain); err != nil {
		return fmt.Errorf("%w: %v", walleterr.ErrInvalidParameter, err)
	}
	if c.SecurityRatio < 0 || c.SecurityRatio > 100 {
		return fmt.Errorf("%w: security_ratio %d outside 0..100", walleterr.ErrInvalidParameter, c.SecurityRatio)
	}
	if c.GasPriceGwei < 0 {
		return fmt.Errorf("%w: negative gas_price_gwei", walleterr.ErrInvalidParameter)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("%w: negative http_timeout", walleterr.ErrInvalidParameter)
	}
	return nil
}

// ChainInfo resolves the configured chain, applying URL overrides.
func (c Config) ChainInfo() (models.Chain, error) {
	chain, err := models.ChainByName(c.Chain)
	if err != nil {
		return models.Chain{}, fmt.Errorf("%w: %v", walleterr.ErrInvalidParameter, err)
	}
	if c.IndexerURL != "" {
		chain.IndexerURL = c.IndexerURL
	}
	if c.RPCURL != "" {
		chain.RPCURL = c.RPCURL
	}
	return chain, nil
}

// GasPrice returns the default gas price in wei.
func (c Config) GasPrice() *big.Int {
	return models.GweiToWei(c.GasPriceGwei)
}
