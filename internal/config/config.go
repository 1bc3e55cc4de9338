// Package config loads the engine's configuration via viper — defaults set
// in code, overridden by POLYMARKET_* environment variables and CLI flags —
// following pkg/types/config.go's struct-of-config layout from the teacher.
// Missing required secret material is a ConfigError (spec §7): fatal at
// startup, reported before any orchestrator state is touched.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/lucidarc/copytrader/internal/errkind"
	"github.com/lucidarc/copytrader/pkg/types"
)

// Secrets holds the operator credentials named in spec §6. ChainID defaults
// to 137 (Polygon mainnet) per spec.
type Secrets struct {
	PrivateKey string
	Address    string
	APIKey     string
	APISecret  string
	Passphrase string
	ChainID    int
}

// Config is the fully-resolved application configuration.
type Config struct {
	Trading  types.TradingConfig
	Backtest types.BacktestConfig
	Server   types.ServerConfig
	Database string // sqlite DSN
	Secrets  Secrets
}

// Load builds Config from defaults + environment, following the teacher's
// viper usage in spirit (AutomaticEnv + explicit key bindings) rather than
// a config file, since spec §6 names only environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("database_url", "copytrader.db")

	cfg := &Config{
		Trading:  types.DefaultTradingConfig(),
		Backtest: types.DefaultBacktestConfig(),
		Server:   types.DefaultServerConfig(),
		Database: v.GetString("database_url"),
		Secrets: Secrets{
			PrivateKey: v.GetString("POLYMARKET_PRIVATE_KEY"),
			Address:    v.GetString("POLYMARKET_ADDRESS"),
			APIKey:     v.GetString("POLYMARKET_API_KEY"),
			APISecret:  v.GetString("POLYMARKET_API_SECRET"),
			Passphrase: v.GetString("POLYMARKET_API_PASSPHRASE"),
			ChainID:    137,
		},
	}
	if v.IsSet("POLYMARKET_CHAIN_ID") {
		cfg.Secrets.ChainID = v.GetInt("POLYMARKET_CHAIN_ID")
	}

	return cfg, nil
}

// RequireLiveSecrets validates that the credentials needed for real order
// submission are present; callers invoke this only when entering `run`
// without --dry-run. Returns a ConfigError (fatal at startup) otherwise.
func (c *Config) RequireLiveSecrets() error {
	missing := []string{}
	if c.Secrets.PrivateKey == "" {
		missing = append(missing, "POLYMARKET_PRIVATE_KEY")
	}
	if c.Secrets.Address == "" {
		missing = append(missing, "POLYMARKET_ADDRESS")
	}
	if c.Secrets.APIKey == "" {
		missing = append(missing, "POLYMARKET_API_KEY")
	}
	if c.Secrets.APISecret == "" {
		missing = append(missing, "POLYMARKET_API_SECRET")
	}
	if c.Secrets.Passphrase == "" {
		missing = append(missing, "POLYMARKET_API_PASSPHRASE")
	}
	if len(missing) > 0 {
		return errkind.New(errkind.ConfigError, "config.RequireLiveSecrets",
			missingEnvError(missing))
	}
	return nil
}

type missingEnvError []string

func (m missingEnvError) Error() string {
	return "missing required environment variables: " + strings.Join(m, ", ")
}
