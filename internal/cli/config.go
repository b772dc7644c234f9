package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fastprodman/pointsync/internal/wallet"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the client configuration, merged from walletctl.yaml, WALLET_*
// environment variables and flags (highest precedence).
type Config struct {
	RemoteURL             string        `mapstructure:"remote_url"`
	DataDir               string        `mapstructure:"data_dir"`
	User                  string        `mapstructure:"user"`
	PageSize              int           `mapstructure:"page_size"`
	MaxRetries            int           `mapstructure:"max_retries"`
	MaxCachedTransactions int           `mapstructure:"max_cached_transactions"`
	MaxLoadedTransactions int           `mapstructure:"max_loaded_transactions"`
	CommitTimeout         time.Duration `mapstructure:"commit_timeout"`
	ProbeInterval         time.Duration `mapstructure:"probe_interval"`
	LogLevel              string        `mapstructure:"log_level"`
	LogFile               string        `mapstructure:"log_file"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"remote-url": "remote_url",
	"data-dir":   "data_dir",
	"user":       "user",
	"log-level":  "log_level",
	"log-file":   "log_file",
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".pointsync"
	}

	return filepath.Join(dir, "pointsync")
}

// loadConfig reads configFile, or walletctl.yaml from the working directory
// and the default data dir when configFile is empty. A missing default file
// is not an error.
func loadConfig(configFile string, flags *pflag.FlagSet) (Config, error) {
	def := wallet.DefaultConfig()

	v := viper.New()
	v.SetDefault("remote_url", "http://localhost:8080")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("page_size", def.PageSize)
	v.SetDefault("max_retries", def.MaxRetries)
	v.SetDefault("max_cached_transactions", def.MaxCachedTransactions)
	v.SetDefault("max_loaded_transactions", def.MaxLoadedTransactions)
	v.SetDefault("commit_timeout", def.CommitTimeout)
	v.SetDefault("probe_interval", 5*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("user", "")

	v.SetEnvPrefix("WALLET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("walletctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultDataDir())
	}

	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}

			err = v.BindPFlag(key, f)
			if err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config

	err = v.Unmarshal(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.RemoteURL == "" {
		return errors.New("remote_url is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe_interval must be positive, got %s", c.ProbeInterval)
	}

	_, err := c.level()

	return err
}

func (c Config) level() (slog.Level, error) {
	var lvl slog.Level

	err := lvl.UnmarshalText([]byte(c.LogLevel))
	if err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}

	return lvl, nil
}

func (c Config) wallet() wallet.Config {
	return wallet.Config{
		PageSize:              c.PageSize,
		MaxRetries:            c.MaxRetries,
		MaxCachedTransactions: c.MaxCachedTransactions,
		MaxLoadedTransactions: c.MaxLoadedTransactions,
		CommitTimeout:         c.CommitTimeout,
	}
}

func (c Config) requestTimeout() time.Duration {
	if c.CommitTimeout > 0 {
		return c.CommitTimeout
	}

	return wallet.DefaultConfig().CommitTimeout
}
