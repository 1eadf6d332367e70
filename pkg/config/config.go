package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const envPrefix = "BUDGETIMPORT"

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Store  StoreConfig  `mapstructure:"store"`
	Import ImportConfig `mapstructure:"import"`
	Rules  RulesConfig  `mapstructure:"rules"`
	YNAB   YNABConfig   `mapstructure:"ynab"`
	Server ServerConfig `mapstructure:"server"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type ImportConfig struct {
	DateWindowDays  int     `mapstructure:"date_window_days"`
	AmountEpsilon   string  `mapstructure:"amount_epsilon"`
	PayeeSimilarity float64 `mapstructure:"payee_similarity"`
	ApplyAllMatches bool    `mapstructure:"apply_all_matches"`
	RowHashIDs      bool    `mapstructure:"row_hash_ids"`
	CommaBias       bool    `mapstructure:"comma_bias"`
}

type RulesConfig struct {
	File string `mapstructure:"file"`
}

type YNABConfig struct {
	BudgetID string `mapstructure:"budget_id"`
	TokenEnv string `mapstructure:"token_env"`
}

// Token reads the YNAB token from the configured environment variable.
func (c YNABConfig) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "budgetimport.db")
	v.SetDefault("import.date_window_days", 3)
	v.SetDefault("import.amount_epsilon", "0.01")
	v.SetDefault("import.payee_similarity", 1.0)
	v.SetDefault("import.apply_all_matches", false)
	v.SetDefault("import.row_hash_ids", false)
	v.SetDefault("import.comma_bias", true)
	v.SetDefault("rules.file", "")
	v.SetDefault("ynab.budget_id", "")
	v.SetDefault("ynab.token_env", "YNAB_TOKEN")
	v.SetDefault("server.addr", "0.0.0.0:3000")
}

// Build layers defaults, the optional config file, .env, BUDGETIMPORT_*
// environment variables and finally flags. Flags are bound by their
// dotted key name (e.g. "store.path").
func Build(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if !strings.Contains(f.Name, ".") || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(f.Name, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
