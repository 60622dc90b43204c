package scopedb

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix read by LoadConfig.
const EnvPrefix = "SCOPEDB"

var configKeys = []string{
	"url",
	"max_open_conns",
	"max_idle_conns",
	"conn_max_lifetime",
	"conn_max_idle_time",
	"dial_timeout",
	"read_timeout",
	"write_timeout",
	"log_slow_queries",
}

// LoadConfig reads connection settings from v (config file values, then
// SCOPEDB_* environment variables on top), fills defaults and validates.
// Pass nil to read the environment only.
//
// Usage:
//
//	v := viper.New()
//	v.SetConfigFile("database.yaml")
//	_ = v.ReadInConfig()
//	cfg, err := scopedb.LoadConfig(v)
func LoadConfig(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	defaults := DefaultConfig("")
	v.SetDefault("max_open_conns", defaults.MaxOpenConns)
	v.SetDefault("max_idle_conns", defaults.MaxIdleConns)
	v.SetDefault("conn_max_lifetime", defaults.ConnMaxLifetime)
	v.SetDefault("conn_max_idle_time", defaults.ConnMaxIdleTime)
	v.SetDefault("dial_timeout", defaults.DialTimeout)
	v.SetDefault("read_timeout", defaults.ReadTimeout)
	v.SetDefault("write_timeout", defaults.WriteTimeout)
	v.SetDefault("log_slow_queries", 0)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("scopedb: binding %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("scopedb: decoding config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("scopedb: invalid config: %w", err)
	}

	return cfg, nil
}
