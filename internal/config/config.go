// Package config loads the resp-cli settings from defaults, a YAML file,
// RESP_* environment variables and command line flags, in increasing order
// of precedence.
package config

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pior/resp"
)

const envPrefix = "RESP"

type Config struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	TLS            bool          `mapstructure:"tls"`
	Insecure       bool          `mapstructure:"insecure"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"` // text or json
	Pool           Pool          `mapstructure:"pool"`
}

type Pool struct {
	MaxSize             int32         `mapstructure:"max_size"`
	MaxConnLifetime     time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime     time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	TestOnBorrow        bool          `mapstructure:"test_on_borrow"`
	TestWhileIdle       bool          `mapstructure:"test_while_idle"`
	Implementation      string        `mapstructure:"implementation"` // channel or puddle
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"host":            "host",
	"port":            "port",
	"tls":             "tls",
	"insecure":        "insecure",
	"timeout":         "timeout",
	"connect-timeout": "connect_timeout",
	"log-level":       "log_level",
	"log-format":      "log_format",
	"pool-size":       "pool.max_size",
}

func setDefaults(v *viper.Viper) {
	endpoint := resp.DefaultEndpoint()
	pool := resp.DefaultPoolConfig()

	v.SetDefault("host", endpoint.Host)
	v.SetDefault("port", endpoint.Port)
	v.SetDefault("tls", false)
	v.SetDefault("insecure", false)
	v.SetDefault("timeout", endpoint.SoTimeout)
	v.SetDefault("connect_timeout", endpoint.ConnectionTimeout)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("pool.max_size", pool.MaxSize)
	v.SetDefault("pool.max_conn_lifetime", pool.MaxConnLifetime)
	v.SetDefault("pool.max_conn_idle_time", pool.MaxConnIdleTime)
	v.SetDefault("pool.health_check_interval", pool.HealthCheckInterval)
	v.SetDefault("pool.test_on_borrow", pool.TestOnBorrow)
	v.SetDefault("pool.test_while_idle", pool.TestWhileIdle)
	v.SetDefault("pool.implementation", "channel")
}

// Load reads the configuration. path may be empty. flags may be nil; only
// the flags explicitly set override the other sources.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.Timeout < 0 || c.ConnectTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	switch c.Pool.Implementation {
	case "channel", "puddle":
	default:
		return fmt.Errorf("config: unknown pool implementation %q", c.Pool.Implementation)
	}
	return nil
}

// Endpoint converts the configuration into a connection endpoint.
func (c Config) Endpoint() resp.Endpoint {
	endpoint := resp.Endpoint{
		Host:              c.Host,
		Port:              c.Port,
		ConnectionTimeout: c.ConnectTimeout,
		SoTimeout:         c.Timeout,
		TLS:               c.TLS,
	}
	if c.TLS && c.Insecure {
		endpoint.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return endpoint
}

// PoolConfig converts the configuration into a pool configuration.
func (c Config) PoolConfig() resp.PoolConfig {
	config := resp.DefaultPoolConfig()
	config.MaxSize = c.Pool.MaxSize
	config.MaxConnLifetime = c.Pool.MaxConnLifetime
	config.MaxConnIdleTime = c.Pool.MaxConnIdleTime
	config.HealthCheckInterval = c.Pool.HealthCheckInterval
	config.TestOnBorrow = c.Pool.TestOnBorrow
	config.TestWhileIdle = c.Pool.TestWhileIdle
	if c.Pool.Implementation == "puddle" {
		config.NewPool = resp.NewPuddlePool
	}
	return config
}

// view is the printable form of Config: durations as strings.
type view struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	TLS            bool     `json:"tls"`
	Insecure       bool     `json:"insecure"`
	Timeout        string   `json:"timeout"`
	ConnectTimeout string   `json:"connect_timeout"`
	LogLevel       string   `json:"log_level"`
	LogFormat      string   `json:"log_format"`
	Pool           poolView `json:"pool"`
}

type poolView struct {
	MaxSize             int32  `json:"max_size"`
	MaxConnLifetime     string `json:"max_conn_lifetime"`
	MaxConnIdleTime     string `json:"max_conn_idle_time"`
	HealthCheckInterval string `json:"health_check_interval"`
	TestOnBorrow        bool   `json:"test_on_borrow"`
	TestWhileIdle       bool   `json:"test_while_idle"`
	Implementation      string `json:"implementation"`
}

// Dump renders the configuration as YAML, in the format Load reads.
func Dump(c Config) ([]byte, error) {
	return yaml.Marshal(view{
		Host:           c.Host,
		Port:           c.Port,
		TLS:            c.TLS,
		Insecure:       c.Insecure,
		Timeout:        c.Timeout.String(),
		ConnectTimeout: c.ConnectTimeout.String(),
		LogLevel:       c.LogLevel,
		LogFormat:      c.LogFormat,
		Pool: poolView{
			MaxSize:             c.Pool.MaxSize,
			MaxConnLifetime:     c.Pool.MaxConnLifetime.String(),
			MaxConnIdleTime:     c.Pool.MaxConnIdleTime.String(),
			HealthCheckInterval: c.Pool.HealthCheckInterval.String(),
			TestOnBorrow:        c.Pool.TestOnBorrow,
			TestWhileIdle:       c.Pool.TestWhileIdle,
			Implementation:      c.Pool.Implementation,
		},
	})
}
