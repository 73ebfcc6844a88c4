// Package config loads engine settings from an optional file, .env and COSTING_* variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers
const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

// Config is the complete runtime configuration
type Config struct {
	Environment string         `mapstructure:"environment"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Store       StoreConfig    `mapstructure:"store"`
	MySQL       MySQLConfig    `mapstructure:"mysql"`
	Redis       RedisConfig    `mapstructure:"redis"`
	RabbitMQ    RabbitMQConfig `mapstructure:"rabbitmq"`
	Engine      EngineConfig   `mapstructure:"engine"`
}

// HTTPConfig configures the HTTP binding
type HTTPConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// MySQLConfig configures the sqlx connection pool
type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig configures the cross-instance stock key lock. An empty Addr disables it.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	LockRetries int           `mapstructure:"lock_retries"`
	LockBackoff time.Duration `mapstructure:"lock_backoff"`
}

// RabbitMQConfig configures the event publisher. An empty URL disables it.
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// EngineConfig tunes the engine itself
type EngineConfig struct {
	MaxExplosionDepth int           `mapstructure:"max_explosion_depth"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
}

// Enabled reports whether a Redis address is configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Enabled reports whether a broker URL is configured
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("store.driver", StoreMemory)

	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 5)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 10*time.Second)
	v.SetDefault("redis.lock_retries", 20)
	v.SetDefault("redis.lock_backoff", 50*time.Millisecond)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "costing.events")

	v.SetDefault("engine.max_explosion_depth", 10000)
	v.SetDefault("engine.lock_timeout", 5*time.Second)
}

// Load reads .env (if present), then the optional config file, then COSTING_* variables.
// Later sources override earlier ones.
func Load(file string) (*Config, error) {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COSTING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreMySQL:
		if c.MySQL.DSN == "" {
			return fmt.Errorf("store driver mysql requires mysql.dsn")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.HTTP.Port == "" {
		return fmt.Errorf("http.port cannot be empty")
	}
	if c.Engine.MaxExplosionDepth <= 0 {
		return fmt.Errorf("engine.max_explosion_depth must be positive, got %d", c.Engine.MaxExplosionDepth)
	}
	if c.Redis.Enabled() && c.Redis.LockTTL <= 0 {
		return fmt.Errorf("redis.lock_ttl must be positive")
	}
	return nil
}
