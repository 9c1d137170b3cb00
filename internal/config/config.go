package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string         `yaml:"http_addr"`
	GRPCAddr string         `yaml:"grpc_addr"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Workers  WorkerConfig   `yaml:"workers"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // mysql | postgres | sqlite3
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TxRetries       int           `yaml:"tx_retries"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	PoolSize       int           `yaml:"pool_size"`
	StockTTL       time.Duration `yaml:"stock_ttl"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type WorkerConfig struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queue_size"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":50051",
		Database: DatabaseConfig{
			Driver:          "mysql",
			DSN:             "root:root@tcp(localhost:3306)/orderengine?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			TxRetries:       3,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			Enabled:        true,
			Addr:           "localhost:6379",
			PoolSize:       100,
			StockTTL:       10 * time.Minute,
			IdempotencyTTL: 24 * time.Hour,
		},
		Workers: WorkerConfig{
			Count:     10,
			QueueSize: 10000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path (if
// path is non-empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getenvDefault("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("GRPC_ADDR", c.GRPCAddr)
	c.Database.Driver = getenvDefault("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getenvDefault("DB_DSN", c.Database.DSN)
	c.Redis.Addr = getenvDefault("REDIS_ADDR", c.Redis.Addr)
	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REDIS_ENABLED: %w", err)
		}
		c.Redis.Enabled = enabled
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKER_COUNT: %w", err)
		}
		c.Workers.Count = n
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be one of mysql, postgres, sqlite3", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Database.TxRetries < 0 {
		errs = append(errs, errors.New("database.tx_retries must not be negative"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.Workers.Count < 1 {
		errs = append(errs, errors.New("workers.count must be at least 1"))
	}
	if c.Workers.QueueSize < 1 {
		errs = append(errs, errors.New("workers.queue_size must be at least 1"))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
