// Package config loads process configuration: defaults, then an optional
// YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Env      string   `yaml:"env"`
	Server   Server   `yaml:"server"`
	Log      Log      `yaml:"log"`
	Database Database `yaml:"database"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	AdminToken      string        `yaml:"admin_token"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Log selects logger output.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Database selects and tunes the contact store.
type Database struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
	TxTimeout       time.Duration `yaml:"tx_timeout"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Env: "development",
		Server: Server{
			Addr:            ":3000",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: Log{Level: "info", Format: "json"},
		Database: Database{
			Driver:          DriverMemory,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  15 * time.Second,
			AutoMigrate:     true,
			TxTimeout:       5 * time.Second,
		},
	}
}

// IsProduction reports whether the process runs in production.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips it. Outside production a .env file in the working directory is
// loaded first, without overriding variables already set.
func Load(path string) (Config, error) {
	if os.Getenv("IDENTIFY_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	setString(lookup, "IDENTIFY_ENV", &c.Env)
	if port, ok := lookup("PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}
	setString(lookup, "IDENTIFY_ADDR", &c.Server.Addr)
	setString(lookup, "ADMIN_TOKEN", &c.Server.AdminToken)
	setString(lookup, "LOG_LEVEL", &c.Log.Level)
	setString(lookup, "LOG_FORMAT", &c.Log.Format)
	setString(lookup, "DATABASE_DRIVER", &c.Database.Driver)
	setString(lookup, "DATABASE_URL", &c.Database.URL)

	return errors.Join(
		setDuration(lookup, "REQUEST_TIMEOUT", &c.Server.RequestTimeout),
		setDuration(lookup, "SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout),
		setInt(lookup, "DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns),
		setInt(lookup, "DB_MAX_IDLE_CONNS", &c.Database.MaxIdleConns),
		setDuration(lookup, "DB_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetime),
		setDuration(lookup, "DB_CONNECT_TIMEOUT", &c.Database.ConnectTimeout),
		setBool(lookup, "DB_AUTO_MIGRATE", &c.Database.AutoMigrate),
		setDuration(lookup, "TX_TIMEOUT", &c.Database.TxTimeout),
	)
}

// Validate rejects configurations the process cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverPgx, DriverSQLite:
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DATABASE_DRIVER %q", c.Database.Driver))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server address is required"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, errors.New("DB_MAX_OPEN_CONNS must be at least 1"))
	}
	if c.Database.TxTimeout <= 0 {
		errs = append(errs, errors.New("TX_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func setString(lookup lookupFunc, key string, dst *string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func setDuration(lookup lookupFunc, key string, dst *time.Duration) error {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(lookup lookupFunc, key string, dst *int) error {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(lookup lookupFunc, key string, dst *bool) error {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
