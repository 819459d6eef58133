// Package config loads engine settings from an optional YAML file, then
// applies environment overrides for the connection strings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cragmate/partner-engine/internal/matching"
	"github.com/cragmate/partner-engine/internal/overlap"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Matching MatchingConfig `yaml:"matching"`
	Overlap  OverlapConfig  `yaml:"overlap"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type LogConfig struct {
	Mode string `yaml:"mode"` // "dev" or "prod"
}

type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	MaxOpenConn int    `yaml:"max_open_conns"`
}

type RedisConfig struct {
	// Addr empty disables the trigger throttle.
	Addr string `yaml:"addr"`
}

type NATSConfig struct {
	// URL empty disables event handling and publishes notifications to the log.
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type MatchingConfig struct {
	Weights      matching.Weights `yaml:"weights"`
	DefaultLimit int              `yaml:"default_limit"`
}

type OverlapConfig struct {
	Weights     overlap.Weights `yaml:"weights"`
	Concurrency int             `yaml:"concurrency"`
	Retention   time.Duration   `yaml:"retention"`
	CrossPathKm float64         `yaml:"cross_path_km"`
}

type ScheduleConfig struct {
	DetectAll     time.Duration `yaml:"detect_all"`
	NotifyPending time.Duration `yaml:"notify_pending"`
	CrossPath     time.Duration `yaml:"cross_path"`
}

type NotifyConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log:   LogConfig{Mode: "dev"},
		Store: StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost:5432/cragmate?sslmode=disable", MaxOpenConn: 10},
		NATS:  NATSConfig{Queue: "partner-engine"},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Matching: MatchingConfig{
			Weights:      matching.DefaultWeights(),
			DefaultLimit: matching.DefaultLimit,
		},
		Overlap: OverlapConfig{
			Weights:     overlap.DefaultWeights(),
			Concurrency: overlap.DefaultConcurrency,
			Retention:   overlap.DefaultRetention,
			CrossPathKm: overlap.DefaultCrossPathKm,
		},
		Schedule: ScheduleConfig{
			DetectAll:     24 * time.Hour,
			NotifyPending: 2 * time.Hour,
			CrossPath:     7 * 24 * time.Hour,
		},
		Notify: NotifyConfig{QueueSize: 256},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("LOG_MODE"); v != "" {
		c.Log.Mode = v
	}
	if v := os.Getenv("DETECT_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: DETECT_CONCURRENCY: %w", err)
		}
		c.Overlap.Concurrency = n
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of postgres, memory", c.Store.Driver))
	}
	for name, d := range map[string]time.Duration{
		"schedule.detect_all":     c.Schedule.DetectAll,
		"schedule.notify_pending": c.Schedule.NotifyPending,
		"schedule.cross_path":     c.Schedule.CrossPath,
		"overlap.retention":       c.Overlap.Retention,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Overlap.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("overlap.concurrency must be positive, got %d", c.Overlap.Concurrency))
	}
	if c.Overlap.CrossPathKm <= 0 {
		errs = append(errs, fmt.Errorf("overlap.cross_path_km must be positive, got %g", c.Overlap.CrossPathKm))
	}
	if c.Matching.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("matching.default_limit must be positive, got %d", c.Matching.DefaultLimit))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
