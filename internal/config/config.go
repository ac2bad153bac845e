package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rzbill/durq/internal/storage"
	pebblestore "github.com/rzbill/durq/internal/storage/pebble"
	"github.com/rzbill/durq/pkg/log"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Backends understood by the runtime.
const (
	BackendPebble = "pebble"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Backend  string         `json:"backend" yaml:"backend"`
	DataDir  string         `json:"dataDir" yaml:"dataDir"`
	Queue    QueueConfig    `json:"queue" yaml:"queue"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	SQL      SQLConfig      `json:"sql" yaml:"sql"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Recovery RecoveryConfig `json:"recovery" yaml:"recovery"`
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	GRPC     GRPCConfig     `json:"grpc" yaml:"grpc"`
	Log      log.Config     `json:"log" yaml:"log"`
}

// QueueConfig describes the served queue.
type QueueConfig struct {
	Name              string                 `json:"name" yaml:"name"`
	Partitions        storage.PartitionNames `json:"partitions" yaml:"partitions"`
	EphemeralDisabled bool                   `json:"ephemeralDisabled" yaml:"ephemeralDisabled"`
	EphemeralMaxSize  int                    `json:"ephemeralMaxSize" yaml:"ephemeralMaxSize"`
	// FIFO applies to the sql backend.
	FIFO bool `json:"fifo" yaml:"fifo"`
	// Boundary applies to the memory backend.
	Boundary int `json:"boundary" yaml:"boundary"`
}

// StorageConfig tunes the embedded engines.
type StorageConfig struct {
	Fsync           string `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
}

// SQLConfig configures the sql backend.
type SQLConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
	Table  string `json:"table" yaml:"table"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// RecoveryConfig configures the orphan recovery driver.
type RecoveryConfig struct {
	Enabled     bool  `json:"enabled" yaml:"enabled"`
	IntervalMs  int64 `json:"intervalMs" yaml:"intervalMs"`
	ThresholdMs int64 `json:"thresholdMs" yaml:"thresholdMs"`
	MaxPerSweep int   `json:"maxPerSweep" yaml:"maxPerSweep"`
}

// Interval returns IntervalMs as a duration.
func (r RecoveryConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMs) * time.Millisecond
}

// Threshold returns ThresholdMs as a duration.
func (r RecoveryConfig) Threshold() time.Duration {
	return time.Duration(r.ThresholdMs) * time.Millisecond
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int `json:"rateLimit" yaml:"rateLimit"`
}

// GRPCConfig configures the gRPC API.
type GRPCConfig struct {
	// Addr is the listen address. Empty disables the gRPC API.
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Backend: BackendPebble,
		DataDir: DefaultDataDir(),
		Queue: QueueConfig{
			Name:       "default",
			Partitions: storage.DefaultPartitionNames(),
		},
		Storage: StorageConfig{
			Fsync:           "always",
			FsyncIntervalMs: 5,
		},
		SQL: SQLConfig{
			Driver: "sqlite",
			Table:  "durq_queue",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "durq",
		},
		Recovery: RecoveryConfig{
			Enabled:     true,
			IntervalMs:  10_000,
			ThresholdMs: 60_000,
		},
		HTTP: HTTPConfig{
			Addr:      ":8080",
			RateLimit: 6000,
		},
		Log: log.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

var queueName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Validate reports every problem in cfg at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendPebble, BackendBolt:
		if c.DataDir == "" {
			errs = append(errs, errors.New("dataDir is required for embedded backends"))
		}
	case BackendMemory:
	case BackendSQL:
		if c.SQL.DSN == "" {
			errs = append(errs, errors.New("sql.dsn is required"))
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if !queueName.MatchString(c.Queue.Name) {
		errs = append(errs, fmt.Errorf("queue.name %q must match %s", c.Queue.Name, queueName))
	}
	if err := c.Queue.Partitions.WithDefaults().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Queue.EphemeralMaxSize < 0 {
		errs = append(errs, errors.New("queue.ephemeralMaxSize must not be negative"))
	}
	if c.Queue.Boundary < 0 {
		errs = append(errs, errors.New("queue.boundary must not be negative"))
	}
	if _, err := pebblestore.ParseFsyncMode(c.Storage.Fsync); err != nil {
		errs = append(errs, err)
	}
	if c.Recovery.Enabled && (c.Recovery.IntervalMs <= 0 || c.Recovery.ThresholdMs <= 0) {
		errs = append(errs, errors.New("recovery.intervalMs and recovery.thresholdMs must be positive"))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rateLimit must not be negative"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}
