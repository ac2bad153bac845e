package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. With no arguments it loads
// ".env" when present.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		files = []string{".env"}
	}
	return godotenv.Load(files...)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// FromEnv overlays DURQ_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	envString("DURQ_BACKEND", &cfg.Backend)
	envString("DURQ_DATA_DIR", &cfg.DataDir)

	envString("DURQ_QUEUE_NAME", &cfg.Queue.Name)
	envString("DURQ_QUEUE_PARTITION_MAIN", &cfg.Queue.Partitions.Main)
	envString("DURQ_QUEUE_PARTITION_EPHEMERAL", &cfg.Queue.Partitions.Ephemeral)
	envString("DURQ_QUEUE_PARTITION_METADATA", &cfg.Queue.Partitions.Metadata)
	envBool("DURQ_QUEUE_EPHEMERAL_DISABLED", &cfg.Queue.EphemeralDisabled)
	envInt("DURQ_QUEUE_EPHEMERAL_MAX_SIZE", &cfg.Queue.EphemeralMaxSize)
	envBool("DURQ_QUEUE_FIFO", &cfg.Queue.FIFO)
	envInt("DURQ_QUEUE_BOUNDARY", &cfg.Queue.Boundary)

	envString("DURQ_STORAGE_FSYNC", &cfg.Storage.Fsync)
	envInt("DURQ_STORAGE_FSYNC_INTERVAL_MS", &cfg.Storage.FsyncIntervalMs)

	envString("DURQ_SQL_DRIVER", &cfg.SQL.Driver)
	envString("DURQ_SQL_DSN", &cfg.SQL.DSN)
	envString("DURQ_SQL_TABLE", &cfg.SQL.Table)

	envString("DURQ_REDIS_ADDR", &cfg.Redis.Addr)
	envString("DURQ_REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("DURQ_REDIS_DB", &cfg.Redis.DB)
	envString("DURQ_REDIS_PREFIX", &cfg.Redis.Prefix)

	envBool("DURQ_RECOVERY_ENABLED", &cfg.Recovery.Enabled)
	envInt64("DURQ_RECOVERY_INTERVAL_MS", &cfg.Recovery.IntervalMs)
	envInt64("DURQ_RECOVERY_THRESHOLD_MS", &cfg.Recovery.ThresholdMs)
	envInt("DURQ_RECOVERY_MAX_PER_SWEEP", &cfg.Recovery.MaxPerSweep)

	envString("DURQ_HTTP_ADDR", &cfg.HTTP.Addr)
	envInt("DURQ_HTTP_RATE_LIMIT", &cfg.HTTP.RateLimit)
	envString("DURQ_GRPC_ADDR", &cfg.GRPC.Addr)

	envString("DURQ_LOG_LEVEL", &cfg.Log.Level)
	envString("DURQ_LOG_FORMAT", &cfg.Log.Format)
}
