// Package config provides runtime configuration values for the service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config holds configuration knobs for the servers, storage and index sync.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
	LogLevel        string

	StoreDriver          string
	MySQLDSN             string
	MySQLMaxOpenConns    int
	MySQLMaxIdleConns    int
	MySQLConnMaxLifetime time.Duration
	MySQLMigrate         bool
	LockTimeout          time.Duration

	IndexDriver         string
	RedisAddr           string
	RedisPoolSize       int
	IndexKeyPrefix      string
	IndexWorkers        int
	IndexQueueSize      int
	IndexMaxAttempts    int
	IndexRetryBackoff   time.Duration
	IndexRepairInterval time.Duration

	SeedDemo bool
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolenv(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durenvms(key string, defMs int) time.Duration {
	ms := atoienv(key, defMs)
	return time.Duration(ms) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	sec := atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

func driverenv(key, def string, allowed ...string) string {
	v := strings.ToLower(getenv(key, def))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:        getenv("GRPC_ADDR", ":50051"),
		ShutdownTimeout: durenvs("SHUTDOWN_TIMEOUT_S", 10),
		LogLevel:        getenv("LOG_LEVEL", "info"),

		StoreDriver:          driverenv("STORE_DRIVER", DriverMySQL, DriverMySQL, DriverMemory),
		MySQLDSN:             getenv("MYSQL_DSN", "root:root@tcp(localhost:3306)/catalog?parseTime=true"),
		MySQLMaxOpenConns:    atoienv("MYSQL_MAX_OPEN_CONNS", 50),
		MySQLMaxIdleConns:    atoienv("MYSQL_MAX_IDLE_CONNS", 25),
		MySQLConnMaxLifetime: durenvs("MYSQL_CONN_MAX_LIFETIME_S", 300),
		MySQLMigrate:         boolenv("MYSQL_MIGRATE", true),
		LockTimeout:          durenvms("LOCK_TIMEOUT_MS", 2000),

		IndexDriver:         driverenv("INDEX_DRIVER", DriverRedis, DriverRedis, DriverMemory),
		RedisAddr:           getenv("REDIS_ADDR", "localhost:6379"),
		RedisPoolSize:       atoienv("REDIS_POOL_SIZE", 100),
		IndexKeyPrefix:      getenv("INDEX_KEY_PREFIX", "catalog:search:"),
		IndexWorkers:        atoienv("INDEX_WORKERS", 4),
		IndexQueueSize:      atoienv("INDEX_QUEUE_SIZE", 1024),
		IndexMaxAttempts:    atoienv("INDEX_MAX_ATTEMPTS", 3),
		IndexRetryBackoff:   durenvms("INDEX_RETRY_BACKOFF_MS", 100),
		IndexRepairInterval: durenvms("INDEX_REPAIR_INTERVAL_MS", 30000),

		SeedDemo: boolenv("SEED_DEMO", false),
	}
}
