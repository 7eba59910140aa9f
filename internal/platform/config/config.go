package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"emrvault/pkg/platform/strings"
)

// Backend selects where the stable memory image lives.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// Server captures process level configuration.
type Server struct {
	Addr           string
	LogFormat      string
	LogLevel       string
	ReseedInterval time.Duration
	Storage        StorageConfig
	Postgres       PostgresConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
}

// StorageConfig describes the stable memory image.
type StorageConfig struct {
	Backend     Backend
	Path        string
	Image       string
	BucketPages uint16
	SyncWrites  bool
	// WriteTimeout bounds one page write-through for remote backends.
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig drives the activity mirror. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers    []string
	Topic      string
	BufferSize int
	BatchSize  int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:           getenv("EMRVAULT_ADDR", ":8080"),
		LogFormat:      getenv("EMRVAULT_LOG_FORMAT", "json"),
		LogLevel:       getenv("EMRVAULT_LOG_LEVEL", "info"),
		ReseedInterval: time.Hour,
		Storage: StorageConfig{
			Backend:      Backend(getenv("EMRVAULT_BACKEND", string(BackendFile))),
			Path:         getenv("EMRVAULT_DATA_PATH", "emrvault.img"),
			Image:        getenv("EMRVAULT_IMAGE", "default"),
			BucketPages:  128,
			SyncWrites:   os.Getenv("EMRVAULT_SYNC_WRITES") != "false",
			WriteTimeout: 5 * time.Second,
		},
		Postgres: PostgresConfig{
			URL:          os.Getenv("EMRVAULT_POSTGRES_URL"),
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnMaxLife:  30 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          os.Getenv("EMRVAULT_REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:      getenv("EMRVAULT_KAFKA_TOPIC", "emrvault.activity"),
			BufferSize: 10000,
			BatchSize:  100,
		},
	}
	cfg.Kafka.Brokers = strings.SplitList(os.Getenv("EMRVAULT_KAFKA_BROKERS"), ",")

	if v := os.Getenv("EMRVAULT_RESEED_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("EMRVAULT_RESEED_INTERVAL: %w", err)
		}
		cfg.ReseedInterval = d
	}
	if v := os.Getenv("EMRVAULT_BUCKET_PAGES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil || n == 0 {
			return cfg, fmt.Errorf("EMRVAULT_BUCKET_PAGES: must be 1..65535, got %q", v)
		}
		cfg.Storage.BucketPages = uint16(n)
	}
	return cfg, cfg.validate()
}

func (c Server) validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendFile:
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("backend postgres needs EMRVAULT_POSTGRES_URL")
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("backend redis needs EMRVAULT_REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown EMRVAULT_BACKEND %q", c.Storage.Backend)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
