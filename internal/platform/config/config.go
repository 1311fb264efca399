package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration for cmd/server. Values come from an
// optional YAML file and are then overridden by environment variables.
type Config struct {
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
	Storage   Storage   `yaml:"storage"`
	Redis     Redis     `yaml:"redis"`
	Postgres  Postgres  `yaml:"postgres"`
	Kafka     Kafka     `yaml:"kafka"`
	Reporting Reporting `yaml:"reporting"`
	Enforce   Enforce   `yaml:"enforce"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Storage selects the consent backend: memory, redis or postgres.
type Storage struct {
	Backend   string `yaml:"backend"`
	KeyPrefix string `yaml:"key_prefix"`
}

type Redis struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type Postgres struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life"`
}

// Kafka enables the consent-change stream when Brokers is non-empty.
type Kafka struct {
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replication_factor"`
}

type Reporting struct {
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// Enforce holds the coordinator configuration applied at startup.
type Enforce struct {
	ClientName     string          `yaml:"client_name"`
	PublishPath    string          `yaml:"publish_path"`
	Environment    string          `yaml:"environment"`
	Debug          bool            `yaml:"debug"`
	DataRetention  time.Duration   `yaml:"data_retention"`
	AutoShow       *bool           `yaml:"auto_show"`
	Version        string          `yaml:"version"`
	DefaultConsent map[string]bool `yaml:"default_consent"`
	Appearance     string          `yaml:"appearance"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  20 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: Log{Level: "info", Format: "text"},
		Storage: Storage{
			Backend:   "memory",
			KeyPrefix: "enforce:",
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: Postgres{
			MaxOpenConns: 10,
			MaxIdleConns: 2,
			ConnMaxLife:  30 * time.Minute,
		},
		Kafka: Kafka{
			Topic:             "enforce.consent",
			Partitions:        1,
			ReplicationFactor: 1,
		},
		Reporting: Reporting{
			Workers:          2,
			QueueSize:        256,
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Enforce: Enforce{Version: "1", Appearance: "system"},
	}
}

// Load reads the given .env files (missing ones are ignored), the YAML file
// at path when path is non-empty, and finally applies environment overrides.
func Load(path string, envFiles ...string) (Config, error) {
	if len(envFiles) > 0 {
		existing := envFiles[:0:0]
		for _, f := range envFiles {
			if _, err := os.Stat(f); err == nil {
				existing = append(existing, f)
			}
		}
		if len(existing) > 0 {
			if err := godotenv.Load(existing...); err != nil {
				return Config{}, fmt.Errorf("load env files: %w", err)
			}
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults and environment variables only.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations cmd/server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis storage requires redis.url"))
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres storage requires postgres.dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Reporting.Workers < 1 {
		errs = append(errs, errors.New("reporting.workers must be at least 1"))
	}
	if c.Reporting.QueueSize < 1 {
		errs = append(errs, errors.New("reporting.queue_size must be at least 1"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	setString(&cfg.Server.Addr, getenv("ENFORCE_ADDR"))
	setString(&cfg.Log.Level, getenv("ENFORCE_LOG_LEVEL"))
	setString(&cfg.Log.Format, getenv("ENFORCE_LOG_FORMAT"))
	setString(&cfg.Storage.Backend, getenv("ENFORCE_STORAGE"))
	setString(&cfg.Storage.KeyPrefix, getenv("ENFORCE_KEY_PREFIX"))
	setString(&cfg.Redis.URL, getenv("REDIS_URL"))
	setString(&cfg.Postgres.DSN, getenv("DATABASE_URL"))
	setString(&cfg.Kafka.Topic, getenv("KAFKA_TOPIC"))
	if v := getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}

	setString(&cfg.Enforce.ClientName, getenv("ENFORCE_CLIENT_NAME"))
	setString(&cfg.Enforce.PublishPath, getenv("ENFORCE_PUBLISH_PATH"))
	setString(&cfg.Enforce.Environment, getenv("ENFORCE_ENVIRONMENT"))
	setString(&cfg.Enforce.Version, getenv("ENFORCE_VERSION"))
	setString(&cfg.Enforce.Appearance, getenv("ENFORCE_APPEARANCE"))

	if v := getenv("ENFORCE_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENFORCE_DEBUG: %w", err)
		}
		cfg.Enforce.Debug = b
	}
	if v := getenv("ENFORCE_AUTO_SHOW"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENFORCE_AUTO_SHOW: %w", err)
		}
		cfg.Enforce.AutoShow = &b
	}
	if v := getenv("ENFORCE_DATA_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ENFORCE_DATA_RETENTION: %w", err)
		}
		cfg.Enforce.DataRetention = d
	}
	if v := getenv("ENFORCE_REPORTING_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ENFORCE_REPORTING_WORKERS: %w", err)
		}
		cfg.Reporting.Workers = n
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
