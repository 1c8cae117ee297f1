// Package config loads service settings from the environment, optionally
// layered over a flat YAML file named by CONFIG_FILE. Environment variables
// win over the file; the file wins over defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr    string
	StoreDriver string

	Database  DatabaseConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Outbox    OutboxConfig
	Auth      AuthConfig
	Orders    OrdersConfig
	Telemetry TelemetryConfig
	Logger    LoggerConfig
}

type DatabaseConfig struct {
	Host      string
	Port      string
	User      string
	Password  string
	Name      string
	MaxConns  int32
	MinConns  int32
	Isolation string
}

// DSN returns a libpq-style URL usable by both pgx and lib/pq.
func (c DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type OutboxConfig struct {
	Retention     time.Duration
	PurgeSchedule string
	BatchSize     int
	PollInterval  time.Duration
	Lease         time.Duration
	Workers       int
}

type AuthConfig struct {
	JWTSecret string
}

type OrdersConfig struct {
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	Timeout              time.Duration
}

type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

type LoggerConfig struct {
	Mode  string
	Level string
	File  string
}

// Load reads the configuration. Conversion failures are collected and
// returned together.
func Load() (*Config, error) {
	file := map[string]any{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if file, err = readFile(path); err != nil {
			return nil, err
		}
	}
	r := &reader{file: file}

	cfg := &Config{
		HTTPAddr:    r.str("HTTP_ADDR", ":8080"),
		StoreDriver: strings.ToLower(r.str("STORE_DRIVER", DriverPostgres)),
		Database: DatabaseConfig{
			Host:      r.str("DATABASE_HOST", "localhost"),
			Port:      r.str("DATABASE_PORT", "5432"),
			User:      r.str("DATABASE_USER", "root"),
			Password:  r.str("DATABASE_PASSWORD", "pass"),
			Name:      r.str("DATABASE_NAME", "orders_db"),
			MaxConns:  int32(r.integer("DATABASE_MAX_CONNS", 25)),
			MinConns:  int32(r.integer("DATABASE_MIN_CONNS", 5)),
			Isolation: r.str("DATABASE_ISOLATION", "repeatable read"),
		},
		Mongo: MongoConfig{
			URI:      r.str("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
			Database: r.str("MONGO_DATABASE", "orders"),
		},
		Redis: RedisConfig{
			Addr:           r.str("REDIS_ADDR", ""),
			Password:       r.str("REDIS_PASSWORD", ""),
			DB:             r.integer("REDIS_DB", 0),
			IdempotencyTTL: r.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: r.list("KAFKA_BROKERS"),
			Topic:   r.str("OUTBOX_TOPIC", "orders.events"),
		},
		Outbox: OutboxConfig{
			Retention:     r.duration("OUTBOX_RETENTION", 72*time.Hour),
			PurgeSchedule: r.str("OUTBOX_PURGE_SCHEDULE", "@hourly"),
			BatchSize:     r.integer("OUTBOX_BATCH_SIZE", 100),
			PollInterval:  r.duration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
			Lease:         r.duration("OUTBOX_LEASE", 5*time.Second),
			Workers:       r.integer("OUTBOX_WORKERS", 4),
		},
		Auth: AuthConfig{
			JWTSecret: r.str("JWT_SECRET", ""),
		},
		Orders: OrdersConfig{
			RetryMaxAttempts:     r.integer("ORDER_RETRY_MAX_ATTEMPTS", 5),
			RetryInitialInterval: r.duration("ORDER_RETRY_INITIAL_INTERVAL", 20*time.Millisecond),
			RetryMaxInterval:     r.duration("ORDER_RETRY_MAX_INTERVAL", 500*time.Millisecond),
			Timeout:              r.duration("ORDER_TIMEOUT", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			Enabled:     r.boolean("OTEL_ENABLED", true),
			Endpoint:    r.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: r.str("SERVICE_NAME", "orders-service"),
		},
		Logger: LoggerConfig{
			Mode:  r.str("LOG_MODE", "development"),
			Level: r.str("LOG_LEVEL", "info"),
			File:  r.str("LOG_FILE", ""),
		},
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverPostgres, DriverMongo, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unsupported driver %q", c.StoreDriver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET: must be set"))
	}
	if c.Orders.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("ORDER_RETRY_MAX_ATTEMPTS: must be at least 1"))
	}
	if c.Orders.RetryInitialInterval > c.Orders.RetryMaxInterval {
		errs = append(errs, errors.New("ORDER_RETRY_INITIAL_INTERVAL: must not exceed ORDER_RETRY_MAX_INTERVAL"))
	}
	return errors.Join(errs...)
}

func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	values := make(map[string]any, len(raw))
	for k, v := range raw {
		values[strings.ToUpper(k)] = v
	}
	return values, nil
}

type reader struct {
	file map[string]any
	errs []error
}

func (r *reader) lookup(key string) (any, bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, true
	}
	v, ok := r.file[key]
	return v, ok && v != nil
}

func (r *reader) str(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	return cast.ToString(v)
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

// list accepts a comma separated string or a YAML sequence.
func (r *reader) list(key string) []string {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	if s, isString := v.(string); isString {
		v = strings.Split(s, ",")
	}
	var out []string
	for _, item := range cast.ToStringSlice(v) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
