// Package config loads server and export settings from an optional YAML file
// overlaid with DATACHANGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	strutil "datachange/pkg/platform/strings"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// EnvConfigPath names the variable holding the optional YAML file path.
const EnvConfigPath = "DATACHANGE_CONFIG"

const envPrefix = "DATACHANGE_"

// Defaults.
const (
	DefaultAddr           = ":8080"
	DefaultStore          = StoreMemory
	DefaultDatabaseDriver = "pgx"
	DefaultKafkaTopic     = "data-changes"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultJWTIssuer      = "datachange"
	devJWTSigningKey      = "dev-secret-key-change-in-production"
)

var (
	ErrUnknownStore       = errors.New("store must be one of memory, postgres, redis")
	ErrMissingDatabaseURL = errors.New("database_url is required for the postgres store")
	ErrUnknownDriver      = errors.New("database_driver must be pgx or postgres")
	ErrMissingRedisURL    = errors.New("redis_url is required for the redis store")
	ErrMissingKafkaTopic  = errors.New("kafka.topic is required when kafka.brokers is set")
	ErrMissingRegion      = errors.New("export.region is required when export.bucket is set")
)

// Config is the full process configuration.
type Config struct {
	Addr           string
	Store          string
	DatabaseURL    string
	DatabaseDriver string
	JWTSigningKey  string
	JWTIssuer      string

	// Tracking behaviour.
	FieldBlacklist        []string
	SaveRequestParams     bool
	RequestParamBlacklist []string

	Redis  RedisConfig
	Kafka  KafkaConfig
	Export ExportConfig
	Log    LogConfig
}

// RedisConfig carries connection settings for the redis store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// KafkaConfig enables the Kafka sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether records should be forwarded to Kafka.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// ExportConfig points the exporter at an S3-compatible bucket.
type ExportConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Enabled reports whether an upload target is configured.
func (e ExportConfig) Enabled() bool { return e.Bucket != "" }

type LogConfig struct {
	Level  string
	Format string
}

// Load reads path (when non-empty) and then applies environment overrides.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	var errs []error
	boolVal := func(key string, def bool) bool {
		v, err := envBool(key, k, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	intVal := func(key string, def int) int {
		v, err := envInt(key, k, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	durationVal := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, k, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Addr:           envString("addr", k, DefaultAddr),
		Store:          strings.ToLower(envString("store", k, DefaultStore)),
		DatabaseURL:    envString("database_url", k, ""),
		DatabaseDriver: envString("database_driver", k, DefaultDatabaseDriver),
		JWTSigningKey:  envString("jwt_signing_key", k, devJWTSigningKey),
		JWTIssuer:      envString("jwt_issuer", k, DefaultJWTIssuer),

		FieldBlacklist:        envList("field_blacklist", k, []string{"Password"}),
		SaveRequestParams:     boolVal("save_request_params", false),
		RequestParamBlacklist: envList("request_param_blacklist", k, []string{"url", "SecurityID"}),

		Redis: RedisConfig{
			URL:          envString("redis_url", k, ""),
			PoolSize:     intVal("redis.pool_size", 10),
			MinIdleConns: intVal("redis.min_idle_conns", 2),
			DialTimeout:  durationVal("redis.dial_timeout", 5*time.Second),
			ReadTimeout:  durationVal("redis.read_timeout", 3*time.Second),
			WriteTimeout: durationVal("redis.write_timeout", 3*time.Second),
			KeyPrefix:    envString("redis.key_prefix", k, ""),
		},
		Kafka: KafkaConfig{
			Brokers: envList("kafka.brokers", k, nil),
			Topic:   envString("kafka.topic", k, DefaultKafkaTopic),
		},
		Export: ExportConfig{
			Bucket:          envString("export.bucket", k, ""),
			Region:          envString("export.region", k, ""),
			Endpoint:        envString("export.endpoint", k, ""),
			AccessKeyID:     envString("export.access_key_id", k, ""),
			SecretAccessKey: envString("export.secret_access_key", k, ""),
			Prefix:          envString("export.prefix", k, ""),
		},
		Log: LogConfig{
			Level:  envString("log.level", k, DefaultLogLevel),
			Format: envString("log.format", k, DefaultLogFormat),
		},
	}

	errs = append(errs, cfg.Validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate returns every configuration problem found.
func (c *Config) Validate() []error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, ErrMissingDatabaseURL)
		}
		if c.DatabaseDriver != "pgx" && c.DatabaseDriver != "postgres" {
			errs = append(errs, ErrUnknownDriver)
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, ErrMissingRedisURL)
		}
	default:
		errs = append(errs, ErrUnknownStore)
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, ErrMissingKafkaTopic)
	}
	if c.Export.Enabled() && c.Export.Region == "" {
		errs = append(errs, ErrMissingRegion)
	}
	return errs
}

// EnvName maps a koanf key onto its environment variable, e.g.
// "kafka.brokers" becomes DATACHANGE_KAFKA_BROKERS.
func EnvName(key string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func envString(key string, k *koanf.Koanf, def string) string {
	if v := os.Getenv(EnvName(key)); v != "" {
		return v
	}
	if v := k.String(key); v != "" {
		return v
	}
	return def
}

// envList accepts a comma-separated env value or a YAML list.
func envList(key string, k *koanf.Koanf, def []string) []string {
	if v := os.Getenv(EnvName(key)); v != "" {
		return strutil.SplitList(v)
	}
	if k.Exists(key) {
		return strutil.DedupeAndTrim(k.Strings(key))
	}
	return def
}

func envBool(key string, k *koanf.Koanf, def bool) (bool, error) {
	if v := os.Getenv(EnvName(key)); v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return def, fmt.Errorf("%s must be a boolean, got %q", EnvName(key), v)
	}
	if k.Exists(key) {
		return k.Bool(key), nil
	}
	return def, nil
}

func envInt(key string, k *koanf.Koanf, def int) (int, error) {
	if v := os.Getenv(EnvName(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return def, fmt.Errorf("%s must be an integer, got %q", EnvName(key), v)
		}
		return n, nil
	}
	if k.Exists(key) {
		return k.Int(key), nil
	}
	return def, nil
}

func envDuration(key string, k *koanf.Koanf, def time.Duration) (time.Duration, error) {
	if v := os.Getenv(EnvName(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return def, fmt.Errorf("%s must be a duration, got %q", EnvName(key), v)
		}
		return d, nil
	}
	if k.Exists(key) {
		return k.Duration(key), nil
	}
	return def, nil
}
