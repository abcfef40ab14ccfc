// Package config loads storefront settings from defaults, an optional YAML file, an
// optional .env file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	API       APIConfig       `yaml:"api"`
	Store     StoreConfig     `yaml:"store"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Gesture   GestureConfig   `yaml:"gesture"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Session   SessionConfig   `yaml:"session"`
	Backend   BackendConfig   `yaml:"backend"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Port               string        `yaml:"port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBodySize int64         `yaml:"max_request_body_size"`
}

// APIConfig points at the collaborator serving stock, coupons and orders.
type APIConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type StoreConfig struct {
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisCache    bool          `yaml:"redis_cache"` // put Redis in front of sqlite or mongo
	MongoURI      string        `yaml:"mongo_uri"`
	MongoDatabase string        `yaml:"mongo_database"`
	MongoPoolSize uint64        `yaml:"mongo_pool_size"`
	MongoTimeout  time.Duration `yaml:"mongo_timeout"` // connect and server selection
	SQLitePath    string        `yaml:"sqlite_path"`
	SlotTTL       time.Duration `yaml:"slot_ttl"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type GestureConfig struct {
	HoldDuration  time.Duration `yaml:"hold_duration"`
	Cooldown      time.Duration `yaml:"cooldown"`
	ConfirmDelay  time.Duration `yaml:"confirm_delay"`
	ResetDelay    time.Duration `yaml:"reset_delay"`
	FrameInterval time.Duration `yaml:"frame_interval"`
}

type ReconcileConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
}

// BackendConfig configures the local collaborator started by `storefront backend`.
type BackendConfig struct {
	Port     string `yaml:"port"`
	SeedFile string `yaml:"seed_file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:               "8080",
			RequestTimeout:     30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			MaxRequestBodySize: 1 << 20, // 1MB
		},
		API: APIConfig{
			BaseURL:          "http://localhost:8081",
			Timeout:          5 * time.Second,
			BreakerTimeout:   30 * time.Second,
			FailureThreshold: 5,
		},
		Store: StoreConfig{
			Backend:       BackendMemory,
			RedisAddr:     "localhost:6379",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "storefront",
			MongoPoolSize: 20,
			MongoTimeout:  10 * time.Second,
			SQLitePath:    "storefront.db",
			SlotTTL:       7 * 24 * time.Hour,
		},
		Kafka: KafkaConfig{
			Topic:         "storefront-checkout-audit",
			ConsumerGroup: "storefront-cart-cleanup",
		},
		Gesture: GestureConfig{
			HoldDuration:  1500 * time.Millisecond,
			Cooldown:      1000 * time.Millisecond,
			ConfirmDelay:  300 * time.Millisecond,
			ResetDelay:    1500 * time.Millisecond,
			FrameInterval: 16 * time.Millisecond,
		},
		Reconcile: ReconcileConfig{
			Concurrency: 4,
			Timeout:     10 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: time.Minute,
			SubmitTimeout: 15 * time.Second,
		},
		Backend: BackendConfig{
			Port: "8081",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. configFile and envFile may be empty; a missing
// envFile is not an error.
func Load(configFile, envFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configFile, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if err := getDuration(key, dst); err != nil {
			errs = append(errs, err)
		}
	}

	cfg.HTTP.Port = getEnv("HTTP_PORT", cfg.HTTP.Port)
	dur("REQUEST_TIMEOUT", &cfg.HTTP.RequestTimeout)
	dur("SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)

	cfg.API.BaseURL = getEnv("API_BASE_URL", cfg.API.BaseURL)
	dur("API_TIMEOUT", &cfg.API.Timeout)

	cfg.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", cfg.Store.Backend))
	cfg.Store.RedisAddr = getEnv("REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisCache = getBool("REDIS_CACHE", cfg.Store.RedisCache)
	cfg.Store.MongoURI = getEnv("MONGO_URI", cfg.Store.MongoURI)
	cfg.Store.MongoDatabase = getEnv("MONGO_DATABASE", cfg.Store.MongoDatabase)
	if v := getEnv("MONGO_POOL_SIZE", ""); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MONGO_POOL_SIZE: %w", err))
		} else {
			cfg.Store.MongoPoolSize = n
		}
	}
	dur("MONGO_TIMEOUT", &cfg.Store.MongoTimeout)
	cfg.Store.SQLitePath = getEnv("SQLITE_PATH", cfg.Store.SQLitePath)
	dur("SLOT_TTL", &cfg.Store.SlotTTL)

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.ConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", cfg.Kafka.ConsumerGroup)

	dur("HOLD_DURATION", &cfg.Gesture.HoldDuration)
	dur("HOLD_COOLDOWN", &cfg.Gesture.Cooldown)
	dur("HOLD_CONFIRM_DELAY", &cfg.Gesture.ConfirmDelay)
	dur("HOLD_RESET_DELAY", &cfg.Gesture.ResetDelay)

	if v := getEnv("RECONCILE_CONCURRENCY", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("RECONCILE_CONCURRENCY: %w", err))
		} else {
			cfg.Reconcile.Concurrency = n
		}
	}
	dur("SESSION_IDLE_TIMEOUT", &cfg.Session.IdleTimeout)

	cfg.Backend.Port = getEnv("BACKEND_PORT", cfg.Backend.Port)
	cfg.Backend.SeedFile = getEnv("BACKEND_SEED_FILE", cfg.Backend.SeedFile)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Pretty = getBool("LOG_PRETTY", cfg.Log.Pretty)

	return errors.Join(errs...)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendMemory, BackendRedis, BackendSQLite, BackendMongo:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if c.Store.RedisCache && c.Store.Backend != BackendSQLite && c.Store.Backend != BackendMongo {
		errs = append(errs, fmt.Errorf("redis cache needs a sqlite or mongo backend, got %q", c.Store.Backend))
	}
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api base url is required"))
	}

	positive := map[string]time.Duration{
		"http.request_timeout":   c.HTTP.RequestTimeout,
		"http.shutdown_timeout":  c.HTTP.ShutdownTimeout,
		"api.timeout":            c.API.Timeout,
		"store.mongo_timeout":    c.Store.MongoTimeout,
		"gesture.hold_duration":  c.Gesture.HoldDuration,
		"gesture.cooldown":       c.Gesture.Cooldown,
		"gesture.frame_interval": c.Gesture.FrameInterval,
		"reconcile.timeout":      c.Reconcile.Timeout,
		"session.idle_timeout":   c.Session.IdleTimeout,
		"session.sweep_interval": c.Session.SweepInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Gesture.ConfirmDelay < 0 || c.Gesture.ResetDelay < 0 {
		errs = append(errs, errors.New("gesture delays must not be negative"))
	}
	if c.Reconcile.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("reconcile.concurrency must be at least 1, got %d", c.Reconcile.Concurrency))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
