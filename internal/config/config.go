package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	MySQLDSN  string `yaml:"mysql_dsn"`
	RedisAddr string `yaml:"redis_addr"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	LockTTL        time.Duration `yaml:"lock_ttl"`
	MaxRetries     int           `yaml:"max_retries"`
	EventWorkers   int           `yaml:"event_workers"`
	EventQueueSize int           `yaml:"event_queue_size"`
}

func Default() Config {
	return Config{
		Environment:    "development",
		LogLevel:       "info",
		HTTPAddr:       ":8080",
		GRPCAddr:       ":50051",
		MySQLDSN:       "root:root@tcp(localhost:3306)/stockledger?parseTime=true",
		RedisAddr:      "localhost:6379",
		KafkaTopic:     "inventory.ledger.events",
		LockTTL:        10 * time.Second,
		MaxRetries:     3,
		EventWorkers:   4,
		EventQueueSize: 10000,
	}
}

// Load applies defaults, then the YAML file named by CONFIG_FILE, then
// environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getEnv("GRPC_ADDR", c.GRPCAddr)
	c.MySQLDSN = getEnv("MYSQL_DSN", c.MySQLDSN)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.KafkaBrokers = splitList(brokers)
	}

	if raw := os.Getenv("LOCK_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("LOCK_TTL: %w", err)
		}
		c.LockTTL = d
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_RETRIES", &c.MaxRetries},
		{"EVENT_WORKERS", &c.EventWorkers},
		{"EVENT_QUEUE_SIZE", &c.EventQueueSize},
	}
	for _, v := range ints {
		raw := os.Getenv(v.key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", v.key, err)
		}
		*v.dst = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.MySQLDSN == "" {
		errs = append(errs, errors.New("mysql_dsn is required"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("redis_addr is required"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("kafka_topic is required when brokers are set"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("lock_ttl must be positive"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, errors.New("max_retries must be at least 1"))
	}
	if c.EventWorkers < 1 {
		errs = append(errs, errors.New("event_workers must be at least 1"))
	}
	if c.EventQueueSize < 1 {
		errs = append(errs, errors.New("event_queue_size must be at least 1"))
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
