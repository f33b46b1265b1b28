package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the order service configuration. Values come from the optional
// YAML file named by CONFIG_FILE; environment variables win.
type Config struct {
	Port         string `yaml:"port"`
	ServiceName  string `yaml:"service_name"`
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	InventoryURL       string        `yaml:"inventory_url"`
	InventoryTimeout   time.Duration `yaml:"inventory_timeout"`
	ReservationTimeout time.Duration `yaml:"reservation_timeout"`
	SystemToken        string        `yaml:"system_token"`

	// Compensation is one of none, saga or dtm
	Compensation string `yaml:"compensation"`
	DTMServer    string `yaml:"dtm_server"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
}

type DatabaseConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
	MaxConns int32  `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// RedisConfig enables idempotent order creation when Addr is set
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

func defaultConfig() Config {
	return Config{
		Port:               "8080",
		ServiceName:        "orders-service",
		LogLevel:           "info",
		LogFormat:          "json",
		OTLPEndpoint:       "localhost:4318",
		InventoryURL:       "http://inventory-service:8080",
		InventoryTimeout:   5 * time.Second,
		ReservationTimeout: 30 * time.Second,
		Compensation:       CompensationSaga,
		DTMServer:          "http://dtm:36789/api/dtmsvr",
		Database: DatabaseConfig{
			User:     "root",
			Password: "pass",
			Host:     "localhost",
			Port:     "5432",
			Name:     "orders_db",
			MaxConns: 10,
		},
		Redis: RedisConfig{
			IdempotencyTTL: 24 * time.Hour,
		},
	}
}

// LoadConfig reads the YAML file (if any) and applies environment overrides
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.InventoryURL = getEnv("INVENTORY_SERVICE_URL", cfg.InventoryURL)
	cfg.SystemToken = getEnv("SYSTEM_TOKEN", cfg.SystemToken)
	cfg.Compensation = getEnv("COMPENSATION_STRATEGY", cfg.Compensation)
	cfg.DTMServer = getEnv("DTM_SERVER", cfg.DTMServer)
	cfg.Database.User = getEnv("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Host = getEnv("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.Name = getEnv("DATABASE_NAME", cfg.Database.Name)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	var err error
	if cfg.InventoryTimeout, err = getEnvDuration("INVENTORY_TIMEOUT", cfg.InventoryTimeout); err != nil {
		return cfg, err
	}
	if cfg.ReservationTimeout, err = getEnvDuration("RESERVATION_TIMEOUT", cfg.ReservationTimeout); err != nil {
		return cfg, err
	}
	if cfg.Redis.IdempotencyTTL, err = getEnvDuration("IDEMPOTENCY_TTL", cfg.Redis.IdempotencyTTL); err != nil {
		return cfg, err
	}
	if v := getEnv("DATABASE_MAX_CONNS", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return cfg, fmt.Errorf("invalid DATABASE_MAX_CONNS %q: %w", v, err)
		}
		cfg.Database.MaxConns = int32(n)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Compensation {
	case CompensationNone, CompensationSaga, CompensationDTM:
	default:
		return fmt.Errorf("unknown compensation strategy %q", c.Compensation)
	}
	if c.SystemToken == "" {
		return fmt.Errorf("SYSTEM_TOKEN is required")
	}
	if c.InventoryTimeout <= 0 {
		return fmt.Errorf("inventory_timeout must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
