package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the inventory service configuration. Values come from the
// optional YAML file named by CONFIG_FILE; environment variables win.
type Config struct {
	Port         string         `yaml:"port"`
	ServiceName  string         `yaml:"service_name"`
	LogLevel     string         `yaml:"log_level"`
	LogFormat    string         `yaml:"log_format"`
	OTLPEndpoint string         `yaml:"otlp_endpoint"`
	SystemToken  string         `yaml:"system_token"`
	Database     DatabaseConfig `yaml:"database"`
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

func defaultConfig() Config {
	return Config{
		Port:         "8080",
		ServiceName:  "inventory-service",
		LogLevel:     "info",
		LogFormat:    "json",
		OTLPEndpoint: "localhost:4318",
		Database: DatabaseConfig{
			User:     "root",
			Password: "saga_pass",
			Host:     "localhost",
			Port:     "5432",
			Name:     "inventory_db",
			MaxConns: 10,
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
	cfg.SystemToken = getEnv("SYSTEM_TOKEN", cfg.SystemToken)
	cfg.Database.User = getEnv("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Host = getEnv("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.Name = getEnv("DATABASE_NAME", cfg.Database.Name)

	if v := getEnv("DATABASE_MAX_CONNS", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return cfg, fmt.Errorf("invalid DATABASE_MAX_CONNS %q: %w", v, err)
		}
		cfg.Database.MaxConns = int32(n)
	}

	if cfg.SystemToken == "" {
		return cfg, fmt.Errorf("SYSTEM_TOKEN is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
