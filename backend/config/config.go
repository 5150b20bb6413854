// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads server settings from a YAML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/efchatnet/efsync/backend/retry"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

var defaultPaths = []string{"configs/config.yaml"}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	S3          S3Config          `yaml:"s3"`
	Auth        AuthConfig        `yaml:"auth"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Retry       RetryConfig       `yaml:"retry"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Log         LogConfig         `yaml:"log"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig.URL is either host:port or a redis:// URL.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type S3Config struct {
	Endpoint   string        `yaml:"endpoint"`
	AccessKey  string        `yaml:"access_key"`
	SecretKey  string        `yaml:"secret_key"`
	Bucket     string        `yaml:"bucket"`
	PublicURL  string        `yaml:"public_url"`
	UseSSL     bool          `yaml:"use_ssl"`
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// KafkaConfig.Brokers is a comma separated list. Empty disables events.
type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	StoreTimeout  time.Duration `yaml:"store_timeout"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type AttachmentsConfig struct {
	MaxSize int `yaml:"max_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig.Endpoint is an OTLP/HTTP collector. Empty disables export.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: "8081",
			AllowedOrigins: []string{
				"https://efchat.net",
				"https://app.efchat.net",
				"http://localhost:3000",
			},
			ShutdownTimeout: 10 * time.Second,
		},
		Storage:  StorageConfig{Driver: DriverPostgres},
		Database: DatabaseConfig{URL: "postgres://localhost/efsync?sslmode=disable"},
		Redis:    RedisConfig{URL: "localhost:6379"},
		S3: S3Config{
			Endpoint:   "localhost:9000",
			Bucket:     "efsync",
			PresignTTL: 24 * time.Hour,
		},
		Auth:  AuthConfig{Issuer: "efchat", TokenTTL: 24 * time.Hour},
		Kafka: KafkaConfig{Topic: "messages.created"},
		Retry: RetryConfig{
			MaxAttempts:   3,
			StoreTimeout:  5 * time.Second,
			UploadTimeout: 30 * time.Second,
		},
		RateLimit:   RateLimitConfig{PerSecond: 5, Burst: 20},
		Attachments: AttachmentsConfig{MaxSize: 10 << 20},
		Log:         LogConfig{Level: "info"},
		Tracing:     TracingConfig{ServiceName: "efsync", SampleRatio: 1},
	}
}

// Load reads the file at path, or the first default location that exists
// when path is empty, then applies environment overrides. A missing default
// file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	candidates := defaultPaths
	if path != "" {
		candidates = []string{path}
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if path == "" && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read config %s: %w", p, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", p, err)
		}
		break
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides settings from the environment. getenv is os.Getenv
// outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"DATABASE_URL":   &c.Database.URL,
		"REDIS_URL":      &c.Redis.URL,
		"JWT_SECRET":     &c.Auth.Secret,
		"JWT_ISSUER":     &c.Auth.Issuer,
		"PORT":           &c.Server.Port,
		"S3_ENDPOINT":    &c.S3.Endpoint,
		"S3_ACCESS_KEY":  &c.S3.AccessKey,
		"S3_SECRET_KEY":  &c.S3.SecretKey,
		"S3_BUCKET":      &c.S3.Bucket,
		"S3_PUBLIC_URL":  &c.S3.PublicURL,
		"KAFKA_BROKERS":  &c.Kafka.Brokers,
		"LOG_LEVEL":      &c.Log.Level,
		"STORAGE_DRIVER": &c.Storage.Driver,

		"OTEL_EXPORTER_OTLP_ENDPOINT": &c.Tracing.Endpoint,
		"OTEL_SERVICE_NAME":           &c.Tracing.ServiceName,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	if raw := strings.TrimSpace(getenv("S3_USE_SSL")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid S3_USE_SSL %q: %w", raw, err)
		}
		c.S3.UseSSL = v
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != DriverMemory && c.Auth.Secret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}
	return nil
}

// StorePolicy is the retry policy for directory and message store calls.
func (c *Config) StorePolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.Timeout = c.Retry.StoreTimeout
	return p
}

// UploadPolicy is the retry policy for object storage calls.
func (c *Config) UploadPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.Timeout = c.Retry.UploadTimeout
	return p
}
