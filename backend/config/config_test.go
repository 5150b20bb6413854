// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORAGE_DRIVER", "")
	path := writeConfig(t, `
storage:
  driver: memory
retry:
  max_attempts: 5
  store_timeout: 2s
rate_limit:
  per_second: 1.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("expected memory driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.StoreTimeout != 2*time.Second {
		t.Errorf("unexpected retry config %+v", cfg.Retry)
	}
	if cfg.Retry.UploadTimeout != 30*time.Second {
		t.Errorf("expected default upload timeout, got %v", cfg.Retry.UploadTimeout)
	}
	if cfg.RateLimit.PerSecond != 1.5 || cfg.RateLimit.Burst != 20 {
		t.Errorf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.Server.Port != "8081" {
		t.Errorf("expected default port, got %s", cfg.Server.Port)
	}

	p := cfg.StorePolicy()
	if p.MaxAttempts != 5 || p.Timeout != 2*time.Second {
		t.Errorf("unexpected store policy %+v", p)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "retry: [\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"DATABASE_URL":   "postgres://db/efsync",
		"REDIS_URL":      "redis://cache:6379/1",
		"JWT_SECRET":     "s3cret",
		"PORT":           "9000",
		"S3_BUCKET":      "media",
		"S3_USE_SSL":     "true",
		"KAFKA_BROKERS":  "k1:9092,k2:9092",
		"STORAGE_DRIVER": "memory",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Database.URL != "postgres://db/efsync" || cfg.Redis.URL != "redis://cache:6379/1" {
		t.Errorf("unexpected connection settings %+v %+v", cfg.Database, cfg.Redis)
	}
	if cfg.Auth.Secret != "s3cret" || cfg.Auth.Issuer != "efchat" {
		t.Errorf("unexpected auth %+v", cfg.Auth)
	}
	if cfg.Server.Port != "9000" || cfg.S3.Bucket != "media" || !cfg.S3.UseSSL {
		t.Errorf("unexpected overrides %+v %+v", cfg.Server, cfg.S3)
	}
	if cfg.Kafka.Brokers != "k1:9092,k2:9092" || cfg.Storage.Driver != DriverMemory {
		t.Errorf("unexpected overrides %+v %+v", cfg.Kafka, cfg.Storage)
	}

	if err := cfg.ApplyEnv(env(map[string]string{"S3_USE_SSL": "maybe"})); err == nil {
		t.Error("expected error for invalid S3_USE_SSL")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"postgres needs secret", func(c *Config) {}, "JWT_SECRET"},
		{"memory without secret", func(c *Config) { c.Storage.Driver = DriverMemory }, ""},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo"; c.Auth.Secret = "x" }, "unknown storage driver"},
		{"zero attempts", func(c *Config) { c.Auth.Secret = "x"; c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"sample ratio", func(c *Config) { c.Auth.Secret = "x"; c.Tracing.SampleRatio = 2 }, "sample_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
