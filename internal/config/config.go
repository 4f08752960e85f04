/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the gateway's YAML configuration file into a typed
// structure, applying defaults and allowing environment-variable overrides
// of the shape GATEWAY_<SECTION>_<FIELD>.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	StdioEnable bool   `yaml:"stdio_enabled"`
}

type PolicyConfig struct {
	DefaultBundlePath string `yaml:"default_bundle_path"`
	RequireSignature  bool   `yaml:"require_signature"`
	PubkeyB64         string `yaml:"pubkey_b64"`
	StoreDir          string `yaml:"store_dir"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type SQLConfig struct {
	DSN string `yaml:"dsn"`
}

type AuthConfig struct {
	Issuer         string `yaml:"issuer"`
	Audience       string `yaml:"audience"`
	JWKSURL        string `yaml:"jwks_url"`
	DevHS256Secret string `yaml:"dev_hs256_secret"`
}

type WebhookConfig struct {
	SigningSecret string        `yaml:"signing_secret"`
	Tolerance     time.Duration `yaml:"tolerance"`
}

type SignedURLConfig struct {
	Secret    string        `yaml:"secret"`
	Tolerance time.Duration `yaml:"tolerance"`
}

type ApprovalWaitConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Policy       PolicyConfig       `yaml:"policy"`
	Redis        RedisConfig        `yaml:"redis"`
	SQL          SQLConfig          `yaml:"sql"`
	Auth         AuthConfig         `yaml:"auth"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	SignedURL    SignedURLConfig    `yaml:"signed_url"`
	ApprovalWait ApprovalWaitConfig `yaml:"approval_wait"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: ":8443", StdioEnable: false},
		Policy: PolicyConfig{
			DefaultBundlePath: "__builtin__",
			RequireSignature:  false,
			StoreDir:          "/var/lib/toolgateway/bundles",
		},
		Redis:        RedisConfig{Addr: "localhost:6379", DB: 0},
		Webhook:      WebhookConfig{Tolerance: 300 * time.Second},
		SignedURL:    SignedURLConfig{Tolerance: 300 * time.Second},
		ApprovalWait: ApprovalWaitConfig{DefaultTimeout: 0},
		Logging:      LoggingConfig{Level: "info", Format: "json"},
		Tracing:      TracingConfig{Enabled: false, ServiceName: "toolgateway"},
	}
}

// Load reads the YAML file at path on top of the defaults (a field the file
// does not set keeps its default), layers GATEWAY_* environment overrides on
// top, and validates required fields.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.SQL.DSN == "" {
		return fmt.Errorf("sql.dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	return nil
}

// applyEnvOverrides overlays a small, explicit set of environment variables
// on top of the file-loaded config. Only the fields operators most commonly
// need to override per-deployment (secrets, connection strings) are wired;
// everything else belongs in the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("GATEWAY_SERVER_HTTP_ADDR"); ok {
		cfg.Server.HTTPAddr = v
	}
	if v, ok := os.LookupEnv("GATEWAY_SQL_DSN"); ok {
		cfg.SQL.DSN = v
	}
	if v, ok := os.LookupEnv("GATEWAY_REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("GATEWAY_POLICY_PUBKEY_B64"); ok {
		cfg.Policy.PubkeyB64 = v
	}
	if v, ok := os.LookupEnv("GATEWAY_POLICY_REQUIRE_SIGNATURE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Policy.RequireSignature = b
		}
	}
	if v, ok := os.LookupEnv("GATEWAY_AUTH_JWKS_URL"); ok {
		cfg.Auth.JWKSURL = v
	}
	if v, ok := os.LookupEnv("GATEWAY_AUTH_DEV_HS256_SECRET"); ok {
		cfg.Auth.DevHS256Secret = v
	}
	if v, ok := os.LookupEnv("GATEWAY_WEBHOOK_SIGNING_SECRET"); ok {
		cfg.Webhook.SigningSecret = v
	}
	if v, ok := os.LookupEnv("GATEWAY_SIGNED_URL_SECRET"); ok {
		cfg.SignedURL.Secret = v
	}
	if v, ok := os.LookupEnv("GATEWAY_LOGGING_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
