// Package config handles loading and validation of service configuration.
// Supports both development (env vars, .env) and production (Secret Manager) modes.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort              = "8080"
	defaultEnvironment       = "development"
	defaultLogLevel          = "info"
	defaultBasePath          = "/store"
	defaultSecretName        = "storefront-backend"
	defaultDebounceWindow    = 500 * time.Millisecond
	defaultSubmitLockTimeout = 120 * time.Second
	defaultSessionIdle       = 30 * time.Minute
)

// Config holds all service configuration.
// Environment determines whether backend credentials load from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	SecretName string

	// Backend is the commerce backend the engine talks to.
	Backend BackendConfig

	// Engine settings
	RegionID           string
	DebounceWindow     time.Duration
	SubmitLockTimeout  time.Duration
	SessionIdleTimeout time.Duration

	// RedisURL selects Redis-backed session storage; empty means in-memory.
	RedisURL string
}

// BackendConfig contains the commerce backend connection settings.
// In production, this is loaded from Secret Manager as JSON.
type BackendConfig struct {
	URL               string  `json:"url" yaml:"url"`
	BasePath          string  `json:"base_path,omitempty" yaml:"base_path"`
	PublishableKey    string  `json:"publishable_key,omitempty" yaml:"publishable_key"`
	ChromeTLS         bool    `json:"chrome_tls,omitempty" yaml:"chrome_tls"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second"`
}

// fileConfig mirrors the CONFIG_FILE layout. Durations are strings ("500ms").
type fileConfig struct {
	Port               string        `json:"port" yaml:"port"`
	Environment        string        `json:"environment" yaml:"environment"`
	LogLevel           string        `json:"log_level" yaml:"log_level"`
	RegionID           string        `json:"region_id" yaml:"region_id"`
	DebounceWindow     string        `json:"debounce_window" yaml:"debounce_window"`
	SubmitLockTimeout  string        `json:"submit_lock_timeout" yaml:"submit_lock_timeout"`
	SessionIdleTimeout string        `json:"session_idle_timeout" yaml:"session_idle_timeout"`
	RedisURL           string        `json:"redis_url" yaml:"redis_url"`
	Backend            BackendConfig `json:"backend" yaml:"backend"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Outside production a .env file in the working directory is loaded first;
// variables already set in the environment win.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if os.Getenv("ENVIRONMENT") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", defaultPort),
		Environment: envOrDefault("ENVIRONMENT", defaultEnvironment),
		LogLevel:    envOrDefault("LOG_LEVEL", defaultLogLevel),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		SecretName:  envOrDefault("SECRET_NAME", defaultSecretName),
		RegionID:    os.Getenv("REGION_ID"),
		RedisURL:    os.Getenv("REDIS_URL"),
	}

	var err error
	if cfg.DebounceWindow, err = envDuration("DEBOUNCE_WINDOW", defaultDebounceWindow); err != nil {
		return nil, err
	}
	if cfg.SubmitLockTimeout, err = envDuration("SUBMIT_LOCK_TIMEOUT", defaultSubmitLockTimeout); err != nil {
		return nil, err
	}
	if cfg.SessionIdleTimeout, err = envDuration("SESSION_IDLE_TIMEOUT", defaultSessionIdle); err != nil {
		return nil, err
	}

	if cfg.IsProduction() {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading backend config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON or YAML file, chosen by extension.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg := &Config{
		Port:        withDefault(fc.Port, defaultPort),
		Environment: withDefault(fc.Environment, defaultEnvironment),
		LogLevel:    withDefault(fc.LogLevel, defaultLogLevel),
		RegionID:    fc.RegionID,
		RedisURL:    fc.RedisURL,
		Backend:     fc.Backend,
	}
	if cfg.DebounceWindow, err = parseDuration("debounce_window", fc.DebounceWindow, defaultDebounceWindow); err != nil {
		return nil, err
	}
	if cfg.SubmitLockTimeout, err = parseDuration("submit_lock_timeout", fc.SubmitLockTimeout, defaultSubmitLockTimeout); err != nil {
		return nil, err
	}
	if cfg.SessionIdleTimeout, err = parseDuration("session_idle_timeout", fc.SessionIdleTimeout, defaultSessionIdle); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromSecretManager fetches backend config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret_name}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", c.GCPProject, c.SecretName)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Backend); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	return nil
}

// loadFromEnv reads backend config from individual environment variables.
func (c *Config) loadFromEnv() error {
	c.Backend = BackendConfig{
		URL:            os.Getenv("BACKEND_URL"),
		BasePath:       os.Getenv("BACKEND_BASE_PATH"),
		PublishableKey: os.Getenv("BACKEND_PUBLISHABLE_KEY"),
	}

	if v := os.Getenv("CHROME_TLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing CHROME_TLS: %w", err)
		}
		c.Backend.ChromeTLS = b
	}
	if v := os.Getenv("BACKEND_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing BACKEND_RPS: %w", err)
		}
		c.Backend.RequestsPerSecond = rps
	}
	return nil
}

// IsProduction reports whether the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend url %q", c.Backend.URL)
	}
	if c.Backend.BasePath == "" {
		c.Backend.BasePath = defaultBasePath
	}
	if c.Backend.RequestsPerSecond < 0 {
		return fmt.Errorf("backend requests_per_second must not be negative")
	}
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("debounce window must be positive")
	}
	if c.SubmitLockTimeout <= 0 {
		return fmt.Errorf("submit lock timeout must be positive")
	}
	if c.RedisURL != "" {
		if _, err := url.Parse(c.RedisURL); err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
	}
	return nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	return parseDuration(key, os.Getenv(key), defaultVal)
}

func parseDuration(name, val string, defaultVal time.Duration) (time.Duration, error) {
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return d, nil
}
