package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "PORT", "ENVIRONMENT", "LOG_LEVEL", "GCP_PROJECT", "SECRET_NAME",
		"BACKEND_URL", "BACKEND_BASE_PATH", "BACKEND_PUBLISHABLE_KEY", "CHROME_TLS", "BACKEND_RPS",
		"REGION_ID", "DEBOUNCE_WINDOW", "SUBMIT_LOCK_TIMEOUT", "SESSION_IDLE_TIMEOUT", "REDIS_URL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("BACKEND_URL", "https://shop.example.com")
	t.Setenv("BACKEND_PUBLISHABLE_KEY", "pk_test")
	t.Setenv("CHROME_TLS", "true")
	t.Setenv("BACKEND_RPS", "12.5")
	t.Setenv("REGION_ID", "reg_in")
	t.Setenv("DEBOUNCE_WINDOW", "250ms")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.Backend.URL != "https://shop.example.com" {
		t.Errorf("Backend.URL = %s", cfg.Backend.URL)
	}
	if cfg.Backend.BasePath != "/store" {
		t.Errorf("Backend.BasePath = %s, want /store (default)", cfg.Backend.BasePath)
	}
	if cfg.Backend.PublishableKey != "pk_test" {
		t.Errorf("Backend.PublishableKey = %s", cfg.Backend.PublishableKey)
	}
	if !cfg.Backend.ChromeTLS {
		t.Error("Backend.ChromeTLS = false, want true")
	}
	if cfg.Backend.RequestsPerSecond != 12.5 {
		t.Errorf("Backend.RequestsPerSecond = %v, want 12.5", cfg.Backend.RequestsPerSecond)
	}
	if cfg.RegionID != "reg_in" {
		t.Errorf("RegionID = %s", cfg.RegionID)
	}
	if cfg.DebounceWindow != 250*time.Millisecond {
		t.Errorf("DebounceWindow = %v, want 250ms", cfg.DebounceWindow)
	}
	if cfg.SubmitLockTimeout != 120*time.Second {
		t.Errorf("SubmitLockTimeout = %v, want 2m (default)", cfg.SubmitLockTimeout)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want 30m (default)", cfg.SessionIdleTimeout)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %s", cfg.RedisURL)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad debounce window", "DEBOUNCE_WINDOW", "soon", "parsing DEBOUNCE_WINDOW"},
		{"negative lock timeout", "SUBMIT_LOCK_TIMEOUT", "-1s", "submit lock timeout must be positive"},
		{"bad chrome tls", "CHROME_TLS", "maybe", "parsing CHROME_TLS"},
		{"bad rps", "BACKEND_RPS", "fast", "parsing BACKEND_RPS"},
		{"negative rps", "BACKEND_RPS", "-2", "must not be negative"},
		{"relative backend url", "BACKEND_URL", "shop.example.com", "invalid backend url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("BACKEND_URL", "https://shop.example.com")
			t.Setenv(tt.key, tt.value)

			_, err := Load(context.Background())
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadMissingBackendURL(t *testing.T) {
	clearEnv(t)

	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "backend url is required") {
		t.Errorf("expected backend url error, got: %v", err)
	}
}

func TestLoadProductionRequiresProject(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	_, err := Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "GCP_PROJECT required") {
		t.Errorf("expected GCP_PROJECT error, got: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "config.json",
			content: `{
				"port": "9090",
				"log_level": "debug",
				"region_id": "reg_in",
				"debounce_window": "750ms",
				"backend": {
					"url": "https://file-shop.com",
					"base_path": "/api/store",
					"publishable_key": "pk_file",
					"requests_per_second": 5
				}
			}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `port: "9090"
log_level: debug
region_id: reg_in
debounce_window: 750ms
backend:
  url: https://file-shop.com
  base_path: /api/store
  publishable_key: pk_file
  requests_per_second: 5
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("CONFIG_FILE", writeTemp(t, tt.file, tt.content))

			cfg, err := Load(context.Background())
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}

			if cfg.Port != "9090" {
				t.Errorf("Port = %s, want 9090", cfg.Port)
			}
			if cfg.Environment != "development" {
				t.Errorf("Environment = %s, want development (default)", cfg.Environment)
			}
			if cfg.Backend.URL != "https://file-shop.com" || cfg.Backend.BasePath != "/api/store" {
				t.Errorf("Backend = %+v", cfg.Backend)
			}
			if cfg.Backend.PublishableKey != "pk_file" || cfg.Backend.RequestsPerSecond != 5 {
				t.Errorf("Backend = %+v", cfg.Backend)
			}
			if cfg.DebounceWindow != 750*time.Millisecond {
				t.Errorf("DebounceWindow = %v, want 750ms", cfg.DebounceWindow)
			}
			if cfg.SubmitLockTimeout != 120*time.Second {
				t.Errorf("SubmitLockTimeout = %v, want default", cfg.SubmitLockTimeout)
			}
		})
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"invalid JSON", "config.json", "{invalid json", "parsing config file"},
		{"unknown YAML field", "config.yml", "backend:\n  url: https://a.com\nbakend_url: typo\n", "parsing config file"},
		{"missing backend", "config.json", `{"port": "8081"}`, "backend url is required"},
		{"bad duration", "config.json", `{"backend": {"url": "https://a.com"}, "submit_lock_timeout": "2 minutes"}`, "parsing submit_lock_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("CONFIG_FILE", writeTemp(t, tt.file, tt.content))

			_, err := Load(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	t.Run("file not found", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CONFIG_FILE", "/nonexistent/config.json")
		if _, err := Load(context.Background()); err == nil {
			t.Error("expected error for nonexistent file")
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BACKEND_URL=https://dotenv-shop.com\nPORT=7070\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("PORT", "6060")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend.URL != "https://dotenv-shop.com" {
		t.Errorf("Backend.URL = %s, want value from .env", cfg.Backend.URL)
	}
	if cfg.Port != "6060" {
		t.Errorf("Port = %s, environment must win over .env", cfg.Port)
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("TEST_ENV_VAR", "custom")
	if got := envOrDefault("TEST_ENV_VAR", "default"); got != "custom" {
		t.Errorf("envOrDefault with set var = %q, want custom", got)
	}

	os.Unsetenv("TEST_ENV_VAR_UNSET")
	if got := envOrDefault("TEST_ENV_VAR_UNSET", "default"); got != "default" {
		t.Errorf("envOrDefault with unset var = %q, want default", got)
	}
}

func TestWithDefault(t *testing.T) {
	if got := withDefault("value", "default"); got != "value" {
		t.Errorf("withDefault(value, default) = %q, want value", got)
	}
	if got := withDefault("", "default"); got != "default" {
		t.Errorf("withDefault('', default) = %q, want default", got)
	}
}

func TestIsProduction(t *testing.T) {
	for env, want := range map[string]bool{"production": true, "development": false, "": false} {
		if got := (&Config{Environment: env}).IsProduction(); got != want {
			t.Errorf("IsProduction(%q) = %v, want %v", env, got, want)
		}
	}
}
