package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"contentfilter/pkg/proxy"
)

func TestValidateLogLevel(t *testing.T) {
	validLevels := []string{"debug", "info", "warn", "error", "DEBUG", "INFO", "WARN", "ERROR"}
	for _, level := range validLevels {
		if err := ValidateLogLevel(level); err != nil {
			t.Errorf("ValidateLogLevel(%s) returned error: %v", level, err)
		}
	}

	invalidLevels := []string{"", "trace", "fatal", "invalid", "debugging"}
	for _, level := range invalidLevels {
		if err := ValidateLogLevel(level); err == nil {
			t.Errorf("ValidateLogLevel(%s) should return error", level)
		}
	}
}

func TestValidateListen(t *testing.T) {
	validAddresses := []string{
		":8000",
		"127.0.0.1:8000",
		"0.0.0.0:80",
		"localhost:8080",
		"[::1]:8000",
	}
	for _, addr := range validAddresses {
		if err := ValidateListen(addr); err != nil {
			t.Errorf("ValidateListen(%s) returned error: %v", addr, err)
		}
	}

	invalidAddresses := []string{
		"127.0.0.1",          // no port
		"example.com:80",     // not IP
		"256.256.256.256:80", // invalid IP
		"127.0.0.1:999999",   // invalid port
		"127.0.0.1:",         // missing port
	}
	for _, addr := range invalidAddresses {
		if err := ValidateListen(addr); err == nil {
			t.Errorf("ValidateListen(%s) should return error", addr)
		}
	}
}

func TestNormalizePrefix(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"/", ""},
		{"filter", "/filter"},
		{"/filter/", "/filter"},
		{" /admin/filter ", "/admin/filter"},
	}

	for _, tt := range tests {
		if got := NormalizePrefix(tt.input); got != tt.expected {
			t.Errorf("NormalizePrefix(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestIsYes(t *testing.T) {
	for _, raw := range []string{"Y", "y", "1", "yes", "YES", "on", "On", "true"} {
		if !IsYes(raw) {
			t.Errorf("IsYes(%q) = false, want true", raw)
		}
	}
	for _, raw := range []string{"", "n", "0", "no", "off", "false", "enabled"} {
		if IsYes(raw) {
			t.Errorf("IsYes(%q) = true, want false", raw)
		}
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(configEnvVar, "")
	for _, env := range envBindings {
		t.Setenv(env, "")
		if err := os.Unsetenv(env); err != nil {
			t.Fatalf("os.Unsetenv: %v", err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Path != "urls.json" {
		t.Errorf("Storage.Path = %q, want urls.json", cfg.Storage.Path)
	}
	if cfg.Proxy.Mode != proxy.ModeStaticFile {
		t.Errorf("Proxy.Mode = %q, want %q", cfg.Proxy.Mode, proxy.ModeStaticFile)
	}
	if cfg.Proxy.ConfigPath != defaultCaddyfilePath {
		t.Errorf("Proxy.ConfigPath = %q, want %q", cfg.Proxy.ConfigPath, defaultCaddyfilePath)
	}
	if cfg.Proxy.Timeout != 500*time.Millisecond {
		t.Errorf("Proxy.Timeout = %v, want 500ms", cfg.Proxy.Timeout)
	}
	if cfg.Proxy.MatchHost || cfg.Proxy.MatchScheme {
		t.Error("host and scheme matching should default to off")
	}
	if len(cfg.Auth.AllowedOrigins) != 3 || cfg.Auth.AllowedOrigins[0] != "http://localhost" {
		t.Errorf("AllowedOrigins = %v", cfg.Auth.AllowedOrigins)
	}
	if !cfg.Auth.PasswordGenerated || len(cfg.Auth.AdminPassword) != 8 {
		t.Errorf("expected a generated 8 character password, got %q", cfg.Auth.AdminPassword)
	}
	if cfg.Auth.Secret == "" {
		t.Error("expected a generated auth secret")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_PATH", "/data/urls.json")
	t.Setenv("WEBROOT_PREFIX", "/filter/")
	t.Setenv("REVERSE_PROXY", "caddy_live")
	t.Setenv("FILTER_RESPECTS_HOST", "Y")
	t.Setenv("FILTER_RESPECTS_SCHEME", "no")
	t.Setenv("CADDY_ADMIN_URL", "http://localhost:2019/")
	t.Setenv("CADDY_SERVER_NAME", "web")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example|https://b.example")
	t.Setenv("ADMIN_PASSWORD", "hunter2")
	t.Setenv("PROXY_TIMEOUT", "2s")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Path != "/data/urls.json" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Server.Prefix != "/filter" {
		t.Errorf("Server.Prefix = %q", cfg.Server.Prefix)
	}
	if cfg.Proxy.Mode != proxy.ModeLive {
		t.Errorf("Proxy.Mode = %q", cfg.Proxy.Mode)
	}
	if !cfg.Proxy.MatchHost || cfg.Proxy.MatchScheme {
		t.Errorf("MatchHost = %v, MatchScheme = %v", cfg.Proxy.MatchHost, cfg.Proxy.MatchScheme)
	}
	if cfg.Proxy.AdminURL != "http://localhost:2019" {
		t.Errorf("Proxy.AdminURL = %q", cfg.Proxy.AdminURL)
	}
	if cfg.Proxy.ServerName != "web" {
		t.Errorf("Proxy.ServerName = %q", cfg.Proxy.ServerName)
	}
	if cfg.Proxy.Timeout != 2*time.Second {
		t.Errorf("Proxy.Timeout = %v", cfg.Proxy.Timeout)
	}
	if len(cfg.Auth.AllowedOrigins) != 2 || cfg.Auth.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.Auth.AllowedOrigins)
	}
	if cfg.Auth.AdminPassword != "hunter2" || cfg.Auth.PasswordGenerated {
		t.Errorf("AdminPassword = %q, generated = %v", cfg.Auth.AdminPassword, cfg.Auth.PasswordGenerated)
	}

	opts := cfg.ProxyOptions("<p>blocked</p>")
	if opts.Mode != proxy.ModeLive || opts.BlockedPage != "<p>blocked</p>" || !opts.MatchHost {
		t.Errorf("ProxyOptions = %+v", opts)
	}
}

func TestLoadFromFileAndFlags(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "contentfilter.toml")
	content := []byte(`
[storage]
path = "/srv/urls.json"
watch = true

[proxy]
mode = "static-json"
config_path = "/etc/caddy/blocked.json"
retry_interval = "1m"

[logging]
level = "debug"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen", ":8000", "")
	flags.String("log-level", "info", "")
	if err := flags.Parse([]string{"--listen", "127.0.0.1:9000"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Storage.Watch || cfg.Storage.Path != "/srv/urls.json" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Proxy.Mode != proxy.ModeStaticJSON || cfg.Proxy.ConfigPath != "/etc/caddy/blocked.json" {
		t.Errorf("Proxy = %+v", cfg.Proxy)
	}
	if cfg.Proxy.RetryInterval != time.Minute {
		t.Errorf("Proxy.RetryInterval = %v", cfg.Proxy.RetryInterval)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" {
		t.Errorf("Server.Listen = %q, flag should win", cfg.Server.Listen)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, unchanged flag must not override the file", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"nginx mode", map[string]string{"REVERSE_PROXY": "nginx"}},
		{"unknown mode", map[string]string{"REVERSE_PROXY": "traefik"}},
		{"live without admin url", map[string]string{"REVERSE_PROXY": "caddy_live"}},
		{"live with bad admin url", map[string]string{"REVERSE_PROXY": "live-api", "CADDY_ADMIN_URL": "localhost:2019"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "trace"}},
		{"bad listen", map[string]string{"LISTEN": "nowhere"}},
		{"zero timeout", map[string]string{"PROXY_TIMEOUT": "0s"}},
		{"missing blocked page", map[string]string{"BLOCKED_PAGE": "/does/not/exist.html"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load("", nil); err == nil {
				t.Error("Load should return error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml"), nil); err == nil {
		t.Error("Load should fail for a missing config file")
	}
}
