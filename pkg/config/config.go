// Package config loads configuration for the content-filter admin service.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"contentfilter/pkg/proxy"
)

const configEnvVar = "CONTENTFILTER_CONFIG"

const (
	// AdminUser is the fixed user name of the admin API.
	AdminUser = "admin"

	defaultAllowedOrigins = "http://localhost|http://localhost:8000|http://localhost:8080"
	defaultJSONPath       = "contentfilter.json"
	defaultCaddyfilePath  = "contentfilter.caddy"
)

// Config contains all runtime options of the service.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StorageConfig holds block-list file settings.
type StorageConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	Prefix string `mapstructure:"prefix"`
}

// ProxyConfig holds reverse proxy sync settings.
type ProxyConfig struct {
	Mode          proxy.Mode    `mapstructure:"mode"`
	MatchHost     bool          `mapstructure:"match_host"`
	MatchScheme   bool          `mapstructure:"match_scheme"`
	AdminURL      string        `mapstructure:"admin_url"`
	ServerName    string        `mapstructure:"server_name"`
	RouteID       string        `mapstructure:"route_id"`
	ConfigPath    string        `mapstructure:"config_path"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	BlockedPage   string        `mapstructure:"blocked_page"`
}

// AuthConfig holds admin API credentials and browser origins.
type AuthConfig struct {
	AdminPassword  string   `mapstructure:"admin_password"`
	Secret         string   `mapstructure:"secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// PasswordGenerated is set when no admin password was configured and a
	// random one was picked.
	PasswordGenerated bool `mapstructure:"-"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// ProxyOptions converts the proxy section into syncer options. page is the
// rendered blocked page served by the proxy.
func (c *Config) ProxyOptions(page string) proxy.Options {
	return proxy.Options{
		Mode:          c.Proxy.Mode,
		MatchHost:     c.Proxy.MatchHost,
		MatchScheme:   c.Proxy.MatchScheme,
		AdminURL:      c.Proxy.AdminURL,
		ServerName:    c.Proxy.ServerName,
		RouteID:       c.Proxy.RouteID,
		ConfigPath:    c.Proxy.ConfigPath,
		Timeout:       c.Proxy.Timeout,
		RetryInterval: c.Proxy.RetryInterval,
		BlockedPage:   page,
	}
}

// envBindings maps config keys to the environment variables read for them.
var envBindings = map[string]string{
	"storage.path":         "DATABASE_PATH",
	"storage.watch":        "WATCH_STORAGE",
	"server.listen":        "LISTEN",
	"server.prefix":        "WEBROOT_PREFIX",
	"proxy.mode":           "REVERSE_PROXY",
	"proxy.match_host":     "FILTER_RESPECTS_HOST",
	"proxy.match_scheme":   "FILTER_RESPECTS_SCHEME",
	"proxy.admin_url":      "CADDY_ADMIN_URL",
	"proxy.server_name":    "CADDY_SERVER_NAME",
	"proxy.route_id":       "CADDY_ROUTE_ID",
	"proxy.config_path":    "PROXY_CONFIG_PATH",
	"proxy.timeout":        "PROXY_TIMEOUT",
	"proxy.retry_interval": "PROXY_RETRY_INTERVAL",
	"proxy.blocked_page":   "BLOCKED_PAGE",
	"auth.admin_password":  "ADMIN_PASSWORD",
	"auth.secret":          "AUTH_SECRET",
	"auth.allowed_origins": "ALLOWED_ORIGINS",
	"logging.level":        "LOG_LEVEL",
	"logging.file":         "LOG_FILE",
}

// flagBindings maps command line flags to config keys.
var flagBindings = map[string]string{
	"database":   "storage.path",
	"listen":     "server.listen",
	"prefix":     "server.prefix",
	"proxy-mode": "proxy.mode",
	"log-level":  "logging.level",
	"log-file":   "logging.file",
}

// ValidateLogLevel ensures the user-provided log level matches the supported set.
func ValidateLogLevel(level string) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", level)
	}
	return nil
}

// ValidateListen confirms that addr is a host:port pair with a usable TCP
// port. The host may be empty to listen on all interfaces.
func ValidateListen(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format %s: %w", addr, err)
	}
	if port == "" {
		return errors.New("invalid port")
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		return fmt.Errorf("invalid IP address: %s", host)
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return fmt.Errorf("invalid port: %s", port)
	}
	return nil
}

// NormalizePrefix turns a web root prefix into "" or "/segment" form.
func NormalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}

// IsYes reports whether raw is one of the accepted spellings of "on".
func IsYes(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y", "yes", "1", "on", "true":
		return true
	}
	return false
}

// Load reads the optional TOML file, the environment and any flags that were
// set on the command line. path overrides CONTENTFILTER_CONFIG; when both are
// empty only defaults, environment and flags apply.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv(configEnvVar))
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if flags != nil {
		for name, key := range flagBindings {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("bind --%s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToBoolHook(),
		stringToModeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc("|"),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.path", "urls.json")
	v.SetDefault("storage.watch", false)
	v.SetDefault("server.listen", ":8000")
	v.SetDefault("server.prefix", "")
	v.SetDefault("proxy.mode", string(proxy.ModeStaticFile))
	v.SetDefault("proxy.match_host", false)
	v.SetDefault("proxy.match_scheme", false)
	v.SetDefault("proxy.route_id", "cfrules")
	v.SetDefault("proxy.server_name", "srv0")
	v.SetDefault("proxy.timeout", "500ms")
	v.SetDefault("proxy.retry_interval", "30s")
	v.SetDefault("auth.allowed_origins", defaultAllowedOrigins)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "stdout")
}

func stringToBoolHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
			return data, nil
		}
		return IsYes(data.(string)), nil
	}
}

func stringToModeHook() mapstructure.DecodeHookFuncType {
	modeType := reflect.TypeOf(proxy.Mode(""))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != modeType {
			return data, nil
		}
		return proxy.ParseMode(data.(string))
	}
}

func validateConfig(cfg *Config) error {
	if err := ValidateLogLevel(cfg.Logging.Level); err != nil {
		return err
	}

	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	if cfg.Storage.Path == "" {
		return errors.New("storage.path is required")
	}

	if err := ValidateListen(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}
	cfg.Server.Prefix = NormalizePrefix(cfg.Server.Prefix)

	if err := validateProxy(&cfg.Proxy); err != nil {
		return err
	}

	if cfg.Auth.AdminPassword == "" {
		password, err := randomHex(4)
		if err != nil {
			return fmt.Errorf("generate admin password: %w", err)
		}
		cfg.Auth.AdminPassword = password
		cfg.Auth.PasswordGenerated = true
	}
	if cfg.Auth.Secret == "" {
		secret, err := randomHex(24)
		if err != nil {
			return fmt.Errorf("generate auth secret: %w", err)
		}
		cfg.Auth.Secret = secret
	}
	cfg.Auth.AllowedOrigins = cleanOrigins(cfg.Auth.AllowedOrigins)

	return nil
}

func validateProxy(p *ProxyConfig) error {
	p.AdminURL = strings.TrimRight(strings.TrimSpace(p.AdminURL), "/")
	p.ServerName = strings.TrimSpace(p.ServerName)
	p.RouteID = strings.TrimSpace(p.RouteID)

	if p.Timeout <= 0 {
		return errors.New("proxy.timeout must be > 0")
	}
	if p.RetryInterval < 0 {
		return errors.New("proxy.retry_interval must be >= 0")
	}

	switch p.Mode {
	case proxy.ModeLive:
		if p.AdminURL == "" {
			return errors.New("proxy.admin_url is required in live-api mode")
		}
		u, err := url.Parse(p.AdminURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid proxy.admin_url: %s", p.AdminURL)
		}
		if p.ServerName == "" {
			return errors.New("proxy.server_name is required in live-api mode")
		}
	case proxy.ModeStaticJSON:
		if p.ConfigPath == "" {
			p.ConfigPath = defaultJSONPath
		}
	case proxy.ModeStaticFile:
		if p.ConfigPath == "" {
			p.ConfigPath = defaultCaddyfilePath
		}
	case proxy.ModeDisabled:
	default:
		return fmt.Errorf("invalid proxy.mode: %q", p.Mode)
	}

	if p.Mode != proxy.ModeDisabled && p.RouteID == "" {
		return errors.New("proxy.route_id is required")
	}

	if p.BlockedPage != "" {
		if _, err := os.Stat(p.BlockedPage); err != nil {
			return fmt.Errorf("proxy.blocked_page not accessible: %w", err)
		}
	}
	return nil
}

func cleanOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
