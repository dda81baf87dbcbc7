// Package proxy pushes the block-list into a Caddy reverse proxy, either
// through its admin API or by rewriting a configuration file it watches.
package proxy

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mode selects how the block-list reaches the proxy.
type Mode string

const (
	ModeLive       Mode = "live-api"
	ModeStaticJSON Mode = "static-json"
	ModeStaticFile Mode = "static-config-file"
	ModeDisabled   Mode = "disabled"
)

// modeAliases maps the historical REVERSE_PROXY values to modes.
var modeAliases = map[string]Mode{
	"caddy_live": ModeLive,
	"caddy_json": ModeStaticJSON,
	"caddyfile":  ModeStaticFile,
	"none":       ModeDisabled,
	"off":        ModeDisabled,
}

// ParseMode accepts a mode name or one of its aliases, case-insensitively.
func ParseMode(raw string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch Mode(name) {
	case ModeLive, ModeStaticJSON, ModeStaticFile, ModeDisabled:
		return Mode(name), nil
	}
	if mode, ok := modeAliases[name]; ok {
		return mode, nil
	}
	return "", fmt.Errorf("invalid proxy mode: %s (must be one of: %s, %s, %s, %s)",
		raw, ModeLive, ModeStaticJSON, ModeStaticFile, ModeDisabled)
}

// Syncer replaces the proxy's block rules with rules derived from urls.
// Implementations always push the complete list.
type Syncer interface {
	Sync(ctx context.Context, urls []string) error
	Mode() Mode
}

// Options configures the proxy side of the service.
type Options struct {
	Mode          Mode
	MatchHost     bool
	MatchScheme   bool
	AdminURL      string
	ServerName    string
	RouteID       string
	ConfigPath    string
	Timeout       time.Duration
	RetryInterval time.Duration
	BlockedPage   string
}

// SyncError wraps a failed push to the proxy.
type SyncError struct {
	Op     string
	Status int
	Err    error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("proxy sync %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("proxy sync %s: unexpected status %d", e.Op, e.Status)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
