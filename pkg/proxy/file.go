package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/renameio/v2"
)

const configFileMode = 0o644

// JSONFileSyncer writes the blocked route as Caddy JSON for a proxy that
// loads it from disk.
type JSONFileSyncer struct {
	path    string
	routeID string
	page    string
	rules   RuleOptions
	log     *slog.Logger
}

// NewJSONFileSyncer creates a JSONFileSyncer.
func NewJSONFileSyncer(opts Options, log *slog.Logger) *JSONFileSyncer {
	if log == nil {
		log = slog.Default()
	}
	return &JSONFileSyncer{
		path:    opts.ConfigPath,
		routeID: opts.RouteID,
		page:    opts.BlockedPage,
		rules:   RuleOptions{MatchHost: opts.MatchHost, MatchScheme: opts.MatchScheme},
		log:     log,
	}
}

// Mode implements Syncer.
func (j *JSONFileSyncer) Mode() Mode {
	return ModeStaticJSON
}

// Sync implements Syncer.
func (j *JSONFileSyncer) Sync(_ context.Context, urls []string) error {
	data, err := RenderJSON(j.routeID, j.page, BuildRules(urls, j.rules))
	if err != nil {
		return &SyncError{Op: "render json", Err: err}
	}
	if err := renameio.WriteFile(j.path, data, configFileMode); err != nil {
		return &SyncError{Op: "write json", Err: err}
	}
	j.log.Debug("wrote proxy json config", "path", j.path, "rules", len(urls))
	return nil
}

// RenderJSON renders the route the live API would hold after a sync.
func RenderJSON(routeID, page string, rules []Rule) ([]byte, error) {
	data, err := json.MarshalIndent(blockedRoute(routeID, page, MatchSets(rules)), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// CaddyfileSyncer writes a Caddyfile snippet that site blocks import.
type CaddyfileSyncer struct {
	path    string
	routeID string
	page    string
	rules   RuleOptions
	log     *slog.Logger
}

// NewCaddyfileSyncer creates a CaddyfileSyncer.
func NewCaddyfileSyncer(opts Options, log *slog.Logger) *CaddyfileSyncer {
	if log == nil {
		log = slog.Default()
	}
	return &CaddyfileSyncer{
		path:    opts.ConfigPath,
		routeID: opts.RouteID,
		page:    opts.BlockedPage,
		rules:   RuleOptions{MatchHost: opts.MatchHost, MatchScheme: opts.MatchScheme},
		log:     log,
	}
}

// Mode implements Syncer.
func (c *CaddyfileSyncer) Mode() Mode {
	return ModeStaticFile
}

// Sync implements Syncer.
func (c *CaddyfileSyncer) Sync(_ context.Context, urls []string) error {
	data := RenderCaddyfile(c.routeID, c.page, BuildRules(urls, c.rules))
	if err := renameio.WriteFile(c.path, data, configFileMode); err != nil {
		return &SyncError{Op: "write caddyfile", Err: err}
	}
	c.log.Debug("wrote proxy caddyfile", "path", c.path, "rules", len(urls))
	return nil
}

const heredocMarker = "CONTENTFILTER_BLOCKED"

// RenderCaddyfile renders a snippet named after routeID holding one named
// matcher (a CEL expression over host() and path()) and a respond directive
// serving page.
func RenderCaddyfile(routeID, page string, rules []Rule) []byte {
	var b strings.Builder
	b.WriteString("# Generated by contentfilter. Changes will be overwritten.\n")
	fmt.Fprintf(&b, "(%s) {\n", routeID)
	fmt.Fprintf(&b, "\t@%s expression `%s`\n", routeID, celExpression(rules))
	fmt.Fprintf(&b, "\trespond @%s <<%s\n", routeID, heredocMarker)
	for _, line := range strings.Split(strings.TrimRight(page, "\n"), "\n") {
		b.WriteString("\t\t")
		b.WriteString(line)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\t\t%s 200\n", heredocMarker)
	b.WriteString("}\n")
	return []byte(b.String())
}

func celExpression(rules []Rule) string {
	if len(rules) == 0 {
		return fmt.Sprintf("host(%s)", celString(SentinelHost))
	}
	terms := make([]string, 0, len(rules))
	for _, rule := range rules {
		term := fmt.Sprintf("path(%s)", celString(rule.Path))
		if rule.Host != "" {
			term = fmt.Sprintf("(host(%s) && %s)", celString(rule.Host), term)
		}
		terms = append(terms, term)
	}
	return strings.Join(terms, " || ")
}

// celString quotes s for CEL. Backticks delimit the Caddyfile token and have
// no escape there, so they are percent-encoded.
func celString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "`", "%60", "\n", `\n`)
	return "'" + r.Replace(s) + "'"
}

// NopSyncer is used when proxy sync is disabled.
type NopSyncer struct{}

// Mode implements Syncer.
func (NopSyncer) Mode() Mode {
	return ModeDisabled
}

// Sync implements Syncer.
func (NopSyncer) Sync(context.Context, []string) error {
	return nil
}

// New returns the Syncer for opts.Mode.
func New(opts Options, log *slog.Logger) (Syncer, error) {
	switch opts.Mode {
	case ModeLive:
		if opts.AdminURL == "" {
			return nil, fmt.Errorf("%s mode requires an admin url", opts.Mode)
		}
		return NewLiveSyncer(opts, log), nil
	case ModeStaticJSON:
		if opts.ConfigPath == "" {
			return nil, fmt.Errorf("%s mode requires a config path", opts.Mode)
		}
		return NewJSONFileSyncer(opts, log), nil
	case ModeStaticFile:
		if opts.ConfigPath == "" {
			return nil, fmt.Errorf("%s mode requires a config path", opts.Mode)
		}
		return NewCaddyfileSyncer(opts, log), nil
	case ModeDisabled:
		return NopSyncer{}, nil
	}
	return nil, fmt.Errorf("unsupported proxy mode: %q", opts.Mode)
}
