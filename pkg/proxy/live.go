package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultTimeout = 500 * time.Millisecond

// route is a Caddy HTTP route carrying the block rules.
type route struct {
	ID     string           `json:"@id"`
	Match  []map[string]any `json:"match"`
	Handle []routeHandler   `json:"handle"`
}

type routeHandler struct {
	ID      string `json:"@id"`
	Handler string `json:"handler"`
	Body    string `json:"body"`
}

func blockedRoute(routeID, page string, match []map[string]any) route {
	return route{
		ID:    routeID,
		Match: match,
		Handle: []routeHandler{{
			ID:      routeID + "-handler",
			Handler: "static_response",
			Body:    page,
		}},
	}
}

// LiveSyncer drives a running Caddy through its admin API.
type LiveSyncer struct {
	baseURL    string
	serverName string
	routeID    string
	page       string
	rules      RuleOptions
	client     *http.Client
	log        *slog.Logger

	mu        sync.Mutex
	installed bool
}

// NewLiveSyncer creates a LiveSyncer. Every admin request is bounded by
// opts.Timeout (500ms when unset).
func NewLiveSyncer(opts Options, log *slog.Logger) *LiveSyncer {
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &LiveSyncer{
		baseURL:    strings.TrimRight(opts.AdminURL, "/"),
		serverName: opts.ServerName,
		routeID:    opts.RouteID,
		page:       opts.BlockedPage,
		rules:      RuleOptions{MatchHost: opts.MatchHost, MatchScheme: opts.MatchScheme},
		client:     &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Mode implements Syncer.
func (l *LiveSyncer) Mode() Mode {
	return ModeLive
}

// Setup installs the blocked route unless the proxy already has it.
func (l *LiveSyncer) Setup(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setupLocked(ctx)
}

func (l *LiveSyncer) setupLocked(ctx context.Context) error {
	if l.installed {
		return nil
	}

	status, err := l.do(ctx, http.MethodGet, "/id/"+url.PathEscape(l.routeID), nil)
	if err != nil {
		return &SyncError{Op: "lookup route", Err: err}
	}
	if status == http.StatusOK {
		l.log.Debug("proxy route already installed", "route", l.routeID)
		l.installed = true
		return nil
	}

	path := fmt.Sprintf("/config/apps/http/servers/%s/routes/0", url.PathEscape(l.serverName))
	body := blockedRoute(l.routeID, l.page, []map[string]any{{"host": []string{setupHost}}})
	status, err = l.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return &SyncError{Op: "install route", Err: err}
	}
	if !success(status) {
		return &SyncError{Op: "install route", Status: status}
	}
	l.log.Info("installed proxy route", "route", l.routeID, "server", l.serverName)
	l.installed = true
	return nil
}

// Sync implements Syncer. The whole match list of the route is replaced.
func (l *LiveSyncer) Sync(ctx context.Context, urls []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.setupLocked(ctx); err != nil {
		return err
	}

	match := MatchSets(BuildRules(urls, l.rules))
	status, err := l.do(ctx, http.MethodPatch, "/id/"+url.PathEscape(l.routeID)+"/match/", match)
	if err != nil {
		return &SyncError{Op: "replace rules", Err: err}
	}
	if !success(status) {
		// The proxy may have restarted without our route; install it again next time.
		l.installed = false
		return &SyncError{Op: "replace rules", Status: status}
	}
	l.log.Debug("replaced proxy rules", "route", l.routeID, "rules", len(urls))
	return nil
}

func (l *LiveSyncer) do(ctx context.Context, method, path string, payload any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			l.log.Warn("failed to close proxy response body", "error", err)
		}
	}()

	if !success(resp.StatusCode) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		l.log.Debug("proxy admin request failed", "method", method, "path", path,
			"status", resp.StatusCode, "body", strings.TrimSpace(string(msg)))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func success(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
