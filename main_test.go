package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"contentfilter/internal/testutil"
	"contentfilter/pkg/config"
	"contentfilter/pkg/version"
)

var envNames = []string{
	"CONTENTFILTER_CONFIG", "DATABASE_PATH", "WATCH_STORAGE", "LISTEN", "WEBROOT_PREFIX",
	"REVERSE_PROXY", "FILTER_RESPECTS_HOST", "FILTER_RESPECTS_SCHEME", "CADDY_ADMIN_URL",
	"CADDY_SERVER_NAME", "CADDY_ROUTE_ID", "PROXY_CONFIG_PATH", "PROXY_TIMEOUT",
	"PROXY_RETRY_INTERVAL", "BLOCKED_PAGE", "ADMIN_PASSWORD", "AUTH_SECRET",
	"ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_FILE",
}

// testEnv isolates the process environment and points storage at a temp dir.
func testEnv(t *testing.T) string {
	t.Helper()
	for _, name := range envNames {
		t.Setenv(name, "")
	}
	dir := t.TempDir()
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "urls.json"))
	t.Setenv("LOG_FILE", filepath.Join(dir, "contentfilter.log"))
	t.Setenv("LOG_LEVEL", "debug")
	defaultLogger := slog.Default()
	t.Cleanup(func() { slog.SetDefault(defaultLogger) })
	return dir
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	testEnv(t)
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version.ContentFilterVersion {
		t.Errorf("got %q, want %q", out, version.ContentFilterVersion)
	}
}

func TestImportAndExportCommands(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("REVERSE_PROXY", "disabled")

	source := filepath.Join(dir, "import.json")
	if err := os.WriteFile(source, []byte(`["http://a.test/1", "bad", "http://a.test/1", "http://a.test/2"]`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "import", source)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "imported 2 URLs") {
		t.Errorf("unexpected import output %q", out)
	}

	out, _, err = execute(t, "import", source)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if !strings.Contains(out, "no URL imported") {
		t.Errorf("unexpected second import output %q", out)
	}

	out, _, err = execute(t, "export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	want := "[\n  \"http://a.test/1\",\n  \"http://a.test/2\"\n]\n"
	if out != want {
		t.Errorf("export = %q, want %q", out, want)
	}

	notList := filepath.Join(dir, "object.json")
	if err := os.WriteFile(notList, []byte(`{"urls": []}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, stderr, err := execute(t, "import", notList); err == nil || !strings.Contains(stderr, "not a list") {
		t.Errorf("import of an object should fail, got err=%v stderr=%q", err, stderr)
	}
}

func TestCorruptStoreRefusesToStart(t *testing.T) {
	testEnv(t)
	t.Setenv("REVERSE_PROXY", "disabled")
	if err := os.WriteFile(os.Getenv("DATABASE_PATH"), []byte(`{"not": "a list"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	_, stderr, err := execute(t, "export")
	if err == nil {
		t.Fatal("expected an error for a corrupt block-list file")
	}
	if !strings.Contains(stderr, "refusing to start") {
		t.Errorf("stderr should explain the refusal, got %q", stderr)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	testEnv(t)
	t.Setenv("REVERSE_PROXY", "nginx")
	if _, stderr, err := execute(t, "export"); err == nil || !strings.Contains(stderr, "load config") {
		t.Errorf("expected a config error, got err=%v stderr=%q", err, stderr)
	}
}

func TestSyncCommandLive(t *testing.T) {
	testEnv(t)
	stub := testutil.StartCaddyStub(t)
	t.Setenv("REVERSE_PROXY", "caddy_live")
	t.Setenv("CADDY_ADMIN_URL", stub.URL)
	t.Setenv("CADDY_SERVER_NAME", "srv0")
	t.Setenv("FILTER_RESPECTS_HOST", "yes")
	if err := os.WriteFile(os.Getenv("DATABASE_PATH"), []byte(`["https://Example.COM:8443/x"]`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "sync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.Contains(out, "pushed 1 URLs") {
		t.Errorf("unexpected sync output %q", out)
	}
	match, ok := stub.Match("cfrules")
	if !ok {
		t.Fatal("route was not installed")
	}
	if got := string(match); got != `[{"host":["example.com"],"path":["/x"]}]` {
		t.Errorf("match = %s", got)
	}

	stub.FailWith(http.StatusInternalServerError)
	if _, _, err := execute(t, "sync"); err == nil {
		t.Error("sync should fail when the proxy rejects the rules")
	}
}

func TestServe(t *testing.T) {
	dir := testEnv(t)
	caddyfile := filepath.Join(dir, "blocked.caddy")
	t.Setenv("REVERSE_PROXY", "caddyfile")
	t.Setenv("PROXY_CONFIG_PATH", caddyfile)
	t.Setenv("LISTEN", "127.0.0.1:0")
	t.Setenv("WEBROOT_PREFIX", "filter")
	t.Setenv("ADMIN_PASSWORD", "secret")

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	a, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.serve(ctx, func(addr string) { addrCh <- addr })
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-errCh:
		t.Fatalf("serve: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	content, err := os.ReadFile(caddyfile)
	if err != nil {
		t.Fatalf("startup sync should write the Caddyfile: %v", err)
	}
	if !strings.Contains(string(content), "host('test.blocked')") {
		t.Errorf("empty list should render the sentinel, got:\n%s", content)
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/filter/api/urls",
		strings.NewReader(`{"url": "http://a.test/blocked"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.SetBasicAuth(config.AdminUser, "secret")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("add request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add returned %d", resp.StatusCode)
	}

	content, err = os.ReadFile(caddyfile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "path('/blocked')") {
		t.Errorf("Caddyfile should block the new path, got:\n%s", content)
	}

	if err := os.WriteFile(cfg.Storage.Path, []byte(`["http://a.test/edited"]`), 0o600); err != nil {
		t.Fatal(err)
	}
	a.reload(ctx)
	content, err = os.ReadFile(caddyfile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "path('/edited')") {
		t.Errorf("reload should resync the proxy, got:\n%s", content)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("serve returned %v after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
