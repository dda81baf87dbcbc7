package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"contentfilter/pkg/api"
	"contentfilter/pkg/blocklist"
	"contentfilter/pkg/config"
	"contentfilter/pkg/notify"
	"contentfilter/pkg/proxy"
	"contentfilter/pkg/server"
	"contentfilter/pkg/store"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired components of one process.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	reg     *prometheus.Registry
	store   *store.Store
	tracker *proxy.Tracker
	svc     *blocklist.Service
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	s, err := store.Open(cfg.Storage.Path, log)
	if err != nil {
		var corrupt *store.CorruptError
		if errors.As(err, &corrupt) {
			return nil, fmt.Errorf("refusing to start: block-list file %s is not a JSON list of URLs, fix or remove it: %w",
				corrupt.Path, err)
		}
		return nil, fmt.Errorf("open block-list: %w", err)
	}

	page, err := proxy.LoadBlockedPage(cfg.Proxy.BlockedPage)
	if err != nil {
		return nil, err
	}
	syncer, err := proxy.New(cfg.ProxyOptions(page), log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tracker := proxy.NewTracker(syncer, cfg.Proxy.RetryInterval, proxy.NewMetrics(reg), log)
	notifier := notify.New(tracker, s, log)

	return &app{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		store:   s,
		tracker: tracker,
		svc:     blocklist.NewService(s, notifier, tracker, reg, log),
	}, nil
}

func (a *app) apiOptions() api.Options {
	return api.Options{
		Prefix:         a.cfg.Server.Prefix,
		AdminUser:      config.AdminUser,
		AdminPassword:  a.cfg.Auth.AdminPassword,
		AllowedOrigins: a.cfg.Auth.AllowedOrigins,
		Gatherer:       a.reg,
	}
}

// serve runs the admin server until ctx is done. ready, when set, receives
// the bound address once the listener is up.
func (a *app) serve(ctx context.Context, ready func(addr string)) error {
	if a.cfg.Auth.PasswordGenerated {
		a.log.Warn("no admin password configured, generated one for this run",
			"user", config.AdminUser, "password", a.cfg.Auth.AdminPassword)
	}
	if a.cfg.Proxy.MatchScheme {
		a.log.Warn("scheme matching is enabled but not applied to proxy rules; entries match on host and path only")
	}
	a.log.Info("block-list loaded", "path", a.store.Path(), "entries", a.store.Len(), "proxy_mode", a.tracker.Mode())

	a.svc.Startup(ctx)

	srv := server.New(a.cfg.Server.Listen, api.NewRouter(a.svc, a.apiOptions(), a.log), a.log)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start admin server: %w", err)
	}
	if ready != nil {
		ready(srv.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Wait)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	a.tracker.Start(gctx, a.store)

	if a.cfg.Storage.Watch {
		g.Go(func() error {
			return a.store.Watch(gctx, func() {
				if err := a.svc.Resync(gctx, "file change"); err != nil {
					a.log.Warn("resync after external edit failed", "error", err)
				}
			})
		})
	}

	return g.Wait()
}

// reload re-reads the storage file, as done on SIGHUP.
func (a *app) reload(ctx context.Context) {
	a.log.Info("reloading block-list", "path", a.store.Path())
	if err := a.svc.Reload(ctx); err != nil {
		a.log.Error("failed to reload block-list", "error", err)
		return
	}
	a.log.Info("successfully reloaded block-list", "entries", a.store.Len())
}

// runUntilSignal serves until SIGINT or SIGTERM and reloads on SIGHUP.
func (a *app) runUntilSignal(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigChan:
				switch sig {
				case syscall.SIGHUP:
					a.log.Info("received SIGHUP signal, reloading block-list")
					a.reload(ctx)
				case syscall.SIGINT, syscall.SIGTERM:
					a.log.Info("received shutdown signal", "signal", sig)
					cancel()
					return
				}
			}
		}
	}()

	return a.serve(ctx, nil)
}
