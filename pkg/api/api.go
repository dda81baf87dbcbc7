// Package api serves the admin JSON API used to manage the block-list.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contentfilter/pkg/blocklist"
)

const (
	authRealm     = "contentfilter"
	maxBodySize   = 1 << 20
	maxUploadSize = 16 << 20
)

// Options configures the router.
type Options struct {
	// Prefix mounts every route below a path such as "/filter".
	Prefix         string
	AdminUser      string
	AdminPassword  string
	AllowedOrigins []string
	// Gatherer backs /metrics. The route is omitted when nil.
	Gatherer prometheus.Gatherer
}

// API holds the handlers.
type API struct {
	svc *blocklist.Service
	log *slog.Logger
}

// NewRouter builds the admin HTTP handler.
func NewRouter(svc *blocklist.Service, opts Options, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	a := &API{svc: svc, log: log}

	requestLogger := &httplog.Logger{
		Logger: log,
		Options: httplog.Options{
			LogLevel:        slog.LevelInfo,
			Concise:         true,
			QuietDownRoutes: []string{opts.Prefix + "/healthz", opts.Prefix + "/metrics"},
			QuietDownPeriod: time.Minute,
		},
	}

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	routes := chi.NewRouter()
	routes.Get("/healthz", a.healthz)
	if opts.Gatherer != nil {
		routes.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	routes.Group(func(r chi.Router) {
		r.Use(middleware.BasicAuth(authRealm, map[string]string{opts.AdminUser: opts.AdminPassword}))

		r.Get("/logout", a.logout)
		r.Get("/export/raw.json", a.exportList)
		r.Post("/import", a.importList)
		r.Route("/api", func(r chi.Router) {
			r.Get("/urls", a.listURLs)
			r.Post("/urls", a.addURL)
			r.Put("/urls/{id}", a.editURL)
			r.Delete("/urls/{id}", a.removeURL)
			r.Get("/status", a.status)
			r.Post("/sync", a.resync)
		})
	})

	if opts.Prefix == "" {
		r.Mount("/", routes)
	} else {
		r.Mount(opts.Prefix, routes)
	}
	return r
}
