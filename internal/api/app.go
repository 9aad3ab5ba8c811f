package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cookieguard/cookieguard/internal/auth"
	"github.com/cookieguard/cookieguard/internal/config"
	"github.com/cookieguard/cookieguard/internal/cookie"
	"github.com/cookieguard/cookieguard/internal/denylist"
	"github.com/cookieguard/cookieguard/internal/metrics"
	"github.com/cookieguard/cookieguard/internal/whitelist"
	"github.com/cookieguard/cookieguard/pkg/ratelimit"
	"github.com/go-chi/chi/v5"
)

type App struct {
	cfg      *config.Config
	lists    *whitelist.Set
	denylist *denylist.Pending
	loader   *denylist.Loader
	watcher  *denylist.Watcher
	policy   *cookie.Policy
	metrics  *metrics.Collector

	apiKeyAuth *auth.APIKeyAuth
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

// Deps are the components an App serves.
type Deps struct {
	Lists      *whitelist.Set
	Loader     *denylist.Loader
	Denylist   *denylist.Pending
	Watcher    *denylist.Watcher // nil when the denylist file is not watched
	Policy     *cookie.Policy
	Metrics    *metrics.Collector
	APIKeyAuth *auth.APIKeyAuth
	Limiter    *ratelimit.Limiter // nil disables rate limiting
	Logger     *slog.Logger
}

func NewApp(cfg *config.Config, d Deps) *App {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &App{
		cfg:        cfg,
		lists:      d.Lists,
		denylist:   d.Denylist,
		loader:     d.Loader,
		watcher:    d.Watcher,
		policy:     d.Policy,
		metrics:    d.Metrics,
		apiKeyAuth: d.APIKeyAuth,
		limiter:    d.Limiter,
		logger:     logger,
	}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(a.requestIDMiddleware)

	r.Get(a.cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	r.Get(a.cfg.Health.ReadinessPath, a.ready)
	if a.cfg.Metrics.Enabled && a.metrics != nil {
		opts := metrics.HandlerOptions{
			DenylistSize:   a.denylistSize,
			DenylistReady:  a.denylistReady,
			WhitelistSizes: a.whitelistSizes,
		}
		if a.limiter != nil {
			opts.RateLimitClients = a.limiter.Clients
		}
		r.Method(http.MethodGet, a.cfg.Metrics.Path, a.metrics.Handler(opts))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if a.limiter != nil {
			r.Use(a.limiter.Middleware)
		}
		r.Use(a.authMiddleware)

		r.Get("/lists", a.listLists)
		r.Post("/lists/reload", a.reloadAll)
		r.Get("/lists/{list}/domains", a.listDomains)
		r.Post("/lists/{list}/domains", a.addDomain)
		r.Delete("/lists/{list}/domains", a.clearDomains)
		r.Delete("/lists/{list}/domains/{domain}", a.removeDomain)
		r.Post("/lists/{list}/reload", a.reloadList)
		r.Get("/lists/{list}/check", a.checkURL)

		r.Get("/denylist", a.denylistLookup)
		r.Get("/decide", a.decide)
	})

	return r
}

func (a *App) ready(w http.ResponseWriter, r *http.Request) {
	if !a.denylistReady() {
		writeText(w, http.StatusServiceUnavailable, "loading\n")
		return
	}
	writeText(w, http.StatusOK, "ready\n")
}

func (a *App) authMiddleware(next http.Handler) http.Handler {
	if strings.EqualFold(a.cfg.Auth.Type, "none") {
		return next
	}
	if strings.EqualFold(a.cfg.Auth.Type, "api_key") {
		if a.apiKeyAuth == nil {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"error": "api key auth enabled but keys not loaded",
				})
			})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := a.apiKeyAuth.RoleForKey(r.Header.Get(a.apiKeyAuth.HeaderName()))
			if role == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			if r.Method != http.MethodGet && r.Method != http.MethodHead && !auth.CanWrite(role) {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unsupported auth type"})
	})
}

func (a *App) denylistReady() bool {
	return a.denylist == nil || a.denylist.Ready()
}

func (a *App) denylistSize() int {
	if a.loader == nil {
		return 0
	}
	return a.loader.Set().Size()
}

func (a *App) whitelistSizes() map[string]int {
	out := make(map[string]int)
	if a.lists == nil {
		return out
	}
	for _, name := range a.lists.Names() {
		if m, err := a.lists.Get(name); err == nil {
			out[name] = m.Len()
		}
	}
	return out
}

// writeError maps whitelist errors to HTTP statuses.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, whitelist.ErrUnknownList):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, whitelist.ErrEmptyDomain):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	default:
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
