// Package server wires the whitelist store, denylist and cookie policy
// behind the HTTP API and runs them until the context is canceled.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cookieguard/cookieguard/internal/api"
	"github.com/cookieguard/cookieguard/internal/auth"
	"github.com/cookieguard/cookieguard/internal/config"
	"github.com/cookieguard/cookieguard/internal/cookie"
	"github.com/cookieguard/cookieguard/internal/denylist"
	"github.com/cookieguard/cookieguard/internal/metrics"
	"github.com/cookieguard/cookieguard/internal/store"
	"github.com/cookieguard/cookieguard/internal/store/composite"
	"github.com/cookieguard/cookieguard/internal/store/jsonl"
	"github.com/cookieguard/cookieguard/internal/store/sqlite"
	"github.com/cookieguard/cookieguard/internal/store/webhook"
	"github.com/cookieguard/cookieguard/internal/whitelist"
	"github.com/cookieguard/cookieguard/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	httpServer *http.Server
	httpLn     net.Listener

	store    store.DomainStore
	lists    *whitelist.Set
	loader   *denylist.Loader
	pending  *denylist.Pending
	watcher  *denylist.Watcher
	metrics  *metrics.Collector
	logger   *slog.Logger
	stopLoad context.CancelFunc

	shutdownTimeout time.Duration
}

func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	readTimeout, _ := time.ParseDuration(cfg.Server.HTTP.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(cfg.Server.HTTP.WriteTimeout)
	shutdownTimeout, _ := time.ParseDuration(cfg.Server.HTTP.ShutdownTimeout)

	var keys *auth.APIKeyAuth
	if strings.EqualFold(cfg.Auth.Type, "api_key") {
		var err error
		keys, err = auth.NewAPIKeyAuth(cfg.Auth.APIKey.Keys, cfg.Auth.APIKey.KeysFile, cfg.Auth.APIKey.HeaderName)
		if err != nil {
			return nil, err
		}
	}

	var limiter *ratelimit.Limiter
	if rl := cfg.Server.HTTP.RateLimit; rl.RequestsPerSecond > 0 {
		var err error
		limiter, err = ratelimit.NewLimiter(rl.RequestsPerSecond, rl.Burst, rl.MaxClients)
		if err != nil {
			return nil, err
		}
	}

	db, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	lists, err := whitelist.NewSet(context.Background(), metrics.WrapDomainStore(db, collector), cfg.Whitelist.Lists, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	loader := denylist.NewLoader(denylist.NewSet(), denylist.SourceFor(cfg.Denylist.Path), denylist.ParserForFormat(cfg.Denylist.Format), logger)
	var watcher *denylist.Watcher
	if cfg.Denylist.Watch {
		watcher, err = denylist.NewWatcher(denylist.WatcherConfig{
			Path:     cfg.Denylist.Path,
			Loader:   loader,
			Debounce: cfg.Denylist.Debounce,
			OnReload: collector.ObserveDenylistReload,
			Logger:   logger,
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	ln, err := listenHTTP(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	loadCtx, stopLoad := context.WithCancel(context.Background())
	pending := loader.Start(loadCtx)

	var policyList cookie.Whitelist
	if m, err := lists.Get(whitelist.ListCookie); err == nil {
		policyList = m
	} else {
		logger.Warn("cookie whitelist not configured; decisions ignore the whitelist", "lists", cfg.Whitelist.Lists)
	}
	policy := cookie.NewPolicy(policyList, pending, cookie.Options{
		DefaultAllow:    cfg.Cookies.Default == "allow",
		BlockDenylisted: cfg.Cookies.BlockDenylisted != nil && *cfg.Cookies.BlockDenylisted,
		BlockThirdParty: cfg.Cookies.BlockThirdParty,
	}, collector, logger)

	app := api.NewApp(cfg, api.Deps{
		Lists:      lists,
		Loader:     loader,
		Denylist:   pending,
		Watcher:    watcher,
		Policy:     policy,
		Metrics:    collector,
		APIKeyAuth: keys,
		Limiter:    limiter,
		Logger:     logger,
	})

	return &Server{
		httpServer: &http.Server{
			Handler:           withRequestBodyLimit(app.Router(), cfg.Server.HTTP.MaxRequestBodyBytes()),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
		},
		httpLn:          ln,
		store:           db,
		lists:           lists,
		loader:          loader,
		pending:         pending,
		watcher:         watcher,
		metrics:         collector,
		logger:          logger,
		stopLoad:        stopLoad,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// OpenStore opens the whitelist database for writing. Changes are journaled
// to audit.output and delivered to audit.webhooks when configured.
func OpenStore(cfg *config.Config, logger *slog.Logger) (store.DomainStore, error) {
	db, err := sqlite.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	var journals []store.Journal
	closeAll := func() {
		for _, j := range journals {
			_ = j.Close()
		}
		_ = db.Close()
	}
	if cfg.Audit.Output != "" {
		j, err := jsonl.New(cfg.Audit.Output, cfg.Audit.Rotation.MaxSizeMB, cfg.Audit.Rotation.MaxBackups)
		if err != nil {
			closeAll()
			return nil, err
		}
		journals = append(journals, j)
	}
	for _, wh := range cfg.Audit.Webhooks {
		j, err := webhook.New(webhook.Config{
			Name:          wh.Name,
			URL:           wh.URL,
			Method:        wh.Method,
			Headers:       wh.Headers,
			Template:      wh.Template,
			Lists:         wh.Lists,
			BatchSize:     wh.BatchSize,
			FlushInterval: wh.FlushInterval,
			Timeout:       wh.Timeout,
			RetryCount:    wh.RetryCount,
			RetryDelay:    wh.RetryDelay,
		}, logger)
		if err != nil {
			closeAll()
			return nil, err
		}
		journals = append(journals, j)
	}
	if len(journals) == 0 {
		return db, nil
	}
	return composite.New(db, logger, journals...), nil
}

func withRequestBodyLimit(next http.Handler, maxBytes int64) http.Handler {
	if maxBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func listenHTTP(cfg *config.Config) (net.Listener, error) {
	addr := cfg.Server.HTTP.Addr
	if strings.EqualFold(strings.TrimSpace(cfg.Auth.Type), "none") {
		if !isLoopbackListenAddr(addr) {
			return nil, fmt.Errorf("refusing to listen on %q with auth.type=none (use 127.0.0.1/localhost or enable auth)", addr)
		}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

func isLoopbackListenAddr(addr string) bool {
	a := strings.TrimSpace(addr)
	if a == "" {
		return false
	}
	// ":8080" binds on all interfaces.
	if strings.HasPrefix(a, ":") {
		return false
	}
	host, _, err := net.SplitHostPort(a)
	if err != nil {
		host = a
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// Addr returns the bound HTTP address.
func (s *Server) Addr() string {
	if s == nil || s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// Run serves HTTP and, when configured, the denylist watcher until ctx is
// canceled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening", "addr", s.Addr())
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	if s.watcher != nil {
		g.Go(func() error {
			// the initial load owns the set until it finishes
			if _, err := s.pending.Wait(gctx); err != nil {
				return nil
			}
			return s.watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		s.logger.Info("http server shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close stops a pending denylist load and closes the listener and store.
func (s *Server) Close() error {
	if s.stopLoad != nil {
		s.stopLoad()
	}
	if s.httpLn != nil {
		_ = s.httpLn.Close()
		s.httpLn = nil
	}
	if s.store != nil {
		err := s.store.Close()
		s.store = nil
		return err
	}
	return nil
}
