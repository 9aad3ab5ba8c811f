package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cookieguard/cookieguard/internal/config"
	"github.com/cookieguard/cookieguard/internal/denylist"
	"github.com/cookieguard/cookieguard/internal/logging"
	"github.com/cookieguard/cookieguard/internal/server"
	"github.com/cookieguard/cookieguard/internal/store"
	"github.com/cookieguard/cookieguard/internal/store/sqlite"
	"github.com/spf13/cobra"
)

func defaultConfigPath() string {
	if _, err := os.Stat("config.yml"); err == nil {
		return "config.yml"
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return "/etc/cookieguard/config.yaml"
}

// loadLocalConfig loads path, or the first config found on the search path.
// Without an explicit path a missing file yields the defaults.
func loadLocalConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrNotFound) && !explicit {
		return config.Default()
	}
	return cfg, err
}

// cmdLogger logs to stderr. One-shot commands stay quiet at the default
// info level.
func cmdLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	lc := cfg.Logging
	if strings.EqualFold(lc.Level, "info") {
		lc.Level = "warn"
	}
	return logging.New(lc, cmd.ErrOrStderr())
}

// openReadStore opens the configured database read-only. A database that
// does not exist yet is created so the schema is in place.
func openReadStore(cfg *config.Config) (*sqlite.Store, error) {
	if _, err := os.Stat(cfg.Storage.SQLitePath); err == nil {
		return sqlite.OpenReadOnly(cfg.Storage.SQLitePath)
	}
	return sqlite.Open(cfg.Storage.SQLitePath)
}

// openStore opens the database for reading or, when writable, through the
// same journaling stack the server uses.
func openStore(cfg *config.Config, writable bool, logger *slog.Logger) (store.DomainStore, error) {
	if writable {
		return server.OpenStore(cfg, logger)
	}
	return openReadStore(cfg)
}

// loadDenylist loads the configured denylist and waits for it.
func loadDenylist(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*denylist.Loader, *denylist.Pending, error) {
	loader := denylist.NewLoader(denylist.NewSet(), denylist.SourceFor(cfg.Denylist.Path), denylist.ParserForFormat(cfg.Denylist.Format), logger)
	pending := loader.Start(ctx)
	if _, err := pending.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("load denylist: %w", err)
	}
	return loader, pending, nil
}
