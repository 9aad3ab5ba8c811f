package composite

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cookieguard/cookieguard/internal/store"
)

// Store applies writes to a primary DomainStore and then records them in
// every journal. Journal failures are logged and never fail the write, so
// callers only see the primary's outcome.
type Store struct {
	primary  store.DomainStore
	journals []store.Journal
	logger   *slog.Logger
	now      func() time.Time
}

var _ store.DomainStore = (*Store)(nil)

func New(primary store.DomainStore, logger *slog.Logger, journals ...store.Journal) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{primary: primary, journals: journals, logger: logger, now: time.Now}
}

func (s *Store) ListDomains(ctx context.Context, list string) ([]string, error) {
	return s.primary.ListDomains(ctx, list)
}

func (s *Store) AddDomain(ctx context.Context, list, domain string) error {
	if err := s.primary.AddDomain(ctx, list, domain); err != nil {
		return err
	}
	s.record(ctx, store.Mutation{List: list, Op: "add", Domain: domain})
	return nil
}

// DeleteDomain journals only deletes that removed an entry.
func (s *Store) DeleteDomain(ctx context.Context, list, domain string) (bool, error) {
	removed, err := s.primary.DeleteDomain(ctx, list, domain)
	if err != nil || !removed {
		return removed, err
	}
	s.record(ctx, store.Mutation{List: list, Op: "delete", Domain: domain})
	return true, nil
}

func (s *Store) ClearDomains(ctx context.Context, list string) error {
	if err := s.primary.ClearDomains(ctx, list); err != nil {
		return err
	}
	s.record(ctx, store.Mutation{List: list, Op: "clear"})
	return nil
}

func (s *Store) record(ctx context.Context, m store.Mutation) {
	m.Time = s.now().UTC()
	for _, j := range s.journals {
		if err := j.Record(ctx, m); err != nil {
			s.logger.Warn("whitelist journal write failed", "list", m.List, "op", m.Op, "error", err)
		}
	}
}

func (s *Store) Close() error {
	var firstErr error
	if err := s.primary.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, j := range s.journals {
		if err := j.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
