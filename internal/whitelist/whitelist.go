// Package whitelist keeps user-specified domains exempted from default
// cookie blocking. Each list is persisted in a store and mirrored in memory;
// every mutation writes the store first and updates the mirror only after
// the write succeeded.
package whitelist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// ListCookie is the list consulted for cookie decisions.
const ListCookie = "cookie"

var (
	// ErrEmptyDomain is returned when adding an empty domain, which as a
	// substring would whitelist every URL.
	ErrEmptyDomain = errors.New("domain is empty")

	// ErrUnknownList is returned by Set for a list that is not configured.
	ErrUnknownList = errors.New("unknown whitelist")
)

// Store is the persistence a Manager mirrors.
type Store interface {
	ListDomains(ctx context.Context, list string) ([]string, error)
	AddDomain(ctx context.Context, list, domain string) error
	DeleteDomain(ctx context.Context, list, domain string) (bool, error)
	ClearDomains(ctx context.Context, list string) error
}

// Manager mirrors one stored list. Mutations and reloads are serialized by
// mu; lookups read the published snapshot without locking.
type Manager struct {
	list   string
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	domains atomic.Pointer[[]string]
}

// New creates a manager for list and loads its current content from store.
func New(ctx context.Context, st Store, list string, logger *slog.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("whitelist store is nil")
	}
	if strings.TrimSpace(list) == "" {
		return nil, fmt.Errorf("whitelist name is empty")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Manager{list: list, store: st, logger: logger.With("list", list)}
	empty := []string{}
	m.domains.Store(&empty)
	if err := m.Reload(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns the list name.
func (m *Manager) List() string { return m.list }

// IsWhitelisted reports whether any whitelisted domain occurs in url as a
// substring. The match is case-sensitive and url is not normalized.
func (m *Manager) IsWhitelisted(url string) bool {
	_, ok := m.Match(url)
	return ok
}

// Match returns the first whitelisted domain occurring in url.
func (m *Manager) Match(url string) (string, bool) {
	if url == "" {
		return "", false
	}
	for _, d := range *m.domains.Load() {
		if strings.Contains(url, d) {
			return d, true
		}
	}
	return "", false
}

// Domains returns a copy of the mirrored list in store order.
func (m *Manager) Domains() []string {
	return slices.Clone(*m.domains.Load())
}

// Len returns the number of mirrored entries.
func (m *Manager) Len() int {
	return len(*m.domains.Load())
}

// AddDomain persists domain and then appends it. Duplicates are allowed.
func (m *Manager) AddDomain(ctx context.Context, domain string) error {
	if strings.TrimSpace(domain) == "" {
		return ErrEmptyDomain
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.AddDomain(ctx, m.list, domain); err != nil {
		return fmt.Errorf("add %q to %s whitelist: %w", domain, m.list, err)
	}
	cur := *m.domains.Load()
	next := make([]string, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, domain)
	m.domains.Store(&next)
	m.logger.Debug("whitelist domain added", "domain", domain)
	return nil
}

// RemoveDomain persists the removal of domain and then drops its first
// occurrence. Removing an absent domain is not an error.
func (m *Manager) RemoveDomain(ctx context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.DeleteDomain(ctx, m.list, domain); err != nil {
		return fmt.Errorf("remove %q from %s whitelist: %w", domain, m.list, err)
	}
	cur := *m.domains.Load()
	i := slices.Index(cur, domain)
	if i < 0 {
		return nil
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	m.domains.Store(&next)
	m.logger.Debug("whitelist domain removed", "domain", domain)
	return nil
}

// ClearDomains persists a full clear and then empties the mirror.
func (m *Manager) ClearDomains(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.ClearDomains(ctx, m.list); err != nil {
		return fmt.Errorf("clear %s whitelist: %w", m.list, err)
	}
	empty := []string{}
	m.domains.Store(&empty)
	m.logger.Debug("whitelist cleared")
	return nil
}

// Reload replaces the mirror with the stored list.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	domains, err := m.store.ListDomains(ctx, m.list)
	if err != nil {
		return fmt.Errorf("load %s whitelist: %w", m.list, err)
	}
	if domains == nil {
		domains = []string{}
	}
	m.domains.Store(&domains)
	m.logger.Debug("whitelist loaded", "domains", len(domains))
	return nil
}
