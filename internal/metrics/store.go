package metrics

import (
	"context"

	"github.com/cookieguard/cookieguard/internal/store"
)

type wrappedDomainStore struct {
	inner store.DomainStore
	c     *Collector
}

// WrapDomainStore counts whitelist writes passing through inner.
func WrapDomainStore(inner store.DomainStore, c *Collector) store.DomainStore {
	if inner == nil {
		return nil
	}
	if c == nil {
		c = New()
	}
	return &wrappedDomainStore{inner: inner, c: c}
}

func (w *wrappedDomainStore) ListDomains(ctx context.Context, list string) ([]string, error) {
	return w.inner.ListDomains(ctx, list)
}

func (w *wrappedDomainStore) AddDomain(ctx context.Context, list, domain string) error {
	err := w.inner.AddDomain(ctx, list, domain)
	w.c.IncMutation(list, "add", err)
	return err
}

// DeleteDomain counts only deletes that removed an entry or failed.
func (w *wrappedDomainStore) DeleteDomain(ctx context.Context, list, domain string) (bool, error) {
	removed, err := w.inner.DeleteDomain(ctx, list, domain)
	if removed || err != nil {
		w.c.IncMutation(list, "delete", err)
	}
	return removed, err
}

func (w *wrappedDomainStore) ClearDomains(ctx context.Context, list string) error {
	err := w.inner.ClearDomains(ctx, list)
	w.c.IncMutation(list, "clear", err)
	return err
}

func (w *wrappedDomainStore) Close() error { return w.inner.Close() }
