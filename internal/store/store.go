package store

import (
	"context"
	"time"
)

// DomainStore persists named lists of domains. Lists share one table and are
// keyed by name; entries keep insertion order and are not deduplicated.
type DomainStore interface {
	ListDomains(ctx context.Context, list string) ([]string, error)
	AddDomain(ctx context.Context, list, domain string) error
	// DeleteDomain removes the oldest entry equal to domain, if any, and
	// reports whether an entry was removed.
	DeleteDomain(ctx context.Context, list, domain string) (bool, error)
	ClearDomains(ctx context.Context, list string) error
	Close() error
}

// ListInfo summarizes one stored list.
type ListInfo struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Mutation records one successful write to a list.
type Mutation struct {
	Time   time.Time `json:"ts"`
	List   string    `json:"list"`
	Op     string    `json:"op"` // add|delete|clear
	Domain string    `json:"domain,omitempty"`
}

// Journal receives mutations after the primary store applied them.
type Journal interface {
	Record(ctx context.Context, m Mutation) error
	Close() error
}
