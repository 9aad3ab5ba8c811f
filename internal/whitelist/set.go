package whitelist

import (
	"context"
	"fmt"
	"log/slog"
)

// Set holds one Manager per configured list.
type Set struct {
	names    []string
	managers map[string]*Manager
}

// NewSet creates and loads a manager for each list name.
func NewSet(ctx context.Context, st Store, lists []string, logger *slog.Logger) (*Set, error) {
	s := &Set{managers: make(map[string]*Manager, len(lists))}
	for _, name := range lists {
		if _, dup := s.managers[name]; dup {
			return nil, fmt.Errorf("whitelist %q configured twice", name)
		}
		m, err := New(ctx, st, name, logger)
		if err != nil {
			return nil, err
		}
		s.names = append(s.names, name)
		s.managers[name] = m
	}
	return s, nil
}

// Get returns the manager for a list.
func (s *Set) Get(name string) (*Manager, error) {
	m, ok := s.managers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownList, name)
	}
	return m, nil
}

// Names returns the list names in configuration order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// ReloadAll reloads every list, stopping at the first error.
func (s *Set) ReloadAll(ctx context.Context) error {
	for _, name := range s.names {
		if err := s.managers[name].Reload(ctx); err != nil {
			return err
		}
	}
	return nil
}
