package denylist

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

type pattern struct {
	raw string
	g   glob.Glob
}

// Set is a thread-safe in-memory set of denied hosts. Entries containing '*'
// are compiled as glob patterns with '.' as separator, so "*.ads.net"
// matches one label and "**.ads.net" any depth.
type Set struct {
	mu       sync.RWMutex
	hosts    map[string]struct{}
	patterns []pattern
}

// NewSet returns an empty denylist set.
func NewSet() *Set {
	return &Set{hosts: make(map[string]struct{})}
}

// Match returns the denylist entry matching host or one of its parent
// domains.
func (s *Set) Match(host string) (string, bool) {
	host, err := NormalizeHost(host)
	if err != nil {
		return "", false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	d := host
	for {
		if _, ok := s.hosts[d]; ok {
			return d, true
		}
		idx := strings.IndexByte(d, '.')
		if idx < 0 {
			break
		}
		d = d[idx+1:]
		if d == "" {
			break
		}
	}

	for _, p := range s.patterns {
		if p.g.Match(host) {
			return p.raw, true
		}
	}
	return "", false
}

// Contains reports whether host or one of its parent domains is denied.
func (s *Set) Contains(host string) bool {
	_, ok := s.Match(host)
	return ok
}

// Replace atomically swaps the content of the set. Entries that fail to
// normalize or compile are skipped and reported in the returned error; the
// valid entries are applied regardless.
func (s *Set) Replace(entries []string) error {
	hosts := make(map[string]struct{}, len(entries))
	var patterns []pattern
	var errs []error
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if strings.Contains(e, "*") {
			g, err := glob.Compile(e, '.')
			if err != nil {
				errs = append(errs, fmt.Errorf("pattern %q: %w", e, err))
				continue
			}
			patterns = append(patterns, pattern{raw: e, g: g})
			continue
		}
		h, err := NormalizeHost(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("host %q: %w", e, err))
			continue
		}
		hosts[h] = struct{}{}
	}

	s.mu.Lock()
	s.hosts = hosts
	s.patterns = patterns
	s.mu.Unlock()
	return errors.Join(errs...)
}

// Size returns the number of hosts and patterns in the set.
func (s *Set) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hosts) + len(s.patterns)
}

// Hosts returns the sorted entries of the set, patterns included.
func (s *Set) Hosts() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.hosts)+len(s.patterns))
	for h := range s.hosts {
		out = append(out, h)
	}
	for _, p := range s.patterns {
		out = append(out, p.raw)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
