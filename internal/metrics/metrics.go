package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector provides a minimal Prometheus-compatible metrics exporter.
type Collector struct {
	startedAt time.Time

	decisionsTotal atomic.Uint64
	byDecision     sync.Map // labelPair{reason, outcome} -> *atomic.Uint64

	mutations      sync.Map // labelPair{list, op} -> *atomic.Uint64
	mutationErrors atomic.Uint64

	denylistReloads       atomic.Uint64
	denylistReloadFailure atomic.Uint64
}

// labelPair keys a two-label counter. List names are free-form, so the
// labels are kept apart instead of joined into one string.
type labelPair struct {
	a, b string
}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

// ObserveDecision counts one cookie decision.
func (c *Collector) ObserveDecision(reason string, allow bool) {
	if c == nil {
		return
	}
	c.decisionsTotal.Add(1)
	if reason == "" {
		reason = "unknown"
	}
	outcome := "block"
	if allow {
		outcome = "allow"
	}
	inc(&c.byDecision, labelPair{reason, outcome})
}

// IncMutation counts a whitelist store write.
func (c *Collector) IncMutation(list, op string, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.mutationErrors.Add(1)
		return
	}
	inc(&c.mutations, labelPair{list, op})
}

// ObserveDenylistReload counts a denylist file reload.
func (c *Collector) ObserveDenylistReload(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.denylistReloadFailure.Add(1)
		return
	}
	c.denylistReloads.Add(1)
}

type HandlerOptions struct {
	DenylistSize     func() int
	DenylistReady    func() bool
	WhitelistSizes   func() map[string]int
	RateLimitClients func() int
}

func (c *Collector) Handler(opts HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP cookieguard_up Whether the cookieguard server is running.\n")
		fmt.Fprint(w, "# TYPE cookieguard_up gauge\n")
		fmt.Fprint(w, "cookieguard_up 1\n")

		fmt.Fprint(w, "# HELP cookieguard_uptime_seconds Seconds since the collector was created.\n")
		fmt.Fprint(w, "# TYPE cookieguard_uptime_seconds gauge\n")
		fmt.Fprintf(w, "cookieguard_uptime_seconds %d\n", int64(time.Since(c.startedAt).Seconds()))

		fmt.Fprint(w, "# HELP cookieguard_decisions_total Total cookie decisions evaluated.\n")
		fmt.Fprint(w, "# TYPE cookieguard_decisions_total counter\n")
		fmt.Fprintf(w, "cookieguard_decisions_total %d\n", c.decisionsTotal.Load())

		if keys := snapshotKeys(&c.byDecision); len(keys) > 0 {
			fmt.Fprint(w, "# HELP cookieguard_decisions_by_reason_total Cookie decisions by rule and outcome.\n")
			fmt.Fprint(w, "# TYPE cookieguard_decisions_by_reason_total counter\n")
			for _, k := range keys {
				fmt.Fprintf(w, "cookieguard_decisions_by_reason_total{reason=\"%s\",outcome=\"%s\"} %d\n",
					escapeLabelValue(k.a), k.b, load(&c.byDecision, k))
			}
		}

		if keys := snapshotKeys(&c.mutations); len(keys) > 0 {
			fmt.Fprint(w, "# HELP cookieguard_whitelist_mutations_total Successful whitelist writes by list and operation.\n")
			fmt.Fprint(w, "# TYPE cookieguard_whitelist_mutations_total counter\n")
			for _, k := range keys {
				fmt.Fprintf(w, "cookieguard_whitelist_mutations_total{list=\"%s\",op=\"%s\"} %d\n",
					escapeLabelValue(k.a), k.b, load(&c.mutations, k))
			}
		}

		fmt.Fprint(w, "# HELP cookieguard_whitelist_mutation_errors_total Failed whitelist writes.\n")
		fmt.Fprint(w, "# TYPE cookieguard_whitelist_mutation_errors_total counter\n")
		fmt.Fprintf(w, "cookieguard_whitelist_mutation_errors_total %d\n", c.mutationErrors.Load())

		fmt.Fprint(w, "# HELP cookieguard_denylist_reloads_total Denylist reloads after a file change.\n")
		fmt.Fprint(w, "# TYPE cookieguard_denylist_reloads_total counter\n")
		fmt.Fprintf(w, "cookieguard_denylist_reloads_total %d\n", c.denylistReloads.Load())

		fmt.Fprint(w, "# HELP cookieguard_denylist_reload_failures_total Denylist reloads that failed.\n")
		fmt.Fprint(w, "# TYPE cookieguard_denylist_reload_failures_total counter\n")
		fmt.Fprintf(w, "cookieguard_denylist_reload_failures_total %d\n", c.denylistReloadFailure.Load())

		if opts.DenylistReady != nil {
			ready := 0
			if opts.DenylistReady() {
				ready = 1
			}
			fmt.Fprint(w, "# HELP cookieguard_denylist_loaded Whether the initial denylist load finished.\n")
			fmt.Fprint(w, "# TYPE cookieguard_denylist_loaded gauge\n")
			fmt.Fprintf(w, "cookieguard_denylist_loaded %d\n", ready)
		}

		if opts.DenylistSize != nil {
			fmt.Fprint(w, "# HELP cookieguard_denylist_entries Hosts and patterns on the denylist.\n")
			fmt.Fprint(w, "# TYPE cookieguard_denylist_entries gauge\n")
			fmt.Fprintf(w, "cookieguard_denylist_entries %d\n", opts.DenylistSize())
		}

		if opts.RateLimitClients != nil {
			fmt.Fprint(w, "# HELP cookieguard_ratelimit_clients Clients with a tracked rate limit bucket.\n")
			fmt.Fprint(w, "# TYPE cookieguard_ratelimit_clients gauge\n")
			fmt.Fprintf(w, "cookieguard_ratelimit_clients %d\n", opts.RateLimitClients())
		}

		if opts.WhitelistSizes != nil {
			sizes := opts.WhitelistSizes()
			names := make([]string, 0, len(sizes))
			for n := range sizes {
				names = append(names, n)
			}
			sort.Strings(names)
			fmt.Fprint(w, "# HELP cookieguard_whitelist_entries Domains on each whitelist.\n")
			fmt.Fprint(w, "# TYPE cookieguard_whitelist_entries gauge\n")
			for _, n := range names {
				fmt.Fprintf(w, "cookieguard_whitelist_entries{list=\"%s\"} %d\n", escapeLabelValue(n), sizes[n])
			}
		}
	})
}

func inc(m *sync.Map, key labelPair) {
	ptr, _ := m.LoadOrStore(key, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

func load(m *sync.Map, key labelPair) uint64 {
	ptr, ok := m.Load(key)
	if !ok {
		return 0
	}
	return ptr.(*atomic.Uint64).Load()
}

func snapshotKeys(m *sync.Map) []labelPair {
	var out []labelPair
	m.Range(func(k, _ any) bool {
		if p, ok := k.(labelPair); ok {
			out = append(out, p)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].a != out[j].a {
			return out[i].a < out[j].a
		}
		return out[i].b < out[j].b
	})
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
