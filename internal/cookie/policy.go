// Package cookie decides whether a browser accepts cookies for a URL.
//
// A URL whose text contains a whitelisted domain always accepts cookies.
// Otherwise a URL whose host is on the denylist is blocked, and everything
// else gets the configured default.
package cookie

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/cookieguard/cookieguard/internal/denylist"
	"golang.org/x/net/publicsuffix"
)

// Reason names the rule that produced a Decision.
type Reason string

const (
	ReasonWhitelist  Reason = "whitelist"
	ReasonDenylist   Reason = "denylist"
	ReasonThirdParty Reason = "third_party"
	ReasonDefault    Reason = "default"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow   bool   `json:"allow"`
	Reason  Reason `json:"reason"`
	Host    string `json:"host,omitempty"`
	Matched string `json:"matched,omitempty"`
}

// Whitelist is the lookup side of a whitelist manager.
type Whitelist interface {
	Match(url string) (string, bool)
}

// Recorder observes decisions. *metrics.Collector implements it.
type Recorder interface {
	ObserveDecision(reason string, allow bool)
}

type Options struct {
	// DefaultAllow is the decision for URLs no rule matches.
	DefaultAllow bool
	// BlockDenylisted blocks hosts found on the denylist.
	BlockDenylisted bool
	// BlockThirdParty blocks cookies for hosts outside the first-party site.
	BlockThirdParty bool
}

// Policy evaluates URLs against a whitelist and the denylist.
type Policy struct {
	whitelist Whitelist
	denylist  *denylist.Pending
	opts      Options
	recorder  Recorder
	logger    *slog.Logger
}

// NewPolicy creates a policy. denylist may be nil to skip denylist checks;
// recorder and logger may be nil.
func NewPolicy(wl Whitelist, dl *denylist.Pending, opts Options, recorder Recorder, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Policy{whitelist: wl, denylist: dl, opts: opts, recorder: recorder, logger: logger}
}

// Decide evaluates rawURL. The first decision that needs the denylist waits
// for its load to finish; the only error is ctx's.
func (p *Policy) Decide(ctx context.Context, rawURL string) (Decision, error) {
	return p.decide(ctx, rawURL, "")
}

// DecideThirdParty evaluates rawURL loaded from a page at firstPartyURL.
// With BlockThirdParty set, a host on a different site than the first party
// is blocked unless whitelisted.
func (p *Policy) DecideThirdParty(ctx context.Context, rawURL, firstPartyURL string) (Decision, error) {
	return p.decide(ctx, rawURL, firstPartyURL)
}

func (p *Policy) decide(ctx context.Context, rawURL, firstPartyURL string) (Decision, error) {
	host, err := denylist.HostFromURL(rawURL)
	if err != nil {
		host = ""
	}

	if p.whitelist != nil {
		if d, ok := p.whitelist.Match(rawURL); ok {
			return p.record(Decision{Allow: true, Reason: ReasonWhitelist, Host: host, Matched: d}), nil
		}
	}

	if p.opts.BlockThirdParty && firstPartyURL != "" && host != "" {
		if fp, err := denylist.HostFromURL(firstPartyURL); err == nil && !sameSite(host, fp) {
			return p.record(Decision{Allow: false, Reason: ReasonThirdParty, Host: host, Matched: fp}), nil
		}
	}

	if p.opts.BlockDenylisted && p.denylist != nil && host != "" {
		set, err := p.denylist.Wait(ctx)
		if err != nil {
			return Decision{}, fmt.Errorf("wait for denylist: %w", err)
		}
		if entry, ok := set.Match(host); ok {
			return p.record(Decision{Allow: false, Reason: ReasonDenylist, Host: host, Matched: entry}), nil
		}
	}

	return p.record(Decision{Allow: p.opts.DefaultAllow, Reason: ReasonDefault, Host: host}), nil
}

func (p *Policy) record(d Decision) Decision {
	if p.recorder != nil {
		p.recorder.ObserveDecision(string(d.Reason), d.Allow)
	}
	p.logger.Debug("cookie decision", "host", d.Host, "allow", d.Allow, "reason", d.Reason, "matched", d.Matched)
	return d
}

// sameSite compares the registrable domains of two hosts. Hosts without a
// registrable domain (IPs, single labels) must match exactly.
func sameSite(a, b string) bool {
	if a == b {
		return true
	}
	if net.ParseIP(a) != nil || net.ParseIP(b) != nil {
		return false
	}
	sa, errA := publicsuffix.EffectiveTLDPlusOne(a)
	sb, errB := publicsuffix.EffectiveTLDPlusOne(b)
	if errA != nil || errB != nil {
		return false
	}
	return sa == sb
}
