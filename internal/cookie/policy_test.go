package cookie

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cookieguard/cookieguard/internal/denylist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticWhitelist []string

func (w staticWhitelist) Match(url string) (string, bool) {
	if url == "" {
		return "", false
	}
	for _, d := range w {
		if strings.Contains(url, d) {
			return d, true
		}
	}
	return "", false
}

type stringSource struct {
	body string
}

func (s stringSource) Open() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(s.body)), nil }
func (stringSource) Name() string { return "test" }

type errSource struct{}

func (errSource) Open() (io.ReadCloser, error) { return nil, errors.New("no such asset") }
func (errSource) Name() string { return "broken" }

// gateSource blocks Open until release is closed.
type gateSource struct {
	release chan struct{}
	body    string
}

func (g gateSource) Open() (io.ReadCloser, error) {
	<-g.release
	return io.NopCloser(strings.NewReader(g.body)), nil
}
func (gateSource) Name() string { return "gate" }

type countingRecorder struct {
	mu   sync.Mutex
	seen map[string]int
}

func (r *countingRecorder) ObserveDecision(reason string, allow bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]int)
	}
	key := reason + "/block"
	if allow {
		key = reason + "/allow"
	}
	r.seen[key]++
}

func loadedDenylist(t *testing.T, body string) *denylist.Pending {
	t.Helper()
	l := denylist.NewLoader(denylist.NewSet(), stringSource{body: body}, nil, nil)
	p := l.Start(context.Background())
	_, err := p.Wait(context.Background())
	require.NoError(t, err)
	return p
}

func defaultOptions() Options {
	return Options{DefaultAllow: true, BlockDenylisted: true}
}

func TestDecide_Order(t *testing.T) {
	dl := loadedDenylist(t, "doubleclick.net\ntracker.example\n")
	wl := staticWhitelist{"tracker.example"}
	p := NewPolicy(wl, dl, defaultOptions(), nil, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		url    string
		allow  bool
		reason Reason
		match  string
	}{
		{name: "whitelist beats denylist", url: "https://tracker.example/pixel", allow: true, reason: ReasonWhitelist, match: "tracker.example"},
		{name: "denylisted parent", url: "https://ad.doubleclick.net/x", allow: false, reason: ReasonDenylist, match: "doubleclick.net"},
		{name: "default", url: "https://news.example.org/", allow: true, reason: ReasonDefault},
		{name: "unparseable url gets default", url: "", allow: true, reason: ReasonDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := p.Decide(ctx, tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.allow, d.Allow)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.match, d.Matched)
		})
	}
}

func TestDecide_DefaultBlock(t *testing.T) {
	p := NewPolicy(staticWhitelist{"example.com"}, nil, Options{DefaultAllow: false}, nil, nil)

	d, err := p.Decide(context.Background(), "https://sub.example.com/path")
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, "sub.example.com", d.Host)

	d, err = p.Decide(context.Background(), "https://other.org")
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonDefault, d.Reason)
}

func TestDecide_DenylistDisabled(t *testing.T) {
	dl := loadedDenylist(t, "doubleclick.net\n")
	p := NewPolicy(nil, dl, Options{DefaultAllow: true}, nil, nil)
	d, err := p.Decide(context.Background(), "https://doubleclick.net/")
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, ReasonDefault, d.Reason)
}

func TestDecide_FailedDenylistLoadIsEmpty(t *testing.T) {
	p := NewPolicy(nil, denylist.NewLoader(denylist.NewSet(), errSource{}, nil, nil).Start(context.Background()), defaultOptions(), nil, nil)
	d, err := p.Decide(context.Background(), "https://doubleclick.net/")
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, ReasonDefault, d.Reason)
}

func TestDecide_WaitsForDenylist(t *testing.T) {
	release := make(chan struct{})
	pending := denylist.NewLoader(denylist.NewSet(), gateSource{release: release, body: "ads.example\n"}, nil, nil).
		Start(context.Background())
	p := NewPolicy(nil, pending, defaultOptions(), nil, nil)

	done := make(chan Decision, 1)
	go func() {
		d, _ := p.Decide(context.Background(), "https://ads.example/")
		done <- d
	}()

	select {
	case <-done:
		t.Fatal("decision returned before the denylist finished loading")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case d := <-done:
		assert.False(t, d.Allow)
		assert.Equal(t, ReasonDenylist, d.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("decision did not complete after load")
	}
}

func TestDecide_ContextCanceledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	pending := denylist.NewLoader(denylist.NewSet(), gateSource{release: release}, nil, nil).
		Start(context.Background())
	p := NewPolicy(nil, pending, defaultOptions(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Decide(ctx, "https://ads.example/")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecideThirdParty(t *testing.T) {
	opts := defaultOptions()
	opts.BlockThirdParty = true
	p := NewPolicy(staticWhitelist{"cdn.partner.example"}, loadedDenylist(t, ""), opts, nil, nil)
	ctx := context.Background()

	d, err := p.DecideThirdParty(ctx, "https://static.news.co.uk/a.js", "https://www.news.co.uk/")
	require.NoError(t, err)
	assert.True(t, d.Allow, "same registrable domain is first party")

	d, err = p.DecideThirdParty(ctx, "https://tracker.other.com/p", "https://www.news.co.uk/")
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonThirdParty, d.Reason)

	d, err = p.DecideThirdParty(ctx, "https://cdn.partner.example/lib.js", "https://www.news.co.uk/")
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, ReasonWhitelist, d.Reason)

	d, err = p.DecideThirdParty(ctx, "https://tracker.other.com/p", "")
	require.NoError(t, err)
	assert.True(t, d.Allow, "no first party means no third-party rule")
}

func TestDecide_RecordsOutcome(t *testing.T) {
	rec := &countingRecorder{}
	p := NewPolicy(staticWhitelist{"ok.example"}, loadedDenylist(t, "bad.example\n"), defaultOptions(), rec, nil)
	ctx := context.Background()
	for _, u := range []string{"https://ok.example/", "https://bad.example/", "https://neutral.example/"} {
		_, err := p.Decide(ctx, u)
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]int{
		"whitelist/allow": 1,
		"denylist/block":  1,
		"default/allow":   1,
	}, rec.seen)
}

func TestSameSite(t *testing.T) {
	assert.True(t, sameSite("a.example.com", "b.example.com"))
	assert.False(t, sameSite("a.example.com", "example.org"))
	assert.True(t, sameSite("localhost", "localhost"))
	assert.False(t, sameSite("127.0.0.1", "127.0.0.2"))
}
