package denylist

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct{}

func (failingSource) Open() (io.ReadCloser, error) { return nil, errors.New("asset missing") }
func (failingSource) Name() string { return "failing" }

type blockingSource struct {
	release chan struct{}
}

func (b blockingSource) Open() (io.ReadCloser, error) {
	<-b.release
	return io.NopCloser(strings.NewReader("slow.example\n")), nil
}
func (blockingSource) Name() string { return "blocking" }

func TestLoader_BundledAsset(t *testing.T) {
	set := NewSet()
	l := NewLoader(set, BundledSource{}, nil, nil)
	require.NoError(t, l.Load(context.Background()))

	assert.True(t, set.Contains("doubleclick.net"))
	assert.True(t, set.Contains("stats.g.doubleclick.net"))
	assert.False(t, set.Contains("example.com"))

	lines := 0
	for _, line := range strings.Split(string(bundledHosts), "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}
	assert.Equal(t, lines, set.Size(), "one entry per distinct line")
	assert.Equal(t, uint64(1), l.Loads())
}

func TestLoader_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	require.NoError(t, os.WriteFile(path, []byte("0.0.0.0 Ads.Example\n0.0.0.0 pixel.example\n"), 0o600))

	set := NewSet()
	l := NewLoader(set, FileSource{Path: path}, ParserForFormat("hostfile"), nil)
	require.NoError(t, l.Load(context.Background()))
	assert.ElementsMatch(t, []string{"ads.example", "pixel.example"}, set.Hosts())
}

func TestLoader_FailureKeepsPrevious(t *testing.T) {
	set := NewSet()
	require.NoError(t, set.Replace([]string{"kept.example"}))

	l := NewLoader(set, failingSource{}, nil, nil)
	assert.Error(t, l.Load(context.Background()))
	assert.True(t, set.Contains("kept.example"))
	assert.Equal(t, uint64(0), l.Loads())
}

func TestStart_FailureIsSwallowed(t *testing.T) {
	l := NewLoader(NewSet(), failingSource{}, nil, nil)
	p := l.Start(context.Background())

	set, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, 0, set.Size())
	assert.Error(t, p.Err())
}

func TestStart_WaitJoinsLoad(t *testing.T) {
	src := blockingSource{release: make(chan struct{})}
	l := NewLoader(NewSet(), src, nil, nil)
	p := l.Start(context.Background())
	assert.False(t, p.Ready())

	close(src.release)
	set, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Ready())
	assert.True(t, set.Contains("slow.example"))
	assert.NoError(t, p.Err())
}

func TestStart_WaitHonorsContext(t *testing.T) {
	src := blockingSource{release: make(chan struct{})}
	defer close(src.release)
	l := NewLoader(NewSet(), src, nil, nil)
	p := l.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSourceFor(t *testing.T) {
	assert.Equal(t, BundledSource{}, SourceFor(""))
	assert.Equal(t, FileSource{Path: "/x"}, SourceFor("/x"))
	assert.Equal(t, "file:/x", SourceFor("/x").Name())
}
