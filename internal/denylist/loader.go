package denylist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// Loader fills a Set from a Source.
type Loader struct {
	set    *Set
	src    Source
	parser Parser
	logger *slog.Logger

	loads atomic.Uint64
}

// NewLoader creates a loader. Pass nil for logger to disable logging and nil
// for parser to use the one-host-per-line format.
func NewLoader(set *Set, src Source, parser Parser, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if parser == nil {
		parser = &DomainListParser{}
	}
	return &Loader{set: set, src: src, parser: parser, logger: logger}
}

// Set returns the set this loader fills.
func (l *Loader) Set() *Set { return l.set }

// Source returns the configured source.
func (l *Loader) Source() Source { return l.src }

// Loads returns the number of successful loads.
func (l *Loader) Loads() uint64 { return l.loads.Load() }

// Load reads the source and replaces the set content. On a read or parse
// failure the set keeps its previous content.
func (l *Loader) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rc, err := l.src.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", l.src.Name(), err)
	}
	defer rc.Close()

	hosts, err := l.parser.Parse(rc)
	if err != nil {
		return fmt.Errorf("parse %s: %w", l.src.Name(), err)
	}
	if err := l.set.Replace(hosts); err != nil {
		l.logger.Warn("denylist contains invalid entries", "source", l.src.Name(), "error", err)
	}
	l.loads.Add(1)
	l.logger.Info("denylist loaded", "source", l.src.Name(), "hosts", l.set.Size())
	return nil
}

// Pending is a background denylist load that callers join before relying
// on the set.
type Pending struct {
	set  *Set
	done chan struct{}
	err  error
}

// Start runs Load in a goroutine. A failure is logged and the set stays as
// it was (possibly empty); it is not reported through Wait.
func (l *Loader) Start(ctx context.Context) *Pending {
	p := &Pending{set: l.set, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		start := time.Now()
		if err := l.Load(ctx); err != nil {
			p.err = err
			l.logger.Warn("error loading denylist", "source", l.src.Name(), "error", err)
			return
		}
		l.logger.Debug("denylist load finished", "took", time.Since(start))
	}()
	return p
}

// Wait blocks until the load finished or ctx is done. The returned error is
// only ever ctx.Err().
func (p *Pending) Wait(ctx context.Context) (*Set, error) {
	select {
	case <-p.done:
		return p.set, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready reports whether the load finished.
func (p *Pending) Ready() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the load failure once the load finished, for diagnostics.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
