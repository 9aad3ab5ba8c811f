// Package webhook delivers whitelist mutations to HTTP endpoints so that
// other browser profiles can follow changes without polling.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"text/template"
	"time"

	"github.com/cookieguard/cookieguard/internal/store"
)

// Config defines a webhook endpoint.
type Config struct {
	// Name identifies the endpoint in logs.
	Name string

	URL     string
	Method  string
	Headers map[string]string

	// Template renders the request body. If empty, mutations are sent as JSON.
	Template string

	// Lists restricts delivery to the named whitelists. Empty means all.
	Lists []string

	BatchSize     int
	FlushInterval time.Duration
	Timeout       time.Duration
	RetryCount    int
	RetryDelay    time.Duration
}

// Journal buffers mutations and POSTs them in batches.
type Journal struct {
	cfg    Config
	tmpl   *template.Template
	lists  map[string]bool
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	buf    []store.Mutation
	closed bool

	inflight sync.WaitGroup
	stop     chan struct{}
	done     chan struct{}
}

var _ store.Journal = (*Journal)(nil)

func New(cfg Config, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook %q: invalid url %q", cfg.Name, cfg.URL)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	j := &Journal{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("webhook", cfg.Name),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.Template != "" {
		tmpl, err := template.New(cfg.Name).Parse(cfg.Template)
		if err != nil {
			return nil, fmt.Errorf("webhook %q: invalid template: %w", cfg.Name, err)
		}
		j.tmpl = tmpl
	}
	if len(cfg.Lists) > 0 {
		j.lists = make(map[string]bool, len(cfg.Lists))
		for _, l := range cfg.Lists {
			j.lists[l] = true
		}
	}
	go j.flushLoop()
	return j, nil
}

// flushLoop delivers a partial batch once it has waited FlushInterval.
func (j *Journal) flushLoop() {
	defer close(j.done)
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.mu.Lock()
			toSend := j.buf
			j.buf = nil
			j.mu.Unlock()
			if len(toSend) == 0 {
				continue
			}
			if err := j.send(context.Background(), toSend); err != nil {
				j.logger.Warn("webhook delivery failed", "mutations", len(toSend), "error", err)
			}
		}
	}
}

// Record buffers m and sends the batch in the background once it is full.
// A partial batch is sent by the flush loop after FlushInterval.
func (j *Journal) Record(ctx context.Context, m store.Mutation) error {
	if j.lists != nil && !j.lists[m.List] {
		return nil
	}
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return fmt.Errorf("webhook %q is closed", j.cfg.Name)
	}
	j.buf = append(j.buf, m)
	var toSend []store.Mutation
	if len(j.buf) >= j.cfg.BatchSize {
		toSend = j.buf
		j.buf = nil
	}
	if len(toSend) > 0 {
		j.inflight.Add(1)
	}
	j.mu.Unlock()

	if len(toSend) > 0 {
		// the request ctx ends with the HTTP handler; delivery must outlive it
		sendCtx := context.WithoutCancel(ctx)
		go func() {
			defer j.inflight.Done()
			if err := j.send(sendCtx, toSend); err != nil {
				j.logger.Warn("webhook delivery failed", "mutations", len(toSend), "error", err)
			}
		}()
	}
	return nil
}

// Flush sends any buffered mutations and waits for in-flight deliveries.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	toSend := j.buf
	j.buf = nil
	j.mu.Unlock()

	var err error
	if len(toSend) > 0 {
		err = j.send(ctx, toSend)
	}
	j.inflight.Wait()
	return err
}

// Close flushes the buffer. Later Record calls fail.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()
	close(j.stop)
	<-j.done

	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.Timeout)
	defer cancel()
	return j.Flush(ctx)
}

func (j *Journal) body(batch []store.Mutation) ([]byte, error) {
	if j.tmpl != nil {
		data := map[string]any{
			"Mutations": batch,
			"Mutation":  batch[0],
			"Count":     len(batch),
		}
		var buf bytes.Buffer
		if err := j.tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return buf.Bytes(), nil
	}
	if len(batch) == 1 && j.cfg.BatchSize <= 1 {
		return json.Marshal(batch[0])
	}
	return json.Marshal(batch)
}

func (j *Journal) send(ctx context.Context, batch []store.Mutation) error {
	body, err := j.body(batch)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= j.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(j.cfg.RetryDelay):
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
		req, err := http.NewRequestWithContext(reqCtx, j.cfg.Method, j.cfg.URL, bytes.NewReader(body))
		if err != nil {
			cancel()
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range j.cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := j.client.Do(req)
		if err != nil {
			cancel()
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		cancel()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return lastErr
}
