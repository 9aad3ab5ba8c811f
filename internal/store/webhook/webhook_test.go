package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cookieguard/cookieguard/internal/store"
)

type receiver struct {
	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
}

func (r *receiver) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, b)
		r.headers = append(r.headers, req.Header.Clone())
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (r *receiver) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.bodies...)
}

func mutation(op, domain string) store.Mutation {
	return store.Mutation{Time: time.Unix(1700000000, 0).UTC(), List: "cookie", Op: op, Domain: domain}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Name: "bad", URL: "ftp://example.com"}, nil); err == nil {
		t.Fatal("expected error for non-http url")
	}
	if _, err := New(Config{Name: "bad", URL: "http://example.com", Template: "{{.Count"}, nil); err == nil {
		t.Fatal("expected error for invalid template")
	}
	j, err := New(Config{Name: "ok", URL: "http://example.com/hook"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()
	if j.cfg.Method != http.MethodPost || j.cfg.BatchSize != 1 || j.cfg.Timeout != 10*time.Second {
		t.Fatalf("defaults not applied: %+v", j.cfg)
	}
}

func TestRecord_SendsSingleMutation(t *testing.T) {
	var rcv receiver
	srv := httptest.NewServer(rcv.handler(http.StatusOK))
	defer srv.Close()

	j, err := New(Config{Name: "t", URL: srv.URL, Headers: map[string]string{"X-Token": "s3cret"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	if err := j.Record(context.Background(), mutation("add", "example.com")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := j.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	bodies := rcv.snapshot()
	if len(bodies) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(bodies))
	}
	var got store.Mutation
	if err := json.Unmarshal(bodies[0], &got); err != nil {
		t.Fatalf("body is not a single mutation: %v (%s)", err, bodies[0])
	}
	if got.Op != "add" || got.Domain != "example.com" || got.List != "cookie" {
		t.Fatalf("unexpected mutation: %+v", got)
	}
	if rcv.headers[0].Get("X-Token") != "s3cret" {
		t.Fatalf("custom header missing")
	}
}

func TestRecord_Batches(t *testing.T) {
	var rcv receiver
	srv := httptest.NewServer(rcv.handler(http.StatusNoContent))
	defer srv.Close()

	j, err := New(Config{Name: "t", URL: srv.URL, BatchSize: 3, FlushInterval: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	ctx := context.Background()
	for _, d := range []string{"a.com", "b.com"} {
		if err := j.Record(ctx, mutation("add", d)); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(rcv.snapshot()); n != 0 {
		t.Fatalf("expected no delivery before batch is full, got %d", n)
	}
	if err := j.Record(ctx, mutation("clear", "")); err != nil {
		t.Fatal(err)
	}
	if err := j.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	bodies := rcv.snapshot()
	if len(bodies) != 1 {
		t.Fatalf("expected 1 batched delivery, got %d", len(bodies))
	}
	var got []store.Mutation
	if err := json.Unmarshal(bodies[0], &got); err != nil {
		t.Fatalf("body is not a batch: %v", err)
	}
	if len(got) != 3 || got[2].Op != "clear" {
		t.Fatalf("unexpected batch: %+v", got)
	}
}

func TestRecord_FlushIntervalSendsPartialBatch(t *testing.T) {
	var rcv receiver
	srv := httptest.NewServer(rcv.handler(http.StatusOK))
	defer srv.Close()

	const interval = 50 * time.Millisecond
	j, err := New(Config{Name: "t", URL: srv.URL, BatchSize: 10, FlushInterval: interval}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	if err := j.Record(context.Background(), mutation("add", "example.com")); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(4 * interval)
	for len(rcv.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("partial batch not delivered within %v", 4*interval)
		}
		time.Sleep(5 * time.Millisecond)
	}

	var got []store.Mutation
	if err := json.Unmarshal(rcv.snapshot()[0], &got); err != nil {
		t.Fatalf("body is not a batch: %v", err)
	}
	if len(got) != 1 || got[0].Domain != "example.com" {
		t.Fatalf("unexpected batch: %+v", got)
	}
}

func TestRecord_ListFilter(t *testing.T) {
	var rcv receiver
	srv := httptest.NewServer(rcv.handler(http.StatusOK))
	defer srv.Close()

	j, err := New(Config{Name: "t", URL: srv.URL, Lists: []string{"javascript"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Record(context.Background(), mutation("add", "example.com")); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if n := len(rcv.snapshot()); n != 0 {
		t.Fatalf("cookie mutation should be filtered out, got %d deliveries", n)
	}
}

func TestTemplateBody(t *testing.T) {
	var rcv receiver
	srv := httptest.NewServer(rcv.handler(http.StatusOK))
	defer srv.Close()

	j, err := New(Config{
		Name:     "chat",
		URL:      srv.URL,
		Template: `{"text": "{{.Mutation.Op}} {{.Mutation.Domain}} on {{.Mutation.List}} ({{.Count}})"}`,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	if err := j.Record(context.Background(), mutation("delete", "ads.example")); err != nil {
		t.Fatal(err)
	}
	if err := j.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	bodies := rcv.snapshot()
	if len(bodies) != 1 || !strings.Contains(string(bodies[0]), "delete ads.example on cookie (1)") {
		t.Fatalf("unexpected body: %q", bodies)
	}
}

func TestSend_Retries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	j, err := New(Config{Name: "t", URL: srv.URL, RetryCount: 2, RetryDelay: time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	if err := j.send(context.Background(), []store.Mutation{mutation("add", "x.com")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSend_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	j, err := New(Config{Name: "t", URL: srv.URL, RetryCount: 1, RetryDelay: time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	err = j.send(context.Background(), []store.Mutation{mutation("add", "x.com")})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestRecord_AfterClose(t *testing.T) {
	j, err := New(Config{Name: "t", URL: "http://127.0.0.1:1/hook"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if err := j.Record(context.Background(), mutation("add", "x.com")); err == nil {
		t.Fatal("expected error after Close")
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
