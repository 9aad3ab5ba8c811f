package composite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cookieguard/cookieguard/internal/store"
)

type fakeDomainStore struct {
	err     error
	writes  int
	closed  bool
	domains []string
	missing bool
}

func (f *fakeDomainStore) ListDomains(ctx context.Context, list string) ([]string, error) {
	return f.domains, f.err
}
func (f *fakeDomainStore) AddDomain(ctx context.Context, list, domain string) error {
	f.writes++
	return f.err
}
func (f *fakeDomainStore) DeleteDomain(ctx context.Context, list, domain string) (bool, error) {
	f.writes++
	return f.err == nil && !f.missing, f.err
}
func (f *fakeDomainStore) ClearDomains(ctx context.Context, list string) error {
	f.writes++
	return f.err
}
func (f *fakeDomainStore) Close() error { f.closed = true; return nil }

type fakeJournal struct {
	err      error
	recorded []store.Mutation
	closeErr error
}

func (f *fakeJournal) Record(ctx context.Context, m store.Mutation) error {
	f.recorded = append(f.recorded, m)
	return f.err
}
func (f *fakeJournal) Close() error { return f.closeErr }

func TestWritesAreJournaledAfterPrimary(t *testing.T) {
	primary := &fakeDomainStore{}
	j := &fakeJournal{}
	s := New(primary, nil, j)
	s.now = func() time.Time { return time.Unix(100, 0) }
	ctx := context.Background()

	if err := s.AddDomain(ctx, "cookie", "a.example"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DeleteDomain(ctx, "cookie", "a.example"); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearDomains(ctx, "cookie"); err != nil {
		t.Fatal(err)
	}

	if primary.writes != 3 {
		t.Fatalf("primary writes = %d, want 3", primary.writes)
	}
	if len(j.recorded) != 3 {
		t.Fatalf("journaled = %d, want 3", len(j.recorded))
	}
	want := []string{"add", "delete", "clear"}
	for i, m := range j.recorded {
		if m.Op != want[i] || m.List != "cookie" {
			t.Fatalf("mutation %d = %+v", i, m)
		}
		if !m.Time.Equal(time.Unix(100, 0)) {
			t.Fatalf("mutation %d time = %v", i, m.Time)
		}
	}
}

func TestDeleteOfAbsentDomainIsNotJournaled(t *testing.T) {
	primary := &fakeDomainStore{missing: true}
	j := &fakeJournal{}
	s := New(primary, nil, j)

	removed, err := s.DeleteDomain(context.Background(), "cookie", "missing.example")
	if err != nil || removed {
		t.Fatalf("DeleteDomain = %v, %v", removed, err)
	}
	if len(j.recorded) != 0 {
		t.Fatalf("no-op delete journaled: %+v", j.recorded)
	}
}

func TestPrimaryFailureSkipsJournal(t *testing.T) {
	primary := &fakeDomainStore{err: errors.New("locked")}
	j := &fakeJournal{}
	s := New(primary, nil, j)

	if err := s.AddDomain(context.Background(), "cookie", "a.example"); err == nil || err.Error() != "locked" {
		t.Fatalf("expected primary error, got %v", err)
	}
	if len(j.recorded) != 0 {
		t.Fatalf("journal should not see failed writes, got %d", len(j.recorded))
	}
}

func TestJournalFailureDoesNotFailWrite(t *testing.T) {
	s := New(&fakeDomainStore{}, nil, &fakeJournal{err: errors.New("disk full")})
	if err := s.AddDomain(context.Background(), "cookie", "a.example"); err != nil {
		t.Fatalf("journal error leaked: %v", err)
	}
}

func TestListDelegatesAndCloseCollectsFirstError(t *testing.T) {
	primary := &fakeDomainStore{domains: []string{"x.example"}}
	s := New(primary, nil, &fakeJournal{closeErr: errors.New("j1")}, &fakeJournal{closeErr: errors.New("j2")})

	got, err := s.ListDomains(context.Background(), "cookie")
	if err != nil || len(got) != 1 || got[0] != "x.example" {
		t.Fatalf("ListDomains = %v, %v", got, err)
	}
	if err := s.Close(); err == nil || err.Error() != "j1" {
		t.Fatalf("expected first journal close error, got %v", err)
	}
	if !primary.closed {
		t.Fatal("primary not closed")
	}
}
