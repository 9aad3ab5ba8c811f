package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cookieguard/cookieguard/internal/store"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var _ store.DomainStore = (*Store)(nil)

// Open opens the database for reading and writing, creating it and its
// schema if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", fileDSN(path, ""))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenReadOnly opens an existing database for queries only. Writes fail
// with a read-only error.
func OpenReadOnly(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat db: %w", err)
	}

	db, err := sql.Open("sqlite", fileDSN(path, "_pragma=query_only(1)"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// fileDSN builds a file: URI for path. The driver splits the DSN at the
// first '?', so '?', '#' and '%' in the path are percent-encoded.
func fileDSN(path, query string) string {
	dsn := "file:" + (&url.URL{Path: path}).EscapedPath()
	if query != "" {
		dsn += "?" + query
	}
	return dsn
}

func (s *Store) Close() error { return s.db.Close() }


func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS domains (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			list TEXT NOT NULL,
			domain TEXT NOT NULL,
			created_ts_unix_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_domains_list_id ON domains(list, id);`,
		`CREATE INDEX IF NOT EXISTS idx_domains_list_domain ON domains(list, domain);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) ListDomains(ctx context.Context, list string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain FROM domains WHERE list = ? ORDER BY id ASC`, list)
	if err != nil {
		return nil, fmt.Errorf("query domains: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query domains rows: %w", err)
	}
	return out, nil
}

func (s *Store) AddDomain(ctx context.Context, list, domain string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domains(list, domain, created_ts_unix_ns) VALUES(?,?,?);`,
		list, domain, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert domain: %w", err)
	}
	return nil
}

func (s *Store) DeleteDomain(ctx context.Context, list, domain string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM domains WHERE id = (
			SELECT id FROM domains WHERE list = ? AND domain = ? ORDER BY id ASC LIMIT 1
		);`,
		list, domain,
	)
	if err != nil {
		return false, fmt.Errorf("delete domain: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete domain: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ClearDomains(ctx context.Context, list string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM domains WHERE list = ?;`, list); err != nil {
		return fmt.Errorf("clear domains: %w", err)
	}
	return nil
}

// Lists returns every list that holds at least one entry, by name.
func (s *Store) Lists(ctx context.Context) ([]store.ListInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT list, COUNT(*) FROM domains GROUP BY list ORDER BY list`)
	if err != nil {
		return nil, fmt.Errorf("query lists: %w", err)
	}
	defer rows.Close()

	var out []store.ListInfo
	for rows.Next() {
		var li store.ListInfo
		if err := rows.Scan(&li.Name, &li.Count); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		out = append(out, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query lists rows: %w", err)
	}
	return out, nil
}
