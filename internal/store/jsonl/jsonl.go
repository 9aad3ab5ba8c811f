package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cookieguard/cookieguard/internal/store"
)

// Journal appends whitelist mutations to a JSON Lines file, rotating it by
// size.
type Journal struct {
	path       string
	maxBytes   int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
}

var _ store.Journal = (*Journal)(nil)

func New(path string, maxSizeMB int, maxBackups int) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl path is empty")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl: %w", err)
	}

	return &Journal{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		file:       f,
	}, nil
}

func (j *Journal) Record(_ context.Context, m store.Mutation) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal mutation: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.rotateIfNeededLocked(); err != nil {
		return err
	}
	if _, err := j.file.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write jsonl: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

func (j *Journal) rotateIfNeededLocked() error {
	if j.file == nil {
		return fmt.Errorf("jsonl file not open")
	}
	st, err := j.file.Stat()
	if err != nil {
		return fmt.Errorf("stat jsonl: %w", err)
	}
	if st.Size() < j.maxBytes {
		return nil
	}
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close for rotate: %w", err)
	}

	for i := j.maxBackups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", j.path, i)
		to := fmt.Sprintf("%s.%d", j.path, i+1)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
	_ = os.Rename(j.path, fmt.Sprintf("%s.1", j.path))

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		j.file = nil
		return fmt.Errorf("reopen jsonl: %w", err)
	}
	j.file = f
	return nil
}
