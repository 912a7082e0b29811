package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileLedger persists the ledger as a JSON array. Every write goes to a temp
// file in the same directory and is renamed over the target, so readers see
// either the old or the new ledger and never a partial one.
type FileLedger struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileLedger creates a ledger backed by the file at path. The file is
// created on first append.
func NewFileLedger(path string, logger *zap.Logger) *FileLedger {
	return &FileLedger{path: path, logger: logger}
}

// Path returns the backing file path.
func (l *FileLedger) Path() string {
	return l.path
}

// Append prepends entry and truncates the ledger to MaxEntries.
func (l *FileLedger) Append(_ context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		l.logger.Warn("history ledger unreadable, starting fresh",
			zap.String("path", l.path),
			zap.Error(err),
		)
		entries = nil
	}
	if err := l.write(prepend(entries, entry)); err != nil {
		return fmt.Errorf("FileLedger.Append: %w", err)
	}
	return nil
}

// List returns the ledger newest-first. A missing file is an empty ledger.
func (l *FileLedger) List(_ context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		l.logger.Warn("history ledger unreadable, returning empty history",
			zap.String("path", l.path),
			zap.Error(err),
		)
		return []Entry{}, nil
	}
	return entries, nil
}

// Clear replaces the ledger with an empty one.
func (l *FileLedger) Clear(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write([]Entry{}); err != nil {
		return fmt.Errorf("FileLedger.Clear: %w", err)
	}
	return nil
}

func (l *FileLedger) Close() error { return nil }

func (l *FileLedger) read() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []Entry{}, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

func (l *FileLedger) write(entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
