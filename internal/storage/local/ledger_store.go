// Package local persists the ledger as a JSON file on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
)

// Config captures the parameters for the file-backed ledger.
type Config struct {
	// Path is the ledger file, e.g. state.json.
	Path string `mapstructure:"path" yaml:"path"`
}

// LedgerStore reads and writes the ledger document on disk.
type LedgerStore struct {
	path string
}

// New creates a file-backed ledger store, creating the parent directory if needed.
func New(cfg Config) (*LedgerStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	dir := filepath.Dir(cfg.Path)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat ledger directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("ledger directory path is not a directory")
	}
	if info, err := os.Stat(cfg.Path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("ledger path %q is a directory", cfg.Path)
	}
	return &LedgerStore{path: cfg.Path}, nil
}

// Path returns the ledger file location.
func (s *LedgerStore) Path() string {
	return s.path
}

// Read returns the file contents or ledger.ErrNotFound.
func (s *LedgerStore) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	return data, nil
}

// Write replaces the file atomically via a temp file in the same directory.
func (s *LedgerStore) Write(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}
