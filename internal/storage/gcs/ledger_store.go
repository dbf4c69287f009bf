// Package gcs persists the ledger as an object in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
)

// Config captures the parameters required to locate the ledger object.
type Config struct {
	Bucket string
	Object string
}

// LedgerStore reads and writes the ledger object.
type LedgerStore struct {
	client *storage.Client
	bucket string
	object string
}

// New creates a GCS-backed ledger store.
func New(client *storage.Client, cfg Config) (*LedgerStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	object := strings.TrimPrefix(cfg.Object, "/")
	if object == "" {
		object = "ledger/state.json"
	}
	return &LedgerStore{
		client: client,
		bucket: cfg.Bucket,
		object: object,
	}, nil
}

// Read downloads the ledger object or returns ledger.ErrNotFound.
func (s *LedgerStore) Read(ctx context.Context) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, s.object, err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, s.object, err)
	}
	return data, nil
}

// Write uploads the ledger document, replacing the previous generation.
func (s *LedgerStore) Write(ctx context.Context, data []byte) error {
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// URI returns the gs:// location of the ledger.
func (s *LedgerStore) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}
