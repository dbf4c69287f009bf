package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
)

func openTemp(t *testing.T, name string) *LedgerStore {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "ledger.db"), Name: name})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestReadMissing(t *testing.T) {
	store := openTemp(t, "")
	_, err := store.Read(context.Background())
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestWriteOverwrites(t *testing.T) {
	store := openTemp(t, "prod")
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, []byte(`{"items":{"a":{}}}`)))
	require.NoError(t, store.Write(ctx, []byte(`{"items":{"b":{}}}`)))

	data, err := store.Read(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"items":{"b":{}}}`, string(data))
}

func TestLedgerPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	first, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	s := ledger.Load(ctx, first)
	s.Upsert("r10:42", func(r *ledger.Record) {
		r.Attempts = 1
		r.Status = ledger.StatusFailed
	})
	require.NoError(t, s.Save(ctx))
	require.NoError(t, first.Close())

	second, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	rec, ok := ledger.Load(ctx, second).Get("r10:42")
	require.True(t, ok)
	require.Equal(t, ledger.StatusFailed, rec.Status)
	require.Equal(t, 1, rec.Attempts)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}
