package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
)

func TestWriteUpsertsDocument(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "lead_ledger", "")
	require.NoError(t, err)

	doc := []byte(`{"items":{}}`)
	mock.ExpectExec("INSERT INTO lead_ledger").
		WithArgs("default", doc).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Write(context.Background(), doc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadReturnsDocument(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "", "prod")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT document FROM lead_ledger").
		WithArgs("prod").
		WillReturnRows(pgxmock.NewRows([]string{"document"}).AddRow([]byte(`{"items":{}}`)))

	data, err := store.Read(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, `{"items":{}}`, string(data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT document").WithArgs("default").WillReturnError(pgx.ErrNoRows)

	_, err = store.Read(context.Background())
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestEnsureSchemaPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS lead_ledger").WillReturnError(errors.New("permission denied"))
	require.ErrorContains(t, store.EnsureSchema(context.Background()), "permission denied")
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "", "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "drop table;", "")
	require.ErrorContains(t, err, "invalid table name")
}
