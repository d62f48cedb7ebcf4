package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/idempotency"
)

func TestIdempotencyRepository_Get(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &IdempotencyRepository{querier: mock, logger: logger}

	query := `
		SELECT key, endpoint, txn_id, wallet_id, balance, savings, currency, created_at
		FROM idempotency_keys
		WHERE endpoint = \$1 AND key = \$2
	`

	t.Run("found", func(t *testing.T) {
		txnID := uuid.New()
		walletID := uuid.New()
		rows := pgxmock.NewRows([]string{"key", "endpoint", "txn_id", "wallet_id", "balance", "savings", "currency", "created_at"}).
			AddRow("req-1", "transfers", txnID, walletID, int64(39965), int64(0), "SYP", time.Now())
		mock.ExpectQuery(query).WithArgs("transfers", "req-1").WillReturnRows(rows)

		rec, err := repo.Get(ctx, "transfers", "req-1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, txnID, rec.TxnID)
		assert.Equal(t, int64(39965), rec.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unseen key returns nil, nil", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("transfers", "req-unseen").WillReturnError(pgx.ErrNoRows)

		rec, err := repo.Get(ctx, "transfers", "req-unseen")
		assert.NoError(t, err)
		assert.Nil(t, rec)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestIdempotencyRepository_Create(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &IdempotencyRepository{querier: mock, logger: logger}

	rec := &idempotency.Record{
		Key:       "req-1",
		Endpoint:  "transfers",
		TxnID:     uuid.New(),
		WalletID:  uuid.New(),
		Balance:   39965,
		Savings:   0,
		Currency:  "SYP",
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO idempotency_keys \(key, endpoint, txn_id, wallet_id, balance, savings, currency, created_at\)
		VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\)
	`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(rec.Key, rec.Endpoint, rec.TxnID, rec.WalletID, rec.Balance, rec.Savings, rec.Currency, rec.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.Create(ctx, rec)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("losing concurrent retry gets ErrDuplicateKey", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(rec.Key, rec.Endpoint, rec.TxnID, rec.WalletID, rec.Balance, rec.Savings, rec.Currency, rec.CreatedAt).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := repo.Create(ctx, rec)
		assert.ErrorIs(t, err, idempotency.ErrDuplicateKey{})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
