package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestWalletRepository_CreateUserWithWallet(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &WalletRepository{querier: mock, logger: logger}

	u, w := wallet.NewUser("+963991234567", "SYP")

	userQuery := `
		INSERT INTO users \(id, phone, kyc_tier, created_at\)
		VALUES \(\$1, \$2, \$3, \$4\)
	`
	walletQuery := `
		INSERT INTO wallets \(id, user_id, balance, savings, currency, version, created_at, updated_at\)
		VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\)
	`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(userQuery).
			WithArgs(u.ID, u.Phone, u.KYCTier, u.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(walletQuery).
			WithArgs(w.ID, w.UserID, w.Balance, w.Savings, w.Currency, w.Version, w.CreatedAt, w.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := repo.CreateUserWithWallet(ctx, u, w)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectExec(userQuery).
			WithArgs(u.ID, u.Phone, u.KYCTier, u.CreatedAt).
			WillReturnError(expectedErr)

		err := repo.CreateUserWithWallet(ctx, u, w)
		assert.Error(t, err)
		assert.ErrorIs(t, err, expectedErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletRepository_GetUserByPhone(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &WalletRepository{querier: mock, logger: logger}
	phone := "+963991234567"

	query := `
		SELECT id, phone, kyc_tier, created_at
		FROM users
		WHERE phone = \$1
	`

	t.Run("found", func(t *testing.T) {
		userID := uuid.New()
		rows := pgxmock.NewRows([]string{"id", "phone", "kyc_tier", "created_at"}).
			AddRow(userID, phone, wallet.TierBasic, time.Now())
		mock.ExpectQuery(query).WithArgs(phone).WillReturnRows(rows)

		u, err := repo.GetUserByPhone(ctx, phone)
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, userID, u.ID)
		assert.Equal(t, wallet.TierBasic, u.KYCTier)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found returns nil, nil", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(phone).WillReturnError(pgx.ErrNoRows)

		u, err := repo.GetUserByPhone(ctx, phone)
		assert.NoError(t, err)
		assert.Nil(t, u)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletRepository_LockWallet(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &WalletRepository{querier: mock, logger: logger}
	walletID := uuid.New()

	query := `
		SELECT id, user_id, balance, savings, currency, version, created_at, updated_at
		FROM wallets
		WHERE id = \$1
		FOR UPDATE
	`

	t.Run("success", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"id", "user_id", "balance", "savings", "currency", "version", "created_at", "updated_at"}).
			AddRow(walletID, uuid.New(), int64(50000), int64(0), "SYP", 3, time.Now(), time.Now())
		mock.ExpectQuery(query).WithArgs(walletID).WillReturnRows(rows)

		w, err := repo.LockWallet(ctx, walletID)
		require.NoError(t, err)
		assert.Equal(t, walletID, w.ID)
		assert.Equal(t, int64(50000), w.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs(walletID).WillReturnError(pgx.ErrNoRows)

		_, err := repo.LockWallet(ctx, walletID)
		assert.ErrorIs(t, err, wallet.ErrWalletNotFound{WalletID: walletID})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletRepository_UpdateBalances(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &WalletRepository{querier: mock, logger: logger}

	w := &wallet.Wallet{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Balance:   40000,
		Savings:   10000,
		Currency:  "SYP",
		Version:   5,
		UpdatedAt: time.Now(),
	}

	query := `
		UPDATE wallets
		SET balance = \$1, savings = \$2, version = \$3, updated_at = \$4
		WHERE id = \$5 AND version = \$6
	`

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(w.Balance, w.Savings, w.Version, w.UpdatedAt, w.ID, w.Version-1).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err := repo.UpdateBalances(ctx, w)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent modification", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs(w.Balance, w.Savings, w.Version, w.UpdatedAt, w.ID, w.Version-1).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.UpdateBalances(ctx, w)
		assert.Equal(t, wallet.ErrConcurrentModification{WalletID: w.ID}, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
