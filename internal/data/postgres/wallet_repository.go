// Package postgres provides PostgreSQL implementations of the domain
// repositories. It handles all database operations while maintaining
// transaction safety and proper error handling for the wallet ledger engine.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/persistence"
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaches.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// WalletRepository implements the wallet.Repository interface for PostgreSQL
type WalletRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewWalletRepository creates a new PostgreSQL wallet repository.
// It expects db.Pool() to satisfy persistence.Querier.
func NewWalletRepository(logger *slog.Logger, db *persistence.PostgresDB) wallet.Repository {
	return &WalletRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction, allowing for atomic
// operations across multiple repository calls.
func (r *WalletRepository) WithTx(tx pgx.Tx) wallet.Repository {
	return &WalletRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// CreateUserWithWallet stores a new user and their wallet. Both inserts run on
// the same querier, so wrap in a transaction via WithTx for atomicity.
func (r *WalletRepository) CreateUserWithWallet(ctx context.Context, u *wallet.User, w *wallet.Wallet) error {
	userQuery := `
		INSERT INTO users (id, phone, kyc_tier, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.querier.Exec(ctx, userQuery, u.ID, u.Phone, u.KYCTier, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return wallet.ErrDuplicatePhone{Phone: u.Phone}
		}
		r.logger.Error("Failed to create user", "error", err)
		return fmt.Errorf("failed to create user: %w", err)
	}

	walletQuery := `
		INSERT INTO wallets (id, user_id, balance, savings, currency, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.querier.Exec(ctx, walletQuery,
		w.ID,
		w.UserID,
		w.Balance,
		w.Savings,
		w.Currency,
		w.Version,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create wallet", "user_id", u.ID.String(), "error", err)
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

// GetUserByPhone retrieves a user by phone number. Returns nil, nil when no
// user has the phone.
func (r *WalletRepository) GetUserByPhone(ctx context.Context, phone string) (*wallet.User, error) {
	query := `
		SELECT id, phone, kyc_tier, created_at
		FROM users
		WHERE phone = $1
	`

	var u wallet.User
	err := r.querier.QueryRow(ctx, query, phone).Scan(&u.ID, &u.Phone, &u.KYCTier, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get user by phone", "error", err)
		return nil, fmt.Errorf("failed to get user by phone: %w", err)
	}

	return &u, nil
}

// GetUserByWallet resolves the owner of a wallet, used for KYC tier lookups.
func (r *WalletRepository) GetUserByWallet(ctx context.Context, walletID uuid.UUID) (*wallet.User, error) {
	query := `
		SELECT u.id, u.phone, u.kyc_tier, u.created_at
		FROM users u
		JOIN wallets w ON w.user_id = u.id
		WHERE w.id = $1
	`

	var u wallet.User
	err := r.querier.QueryRow(ctx, query, walletID).Scan(&u.ID, &u.Phone, &u.KYCTier, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound{WalletID: walletID}
		}
		r.logger.Error("Failed to get user by wallet", "wallet_id", walletID.String(), "error", err)
		return nil, fmt.Errorf("failed to get user by wallet: %w", err)
	}

	return &u, nil
}

// GetWallet retrieves a wallet by its ID
func (r *WalletRepository) GetWallet(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	query := `
		SELECT id, user_id, balance, savings, currency, version, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`

	return r.scanWallet(ctx, query, id)
}

// LockWallet obtains a pessimistic lock on the wallet row and returns its
// current state. Callers locking multiple wallets do so in id order.
func (r *WalletRepository) LockWallet(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	query := `
		SELECT id, user_id, balance, savings, currency, version, created_at, updated_at
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`

	return r.scanWallet(ctx, query, id)
}

func (r *WalletRepository) scanWallet(ctx context.Context, query string, id uuid.UUID) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := r.querier.QueryRow(ctx, query, id).Scan(
		&w.ID,
		&w.UserID,
		&w.Balance,
		&w.Savings,
		&w.Currency,
		&w.Version,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrWalletNotFound{WalletID: id}
		}
		r.logger.Error("Failed to get wallet", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	return &w, nil
}

// UpdateBalances persists balance, savings and version with an optimistic
// version check on top of the row lock. Returns ErrConcurrentModification if
// the wallet was modified between read and update.
func (r *WalletRepository) UpdateBalances(ctx context.Context, w *wallet.Wallet) error {
	query := `
		UPDATE wallets
		SET balance = $1, savings = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6
	`

	result, err := r.querier.Exec(ctx, query,
		w.Balance,
		w.Savings,
		w.Version,
		w.UpdatedAt,
		w.ID,
		w.Version-1, // Check previous version for optimistic locking
	)
	if err != nil {
		r.logger.Error("Failed to update wallet balances", "id", w.ID.String(), "error", err)
		return fmt.Errorf("failed to update wallet balances: %w", err)
	}

	if result.RowsAffected() == 0 {
		return wallet.ErrConcurrentModification{WalletID: w.ID}
	}

	return nil
}
