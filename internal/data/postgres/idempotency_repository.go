package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/idempotency"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/persistence"
)

// IdempotencyRepository implements the idempotency.Repository interface for
// PostgreSQL. Records are inserted in the same transaction as the mutation
// they guard; the (endpoint, key) primary key arbitrates concurrent retries.
type IdempotencyRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewIdempotencyRepository creates a new PostgreSQL idempotency repository
func NewIdempotencyRepository(logger *slog.Logger, db *persistence.PostgresDB) idempotency.Repository {
	return &IdempotencyRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *IdempotencyRepository) WithTx(tx pgx.Tx) idempotency.Repository {
	return &IdempotencyRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Get returns the stored record, or nil, nil when the key has not been seen
// on the endpoint.
func (r *IdempotencyRepository) Get(ctx context.Context, endpoint, key string) (*idempotency.Record, error) {
	query := `
		SELECT key, endpoint, txn_id, wallet_id, balance, savings, currency, created_at
		FROM idempotency_keys
		WHERE endpoint = $1 AND key = $2
	`

	var rec idempotency.Record
	err := r.querier.QueryRow(ctx, query, endpoint, key).Scan(
		&rec.Key,
		&rec.Endpoint,
		&rec.TxnID,
		&rec.WalletID,
		&rec.Balance,
		&rec.Savings,
		&rec.Currency,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to get idempotency record", "endpoint", endpoint, "error", err)
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	return &rec, nil
}

// Create stores a record. A concurrent retry that lost the race gets
// ErrDuplicateKey and must re-read the winner's record after rollback.
func (r *IdempotencyRepository) Create(ctx context.Context, rec *idempotency.Record) error {
	query := `
		INSERT INTO idempotency_keys (key, endpoint, txn_id, wallet_id, balance, savings, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.querier.Exec(ctx, query,
		rec.Key,
		rec.Endpoint,
		rec.TxnID,
		rec.WalletID,
		rec.Balance,
		rec.Savings,
		rec.Currency,
		rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return idempotency.ErrDuplicateKey{Endpoint: rec.Endpoint, Key: rec.Key}
		}
		r.logger.Error("Failed to create idempotency record", "endpoint", rec.Endpoint, "error", err)
		return fmt.Errorf("failed to create idempotency record: %w", err)
	}

	return nil
}
