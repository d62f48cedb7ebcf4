package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/cashmandate"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/persistence"
)

// CashMandateRepository implements the cashmandate.Repository interface for
// PostgreSQL
type CashMandateRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewCashMandateRepository creates a new PostgreSQL cash mandate repository
func NewCashMandateRepository(logger *slog.Logger, db *persistence.PostgresDB) cashmandate.Repository {
	return &CashMandateRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *CashMandateRepository) WithTx(tx pgx.Tx) cashmandate.Repository {
	return &CashMandateRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a mandate reservation. Code collisions surface as
// ErrDuplicateCode so the service can regenerate and retry.
func (r *CashMandateRepository) Create(ctx context.Context, m *cashmandate.Mandate) error {
	query := `
		INSERT INTO cash_mandates (code, source_wallet, amount, currency, secret_hash, attempts, expires_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.querier.Exec(ctx, query,
		m.Code,
		m.SourceWallet,
		m.Amount,
		m.Currency,
		m.SecretHash,
		m.Attempts,
		m.ExpiresAt,
		m.Status,
		m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return cashmandate.ErrDuplicateCode{Code: m.Code}
		}
		r.logger.Error("Failed to create cash mandate", "error", err)
		return fmt.Errorf("failed to create cash mandate: %w", err)
	}

	return nil
}

// LockByCode acquires the mandate row for the enclosing transaction. Returns
// nil, nil when no record matches.
func (r *CashMandateRepository) LockByCode(ctx context.Context, code string) (*cashmandate.Mandate, error) {
	query := `
		SELECT code, source_wallet, amount, currency, secret_hash, attempts, expires_at, status, created_at, resolved_at
		FROM cash_mandates
		WHERE code = $1
		FOR UPDATE
	`

	var m cashmandate.Mandate
	err := r.querier.QueryRow(ctx, query, code).Scan(
		&m.Code,
		&m.SourceWallet,
		&m.Amount,
		&m.Currency,
		&m.SecretHash,
		&m.Attempts,
		&m.ExpiresAt,
		&m.Status,
		&m.CreatedAt,
		&m.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to lock cash mandate", "error", err)
		return nil, fmt.Errorf("failed to lock cash mandate: %w", err)
	}

	return &m, nil
}

// UpdateStatus transitions the mandate and timestamps the resolution.
func (r *CashMandateRepository) UpdateStatus(ctx context.Context, code string, status cashmandate.Status) error {
	query := `
		UPDATE cash_mandates
		SET status = $1, resolved_at = $2
		WHERE code = $3
	`

	result, err := r.querier.Exec(ctx, query, status, time.Now().UTC(), code)
	if err != nil {
		r.logger.Error("Failed to update cash mandate status", "status", string(status), "error", err)
		return fmt.Errorf("failed to update cash mandate status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("cash mandate not found for status update")
	}

	return nil
}

// IncrementAttempts bumps the secret-guess counter. Run on the pool, not the
// redeem transaction, so a failed guess persists across the rollback.
func (r *CashMandateRepository) IncrementAttempts(ctx context.Context, code string) error {
	query := `
		UPDATE cash_mandates
		SET attempts = attempts + 1
		WHERE code = $1
	`

	result, err := r.querier.Exec(ctx, query, code)
	if err != nil {
		r.logger.Error("Failed to increment cash mandate attempts", "error", err)
		return fmt.Errorf("failed to increment cash mandate attempts: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("cash mandate not found for attempt increment")
	}

	return nil
}

// ListExpired returns reserved mandates past their expiry, oldest first.
func (r *CashMandateRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*cashmandate.Mandate, error) {
	query := `
		SELECT code, source_wallet, amount, currency, secret_hash, attempts, expires_at, status, created_at, resolved_at
		FROM cash_mandates
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, cashmandate.StatusReserved, now, limit)
	if err != nil {
		r.logger.Error("Failed to list expired cash mandates", "error", err)
		return nil, fmt.Errorf("failed to list expired cash mandates: %w", err)
	}
	defer rows.Close()

	var mandates []*cashmandate.Mandate
	for rows.Next() {
		var m cashmandate.Mandate
		err := rows.Scan(
			&m.Code,
			&m.SourceWallet,
			&m.Amount,
			&m.Currency,
			&m.SecretHash,
			&m.Attempts,
			&m.ExpiresAt,
			&m.Status,
			&m.CreatedAt,
			&m.ResolvedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan cash mandate", "error", err)
			return nil, fmt.Errorf("failed to scan cash mandate: %w", err)
		}
		mandates = append(mandates, &m)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over cash mandates", "error", err)
		return nil, fmt.Errorf("error iterating over cash mandates: %w", err)
	}

	return mandates, nil
}
