package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/sonic"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/persistence"
)

// SonicRepository implements the sonic.Repository interface for PostgreSQL
type SonicRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewSonicRepository creates a new PostgreSQL sonic token repository
func NewSonicRepository(logger *slog.Logger, db *persistence.PostgresDB) sonic.Repository {
	return &SonicRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *SonicRepository) WithTx(tx pgx.Tx) sonic.Repository {
	return &SonicRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a token reservation
func (r *SonicRepository) Create(ctx context.Context, t *sonic.Token) error {
	query := `
		INSERT INTO sonic_tokens (token_hash, source_wallet, amount, currency, nonce, expires_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.querier.Exec(ctx, query,
		t.TokenHash,
		t.SourceWallet,
		t.Amount,
		t.Currency,
		t.Nonce,
		t.ExpiresAt,
		t.Status,
		t.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create sonic token", "error", err)
		return fmt.Errorf("failed to create sonic token: %w", err)
	}

	return nil
}

// LockByHash acquires the token row for the enclosing transaction. Returns
// nil, nil when no record matches the hash.
func (r *SonicRepository) LockByHash(ctx context.Context, tokenHash string) (*sonic.Token, error) {
	query := `
		SELECT token_hash, source_wallet, amount, currency, nonce, expires_at, status, created_at, resolved_at
		FROM sonic_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`

	var t sonic.Token
	err := r.querier.QueryRow(ctx, query, tokenHash).Scan(
		&t.TokenHash,
		&t.SourceWallet,
		&t.Amount,
		&t.Currency,
		&t.Nonce,
		&t.ExpiresAt,
		&t.Status,
		&t.CreatedAt,
		&t.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to lock sonic token", "error", err)
		return nil, fmt.Errorf("failed to lock sonic token: %w", err)
	}

	return &t, nil
}

// UpdateStatus transitions the reservation and timestamps the resolution.
func (r *SonicRepository) UpdateStatus(ctx context.Context, tokenHash string, status sonic.Status) error {
	query := `
		UPDATE sonic_tokens
		SET status = $1, resolved_at = $2
		WHERE token_hash = $3
	`

	result, err := r.querier.Exec(ctx, query, status, time.Now().UTC(), tokenHash)
	if err != nil {
		r.logger.Error("Failed to update sonic token status", "status", string(status), "error", err)
		return fmt.Errorf("failed to update sonic token status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("sonic token not found for status update")
	}

	return nil
}

// ListExpired returns reserved tokens past their expiry, oldest first.
func (r *SonicRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*sonic.Token, error) {
	query := `
		SELECT token_hash, source_wallet, amount, currency, nonce, expires_at, status, created_at, resolved_at
		FROM sonic_tokens
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, sonic.StatusReserved, now, limit)
	if err != nil {
		r.logger.Error("Failed to list expired sonic tokens", "error", err)
		return nil, fmt.Errorf("failed to list expired sonic tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*sonic.Token
	for rows.Next() {
		var t sonic.Token
		err := rows.Scan(
			&t.TokenHash,
			&t.SourceWallet,
			&t.Amount,
			&t.Currency,
			&t.Nonce,
			&t.ExpiresAt,
			&t.Status,
			&t.CreatedAt,
			&t.ResolvedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan sonic token", "error", err)
			return nil, fmt.Errorf("failed to scan sonic token: %w", err)
		}
		tokens = append(tokens, &t)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over sonic tokens", "error", err)
		return nil, fmt.Errorf("error iterating over sonic tokens: %w", err)
	}

	return tokens, nil
}
