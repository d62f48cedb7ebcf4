package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/voucher"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/persistence"
)

// VoucherRepository implements the voucher.Repository interface for PostgreSQL
type VoucherRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewVoucherRepository creates a new PostgreSQL voucher repository
func NewVoucherRepository(logger *slog.Logger, db *persistence.PostgresDB) voucher.Repository {
	return &VoucherRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction
func (r *VoucherRepository) WithTx(tx pgx.Tx) voucher.Repository {
	return &VoucherRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// CreateBatch inserts all vouchers of one batch. Run inside a transaction so
// a code collision rolls back the whole batch.
func (r *VoucherRepository) CreateBatch(ctx context.Context, vouchers []*voucher.Voucher) error {
	query := `
		INSERT INTO vouchers (code, batch_id, amount, currency, funding_wallet, expires_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, v := range vouchers {
		_, err := r.querier.Exec(ctx, query,
			v.Code,
			v.BatchID,
			v.Amount,
			v.Currency,
			v.FundingWallet,
			v.ExpiresAt,
			v.Status,
			v.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return voucher.ErrDuplicateCode{Code: v.Code}
			}
			r.logger.Error("Failed to create voucher", "batch_id", v.BatchID.String(), "error", err)
			return fmt.Errorf("failed to create voucher: %w", err)
		}
	}

	return nil
}

// LockByCode acquires the voucher row for the enclosing transaction. Returns
// nil, nil when no record matches.
func (r *VoucherRepository) LockByCode(ctx context.Context, code string) (*voucher.Voucher, error) {
	query := `
		SELECT code, batch_id, amount, currency, funding_wallet, expires_at, status, created_at, resolved_at
		FROM vouchers
		WHERE code = $1
		FOR UPDATE
	`

	var v voucher.Voucher
	err := r.querier.QueryRow(ctx, query, code).Scan(
		&v.Code,
		&v.BatchID,
		&v.Amount,
		&v.Currency,
		&v.FundingWallet,
		&v.ExpiresAt,
		&v.Status,
		&v.CreatedAt,
		&v.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.Error("Failed to lock voucher", "error", err)
		return nil, fmt.Errorf("failed to lock voucher: %w", err)
	}

	return &v, nil
}

// UpdateStatus transitions the voucher and timestamps the resolution.
func (r *VoucherRepository) UpdateStatus(ctx context.Context, code string, status voucher.Status) error {
	query := `
		UPDATE vouchers
		SET status = $1, resolved_at = $2
		WHERE code = $3
	`

	result, err := r.querier.Exec(ctx, query, status, time.Now().UTC(), code)
	if err != nil {
		r.logger.Error("Failed to update voucher status", "status", string(status), "error", err)
		return fmt.Errorf("failed to update voucher status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("voucher not found for status update")
	}

	return nil
}

// ListExpired returns reserved vouchers past their expiry, oldest first.
func (r *VoucherRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*voucher.Voucher, error) {
	query := `
		SELECT code, batch_id, amount, currency, funding_wallet, expires_at, status, created_at, resolved_at
		FROM vouchers
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, voucher.StatusReserved, now, limit)
	if err != nil {
		r.logger.Error("Failed to list expired vouchers", "error", err)
		return nil, fmt.Errorf("failed to list expired vouchers: %w", err)
	}
	defer rows.Close()

	var vouchers []*voucher.Voucher
	for rows.Next() {
		var v voucher.Voucher
		err := rows.Scan(
			&v.Code,
			&v.BatchID,
			&v.Amount,
			&v.Currency,
			&v.FundingWallet,
			&v.ExpiresAt,
			&v.Status,
			&v.CreatedAt,
			&v.ResolvedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan voucher", "error", err)
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		vouchers = append(vouchers, &v)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over vouchers", "error", err)
		return nil, fmt.Errorf("error iterating over vouchers: %w", err)
	}

	return vouchers, nil
}
