package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/persistence"
)

// LedgerRepository implements the ledger.Repository interface for PostgreSQL
type LedgerRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(logger *slog.Logger, db *persistence.PostgresDB) ledger.Repository {
	return &LedgerRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction so txn and entry inserts
// commit atomically with the balance updates they explain.
func (r *LedgerRepository) WithTx(tx pgx.Tx) ledger.Repository {
	return &LedgerRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// CreateTxn stores one immutable transaction record
func (r *LedgerRepository) CreateTxn(ctx context.Context, txn *ledger.Txn) error {
	query := `
		INSERT INTO txns (id, source_wallet, dest_wallet, amount, fee, kind, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.querier.Exec(ctx, query,
		txn.ID,
		txn.SourceWallet,
		txn.DestWallet,
		txn.Amount,
		txn.Fee,
		txn.Kind,
		txn.Currency,
		txn.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create txn", "id", txn.ID.String(), "error", err)
		return fmt.Errorf("failed to create txn: %w", err)
	}

	return nil
}

// CreateEntries stores the double-entry rows of one transaction.
func (r *LedgerRepository) CreateEntries(ctx context.Context, entries []ledger.Entry) error {
	query := `
		INSERT INTO entries (txn_id, wallet_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
	`

	for _, e := range entries {
		if _, err := r.querier.Exec(ctx, query, e.TxnID, e.WalletID, e.Amount, e.CreatedAt); err != nil {
			r.logger.Error("Failed to create entry", "txn_id", e.TxnID.String(), "error", err)
			return fmt.Errorf("failed to create entry: %w", err)
		}
	}

	return nil
}

// GetTxn retrieves a transaction by its ID
func (r *LedgerRepository) GetTxn(ctx context.Context, id uuid.UUID) (*ledger.Txn, error) {
	query := `
		SELECT id, source_wallet, dest_wallet, amount, fee, kind, currency, created_at
		FROM txns
		WHERE id = $1
	`

	var txn ledger.Txn
	err := r.querier.QueryRow(ctx, query, id).Scan(
		&txn.ID,
		&txn.SourceWallet,
		&txn.DestWallet,
		&txn.Amount,
		&txn.Fee,
		&txn.Kind,
		&txn.Currency,
		&txn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrTxnNotFound{TxnID: id}
		}
		r.logger.Error("Failed to get txn", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get txn: %w", err)
	}

	return &txn, nil
}

// ListByWallet returns the most recent transactions touching a wallet.
func (r *LedgerRepository) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]*ledger.Txn, error) {
	query := `
		SELECT id, source_wallet, dest_wallet, amount, fee, kind, currency, created_at
		FROM txns
		WHERE source_wallet = $1 OR dest_wallet = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, walletID, limit)
	if err != nil {
		r.logger.Error("Failed to list txns by wallet", "wallet_id", walletID.String(), "error", err)
		return nil, fmt.Errorf("failed to list txns by wallet: %w", err)
	}
	defer rows.Close()

	var txns []*ledger.Txn
	for rows.Next() {
		var txn ledger.Txn
		err := rows.Scan(
			&txn.ID,
			&txn.SourceWallet,
			&txn.DestWallet,
			&txn.Amount,
			&txn.Fee,
			&txn.Kind,
			&txn.Currency,
			&txn.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan txn", "error", err)
			return nil, fmt.Errorf("failed to scan txn: %w", err)
		}
		txns = append(txns, &txn)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over txns", "error", err)
		return nil, fmt.Errorf("error iterating over txns: %w", err)
	}

	return txns, nil
}

// OutboundSumSince sums outbound amounts for a wallet inside a rolling
// window, serving the KYC daily cap.
func (r *LedgerRepository) OutboundSumSince(ctx context.Context, walletID uuid.UUID, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM txns
		WHERE source_wallet = $1 AND created_at >= $2
	`

	var sum int64
	if err := r.querier.QueryRow(ctx, query, walletID, since).Scan(&sum); err != nil {
		r.logger.Error("Failed to sum outbound amounts", "wallet_id", walletID.String(), "error", err)
		return 0, fmt.Errorf("failed to sum outbound amounts: %w", err)
	}

	return sum, nil
}

// SenderWindow aggregates outbound activity for the velocity limits.
func (r *LedgerRepository) SenderWindow(ctx context.Context, walletID uuid.UUID, since time.Time) (ledger.WindowStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM txns
		WHERE source_wallet = $1 AND created_at >= $2
	`

	return r.scanWindow(ctx, query, walletID, since)
}

// ReceiverWindow aggregates inbound activity for the velocity limits.
func (r *LedgerRepository) ReceiverWindow(ctx context.Context, walletID uuid.UUID, since time.Time) (ledger.WindowStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM txns
		WHERE dest_wallet = $1 AND created_at >= $2
	`

	return r.scanWindow(ctx, query, walletID, since)
}

func (r *LedgerRepository) scanWindow(ctx context.Context, query string, walletID uuid.UUID, since time.Time) (ledger.WindowStats, error) {
	var stats ledger.WindowStats
	if err := r.querier.QueryRow(ctx, query, walletID, since).Scan(&stats.Count, &stats.Amount); err != nil {
		r.logger.Error("Failed to aggregate txn window", "wallet_id", walletID.String(), "error", err)
		return ledger.WindowStats{}, fmt.Errorf("failed to aggregate txn window: %w", err)
	}

	return stats, nil
}

// EntrySum returns the signed entry total for one wallet.
func (r *LedgerRepository) EntrySum(ctx context.Context, walletID uuid.UUID) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM entries
		WHERE wallet_id = $1
	`

	var sum int64
	if err := r.querier.QueryRow(ctx, query, walletID).Scan(&sum); err != nil {
		r.logger.Error("Failed to sum entries", "wallet_id", walletID.String(), "error", err)
		return 0, fmt.Errorf("failed to sum entries: %w", err)
	}

	return sum, nil
}

// Drift lists wallets whose main balance disagrees with the signed entry
// sum. Savings moves post an external leg, so entries always track the main
// balance. Used by the reconciliation endpoint and the reaper sweep.
func (r *LedgerRepository) Drift(ctx context.Context) ([]ledger.DriftRow, error) {
	query := `
		SELECT w.id, w.balance, COALESCE(e.total, 0), w.balance - COALESCE(e.total, 0)
		FROM wallets w
		LEFT JOIN (
			SELECT wallet_id, SUM(amount) AS total
			FROM entries
			WHERE wallet_id IS NOT NULL
			GROUP BY wallet_id
		) e ON e.wallet_id = w.id
		WHERE w.balance <> COALESCE(e.total, 0)
	`

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to query wallet drift", "error", err)
		return nil, fmt.Errorf("failed to query wallet drift: %w", err)
	}
	defer rows.Close()

	var drift []ledger.DriftRow
	for rows.Next() {
		var row ledger.DriftRow
		if err := rows.Scan(&row.WalletID, &row.Balance, &row.EntrySum, &row.Delta); err != nil {
			r.logger.Error("Failed to scan drift row", "error", err)
			return nil, fmt.Errorf("failed to scan drift row: %w", err)
		}
		drift = append(drift, row)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over drift rows", "error", err)
		return nil, fmt.Errorf("error iterating over drift rows: %w", err)
	}

	return drift, nil
}
