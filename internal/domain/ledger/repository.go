package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WindowStats aggregates transactions for one wallet side of a rolling window.
type WindowStats struct {
	Count  int
	Amount int64
}

// DriftRow reports one wallet whose entry sum disagrees with its balance.
type DriftRow struct {
	WalletID uuid.UUID `json:"wallet_id"`
	Balance  int64     `json:"balance"`
	EntrySum int64     `json:"entry_sum"`
	Delta    int64     `json:"delta"`
}

// Repository persists transactions and their double-entry rows and serves the
// time-bounded scans the guardrail engine and the drift sweep rely on.
type Repository interface {
	CreateTxn(ctx context.Context, txn *Txn) error
	CreateEntries(ctx context.Context, entries []Entry) error

	GetTxn(ctx context.Context, id uuid.UUID) (*Txn, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]*Txn, error)

	// OutboundSumSince sums outbound amounts for the rolling KYC daily cap.
	OutboundSumSince(ctx context.Context, walletID uuid.UUID, since time.Time) (int64, error)

	// SenderWindow / ReceiverWindow serve the velocity limits. They scan
	// recent txn rows rather than trusting cached counters.
	SenderWindow(ctx context.Context, walletID uuid.UUID, since time.Time) (WindowStats, error)
	ReceiverWindow(ctx context.Context, walletID uuid.UUID, since time.Time) (WindowStats, error)

	// EntrySum returns the signed entry total for one wallet.
	EntrySum(ctx context.Context, walletID uuid.UUID) (int64, error)

	// Drift lists wallets where sum(entries) != balance.
	Drift(ctx context.Context) ([]DriftRow, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrTxnNotFound indicates a missing transaction
type ErrTxnNotFound struct {
	TxnID uuid.UUID
}

func (e ErrTxnNotFound) Error() string {
	return "transaction not found: " + e.TxnID.String()
}

// Is matches any ErrTxnNotFound when the target carries a nil id.
func (e ErrTxnNotFound) Is(target error) bool {
	t, ok := target.(ErrTxnNotFound)
	if !ok {
		return false
	}
	return t.TxnID == uuid.Nil || t.TxnID == e.TxnID
}
