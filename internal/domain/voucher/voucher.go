// Package voucher holds single-use topup redemption codes issued in batches,
// optionally pre-funded from a sponsor wallet.
package voucher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Status is the voucher state machine: reserved -> redeemed | void | expired.
type Status string

const (
	StatusReserved Status = "reserved"
	StatusRedeemed Status = "redeemed"
	StatusVoid     Status = "void"
	StatusExpired  Status = "expired"
)

// Voucher is one redeemable code of a batch. FundingWallet is nil for
// unfunded batches, which are claims against the issuer's general ledger.
type Voucher struct {
	Code          string     `json:"code"`
	BatchID       uuid.UUID  `json:"batch_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	FundingWallet *uuid.UUID `json:"funding_wallet,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Expired reports whether the voucher has passed its expiry.
func (v *Voucher) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

// Repository persists voucher batches
type Repository interface {
	// CreateBatch inserts all vouchers of one batch.
	CreateBatch(ctx context.Context, vouchers []*Voucher) error

	// LockByCode acquires the voucher row for the enclosing transaction.
	// Returns nil, nil when no record matches.
	LockByCode(ctx context.Context, code string) (*Voucher, error)

	UpdateStatus(ctx context.Context, code string, status Status) error

	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Voucher, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrDuplicateCode indicates a voucher code collision on insert.
type ErrDuplicateCode struct {
	Code string
}

func (e ErrDuplicateCode) Error() string {
	return "voucher code already exists: " + e.Code
}
