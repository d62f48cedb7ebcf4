// Package sonic holds the reservation record behind the offline payment
// token. The opaque signed token itself never touches the database; records
// are keyed by its SHA-256 hash.
package sonic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Status is the token reservation state machine: reserved -> redeemed |
// expired | cancelled.
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusRedeemed  Status = "redeemed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Token is the funds reservation backing one issued offline token.
type Token struct {
	TokenHash    string    `json:"token_hash"` // hex SHA-256 of the opaque token
	SourceWallet uuid.UUID `json:"source_wallet"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	Nonce        string    `json:"nonce"`
	ExpiresAt    time.Time `json:"expires_at"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Expired reports whether the reservation has passed its expiry, regardless
// of the stored status. Timestamps are never trusted through a cached flag.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Repository persists token reservations
type Repository interface {
	Create(ctx context.Context, t *Token) error

	// LockByHash acquires the reservation row for the enclosing transaction.
	// Returns nil, nil when no record matches.
	LockByHash(ctx context.Context, tokenHash string) (*Token, error)

	// UpdateStatus transitions the reservation; the resolved timestamp is set
	// for terminal states.
	UpdateStatus(ctx context.Context, tokenHash string, status Status) error

	// ListExpired returns reserved rows past their expiry for the reaper.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Token, error)

	WithTx(tx pgx.Tx) Repository
}
