// Package cashmandate holds the reservation behind a cash-redemption code: a
// short numeric code plus a secret phrase known to the sender and the agent.
package cashmandate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Status is the mandate state machine: reserved -> redeemed | cancelled |
// expired.
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusRedeemed  Status = "redeemed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Mandate is one cash-equivalent disbursement reservation. SecretHash is a
// bcrypt hash; the plaintext secret is never stored.
type Mandate struct {
	Code         string     `json:"code"`
	SourceWallet uuid.UUID  `json:"source_wallet"`
	Amount       int64      `json:"amount"`
	Currency     string     `json:"currency"`
	SecretHash   string     `json:"-"`
	Attempts     int        `json:"attempts"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Expired reports whether the reservation has passed its expiry.
func (m *Mandate) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// Repository persists mandates
type Repository interface {
	Create(ctx context.Context, m *Mandate) error

	// LockByCode acquires the mandate row for the enclosing transaction.
	// Returns nil, nil when no record matches.
	LockByCode(ctx context.Context, code string) (*Mandate, error)

	UpdateStatus(ctx context.Context, code string, status Status) error

	// IncrementAttempts bumps the secret-guess counter. Committed in its own
	// short transaction so a failed guess survives the redeem rollback.
	IncrementAttempts(ctx context.Context, code string) error

	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Mandate, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrDuplicateCode indicates a code collision on insert.
type ErrDuplicateCode struct {
	Code string
}

func (e ErrDuplicateCode) Error() string {
	return "cash mandate code already exists: " + e.Code
}
