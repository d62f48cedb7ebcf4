// Package idempotency maps caller-supplied keys to the outcome of the first
// execution of a write operation. Records are append-only and scoped per
// endpoint: the same key on a different endpoint is unrelated.
package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Record captures the outcome snapshot of the first successful execution.
// The payload is deliberately not part of the identity: the key alone gates
// retries, and replays return this snapshot verbatim.
type Record struct {
	Key       string    `json:"key"`
	Endpoint  string    `json:"endpoint"`
	TxnID     uuid.UUID `json:"txn_id"`
	WalletID  uuid.UUID `json:"wallet_id"`
	Balance   int64     `json:"balance"`
	Savings   int64     `json:"savings"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists idempotency records. Create inside the same database
// transaction as the mutation it guards; a losing concurrent retry surfaces
// ErrDuplicateKey and must re-read the winner's record.
type Repository interface {
	// Get returns nil, nil when the key has not been seen on the endpoint.
	Get(ctx context.Context, endpoint, key string) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	WithTx(tx pgx.Tx) Repository
}

// ErrDuplicateKey indicates the (endpoint, key) pair was already recorded.
type ErrDuplicateKey struct {
	Endpoint string
	Key      string
}

func (e ErrDuplicateKey) Error() string {
	return "idempotency key already recorded: " + e.Endpoint + "/" + e.Key
}

// Is matches any ErrDuplicateKey when the target carries no key.
func (e ErrDuplicateKey) Is(target error) bool {
	t, ok := target.(ErrDuplicateKey)
	if !ok {
		return false
	}
	return t.Key == "" || (t.Key == e.Key && t.Endpoint == e.Endpoint)
}
