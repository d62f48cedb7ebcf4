// Package audit holds the trail of guardrail and reconciliation events.
// It is intentionally separate from request logging: risk rejections and
// ledger drift are operational signals, not errors.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind classifies audit events.
type Kind string

const (
	KindGuardrailRejection Kind = "guardrail_rejection"
	KindRiskBlock          Kind = "risk_block"
	KindDenylistBlock      Kind = "denylist_block"
	KindLedgerDrift        Kind = "ledger_drift"
)

// Event is one audit trail record.
type Event struct {
	ID        uuid.UUID  `json:"id" bson:"_id"`
	Kind      Kind       `json:"kind" bson:"kind"`
	Rule      string     `json:"rule,omitempty" bson:"rule,omitempty"`
	WalletID  *uuid.UUID `json:"wallet_id,omitempty" bson:"wallet_id,omitempty"`
	DeviceID  string     `json:"device_id,omitempty" bson:"device_id,omitempty"`
	IP        string     `json:"ip,omitempty" bson:"ip,omitempty"`
	Amount    int64      `json:"amount,omitempty" bson:"amount,omitempty"`
	Detail    string     `json:"detail,omitempty" bson:"detail,omitempty"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
}

// NewEvent builds an audit event stamped with id and time.
func NewEvent(kind Kind, rule string) *Event {
	return &Event{
		ID:        uuid.New(),
		Kind:      kind,
		Rule:      rule,
		CreatedAt: time.Now().UTC(),
	}
}

// Recorder is the write side used by the guardrail engine and the reaper.
// Recording is best-effort: failures are logged, never propagated into the
// money path.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// Repository persists and queries the audit trail
type Repository interface {
	Recorder
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]*Event, error)
	ListRecent(ctx context.Context, kind Kind, limit int) ([]*Event, error)
}
