package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
)

// Status defines message publishing states
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusProcessed       Status = "PROCESSED"
	StatusFailedToPublish Status = "FAILED_TO_PUBLISH"
)

// TxnEvent is the payload published to vertical services after a money
// movement commits.
type TxnEvent struct {
	TxnID        uuid.UUID      `json:"txn_id"`
	Kind         ledger.TxnKind `json:"kind"`
	SourceWallet *uuid.UUID     `json:"source_wallet,omitempty"`
	DestWallet   *uuid.UUID     `json:"dest_wallet,omitempty"`
	Amount       int64          `json:"amount"`
	Fee          int64          `json:"fee"`
	Currency     string         `json:"currency"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Message stores one committed transaction event for reliable publishing.
// It is written in the same database transaction as the ledger rows.
type Message struct {
	ID            int64           `json:"id"`
	TxnID         uuid.UUID       `json:"txn_id"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	CreatedAt     time.Time       `json:"created_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
}

// NewMessage builds a pending outbox message from a committed transaction.
func NewMessage(txn *ledger.Txn) (*Message, error) {
	event := TxnEvent{
		TxnID:        txn.ID,
		Kind:         txn.Kind,
		SourceWallet: txn.SourceWallet,
		DestWallet:   txn.DestWallet,
		Amount:       txn.Amount,
		Fee:          txn.Fee,
		Currency:     txn.Currency,
		OccurredAt:   txn.CreatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &Message{
		TxnID:     txn.ID,
		Payload:   payload,
		Status:    StatusPending,
		Attempts:  0,
		CreatedAt: time.Now(),
	}, nil
}

func (m *Message) IncrementAttempts() {
	m.Attempts++
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsProcessed() {
	m.Status = StatusProcessed
	now := time.Now()
	m.LastAttemptAt = &now
}

func (m *Message) MarkAsFailed() {
	m.Status = StatusFailedToPublish
	now := time.Now()
	m.LastAttemptAt = &now
}

// Event unmarshals the stored payload.
func (m *Message) Event() (*TxnEvent, error) {
	var event TxnEvent
	if err := json.Unmarshal(m.Payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
