// Package ledger holds the immutable transaction record and the double-entry
// rows behind every balance. A Txn is written exactly once together with its
// entries; the entries for one Txn always sum to zero.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// TxnKind is the closed set of money-movement kinds. Fee policy and event
// payloads switch exhaustively on it, so adding a kind forces a decision in
// each place.
type TxnKind string

const (
	KindTopup           TxnKind = "topup"
	KindTransfer        TxnKind = "transfer"
	KindBill            TxnKind = "bill"
	KindSavingsDeposit  TxnKind = "savings_deposit"
	KindSavingsWithdraw TxnKind = "savings_withdraw"
	KindRedPacket       TxnKind = "redpacket"
	KindSonic           TxnKind = "sonic"
	KindCash            TxnKind = "cash"
	KindVoucher         TxnKind = "voucher"
)

// Valid reports whether k is a known kind.
func (k TxnKind) Valid() bool {
	switch k {
	case KindTopup, KindTransfer, KindBill, KindSavingsDeposit, KindSavingsWithdraw,
		KindRedPacket, KindSonic, KindCash, KindVoucher:
		return true
	}
	return false
}

// FeeApplies reports whether the per-transaction fee policy covers this kind.
// Observed product behavior: fees only on transfer and bill payments.
func (k TxnKind) FeeApplies() bool {
	switch k {
	case KindTransfer, KindBill:
		return true
	case KindTopup, KindSavingsDeposit, KindSavingsWithdraw, KindRedPacket,
		KindSonic, KindCash, KindVoucher:
		return false
	}
	return false
}

// Txn records one completed money movement. A nil source or destination
// wallet means the external/pool side.
type Txn struct {
	ID           uuid.UUID  `json:"id"`
	SourceWallet *uuid.UUID `json:"source_wallet,omitempty"`
	DestWallet   *uuid.UUID `json:"dest_wallet,omitempty"`
	Amount       int64      `json:"amount"`
	Fee          int64      `json:"fee"`
	Kind         TxnKind    `json:"kind"`
	Currency     string     `json:"currency"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewTxn builds an immutable transaction record.
func NewTxn(kind TxnKind, source, dest *uuid.UUID, amount, fee int64, currency string) *Txn {
	return &Txn{
		ID:           uuid.New(),
		SourceWallet: source,
		DestWallet:   dest,
		Amount:       amount,
		Fee:          fee,
		Kind:         kind,
		Currency:     currency,
		CreatedAt:    time.Now().UTC(),
	}
}
