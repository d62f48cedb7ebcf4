package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one signed posting against a wallet, tied to a Txn. A nil wallet
// id posts against the external/pool liability account.
type Entry struct {
	ID        int64      `json:"id"`
	TxnID     uuid.UUID  `json:"txn_id"`
	WalletID  *uuid.UUID `json:"wallet_id,omitempty"`
	Amount    int64      `json:"amount"` // signed minor units
	CreatedAt time.Time  `json:"created_at"`
}

// Balanced reports whether the entries sum to zero, the double-entry
// invariant for a single transaction.
func Balanced(entries []Entry) bool {
	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	return sum == 0
}
