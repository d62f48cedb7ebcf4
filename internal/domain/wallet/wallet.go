package wallet

import (
	"time"

	"github.com/google/uuid"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
)

// KYC tiers. The tier bounds per-transaction and rolling daily outbound caps,
// looked up in the guardrail configuration.
const (
	TierUnverified = 0
	TierBasic      = 1
	TierFull       = 2
)

// User is an account holder. Each user owns exactly one wallet, created
// together with the user.
type User struct {
	ID        uuid.UUID `json:"id"`
	Phone     string    `json:"phone"`
	KYCTier   int       `json:"kyc_tier"`
	CreatedAt time.Time `json:"created_at"`
}

// Wallet is a balance bucket. Balance and Savings are minor currency units
// and never go negative.
type Wallet struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Balance   int64     `json:"balance"`
	Savings   int64     `json:"savings"`
	Currency  string    `json:"currency"`
	Version   int       `json:"version"` // optimistic lock guard on balance writes
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the read shape handed back to vertical services after any
// money movement.
type Snapshot struct {
	WalletID uuid.UUID `json:"wallet_id"`
	Balance  int64     `json:"balance"`
	Savings  int64     `json:"savings"`
	Currency string    `json:"currency"`
}

// NewUser creates a user together with their wallet.
func NewUser(phone, currency string) (*User, *Wallet) {
	now := time.Now().UTC()
	u := &User{
		ID:        uuid.New(),
		Phone:     phone,
		KYCTier:   TierUnverified,
		CreatedAt: now,
	}
	w := &Wallet{
		ID:        uuid.New(),
		UserID:    u.ID,
		Currency:  currency,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return u, w
}

// Snapshot returns the wallet's current read shape.
func (w *Wallet) Snapshot() Snapshot {
	return Snapshot{WalletID: w.ID, Balance: w.Balance, Savings: w.Savings, Currency: w.Currency}
}

// Credit adds amount to the main balance.
func (w *Wallet) Credit(amount int64) error {
	if amount <= 0 {
		return shared.ErrInvalidAmount
	}
	w.Balance += amount
	w.touch()
	return nil
}

// Debit removes amount from the main balance, refusing to go negative.
func (w *Wallet) Debit(amount int64) error {
	if amount <= 0 {
		return shared.ErrInvalidAmount
	}
	if w.Balance < amount {
		return shared.ErrInsufficientFunds
	}
	w.Balance -= amount
	w.touch()
	return nil
}

// MoveToSavings shifts amount from the main balance into savings.
func (w *Wallet) MoveToSavings(amount int64) error {
	if err := w.Debit(amount); err != nil {
		return err
	}
	w.Savings += amount
	return nil
}

// MoveFromSavings shifts amount from savings back into the main balance.
func (w *Wallet) MoveFromSavings(amount int64) error {
	if amount <= 0 {
		return shared.ErrInvalidAmount
	}
	if w.Savings < amount {
		return shared.ErrInsufficientFunds
	}
	w.Savings -= amount
	w.Balance += amount
	w.touch()
	return nil
}

func (w *Wallet) touch() {
	w.UpdatedAt = time.Now().UTC()
	w.Version++
}
