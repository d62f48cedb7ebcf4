package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines user and wallet persistence operations
type Repository interface {
	// CreateUserWithWallet inserts the user and their wallet atomically.
	CreateUserWithWallet(ctx context.Context, u *User, w *Wallet) error

	// GetUserByPhone returns nil, nil when no user has the phone.
	GetUserByPhone(ctx context.Context, phone string) (*User, error)

	// GetUserByWallet resolves the owner of a wallet (KYC tier lookups).
	GetUserByWallet(ctx context.Context, walletID uuid.UUID) (*User, error)

	GetWallet(ctx context.Context, id uuid.UUID) (*Wallet, error)

	// LockWallet acquires an exclusive row lock for the duration of the
	// enclosing transaction. Callers lock multiple wallets in id order.
	LockWallet(ctx context.Context, id uuid.UUID) (*Wallet, error)

	// UpdateBalances persists balance, savings and version with an
	// optimistic version check on top of the row lock.
	UpdateBalances(ctx context.Context, w *Wallet) error

	WithTx(tx pgx.Tx) Repository
}

// ErrWalletNotFound indicates a missing wallet
type ErrWalletNotFound struct {
	WalletID uuid.UUID
}

func (e ErrWalletNotFound) Error() string {
	return "wallet not found: " + e.WalletID.String()
}

// Is matches any ErrWalletNotFound when the target carries a nil id.
func (e ErrWalletNotFound) Is(target error) bool {
	t, ok := target.(ErrWalletNotFound)
	if !ok {
		return false
	}
	return t.WalletID == uuid.Nil || t.WalletID == e.WalletID
}

// ErrUserNotFound indicates a missing user
type ErrUserNotFound struct {
	UserID uuid.UUID
}

func (e ErrUserNotFound) Error() string {
	return "user not found: " + e.UserID.String()
}

// ErrDuplicatePhone indicates phone uniqueness violation
type ErrDuplicatePhone struct {
	Phone string
}

func (e ErrDuplicatePhone) Error() string {
	return "user with phone already exists: " + e.Phone
}

// ErrConcurrentModification indicates the optimistic version check failed
type ErrConcurrentModification struct {
	WalletID uuid.UUID
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification detected for wallet: " + e.WalletID.String()
}
