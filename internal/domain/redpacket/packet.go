// Package redpacket holds the pooled-gift aggregate: a reserved lump sum
// drawn down first-come-first-served by a bounded number of claimants.
package redpacket

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SplitMode selects how the pool is divided between claimants.
type SplitMode string

const (
	SplitFixed  SplitMode = "fixed"
	SplitRandom SplitMode = "random"
)

// Valid reports whether m is a known split mode.
func (m SplitMode) Valid() bool {
	return m == SplitFixed || m == SplitRandom
}

// Status is the packet state machine: active -> exhausted | expired |
// cancelled.
type Status string

const (
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Packet is one pooled gift. Conservation invariant: the claimed shares plus
// Remaining always equal Total.
type Packet struct {
	ID            uuid.UUID  `json:"id"`
	CreatorWallet uuid.UUID  `json:"creator_wallet"`
	Total         int64      `json:"total"`
	Remaining     int64      `json:"remaining"`
	Count         int        `json:"count"`
	Claimed       int        `json:"claimed"`
	Mode          SplitMode  `json:"mode"`
	Currency      string     `json:"currency"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Expired reports whether the packet has passed its expiry.
func (p *Packet) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// SlotsLeft returns the number of unclaimed slots.
func (p *Packet) SlotsLeft() int {
	return p.Count - p.Claimed
}

// Claim is one wallet's share of a packet. At most one claim per wallet.
type Claim struct {
	ID         int64     `json:"id"`
	PacketID   uuid.UUID `json:"packet_id"`
	WalletID   uuid.UUID `json:"wallet_id"`
	Amount     int64     `json:"amount"`
	ClaimIndex int       `json:"claim_index"` // 1-based draw order
	CreatedAt  time.Time `json:"created_at"`
}

// Repository persists packets and claims
type Repository interface {
	Create(ctx context.Context, p *Packet) error

	// LockByID acquires the packet row for the enclosing transaction so the
	// draw-down is serialized.
	LockByID(ctx context.Context, id uuid.UUID) (*Packet, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Packet, error)

	// Update persists remaining amount, claimed count, status and resolved
	// timestamp after a claim or expiry transition.
	Update(ctx context.Context, p *Packet) error

	// GetClaim returns nil, nil when the wallet has not claimed.
	GetClaim(ctx context.Context, packetID, walletID uuid.UUID) (*Claim, error)
	CreateClaim(ctx context.Context, c *Claim) error
	ListClaims(ctx context.Context, packetID uuid.UUID) ([]*Claim, error)

	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Packet, error)

	WithTx(tx pgx.Tx) Repository
}

// ErrPacketNotFound indicates a missing packet
type ErrPacketNotFound struct {
	PacketID uuid.UUID
}

func (e ErrPacketNotFound) Error() string {
	return "red packet not found: " + e.PacketID.String()
}

// Is matches any ErrPacketNotFound when the target carries a nil id.
func (e ErrPacketNotFound) Is(target error) bool {
	t, ok := target.(ErrPacketNotFound)
	if !ok {
		return false
	}
	return t.PacketID == uuid.Nil || t.PacketID == e.PacketID
}

// ErrDuplicateClaim indicates the wallet already holds a claim; callers treat
// this as an idempotent replay, not a failure.
type ErrDuplicateClaim struct {
	PacketID uuid.UUID
	WalletID uuid.UUID
}

func (e ErrDuplicateClaim) Error() string {
	return "wallet already claimed packet: " + e.WalletID.String()
}
