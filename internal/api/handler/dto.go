package handler

import (
	"time"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
)

// CreateUserRequest represents a request to register a user with their wallet
type CreateUserRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// UserResponse represents a user and their wallet in API responses
type UserResponse struct {
	ID        string         `json:"id"`
	Phone     string         `json:"phone"`
	KYCTier   int            `json:"kyc_tier"`
	CreatedAt string         `json:"created_at"`
	Wallet    WalletResponse `json:"wallet"`
}

// WalletResponse represents a wallet in API responses
type WalletResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Balance   int64  `json:"balance"`
	Savings   int64  `json:"savings"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// TransferRequest represents a wallet-to-wallet transfer
type TransferRequest struct {
	From   string `json:"from" binding:"required,uuid"`
	To     string `json:"to" binding:"required,uuid"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
}

// TopupRequest represents a development credit from the external account
type TopupRequest struct {
	Wallet string `json:"wallet" binding:"required,uuid"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
}

// SavingsRequest represents a move between the main balance and savings
type SavingsRequest struct {
	Wallet string `json:"wallet" binding:"required,uuid"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
}

// BillPayRequest represents a bill payment towards an external biller. The
// biller reference is recorded for support lookups, settlement happens out of
// band through the external account.
type BillPayRequest struct {
	From   string `json:"from" binding:"required,uuid"`
	Biller string `json:"to" binding:"required"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
}

// PostingResponse represents the outcome of any money movement
type PostingResponse struct {
	TxnID    string           `json:"txn_id"`
	Replayed bool             `json:"replayed"`
	Wallet   SnapshotResponse `json:"wallet"`
}

// SnapshotResponse represents a wallet snapshot after a posting
type SnapshotResponse struct {
	WalletID string `json:"wallet_id"`
	Balance  int64  `json:"balance"`
	Savings  int64  `json:"savings"`
	Currency string `json:"currency"`
}

// TxnResponse represents a ledger transaction in API responses
type TxnResponse struct {
	ID           string `json:"id"`
	SourceWallet string `json:"source_wallet,omitempty"`
	DestWallet   string `json:"dest_wallet,omitempty"`
	Amount       int64  `json:"amount"`
	Fee          int64  `json:"fee"`
	Kind         string `json:"kind"`
	Currency     string `json:"currency"`
	CreatedAt    string `json:"created_at"`
}

// TxnListResponse represents a page of ledger transactions
type TxnListResponse struct {
	Txns []TxnResponse `json:"txns"`
}

// DriftRowResponse represents one wallet whose balance disagrees with its
// entry sum
type DriftRowResponse struct {
	WalletID string `json:"wallet_id"`
	Balance  int64  `json:"balance"`
	EntrySum int64  `json:"entry_sum"`
	Delta    int64  `json:"delta"`
}

// DriftResponse represents a reconciliation report
type DriftResponse struct {
	Drift []DriftRowResponse `json:"drift"`
}

// SonicIssueRequest represents a request to issue a signed transfer token
type SonicIssueRequest struct {
	From   string `json:"from" binding:"required,uuid"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
}

// SonicRedeemRequest represents a token redemption
type SonicRedeemRequest struct {
	Token string `json:"token" binding:"required"`
	To    string `json:"to" binding:"required,uuid"`
}

// SonicCancelRequest represents an issuer reclaiming an unredeemed token
type SonicCancelRequest struct {
	Token  string `json:"token" binding:"required"`
	Wallet string `json:"wallet" binding:"required,uuid"`
}

// CashCreateRequest represents a request to place a cash pickup mandate
type CashCreateRequest struct {
	From   string `json:"from" binding:"required,uuid"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Secret string `json:"secret" binding:"required"`
}

// CashRedeemRequest represents an agent paying out a mandate
type CashRedeemRequest struct {
	Code   string `json:"code" binding:"required"`
	Secret string `json:"secret" binding:"required"`
	To     string `json:"to" binding:"required,uuid"`
}

// CashCancelRequest identifies the sender reclaiming an unredeemed mandate
type CashCancelRequest struct {
	Wallet string `json:"wallet" binding:"required,uuid"`
}

// VoucherBatchRequest represents a request to mint a voucher batch. With a
// funding wallet the batch value is reserved up front; without one the
// vouchers are paid from the external account at redemption.
type VoucherBatchRequest struct {
	Amount        int64   `json:"amount" binding:"required,gt=0"`
	Count         int     `json:"count" binding:"required,gt=0"`
	FundingWallet *string `json:"funding_wallet,omitempty" binding:"omitempty,uuid"`
}

// VoucherRedeemRequest represents a voucher redemption
type VoucherRedeemRequest struct {
	Code   string `json:"code" binding:"required"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Sig    string `json:"sig" binding:"required"`
	To     string `json:"to" binding:"required,uuid"`
}

// RedPacketCreateRequest represents a request to issue a red packet
type RedPacketCreateRequest struct {
	Creator string `json:"creator" binding:"required,uuid"`
	Amount  int64  `json:"amount" binding:"required,gt=0"`
	Count   int    `json:"count" binding:"required,gt=0"`
	Mode    string `json:"mode" binding:"required,oneof=fixed random"`
}

// RedPacketClaimRequest represents a wallet drawing a share from a packet
type RedPacketClaimRequest struct {
	Wallet string `json:"wallet" binding:"required,uuid"`
}

// RedPacketResponse represents a packet in API responses
type RedPacketResponse struct {
	ID            string              `json:"id"`
	CreatorWallet string              `json:"creator_wallet"`
	Total         int64               `json:"total"`
	Remaining     int64               `json:"remaining"`
	Count         int                 `json:"count"`
	Claimed       int                 `json:"claimed"`
	Mode          string              `json:"mode"`
	Currency      string              `json:"currency"`
	Status        string              `json:"status"`
	ExpiresAt     string              `json:"expires_at"`
	CreatedAt     string              `json:"created_at"`
	ResolvedAt    string              `json:"resolved_at,omitempty"`
	Claims        []RedPacketClaimDTO `json:"claims,omitempty"`
}

// RedPacketClaimDTO represents a claim in API responses
type RedPacketClaimDTO struct {
	WalletID   string `json:"wallet_id"`
	Amount     int64  `json:"amount"`
	ClaimIndex int    `json:"claim_index"`
	CreatedAt  string `json:"created_at"`
}

func mapWalletToResponse(w *wallet.Wallet) WalletResponse {
	return WalletResponse{
		ID:        w.ID.String(),
		UserID:    w.UserID.String(),
		Balance:   w.Balance,
		Savings:   w.Savings,
		Currency:  w.Currency,
		CreatedAt: w.CreatedAt.Format(time.RFC3339),
		UpdatedAt: w.UpdatedAt.Format(time.RFC3339),
	}
}

func mapSnapshotToResponse(s wallet.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		WalletID: s.WalletID.String(),
		Balance:  s.Balance,
		Savings:  s.Savings,
		Currency: s.Currency,
	}
}

func mapResultToResponse(res *engine.Result) PostingResponse {
	return PostingResponse{
		TxnID:    res.TxnID.String(),
		Replayed: res.Replayed,
		Wallet:   mapSnapshotToResponse(res.Snapshot),
	}
}

func mapTxnToResponse(t *ledger.Txn) TxnResponse {
	r := TxnResponse{
		ID:        t.ID.String(),
		Amount:    t.Amount,
		Fee:       t.Fee,
		Kind:      string(t.Kind),
		Currency:  t.Currency,
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
	if t.SourceWallet != nil {
		r.SourceWallet = t.SourceWallet.String()
	}
	if t.DestWallet != nil {
		r.DestWallet = t.DestWallet.String()
	}
	return r
}
