package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
)

// IdempotencyKeyHeader carries the client's retry key on mutating endpoints.
const IdempotencyKeyHeader = "Idempotency-Key"

const defaultTxnLimit = 50

// WalletService is the slice of the ledger engine the wallet endpoints use.
type WalletService interface {
	CreateUser(ctx context.Context, phone string) (*wallet.User, *wallet.Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error)
	ListTxns(ctx context.Context, walletID uuid.UUID, limit int) ([]*ledger.Txn, error)
	Transfer(ctx context.Context, from, to uuid.UUID, amount int64, key string, access guardrail.Access) (*engine.Result, error)
	Topup(ctx context.Context, walletID uuid.UUID, amount int64, key string) (*engine.Result, error)
	BillPay(ctx context.Context, walletID uuid.UUID, amount int64, key string, access guardrail.Access) (*engine.Result, error)
	SavingsDeposit(ctx context.Context, walletID uuid.UUID, amount int64, key string) (*engine.Result, error)
	SavingsWithdraw(ctx context.Context, walletID uuid.UUID, amount int64, key string) (*engine.Result, error)
	Drift(ctx context.Context) ([]ledger.DriftRow, error)
}

// WalletHandler handles HTTP requests for users, wallets and core postings
type WalletHandler struct {
	engine WalletService
	logger *slog.Logger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(logger *slog.Logger, eng WalletService) *WalletHandler {
	return &WalletHandler{engine: eng, logger: logger}
}

// accessFrom builds the guardrail access context from the request.
func accessFrom(c *gin.Context) guardrail.Access {
	return guardrail.Access{
		DeviceID:  c.GetHeader("X-Device-ID"),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func idempotencyKey(c *gin.Context) string {
	return c.GetHeader(IdempotencyKeyHeader)
}

// CreateUser registers a user and their wallet, rejecting duplicate phones
func (h *WalletHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	u, w, err := h.engine.CreateUser(c.Request.Context(), req.Phone)
	if err != nil {
		var dup wallet.ErrDuplicatePhone
		if errors.As(err, &dup) {
			RespondWithError(c, http.StatusConflict, "CONFLICT", "User with this phone already exists")
			return
		}
		h.logger.Error("Failed to create user", "error", err)
		RespondDomainError(c, err)
		return
	}

	RespondCreated(c, UserResponse{
		ID:        u.ID.String(),
		Phone:     u.Phone,
		KYCTier:   u.KYCTier,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
		Wallet:    mapWalletToResponse(w),
	})
}

// GetWallet retrieves a wallet by its ID
func (h *WalletHandler) GetWallet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid wallet ID")
		return
	}

	w, err := h.engine.GetWallet(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, mapWalletToResponse(w))
}

// ListTxns returns the most recent transactions touching a wallet
func (h *WalletHandler) ListTxns(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid wallet ID")
		return
	}

	limit := defaultTxnLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			RespondBadRequest(c, "Invalid limit")
			return
		}
	}

	txns, err := h.engine.ListTxns(c.Request.Context(), id, limit)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	resp := TxnListResponse{Txns: make([]TxnResponse, 0, len(txns))}
	for _, t := range txns {
		resp.Txns = append(resp.Txns, mapTxnToResponse(t))
	}
	RespondOK(c, resp)
}

// Transfer moves funds between two wallets
func (h *WalletHandler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	from, _ := uuid.Parse(req.From)
	to, _ := uuid.Parse(req.To)

	res, err := h.engine.Transfer(c.Request.Context(), from, to, req.Amount, idempotencyKey(c), accessFrom(c))
	if err != nil {
		h.logger.Warn("Transfer rejected", "from", req.From, "to", req.To, "error", err)
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, mapResultToResponse(res))
}

// Topup credits a wallet from the external account
func (h *WalletHandler) Topup(c *gin.Context) {
	var req TopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	walletID, _ := uuid.Parse(req.Wallet)

	res, err := h.engine.Topup(c.Request.Context(), walletID, req.Amount, idempotencyKey(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, mapResultToResponse(res))
}

// SavingsDeposit shifts funds from the main balance into savings
func (h *WalletHandler) SavingsDeposit(c *gin.Context) {
	h.savings(c, h.engine.SavingsDeposit)
}

// SavingsWithdraw shifts funds from savings back into the main balance
func (h *WalletHandler) SavingsWithdraw(c *gin.Context) {
	h.savings(c, h.engine.SavingsWithdraw)
}

func (h *WalletHandler) savings(c *gin.Context, move func(context.Context, uuid.UUID, int64, string) (*engine.Result, error)) {
	var req SavingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	walletID, _ := uuid.Parse(req.Wallet)

	res, err := move(c.Request.Context(), walletID, req.Amount, idempotencyKey(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, mapResultToResponse(res))
}

// BillPay debits a wallet towards an external biller
func (h *WalletHandler) BillPay(c *gin.Context) {
	var req BillPayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	from, _ := uuid.Parse(req.From)

	res, err := h.engine.BillPay(c.Request.Context(), from, req.Amount, idempotencyKey(c), accessFrom(c))
	if err != nil {
		h.logger.Warn("Bill payment rejected", "from", req.From, "biller", req.Biller, "error", err)
		RespondDomainError(c, err)
		return
	}

	h.logger.Info("Bill paid", "from", req.From, "biller", req.Biller, "txn_id", res.TxnID.String())
	RespondOK(c, mapResultToResponse(res))
}

// Drift reports wallets whose balance disagrees with their ledger entry sum
func (h *WalletHandler) Drift(c *gin.Context) {
	rows, err := h.engine.Drift(c.Request.Context())
	if err != nil {
		h.logger.Error("Drift scan failed", "error", err)
		RespondInternalError(c)
		return
	}

	resp := DriftResponse{Drift: make([]DriftRowResponse, 0, len(rows))}
	for _, r := range rows {
		resp.Drift = append(resp.Drift, DriftRowResponse{
			WalletID: r.WalletID.String(),
			Balance:  r.Balance,
			EntrySum: r.EntrySum,
			Delta:    r.Delta,
		})
	}
	RespondOK(c, resp)
}
