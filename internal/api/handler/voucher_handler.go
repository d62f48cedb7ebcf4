package handler

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
	"github.com/RadiSaiyed/Shamell-sub002/internal/voucher"
)

// VoucherService is the voucher operations surface the handler needs.
type VoucherService interface {
	CreateBatch(ctx context.Context, amount int64, count int, funding *uuid.UUID, access guardrail.Access) ([]voucher.Issued, error)
	Redeem(ctx context.Context, code string, amount int64, sig string, to uuid.UUID, key string) (*engine.Result, error)
	Void(ctx context.Context, code string) error
}

// VoucherHandler handles HTTP requests for topup voucher batches
type VoucherHandler struct {
	service VoucherService
	logger  *slog.Logger
}

// NewVoucherHandler creates a new voucher handler
func NewVoucherHandler(logger *slog.Logger, service VoucherService) *VoucherHandler {
	return &VoucherHandler{service: service, logger: logger}
}

// CreateBatch mints a batch of signed voucher codes
func (h *VoucherHandler) CreateBatch(c *gin.Context) {
	var req VoucherBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	var funding *uuid.UUID
	if req.FundingWallet != nil {
		id, err := uuid.Parse(*req.FundingWallet)
		if err != nil {
			RespondBadRequest(c, "Invalid funding wallet ID")
			return
		}
		funding = &id
	}

	issued, err := h.service.CreateBatch(c.Request.Context(), req.Amount, req.Count, funding, accessFrom(c))
	if err != nil {
		h.logger.Warn("Voucher batch rejected", "count", req.Count, "error", err)
		RespondDomainError(c, err)
		return
	}

	RespondCreated(c, gin.H{"vouchers": issued})
}

// Redeem credits a voucher's value to the presenting wallet
func (h *VoucherHandler) Redeem(c *gin.Context) {
	var req VoucherRedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	to, _ := uuid.Parse(req.To)

	res, err := h.service.Redeem(c.Request.Context(), req.Code, req.Amount, req.Sig, to, idempotencyKey(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, mapResultToResponse(res))
}

// Void retires an unredeemed voucher, refunding its funder when funded
func (h *VoucherHandler) Void(c *gin.Context) {
	code := c.Param("code")

	if err := h.service.Void(c.Request.Context(), code); err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, gin.H{"code": code, "status": "voided"})
}
