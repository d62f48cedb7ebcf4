package handler

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/RadiSaiyed/Shamell-sub002/internal/cashmandate"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
)

// CashService is the mandate operations surface the handler needs.
type CashService interface {
	Create(ctx context.Context, from uuid.UUID, amount int64, secret string, access guardrail.Access) (*cashmandate.Created, error)
	Redeem(ctx context.Context, code, secret string, to uuid.UUID) (*cashmandate.Receipt, error)
	Cancel(ctx context.Context, code string, caller uuid.UUID) (*engine.Result, error)
}

// CashHandler handles HTTP requests for cash pickup mandates
type CashHandler struct {
	service CashService
	logger  *slog.Logger
}

// NewCashHandler creates a new cash mandate handler
func NewCashHandler(logger *slog.Logger, service CashService) *CashHandler {
	return &CashHandler{service: service, logger: logger}
}

// Create reserves funds behind a numeric pickup code
func (h *CashHandler) Create(c *gin.Context) {
	var req CashCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	from, _ := uuid.Parse(req.From)

	created, err := h.service.Create(c.Request.Context(), from, req.Amount, req.Secret, accessFrom(c))
	if err != nil {
		h.logger.Warn("Mandate create rejected", "from", req.From, "error", err)
		RespondDomainError(c, err)
		return
	}

	RespondCreated(c, created)
}

// Redeem pays out a mandate when the agent presents the matching secret. The
// secret never appears in logs.
func (h *CashHandler) Redeem(c *gin.Context) {
	var req CashRedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	to, _ := uuid.Parse(req.To)

	receipt, err := h.service.Redeem(c.Request.Context(), req.Code, req.Secret, to)
	if err != nil {
		h.logger.Warn("Mandate redeem rejected", "code", req.Code, "error", err)
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, receipt)
}

// Cancel refunds an unredeemed mandate back to its sender
func (h *CashHandler) Cancel(c *gin.Context) {
	code := c.Param("code")

	var req CashCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	caller, _ := uuid.Parse(req.Wallet)

	res, err := h.service.Cancel(c.Request.Context(), code, caller)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, mapResultToResponse(res))
}
