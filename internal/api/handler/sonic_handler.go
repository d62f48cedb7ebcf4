package handler

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
	"github.com/RadiSaiyed/Shamell-sub002/internal/sonic"
)

// SonicService is the token operations surface the handler needs.
type SonicService interface {
	Issue(ctx context.Context, from uuid.UUID, amount int64, access guardrail.Access) (*sonic.Issued, error)
	Redeem(ctx context.Context, token string, to uuid.UUID, key string) (*engine.Result, error)
	Cancel(ctx context.Context, token string, caller uuid.UUID) (*engine.Result, error)
}

// SonicHandler handles HTTP requests for signed transfer tokens
type SonicHandler struct {
	service SonicService
	logger  *slog.Logger
}

// NewSonicHandler creates a new sonic token handler
func NewSonicHandler(logger *slog.Logger, service SonicService) *SonicHandler {
	return &SonicHandler{service: service, logger: logger}
}

// Issue reserves funds behind a fresh signed token
func (h *SonicHandler) Issue(c *gin.Context) {
	var req SonicIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	from, _ := uuid.Parse(req.From)

	issued, err := h.service.Issue(c.Request.Context(), from, req.Amount, accessFrom(c))
	if err != nil {
		h.logger.Warn("Token issue rejected", "from", req.From, "error", err)
		RespondDomainError(c, err)
		return
	}

	RespondCreated(c, issued)
}

// Redeem pays a token's reserved funds to the presenting wallet
func (h *SonicHandler) Redeem(c *gin.Context) {
	var req SonicRedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	to, _ := uuid.Parse(req.To)

	res, err := h.service.Redeem(c.Request.Context(), req.Token, to, idempotencyKey(c))
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, mapResultToResponse(res))
}

// Cancel refunds an unredeemed token back to its issuer
func (h *SonicHandler) Cancel(c *gin.Context) {
	var req SonicCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	caller, _ := uuid.Parse(req.Wallet)

	res, err := h.service.Cancel(c.Request.Context(), req.Token, caller)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, mapResultToResponse(res))
}
