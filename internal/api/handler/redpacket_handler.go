package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	redpacketdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/redpacket"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
)

// RedPacketService is the packet operations surface the handler needs.
type RedPacketService interface {
	Issue(ctx context.Context, creator uuid.UUID, amount int64, count int, mode redpacketdomain.SplitMode, access guardrail.Access) (*redpacketdomain.Packet, error)
	Claim(ctx context.Context, packetID, walletID uuid.UUID) (*redpacketdomain.Claim, error)
	Get(ctx context.Context, packetID uuid.UUID) (*redpacketdomain.Packet, []*redpacketdomain.Claim, error)
}

// RedPacketHandler handles HTTP requests for red packets
type RedPacketHandler struct {
	service RedPacketService
	logger  *slog.Logger
}

// NewRedPacketHandler creates a new red packet handler
func NewRedPacketHandler(logger *slog.Logger, service RedPacketService) *RedPacketHandler {
	return &RedPacketHandler{service: service, logger: logger}
}

// Create issues a packet, reserving the full pool from the creator
func (h *RedPacketHandler) Create(c *gin.Context) {
	var req RedPacketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	creator, _ := uuid.Parse(req.Creator)

	p, err := h.service.Issue(c.Request.Context(), creator, req.Amount, req.Count, redpacketdomain.SplitMode(req.Mode), accessFrom(c))
	if err != nil {
		h.logger.Warn("Red packet create rejected", "creator", req.Creator, "error", err)
		RespondDomainError(c, err)
		return
	}

	RespondCreated(c, mapPacketToResponse(p, nil))
}

// Claim draws one share from a packet for the presenting wallet. A repeat
// claim returns the wallet's original share.
func (h *RedPacketHandler) Claim(c *gin.Context) {
	packetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid packet ID")
		return
	}

	var req RedPacketClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	walletID, _ := uuid.Parse(req.Wallet)

	claim, err := h.service.Claim(c.Request.Context(), packetID, walletID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, mapClaimToResponse(claim))
}

// Get returns a packet with its claims
func (h *RedPacketHandler) Get(c *gin.Context) {
	packetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, "Invalid packet ID")
		return
	}

	p, claims, err := h.service.Get(c.Request.Context(), packetID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}

	RespondOK(c, mapPacketToResponse(p, claims))
}

func mapPacketToResponse(p *redpacketdomain.Packet, claims []*redpacketdomain.Claim) RedPacketResponse {
	r := RedPacketResponse{
		ID:            p.ID.String(),
		CreatorWallet: p.CreatorWallet.String(),
		Total:         p.Total,
		Remaining:     p.Remaining,
		Count:         p.Count,
		Claimed:       p.Claimed,
		Mode:          string(p.Mode),
		Currency:      p.Currency,
		Status:        string(p.Status),
		ExpiresAt:     p.ExpiresAt.Format(time.RFC3339),
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
	if p.ResolvedAt != nil {
		r.ResolvedAt = p.ResolvedAt.Format(time.RFC3339)
	}
	for _, cl := range claims {
		r.Claims = append(r.Claims, mapClaimToResponse(cl))
	}
	return r
}

func mapClaimToResponse(cl *redpacketdomain.Claim) RedPacketClaimDTO {
	return RedPacketClaimDTO{
		WalletID:   cl.WalletID.String(),
		Amount:     cl.Amount,
		ClaimIndex: cl.ClaimIndex,
		CreatedAt:  cl.CreatedAt.Format(time.RFC3339),
	}
}
