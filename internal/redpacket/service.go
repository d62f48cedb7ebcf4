// Package redpacket implements the pooled gift: a creator reserves a lump
// sum that a bounded number of wallets draw down first-come-first-served,
// split fixed or randomly. The packet row is locked for every draw, so the
// conservation invariant (claims + remaining == total) holds under
// concurrent claims.
package redpacket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	redpacketdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/redpacket"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
)

// ErrAmountBelowCount rejects packets that cannot give every slot at least
// one unit.
var ErrAmountBelowCount = errors.New("amount must be at least the claim count")

// Poster is the slice of the ledger engine the packet protocol needs. Claims
// run inside their own transaction holding the packet lock, so they use the
// in-transaction posting core rather than Execute.
type Poster interface {
	Execute(ctx context.Context, op engine.Op) (*engine.Result, error)
	PostInTx(ctx context.Context, tx pgx.Tx, op engine.Op) (*wallet.Snapshot, *ledger.Txn, error)
}

// Service issues and draws down red packets.
type Service struct {
	logger   *slog.Logger
	db       engine.TxManager
	engine   Poster
	packets  redpacketdomain.Repository
	cfg      *config.RedPacketConfig
	currency string
	now      func() time.Time
	draw     func(max int64) int64
}

// NewService creates the red packet service.
func NewService(logger *slog.Logger, db engine.TxManager, eng Poster, packets redpacketdomain.Repository, cfg *config.RedPacketConfig, currency string) *Service {
	return &Service{
		logger:   logger,
		db:       db,
		engine:   eng,
		packets:  packets,
		cfg:      cfg,
		currency: currency,
		now:      time.Now,
		draw:     uniformDraw,
	}
}

// Issue reserves the pool out of the creator's wallet. The amount must
// cover at least one unit per slot.
func (s *Service) Issue(ctx context.Context, creator uuid.UUID, amount int64, count int, mode redpacketdomain.SplitMode, access guardrail.Access) (*redpacketdomain.Packet, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown split mode %q", mode)
	}
	if count <= 0 || count > s.cfg.MaxCount {
		return nil, fmt.Errorf("claim count must be between 1 and %d", s.cfg.MaxCount)
	}
	// Fixed splits of less than one unit per slot floor to zero, so both
	// modes need the pool to cover every slot.
	if amount < int64(count) {
		return nil, ErrAmountBelowCount
	}

	packet := &redpacketdomain.Packet{
		ID:            uuid.New(),
		CreatorWallet: creator,
		Total:         amount,
		Remaining:     amount,
		Count:         count,
		Mode:          mode,
		Currency:      s.currency,
		ExpiresAt:     s.now().Add(s.cfg.TTL).UTC(),
		Status:        redpacketdomain.StatusActive,
		CreatedAt:     s.now().UTC(),
	}

	_, err := s.engine.Execute(ctx, engine.Op{
		Endpoint: "redpackets/create",
		Kind:     ledger.KindRedPacket,
		Source:   &creator,
		Amount:   amount,
		Access:   access,
		Within: func(ctx context.Context, tx pgx.Tx, _ *ledger.Txn) error {
			return s.packets.WithTx(tx).Create(ctx, packet)
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Red packet issued",
		"packet_id", packet.ID,
		"wallet_id", creator,
		"amount", amount,
		"count", count,
		"mode", mode)
	return packet, nil
}

// Claim draws one share for the wallet. Claims are idempotent per wallet:
// a wallet that already drew gets its existing claim back. The packet row
// lock serializes concurrent draws.
func (s *Service) Claim(ctx context.Context, packetID, walletID uuid.UUID) (*redpacketdomain.Claim, error) {
	packet, err := s.packets.GetByID(ctx, packetID)
	if err != nil {
		return nil, err
	}
	if packet.Status == redpacketdomain.StatusActive && packet.Expired(s.now()) {
		if _, eerr := s.Expire(ctx, packetID); eerr != nil {
			s.logger.Error("Failed to expire red packet", "packet_id", packetID, "error", eerr)
		}
		return nil, shared.ErrExpired
	}

	var claim *redpacketdomain.Claim
	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.packets.WithTx(tx)

		p, err := repo.LockByID(ctx, packetID)
		if err != nil {
			return err
		}

		existing, err := repo.GetClaim(ctx, packetID, walletID)
		if err != nil {
			return err
		}
		if existing != nil {
			claim = existing
			return nil
		}

		if p.Status == redpacketdomain.StatusExpired || (p.Status == redpacketdomain.StatusActive && p.Expired(s.now())) {
			return shared.ErrExpired
		}
		if p.Status != redpacketdomain.StatusActive || p.SlotsLeft() <= 0 {
			return fmt.Errorf("%w: packet is %s", shared.ErrInvalidState, p.Status)
		}

		amount := share(p, s.draw)

		if _, _, err := s.engine.PostInTx(ctx, tx, engine.Op{
			Endpoint: "redpackets/claim",
			Kind:     ledger.KindRedPacket,
			Dest:     &walletID,
			Amount:   amount,
			Internal: true,
		}); err != nil {
			return err
		}

		claim = &redpacketdomain.Claim{
			PacketID:   packetID,
			WalletID:   walletID,
			Amount:     amount,
			ClaimIndex: p.Claimed + 1,
			CreatedAt:  s.now().UTC(),
		}
		if err := repo.CreateClaim(ctx, claim); err != nil {
			return err
		}

		p.Remaining -= amount
		p.Claimed++
		if p.SlotsLeft() == 0 || p.Remaining == 0 {
			p.Status = redpacketdomain.StatusExhausted
			resolved := s.now().UTC()
			p.ResolvedAt = &resolved
		}
		return repo.Update(ctx, p)
	})
	if err != nil {
		// A concurrent claim by the same wallet won the insert; answer with
		// the committed row.
		var dup redpacketdomain.ErrDuplicateClaim
		if errors.As(err, &dup) {
			if existing, gerr := s.packets.GetClaim(ctx, packetID, walletID); gerr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.logger.Info("Red packet claimed",
		"packet_id", packetID,
		"wallet_id", walletID,
		"amount", claim.Amount,
		"claim_index", claim.ClaimIndex)
	return claim, nil
}

// Get returns the packet with its claims.
func (s *Service) Get(ctx context.Context, packetID uuid.UUID) (*redpacketdomain.Packet, []*redpacketdomain.Claim, error) {
	packet, err := s.packets.GetByID(ctx, packetID)
	if err != nil {
		return nil, nil, err
	}
	claims, err := s.packets.ListClaims(ctx, packetID)
	if err != nil {
		return nil, nil, err
	}
	return packet, claims, nil
}

// Expire transitions a past-due active packet and refunds the unclaimed
// remainder to the creator. Used by lazy access-time expiry and the
// background sweep.
//
// The packet row is locked before anything else, in the same order Claim
// takes its locks, and the refund amount is read from the locked row. A
// claim racing the sweep either lands before the lock and shrinks the
// refund, or waits and finds the packet expired.
func (s *Service) Expire(ctx context.Context, packetID uuid.UUID) (*engine.Result, error) {
	packet, err := s.packets.GetByID(ctx, packetID)
	if err != nil {
		return nil, err
	}
	if packet.Status != redpacketdomain.StatusActive || !packet.Expired(s.now()) {
		return nil, fmt.Errorf("%w: packet is %s", shared.ErrInvalidState, packet.Status)
	}

	var result *engine.Result
	err = s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.packets.WithTx(tx)

		current, err := repo.LockByID(ctx, packetID)
		if err != nil {
			return err
		}
		if current.Status != redpacketdomain.StatusActive {
			return fmt.Errorf("%w: packet is %s", shared.ErrInvalidState, current.Status)
		}

		current.Status = redpacketdomain.StatusExpired
		resolved := s.now().UTC()
		current.ResolvedAt = &resolved
		if err := repo.Update(ctx, current); err != nil {
			return err
		}

		if current.Remaining == 0 {
			result = &engine.Result{}
			return nil
		}
		snap, txn, err := s.engine.PostInTx(ctx, tx, engine.Op{
			Endpoint: "redpackets/expire",
			Kind:     ledger.KindRedPacket,
			Dest:     &current.CreatorWallet,
			Amount:   current.Remaining,
			Internal: true,
		})
		if err != nil {
			return err
		}
		result = &engine.Result{Snapshot: *snap, TxnID: txn.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Red packet expired", "packet_id", packetID)
	return result, nil
}
