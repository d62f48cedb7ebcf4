package sonic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	sonicdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/sonic"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
)

// ErrTokenNotFound covers forged-but-unknown, already redeemed and cancelled
// tokens alike. Redeemers learn nothing beyond "this token will not pay out".
var ErrTokenNotFound = errors.New("token not found or already used")

// Poster is the slice of the ledger engine the token protocol needs.
type Poster interface {
	Execute(ctx context.Context, op engine.Op) (*engine.Result, error)
}

// Service issues and redeems offline payment tokens. Funds are debited into
// the external pool at issue time, so a token is backed by money the issuer
// can no longer spend.
type Service struct {
	logger   *slog.Logger
	engine   Poster
	tokens   sonicdomain.Repository
	codec    *Codec
	currency string
	ttl      time.Duration
	now      func() time.Time
}

// NewService creates the sonic token service.
func NewService(logger *slog.Logger, eng Poster, tokens sonicdomain.Repository, cfg *config.SonicConfig, currency string) *Service {
	return &Service{
		logger:   logger,
		engine:   eng,
		tokens:   tokens,
		codec:    NewCodec(cfg.Secret),
		currency: currency,
		ttl:      cfg.TTL,
		now:      time.Now,
	}
}

// Issued is the outcome of issuing a token. The opaque token is returned
// exactly once and never stored; losing it means cancelling the reservation.
type Issued struct {
	Token        string          `json:"token"`
	Confirmation string          `json:"confirmation_code"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Snapshot     wallet.Snapshot `json:"wallet"`
}

// Issue reserves funds out of the issuer's wallet and returns the signed
// token. The debit passes the full guardrail checks; the reservation row
// commits atomically with the money movement.
func (s *Service) Issue(ctx context.Context, from uuid.UUID, amount int64, access guardrail.Access) (*Issued, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.ttl).UTC()
	token, err := s.codec.Encode(Payload{
		From:      from,
		Amount:    amount,
		Currency:  s.currency,
		ExpiresAt: expiresAt,
		Nonce:     nonce,
	})
	if err != nil {
		return nil, err
	}

	hash := Hash(token)
	record := &sonicdomain.Token{
		TokenHash:    hash,
		SourceWallet: from,
		Amount:       amount,
		Currency:     s.currency,
		Nonce:        nonce,
		ExpiresAt:    expiresAt,
		Status:       sonicdomain.StatusReserved,
		CreatedAt:    s.now().UTC(),
	}

	res, err := s.engine.Execute(ctx, engine.Op{
		Endpoint: "sonic/issue",
		Kind:     ledger.KindSonic,
		Source:   &from,
		Amount:   amount,
		Access:   access,
		Within: func(ctx context.Context, tx pgx.Tx, _ *ledger.Txn) error {
			return s.tokens.WithTx(tx).Create(ctx, record)
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Sonic token issued",
		"wallet_id", from,
		"amount", amount,
		"confirmation", Confirmation(hash),
		"expires_at", expiresAt)

	return &Issued{
		Token:        token,
		Confirmation: Confirmation(hash),
		ExpiresAt:    expiresAt,
		Snapshot:     res.Snapshot,
	}, nil
}

// Redeem verifies the token signature, then pays the reserved funds out to
// the redeemer. Redeem is idempotent under the caller key and single-use
// across keys: the second distinct redeem attempt finds the reservation
// already resolved.
func (s *Service) Redeem(ctx context.Context, token string, to uuid.UUID, key string) (*engine.Result, error) {
	payload, err := s.codec.Decode(token)
	if err != nil {
		return nil, err
	}
	hash := Hash(token)

	record, err := s.tokens.LockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrTokenNotFound
	}
	if record.Status == sonicdomain.StatusExpired {
		return nil, shared.ErrExpired
	}
	if record.Status == sonicdomain.StatusReserved && record.Expired(s.now()) {
		// The transition commits on its own so a later retry still sees the
		// token as expired even though this request performs no payout.
		if uerr := s.tokens.UpdateStatus(ctx, hash, sonicdomain.StatusExpired); uerr != nil {
			s.logger.Error("Failed to expire sonic token", "token_hash", hash, "error", uerr)
		}
		return nil, shared.ErrExpired
	}
	if payload.Amount != record.Amount || payload.From != record.SourceWallet {
		return nil, shared.ErrInvalidSignature
	}

	// An already-resolved record is not rejected here: a retry under the key
	// that originally redeemed must reach the idempotency store and replay.
	// Fresh keys against a resolved record fail inside the transaction.
	res, err := s.engine.Execute(ctx, engine.Op{
		Endpoint: "sonic/redeem",
		Key:      key,
		Kind:     ledger.KindSonic,
		Dest:     &to,
		Amount:   record.Amount,
		Internal: true,
		Within: func(ctx context.Context, tx pgx.Tx, _ *ledger.Txn) error {
			repo := s.tokens.WithTx(tx)
			current, err := repo.LockByHash(ctx, hash)
			if err != nil {
				return err
			}
			if current == nil || current.Status != sonicdomain.StatusReserved {
				return ErrTokenNotFound
			}
			if current.Expired(s.now()) {
				return shared.ErrExpired
			}
			return repo.UpdateStatus(ctx, hash, sonicdomain.StatusRedeemed)
		},
	})
	if err != nil {
		return nil, err
	}

	if !res.Replayed {
		s.logger.Info("Sonic token redeemed",
			"wallet_id", to,
			"amount", record.Amount,
			"confirmation", Confirmation(hash))
	}
	return res, nil
}

// Cancel returns the reserved funds to the issuer. Only the issuing wallet
// may cancel, and both reserved and already-expired reservations qualify;
// expiry alone never refunds.
func (s *Service) Cancel(ctx context.Context, token string, caller uuid.UUID) (*engine.Result, error) {
	payload, err := s.codec.Decode(token)
	if err != nil {
		return nil, err
	}
	if payload.From != caller {
		return nil, shared.ErrForbidden
	}
	hash := Hash(token)

	record, err := s.tokens.LockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrTokenNotFound
	}
	if record.Status != sonicdomain.StatusReserved && record.Status != sonicdomain.StatusExpired {
		return nil, fmt.Errorf("%w: token is %s", shared.ErrInvalidState, record.Status)
	}

	res, err := s.engine.Execute(ctx, engine.Op{
		Endpoint: "sonic/cancel",
		Kind:     ledger.KindSonic,
		Dest:     &record.SourceWallet,
		Amount:   record.Amount,
		Internal: true,
		Within: func(ctx context.Context, tx pgx.Tx, _ *ledger.Txn) error {
			repo := s.tokens.WithTx(tx)
			current, err := repo.LockByHash(ctx, hash)
			if err != nil {
				return err
			}
			if current == nil {
				return ErrTokenNotFound
			}
			if current.Status != sonicdomain.StatusReserved && current.Status != sonicdomain.StatusExpired {
				return fmt.Errorf("%w: token is %s", shared.ErrInvalidState, current.Status)
			}
			return repo.UpdateStatus(ctx, hash, sonicdomain.StatusCancelled)
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Sonic token cancelled",
		"wallet_id", record.SourceWallet,
		"amount", record.Amount,
		"confirmation", Confirmation(hash))
	return res, nil
}
