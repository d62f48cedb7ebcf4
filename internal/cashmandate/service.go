// Package cashmandate implements the cash disbursement protocol: the sender
// reserves funds behind a short numeric code and a secret phrase, and a cash
// agent later pays the recipient after checking both. Secret guesses are
// bounded and counted outside the redeem transaction.
package cashmandate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	mandate "github.com/RadiSaiyed/Shamell-sub002/internal/domain/cashmandate"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
)

// createRetries bounds regeneration attempts on a code collision.
const createRetries = 5

var (
	// ErrMandateNotFound indicates no mandate matches the presented code.
	ErrMandateNotFound = errors.New("cash mandate not found")

	// ErrSecretRequired rejects creation without a secret phrase.
	ErrSecretRequired = errors.New("secret phrase required")
)

// Poster is the slice of the ledger engine the mandate protocol needs.
type Poster interface {
	Execute(ctx context.Context, op engine.Op) (*engine.Result, error)
}

// Service issues and redeems cash mandates.
type Service struct {
	logger   *slog.Logger
	engine   Poster
	mandates mandate.Repository
	cfg      *config.CashConfig
	currency string
	now      func() time.Time
}

// NewService creates the cash mandate service.
func NewService(logger *slog.Logger, eng Poster, mandates mandate.Repository, cfg *config.CashConfig, currency string) *Service {
	return &Service{
		logger:   logger,
		engine:   eng,
		mandates: mandates,
		cfg:      cfg,
		currency: currency,
		now:      time.Now,
	}
}

// Created is the outcome of creating a mandate; the sender relays the code
// and the secret phrase to the recipient out of band.
type Created struct {
	Code      string          `json:"code"`
	ExpiresAt time.Time       `json:"expires_at"`
	Snapshot  wallet.Snapshot `json:"wallet"`
}

// Create reserves funds behind a fresh numeric code. The code is regenerated
// on the rare collision; the reservation row commits atomically with the
// debit.
func (s *Service) Create(ctx context.Context, from uuid.UUID, amount int64, secret string, access guardrail.Access) (*Created, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash mandate secret: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		code, err := newCode(s.cfg.CodeDigits)
		if err != nil {
			return nil, err
		}

		expiresAt := s.now().Add(s.cfg.TTL).UTC()
		record := &mandate.Mandate{
			Code:         code,
			SourceWallet: from,
			Amount:       amount,
			Currency:     s.currency,
			SecretHash:   string(hash),
			ExpiresAt:    expiresAt,
			Status:       mandate.StatusReserved,
			CreatedAt:    s.now().UTC(),
		}

		res, err := s.engine.Execute(ctx, engine.Op{
			Endpoint: "cash/create",
			Kind:     ledger.KindCash,
			Source:   &from,
			Amount:   amount,
			Access:   access,
			Within: func(ctx context.Context, tx pgx.Tx, _ *ledger.Txn) error {
				return s.mandates.WithTx(tx).Create(ctx, record)
			},
		})
		if err != nil {
			var dup mandate.ErrDuplicateCode
			if errors.As(err, &dup) {
				lastErr = err
				continue
			}
			return nil, err
		}

		s.logger.Info("Cash mandate created",
			"wallet_id", from,
			"amount", amount,
			"expires_at", expiresAt)

		return &Created{Code: code, ExpiresAt: expiresAt, Snapshot: res.Snapshot}, nil
	}

	return nil, fmt.Errorf("failed to allocate a unique mandate code: %w", lastErr)
}

// Receipt is handed to the agent after a successful redemption.
type Receipt struct {
	Code      string          `json:"code"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Snapshot  wallet.Snapshot `json:"wallet"`
	TxnID     uuid.UUID       `json:"txn_id"`
	PaidOutAt time.Time       `json:"paid_out_at"`
}

// Redeem pays the reserved funds to the agent-reported recipient when the
// secret matches. A mismatch burns one attempt and fails without revealing
// which check tripped; the counter survives the rolled-back transaction.
func (s *Service) Redeem(ctx context.Context, code, secret string, to uuid.UUID) (*Receipt, error) {
	record, err := s.mandates.LockByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrMandateNotFound
	}
	if record.Status == mandate.StatusExpired {
		return nil, shared.ErrExpired
	}
	if record.Status != mandate.StatusReserved {
		return nil, fmt.Errorf("%w: mandate is %s", shared.ErrInvalidState, record.Status)
	}
	if record.Expired(s.now()) {
		if _, eerr := s.Expire(ctx, record.Code); eerr != nil {
			s.logger.Error("Failed to expire cash mandate", "code", code, "error", eerr)
		}
		return nil, shared.ErrExpired
	}
	if record.Attempts >= s.cfg.MaxAttempts {
		return nil, shared.ErrTooManyAttempts
	}

	if bcrypt.CompareHashAndPassword([]byte(record.SecretHash), []byte(secret)) != nil {
		if ierr := s.mandates.IncrementAttempts(ctx, code); ierr != nil {
			s.logger.Error("Failed to count mandate secret attempt", "code", code, "error", ierr)
		}
		return nil, shared.ErrForbidden
	}

	res, err := s.engine.Execute(ctx, engine.Op{
		Endpoint: "cash/redeem",
		Kind:     ledger.KindCash,
		Dest:     &to,
		Amount:   record.Amount,
		Internal: true,
		Within: func(ctx context.Context, tx pgx.Tx, _ *ledger.Txn) error {
			repo := s.mandates.WithTx(tx)
			current, err := repo.LockByCode(ctx, code)
			if err != nil {
				return err
			}
			if current == nil || current.Status != mandate.StatusReserved {
				return ErrMandateNotFound
			}
			return repo.UpdateStatus(ctx, code, mandate.StatusRedeemed)
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cash mandate redeemed",
		"code", code,
		"wallet_id", to,
		"amount", record.Amount)

	return &Receipt{
		Code:      code,
		Amount:    record.Amount,
		Currency:  record.Currency,
		Snapshot:  res.Snapshot,
		TxnID:     res.TxnID,
		PaidOutAt: s.now().UTC(),
	}, nil
}

// Cancel refunds a still-reserved mandate to its sender. Only the sender's
// wallet may cancel.
func (s *Service) Cancel(ctx context.Context, code string, caller uuid.UUID) (*engine.Result, error) {
	record, err := s.mandates.LockByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrMandateNotFound
	}
	if record.SourceWallet != caller {
		return nil, shared.ErrForbidden
	}
	if record.Status != mandate.StatusReserved {
		return nil, fmt.Errorf("%w: mandate is %s", shared.ErrInvalidState, record.Status)
	}

	res, err := s.engine.Execute(ctx, engine.Op{
		Endpoint: "cash/cancel",
		Kind:     ledger.KindCash,
		Dest:     &record.SourceWallet,
		Amount:   record.Amount,
		Internal: true,
		Within: func(ctx context.Context, tx pgx.Tx, _ *ledger.Txn) error {
			repo := s.mandates.WithTx(tx)
			current, err := repo.LockByCode(ctx, code)
			if err != nil {
				return err
			}
			if current == nil || current.Status != mandate.StatusReserved {
				return ErrMandateNotFound
			}
			return repo.UpdateStatus(ctx, code, mandate.StatusCancelled)
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Cash mandate cancelled",
		"code", code,
		"wallet_id", record.SourceWallet,
		"amount", record.Amount)
	return res, nil
}

// Expire transitions a past-due reserved mandate and refunds the sender.
// Used both by lazy access-time expiry and the background sweep.
func (s *Service) Expire(ctx context.Context, code string) (*engine.Result, error) {
	record, err := s.mandates.LockByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrMandateNotFound
	}
	if record.Status != mandate.StatusReserved || !record.Expired(s.now()) {
		return nil, fmt.Errorf("%w: mandate is %s", shared.ErrInvalidState, record.Status)
	}

	return s.engine.Execute(ctx, engine.Op{
		Endpoint: "cash/expire",
		Kind:     ledger.KindCash,
		Dest:     &record.SourceWallet,
		Amount:   record.Amount,
		Internal: true,
		Within: func(ctx context.Context, tx pgx.Tx, _ *ledger.Txn) error {
			repo := s.mandates.WithTx(tx)
			current, err := repo.LockByCode(ctx, code)
			if err != nil {
				return err
			}
			if current == nil || current.Status != mandate.StatusReserved {
				return ErrMandateNotFound
			}
			return repo.UpdateStatus(ctx, code, mandate.StatusExpired)
		},
	})
}

// newCode draws a random numeric code of the configured length.
func newCode(digits int) (string, error) {
	if digits <= 0 {
		digits = 8
	}
	buf := make([]byte, digits)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate mandate code: %w", err)
	}
	out := make([]byte, digits)
	for i, b := range buf {
		out[i] = '0' + b%10
	}
	return string(out), nil
}
