// Package voucher implements topup voucher batches: sets of single-use
// redemption codes, each carrying an HMAC signature so the redemption path
// can reject forgeries without a database round trip. Batches are optionally
// pre-funded from a sponsor wallet.
package voucher

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	voucherdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/voucher"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
)

const (
	codeBytes     = 6
	createRetries = 5
)

var (
	// ErrVoucherNotFound indicates no voucher matches the presented code.
	ErrVoucherNotFound = errors.New("voucher not found")

	// ErrBatchTooLarge rejects batch sizes over the configured maximum.
	ErrBatchTooLarge = errors.New("voucher batch too large")
)

// Poster is the slice of the ledger engine the voucher protocol needs.
type Poster interface {
	Execute(ctx context.Context, op engine.Op) (*engine.Result, error)
}

// Service issues and redeems voucher batches.
type Service struct {
	logger   *slog.Logger
	engine   Poster
	vouchers voucherdomain.Repository
	secret   []byte
	ttl      time.Duration
	maxBatch int
	currency string
	now      func() time.Time
}

// NewService creates the voucher service.
func NewService(logger *slog.Logger, eng Poster, vouchers voucherdomain.Repository, cfg *config.VoucherConfig, currency string) *Service {
	return &Service{
		logger:   logger,
		engine:   eng,
		vouchers: vouchers,
		secret:   []byte(cfg.Secret),
		ttl:      cfg.TTL,
		maxBatch: cfg.MaxBatch,
		currency: currency,
		now:      time.Now,
	}
}

// Issued is one voucher handed back to the batch creator: the code plus the
// signature the redeemer must present.
type Issued struct {
	Code      string    `json:"code"`
	Sig       string    `json:"sig"`
	Amount    int64     `json:"amount"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateBatch issues count vouchers worth amount each. With a funding wallet
// the full batch value is debited into the pool up front; without one the
// vouchers are unfunded claims paid out of the external account at
// redemption time.
func (s *Service) CreateBatch(ctx context.Context, amount int64, count int, funding *uuid.UUID, access guardrail.Access) ([]Issued, error) {
	if amount <= 0 {
		return nil, shared.ErrInvalidAmount
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrBatchTooLarge)
	}
	if count > s.maxBatch {
		return nil, fmt.Errorf("%w: %d exceeds maximum of %d", ErrBatchTooLarge, count, s.maxBatch)
	}

	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		batchID := uuid.New()
		expiresAt := s.now().Add(s.ttl).UTC()
		createdAt := s.now().UTC()

		records := make([]*voucherdomain.Voucher, 0, count)
		issued := make([]Issued, 0, count)
		for i := 0; i < count; i++ {
			code, err := newCode()
			if err != nil {
				return nil, err
			}
			records = append(records, &voucherdomain.Voucher{
				Code:          code,
				BatchID:       batchID,
				Amount:        amount,
				Currency:      s.currency,
				FundingWallet: funding,
				ExpiresAt:     expiresAt,
				Status:        voucherdomain.StatusReserved,
				CreatedAt:     createdAt,
			})
			issued = append(issued, Issued{
				Code:      code,
				Sig:       s.Sign(code, amount),
				Amount:    amount,
				ExpiresAt: expiresAt,
			})
		}

		var err error
		if funding != nil {
			_, err = s.engine.Execute(ctx, engine.Op{
				Endpoint: "vouchers/create",
				Kind:     ledger.KindVoucher,
				Source:   funding,
				Amount:   amount * int64(count),
				Access:   access,
				Within: func(ctx context.Context, tx pgx.Tx, _ *ledger.Txn) error {
					return s.vouchers.WithTx(tx).CreateBatch(ctx, records)
				},
			})
		} else {
			err = s.vouchers.CreateBatch(ctx, records)
		}
		if err != nil {
			var dup voucherdomain.ErrDuplicateCode
			if errors.As(err, &dup) {
				lastErr = err
				continue
			}
			return nil, err
		}

		s.logger.Info("Voucher batch created",
			"batch_id", batchID,
			"count", count,
			"amount", amount,
			"funded", funding != nil)
		return issued, nil
	}

	return nil, fmt.Errorf("failed to allocate unique voucher codes: %w", lastErr)
}

// Redeem pays one voucher out to the redeemer. The signature and amount are
// verified before the record is touched; forged codes never reach storage.
// Redeem is idempotent under the caller key and single-use across keys.
func (s *Service) Redeem(ctx context.Context, code string, amount int64, sig string, to uuid.UUID, key string) (*engine.Result, error) {
	if !s.Verify(code, amount, sig) {
		return nil, shared.ErrInvalidSignature
	}

	record, err := s.vouchers.LockByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrVoucherNotFound
	}
	if record.Amount != amount {
		return nil, shared.ErrInvalidSignature
	}
	if record.Status == voucherdomain.StatusExpired {
		return nil, shared.ErrExpired
	}
	if record.Status == voucherdomain.StatusReserved && record.Expired(s.now()) {
		if _, eerr := s.Expire(ctx, record.Code); eerr != nil {
			s.logger.Error("Failed to expire voucher", "code", code, "error", eerr)
		}
		return nil, shared.ErrExpired
	}

	// A resolved record is not rejected here so a retry under the original
	// key still reaches the idempotency store; fresh keys fail in-transaction.
	res, err := s.engine.Execute(ctx, engine.Op{
		Endpoint: "vouchers/redeem",
		Key:      key,
		Kind:     ledger.KindVoucher,
		Dest:     &to,
		Amount:   record.Amount,
		Internal: true,
		Within: func(ctx context.Context, tx pgx.Tx, _ *ledger.Txn) error {
			repo := s.vouchers.WithTx(tx)
			current, err := repo.LockByCode(ctx, code)
			if err != nil {
				return err
			}
			if current == nil || current.Status != voucherdomain.StatusReserved {
				return ErrVoucherNotFound
			}
			if current.Expired(s.now()) {
				return shared.ErrExpired
			}
			return repo.UpdateStatus(ctx, code, voucherdomain.StatusRedeemed)
		},
	})
	if err != nil {
		return nil, err
	}

	if !res.Replayed {
		s.logger.Info("Voucher redeemed",
			"code", code,
			"wallet_id", to,
			"amount", record.Amount)
	}
	return res, nil
}

// Void retires a still-reserved voucher. Funded vouchers refund the funding
// wallet; unfunded ones only flip status since no money ever moved.
func (s *Service) Void(ctx context.Context, code string) error {
	record, err := s.vouchers.LockByCode(ctx, code)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrVoucherNotFound
	}
	if record.Status != voucherdomain.StatusReserved {
		return fmt.Errorf("%w: voucher is %s", shared.ErrInvalidState, record.Status)
	}

	if err := s.resolve(ctx, record, voucherdomain.StatusVoid); err != nil {
		return err
	}

	s.logger.Info("Voucher voided", "code", code, "funded", record.FundingWallet != nil)
	return nil
}

// Expire transitions a past-due reserved voucher, refunding the funding
// wallet when the batch was pre-funded. Used by lazy access-time expiry and
// the background sweep.
func (s *Service) Expire(ctx context.Context, code string) (*engine.Result, error) {
	record, err := s.vouchers.LockByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrVoucherNotFound
	}
	if record.Status != voucherdomain.StatusReserved || !record.Expired(s.now()) {
		return nil, fmt.Errorf("%w: voucher is %s", shared.ErrInvalidState, record.Status)
	}

	if record.FundingWallet == nil {
		return nil, s.vouchers.UpdateStatus(ctx, code, voucherdomain.StatusExpired)
	}
	return s.refundAndResolve(ctx, record, voucherdomain.StatusExpired)
}

// resolve transitions a reserved voucher to a terminal state, refunding the
// funder when one exists.
func (s *Service) resolve(ctx context.Context, record *voucherdomain.Voucher, status voucherdomain.Status) error {
	if record.FundingWallet == nil {
		return s.vouchers.UpdateStatus(ctx, record.Code, status)
	}
	_, err := s.refundAndResolve(ctx, record, status)
	return err
}

func (s *Service) refundAndResolve(ctx context.Context, record *voucherdomain.Voucher, status voucherdomain.Status) (*engine.Result, error) {
	code := record.Code
	return s.engine.Execute(ctx, engine.Op{
		Endpoint: "vouchers/" + string(status),
		Kind:     ledger.KindVoucher,
		Dest:     record.FundingWallet,
		Amount:   record.Amount,
		Internal: true,
		Within: func(ctx context.Context, tx pgx.Tx, _ *ledger.Txn) error {
			repo := s.vouchers.WithTx(tx)
			current, err := repo.LockByCode(ctx, code)
			if err != nil {
				return err
			}
			if current == nil || current.Status != voucherdomain.StatusReserved {
				return ErrVoucherNotFound
			}
			return repo.UpdateStatus(ctx, code, status)
		},
	})
}

// Sign computes the per-voucher signature over code and amount.
func (s *Service) Sign(code string, amount int64) string {
	return hex.EncodeToString(s.sign(code, amount))
}

// Verify checks a presented signature in constant time.
func (s *Service) Verify(code string, amount int64, sig string) bool {
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, s.sign(code, amount))
}

func (s *Service) sign(code string, amount int64) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(code))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.FormatInt(amount, 10)))
	return mac.Sum(nil)
}

// newCode draws a random voucher code.
func newCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate voucher code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
