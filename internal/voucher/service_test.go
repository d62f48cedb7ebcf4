package voucher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	voucherdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/voucher"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
)

// memVouchers is an in-memory voucherdomain.Repository.
type memVouchers struct {
	records map[string]*voucherdomain.Voucher
}

func newMemVouchers() *memVouchers {
	return &memVouchers{records: make(map[string]*voucherdomain.Voucher)}
}

func (m *memVouchers) CreateBatch(_ context.Context, vouchers []*voucherdomain.Voucher) error {
	for _, v := range vouchers {
		if _, ok := m.records[v.Code]; ok {
			return voucherdomain.ErrDuplicateCode{Code: v.Code}
		}
	}
	for _, v := range vouchers {
		cp := *v
		m.records[v.Code] = &cp
	}
	return nil
}

func (m *memVouchers) LockByCode(_ context.Context, code string) (*voucherdomain.Voucher, error) {
	v, ok := m.records[code]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (m *memVouchers) UpdateStatus(_ context.Context, code string, status voucherdomain.Status) error {
	v, ok := m.records[code]
	if !ok {
		return fmt.Errorf("voucher not found: %s", code)
	}
	now := time.Now().UTC()
	v.Status = status
	v.ResolvedAt = &now
	return nil
}

func (m *memVouchers) ListExpired(_ context.Context, now time.Time, limit int) ([]*voucherdomain.Voucher, error) {
	var out []*voucherdomain.Voucher
	for _, v := range m.records {
		if v.Status == voucherdomain.StatusReserved && v.Expired(now) && len(out) < limit {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memVouchers) WithTx(pgx.Tx) voucherdomain.Repository { return m }

// fakePoster runs the Within hook and replays stored results for repeated
// idempotency keys.
type fakePoster struct {
	ops     []engine.Op
	replies map[string]*engine.Result
}

func newFakePoster() *fakePoster {
	return &fakePoster{replies: make(map[string]*engine.Result)}
}

func (p *fakePoster) Execute(ctx context.Context, op engine.Op) (*engine.Result, error) {
	if op.Key != "" {
		if prev, ok := p.replies[op.Endpoint+"/"+op.Key]; ok {
			replay := *prev
			replay.Replayed = true
			return &replay, nil
		}
	}
	if op.Within != nil {
		if err := op.Within(ctx, nil, nil); err != nil {
			return nil, err
		}
	}
	p.ops = append(p.ops, op)

	actor := op.Source
	if actor == nil {
		actor = op.Dest
	}
	res := &engine.Result{
		Snapshot: wallet.Snapshot{WalletID: *actor, Currency: "SYP"},
		TxnID:    uuid.New(),
	}
	if op.Key != "" {
		p.replies[op.Endpoint+"/"+op.Key] = res
	}
	return res, nil
}

func newTestService(t *testing.T) (*Service, *fakePoster, *memVouchers) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	poster := newFakePoster()
	vouchers := newMemVouchers()
	svc := NewService(logger, poster, vouchers, &config.VoucherConfig{
		Secret:   "voucher-secret",
		TTL:      30 * 24 * time.Hour,
		MaxBatch: 100,
	}, "SYP")
	return svc, poster, vouchers
}

func TestService_CreateBatchFunded(t *testing.T) {
	svc, poster, vouchers := newTestService(t)
	funder := uuid.New()

	issued, err := svc.CreateBatch(context.Background(), 1_000, 3, &funder, guardrail.Access{})
	require.NoError(t, err)
	require.Len(t, issued, 3)

	// One debit for the whole batch value.
	require.Len(t, poster.ops, 1)
	op := poster.ops[0]
	assert.Equal(t, ledger.KindVoucher, op.Kind)
	require.NotNil(t, op.Source)
	assert.Equal(t, funder, *op.Source)
	assert.Equal(t, int64(3_000), op.Amount)

	for _, iv := range issued {
		assert.True(t, svc.Verify(iv.Code, iv.Amount, iv.Sig))
		rec := vouchers.records[iv.Code]
		require.NotNil(t, rec)
		assert.Equal(t, voucherdomain.StatusReserved, rec.Status)
		require.NotNil(t, rec.FundingWallet)
		assert.Equal(t, funder, *rec.FundingWallet)
	}
}

func TestService_CreateBatchUnfundedMovesNoMoney(t *testing.T) {
	svc, poster, vouchers := newTestService(t)

	issued, err := svc.CreateBatch(context.Background(), 1_000, 2, nil, guardrail.Access{})
	require.NoError(t, err)
	require.Len(t, issued, 2)
	assert.Empty(t, poster.ops)
	assert.Len(t, vouchers.records, 2)
}

func TestService_CreateBatchValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateBatch(context.Background(), 0, 3, nil, guardrail.Access{})
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = svc.CreateBatch(context.Background(), 1_000, 0, nil, guardrail.Access{})
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	_, err = svc.CreateBatch(context.Background(), 1_000, 101, nil, guardrail.Access{})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestService_RedeemVerifiesSignatureFirst(t *testing.T) {
	svc, poster, _ := newTestService(t)

	issued, err := svc.CreateBatch(context.Background(), 1_000, 1, nil, guardrail.Access{})
	require.NoError(t, err)
	iv := issued[0]

	// Wrong signature and amount-tampering both fail before any lookup.
	_, err = svc.Redeem(context.Background(), iv.Code, iv.Amount, "deadbeef", uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrInvalidSignature)
	_, err = svc.Redeem(context.Background(), iv.Code, iv.Amount*2, iv.Sig, uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrInvalidSignature)
	assert.Empty(t, poster.ops)
}

func TestService_RedeemIsSingleUse(t *testing.T) {
	svc, poster, vouchers := newTestService(t)
	to := uuid.New()

	issued, err := svc.CreateBatch(context.Background(), 1_000, 1, nil, guardrail.Access{})
	require.NoError(t, err)
	iv := issued[0]

	res, err := svc.Redeem(context.Background(), iv.Code, iv.Amount, iv.Sig, to, "rk-1")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, to, res.Snapshot.WalletID)
	assert.Equal(t, voucherdomain.StatusRedeemed, vouchers.records[iv.Code].Status)

	replay, err := svc.Redeem(context.Background(), iv.Code, iv.Amount, iv.Sig, to, "rk-1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Len(t, poster.ops, 1)

	_, err = svc.Redeem(context.Background(), iv.Code, iv.Amount, iv.Sig, uuid.New(), "rk-2")
	assert.ErrorIs(t, err, ErrVoucherNotFound)
}

func TestService_ExpiredFundedVoucherRefundsFunder(t *testing.T) {
	svc, poster, vouchers := newTestService(t)
	funder := uuid.New()

	issued, err := svc.CreateBatch(context.Background(), 1_000, 1, &funder, guardrail.Access{})
	require.NoError(t, err)
	iv := issued[0]

	svc.now = func() time.Time { return iv.ExpiresAt.Add(time.Hour) }

	_, err = svc.Redeem(context.Background(), iv.Code, iv.Amount, iv.Sig, uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrExpired)
	assert.Equal(t, voucherdomain.StatusExpired, vouchers.records[iv.Code].Status)

	refund := poster.ops[len(poster.ops)-1]
	assert.True(t, refund.Internal)
	require.NotNil(t, refund.Dest)
	assert.Equal(t, funder, *refund.Dest)
	assert.Equal(t, int64(1_000), refund.Amount)
}

func TestService_ExpiredUnfundedVoucherOnlyTransitions(t *testing.T) {
	svc, poster, vouchers := newTestService(t)

	issued, err := svc.CreateBatch(context.Background(), 1_000, 1, nil, guardrail.Access{})
	require.NoError(t, err)
	iv := issued[0]

	svc.now = func() time.Time { return iv.ExpiresAt.Add(time.Hour) }

	_, err = svc.Redeem(context.Background(), iv.Code, iv.Amount, iv.Sig, uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrExpired)
	assert.Equal(t, voucherdomain.StatusExpired, vouchers.records[iv.Code].Status)
	assert.Empty(t, poster.ops)
}

func TestService_VoidRefundsFunderWhenFunded(t *testing.T) {
	svc, poster, vouchers := newTestService(t)
	funder := uuid.New()

	issued, err := svc.CreateBatch(context.Background(), 1_000, 1, &funder, guardrail.Access{})
	require.NoError(t, err)
	iv := issued[0]

	require.NoError(t, svc.Void(context.Background(), iv.Code))
	assert.Equal(t, voucherdomain.StatusVoid, vouchers.records[iv.Code].Status)

	refund := poster.ops[len(poster.ops)-1]
	require.NotNil(t, refund.Dest)
	assert.Equal(t, funder, *refund.Dest)

	// Void is reserved-only.
	err = svc.Void(context.Background(), iv.Code)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}
