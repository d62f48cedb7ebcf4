package sonic

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sonicdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/sonic"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
)

// memTokens is an in-memory sonicdomain.Repository.
type memTokens struct {
	records map[string]*sonicdomain.Token
}

func newMemTokens() *memTokens {
	return &memTokens{records: make(map[string]*sonicdomain.Token)}
}

func (m *memTokens) Create(_ context.Context, t *sonicdomain.Token) error {
	cp := *t
	m.records[t.TokenHash] = &cp
	return nil
}

func (m *memTokens) LockByHash(_ context.Context, hash string) (*sonicdomain.Token, error) {
	t, ok := m.records[hash]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) UpdateStatus(_ context.Context, hash string, status sonicdomain.Status) error {
	t, ok := m.records[hash]
	if !ok {
		return assert.AnError
	}
	now := time.Now().UTC()
	t.Status = status
	t.ResolvedAt = &now
	return nil
}

func (m *memTokens) ListExpired(_ context.Context, now time.Time, limit int) ([]*sonicdomain.Token, error) {
	var out []*sonicdomain.Token
	for _, t := range m.records {
		if t.Status == sonicdomain.StatusReserved && t.Expired(now) && len(out) < limit {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memTokens) WithTx(pgx.Tx) sonicdomain.Repository { return m }

// fakePoster stands in for the ledger engine: it runs the Within hook and
// replays stored results for repeated idempotency keys.
type fakePoster struct {
	ops     []engine.Op
	replies map[string]*engine.Result
	err     error
}

func newFakePoster() *fakePoster {
	return &fakePoster{replies: make(map[string]*engine.Result)}
}

func (p *fakePoster) Execute(ctx context.Context, op engine.Op) (*engine.Result, error) {
	if p.err != nil {
		return nil, p.err
	}
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

func newTestService(t *testing.T) (*Service, *fakePoster, *memTokens) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	poster := newFakePoster()
	tokens := newMemTokens()
	svc := NewService(logger, poster, tokens, &config.SonicConfig{
		Secret: "test-secret",
		TTL:    15 * time.Minute,
	}, "SYP")
	return svc, poster, tokens
}

func TestService_IssueReservesFunds(t *testing.T) {
	svc, poster, tokens := newTestService(t)
	from := uuid.New()

	issued, err := svc.Issue(context.Background(), from, 5_000, guardrail.Access{})
	require.NoError(t, err)

	require.Len(t, poster.ops, 1)
	op := poster.ops[0]
	assert.Equal(t, ledger.KindSonic, op.Kind)
	require.NotNil(t, op.Source)
	assert.Equal(t, from, *op.Source)
	assert.Nil(t, op.Dest)
	assert.Equal(t, int64(5_000), op.Amount)
	assert.False(t, op.Internal)

	record := tokens.records[Hash(issued.Token)]
	require.NotNil(t, record)
	assert.Equal(t, sonicdomain.StatusReserved, record.Status)
	assert.Equal(t, from, record.SourceWallet)
	assert.Equal(t, int64(5_000), record.Amount)

	assert.Len(t, issued.Confirmation, 8)
	assert.Equal(t, Confirmation(Hash(issued.Token)), issued.Confirmation)

	payload, err := svc.codec.Decode(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, from, payload.From)
	assert.Equal(t, int64(5_000), payload.Amount)
	assert.True(t, issued.ExpiresAt.Equal(payload.ExpiresAt))
}

func TestService_RedeemIsSingleUse(t *testing.T) {
	svc, poster, tokens := newTestService(t)
	from, to := uuid.New(), uuid.New()

	issued, err := svc.Issue(context.Background(), from, 5_000, guardrail.Access{})
	require.NoError(t, err)

	res, err := svc.Redeem(context.Background(), issued.Token, to, "redeem-1")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, to, res.Snapshot.WalletID)
	assert.Equal(t, sonicdomain.StatusRedeemed, tokens.records[Hash(issued.Token)].Status)

	// Same key replays without touching the record again.
	replay, err := svc.Redeem(context.Background(), issued.Token, to, "redeem-1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Snapshot, replay.Snapshot)
	assert.Len(t, poster.ops, 2) // issue + one redeem

	// A fresh key is a second spend attempt and must fail.
	_, err = svc.Redeem(context.Background(), issued.Token, uuid.New(), "redeem-2")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestService_RedeemRejectsForgedTokenBeforeLookup(t *testing.T) {
	svc, poster, _ := newTestService(t)

	_, err := svc.Redeem(context.Background(), "bogus.token", uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrInvalidSignature)

	// A token signed with a different secret fails the same way.
	other := NewCodec("other-secret")
	forged, err := other.Encode(Payload{From: uuid.New(), Amount: 100, Currency: "SYP", ExpiresAt: time.Now().Add(time.Hour), Nonce: "n"})
	require.NoError(t, err)
	_, err = svc.Redeem(context.Background(), forged, uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrInvalidSignature)

	assert.Empty(t, poster.ops)
}

func TestService_RedeemExpiredTokenIsNotRefunded(t *testing.T) {
	svc, poster, tokens := newTestService(t)
	from := uuid.New()

	issued, err := svc.Issue(context.Background(), from, 5_000, guardrail.Access{})
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.ExpiresAt.Add(time.Second) }

	_, err = svc.Redeem(context.Background(), issued.Token, uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrExpired)
	assert.Equal(t, sonicdomain.StatusExpired, tokens.records[Hash(issued.Token)].Status)

	// Only the issue moved money; expiry never pays anyone.
	assert.Len(t, poster.ops, 1)

	// Repeat attempts see the persisted expired status.
	_, err = svc.Redeem(context.Background(), issued.Token, uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrExpired)
}

func TestService_CancelRefundsIssuer(t *testing.T) {
	svc, poster, tokens := newTestService(t)
	from := uuid.New()

	issued, err := svc.Issue(context.Background(), from, 5_000, guardrail.Access{})
	require.NoError(t, err)

	res, err := svc.Cancel(context.Background(), issued.Token, from)
	require.NoError(t, err)
	assert.Equal(t, from, res.Snapshot.WalletID)
	assert.Equal(t, sonicdomain.StatusCancelled, tokens.records[Hash(issued.Token)].Status)

	refund := poster.ops[len(poster.ops)-1]
	assert.True(t, refund.Internal)
	require.NotNil(t, refund.Dest)
	assert.Equal(t, from, *refund.Dest)
	assert.Equal(t, int64(5_000), refund.Amount)

	// Cancelled tokens cannot be redeemed or cancelled again.
	_, err = svc.Redeem(context.Background(), issued.Token, uuid.New(), "")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = svc.Cancel(context.Background(), issued.Token, from)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestService_CancelRequiresIssuerWallet(t *testing.T) {
	svc, _, tokens := newTestService(t)
	from := uuid.New()

	issued, err := svc.Issue(context.Background(), from, 5_000, guardrail.Access{})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), issued.Token, uuid.New())
	assert.ErrorIs(t, err, shared.ErrForbidden)
	assert.Equal(t, sonicdomain.StatusReserved, tokens.records[Hash(issued.Token)].Status)
}

func TestService_CancelAfterExpiryStillRefunds(t *testing.T) {
	svc, _, tokens := newTestService(t)
	from := uuid.New()

	issued, err := svc.Issue(context.Background(), from, 5_000, guardrail.Access{})
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.ExpiresAt.Add(time.Minute) }
	_, err = svc.Redeem(context.Background(), issued.Token, uuid.New(), "")
	require.ErrorIs(t, err, shared.ErrExpired)

	res, err := svc.Cancel(context.Background(), issued.Token, from)
	require.NoError(t, err)
	assert.Equal(t, from, res.Snapshot.WalletID)
	assert.Equal(t, sonicdomain.StatusCancelled, tokens.records[Hash(issued.Token)].Status)
}
