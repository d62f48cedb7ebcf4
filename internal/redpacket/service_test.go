package redpacket

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redpacketdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/redpacket"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
)

type claimKey struct {
	packet uuid.UUID
	wallet uuid.UUID
}

// memPackets is an in-memory redpacketdomain.Repository.
type memPackets struct {
	packets map[uuid.UUID]*redpacketdomain.Packet
	claims  map[claimKey]*redpacketdomain.Claim
	nextID  int64
}

func newMemPackets() *memPackets {
	return &memPackets{
		packets: make(map[uuid.UUID]*redpacketdomain.Packet),
		claims:  make(map[claimKey]*redpacketdomain.Claim),
	}
}

func (m *memPackets) Create(_ context.Context, p *redpacketdomain.Packet) error {
	cp := *p
	m.packets[p.ID] = &cp
	return nil
}

func (m *memPackets) LockByID(_ context.Context, id uuid.UUID) (*redpacketdomain.Packet, error) {
	return m.get(id)
}

func (m *memPackets) GetByID(_ context.Context, id uuid.UUID) (*redpacketdomain.Packet, error) {
	return m.get(id)
}

func (m *memPackets) get(id uuid.UUID) (*redpacketdomain.Packet, error) {
	p, ok := m.packets[id]
	if !ok {
		return nil, redpacketdomain.ErrPacketNotFound{PacketID: id}
	}
	cp := *p
	return &cp, nil
}

func (m *memPackets) Update(_ context.Context, p *redpacketdomain.Packet) error {
	if _, ok := m.packets[p.ID]; !ok {
		return redpacketdomain.ErrPacketNotFound{PacketID: p.ID}
	}
	cp := *p
	m.packets[p.ID] = &cp
	return nil
}

func (m *memPackets) GetClaim(_ context.Context, packetID, walletID uuid.UUID) (*redpacketdomain.Claim, error) {
	c, ok := m.claims[claimKey{packetID, walletID}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memPackets) CreateClaim(_ context.Context, c *redpacketdomain.Claim) error {
	key := claimKey{c.PacketID, c.WalletID}
	if _, ok := m.claims[key]; ok {
		return redpacketdomain.ErrDuplicateClaim{PacketID: c.PacketID, WalletID: c.WalletID}
	}
	m.nextID++
	c.ID = m.nextID
	cp := *c
	m.claims[key] = &cp
	return nil
}

func (m *memPackets) ListClaims(_ context.Context, packetID uuid.UUID) ([]*redpacketdomain.Claim, error) {
	var out []*redpacketdomain.Claim
	for _, c := range m.claims {
		if c.PacketID == packetID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimIndex < out[j].ClaimIndex })
	return out, nil
}

func (m *memPackets) ListExpired(_ context.Context, now time.Time, limit int) ([]*redpacketdomain.Packet, error) {
	var out []*redpacketdomain.Packet
	for _, p := range m.packets {
		if p.Status == redpacketdomain.StatusActive && p.Expired(now) && len(out) < limit {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPackets) WithTx(pgx.Tx) redpacketdomain.Repository { return m }

// fakeTxManager runs the closure directly; the in-memory stores have no
// rollback to coordinate here since failing paths assert on returned errors.
type fakeTxManager struct{}

func (fakeTxManager) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// fakePoster records executed operations and credits claim payouts.
type fakePoster struct {
	ops []engine.Op
}

func (p *fakePoster) Execute(ctx context.Context, op engine.Op) (*engine.Result, error) {
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
	return &engine.Result{
		Snapshot: wallet.Snapshot{WalletID: *actor, Currency: "SYP"},
		TxnID:    uuid.New(),
	}, nil
}

func (p *fakePoster) PostInTx(ctx context.Context, _ pgx.Tx, op engine.Op) (*wallet.Snapshot, *ledger.Txn, error) {
	p.ops = append(p.ops, op)
	txn := ledger.NewTxn(op.Kind, op.Source, op.Dest, op.Amount, 0, "SYP")
	actor := op.Source
	if actor == nil {
		actor = op.Dest
	}
	return &wallet.Snapshot{WalletID: *actor, Currency: "SYP"}, txn, nil
}

func newTestService(t *testing.T) (*Service, *fakePoster, *memPackets) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	poster := &fakePoster{}
	packets := newMemPackets()
	svc := NewService(logger, fakeTxManager{}, poster, packets, &config.RedPacketConfig{
		TTL:      24 * time.Hour,
		MaxCount: 100,
	}, "SYP")
	return svc, poster, packets
}

func TestService_IssueReservesPool(t *testing.T) {
	svc, poster, packets := newTestService(t)
	creator := uuid.New()

	packet, err := svc.Issue(context.Background(), creator, 1_000, 3, redpacketdomain.SplitFixed, guardrail.Access{})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), packet.Remaining)
	assert.Equal(t, redpacketdomain.StatusActive, packet.Status)

	require.Len(t, poster.ops, 1)
	op := poster.ops[0]
	assert.Equal(t, ledger.KindRedPacket, op.Kind)
	require.NotNil(t, op.Source)
	assert.Equal(t, creator, *op.Source)
	assert.Equal(t, int64(1_000), op.Amount)

	require.NotNil(t, packets.packets[packet.ID])
}

func TestService_IssueValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	creator := uuid.New()

	_, err := svc.Issue(context.Background(), creator, 1_000, 0, redpacketdomain.SplitFixed, guardrail.Access{})
	assert.Error(t, err)

	_, err = svc.Issue(context.Background(), creator, 1_000, 101, redpacketdomain.SplitFixed, guardrail.Access{})
	assert.Error(t, err)

	_, err = svc.Issue(context.Background(), creator, 2, 3, redpacketdomain.SplitRandom, guardrail.Access{})
	assert.ErrorIs(t, err, ErrAmountBelowCount)

	// A fixed split below one unit per slot would floor every share to
	// zero, so it is rejected up front too.
	_, err = svc.Issue(context.Background(), creator, 2, 3, redpacketdomain.SplitFixed, guardrail.Access{})
	assert.ErrorIs(t, err, ErrAmountBelowCount)

	_, err = svc.Issue(context.Background(), creator, 1_000, 3, redpacketdomain.SplitMode("weird"), guardrail.Access{})
	assert.Error(t, err)
}

func TestService_FixedSplitConservesPool(t *testing.T) {
	svc, _, packets := newTestService(t)
	creator := uuid.New()

	packet, err := svc.Issue(context.Background(), creator, 1_000, 3, redpacketdomain.SplitFixed, guardrail.Access{})
	require.NoError(t, err)

	var shares []int64
	for i := 0; i < 3; i++ {
		claim, err := svc.Claim(context.Background(), packet.ID, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, i+1, claim.ClaimIndex)
		shares = append(shares, claim.Amount)
	}

	sort.Slice(shares, func(i, j int) bool { return shares[i] > shares[j] })
	assert.Equal(t, []int64{334, 333, 333}, shares)

	final := packets.packets[packet.ID]
	assert.Equal(t, redpacketdomain.StatusExhausted, final.Status)
	assert.Zero(t, final.Remaining)
	assert.Equal(t, 3, final.Claimed)

	// A fourth wallet finds the packet exhausted.
	_, err = svc.Claim(context.Background(), packet.ID, uuid.New())
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestService_RandomSplitConservesPool(t *testing.T) {
	svc, _, packets := newTestService(t)
	creator := uuid.New()

	packet, err := svc.Issue(context.Background(), creator, 50, 5, redpacketdomain.SplitRandom, guardrail.Access{})
	require.NoError(t, err)

	var sum int64
	for i := 0; i < 5; i++ {
		claim, err := svc.Claim(context.Background(), packet.ID, uuid.New())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, claim.Amount, int64(1))
		sum += claim.Amount
	}

	assert.Equal(t, int64(50), sum)
	final := packets.packets[packet.ID]
	assert.Equal(t, redpacketdomain.StatusExhausted, final.Status)
	assert.Zero(t, final.Remaining)
}

func TestService_ClaimIsIdempotentPerWallet(t *testing.T) {
	svc, poster, _ := newTestService(t)
	creator, claimant := uuid.New(), uuid.New()

	packet, err := svc.Issue(context.Background(), creator, 1_000, 3, redpacketdomain.SplitFixed, guardrail.Access{})
	require.NoError(t, err)

	first, err := svc.Claim(context.Background(), packet.ID, claimant)
	require.NoError(t, err)
	opsAfterFirst := len(poster.ops)

	again, err := svc.Claim(context.Background(), packet.ID, claimant)
	require.NoError(t, err)
	assert.Equal(t, first.Amount, again.Amount)
	assert.Equal(t, first.ClaimIndex, again.ClaimIndex)
	assert.Len(t, poster.ops, opsAfterFirst)
}

func TestService_ExpiredPacketRefundsRemainder(t *testing.T) {
	svc, poster, packets := newTestService(t)
	creator := uuid.New()

	packet, err := svc.Issue(context.Background(), creator, 1_000, 3, redpacketdomain.SplitFixed, guardrail.Access{})
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), packet.ID, uuid.New())
	require.NoError(t, err)

	svc.now = func() time.Time { return packet.ExpiresAt.Add(time.Minute) }

	_, err = svc.Claim(context.Background(), packet.ID, uuid.New())
	assert.ErrorIs(t, err, shared.ErrExpired)

	final := packets.packets[packet.ID]
	assert.Equal(t, redpacketdomain.StatusExpired, final.Status)

	refund := poster.ops[len(poster.ops)-1]
	assert.True(t, refund.Internal)
	require.NotNil(t, refund.Dest)
	assert.Equal(t, creator, *refund.Dest)
	assert.Equal(t, int64(1_000-333), refund.Amount)
}

// hookedPackets lets a test interleave a committed claim between Expire's
// pre-check read and its packet lock.
type hookedPackets struct {
	*memPackets
	onLock func()
}

func (h *hookedPackets) LockByID(ctx context.Context, id uuid.UUID) (*redpacketdomain.Packet, error) {
	if h.onLock != nil {
		hook := h.onLock
		h.onLock = nil
		hook()
	}
	return h.memPackets.LockByID(ctx, id)
}

func (h *hookedPackets) WithTx(pgx.Tx) redpacketdomain.Repository { return h }

func TestService_ExpireReadsRemainderUnderLock(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	poster := &fakePoster{}
	store := newMemPackets()
	hooked := &hookedPackets{memPackets: store}
	svc := NewService(logger, fakeTxManager{}, poster, hooked, &config.RedPacketConfig{
		TTL:      24 * time.Hour,
		MaxCount: 100,
	}, "SYP")

	creator := uuid.New()
	packet, err := svc.Issue(context.Background(), creator, 1_000, 3, redpacketdomain.SplitFixed, guardrail.Access{})
	require.NoError(t, err)

	svc.now = func() time.Time { return packet.ExpiresAt.Add(time.Minute) }

	// A claim commits after Expire's pre-check but before the packet lock
	// lands. The refund must cover only what the claim left behind.
	hooked.onLock = func() {
		p := store.packets[packet.ID]
		p.Remaining -= 333
		p.Claimed++
	}

	_, err = svc.Expire(context.Background(), packet.ID)
	require.NoError(t, err)

	refund := poster.ops[len(poster.ops)-1]
	assert.Equal(t, int64(1_000-333), refund.Amount)
	require.NotNil(t, refund.Dest)
	assert.Equal(t, creator, *refund.Dest)
	assert.Equal(t, redpacketdomain.StatusExpired, store.packets[packet.ID].Status)
}

func TestService_ClaimUnknownPacket(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Claim(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, redpacketdomain.ErrPacketNotFound{})
}

func TestShare_FixedResidueOnFinalSlot(t *testing.T) {
	p := &redpacketdomain.Packet{Total: 1_000, Remaining: 1_000, Count: 3, Mode: redpacketdomain.SplitFixed}

	first := share(p, uniformDraw)
	assert.Equal(t, int64(333), first)
	p.Remaining -= first
	p.Claimed++

	second := share(p, uniformDraw)
	assert.Equal(t, int64(333), second)
	p.Remaining -= second
	p.Claimed++

	assert.Equal(t, int64(334), share(p, uniformDraw))
}

func TestShare_RandomNeverStarvesLaterSlots(t *testing.T) {
	p := &redpacketdomain.Packet{Total: 10, Remaining: 10, Count: 5, Mode: redpacketdomain.SplitRandom}

	// The greediest possible draw still leaves one unit per later slot.
	greedy := func(max int64) int64 { return max }
	var sum int64
	for p.SlotsLeft() > 0 {
		amount := share(p, greedy)
		assert.GreaterOrEqual(t, amount, int64(1))
		sum += amount
		p.Remaining -= amount
		p.Claimed++
	}
	assert.Equal(t, int64(10), sum)
	assert.Zero(t, p.Remaining)
}
