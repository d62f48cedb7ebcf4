// Package reaper runs the background cleanup sweeps: expired reservations
// are transitioned (and refunded where the protocol refunds), and the
// per-wallet reconciliation invariant is re-checked. Correctness never
// depends on the reaper; every protocol also expires lazily on access. The
// sweeps exist for timely refunds and operational visibility.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	cashmandatedomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/cashmandate"
	redpacketdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/redpacket"
	sonicdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/sonic"
	voucherdomain "github.com/RadiSaiyed/Shamell-sub002/internal/domain/voucher"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/audit"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/engine"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/metrics"
)

// CodeExpirer expires one reservation by code, refunding per protocol rules.
// Both the cash mandate and voucher services satisfy it.
type CodeExpirer interface {
	Expire(ctx context.Context, code string) (*engine.Result, error)
}

// PacketExpirer expires one red packet, refunding the unclaimed remainder.
type PacketExpirer interface {
	Expire(ctx context.Context, packetID uuid.UUID) (*engine.Result, error)
}

// Reaper sweeps expired reservations and runs the drift check on a ticker,
// fanning the independent sweeps out over an ants worker pool.
type Reaper struct {
	logger   *slog.Logger
	cfg      *config.ReaperConfig
	pool     *ants.Pool
	tokens   sonicdomain.Repository
	cash     CodeExpirer
	mandates cashmandatedomain.Repository
	voucher  CodeExpirer
	vouchers voucherdomain.Repository
	packet   PacketExpirer
	packets  redpacketdomain.Repository
	ledger   ledger.Repository
	auditor  audit.Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(
	logger *slog.Logger,
	cfg *config.ReaperConfig,
	tokens sonicdomain.Repository,
	cash CodeExpirer,
	mandates cashmandatedomain.Repository,
	voucherSvc CodeExpirer,
	vouchers voucherdomain.Repository,
	packet PacketExpirer,
	packets redpacketdomain.Repository,
	ledgerRepo ledger.Repository,
	auditor audit.Recorder,
	m *metrics.Metrics,
) (*Reaper, error) {
	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create reaper worker pool: %w", err)
	}

	return &Reaper{
		logger:   logger,
		cfg:      cfg,
		pool:     pool,
		tokens:   tokens,
		cash:     cash,
		mandates: mandates,
		voucher:  voucherSvc,
		vouchers: vouchers,
		packet:   packet,
		packets:  packets,
		ledger:   ledgerRepo,
		auditor:  auditor,
		metrics:  m,
		now:      time.Now,
	}, nil
}

// Start sweeps on the configured interval until the context is canceled.
func (r *Reaper) Start(ctx context.Context) {
	r.logger.Info("Starting reaper",
		"interval", r.cfg.Interval.String(),
		"batch_size", r.cfg.BatchSize,
		"pool_size", r.cfg.PoolSize,
		"drift_sweep", r.cfg.DriftSweep,
	)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	defer r.pool.Release()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reaper stopping due to context cancellation.")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one round of all sweeps and waits for them to finish.
func (r *Reaper) Sweep(ctx context.Context) {
	var wg sync.WaitGroup
	submit := func(name string, fn func(context.Context)) {
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			fn(ctx)
		})
		if err != nil {
			wg.Done()
			r.logger.Error("Failed to submit sweep task", "sweep", name, "error", err)
		}
	}

	submit("sonic", r.sweepSonic)
	submit("cash", r.sweepCash)
	submit("vouchers", r.sweepVouchers)
	submit("redpackets", r.sweepPackets)
	if r.cfg.DriftSweep {
		submit("drift", r.sweepDrift)
	}
	wg.Wait()
}

// sweepSonic only transitions: expired tokens are never auto-refunded, the
// issuer reclaims the funds through cancel.
func (r *Reaper) sweepSonic(ctx context.Context) {
	expired, err := r.tokens.ListExpired(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("Sonic expiry sweep failed", "error", err)
		return
	}

	count := 0
	for _, t := range expired {
		if err := r.tokens.UpdateStatus(ctx, t.TokenHash, sonicdomain.StatusExpired); err != nil {
			r.logger.Error("Failed to expire sonic token", "token_hash", t.TokenHash, "error", err)
			continue
		}
		count++
	}
	r.finishSweep("sonic", count)
}

func (r *Reaper) sweepCash(ctx context.Context) {
	expired, err := r.mandates.ListExpired(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("Cash mandate expiry sweep failed", "error", err)
		return
	}

	count := 0
	for _, m := range expired {
		if _, err := r.cash.Expire(ctx, m.Code); err != nil {
			r.logger.Error("Failed to expire cash mandate", "code", m.Code, "error", err)
			continue
		}
		count++
	}
	r.finishSweep("cash", count)
}

func (r *Reaper) sweepVouchers(ctx context.Context) {
	expired, err := r.vouchers.ListExpired(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("Voucher expiry sweep failed", "error", err)
		return
	}

	count := 0
	for _, v := range expired {
		if _, err := r.voucher.Expire(ctx, v.Code); err != nil {
			r.logger.Error("Failed to expire voucher", "code", v.Code, "error", err)
			continue
		}
		count++
	}
	r.finishSweep("vouchers", count)
}

func (r *Reaper) sweepPackets(ctx context.Context) {
	expired, err := r.packets.ListExpired(ctx, r.now(), r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("Red packet expiry sweep failed", "error", err)
		return
	}

	count := 0
	for _, p := range expired {
		if _, err := r.packet.Expire(ctx, p.ID); err != nil {
			r.logger.Error("Failed to expire red packet", "packet_id", p.ID, "error", err)
			continue
		}
		count++
	}
	r.finishSweep("redpackets", count)
}

func (r *Reaper) finishSweep(kind string, count int) {
	r.metrics.ObserveReservationExpired(kind, count)
	if count > 0 {
		r.logger.Info("Expired reservations swept", "kind", kind, "count", count)
	}
}

// sweepDrift re-checks that every wallet's entry sum matches its balance and
// reports the wallets that disagree.
func (r *Reaper) sweepDrift(ctx context.Context) {
	rows, err := r.ledger.Drift(ctx)
	if err != nil {
		r.logger.Error("Drift sweep failed", "error", err)
		return
	}

	r.metrics.ObserveDriftSweep(len(rows), r.now().Unix())

	for _, row := range rows {
		r.logger.Warn("Ledger drift detected",
			"wallet_id", row.WalletID,
			"balance", row.Balance,
			"entry_sum", row.EntrySum,
			"delta", row.Delta,
		)

		event := audit.NewEvent(audit.KindLedgerDrift, "reconciliation")
		walletID := row.WalletID
		event.WalletID = &walletID
		event.Amount = row.Delta
		event.Detail = fmt.Sprintf("balance %d, entry sum %d", row.Balance, row.EntrySum)
		if err := r.auditor.Record(ctx, event); err != nil {
			r.logger.Error("Failed to record drift audit event", "wallet_id", row.WalletID, "error", err)
		}
	}
}
