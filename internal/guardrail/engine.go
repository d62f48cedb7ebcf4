// Package guardrail enforces the pre-flight checks in front of every money
// movement: denylists, risk scoring, KYC tier limits and velocity windows.
// Checks run in a fixed order and the first violation wins; a rejection here
// guarantees no balance was touched.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/audit"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/metrics"
)

// Access describes the client context of one request, used for denylisting
// and risk scoring. Zero values mean the field was absent from the request.
type Access struct {
	DeviceID  string
	IP        string
	UserAgent string
}

// ActivityReader is the slice of the ledger repository the velocity and KYC
// checks need.
type ActivityReader interface {
	OutboundSumSince(ctx context.Context, walletID uuid.UUID, since time.Time) (int64, error)
	SenderWindow(ctx context.Context, walletID uuid.UUID, since time.Time) (ledger.WindowStats, error)
	ReceiverWindow(ctx context.Context, walletID uuid.UUID, since time.Time) (ledger.WindowStats, error)
}

// Engine runs the ordered guardrail checks.
type Engine struct {
	logger   *slog.Logger
	cfg      *config.GuardrailConfig
	activity ActivityReader
	risk     RiskStore
	auditor  audit.Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewEngine creates the guardrail engine. auditor and m may be nil.
func NewEngine(logger *slog.Logger, cfg *config.GuardrailConfig, activity ActivityReader, risk RiskStore, auditor audit.Recorder, m *metrics.Metrics) *Engine {
	return &Engine{
		logger:   logger,
		cfg:      cfg,
		activity: activity,
		risk:     risk,
		auditor:  auditor,
		metrics:  m,
		now:      time.Now,
	}
}

// Check runs all guardrails for an outbound movement of amount from src.
// dest may be nil for movements with no receiving wallet. tier is the KYC
// tier of the source wallet's owner.
func (e *Engine) Check(ctx context.Context, src uuid.UUID, dest *uuid.UUID, tier int, amount int64, access Access) error {
	if err := e.checkDenylist(ctx, src, access); err != nil {
		return err
	}
	if err := e.checkRiskScore(ctx, src, access); err != nil {
		return err
	}
	if err := e.checkKYC(ctx, src, tier, amount); err != nil {
		return err
	}
	return e.checkVelocity(ctx, src, dest, amount)
}

func (e *Engine) checkDenylist(ctx context.Context, src uuid.UUID, access Access) error {
	checks := []struct{ kind, value string }{
		{"device", access.DeviceID},
		{"ip", access.IP},
		{"ip_prefix", ipPrefix(access.IP)},
	}
	for _, c := range checks {
		kind, value := c.kind, c.value
		if value == "" {
			continue
		}
		blocked, err := e.risk.IsDenylisted(ctx, kind, value)
		if err != nil {
			// Risk state being down must not freeze money movement.
			e.logger.Warn("Denylist check unavailable", "kind", kind, "error", err)
			continue
		}
		if blocked {
			e.reject(ctx, audit.KindDenylistBlock, "denylist_"+kind, src, access, 0)
			return shared.RateLimitError{Rule: "denylist_" + kind, RetryAfter: e.cfg.StrikeTTL}
		}
	}
	return nil
}

// checkRiskScore computes a composite score from client-context anomalies.
// Crossing the threshold records a strike and blocks with an exponential
// backoff hint derived from the strike count.
func (e *Engine) checkRiskScore(ctx context.Context, src uuid.UUID, access Access) error {
	score := 0
	if access.DeviceID == "" {
		score += 2
	}
	if access.UserAgent == "" || suspiciousUserAgent(access.UserAgent) {
		score++
	}

	for kind, value := range map[string]string{"device": access.DeviceID, "ip": access.IP} {
		if value == "" {
			continue
		}
		count, err := e.risk.BumpDensity(ctx, kind, value, e.cfg.RiskWindow)
		if err != nil {
			e.logger.Warn("Density counter unavailable", "kind", kind, "error", err)
			continue
		}
		if count > e.cfg.RiskDensityMax {
			score += 2
		}
	}

	if score < e.cfg.RiskThreshold {
		return nil
	}

	strikes, err := e.risk.AddStrike(ctx, src.String(), e.cfg.StrikeTTL)
	if err != nil {
		e.logger.Warn("Strike counter unavailable", "wallet_id", src.String(), "error", err)
		strikes = 1
	}
	shift := strikes
	if shift > int64(e.cfg.BackoffMaxShift) {
		shift = int64(e.cfg.BackoffMaxShift)
	}
	retryAfter := e.cfg.BackoffBase << shift

	e.reject(ctx, audit.KindRiskBlock, "risk_score", src, access, 0)
	return shared.RateLimitError{Rule: "risk_score", RetryAfter: retryAfter}
}

func (e *Engine) checkKYC(ctx context.Context, src uuid.UUID, tier int, amount int64) error {
	limit := e.cfg.TierLimit(tier)

	if amount > limit.PerTxn {
		e.rejectRule(ctx, "kyc_per_txn", src, amount)
		return shared.GuardrailError{
			Rule:   "kyc_per_txn",
			Detail: fmt.Sprintf("amount %d exceeds tier %d per-transaction cap %d", amount, tier, limit.PerTxn),
		}
	}

	since := e.now().Add(-24 * time.Hour)
	spent, err := e.activity.OutboundSumSince(ctx, src, since)
	if err != nil {
		return fmt.Errorf("failed to check daily cap: %w", err)
	}
	if spent+amount > limit.Daily {
		e.rejectRule(ctx, "kyc_daily", src, amount)
		return shared.GuardrailError{
			Rule:   "kyc_daily",
			Detail: fmt.Sprintf("amount %d would exceed tier %d daily cap %d (spent %d)", amount, tier, limit.Daily, spent),
		}
	}

	return nil
}

func (e *Engine) checkVelocity(ctx context.Context, src uuid.UUID, dest *uuid.UUID, amount int64) error {
	since := e.now().Add(-e.cfg.VelocityWindow)

	sent, err := e.activity.SenderWindow(ctx, src, since)
	if err != nil {
		return fmt.Errorf("failed to check sender velocity: %w", err)
	}
	if sent.Count >= e.cfg.SenderMaxCount {
		e.rejectRule(ctx, "velocity_sender_count", src, amount)
		return shared.GuardrailError{
			Rule:   "velocity_sender_count",
			Detail: fmt.Sprintf("%d sends inside the window, max %d", sent.Count, e.cfg.SenderMaxCount),
		}
	}
	if sent.Amount+amount > e.cfg.SenderMaxAmount {
		e.rejectRule(ctx, "velocity_sender_amount", src, amount)
		return shared.GuardrailError{
			Rule:   "velocity_sender_amount",
			Detail: fmt.Sprintf("window outbound %d plus %d exceeds max %d", sent.Amount, amount, e.cfg.SenderMaxAmount),
		}
	}

	if dest == nil {
		return nil
	}

	received, err := e.activity.ReceiverWindow(ctx, *dest, since)
	if err != nil {
		return fmt.Errorf("failed to check receiver velocity: %w", err)
	}
	if received.Count >= e.cfg.ReceiverMaxCount {
		e.rejectRule(ctx, "velocity_receiver_count", *dest, amount)
		return shared.GuardrailError{
			Rule:   "velocity_receiver_count",
			Detail: fmt.Sprintf("%d receipts inside the window, max %d", received.Count, e.cfg.ReceiverMaxCount),
		}
	}
	if received.Amount+amount > e.cfg.ReceiverMaxAmount {
		e.rejectRule(ctx, "velocity_receiver_amount", *dest, amount)
		return shared.GuardrailError{
			Rule:   "velocity_receiver_amount",
			Detail: fmt.Sprintf("window inbound %d plus %d exceeds max %d", received.Amount, amount, e.cfg.ReceiverMaxAmount),
		}
	}

	return nil
}

func (e *Engine) rejectRule(ctx context.Context, rule string, walletID uuid.UUID, amount int64) {
	e.reject(ctx, audit.KindGuardrailRejection, rule, walletID, Access{}, amount)
}

func (e *Engine) reject(ctx context.Context, kind audit.Kind, rule string, walletID uuid.UUID, access Access, amount int64) {
	e.metrics.ObserveGuardrailRejection(rule)
	if e.auditor == nil {
		return
	}
	event := audit.NewEvent(kind, rule)
	event.WalletID = &walletID
	event.DeviceID = access.DeviceID
	event.IP = access.IP
	event.Amount = amount
	if err := e.auditor.Record(ctx, event); err != nil {
		e.logger.Warn("Failed to record audit event", "rule", rule, "error", err)
	}
}

// ipPrefix reduces an IPv4 address to its /24 network, so one denylist entry
// covers a whole neighbourhood of addresses. Non-IPv4 values map to "".
func ipPrefix(ip string) string {
	v4 := net.ParseIP(ip).To4()
	if v4 == nil {
		return ""
	}
	return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
}

func suspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, marker := range []string{"curl/", "python-requests", "wget/", "httpclient"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
