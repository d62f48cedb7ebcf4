// Package engine implements the wallet ledger core: every balance change in
// the system funnels through one posting path that locks wallet rows in id
// order, writes the immutable transaction and its double-entry rows, queues
// the outbox event and records the idempotency snapshot, all in a single
// database transaction.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/RadiSaiyed/Shamell-sub002/internal/config"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/idempotency"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/ledger"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/outbox"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/shared"
	"github.com/RadiSaiyed/Shamell-sub002/internal/domain/wallet"
	"github.com/RadiSaiyed/Shamell-sub002/internal/guardrail"
	"github.com/RadiSaiyed/Shamell-sub002/internal/platform/metrics"
)

// TxManager runs a function inside one database transaction.
type TxManager interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Guard is the pre-flight check interface in front of outbound movements.
type Guard interface {
	Check(ctx context.Context, src uuid.UUID, dest *uuid.UUID, tier int, amount int64, access guardrail.Access) error
}

// Op describes one money movement. A nil Source means an external credit
// (topup, payout from the pool); a nil Dest means funds leave towards the
// pool or an external party.
type Op struct {
	Endpoint string // idempotency scope, e.g. "transfers"
	Key      string // caller idempotency key; empty disables the guard

	Kind   ledger.TxnKind
	Source *uuid.UUID
	Dest   *uuid.UUID
	Amount int64

	Access guardrail.Access

	// Internal skips guardrails: refunds, payouts and protocol-internal
	// movements that already passed checks when the funds were reserved.
	Internal bool

	// Within runs inside the posting transaction after balances moved,
	// letting protocol services write their reservation rows atomically
	// with the money movement.
	Within func(ctx context.Context, tx pgx.Tx, txn *ledger.Txn) error
}

// Result is the outcome of one executed movement. Replayed marks answers
// served from the idempotency store without re-execution.
type Result struct {
	Snapshot wallet.Snapshot
	TxnID    uuid.UUID
	Replayed bool
}

// Engine is the wallet ledger core.
type Engine struct {
	logger    *slog.Logger
	db        TxManager
	wallets   wallet.Repository
	ledger    ledger.Repository
	idem      idempotency.Repository
	outbox    outbox.Repository
	guard     Guard
	cfg       *config.WalletConfig
	feeWallet *uuid.UUID
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates the ledger engine. The fee wallet id, when configured, must
// parse; fees post against the external account otherwise.
func New(
	logger *slog.Logger,
	db TxManager,
	wallets wallet.Repository,
	ledgerRepo ledger.Repository,
	idem idempotency.Repository,
	outboxRepo outbox.Repository,
	guard Guard,
	cfg *config.WalletConfig,
	m *metrics.Metrics,
) (*Engine, error) {
	var feeWallet *uuid.UUID
	if cfg.FeeWalletID != "" {
		id, err := uuid.Parse(cfg.FeeWalletID)
		if err != nil {
			return nil, fmt.Errorf("invalid fee wallet id %q: %w", cfg.FeeWalletID, err)
		}
		feeWallet = &id
	}

	return &Engine{
		logger:    logger,
		db:        db,
		wallets:   wallets,
		ledger:    ledgerRepo,
		idem:      idem,
		outbox:    outboxRepo,
		guard:     guard,
		cfg:       cfg,
		feeWallet: feeWallet,
		metrics:   m,
		now:       time.Now,
	}, nil
}

// CreateUser registers a user and their wallet atomically.
func (e *Engine) CreateUser(ctx context.Context, phone string) (*wallet.User, *wallet.Wallet, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, nil, errors.New("phone is required")
	}

	existing, err := e.wallets.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, wallet.ErrDuplicatePhone{Phone: phone}
	}

	u, w := wallet.NewUser(phone, e.cfg.Currency)
	err = e.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		return e.wallets.WithTx(tx).CreateUserWithWallet(ctx, u, w)
	})
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info("Created user", "user_id", u.ID.String(), "wallet_id", w.ID.String())
	return u, w, nil
}

// Transfer moves amount between two wallets, applying the transfer fee.
func (e *Engine) Transfer(ctx context.Context, from, to uuid.UUID, amount int64, key string, access guardrail.Access) (*Result, error) {
	return e.Execute(ctx, Op{
		Endpoint: "transfers",
		Key:      key,
		Kind:     ledger.KindTransfer,
		Source:   &from,
		Dest:     &to,
		Amount:   amount,
		Access:   access,
	})
}

// Topup credits a wallet from the external account. Gated behind the
// development topup flag; production deployments front this with a funding
// integration.
func (e *Engine) Topup(ctx context.Context, walletID uuid.UUID, amount int64, key string) (*Result, error) {
	if !e.cfg.DevTopup {
		return nil, shared.ErrForbidden
	}
	return e.Execute(ctx, Op{
		Endpoint: "topups",
		Key:      key,
		Kind:     ledger.KindTopup,
		Dest:     &walletID,
		Amount:   amount,
		Internal: true,
	})
}

// BillPay debits a wallet towards an external biller, applying the fee.
func (e *Engine) BillPay(ctx context.Context, walletID uuid.UUID, amount int64, key string, access guardrail.Access) (*Result, error) {
	return e.Execute(ctx, Op{
		Endpoint: "bills",
		Key:      key,
		Kind:     ledger.KindBill,
		Source:   &walletID,
		Amount:   amount,
		Access:   access,
	})
}

// SavingsDeposit shifts amount from the main balance into savings.
func (e *Engine) SavingsDeposit(ctx context.Context, walletID uuid.UUID, amount int64, key string) (*Result, error) {
	return e.Execute(ctx, Op{
		Endpoint: "savings_deposit",
		Key:      key,
		Kind:     ledger.KindSavingsDeposit,
		Source:   &walletID,
		Amount:   amount,
		Internal: true,
	})
}

// SavingsWithdraw shifts amount from savings back into the main balance.
func (e *Engine) SavingsWithdraw(ctx context.Context, walletID uuid.UUID, amount int64, key string) (*Result, error) {
	return e.Execute(ctx, Op{
		Endpoint: "savings_withdraw",
		Key:      key,
		Kind:     ledger.KindSavingsWithdraw,
		Source:   &walletID,
		Amount:   amount,
		Internal: true,
	})
}

// GetWallet returns one wallet.
func (e *Engine) GetWallet(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	return e.wallets.GetWallet(ctx, id)
}

// ListTxns returns the most recent transactions touching a wallet.
func (e *Engine) ListTxns(ctx context.Context, walletID uuid.UUID, limit int) ([]*ledger.Txn, error) {
	if _, err := e.wallets.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return e.ledger.ListByWallet(ctx, walletID, limit)
}

// Drift reports wallets whose balance disagrees with their entry sum.
func (e *Engine) Drift(ctx context.Context) ([]ledger.DriftRow, error) {
	return e.ledger.Drift(ctx)
}

// Execute runs one movement end to end: idempotency pre-check, guardrails,
// then the posting transaction. A replayed key returns the stored snapshot
// without touching any balance.
func (e *Engine) Execute(ctx context.Context, op Op) (*Result, error) {
	if err := validate(op); err != nil {
		return nil, err
	}

	if op.Key != "" {
		rec, err := e.idem.Get(ctx, op.Endpoint, op.Key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			e.metrics.ObserveIdempotentReplay()
			return resultFromRecord(rec), nil
		}
	}

	if !op.Internal && op.Source != nil {
		owner, err := e.wallets.GetUserByWallet(ctx, *op.Source)
		if err != nil {
			return nil, err
		}
		if err := e.guard.Check(ctx, *op.Source, op.Dest, owner.KYCTier, op.Amount, op.Access); err != nil {
			return nil, err
		}
	}

	var result *Result
	err := e.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		s, txn, err := e.post(ctx, tx, op)
		if err != nil {
			return err
		}
		result = &Result{Snapshot: *s, TxnID: txn.ID}

		if op.Key != "" {
			rec := &idempotency.Record{
				Key:       op.Key,
				Endpoint:  op.Endpoint,
				TxnID:     txn.ID,
				WalletID:  s.WalletID,
				Balance:   s.Balance,
				Savings:   s.Savings,
				Currency:  s.Currency,
				CreatedAt: e.now().UTC(),
			}
			if err := e.idem.WithTx(tx).Create(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// A losing concurrent retry hit the unique constraint: the winner
		// committed, so answer with its snapshot.
		if errors.Is(err, idempotency.ErrDuplicateKey{}) {
			rec, getErr := e.idem.Get(ctx, op.Endpoint, op.Key)
			if getErr == nil && rec != nil {
				e.metrics.ObserveIdempotentReplay()
				return resultFromRecord(rec), nil
			}
		}
		e.metrics.ObserveTxn(string(op.Kind), err)
		return nil, err
	}

	e.metrics.ObserveTxn(string(op.Kind), nil)
	return result, nil
}

// PostInTx runs the posting core inside a transaction the caller already
// owns. Used by protocol services that must lock their own aggregate first,
// like red packet claims.
func (e *Engine) PostInTx(ctx context.Context, tx pgx.Tx, op Op) (*wallet.Snapshot, *ledger.Txn, error) {
	if err := validate(op); err != nil {
		return nil, nil, err
	}
	return e.post(ctx, tx, op)
}

func validate(op Op) error {
	if op.Amount <= 0 {
		return shared.ErrInvalidAmount
	}
	if !op.Kind.Valid() {
		return fmt.Errorf("unknown transaction kind %q", op.Kind)
	}
	if op.Source == nil && op.Dest == nil {
		return errors.New("movement needs at least one wallet")
	}
	if op.Source != nil && op.Dest != nil && *op.Source == *op.Dest {
		return shared.ErrSameWallet
	}
	return nil
}

// post moves the money. Wallet rows are locked FOR UPDATE in id order so
// concurrent movements over the same wallets cannot deadlock, then balances,
// the txn, its entries and the outbox event are written together.
func (e *Engine) post(ctx context.Context, tx pgx.Tx, op Op) (*wallet.Snapshot, *ledger.Txn, error) {
	wallets := e.wallets.WithTx(tx)
	ledgerRepo := e.ledger.WithTx(tx)
	outboxRepo := e.outbox.WithTx(tx)

	if op.Kind == ledger.KindSavingsDeposit || op.Kind == ledger.KindSavingsWithdraw {
		return e.postSavings(ctx, tx, op, wallets, ledgerRepo, outboxRepo)
	}

	var fee int64
	if op.Kind.FeeApplies() {
		fee = op.Amount * e.cfg.FeeBps / 10000
		if op.Amount-fee <= 0 {
			return nil, nil, shared.ErrFeeExceedsAmount
		}
	}
	feeDest := e.feeWallet
	if fee == 0 {
		feeDest = nil
	}

	locked := make(map[uuid.UUID]*wallet.Wallet)
	for _, id := range lockOrder(op.Source, op.Dest, feeDest) {
		w, err := wallets.LockWallet(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = w
	}
	for _, w := range locked {
		if w.Currency != e.cfg.Currency {
			return nil, nil, shared.ErrCurrencyMismatch
		}
	}

	// The fee collector can itself be a party to the movement. Fold the fee
	// into that wallet's mutation so each locked row is written exactly once
	// and the optimistic version check stays satisfiable.
	net := op.Amount - fee
	feeToDest := feeDest != nil && op.Dest != nil && *feeDest == *op.Dest
	feeToSource := feeDest != nil && op.Source != nil && *feeDest == *op.Source

	if op.Source != nil {
		debit := op.Amount
		if feeToSource {
			debit = net
		}
		if err := locked[*op.Source].Debit(debit); err != nil {
			return nil, nil, err
		}
	}
	if op.Dest != nil {
		credit := net
		if feeToDest {
			credit = op.Amount
		}
		if err := locked[*op.Dest].Credit(credit); err != nil {
			return nil, nil, err
		}
	}
	if feeDest != nil && !feeToDest && !feeToSource {
		if err := locked[*feeDest].Credit(fee); err != nil {
			return nil, nil, err
		}
	}

	txn := ledger.NewTxn(op.Kind, op.Source, op.Dest, op.Amount, fee, e.cfg.Currency)

	entries := make([]ledger.Entry, 0, 3)
	entries = append(entries, ledger.Entry{TxnID: txn.ID, WalletID: op.Source, Amount: -op.Amount, CreatedAt: txn.CreatedAt})
	entries = append(entries, ledger.Entry{TxnID: txn.ID, WalletID: op.Dest, Amount: net, CreatedAt: txn.CreatedAt})
	if fee > 0 {
		entries = append(entries, ledger.Entry{TxnID: txn.ID, WalletID: feeDest, Amount: fee, CreatedAt: txn.CreatedAt})
	}
	if !ledger.Balanced(entries) {
		return nil, nil, fmt.Errorf("unbalanced entries for txn %s", txn.ID)
	}

	return e.commitPosting(ctx, tx, op, txn, entries, locked, wallets, ledgerRepo, outboxRepo)
}

// postSavings shifts between the wallet's own balances. The external leg
// keeps the entry history tracking the main balance, so double entry and the
// per-wallet reconciliation both keep holding.
func (e *Engine) postSavings(ctx context.Context, tx pgx.Tx, op Op, wallets wallet.Repository, ledgerRepo ledger.Repository, outboxRepo outbox.Repository) (*wallet.Snapshot, *ledger.Txn, error) {
	w, err := wallets.LockWallet(ctx, *op.Source)
	if err != nil {
		return nil, nil, err
	}

	var txn *ledger.Txn
	var walletLeg int64
	if op.Kind == ledger.KindSavingsDeposit {
		if err := w.MoveToSavings(op.Amount); err != nil {
			return nil, nil, err
		}
		txn = ledger.NewTxn(op.Kind, op.Source, nil, op.Amount, 0, e.cfg.Currency)
		walletLeg = -op.Amount
	} else {
		if err := w.MoveFromSavings(op.Amount); err != nil {
			return nil, nil, err
		}
		txn = ledger.NewTxn(op.Kind, nil, op.Source, op.Amount, 0, e.cfg.Currency)
		walletLeg = op.Amount
	}

	entries := []ledger.Entry{
		{TxnID: txn.ID, WalletID: &w.ID, Amount: walletLeg, CreatedAt: txn.CreatedAt},
		{TxnID: txn.ID, WalletID: nil, Amount: -walletLeg, CreatedAt: txn.CreatedAt},
	}

	locked := map[uuid.UUID]*wallet.Wallet{w.ID: w}
	return e.commitPosting(ctx, tx, op, txn, entries, locked, wallets, ledgerRepo, outboxRepo)
}

func (e *Engine) commitPosting(
	ctx context.Context,
	tx pgx.Tx,
	op Op,
	txn *ledger.Txn,
	entries []ledger.Entry,
	locked map[uuid.UUID]*wallet.Wallet,
	wallets wallet.Repository,
	ledgerRepo ledger.Repository,
	outboxRepo outbox.Repository,
) (*wallet.Snapshot, *ledger.Txn, error) {
	for _, w := range locked {
		if err := wallets.UpdateBalances(ctx, w); err != nil {
			return nil, nil, err
		}
	}

	if err := ledgerRepo.CreateTxn(ctx, txn); err != nil {
		return nil, nil, err
	}
	if err := ledgerRepo.CreateEntries(ctx, entries); err != nil {
		return nil, nil, err
	}

	message, err := outbox.NewMessage(txn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build outbox message: %w", err)
	}
	if err := outboxRepo.Create(ctx, message); err != nil {
		return nil, nil, err
	}

	if op.Within != nil {
		if err := op.Within(ctx, tx, txn); err != nil {
			return nil, nil, err
		}
	}

	// Callers see the credited wallet when the movement has one, so a
	// transfer answers with the recipient's new balance.
	reported := op.Dest
	if reported == nil {
		reported = op.Source
	}
	snap := locked[*reported].Snapshot()
	return &snap, txn, nil
}

// lockOrder returns the distinct wallet ids involved, sorted so every
// movement locks rows in the same global order.
func lockOrder(ids ...*uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var order []uuid.UUID
	for _, id := range ids {
		if id == nil || seen[*id] {
			continue
		}
		seen[*id] = true
		order = append(order, *id)
	}
	sort.Slice(order, func(i, j int) bool {
		return bytes.Compare(order[i][:], order[j][:]) < 0
	})
	return order
}

func resultFromRecord(rec *idempotency.Record) *Result {
	return &Result{
		Snapshot: wallet.Snapshot{
			WalletID: rec.WalletID,
			Balance:  rec.Balance,
			Savings:  rec.Savings,
			Currency: rec.Currency,
		},
		TxnID:    rec.TxnID,
		Replayed: true,
	}
}
