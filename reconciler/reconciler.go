// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package reconciler keeps the canonical token supply equal to the sum of
// share supplies reported by every registered remote chain.
//
// Reconciliation is all-or-nothing: every registered chain must have a
// fresh snapshot before the supply is touched, and a failing step leaves
// the synced supply where it was.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/event"
	"github.com/luxfi/log"

	"github.com/luxfi/omnivault/access"
	"github.com/luxfi/omnivault/adapter"
	"github.com/luxfi/omnivault/ledger"
	"github.com/luxfi/omnivault/metrics"
	"github.com/luxfi/omnivault/strategy"
	"github.com/luxfi/omnivault/token"
	"github.com/luxfi/omnivault/types"
)

var (
	ErrUpdatesPaused              = errors.New("updates paused")
	ErrMissingChainData           = errors.New("missing chain data")
	ErrStaleChainData             = errors.New("stale chain data")
	ErrNoRebalancingRequired      = errors.New("no rebalancing required")
	ErrInsufficientBackingBalance = errors.New("insufficient backing balance")
	ErrExceedsBalance             = strategy.ErrExceedsBalance
	ErrExceedsCapacity            = strategy.ErrExceedsCapacity
	ErrZeroAmount                 = errors.New("zero amount")
	ErrMissingStrategy            = errors.New("no yield strategy configured")
	ErrMissingSender              = errors.New("no value sender configured")
)

// ChainError reports which chain blocked a reconciliation.
type ChainError struct {
	Chain types.ChainID
	Err   error
}

func (e *ChainError) Error() string { return fmt.Sprintf("%s: %s", e.Err, e.Chain) }
func (e *ChainError) Unwrap() error { return e.Err }

// SyncedSupplyChanged is sent after every successful reconciliation.
type SyncedSupplyChanged struct {
	Old *big.Int
	New *big.Int
}

// Result describes a successful reconciliation. Delta is signed: positive
// values were minted, negative values burned.
type Result struct {
	Old   *big.Int
	New   *big.Int
	Delta *big.Int
	Swept *big.Int
}

// ValueSender moves assets to a remote chain. It is satisfied by
// *adapter.Adapter.
type ValueSender interface {
	SendValue(
		ctx context.Context,
		caller common.Address,
		chain types.ChainID,
		amount *big.Int,
		opts adapter.ExecutionOptions,
		supplied *big.Int,
	) (adapter.Receipt, error)
}

// Config holds the addresses the reconciler works with.
type Config struct {
	// Address is the reconciler's own account. It must be the token minter
	// and is the message target on the home chain.
	Address common.Address

	// Backing holds the canonical tokens that collateralize remote shares.
	Backing common.Address

	InfoMaxDelay  time.Duration
	UpdateEnabled bool
}

type Deps struct {
	DB       database.Database
	Ledger   *ledger.Ledger
	Token    *token.Token
	Strategy strategy.Strategy
	Sender   ValueSender
	Log      log.Logger
	Metrics  metrics.Reconciler
}

// Reconciler is the single writer of the synced supply and the backing
// account balance.
type Reconciler struct {
	self    common.Address
	backing common.Address

	db       database.Database
	ledger   *ledger.Ledger
	token    *token.Token
	strategy strategy.Strategy
	sender   ValueSender
	log      log.Logger
	metrics  metrics.Reconciler

	syncedSupply  *big.Int
	idle          *big.Int
	infoMaxDelay  time.Duration
	updateEnabled bool

	feed event.Feed
	mu   sync.Mutex
}

func New(cfg Config, deps Deps) (*Reconciler, error) {
	if deps.Log == nil {
		deps.Log = log.NewNoOpLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop().Reconciler
	}
	if deps.Token.Minter() != cfg.Address {
		return nil, fmt.Errorf("%w: reconciler %s, minter %s", token.ErrNotMinter, cfg.Address, deps.Token.Minter())
	}
	r := &Reconciler{
		self:          cfg.Address,
		backing:       cfg.Backing,
		db:            deps.DB,
		ledger:        deps.Ledger,
		token:         deps.Token,
		strategy:      deps.Strategy,
		sender:        deps.Sender,
		log:           deps.Log,
		metrics:       deps.Metrics,
		syncedSupply:  deps.Token.Synced(),
		idle:          new(big.Int),
		infoMaxDelay:  cfg.InfoMaxDelay,
		updateEnabled: cfg.UpdateEnabled,
	}
	if err := r.load(); err != nil {
		return nil, fmt.Errorf("loading reconciler: %w", err)
	}
	r.metrics.SetSyncedSupply(r.syncedSupply)
	r.metrics.SetIdle(r.idle)
	return r, nil
}

// Reconcile mints or burns the difference between the sum of reported share
// supplies and the synced supply. Anyone may call it.
func (r *Reconciler) Reconcile(_ context.Context) (Result, error) {
	r.mu.Lock()
	res, err := r.reconcile()
	r.mu.Unlock()

	switch {
	case err == nil:
		r.metrics.MarkReconcile("ok")
	case errors.Is(err, ErrNoRebalancingRequired):
		r.metrics.MarkReconcile("noop")
		return Result{}, err
	case errors.Is(err, ErrInsufficientBackingBalance):
		r.metrics.MarkReconcile("fatal")
		r.log.Error("backing balance cannot cover burn", log.Err(err))
		return Result{}, err
	default:
		r.metrics.MarkReconcile("rejected")
		return Result{}, err
	}

	r.log.Info("supply reconciled",
		log.String("old", res.Old.String()),
		log.String("new", res.New.String()),
		log.String("swept", res.Swept.String()),
	)
	r.feed.Send(SyncedSupplyChanged{Old: new(big.Int).Set(res.Old), New: new(big.Int).Set(res.New)})
	return res, nil
}

// reconcile must be called with the lock held.
func (r *Reconciler) reconcile() (Result, error) {
	if !r.updateEnabled {
		return Result{}, ErrUpdatesPaused
	}

	total := new(big.Int)
	for _, chain := range r.ledger.Chains() {
		snap := r.ledger.Get(chain)
		if snap.IsZero() {
			return Result{}, &ChainError{Chain: chain, Err: ErrMissingChainData}
		}
		if !r.ledger.IsFresh(chain, r.infoMaxDelay) {
			return Result{}, &ChainError{Chain: chain, Err: ErrStaleChainData}
		}
		total.Add(total, snap.ShareSupply)
	}

	delta := new(big.Int).Sub(total, r.syncedSupply)
	if delta.Sign() == 0 {
		return Result{}, ErrNoRebalancingRequired
	}

	if delta.Sign() < 0 {
		available := new(big.Int).Add(r.token.BalanceOf(r.backing), r.token.BalanceOf(r.self))
		if burn := new(big.Int).Neg(delta); available.Cmp(burn) < 0 {
			return Result{}, fmt.Errorf("%w: burning %s, backing holds %s", ErrInsufficientBackingBalance, burn, available)
		}
	}

	// Settle writes the supply change and the synced checkpoint in one
	// batch, so a retry after a failed write cannot mint twice.
	swept, err := r.token.Settle(r.self, r.self, r.backing, delta, total)
	if err != nil {
		return Result{}, fmt.Errorf("settling supply: %w", err)
	}
	if delta.Sign() > 0 {
		r.metrics.AddMinted(delta)
	} else {
		r.metrics.AddBurned(new(big.Int).Neg(delta))
	}

	old := r.syncedSupply
	r.syncedSupply = total
	r.metrics.SetSyncedSupply(total)

	return Result{
		Old:   new(big.Int).Set(old),
		New:   new(big.Int).Set(total),
		Delta: delta,
		Swept: swept,
	}, nil
}

// ForwardToYield moves idle capital into the yield strategy. It never
// changes the synced supply.
func (r *Reconciler) ForwardToYield(ctx context.Context, caller access.Caller, amount *big.Int) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if r.strategy == nil {
		return ErrMissingStrategy
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount.Cmp(r.idle) > 0 {
		return fmt.Errorf("%w: forwarding %s, idle %s", ErrExceedsBalance, amount, r.idle)
	}
	if capacity := r.strategy.AvailableCapacity(); amount.Cmp(capacity) > 0 {
		return fmt.Errorf("%w: forwarding %s, strategy accepts %s", ErrExceedsCapacity, amount, capacity)
	}
	if err := r.strategy.Deposit(ctx, amount); err != nil {
		return fmt.Errorf("depositing into %s: %w", r.strategy.Name(), err)
	}
	if err := r.setIdle(new(big.Int).Sub(r.idle, amount)); err != nil {
		return err
	}
	r.log.Info("forwarded to yield",
		log.String("strategy", r.strategy.Name()),
		log.String("amount", amount.String()),
	)
	return nil
}

// SendToChain bridges idle capital to the pool on chain. The amount is
// funded from the idle balance and fee is what the caller offers on top for
// the transport; any excess comes back in the receipt.
func (r *Reconciler) SendToChain(
	ctx context.Context,
	caller access.Caller,
	chain types.ChainID,
	amount *big.Int,
	opts adapter.ExecutionOptions,
	fee *big.Int,
) (adapter.Receipt, error) {
	if err := caller.Require(access.Operator); err != nil {
		return adapter.Receipt{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return adapter.Receipt{}, ErrZeroAmount
	}
	if r.sender == nil {
		return adapter.Receipt{}, ErrMissingSender
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount.Cmp(r.idle) > 0 {
		return adapter.Receipt{}, fmt.Errorf("%w: sending %s, idle %s", ErrExceedsBalance, amount, r.idle)
	}
	supplied := new(big.Int).Set(amount)
	if fee != nil {
		supplied.Add(supplied, fee)
	}
	receipt, err := r.sender.SendValue(ctx, r.self, chain, amount, opts, supplied)
	if err != nil {
		return adapter.Receipt{}, err
	}
	if err := r.setIdle(new(big.Int).Sub(r.idle, amount)); err != nil {
		return adapter.Receipt{}, err
	}
	return receipt, nil
}

// HandleSnapshot records a snapshot delivered by the adapter at route.
func (r *Reconciler) HandleSnapshot(ctx context.Context, route common.Address, snap types.Snapshot) error {
	_, err := r.ledger.Record(ctx, route, snap.ChainID, snap.Timestamp, snap.UnderlyingBalance, snap.ShareSupply)
	return err
}

// HandleValue credits capital bridged in from a remote chain.
func (r *Reconciler) HandleValue(_ context.Context, src types.ChainID, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return ErrZeroAmount
	}
	if err := types.CheckAmount(amount); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setIdle(new(big.Int).Add(r.idle, amount)); err != nil {
		return err
	}
	r.log.Debug("value received",
		log.Stringer("chain", src),
		log.String("amount", amount.String()),
	)
	return nil
}

func (r *Reconciler) SetInfoMaxDelay(caller access.Caller, delay time.Duration) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Put(keyInfoMaxDelay, encodeUint64(uint64(delay))); err != nil {
		return err
	}
	r.infoMaxDelay = delay
	return nil
}

func (r *Reconciler) SetUpdateEnabled(caller access.Caller, enabled bool) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	v := []byte{0}
	if enabled {
		v[0] = 1
	}
	if err := r.db.Put(keyUpdateEnabled, v); err != nil {
		return err
	}
	r.updateEnabled = enabled
	r.log.Info("reconciliation updates toggled", log.Bool("enabled", enabled))
	return nil
}

func (r *Reconciler) Address() common.Address { return r.self }
func (r *Reconciler) Backing() common.Address { return r.backing }

func (r *Reconciler) SyncedSupply() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(big.Int).Set(r.syncedSupply)
}

func (r *Reconciler) Idle() *big.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(big.Int).Set(r.idle)
}

func (r *Reconciler) InfoMaxDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infoMaxDelay
}

func (r *Reconciler) UpdateEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateEnabled
}

func (r *Reconciler) SubscribeSyncedSupply(ch chan<- SyncedSupplyChanged) event.Subscription {
	return r.feed.Subscribe(ch)
}

// setIdle must be called with the lock held.
func (r *Reconciler) setIdle(v *big.Int) error {
	if err := r.db.Put(keyIdle, word(v)); err != nil {
		return fmt.Errorf("persisting idle balance: %w", err)
	}
	r.idle = v
	r.metrics.SetIdle(v)
	return nil
}
