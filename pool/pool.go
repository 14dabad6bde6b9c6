// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool implements the flash liquidity pool that runs on each remote
// chain. Users deposit into and withdraw from a local buffer instantly; the
// bonding engine prices each operation so the buffer drifts back toward its
// target capacity.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/omnivault/access"
	"github.com/luxfi/omnivault/bonding"
	"github.com/luxfi/omnivault/curve"
	"github.com/luxfi/omnivault/metrics"
	"github.com/luxfi/omnivault/strategy"
	"github.com/luxfi/omnivault/types"
	"github.com/luxfi/omnivault/utils/timer/mockable"
)

var (
	ErrConfigNotSet         = bonding.ErrConfigNotSet
	ErrInsufficientCapacity = bonding.ErrInsufficientCapacity
	ErrExceedsBalance       = strategy.ErrExceedsBalance
	ErrExceedsCapacity      = strategy.ErrExceedsCapacity

	ErrPaused             = errors.New("pool is paused")
	ErrNotPaused          = errors.New("pool is not paused")
	ErrLowerMinAmount     = errors.New("amount below minimum")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrZeroShares         = errors.New("zero shares")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidRatio       = errors.New("invalid exchange ratio")
	ErrInvalidTarget      = errors.New("invalid target capacity")
	ErrMissingStrategy    = errors.New("no yield strategy configured")
)

// Status is the pool lifecycle state.
type Status uint8

const (
	Uninitialized Status = iota
	Active
	Paused
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// State is a copy of the pool's accounting.
type State struct {
	TargetCapacity      *big.Int
	FreeBalance         *big.Int
	DelegatedBalance    *big.Int
	DepositBonusAccrued *big.Int
	ProtocolFeeShare    uint64
	MinAmount           *big.Int
}

func (s State) clone() State {
	return State{
		TargetCapacity:      new(big.Int).Set(s.TargetCapacity),
		FreeBalance:         new(big.Int).Set(s.FreeBalance),
		DelegatedBalance:    new(big.Int).Set(s.DelegatedBalance),
		DepositBonusAccrued: new(big.Int).Set(s.DepositBonusAccrued),
		ProtocolFeeShare:    s.ProtocolFeeShare,
		MinAmount:           new(big.Int).Set(s.MinAmount),
	}
}

func (s State) bonding() bonding.State {
	return bonding.State{
		TargetCapacity:      s.TargetCapacity,
		FreeBalance:         s.FreeBalance,
		DepositBonusAccrued: s.DepositBonusAccrued,
		ProtocolFeeShare:    s.ProtocolFeeShare,
	}
}

// Config holds the static pool parameters.
type Config struct {
	ChainID          types.ChainID
	Treasury         common.Address
	TargetCapacity   *big.Int // zero leaves the pool uninitialized
	MinAmount        *big.Int
	ProtocolFeeShare uint64
	DepositCurve     curve.Curve
	WithdrawCurve    curve.Curve
}

// Deps are the pool's collaborators. Ratio and Payer are required.
type Deps struct {
	Ratio    RatioOracle
	Payer    Payer
	Strategy strategy.Strategy
	Clock    *mockable.Clock
	Log      log.Logger
	Metrics  metrics.Pool
}

type DepositResult struct {
	Shares *big.Int
	Bonus  *big.Int
}

type WithdrawResult struct {
	Assets      *big.Int
	Fee         *big.Int
	ProtocolFee *big.Int
	Paid        *big.Int
}

// Pool is a flash liquidity pool.
type Pool struct {
	chainID  types.ChainID
	treasury common.Address

	status      Status
	state       State
	engine      *bonding.Engine
	shares      map[common.Address]*big.Int
	totalShares *big.Int
	depositors  *depositorSet

	ratio    RatioOracle
	payer    Payer
	strategy strategy.Strategy
	clock    *mockable.Clock
	log      log.Logger
	metrics  metrics.Pool

	mu sync.RWMutex
}

// New creates a pool. A pool created without a target capacity stays
// Uninitialized until SetTargetCapacity is called.
func New(cfg Config, deps Deps) (*Pool, error) {
	if deps.Ratio == nil || deps.Payer == nil {
		return nil, errors.New("pool: ratio oracle and payer are required")
	}
	if cfg.ProtocolFeeShare > types.MaxPercent {
		return nil, fmt.Errorf("%w: protocol fee share %d", curve.ErrParameterExceedsLimits, cfg.ProtocolFeeShare)
	}
	engine, err := bonding.NewEngine(cfg.DepositCurve, cfg.WithdrawCurve)
	if err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = &mockable.Clock{}
	}
	if deps.Log == nil {
		deps.Log = log.NewNoOpLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop().Pool
	}

	p := &Pool{
		chainID:  cfg.ChainID,
		treasury: cfg.Treasury,
		state: State{
			TargetCapacity:      orZero(cfg.TargetCapacity),
			FreeBalance:         new(big.Int),
			DelegatedBalance:    new(big.Int),
			DepositBonusAccrued: new(big.Int),
			ProtocolFeeShare:    cfg.ProtocolFeeShare,
			MinAmount:           orZero(cfg.MinAmount),
		},
		engine:      engine,
		shares:      make(map[common.Address]*big.Int),
		totalShares: new(big.Int),
		depositors:  newDepositorSet(),
		ratio:       deps.Ratio,
		payer:       deps.Payer,
		strategy:    deps.Strategy,
		clock:       deps.Clock,
		log:         deps.Log,
		metrics:     deps.Metrics,
	}
	if p.state.TargetCapacity.Sign() > 0 {
		p.status = Active
	}
	return p, nil
}

// checkOpen must be called with the lock held.
func (p *Pool) checkOpen() error {
	switch {
	case p.state.TargetCapacity.Sign() == 0:
		return ErrConfigNotSet
	case p.status == Paused:
		return ErrPaused
	}
	return nil
}

func (p *Pool) currentRatio() (*big.Int, error) {
	ratio, err := p.ratio.Ratio()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRatio, err)
	}
	if ratio == nil || ratio.Sign() <= 0 {
		return nil, ErrInvalidRatio
	}
	return ratio, nil
}

// Deposit adds amount to the buffer on behalf of caller and mints shares to
// receiver for amount plus the bonus paid from accrued fees.
func (p *Pool) Deposit(ctx context.Context, caller access.Caller, amount *big.Int, receiver common.Address) (DepositResult, error) {
	if err := types.CheckAmount(amount); err != nil {
		return DepositResult{}, err
	}

	p.mu.Lock()
	if err := p.checkOpen(); err != nil {
		p.mu.Unlock()
		return DepositResult{}, err
	}
	if amount.Sign() == 0 || amount.Cmp(p.state.MinAmount) < 0 {
		p.mu.Unlock()
		return DepositResult{}, fmt.Errorf("%w: %s < %s", ErrLowerMinAmount, amount, p.state.MinAmount)
	}
	if receiver == (common.Address{}) {
		p.mu.Unlock()
		return DepositResult{}, ErrInvalidAddress
	}

	bonus, err := p.engine.QuoteDepositBonus(p.state.bonding(), amount)
	if err != nil {
		p.mu.Unlock()
		return DepositResult{}, err
	}
	ratio, err := p.currentRatio()
	if err != nil {
		p.mu.Unlock()
		return DepositResult{}, err
	}
	credited := new(big.Int).Add(amount, bonus)
	shares := convertToShares(credited, ratio)
	if shares.Sign() == 0 {
		p.mu.Unlock()
		return DepositResult{}, ErrZeroShares
	}

	p.state.FreeBalance.Add(p.state.FreeBalance, credited)
	p.state.DepositBonusAccrued.Sub(p.state.DepositBonusAccrued, bonus)
	p.mintShares(receiver, shares)
	p.depositors.add(caller.Address)
	p.observe()
	p.mu.Unlock()

	p.metrics.MarkDeposit(amount, bonus)
	p.log.Debug("flash deposit",
		log.Stringer("chain", p.chainID),
		log.String("amount", amount.String()),
		log.String("bonus", bonus.String()),
		log.String("shares", shares.String()),
	)
	return DepositResult{Shares: shares, Bonus: bonus}, nil
}

// FlashWithdraw burns caller's shares and pays the asset value, less the
// withdrawal fee, to receiver out of the free buffer. Delegated capital is
// never used to serve a flash withdrawal.
func (p *Pool) FlashWithdraw(ctx context.Context, caller access.Caller, shares *big.Int, receiver common.Address) (WithdrawResult, error) {
	if err := types.CheckAmount(shares); err != nil {
		return WithdrawResult{}, err
	}
	if shares.Sign() == 0 {
		return WithdrawResult{}, ErrZeroShares
	}
	if receiver == (common.Address{}) {
		return WithdrawResult{}, ErrInvalidAddress
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkOpen(); err != nil {
		return WithdrawResult{}, err
	}
	held := p.sharesOf(caller.Address)
	if shares.Cmp(held) > 0 {
		return WithdrawResult{}, fmt.Errorf("%w: holds %s, requested %s", ErrInsufficientShares, held, shares)
	}
	ratio, err := p.currentRatio()
	if err != nil {
		return WithdrawResult{}, err
	}
	assets := convertToAssets(shares, ratio)
	if assets.Cmp(p.state.FreeBalance) > 0 {
		return WithdrawResult{}, fmt.Errorf("%w: requested %s, free %s", ErrInsufficientCapacity, assets, p.state.FreeBalance)
	}
	if assets.Sign() == 0 || assets.Cmp(p.state.MinAmount) < 0 {
		return WithdrawResult{}, fmt.Errorf("%w: %s < %s", ErrLowerMinAmount, assets, p.state.MinAmount)
	}
	fee, err := p.engine.QuoteWithdrawFee(p.state.bonding(), assets)
	if err != nil {
		return WithdrawResult{}, err
	}
	protocolFee, toAccrued := bonding.SplitFee(fee, p.state.ProtocolFeeShare)
	paid := new(big.Int).Sub(assets, fee)

	prev := p.state.clone()
	prevShares := new(big.Int).Set(held)

	p.burnShares(caller.Address, shares)
	p.state.FreeBalance.Sub(p.state.FreeBalance, assets)
	p.state.DepositBonusAccrued.Add(p.state.DepositBonusAccrued, toAccrued)

	if err := p.pay(ctx, receiver, paid, protocolFee); err != nil {
		// Revert state changes
		p.state = prev
		p.restoreShares(caller.Address, prevShares, shares)
		p.log.Warn("flash withdraw payout failed",
			log.Stringer("chain", p.chainID),
			log.Err(err),
		)
		return WithdrawResult{}, err
	}
	p.observe()
	p.metrics.MarkWithdraw(assets, fee)

	return WithdrawResult{
		Assets:      assets,
		Fee:         fee,
		ProtocolFee: protocolFee,
		Paid:        paid,
	}, nil
}

// pay settles a withdrawal with the receiver and the treasury in a single
// payer call.
func (p *Pool) pay(ctx context.Context, receiver common.Address, paid, protocolFee *big.Int) error {
	var payouts []Payout
	if paid.Sign() > 0 {
		payouts = append(payouts, Payout{To: receiver, Amount: paid})
	}
	if protocolFee.Sign() > 0 {
		payouts = append(payouts, Payout{To: p.treasury, Amount: protocolFee})
	}
	if len(payouts) == 0 {
		return nil
	}
	if err := p.payer.Pay(ctx, payouts...); err != nil {
		return fmt.Errorf("paying withdrawal: %w", err)
	}
	return nil
}

// Delegate moves free capital into the yield strategy.
func (p *Pool) Delegate(ctx context.Context, caller access.Caller, amount *big.Int) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	if p.strategy == nil {
		return ErrMissingStrategy
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if amount.Sign() <= 0 || amount.Cmp(p.state.FreeBalance) > 0 {
		return fmt.Errorf("%w: requested %s, free %s", ErrExceedsBalance, amount, p.state.FreeBalance)
	}
	if amount.Cmp(p.strategy.AvailableCapacity()) > 0 {
		return ErrExceedsCapacity
	}
	if err := p.strategy.Deposit(ctx, amount); err != nil {
		return fmt.Errorf("delegating to %s: %w", p.strategy.Name(), err)
	}
	p.state.FreeBalance.Sub(p.state.FreeBalance, amount)
	p.state.DelegatedBalance.Add(p.state.DelegatedBalance, amount)
	p.observe()

	p.log.Info("delegated to strategy",
		log.String("strategy", p.strategy.Name()),
		log.String("amount", amount.String()),
	)
	return nil
}

// Undelegate pulls capital back from the yield strategy into the buffer.
func (p *Pool) Undelegate(ctx context.Context, caller access.Caller, amount *big.Int) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	if p.strategy == nil {
		return ErrMissingStrategy
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if amount.Sign() <= 0 || amount.Cmp(p.state.DelegatedBalance) > 0 {
		return fmt.Errorf("%w: requested %s, delegated %s", ErrExceedsBalance, amount, p.state.DelegatedBalance)
	}
	released, err := p.strategy.Withdraw(ctx, amount)
	if err != nil {
		return fmt.Errorf("undelegating from %s: %w", p.strategy.Name(), err)
	}
	if released.Cmp(amount) != 0 {
		return fmt.Errorf("%w: strategy released %s of %s", ErrExceedsBalance, released, amount)
	}
	p.state.DelegatedBalance.Sub(p.state.DelegatedBalance, amount)
	p.state.FreeBalance.Add(p.state.FreeBalance, amount)
	p.observe()
	return nil
}

// ReceiveCapital credits capital that arrived from the home chain.
func (p *Pool) ReceiveCapital(_ context.Context, amount *big.Int) error {
	if err := types.CheckAmount(amount); err != nil {
		return err
	}
	p.mu.Lock()
	p.state.FreeBalance.Add(p.state.FreeBalance, amount)
	p.observe()
	p.mu.Unlock()

	p.log.Info("received capital",
		log.Stringer("chain", p.chainID),
		log.String("amount", amount.String()),
	)
	return nil
}

// Release takes free capital out of the buffer so it can be sent to the
// home chain. The caller is responsible for crediting it back with
// ReceiveCapital if the transfer cannot be sent.
func (p *Pool) Release(_ context.Context, caller access.Caller, amount *big.Int) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount.Sign() <= 0 || amount.Cmp(p.state.FreeBalance) > 0 {
		return fmt.Errorf("%w: requested %s, free %s", ErrExceedsBalance, amount, p.state.FreeBalance)
	}
	p.state.FreeBalance.Sub(p.state.FreeBalance, amount)
	p.observe()
	return nil
}

// Snapshot reports this chain's backing and share supply as of now.
func (p *Pool) Snapshot() types.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return types.Snapshot{
		ChainID:           p.chainID,
		Timestamp:         p.clock.Unix(),
		UnderlyingBalance: p.holdings(),
		ShareSupply:       new(big.Int).Set(p.totalShares),
	}
}

func (p *Pool) mintShares(to common.Address, amount *big.Int) {
	bal, ok := p.shares[to]
	if !ok {
		bal = new(big.Int)
		p.shares[to] = bal
	}
	bal.Add(bal, amount)
	p.totalShares.Add(p.totalShares, amount)
}

func (p *Pool) burnShares(from common.Address, amount *big.Int) {
	bal := p.shares[from]
	bal.Sub(bal, amount)
	if bal.Sign() == 0 {
		delete(p.shares, from)
	}
	p.totalShares.Sub(p.totalShares, amount)
}

func (p *Pool) restoreShares(holder common.Address, balance, burned *big.Int) {
	p.shares[holder] = balance
	p.totalShares.Add(p.totalShares, burned)
}

func (p *Pool) sharesOf(addr common.Address) *big.Int {
	if bal, ok := p.shares[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (p *Pool) holdings() *big.Int {
	out := new(big.Int).Add(p.state.FreeBalance, p.state.DelegatedBalance)
	return out.Add(out, p.state.DepositBonusAccrued)
}

// observe publishes gauges; must be called with the lock held.
func (p *Pool) observe() {
	p.metrics.SetBalances(p.state.FreeBalance, p.state.DelegatedBalance, p.state.DepositBonusAccrued, p.totalShares)
	p.metrics.SetUtilization(curve.Utilization(p.state.FreeBalance, p.state.TargetCapacity))
	p.metrics.SetUniqueDepositors(p.depositors.estimate())
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
