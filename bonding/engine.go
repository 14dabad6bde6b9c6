// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bonding prices flash deposits and withdrawals against the fill
// level of a liquidity buffer.
//
// A deposit sweeps utilization upward and earns the area under the deposit
// bonus curve; a withdrawal sweeps it downward and pays the area under the
// withdraw fee curve. Bonuses are paid from fees collected earlier and are
// never minted.
package bonding

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/omnivault/curve"
	"github.com/luxfi/omnivault/types"
)

var (
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrConfigNotSet         = errors.New("target capacity not set")
	ErrWrongShape           = errors.New("curve has the wrong shape")
)

// State is the slice of pool state the engine prices against.
type State struct {
	TargetCapacity      *big.Int
	FreeBalance         *big.Int
	DepositBonusAccrued *big.Int
	ProtocolFeeShare    uint64
}

// Engine holds the two bonding curves.
type Engine struct {
	mu       sync.RWMutex
	deposit  curve.Curve
	withdraw curve.Curve
}

// NewEngine validates both curves.
func NewEngine(deposit, withdraw curve.Curve) (*Engine, error) {
	e := &Engine{}
	if err := e.SetDepositCurve(deposit); err != nil {
		return nil, err
	}
	if err := e.SetWithdrawCurve(withdraw); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) SetDepositCurve(c curve.Curve) error {
	if c.Shape != curve.DepositBonus {
		return fmt.Errorf("%w: %s", ErrWrongShape, c.Shape)
	}
	if err := c.Verify(); err != nil {
		return err
	}
	e.mu.Lock()
	e.deposit = c
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetWithdrawCurve(c curve.Curve) error {
	if c.Shape != curve.WithdrawFee {
		return fmt.Errorf("%w: %s", ErrWrongShape, c.Shape)
	}
	if err := c.Verify(); err != nil {
		return err
	}
	e.mu.Lock()
	e.withdraw = c
	e.mu.Unlock()
	return nil
}

func (e *Engine) DepositCurve() curve.Curve {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.deposit
}

func (e *Engine) WithdrawCurve() curve.Curve {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.withdraw
}

// QuoteDepositBonusUncapped returns the bonus the curve pays for amount,
// ignoring how much has been accrued.
func (e *Engine) QuoteDepositBonusUncapped(s State, amount *big.Int) (*big.Int, error) {
	if s.TargetCapacity == nil || s.TargetCapacity.Sign() == 0 {
		return nil, ErrConfigNotSet
	}
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	from := curve.Utilization(s.FreeBalance, s.TargetCapacity)
	to := curve.Utilization(new(big.Int).Add(s.FreeBalance, amount), s.TargetCapacity)
	return toAssets(e.DepositCurve().Integrate(from, to), s.TargetCapacity), nil
}

// QuoteDepositBonus returns min(curve bonus, accrued bonus pool).
func (e *Engine) QuoteDepositBonus(s State, amount *big.Int) (*big.Int, error) {
	bonus, err := e.QuoteDepositBonusUncapped(s, amount)
	if err != nil {
		return nil, err
	}
	accrued := s.DepositBonusAccrued
	if accrued == nil {
		accrued = new(big.Int)
	}
	return types.MinBig(bonus, accrued), nil
}

// QuoteWithdrawFee returns the fee for taking amount out of the buffer.
// A non-zero withdrawal always pays at least one unit and never more than
// the amount itself.
func (e *Engine) QuoteWithdrawFee(s State, amount *big.Int) (*big.Int, error) {
	if s.TargetCapacity == nil || s.TargetCapacity.Sign() == 0 {
		return nil, ErrConfigNotSet
	}
	if amount.Cmp(s.FreeBalance) > 0 {
		return nil, fmt.Errorf("%w: requested %s, free %s", ErrInsufficientCapacity, amount, s.FreeBalance)
	}
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	from := curve.Utilization(s.FreeBalance, s.TargetCapacity)
	to := curve.Utilization(new(big.Int).Sub(s.FreeBalance, amount), s.TargetCapacity)
	fee := toAssets(e.WithdrawCurve().Integrate(from, to), s.TargetCapacity)
	if fee.Sign() == 0 {
		fee.SetInt64(1)
	}
	if fee.Cmp(amount) > 0 {
		fee.Set(amount)
	}
	return fee, nil
}

// SplitFee divides a collected fee into the treasury cut and the part that
// funds future deposit bonuses.
func SplitFee(fee *big.Int, protocolFeeShare uint64) (protocol, accrued *big.Int) {
	protocol = new(big.Int).Mul(fee, new(big.Int).SetUint64(protocolFeeShare))
	protocol.Quo(protocol, types.MaxPercentBig)
	accrued = new(big.Int).Sub(fee, protocol)
	return protocol, accrued
}

// toAssets converts a curve integral back to asset units:
// area * target / MaxPercent^2.
func toAssets(area, target *big.Int) *big.Int {
	out := new(big.Int).Mul(area, target)
	return out.Quo(out, types.MaxPercentSquared)
}
