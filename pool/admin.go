// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/omnivault/access"
	"github.com/luxfi/omnivault/curve"
	"github.com/luxfi/omnivault/types"
)

// SetTargetCapacity sets the buffer size the curves steer toward. The
// first call activates an uninitialized pool.
func (p *Pool) SetTargetCapacity(caller access.Caller, target *big.Int) error {
	if err := caller.Require(access.Owner); err != nil {
		return err
	}
	if target == nil || target.Sign() <= 0 {
		return ErrInvalidTarget
	}
	if err := types.CheckAmount(target); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state.TargetCapacity = new(big.Int).Set(target)
	if p.status == Uninitialized {
		p.status = Active
	}
	p.observe()
	p.log.Info("target capacity set",
		log.Stringer("chain", p.chainID),
		log.String("target", target.String()),
	)
	return nil
}

func (p *Pool) SetMinAmount(caller access.Caller, minAmount *big.Int) error {
	if err := caller.Require(access.Owner); err != nil {
		return err
	}
	if err := types.CheckAmount(minAmount); err != nil {
		return err
	}
	p.mu.Lock()
	p.state.MinAmount = orZero(minAmount)
	p.mu.Unlock()
	return nil
}

func (p *Pool) SetProtocolFeeShare(caller access.Caller, share uint64) error {
	if err := caller.Require(access.Owner); err != nil {
		return err
	}
	if share > types.MaxPercent {
		return fmt.Errorf("%w: protocol fee share %d", curve.ErrParameterExceedsLimits, share)
	}
	p.mu.Lock()
	p.state.ProtocolFeeShare = share
	p.mu.Unlock()
	return nil
}

func (p *Pool) SetTreasury(caller access.Caller, treasury common.Address) error {
	if err := caller.Require(access.Owner); err != nil {
		return err
	}
	if treasury == (common.Address{}) {
		return ErrInvalidAddress
	}
	p.mu.Lock()
	p.treasury = treasury
	p.mu.Unlock()
	return nil
}

func (p *Pool) SetDepositBonusParams(caller access.Caller, maxRate, optimalRate, kink uint64) error {
	if err := caller.Require(access.Owner); err != nil {
		return err
	}
	c, err := curve.New(curve.DepositBonus, maxRate, optimalRate, kink)
	if err != nil {
		return err
	}
	return p.engine.SetDepositCurve(c)
}

func (p *Pool) SetWithdrawFeeParams(caller access.Caller, maxRate, optimalRate, kink uint64) error {
	if err := caller.Require(access.Owner); err != nil {
		return err
	}
	c, err := curve.New(curve.WithdrawFee, maxRate, optimalRate, kink)
	if err != nil {
		return err
	}
	return p.engine.SetWithdrawCurve(c)
}

// Pause stops flash operations. Only an active pool can be paused.
func (p *Pool) Pause(caller access.Caller) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.status {
	case Uninitialized:
		return ErrConfigNotSet
	case Paused:
		return ErrPaused
	}
	p.status = Paused
	return nil
}

func (p *Pool) Unpause(caller access.Caller) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != Paused {
		return ErrNotPaused
	}
	p.status = Active
	return nil
}

func (p *Pool) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Pool) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.clone()
}

func (p *Pool) SharesOf(addr common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sharesOf(addr)
}

func (p *Pool) TotalShares() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.totalShares)
}

// TotalAssets is free plus delegated capital.
func (p *Pool) TotalAssets() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Add(p.state.FreeBalance, p.state.DelegatedBalance)
}

// Holdings is every asset the pool accounts for, including accrued bonus.
func (p *Pool) Holdings() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.holdings()
}

// FlashCapacity is the largest asset amount a flash withdrawal can take.
func (p *Pool) FlashCapacity() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.state.FreeBalance)
}

func (p *Pool) Utilization() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return curve.Utilization(p.state.FreeBalance, p.state.TargetCapacity)
}

// UniqueDepositors estimates how many distinct accounts have deposited.
func (p *Pool) UniqueDepositors() uint64 {
	return p.depositors.estimate()
}

// Quote previews bonuses and fees at the current state.
func (p *Pool) Quote() *Quoter {
	return &Quoter{p: p}
}

// Quoter previews bonuses and fees against the current state without
// changing it.
type Quoter struct {
	p *Pool
}

func (q *Quoter) DepositBonus(amount *big.Int) (*big.Int, error) {
	q.p.mu.RLock()
	defer q.p.mu.RUnlock()
	return q.p.engine.QuoteDepositBonus(q.p.state.bonding(), amount)
}

func (q *Quoter) WithdrawFee(amount *big.Int) (*big.Int, error) {
	q.p.mu.RLock()
	defer q.p.mu.RUnlock()
	return q.p.engine.QuoteWithdrawFee(q.p.state.bonding(), amount)
}
