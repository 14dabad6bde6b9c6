// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package curve

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/omnivault/types"
)

// Shape selects what happens to the rate once the buffer is at or above
// its kink.
type Shape uint8

const (
	// DepositBonus: flat at the optimal rate up to MaxPercent, zero above it.
	DepositBonus Shape = iota
	// WithdrawFee: flat at the optimal rate for every utilization past the kink.
	WithdrawFee
)

func (s Shape) String() string {
	switch s {
	case DepositBonus:
		return "deposit-bonus"
	case WithdrawFee:
		return "withdraw-fee"
	default:
		return fmt.Sprintf("shape(%d)", uint8(s))
	}
}

var (
	ErrParameterExceedsLimits = errors.New("parameter exceeds limits")
	ErrInconsistentData       = errors.New("inconsistent data")
)

// Curve is a piecewise-linear rate-vs-utilization profile.
// All values are percentages scaled by types.MaxPercent.
//
//	rate
//	 max |\
//	     | \
//	 opt |  \__________      (withdraw keeps going)
//	     |             |
//	   0 +-------------+----- utilization
//	     0   kink    MaxPercent
type Curve struct {
	Shape       Shape
	MaxRate     uint64
	OptimalRate uint64
	Kink        uint64
}

// New validates and returns a curve.
func New(shape Shape, maxRate, optimalRate, kink uint64) (Curve, error) {
	c := Curve{
		Shape:       shape,
		MaxRate:     maxRate,
		OptimalRate: optimalRate,
		Kink:        kink,
	}
	return c, c.Verify()
}

// Verify checks the configuration invariants.
func (c Curve) Verify() error {
	switch {
	case c.MaxRate > types.MaxPercent:
		return fmt.Errorf("%w: max rate %d", ErrParameterExceedsLimits, c.MaxRate)
	case c.OptimalRate > types.MaxPercent:
		return fmt.Errorf("%w: optimal rate %d", ErrParameterExceedsLimits, c.OptimalRate)
	case c.Kink > types.MaxPercent:
		return fmt.Errorf("%w: kink %d", ErrParameterExceedsLimits, c.Kink)
	case c.OptimalRate > c.MaxRate:
		return fmt.Errorf("%w: optimal rate %d above max rate %d", ErrInconsistentData, c.OptimalRate, c.MaxRate)
	}
	return nil
}

// DefaultDepositBonus returns a 1.5% to 0.25% bonus curve kinked at 25%.
func DefaultDepositBonus() Curve {
	return Curve{
		Shape:       DepositBonus,
		MaxRate:     150_000_000, // 1.5%
		OptimalRate: 25_000_000,  // 0.25%
		Kink:        2_500_000_000,
	}
}

// DefaultWithdrawFee returns a 3% to 0.5% fee curve kinked at 25%.
func DefaultWithdrawFee() Curve {
	return Curve{
		Shape:       WithdrawFee,
		MaxRate:     300_000_000, // 3%
		OptimalRate: 50_000_000,  // 0.5%
		Kink:        2_500_000_000,
	}
}

// Utilization returns balance*MaxPercent/target, floored. A zero target
// yields zero; callers gate on a configured target first.
func Utilization(balance, target *big.Int) *big.Int {
	if target == nil || target.Sign() == 0 {
		return new(big.Int)
	}
	u := new(big.Int).Mul(balance, types.MaxPercentBig)
	return u.Quo(u, target)
}

// RateAt returns the rate at utilization u.
func (c Curve) RateAt(u *big.Int) *big.Int {
	kink := new(big.Int).SetUint64(c.Kink)
	if u.Cmp(kink) < 0 {
		// max - (max-opt)*u/kink
		drop := new(big.Int).SetUint64(c.MaxRate - c.OptimalRate)
		drop.Mul(drop, u)
		drop.Quo(drop, kink)
		return drop.Sub(new(big.Int).SetUint64(c.MaxRate), drop)
	}
	if c.Shape == DepositBonus && u.Cmp(types.MaxPercentBig) > 0 {
		return new(big.Int)
	}
	return new(big.Int).SetUint64(c.OptimalRate)
}
