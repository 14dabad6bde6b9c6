// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bonding

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnivault/curve"
	"github.com/luxfi/omnivault/types"
)

const pct = types.MaxPercent / 100

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dep, err := curve.New(curve.DepositBonus, 2*pct, pct/5, 25*pct)
	require.NoError(t, err)
	wd, err := curve.New(curve.WithdrawFee, 2*pct, pct/5, 25*pct)
	require.NoError(t, err)
	e, err := NewEngine(dep, wd)
	require.NoError(t, err)
	return e
}

func TestDepositBonusClosedForm(t *testing.T) {
	e := newTestEngine(t)
	s := State{
		TargetCapacity:      ether(100),
		FreeBalance:         new(big.Int),
		DepositBonusAccrued: ether(10),
	}

	// Average rate 1.1% over 25 units of asset.
	bonus, err := e.QuoteDepositBonus(s, ether(25))
	require.NoError(t, err)
	require.Zero(t, bonus.Cmp(big.NewInt(275_000_000_000_000_000)), "got %s", bonus)
}

func TestDepositBonusCappedByAccrued(t *testing.T) {
	e := newTestEngine(t)
	s := State{
		TargetCapacity:      ether(100),
		FreeBalance:         new(big.Int),
		DepositBonusAccrued: big.NewInt(1000),
	}
	bonus, err := e.QuoteDepositBonus(s, ether(25))
	require.NoError(t, err)
	require.Zero(t, bonus.Cmp(big.NewInt(1000)))

	s.DepositBonusAccrued = new(big.Int)
	bonus, err = e.QuoteDepositBonus(s, ether(25))
	require.NoError(t, err)
	require.Zero(t, bonus.Sign())
}

func TestDepositBonusLinearity(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		name   string
		start  *big.Int
		a1, a2 *big.Int
	}{
		{"inside linear section", ether(0), ether(5), ether(12)},
		{"across the kink", ether(10), ether(10), ether(30)},
		{"across the target", ether(60), ether(30), ether(40)},
		{"odd amounts", big.NewInt(7_777_777_777), big.NewInt(123_456_789_012_345), ether(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{TargetCapacity: ether(100), FreeBalance: tt.start}

			b1, err := e.QuoteDepositBonusUncapped(s, tt.a1)
			require.NoError(t, err)

			next := State{TargetCapacity: ether(100), FreeBalance: new(big.Int).Add(tt.start, tt.a1)}
			b2, err := e.QuoteDepositBonusUncapped(next, tt.a2)
			require.NoError(t, err)

			whole, err := e.QuoteDepositBonusUncapped(s, new(big.Int).Add(tt.a1, tt.a2))
			require.NoError(t, err)

			diff := new(big.Int).Sub(whole, new(big.Int).Add(b1, b2))
			// Only per-segment flooring separates the two sides.
			require.LessOrEqual(t, diff.CmpAbs(big.NewInt(16)), 0, "diff %s", diff)
		})
	}
}

func TestNoBonusAboveTarget(t *testing.T) {
	e := newTestEngine(t)
	s := State{TargetCapacity: ether(100), FreeBalance: ether(100), DepositBonusAccrued: ether(1)}
	bonus, err := e.QuoteDepositBonus(s, ether(50))
	require.NoError(t, err)
	require.Zero(t, bonus.Sign())
}

func TestWithdrawFee(t *testing.T) {
	e := newTestEngine(t)
	s := State{TargetCapacity: ether(100), FreeBalance: ether(100)}

	// 100% -> 90% is on the flat 0.2% section.
	fee, err := e.QuoteWithdrawFee(s, ether(10))
	require.NoError(t, err)
	require.Zero(t, fee.Cmp(big.NewInt(20_000_000_000_000_000)), "got %s", fee)

	// Draining the linear section costs more per unit.
	s.FreeBalance = ether(20)
	steep, err := e.QuoteWithdrawFee(s, ether(10))
	require.NoError(t, err)
	require.Positive(t, steep.Cmp(fee))
}

func TestWithdrawFeeAboveTargetStillCharged(t *testing.T) {
	e := newTestEngine(t)
	s := State{TargetCapacity: ether(100), FreeBalance: ether(300)}
	fee, err := e.QuoteWithdrawFee(s, ether(10))
	require.NoError(t, err)
	require.Zero(t, fee.Cmp(big.NewInt(20_000_000_000_000_000)))
}

func TestWithdrawFeeBounds(t *testing.T) {
	e := newTestEngine(t)
	s := State{TargetCapacity: ether(100), FreeBalance: ether(1)}

	_, err := e.QuoteWithdrawFee(s, ether(2))
	require.ErrorIs(t, err, ErrInsufficientCapacity)

	fee, err := e.QuoteWithdrawFee(s, big.NewInt(1))
	require.NoError(t, err)
	require.Zero(t, fee.Cmp(big.NewInt(1)), "a withdrawal is never free")

	_, err = e.QuoteWithdrawFee(State{FreeBalance: ether(1)}, big.NewInt(1))
	require.ErrorIs(t, err, ErrConfigNotSet)
}

func TestSplitFee(t *testing.T) {
	protocol, accrued := SplitFee(big.NewInt(1001), types.MaxPercent/2)
	require.Zero(t, protocol.Cmp(big.NewInt(500)))
	require.Zero(t, accrued.Cmp(big.NewInt(501)))

	protocol, accrued = SplitFee(big.NewInt(1001), 0)
	require.Zero(t, protocol.Sign())
	require.Zero(t, accrued.Cmp(big.NewInt(1001)))
}

func TestSetCurveRejectsWrongShape(t *testing.T) {
	e := newTestEngine(t)
	require.ErrorIs(t, e.SetDepositCurve(curve.DefaultWithdrawFee()), ErrWrongShape)
	require.ErrorIs(t, e.SetWithdrawCurve(curve.DefaultDepositBonus()), ErrWrongShape)

	bad := curve.DefaultWithdrawFee()
	bad.OptimalRate = bad.MaxRate + 1
	require.ErrorIs(t, e.SetWithdrawCurve(bad), curve.ErrInconsistentData)
}
