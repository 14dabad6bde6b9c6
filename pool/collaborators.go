// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"context"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/omnivault/types"
)

// RatioOracle supplies the share/asset exchange ratio: shares per unit of
// asset, scaled by types.RatioScale.
type RatioOracle interface {
	Ratio() (*big.Int, error)
}

// Payout is one transfer out of the pool's custody.
type Payout struct {
	To     common.Address
	Amount *big.Int
}

// Payer moves assets out of the pool's custody. Pay applies every payout or
// none of them.
type Payer interface {
	Pay(ctx context.Context, payouts ...Payout) error
}

// FixedRatio is a RatioOracle that returns an operator-set value.
type FixedRatio struct {
	mu    sync.RWMutex
	ratio *big.Int
}

var _ RatioOracle = (*FixedRatio)(nil)

// NewFixedRatio returns an oracle at ratio. A nil ratio means 1:1.
func NewFixedRatio(ratio *big.Int) *FixedRatio {
	if ratio == nil {
		ratio = types.RatioScaleBig
	}
	return &FixedRatio{ratio: new(big.Int).Set(ratio)}
}

func (f *FixedRatio) Set(ratio *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratio = new(big.Int).Set(ratio)
}

func (f *FixedRatio) Ratio() (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return new(big.Int).Set(f.ratio), nil
}

// convertToShares returns assets*ratio/RatioScale.
func convertToShares(assets, ratio *big.Int) *big.Int {
	out := new(big.Int).Mul(assets, ratio)
	return out.Quo(out, types.RatioScaleBig)
}

// convertToAssets returns shares*RatioScale/ratio.
func convertToAssets(shares, ratio *big.Int) *big.Int {
	out := new(big.Int).Mul(shares, types.RatioScaleBig)
	return out.Quo(out, ratio)
}
