// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package strategy

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

var (
	ErrExceedsBalance  = errors.New("exceeds balance")
	ErrExceedsCapacity = errors.New("exceeds capacity")
	ErrZeroAmount      = errors.New("zero amount")
)

// Strategy is an external yield collaborator that idle capital can be
// delegated to.
type Strategy interface {
	// Name returns the strategy name
	Name() string

	// Address is where delegated assets are held
	Address() common.Address

	// Deposit deploys assets into the strategy
	Deposit(ctx context.Context, amount *big.Int) error

	// Withdraw retrieves assets from the strategy and returns the amount released
	Withdraw(ctx context.Context, amount *big.Int) (*big.Int, error)

	// TotalDeployed returns assets currently deployed
	TotalDeployed() *big.Int

	// AvailableCapacity returns how much more the strategy accepts
	AvailableCapacity() *big.Int
}

// Capped is an in-process strategy that accepts deposits up to a limit.
// A zero limit means unlimited.
type Capped struct {
	name     string
	address  common.Address
	limit    *big.Int
	deployed *big.Int
	mu       sync.RWMutex
}

var _ Strategy = (*Capped)(nil)

func NewCapped(name string, address common.Address, limit *big.Int) *Capped {
	if limit == nil {
		limit = new(big.Int)
	}
	return &Capped{
		name:     name,
		address:  address,
		limit:    new(big.Int).Set(limit),
		deployed: new(big.Int),
	}
}

func (c *Capped) Name() string            { return c.name }
func (c *Capped) Address() common.Address { return c.address }

func (c *Capped) Deposit(_ context.Context, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limit.Sign() > 0 && new(big.Int).Add(c.deployed, amount).Cmp(c.limit) > 0 {
		return ErrExceedsCapacity
	}
	c.deployed.Add(c.deployed, amount)
	return nil
}

func (c *Capped) Withdraw(_ context.Context, amount *big.Int) (*big.Int, error) {
	if amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if amount.Cmp(c.deployed) > 0 {
		return nil, ErrExceedsBalance
	}
	c.deployed.Sub(c.deployed, amount)
	return new(big.Int).Set(amount), nil
}

func (c *Capped) TotalDeployed() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.deployed)
}

// AvailableCapacity returns limit - deployed, or a very large value when
// the strategy is unlimited.
func (c *Capped) AvailableCapacity() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.limit.Sign() == 0 {
		return new(big.Int).Lsh(big.NewInt(1), 255)
	}
	return new(big.Int).Sub(c.limit, c.deployed)
}
