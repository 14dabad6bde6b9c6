// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package token implements the canonical synthetic token held on the home
// chain. Only the configured minter can change its supply.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/event"
)

var (
	ErrNotMinter           = errors.New("caller is not the minter")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrStateCorrupted      = errors.New("token state corrupted")

	prefixBalance = []byte("balance:")
	keySupply     = []byte("supply")
	keySynced     = []byte("synced")
)

// Minted and Burned are sent on every supply change.
type Minted struct {
	To     common.Address
	Amount *big.Int
}

type Burned struct {
	From   common.Address
	Amount *big.Int
}

// Payment is one leg of a TransferMany.
type Payment struct {
	To     common.Address
	Amount *big.Int
}

// Token is a persisted balance ledger. Every mutation is written through
// to the database before it becomes visible.
type Token struct {
	symbol string
	minter common.Address
	db     database.Database

	balances map[common.Address]*big.Int
	supply   *big.Int
	synced   *big.Int

	mintFeed event.Feed
	burnFeed event.Feed
	mu       sync.RWMutex
}

// New opens the token on db.
func New(symbol string, minter common.Address, db database.Database) (*Token, error) {
	t := &Token{
		symbol:   symbol,
		minter:   minter,
		db:       db,
		balances: make(map[common.Address]*big.Int),
		supply:   new(big.Int),
		synced:   new(big.Int),
	}
	if err := t.load(); err != nil {
		return nil, fmt.Errorf("loading %s: %w", symbol, err)
	}
	return t, nil
}

func (t *Token) Symbol() string         { return t.symbol }
func (t *Token) Minter() common.Address { return t.minter }

func (t *Token) BalanceOf(addr common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceOf(addr)
}

func (t *Token) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.supply)
}

// Synced is the supply the minter last accounted for with Settle.
func (t *Token) Synced() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.synced)
}

// Mint creates amount tokens in to. Only the minter may call it.
func (t *Token) Mint(caller, to common.Address, amount *big.Int) error {
	if caller != t.minter {
		return ErrNotMinter
	}
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}
	t.mu.Lock()
	bal := new(big.Int).Add(t.balanceOf(to), amount)
	supply := new(big.Int).Add(t.supply, amount)
	if err := t.commit(supply, nil, balanceUpdate{to, bal}); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	t.mintFeed.Send(Minted{To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Burn destroys amount tokens held by from. Only the minter may call it.
func (t *Token) Burn(caller, from common.Address, amount *big.Int) error {
	if caller != t.minter {
		return ErrNotMinter
	}
	t.mu.Lock()
	bal := t.balanceOf(from)
	if bal.Cmp(amount) < 0 {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientBalance, from, bal, amount)
	}
	bal.Sub(bal, amount)
	supply := new(big.Int).Sub(t.supply, amount)
	if err := t.commit(supply, nil, balanceUpdate{from, bal}); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	t.burnFeed.Send(Burned{From: from, Amount: new(big.Int).Set(amount)})
	return nil
}

// Settle sweeps the whole balance of from into to, then mints delta into
// to, or burns -delta from it, and records synced. All of it is written in
// one batch, so a failed write leaves the token unchanged.
// Only the minter may call it. It returns the swept amount.
func (t *Token) Settle(caller, from, to common.Address, delta, synced *big.Int) (*big.Int, error) {
	if caller != t.minter {
		return nil, ErrNotMinter
	}
	if to == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	t.mu.Lock()
	swept := new(big.Int)
	toBal := t.balanceOf(to)
	var updates []balanceUpdate
	if from != to {
		swept = t.balanceOf(from)
		if swept.Sign() > 0 {
			toBal.Add(toBal, swept)
			updates = append(updates, balanceUpdate{from, new(big.Int)})
		}
	}
	toBal.Add(toBal, delta)
	if toBal.Sign() < 0 {
		held := new(big.Int).Sub(toBal, delta)
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientBalance, to, held, new(big.Int).Neg(delta))
	}
	updates = append(updates, balanceUpdate{to, toBal})
	supply := new(big.Int).Add(t.supply, delta)
	if err := t.commit(supply, synced, updates...); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	switch delta.Sign() {
	case 1:
		t.mintFeed.Send(Minted{To: to, Amount: new(big.Int).Set(delta)})
	case -1:
		t.burnFeed.Send(Burned{From: to, Amount: new(big.Int).Neg(delta)})
	}
	return swept, nil
}

// Transfer moves amount from one holder to another.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	return t.TransferMany(from, Payment{To: to, Amount: amount})
}

// TransferMany pays every payment out of from in one batch. Either all of
// them are applied or none is.
func (t *Token) TransferMany(from common.Address, payments ...Payment) error {
	total := new(big.Int)
	for _, p := range payments {
		if p.To == (common.Address{}) {
			return ErrInvalidAddress
		}
		total.Add(total, p.Amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	fromBal := t.balanceOf(from)
	if fromBal.Cmp(total) < 0 {
		return fmt.Errorf("%w: %s holds %s, sending %s", ErrInsufficientBalance, from, fromBal, total)
	}
	next := map[common.Address]*big.Int{from: fromBal.Sub(fromBal, total)}
	order := []common.Address{from}
	for _, p := range payments {
		bal, ok := next[p.To]
		if !ok {
			bal = t.balanceOf(p.To)
			next[p.To] = bal
			order = append(order, p.To)
		}
		bal.Add(bal, p.Amount)
	}
	updates := make([]balanceUpdate, 0, len(order))
	for _, addr := range order {
		updates = append(updates, balanceUpdate{addr, next[addr]})
	}
	return t.commit(t.supply, nil, updates...)
}

func (t *Token) SubscribeMinted(ch chan<- Minted) event.Subscription { return t.mintFeed.Subscribe(ch) }
func (t *Token) SubscribeBurned(ch chan<- Burned) event.Subscription { return t.burnFeed.Subscribe(ch) }

type balanceUpdate struct {
	addr    common.Address
	balance *big.Int
}

// commit persists the new supply, synced value and balances in one batch,
// then applies them in memory. A nil synced leaves it unchanged. Must be
// called with the lock held.
func (t *Token) commit(supply, synced *big.Int, updates ...balanceUpdate) error {
	batch := t.db.NewBatch()
	if err := batch.Put(keySupply, word(supply)); err != nil {
		return err
	}
	if synced != nil {
		if err := batch.Put(keySynced, word(synced)); err != nil {
			return err
		}
	}
	for _, u := range updates {
		key := append(append([]byte{}, prefixBalance...), u.addr.Bytes()...)
		if u.balance.Sign() == 0 {
			if err := batch.Delete(key); err != nil {
				return err
			}
			continue
		}
		if err := batch.Put(key, word(u.balance)); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("persisting %s: %w", t.symbol, err)
	}

	t.supply = new(big.Int).Set(supply)
	if synced != nil {
		t.synced = new(big.Int).Set(synced)
	}
	for _, u := range updates {
		if u.balance.Sign() == 0 {
			delete(t.balances, u.addr)
			continue
		}
		t.balances[u.addr] = new(big.Int).Set(u.balance)
	}
	return nil
}

func (t *Token) load() error {
	raw, err := t.db.Get(keySupply)
	switch {
	case err == nil:
		t.supply = new(uint256.Int).SetBytes(raw).ToBig()
	case !errors.Is(err, database.ErrNotFound):
		return err
	}
	raw, err = t.db.Get(keySynced)
	switch {
	case err == nil:
		t.synced = new(uint256.Int).SetBytes(raw).ToBig()
	case !errors.Is(err, database.ErrNotFound):
		return err
	}

	it := t.db.NewIteratorWithPrefix(prefixBalance)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != len(prefixBalance)+common.AddressLength {
			return fmt.Errorf("%w: balance key length %d", ErrStateCorrupted, len(key))
		}
		addr := common.BytesToAddress(key[len(prefixBalance):])
		t.balances[addr] = new(uint256.Int).SetBytes(it.Value()).ToBig()
	}
	return it.Error()
}

func (t *Token) balanceOf(addr common.Address) *big.Int {
	if bal, ok := t.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func word(v *big.Int) []byte {
	w, _ := uint256.FromBig(v)
	b := w.Bytes32()
	return b[:]
}
