// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

var (
	minter = common.HexToAddress("0x01")
	alice  = common.HexToAddress("0xa1")
	bob    = common.HexToAddress("0xb0")
	carol  = common.HexToAddress("0xc0")

	errWriteFailed = errors.New("write failed")
)

// flakyDB fails the next failures batch writes.
type flakyDB struct {
	database.Database
	failures int
}

func (d *flakyDB) NewBatch() database.Batch {
	return &flakyBatch{Batch: d.Database.NewBatch(), db: d}
}

type flakyBatch struct {
	database.Batch
	db *flakyDB
}

func (b *flakyBatch) Write() error {
	if b.db.failures > 0 {
		b.db.failures--
		return errWriteFailed
	}
	return b.Batch.Write()
}

func TestMintBurn(t *testing.T) {
	tok, err := New("ovETH", minter, memdb.New())
	require.NoError(t, err)

	minted := make(chan Minted, 1)
	burned := make(chan Burned, 1)
	defer tok.SubscribeMinted(minted).Unsubscribe()
	defer tok.SubscribeBurned(burned).Unsubscribe()

	require.ErrorIs(t, tok.Mint(alice, alice, big.NewInt(1)), ErrNotMinter)
	require.ErrorIs(t, tok.Mint(minter, common.Address{}, big.NewInt(1)), ErrInvalidAddress)

	require.NoError(t, tok.Mint(minter, alice, big.NewInt(100)))
	ev := <-minted
	require.Equal(t, alice, ev.To)
	require.Zero(t, ev.Amount.Cmp(big.NewInt(100)))

	require.ErrorIs(t, tok.Burn(alice, alice, big.NewInt(1)), ErrNotMinter)
	require.ErrorIs(t, tok.Burn(minter, alice, big.NewInt(101)), ErrInsufficientBalance)

	require.NoError(t, tok.Burn(minter, alice, big.NewInt(40)))
	require.Zero(t, (<-burned).Amount.Cmp(big.NewInt(40)))

	require.Zero(t, tok.BalanceOf(alice).Cmp(big.NewInt(60)))
	require.Zero(t, tok.TotalSupply().Cmp(big.NewInt(60)))
}

func TestTransfer(t *testing.T) {
	tok, err := New("ovETH", minter, memdb.New())
	require.NoError(t, err)
	require.NoError(t, tok.Mint(minter, alice, big.NewInt(10)))

	require.ErrorIs(t, tok.Transfer(alice, bob, big.NewInt(11)), ErrInsufficientBalance)
	require.ErrorIs(t, tok.Transfer(alice, common.Address{}, big.NewInt(1)), ErrInvalidAddress)

	require.NoError(t, tok.Transfer(alice, bob, big.NewInt(10)))
	require.Zero(t, tok.BalanceOf(alice).Sign())
	require.Zero(t, tok.BalanceOf(bob).Cmp(big.NewInt(10)))
	require.Zero(t, tok.TotalSupply().Cmp(big.NewInt(10)), "transfers never change supply")

	require.NoError(t, tok.Transfer(bob, bob, big.NewInt(10)))
	require.Zero(t, tok.BalanceOf(bob).Cmp(big.NewInt(10)))
}

func TestReturnedBalancesAreCopies(t *testing.T) {
	tok, err := New("ovETH", minter, memdb.New())
	require.NoError(t, err)
	require.NoError(t, tok.Mint(minter, alice, big.NewInt(5)))

	tok.BalanceOf(alice).SetInt64(1000)
	tok.TotalSupply().SetInt64(1000)
	require.Zero(t, tok.BalanceOf(alice).Cmp(big.NewInt(5)))
	require.Zero(t, tok.TotalSupply().Cmp(big.NewInt(5)))
}

func TestPersistence(t *testing.T) {
	db := memdb.New()
	tok, err := New("ovETH", minter, db)
	require.NoError(t, err)
	require.NoError(t, tok.Mint(minter, alice, big.NewInt(70)))
	require.NoError(t, tok.Transfer(alice, bob, big.NewInt(70)))

	reopened, err := New("ovETH", minter, db)
	require.NoError(t, err)
	require.Zero(t, reopened.TotalSupply().Cmp(big.NewInt(70)))
	require.Zero(t, reopened.BalanceOf(alice).Sign())
	require.Zero(t, reopened.BalanceOf(bob).Cmp(big.NewInt(70)))
}

func TestTransferMany(t *testing.T) {
	tok, err := New("ovETH", minter, memdb.New())
	require.NoError(t, err)
	require.NoError(t, tok.Mint(minter, alice, big.NewInt(10)))

	require.ErrorIs(t, tok.TransferMany(alice,
		Payment{To: bob, Amount: big.NewInt(6)},
		Payment{To: carol, Amount: big.NewInt(5)},
	), ErrInsufficientBalance)
	require.ErrorIs(t, tok.TransferMany(alice,
		Payment{To: bob, Amount: big.NewInt(1)},
		Payment{To: common.Address{}, Amount: big.NewInt(1)},
	), ErrInvalidAddress)
	require.Zero(t, tok.BalanceOf(alice).Cmp(big.NewInt(10)), "a rejected leg moves nothing")
	require.Zero(t, tok.BalanceOf(bob).Sign())

	require.NoError(t, tok.TransferMany(alice,
		Payment{To: bob, Amount: big.NewInt(6)},
		Payment{To: carol, Amount: big.NewInt(3)},
		Payment{To: bob, Amount: big.NewInt(1)},
	))
	require.Zero(t, tok.BalanceOf(alice).Cmp(big.NewInt(0)))
	require.Zero(t, tok.BalanceOf(bob).Cmp(big.NewInt(7)))
	require.Zero(t, tok.BalanceOf(carol).Cmp(big.NewInt(3)))
	require.Zero(t, tok.TotalSupply().Cmp(big.NewInt(10)))
}

func TestTransferManyWriteFailure(t *testing.T) {
	db := &flakyDB{Database: memdb.New()}
	tok, err := New("ovETH", minter, db)
	require.NoError(t, err)
	require.NoError(t, tok.Mint(minter, alice, big.NewInt(10)))

	db.failures = 1
	require.ErrorIs(t, tok.TransferMany(alice,
		Payment{To: bob, Amount: big.NewInt(4)},
		Payment{To: carol, Amount: big.NewInt(1)},
	), errWriteFailed)
	require.Zero(t, tok.BalanceOf(alice).Cmp(big.NewInt(10)))
	require.Zero(t, tok.BalanceOf(bob).Sign())
	require.Zero(t, tok.BalanceOf(carol).Sign())
}

func TestSettle(t *testing.T) {
	db := memdb.New()
	tok, err := New("ovETH", minter, db)
	require.NoError(t, err)
	require.NoError(t, tok.Mint(minter, alice, big.NewInt(4)))

	minted := make(chan Minted, 1)
	defer tok.SubscribeMinted(minted).Unsubscribe()

	_, err = tok.Settle(alice, alice, bob, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrNotMinter)

	swept, err := tok.Settle(minter, alice, bob, big.NewInt(100), big.NewInt(100))
	require.NoError(t, err)
	require.Zero(t, swept.Cmp(big.NewInt(4)))
	require.Zero(t, (<-minted).Amount.Cmp(big.NewInt(100)))
	require.Zero(t, tok.BalanceOf(alice).Sign())
	require.Zero(t, tok.BalanceOf(bob).Cmp(big.NewInt(104)))
	require.Zero(t, tok.TotalSupply().Cmp(big.NewInt(104)))
	require.Zero(t, tok.Synced().Cmp(big.NewInt(100)))

	_, err = tok.Settle(minter, alice, bob, big.NewInt(-105), big.NewInt(0))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	swept, err = tok.Settle(minter, alice, bob, big.NewInt(-30), big.NewInt(70))
	require.NoError(t, err)
	require.Zero(t, swept.Sign())
	require.Zero(t, tok.BalanceOf(bob).Cmp(big.NewInt(74)))

	reopened, err := New("ovETH", minter, db)
	require.NoError(t, err)
	require.Zero(t, reopened.Synced().Cmp(big.NewInt(70)))
	require.Zero(t, reopened.TotalSupply().Cmp(big.NewInt(74)))
}

func TestSettleWriteFailure(t *testing.T) {
	db := &flakyDB{Database: memdb.New()}
	tok, err := New("ovETH", minter, db)
	require.NoError(t, err)
	require.NoError(t, tok.Mint(minter, alice, big.NewInt(4)))

	db.failures = 1
	_, err = tok.Settle(minter, alice, bob, big.NewInt(50), big.NewInt(50))
	require.ErrorIs(t, err, errWriteFailed)
	require.Zero(t, tok.BalanceOf(alice).Cmp(big.NewInt(4)))
	require.Zero(t, tok.BalanceOf(bob).Sign())
	require.Zero(t, tok.TotalSupply().Cmp(big.NewInt(4)))
	require.Zero(t, tok.Synced().Sign())

	reopened, err := New("ovETH", minter, db)
	require.NoError(t, err)
	require.Zero(t, reopened.TotalSupply().Cmp(big.NewInt(4)))
	require.Zero(t, reopened.Synced().Sign())
}
