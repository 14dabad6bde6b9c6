// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnivault/access"
	"github.com/luxfi/omnivault/types"
	"github.com/luxfi/omnivault/utils/timer/mockable"
)

var (
	operator = access.NewCaller(common.HexToAddress("0x0b"), access.Operator)
	adapterA = common.HexToAddress("0xaa")
	adapterB = common.HexToAddress("0xbb")
)

const (
	chainA types.ChainID = 10
	chainB types.ChainID = 42161
)

func newTestLedger(t *testing.T, db database.Database) (*Ledger, *mockable.Clock) {
	t.Helper()
	clock := &mockable.Clock{}
	clock.Set(time.Unix(1000, 0))
	l, err := New(db, clock, log.NewNoOpLogger(), nil)
	require.NoError(t, err)
	return l, clock
}

func setup(t *testing.T) (*Ledger, *mockable.Clock) {
	t.Helper()
	l, clock := newTestLedger(t, memdb.New())
	require.NoError(t, l.RegisterChain(operator, chainA))
	require.NoError(t, l.RegisterChain(operator, chainB))
	require.NoError(t, l.SetRoute(operator, chainA, adapterA))
	return l, clock
}

func TestRecordAndGet(t *testing.T) {
	ctx := context.Background()
	l, _ := setup(t)

	z := l.Get(chainA)
	require.True(t, z.IsZero())
	require.Zero(t, z.ShareSupply.Sign())

	prev, err := l.Record(ctx, adapterA, chainA, 900, big.NewInt(100), big.NewInt(90))
	require.NoError(t, err)
	require.True(t, prev.IsZero())

	prev, err = l.Record(ctx, adapterA, chainA, 950, big.NewInt(120), big.NewInt(110))
	require.NoError(t, err)
	require.Equal(t, uint64(900), prev.Timestamp)
	require.Zero(t, prev.ShareSupply.Cmp(big.NewInt(90)))

	got := l.Get(chainA)
	require.Equal(t, uint64(950), got.Timestamp)
	require.Zero(t, got.UnderlyingBalance.Cmp(big.NewInt(120)))
}

func TestRecordMonotonic(t *testing.T) {
	ctx := context.Background()
	l, _ := setup(t)

	_, err := l.Record(ctx, adapterA, chainA, 900, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)

	for _, ts := range []uint64{900, 899, 1} {
		_, err = l.Record(ctx, adapterA, chainA, ts, big.NewInt(7), big.NewInt(7))
		require.ErrorIs(t, err, ErrTimeBeforePrevRecord)
	}
	got := l.Get(chainA)
	require.Equal(t, uint64(900), got.Timestamp)
	require.Zero(t, got.ShareSupply.Cmp(big.NewInt(1)), "rejected records never mutate the snapshot")
}

func TestRecordInFuture(t *testing.T) {
	ctx := context.Background()
	l, clock := setup(t)

	_, err := l.Record(ctx, adapterA, chainA, 1001, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrTimeInFuture)

	clock.Advance(time.Second)
	_, err = l.Record(ctx, adapterA, chainA, 1001, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)
}

func TestRecordAuthorization(t *testing.T) {
	ctx := context.Background()
	l, _ := setup(t)

	// chainB has no override and falls back to the default route, which is
	// the first route ever set.
	route, ok := l.RouteOf(chainB)
	require.True(t, ok)
	require.Equal(t, adapterA, route)

	_, err := l.Record(ctx, adapterB, chainA, 500, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrUnauthorizedSender)

	require.NoError(t, l.SetRoute(operator, chainB, adapterB))
	_, err = l.Record(ctx, adapterA, chainB, 500, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrUnauthorizedSender)
	_, err = l.Record(ctx, adapterB, chainB, 500, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)

	_, err = l.Record(ctx, adapterA, 999, 500, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrChainNotRegistered)
}

func TestUnauthorizedCheckedBeforeOrdering(t *testing.T) {
	ctx := context.Background()
	l, clock := setup(t)
	_, err := l.Record(ctx, adapterA, chainA, 900, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)

	// stale, future and unauthorized at once: authorization wins
	_, err = l.Record(ctx, adapterB, chainA, 800, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrUnauthorizedSender)

	_, err = l.Record(ctx, adapterA, chainA, uint64(clock.Time().Unix())+10, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrTimeInFuture)
}

func TestIsFresh(t *testing.T) {
	ctx := context.Background()
	l, clock := setup(t)

	require.False(t, l.IsFresh(chainA, time.Hour), "never reported")

	_, err := l.Record(ctx, adapterA, chainA, 1000, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)
	require.True(t, l.IsFresh(chainA, 0))

	clock.Advance(time.Minute)
	require.True(t, l.IsFresh(chainA, time.Minute))
	require.False(t, l.IsFresh(chainA, time.Minute-time.Second))
}

func TestRegistration(t *testing.T) {
	ctx := context.Background()
	l, _ := setup(t)

	require.Equal(t, []types.ChainID{chainA, chainB}, l.Chains())
	require.ErrorIs(t, l.RegisterChain(operator, chainA), ErrChainAlreadyRegistered)
	require.ErrorIs(t, l.RegisterChain(access.Anyone(adapterA), 5), access.ErrOnlyOperatorAllowed)
	require.ErrorIs(t, l.SetRoute(operator, chainA, common.Address{}), ErrInvalidRoute)

	_, err := l.Record(ctx, adapterA, chainA, 900, big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)

	require.NoError(t, l.DeregisterChain(operator, chainA))
	require.Equal(t, []types.ChainID{chainB}, l.Chains())
	require.True(t, l.Get(chainA).IsZero(), "deregistration deletes the snapshot")
	require.ErrorIs(t, l.DeregisterChain(operator, chainA), ErrChainNotRegistered)

	// Re-registering starts from a clean slate, so an old timestamp is accepted.
	require.NoError(t, l.RegisterChain(operator, chainA))
	require.NoError(t, l.SetRoute(operator, chainA, adapterA))
	_, err = l.Record(ctx, adapterA, chainA, 100, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, []types.ChainID{chainB, chainA}, l.Chains())
}

func TestSubscribeSnapshots(t *testing.T) {
	ctx := context.Background()
	l, _ := setup(t)

	ch := make(chan SnapshotUpdated, 1)
	sub := l.SubscribeSnapshots(ch)
	defer sub.Unsubscribe()

	_, err := l.Record(ctx, adapterA, chainA, 900, big.NewInt(5), big.NewInt(4))
	require.NoError(t, err)

	ev := <-ch
	require.True(t, ev.Prev.IsZero())
	require.Equal(t, chainA, ev.Next.ChainID)
	require.Zero(t, ev.Next.ShareSupply.Cmp(big.NewInt(4)))
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()

	l, _ := newTestLedger(t, db)
	require.NoError(t, l.RegisterChain(operator, chainB))
	require.NoError(t, l.RegisterChain(operator, chainA))
	require.NoError(t, l.SetRoute(operator, chainB, adapterB))
	require.NoError(t, l.SetRoute(operator, chainA, adapterA))
	_, err := l.Record(ctx, adapterA, chainA, 990, big.NewInt(11), big.NewInt(12))
	require.NoError(t, err)

	reopened, _ := newTestLedger(t, db)
	require.Equal(t, []types.ChainID{chainB, chainA}, reopened.Chains())

	got := reopened.Get(chainA)
	require.Equal(t, uint64(990), got.Timestamp)
	require.Zero(t, got.ShareSupply.Cmp(big.NewInt(12)))

	route, ok := reopened.RouteOf(types.ChainID(77))
	require.True(t, ok)
	require.Equal(t, adapterB, route, "default route survives a restart")

	_, err = reopened.Record(ctx, adapterA, chainA, 990, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrTimeBeforePrevRecord)
}
