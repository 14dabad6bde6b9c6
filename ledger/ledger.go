// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger stores the latest snapshot reported by every registered
// remote chain, together with the transport route each chain reports
// through.
//
// A snapshot is only accepted from the chain's route, must be strictly newer
// than the one it replaces and must not be dated in the future. Delayed or
// duplicated messages therefore can never roll a chain back to data that
// has already been reconciled.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/event"
	"github.com/luxfi/log"

	"github.com/luxfi/omnivault/access"
	"github.com/luxfi/omnivault/metrics"
	"github.com/luxfi/omnivault/types"
	"github.com/luxfi/omnivault/utils/timer/mockable"
)

var (
	ErrUnauthorizedSender     = errors.New("unauthorized sender")
	ErrTimeBeforePrevRecord   = errors.New("time before previous record")
	ErrTimeInFuture           = errors.New("time in future")
	ErrChainNotRegistered     = errors.New("chain not registered")
	ErrChainAlreadyRegistered = errors.New("chain already registered")
	ErrInvalidRoute           = errors.New("invalid route")
	ErrStateCorrupted         = errors.New("ledger state corrupted")
)

// SnapshotUpdated is sent on every accepted record.
type SnapshotUpdated struct {
	Prev types.Snapshot
	Next types.Snapshot
}

// Ledger is the per-chain snapshot store.
type Ledger struct {
	db      database.Database
	clock   *mockable.Clock
	log     log.Logger
	metrics metrics.Ledger

	seq          uint64
	chains       []types.ChainID
	registered   map[types.ChainID]struct{}
	snapshots    map[types.ChainID]types.Snapshot
	routes       map[types.ChainID]common.Address
	defaultRoute common.Address

	feed event.Feed
	mu   sync.RWMutex
}

// New opens a ledger on db, restoring any persisted state.
func New(db database.Database, clock *mockable.Clock, logger log.Logger, m metrics.Ledger) (*Ledger, error) {
	if clock == nil {
		clock = &mockable.Clock{}
	}
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if m == nil {
		m = metrics.Noop().Ledger
	}
	l := &Ledger{
		db:         db,
		clock:      clock,
		log:        logger,
		metrics:    m,
		registered: make(map[types.ChainID]struct{}),
		snapshots:  make(map[types.ChainID]types.Snapshot),
		routes:     make(map[types.ChainID]common.Address),
	}
	if err := l.load(); err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	return l, nil
}

// Record stores a snapshot reported for chain and returns the one it
// replaced. caller is the transport route that delivered the report.
func (l *Ledger) Record(
	_ context.Context,
	caller common.Address,
	chain types.ChainID,
	timestamp uint64,
	underlyingBalance *big.Int,
	shareSupply *big.Int,
) (types.Snapshot, error) {
	if err := types.CheckAmount(underlyingBalance); err != nil {
		return types.Snapshot{}, err
	}
	if err := types.CheckAmount(shareSupply); err != nil {
		return types.Snapshot{}, err
	}

	l.mu.Lock()
	prev, err := l.checkRecord(caller, chain, timestamp)
	if err != nil {
		l.mu.Unlock()
		l.metrics.MarkRejected(reason(err))
		l.log.Warn("snapshot rejected",
			log.Stringer("chain", chain),
			log.Uint64("timestamp", timestamp),
			log.Err(err),
		)
		return types.Snapshot{}, err
	}

	next := types.Snapshot{
		ChainID:           chain,
		Timestamp:         timestamp,
		UnderlyingBalance: new(big.Int).Set(underlyingBalance),
		ShareSupply:       new(big.Int).Set(shareSupply),
	}
	if err := l.db.Put(chainKey(prefixSnapshot, chain), next.Bytes()); err != nil {
		l.mu.Unlock()
		return types.Snapshot{}, fmt.Errorf("persisting snapshot: %w", err)
	}
	l.snapshots[chain] = next
	l.mu.Unlock()

	l.metrics.MarkRecorded(chain.String(), timestamp)
	l.log.Debug("snapshot recorded",
		log.Stringer("chain", chain),
		log.Uint64("timestamp", timestamp),
		log.String("shareSupply", shareSupply.String()),
	)
	l.feed.Send(SnapshotUpdated{Prev: prev.Clone(), Next: next.Clone()})
	return prev, nil
}

// checkRecord must be called with the lock held.
func (l *Ledger) checkRecord(caller common.Address, chain types.ChainID, timestamp uint64) (types.Snapshot, error) {
	if _, ok := l.registered[chain]; !ok {
		return types.Snapshot{}, fmt.Errorf("%w: %s", ErrChainNotRegistered, chain)
	}
	route, ok := l.routeOf(chain)
	if !ok || route != caller {
		return types.Snapshot{}, fmt.Errorf("%w: %s for %s", ErrUnauthorizedSender, caller, chain)
	}
	prev := l.get(chain)
	if timestamp <= prev.Timestamp {
		return types.Snapshot{}, fmt.Errorf("%w: %d <= %d", ErrTimeBeforePrevRecord, timestamp, prev.Timestamp)
	}
	if now := l.clock.Unix(); timestamp > now {
		return types.Snapshot{}, fmt.Errorf("%w: %d > %d", ErrTimeInFuture, timestamp, now)
	}
	return prev, nil
}

// Get returns the chain's snapshot, or the zero sentinel if it has not
// reported yet.
func (l *Ledger) Get(chain types.ChainID) types.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.get(chain).Clone()
}

func (l *Ledger) get(chain types.ChainID) types.Snapshot {
	if s, ok := l.snapshots[chain]; ok {
		return s
	}
	return types.ZeroSnapshot(chain)
}

// IsFresh reports whether the chain's snapshot is at most maxAge old.
func (l *Ledger) IsFresh(chain types.ChainID, maxAge time.Duration) bool {
	l.mu.RLock()
	s := l.get(chain)
	l.mu.RUnlock()

	now := l.clock.Unix()
	if s.Timestamp > now {
		return true
	}
	return now-s.Timestamp <= uint64(maxAge/time.Second)
}

// Chains returns the registered chains in registration order.
func (l *Ledger) Chains() []types.ChainID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.chains)
}

func (l *Ledger) Registered(chain types.ChainID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.registered[chain]
	return ok
}

// SubscribeSnapshots delivers every accepted record to ch. Sends block
// until ch receives, so subscribers should buffer or drain promptly.
func (l *Ledger) SubscribeSnapshots(ch chan<- SnapshotUpdated) event.Subscription {
	return l.feed.Subscribe(ch)
}

// RegisterChain adds chain to the set that reconciliation requires.
func (l *Ledger) RegisterChain(caller access.Caller, chain types.ChainID) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.registered[chain]; ok {
		return fmt.Errorf("%w: %s", ErrChainAlreadyRegistered, chain)
	}
	seq := l.seq + 1
	batch := l.db.NewBatch()
	if err := batch.Put(chainKey(prefixChain, chain), encodeUint64(seq)); err != nil {
		return err
	}
	if err := batch.Put(keySequence, encodeUint64(seq)); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("persisting registration: %w", err)
	}

	l.seq = seq
	l.chains = append(l.chains, chain)
	l.registered[chain] = struct{}{}
	l.log.Info("chain registered", log.Stringer("chain", chain))
	return nil
}

// DeregisterChain removes chain together with its snapshot and route.
func (l *Ledger) DeregisterChain(caller access.Caller, chain types.ChainID) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.registered[chain]; !ok {
		return fmt.Errorf("%w: %s", ErrChainNotRegistered, chain)
	}
	batch := l.db.NewBatch()
	for _, prefix := range [][]byte{prefixChain, prefixSnapshot, prefixRoute} {
		if err := batch.Delete(chainKey(prefix, chain)); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("persisting deregistration: %w", err)
	}

	l.chains = slices.DeleteFunc(l.chains, func(c types.ChainID) bool { return c == chain })
	delete(l.registered, chain)
	delete(l.snapshots, chain)
	delete(l.routes, chain)
	l.log.Info("chain deregistered", log.Stringer("chain", chain))
	return nil
}

// SetRoute sets the adapter that reports for chain. The first route ever
// set also becomes the default route.
func (l *Ledger) SetRoute(caller access.Caller, chain types.ChainID, adapter common.Address) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	if adapter == (common.Address{}) {
		return ErrInvalidRoute
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := l.db.NewBatch()
	if err := batch.Put(chainKey(prefixRoute, chain), adapter.Bytes()); err != nil {
		return err
	}
	setDefault := l.defaultRoute == (common.Address{})
	if setDefault {
		if err := batch.Put(keyDefault, adapter.Bytes()); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("persisting route: %w", err)
	}

	l.routes[chain] = adapter
	if setDefault {
		l.defaultRoute = adapter
	}
	l.log.Info("route set",
		log.Stringer("chain", chain),
		log.Stringer("adapter", adapter),
	)
	return nil
}

// SetDefaultRoute sets the route used by chains without an override.
func (l *Ledger) SetDefaultRoute(caller access.Caller, adapter common.Address) error {
	if err := caller.Require(access.Operator); err != nil {
		return err
	}
	if adapter == (common.Address{}) {
		return ErrInvalidRoute
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.db.Put(keyDefault, adapter.Bytes()); err != nil {
		return fmt.Errorf("persisting default route: %w", err)
	}
	l.defaultRoute = adapter
	return nil
}

// RouteOf resolves the chain's route: its override, else the default.
func (l *Ledger) RouteOf(chain types.ChainID) (common.Address, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.routeOf(chain)
}

func (l *Ledger) routeOf(chain types.ChainID) (common.Address, bool) {
	if route, ok := l.routes[chain]; ok {
		return route, true
	}
	return l.defaultRoute, l.defaultRoute != (common.Address{})
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorizedSender):
		return "unauthorized_sender"
	case errors.Is(err, ErrTimeBeforePrevRecord):
		return "time_before_prev_record"
	case errors.Is(err, ErrTimeInFuture):
		return "time_in_future"
	case errors.Is(err, ErrChainNotRegistered):
		return "chain_not_registered"
	default:
		return "other"
	}
}
