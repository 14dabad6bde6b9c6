// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/omnivault/access"
	"github.com/luxfi/omnivault/adapter"
	"github.com/luxfi/omnivault/config"
	"github.com/luxfi/omnivault/ledger"
	"github.com/luxfi/omnivault/metrics"
	"github.com/luxfi/omnivault/reconciler"
	"github.com/luxfi/omnivault/strategy"
	"github.com/luxfi/omnivault/token"
	"github.com/luxfi/omnivault/transport"
	"github.com/luxfi/omnivault/types"
	"github.com/luxfi/omnivault/utils/timer/mockable"
)

// Database prefixes
var (
	ledgerPrefix     = []byte("ledger")
	tokenPrefix      = []byte("token")
	reconcilerPrefix = []byte("reconciler")
	assetPrefix      = []byte("asset")
)

// Deps are the node's process-level collaborators.
type Deps struct {
	DB         database.Database
	Transport  transport.Transport
	Registerer prometheus.Registerer
	Clock      *mockable.Clock
	Log        log.Logger
}

func (d *Deps) defaults() (*metrics.Metrics, error) {
	if d.Clock == nil {
		d.Clock = &mockable.Clock{}
	}
	if d.Log == nil {
		d.Log = log.NewNoOpLogger()
	}
	if d.Registerer == nil {
		return metrics.Noop(), nil
	}
	return metrics.New(d.Registerer)
}

// accounts are the addresses every node is configured with.
type accounts struct {
	adapter  common.Address
	target   common.Address
	owner    access.Caller
	operator access.Caller
}

func parseAccounts(cfg config.Config) (accounts, error) {
	adapterAddr, err := config.ParseAddress("adapter", cfg.Adapter)
	if err != nil {
		return accounts{}, err
	}
	target, err := config.ParseAddress("target", cfg.Target)
	if err != nil {
		return accounts{}, err
	}
	owner, err := config.ParseAddress("owner", cfg.Owner)
	if err != nil {
		return accounts{}, err
	}
	operator, err := config.ParseAddress("operator", cfg.Operator)
	if err != nil {
		return accounts{}, err
	}
	return accounts{
		adapter:  adapterAddr,
		target:   target,
		owner:    access.NewCaller(owner, access.Owner),
		operator: access.NewCaller(operator, access.Operator),
	}, nil
}

// connectPeers maps every configured peer chain onto the adapter.
func connectPeers(a *adapter.Adapter, owner access.Caller, peers []config.Peer) error {
	for _, p := range peers {
		addr, err := config.ParseAddress(fmt.Sprintf("peer %d", p.ChainID), p.Adapter)
		if err != nil {
			return err
		}
		if err := a.SetChainEID(owner, types.ChainID(p.ChainID), types.EID(p.EID)); err != nil {
			return err
		}
		if err := a.SetPeer(owner, types.EID(p.EID), addr); err != nil {
			return err
		}
	}
	return nil
}

// Home runs the home chain: it records remote snapshots and keeps the
// canonical supply reconciled.
type Home struct {
	Ledger     *ledger.Ledger
	Token      *token.Token
	Reconciler *reconciler.Reconciler
	Adapter    *adapter.Adapter

	interval time.Duration
	log      log.Logger
}

func NewHome(cfg config.Config, deps Deps) (*Home, error) {
	if cfg.Role != config.RoleHome {
		return nil, fmt.Errorf("%w: %q is not %q", config.ErrInvalidRole, cfg.Role, config.RoleHome)
	}
	m, err := deps.defaults()
	if err != nil {
		return nil, err
	}
	acc, err := parseAccounts(cfg)
	if err != nil {
		return nil, err
	}
	backing, err := config.ParseAddress("home.backing", cfg.Home.Backing)
	if err != nil {
		return nil, err
	}
	strategyLimit, err := config.ParseAmount("home.strategyLimit", cfg.Home.StrategyLimit)
	if err != nil {
		return nil, err
	}

	l, err := ledger.New(prefixdb.New(ledgerPrefix, deps.DB), deps.Clock, deps.Log, m.Ledger)
	if err != nil {
		return nil, err
	}
	tok, err := token.New(cfg.Home.TokenSymbol, acc.target, prefixdb.New(tokenPrefix, deps.DB))
	if err != nil {
		return nil, err
	}
	a := adapter.New(adapter.Config{Address: acc.adapter, EID: types.EID(cfg.EID)}, deps.Transport, deps.Log, m.Adapter)
	r, err := reconciler.New(reconciler.Config{
		Address:       acc.target,
		Backing:       backing,
		InfoMaxDelay:  cfg.Home.InfoMaxDelay,
		UpdateEnabled: cfg.Home.UpdateEnabled,
	}, reconciler.Deps{
		DB:       prefixdb.New(reconcilerPrefix, deps.DB),
		Ledger:   l,
		Token:    tok,
		Strategy: strategy.NewCapped("yield", backing, strategyLimit),
		Sender:   a,
		Log:      deps.Log,
		Metrics:  m.Reconciler,
	})
	if err != nil {
		return nil, err
	}

	if err := connectPeers(a, acc.owner, cfg.Peers); err != nil {
		return nil, err
	}
	for _, p := range cfg.Peers {
		chain := types.ChainID(p.ChainID)
		if !l.Registered(chain) {
			if err := l.RegisterChain(acc.operator, chain); err != nil {
				return nil, err
			}
		}
		// snapshots are recorded by the local adapter on the peer's behalf
		if err := l.SetRoute(acc.operator, chain, acc.adapter); err != nil {
			return nil, err
		}
	}
	if err := a.SetTarget(acc.owner, acc.target, r); err != nil {
		return nil, err
	}

	return &Home{
		Ledger:     l,
		Token:      tok,
		Reconciler: r,
		Adapter:    a,
		interval:   cfg.Home.ReconcileInterval,
		log:        deps.Log,
	}, nil
}

// Run reconciles on every interval until ctx is cancelled.
func (h *Home) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return every(ctx, h.interval, h.ReconcileOnce)
	})
	return g.Wait()
}

// ReconcileOnce runs one reconciliation and logs its outcome. Only fatal
// errors are returned; everything else is retried on the next tick.
func (h *Home) ReconcileOnce(ctx context.Context) error {
	res, err := h.Reconciler.Reconcile(ctx)
	if err != nil {
		logOutcome(h.log, "reconciliation skipped", err)
		if Classify(err) == Fatal {
			return err
		}
		return nil
	}
	h.log.Info("reconciliation complete",
		log.String("syncedSupply", res.New.String()),
		log.String("delta", res.Delta.String()),
	)
	return nil
}

// every calls fn on each tick of interval until ctx is done or fn fails.
func every(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", config.ErrInvalidInterval, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}
