// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes prometheus collectors for every omnivault
// component. Each component depends on a small interface so it can run
// with a no-op implementation.
package metrics

import (
	"errors"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "omnivault"

	ChainLabel  = "chain"
	KindLabel   = "kind"
	ReasonLabel = "reason"
	ResultLabel = "result"
)

// Metrics groups the collector sets of one process.
type Metrics struct {
	Pool       Pool
	Ledger     Ledger
	Reconciler Reconciler
	Adapter    Adapter
}

// New registers every collector set on registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	pool, err1 := NewPool(registerer)
	ledger, err2 := NewLedger(registerer)
	reconciler, err3 := NewReconciler(registerer)
	adapter, err4 := NewAdapter(registerer)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return nil, err
	}
	return &Metrics{
		Pool:       pool,
		Ledger:     ledger,
		Reconciler: reconciler,
		Adapter:    adapter,
	}, nil
}

// Noop returns collector sets that record nothing.
func Noop() *Metrics {
	return &Metrics{
		Pool:       noop{},
		Ledger:     noop{},
		Reconciler: noop{},
		Adapter:    noop{},
	}
}

func register(registerer prometheus.Registerer, cs ...prometheus.Collector) error {
	var errs []error
	for _, c := range cs {
		errs = append(errs, registerer.Register(c))
	}
	return errors.Join(errs...)
}

// float converts an asset amount for export. Precision loss above 2^53 is
// acceptable for dashboards.
func float(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

type noop struct{}

func (noop) SetBalances(_, _, _, _ *big.Int) {}
func (noop) SetUtilization(*big.Int)         {}
func (noop) SetUniqueDepositors(uint64)      {}
func (noop) MarkDeposit(_, _ *big.Int)       {}
func (noop) MarkWithdraw(_, _ *big.Int)      {}
func (noop) MarkRecorded(string, uint64)     {}
func (noop) MarkRejected(string)             {}
func (noop) MarkReconcile(string)            {}
func (noop) SetSyncedSupply(*big.Int)        {}
func (noop) AddMinted(*big.Int)              {}
func (noop) AddBurned(*big.Int)              {}
func (noop) SetIdle(*big.Int)                {}
func (noop) MarkSent(string, *big.Int)       {}
func (noop) MarkReceived(string)             {}
