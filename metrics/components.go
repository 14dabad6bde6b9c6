// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	_ Pool       = (*poolMetrics)(nil)
	_ Ledger     = (*ledgerMetrics)(nil)
	_ Reconciler = (*reconcilerMetrics)(nil)
	_ Adapter    = (*adapterMetrics)(nil)
)

type Pool interface {
	// Set the pool balances after a state change.
	SetBalances(free, delegated, accrued, shares *big.Int)
	// Set the buffer utilization (MaxPercent scale).
	SetUtilization(*big.Int)
	// Set the estimated number of distinct depositors.
	SetUniqueDepositors(uint64)
	// Mark a flash deposit and the bonus it was paid.
	MarkDeposit(amount, bonus *big.Int)
	// Mark a flash withdrawal and the fee it paid.
	MarkWithdraw(amount, fee *big.Int)
}

type Ledger interface {
	MarkRecorded(chain string, timestamp uint64)
	MarkRejected(reason string)
}

type Reconciler interface {
	MarkReconcile(result string)
	SetSyncedSupply(*big.Int)
	AddMinted(*big.Int)
	AddBurned(*big.Int)
	SetIdle(*big.Int)
}

type Adapter interface {
	MarkSent(kind string, fee *big.Int)
	MarkReceived(kind string)
	MarkRejected(reason string)
}

type poolMetrics struct {
	free        prometheus.Gauge
	delegated   prometheus.Gauge
	accrued     prometheus.Gauge
	shares      prometheus.Gauge
	utilization prometheus.Gauge
	depositors  prometheus.Gauge

	deposits    prometheus.Counter
	withdrawals prometheus.Counter
	bonusPaid   prometheus.Counter
	feesPaid    prometheus.Counter
}

func NewPool(registerer prometheus.Registerer) (Pool, error) {
	m := &poolMetrics{
		free:        gauge("pool", "free_balance", "Instantly available buffer"),
		delegated:   gauge("pool", "delegated_balance", "Capital deployed to the yield strategy"),
		accrued:     gauge("pool", "bonus_accrued", "Withdrawal fees available for deposit bonuses"),
		shares:      gauge("pool", "share_supply", "Outstanding shares"),
		utilization: gauge("pool", "utilization", "Free balance over target capacity, scaled by 1e10"),
		depositors:  gauge("pool", "unique_depositors", "Estimated distinct depositors"),
		deposits:    counter("pool", "deposits", "Flash deposits served"),
		withdrawals: counter("pool", "withdrawals", "Flash withdrawals served"),
		bonusPaid:   counter("pool", "bonus_paid", "Cumulative deposit bonus paid"),
		feesPaid:    counter("pool", "fees_collected", "Cumulative withdrawal fees collected"),
	}
	err := register(registerer,
		m.free, m.delegated, m.accrued, m.shares, m.utilization, m.depositors,
		m.deposits, m.withdrawals, m.bonusPaid, m.feesPaid,
	)
	return m, err
}

func (m *poolMetrics) SetBalances(free, delegated, accrued, shares *big.Int) {
	m.free.Set(float(free))
	m.delegated.Set(float(delegated))
	m.accrued.Set(float(accrued))
	m.shares.Set(float(shares))
}

func (m *poolMetrics) SetUtilization(u *big.Int)    { m.utilization.Set(float(u)) }
func (m *poolMetrics) SetUniqueDepositors(n uint64) { m.depositors.Set(float64(n)) }

func (m *poolMetrics) MarkDeposit(_, bonus *big.Int) {
	m.deposits.Inc()
	m.bonusPaid.Add(float(bonus))
}

func (m *poolMetrics) MarkWithdraw(_, fee *big.Int) {
	m.withdrawals.Inc()
	m.feesPaid.Add(float(fee))
}

type ledgerMetrics struct {
	recorded      *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	lastTimestamp *prometheus.GaugeVec
}

func NewLedger(registerer prometheus.Registerer) (Ledger, error) {
	m := &ledgerMetrics{
		recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "snapshots_recorded",
			Help:      "Snapshots accepted per chain",
		}, []string{ChainLabel}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "snapshots_rejected",
			Help:      "Snapshots rejected by reason",
		}, []string{ReasonLabel}),
		lastTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "snapshot_timestamp",
			Help:      "Timestamp of the latest accepted snapshot per chain",
		}, []string{ChainLabel}),
	}
	return m, register(registerer, m.recorded, m.rejected, m.lastTimestamp)
}

func (m *ledgerMetrics) MarkRecorded(chain string, timestamp uint64) {
	m.recorded.WithLabelValues(chain).Inc()
	m.lastTimestamp.WithLabelValues(chain).Set(float64(timestamp))
}

func (m *ledgerMetrics) MarkRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

type reconcilerMetrics struct {
	runs         *prometheus.CounterVec
	syncedSupply prometheus.Gauge
	minted       prometheus.Counter
	burned       prometheus.Counter
	idle         prometheus.Gauge
}

func NewReconciler(registerer prometheus.Registerer) (Reconciler, error) {
	m := &reconcilerMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reconciler",
			Name:      "runs",
			Help:      "Reconciliation attempts by result",
		}, []string{ResultLabel}),
		syncedSupply: gauge("reconciler", "synced_supply", "Canonical supply reflected by the last reconciliation"),
		minted:       counter("reconciler", "minted", "Cumulative canonical tokens minted"),
		burned:       counter("reconciler", "burned", "Cumulative canonical tokens burned"),
		idle:         gauge("reconciler", "idle_balance", "Capital waiting to be forwarded to yield"),
	}
	return m, register(registerer, m.runs, m.syncedSupply, m.minted, m.burned, m.idle)
}

func (m *reconcilerMetrics) MarkReconcile(result string) { m.runs.WithLabelValues(result).Inc() }
func (m *reconcilerMetrics) SetSyncedSupply(v *big.Int)  { m.syncedSupply.Set(float(v)) }
func (m *reconcilerMetrics) AddMinted(v *big.Int)        { m.minted.Add(float(v)) }
func (m *reconcilerMetrics) AddBurned(v *big.Int)        { m.burned.Add(float(v)) }
func (m *reconcilerMetrics) SetIdle(v *big.Int)          { m.idle.Set(float(v)) }

type adapterMetrics struct {
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
	rejected *prometheus.CounterVec
	fees     prometheus.Counter
}

func NewAdapter(registerer prometheus.Registerer) (Adapter, error) {
	m := &adapterMetrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "adapter",
			Name:      "messages_sent",
			Help:      "Messages sent by kind",
		}, []string{KindLabel}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "adapter",
			Name:      "messages_received",
			Help:      "Messages delivered to the target by kind",
		}, []string{KindLabel}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "adapter",
			Name:      "messages_rejected",
			Help:      "Inbound messages rejected by reason",
		}, []string{ReasonLabel}),
		fees: counter("adapter", "fees_paid", "Cumulative transport fees paid"),
	}
	return m, register(registerer, m.sent, m.received, m.rejected, m.fees)
}

func (m *adapterMetrics) MarkSent(kind string, fee *big.Int) {
	m.sent.WithLabelValues(kind).Inc()
	m.fees.Add(float(fee))
}

func (m *adapterMetrics) MarkReceived(kind string)   { m.received.WithLabelValues(kind).Inc() }
func (m *adapterMetrics) MarkRejected(reason string) { m.rejected.WithLabelValues(reason).Inc() }

func gauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}
