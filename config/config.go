// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines the configuration of an omnivault node.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/omnivault/curve"
	"github.com/luxfi/omnivault/types"
)

const (
	RoleHome   = "home"
	RoleRemote = "remote"
)

var (
	ErrInvalidRole     = errors.New("invalid role")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrMissingPeers    = errors.New("no peers configured")
)

// Config contains the configuration of a single chain's node.
type Config struct {
	// Role is either "home" or "remote"
	Role string `json:"role" mapstructure:"role"`

	// ChainID of the chain this node runs on
	ChainID uint32 `json:"chainId" mapstructure:"chainId"`
	// EID is this node's transport endpoint
	EID uint32 `json:"eid" mapstructure:"eid"`

	// Accounts
	Adapter  string `json:"adapter" mapstructure:"adapter"`
	Target   string `json:"target" mapstructure:"target"`
	Owner    string `json:"owner" mapstructure:"owner"`
	Operator string `json:"operator" mapstructure:"operator"`

	// Peers are the adapters on the other chains. A home node registers
	// every peer chain with its ledger; a remote node only needs the home
	// chain.
	Peers []Peer `json:"peers" mapstructure:"peers"`

	Home      HomeConfig      `json:"home" mapstructure:"home"`
	Remote    RemoteConfig    `json:"remote" mapstructure:"remote"`
	Transport TransportConfig `json:"transport" mapstructure:"transport"`
}

type Peer struct {
	ChainID uint32 `json:"chainId" mapstructure:"chainId"`
	EID     uint32 `json:"eid" mapstructure:"eid"`
	Adapter string `json:"adapter" mapstructure:"adapter"`
}

type HomeConfig struct {
	TokenSymbol       string        `json:"tokenSymbol" mapstructure:"tokenSymbol"`
	Backing           string        `json:"backing" mapstructure:"backing"`
	InfoMaxDelay      time.Duration `json:"infoMaxDelay" mapstructure:"infoMaxDelay"`
	UpdateEnabled     bool          `json:"updateEnabled" mapstructure:"updateEnabled"`
	ReconcileInterval time.Duration `json:"reconcileInterval" mapstructure:"reconcileInterval"`
	StrategyLimit     string        `json:"strategyLimit" mapstructure:"strategyLimit"`
}

type RemoteConfig struct {
	HomeChainID      uint32        `json:"homeChainId" mapstructure:"homeChainId"`
	Treasury         string        `json:"treasury" mapstructure:"treasury"`
	TargetCapacity   string        `json:"targetCapacity" mapstructure:"targetCapacity"`
	MinAmount        string        `json:"minAmount" mapstructure:"minAmount"`
	ProtocolFeeShare uint64        `json:"protocolFeeShare" mapstructure:"protocolFeeShare"`
	DepositBonus     CurveConfig   `json:"depositBonus" mapstructure:"depositBonus"`
	WithdrawFee      CurveConfig   `json:"withdrawFee" mapstructure:"withdrawFee"`
	StrategyLimit    string        `json:"strategyLimit" mapstructure:"strategyLimit"`
	ReportInterval   time.Duration `json:"reportInterval" mapstructure:"reportInterval"`
	ReportFee        string        `json:"reportFee" mapstructure:"reportFee"`
	GasLimit         uint64        `json:"gasLimit" mapstructure:"gasLimit"`
}

// CurveConfig holds percentages in the MaxPercent scale (1e10 = 100%).
type CurveConfig struct {
	MaxRate     uint64 `json:"maxRate" mapstructure:"maxRate"`
	OptimalRate uint64 `json:"optimalRate" mapstructure:"optimalRate"`
	Kink        uint64 `json:"kink" mapstructure:"kink"`
}

type TransportConfig struct {
	// RelayURL is the websocket relay; empty runs the node without a
	// network transport.
	RelayURL   string `json:"relayUrl" mapstructure:"relayUrl"`
	BaseFee    string `json:"baseFee" mapstructure:"baseFee"`
	PerByteFee string `json:"perByteFee" mapstructure:"perByteFee"`
}

// DefaultConfig returns a remote node configuration with the default
// curves. Accounts and peers must still be filled in.
func DefaultConfig() Config {
	deposit := curve.DefaultDepositBonus()
	withdraw := curve.DefaultWithdrawFee()
	return Config{
		Role: RoleRemote,
		Home: HomeConfig{
			TokenSymbol:       "ovETH",
			InfoMaxDelay:      24 * time.Hour,
			UpdateEnabled:     true,
			ReconcileInterval: 10 * time.Minute,
			StrategyLimit:     "0",
		},
		Remote: RemoteConfig{
			TargetCapacity:   "0",
			MinAmount:        "1000000000000000",    // 0.001
			ProtocolFeeShare: types.MaxPercent / 10, // 10%
			DepositBonus: CurveConfig{
				MaxRate:     deposit.MaxRate,
				OptimalRate: deposit.OptimalRate,
				Kink:        deposit.Kink,
			},
			WithdrawFee: CurveConfig{
				MaxRate:     withdraw.MaxRate,
				OptimalRate: withdraw.OptimalRate,
				Kink:        withdraw.Kink,
			},
			StrategyLimit:  "0",
			ReportInterval: time.Hour,
			ReportFee:      "10000000000000000", // 0.01
			GasLimit:       200_000,
		},
		Transport: TransportConfig{
			BaseFee:    "1000000000000",
			PerByteFee: "1000000000",
		},
	}
}

// Validate checks the fields the configured role depends on.
func (c Config) Validate() error {
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Role {
	case RoleHome, RoleRemote:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	for name, v := range map[string]string{
		"adapter":  c.Adapter,
		"target":   c.Target,
		"owner":    c.Owner,
		"operator": c.Operator,
	} {
		_, err := ParseAddress(name, v)
		check(err)
	}
	if len(c.Peers) == 0 {
		errs = append(errs, ErrMissingPeers)
	}
	for _, p := range c.Peers {
		_, err := ParseAddress(fmt.Sprintf("peer %d", p.ChainID), p.Adapter)
		check(err)
	}
	_, err := ParseAmount("transport.baseFee", c.Transport.BaseFee)
	check(err)
	_, err = ParseAmount("transport.perByteFee", c.Transport.PerByteFee)
	check(err)

	if c.Role == RoleHome {
		_, err := ParseAddress("home.backing", c.Home.Backing)
		check(err)
		_, err = ParseAmount("home.strategyLimit", c.Home.StrategyLimit)
		check(err)
		if c.Home.ReconcileInterval <= 0 {
			errs = append(errs, fmt.Errorf("%w: home.reconcileInterval %s", ErrInvalidInterval, c.Home.ReconcileInterval))
		}
		return errors.Join(errs...)
	}

	_, err = ParseAddress("remote.treasury", c.Remote.Treasury)
	check(err)
	for name, v := range map[string]string{
		"remote.targetCapacity": c.Remote.TargetCapacity,
		"remote.minAmount":      c.Remote.MinAmount,
		"remote.strategyLimit":  c.Remote.StrategyLimit,
		"remote.reportFee":      c.Remote.ReportFee,
	} {
		_, err := ParseAmount(name, v)
		check(err)
	}
	_, err = c.Remote.DepositBonus.Curve(curve.DepositBonus)
	check(err)
	_, err = c.Remote.WithdrawFee.Curve(curve.WithdrawFee)
	check(err)
	if c.Remote.ProtocolFeeShare > types.MaxPercent {
		errs = append(errs, fmt.Errorf("%w: remote.protocolFeeShare %d", curve.ErrParameterExceedsLimits, c.Remote.ProtocolFeeShare))
	}
	if c.Remote.ReportInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: remote.reportInterval %s", ErrInvalidInterval, c.Remote.ReportInterval))
	}
	return errors.Join(errs...)
}

func (c CurveConfig) Curve(shape curve.Shape) (curve.Curve, error) {
	return curve.New(shape, c.MaxRate, c.OptimalRate, c.Kink)
}

// ParseAddress parses a hex address; name labels the error.
func ParseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q", ErrInvalidAddress, name, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s is zero", ErrInvalidAddress, name)
	}
	return addr, nil
}

// ParseAmount parses a non-negative decimal amount; name labels the error.
func ParseAmount(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidAmount, name, s)
	}
	if err := types.CheckAmount(v); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidAmount, name, err)
	}
	return v, nil
}
