// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/omnivault/access"
	"github.com/luxfi/omnivault/adapter"
	"github.com/luxfi/omnivault/config"
	"github.com/luxfi/omnivault/curve"
	"github.com/luxfi/omnivault/pool"
	"github.com/luxfi/omnivault/strategy"
	"github.com/luxfi/omnivault/token"
	"github.com/luxfi/omnivault/types"
)

var ErrUnexpectedMessage = errors.New("unexpected message")

var (
	_ pool.Payer      = (*custody)(nil)
	_ adapter.Handler = (*remoteHandler)(nil)
)

// custody pays out of the pool's asset balance.
type custody struct {
	asset *token.Token
	self  common.Address
}

func (c *custody) Pay(_ context.Context, payouts ...pool.Payout) error {
	payments := make([]token.Payment, len(payouts))
	for i, p := range payouts {
		payments[i] = token.Payment{To: p.To, Amount: p.Amount}
	}
	return c.asset.TransferMany(c.self, payments...)
}

// remoteHandler receives capital from the home chain. Remote chains never
// accept snapshots.
type remoteHandler struct {
	home  types.ChainID
	self  common.Address
	asset *token.Token
	pool  *pool.Pool
}

func (h *remoteHandler) HandleSnapshot(context.Context, common.Address, types.Snapshot) error {
	return fmt.Errorf("%w: snapshot on a remote chain", ErrUnexpectedMessage)
}

func (h *remoteHandler) HandleValue(ctx context.Context, src types.ChainID, amount *big.Int) error {
	if src != h.home {
		return fmt.Errorf("%w: value from chain %s", ErrUnexpectedMessage, src)
	}
	if err := h.asset.Mint(h.self, h.self, amount); err != nil {
		return err
	}
	if err := h.pool.ReceiveCapital(ctx, amount); err != nil {
		// the asset is still held, so undo the mint to keep custody equal
		// to the pool's books
		if burnErr := h.asset.Burn(h.self, h.self, amount); burnErr != nil {
			return errors.Join(err, burnErr)
		}
		return err
	}
	return nil
}

// Remote runs a remote chain: it serves flash deposits and withdrawals
// and reports its snapshot to the home chain.
type Remote struct {
	Pool    *pool.Pool
	Asset   *token.Token
	Adapter *adapter.Adapter

	home      types.ChainID
	self      common.Address
	operator  access.Caller
	interval  time.Duration
	reportFee *big.Int
	options   adapter.ExecutionOptions
	log       log.Logger
}

func NewRemote(cfg config.Config, deps Deps) (*Remote, error) {
	if cfg.Role != config.RoleRemote {
		return nil, fmt.Errorf("%w: %q is not %q", config.ErrInvalidRole, cfg.Role, config.RoleRemote)
	}
	m, err := deps.defaults()
	if err != nil {
		return nil, err
	}
	acc, err := parseAccounts(cfg)
	if err != nil {
		return nil, err
	}
	rc := cfg.Remote
	treasury, err := config.ParseAddress("remote.treasury", rc.Treasury)
	if err != nil {
		return nil, err
	}
	amounts := make(map[string]*big.Int)
	for name, v := range map[string]string{
		"remote.targetCapacity": rc.TargetCapacity,
		"remote.minAmount":      rc.MinAmount,
		"remote.strategyLimit":  rc.StrategyLimit,
		"remote.reportFee":      rc.ReportFee,
	} {
		amounts[name], err = config.ParseAmount(name, v)
		if err != nil {
			return nil, err
		}
	}
	depositCurve, err := rc.DepositBonus.Curve(curve.DepositBonus)
	if err != nil {
		return nil, err
	}
	withdrawCurve, err := rc.WithdrawFee.Curve(curve.WithdrawFee)
	if err != nil {
		return nil, err
	}

	asset, err := token.New("asset", acc.target, prefixdb.New(assetPrefix, deps.DB))
	if err != nil {
		return nil, err
	}
	p, err := pool.New(pool.Config{
		ChainID:          types.ChainID(cfg.ChainID),
		Treasury:         treasury,
		TargetCapacity:   amounts["remote.targetCapacity"],
		MinAmount:        amounts["remote.minAmount"],
		ProtocolFeeShare: rc.ProtocolFeeShare,
		DepositCurve:     depositCurve,
		WithdrawCurve:    withdrawCurve,
	}, pool.Deps{
		Ratio:    pool.NewFixedRatio(nil),
		Payer:    &custody{asset: asset, self: acc.target},
		Strategy: strategy.NewCapped("yield", treasury, amounts["remote.strategyLimit"]),
		Clock:    deps.Clock,
		Log:      deps.Log,
		Metrics:  m.Pool,
	})
	if err != nil {
		return nil, err
	}

	a := adapter.New(adapter.Config{Address: acc.adapter, EID: types.EID(cfg.EID)}, deps.Transport, deps.Log, m.Adapter)
	if err := connectPeers(a, acc.owner, cfg.Peers); err != nil {
		return nil, err
	}
	home := types.ChainID(rc.HomeChainID)
	if err := a.SetTarget(acc.owner, acc.target, &remoteHandler{
		home:  home,
		self:  acc.target,
		asset: asset,
		pool:  p,
	}); err != nil {
		return nil, err
	}

	return &Remote{
		Pool:      p,
		Asset:     asset,
		Adapter:   a,
		home:      home,
		self:      acc.target,
		operator:  acc.operator,
		interval:  rc.ReportInterval,
		reportFee: amounts["remote.reportFee"],
		options:   adapter.ExecutionOptions{GasLimit: rc.GasLimit},
		log:       deps.Log,
	}, nil
}

// Address is where the pool holds its assets.
func (r *Remote) Address() common.Address { return r.self }

// Deposit moves amount of the asset from user into the pool and mints the
// shares to receiver.
func (r *Remote) Deposit(ctx context.Context, user common.Address, amount *big.Int, receiver common.Address) (pool.DepositResult, error) {
	if err := r.Asset.Transfer(user, r.self, amount); err != nil {
		return pool.DepositResult{}, err
	}
	res, err := r.Pool.Deposit(ctx, access.Anyone(user), amount, receiver)
	if err != nil {
		if refundErr := r.Asset.Transfer(r.self, user, amount); refundErr != nil {
			return pool.DepositResult{}, errors.Join(err, refundErr)
		}
		return pool.DepositResult{}, err
	}
	return res, nil
}

// FlashWithdraw burns user's shares and pays the asset out to receiver.
func (r *Remote) FlashWithdraw(ctx context.Context, user common.Address, shares *big.Int, receiver common.Address) (pool.WithdrawResult, error) {
	return r.Pool.FlashWithdraw(ctx, access.Anyone(user), shares, receiver)
}

// ReturnCapital sends amount of free capital back to the home chain. fee
// must cover the transport quote.
func (r *Remote) ReturnCapital(ctx context.Context, caller access.Caller, amount, fee *big.Int) (adapter.Receipt, error) {
	if err := r.Pool.Release(ctx, caller, amount); err != nil {
		return adapter.Receipt{}, err
	}
	if err := r.Asset.Burn(r.self, r.self, amount); err != nil {
		return adapter.Receipt{}, r.restore(ctx, amount, err, false)
	}
	supplied := new(big.Int).Add(amount, fee)
	receipt, err := r.Adapter.SendValue(ctx, r.self, r.home, amount, r.options, supplied)
	if err != nil {
		return adapter.Receipt{}, r.restore(ctx, amount, err, true)
	}
	r.log.Info("returned capital",
		log.Stringer("home", r.home),
		log.String("amount", amount.String()),
		log.Stringer("guid", receipt.GUID),
	)
	return receipt, nil
}

// restore credits back capital that could not leave the chain.
func (r *Remote) restore(ctx context.Context, amount *big.Int, cause error, burned bool) error {
	if burned {
		if err := r.Asset.Mint(r.self, r.self, amount); err != nil {
			return errors.Join(cause, err)
		}
	}
	if err := r.Pool.ReceiveCapital(ctx, amount); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Report sends the pool's current snapshot to the home chain.
func (r *Remote) Report(ctx context.Context) (adapter.Receipt, error) {
	snap := r.Pool.Snapshot()
	receipt, err := r.Adapter.SendSnapshot(ctx, r.self, r.home, snap, r.options, r.reportFee)
	if err != nil {
		return adapter.Receipt{}, err
	}
	r.log.Debug("reported snapshot",
		log.Stringer("chain", snap.ChainID),
		log.Uint64("timestamp", snap.Timestamp),
		log.String("shareSupply", snap.ShareSupply.String()),
		log.String("underlyingBalance", snap.UnderlyingBalance.String()),
	)
	return receipt, nil
}

// Run reports on every interval until ctx is cancelled.
func (r *Remote) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return every(ctx, r.interval, r.ReportOnce)
	})
	return g.Wait()
}

// ReportOnce sends one snapshot and logs a failure instead of returning it
// unless the failure is fatal.
func (r *Remote) ReportOnce(ctx context.Context) error {
	if _, err := r.Report(ctx); err != nil {
		logOutcome(r.log, "snapshot report failed", err)
		if Classify(err) == Fatal {
			return err
		}
	}
	return nil
}

// Operator is the caller configured to manage the pool's capital.
func (r *Remote) Operator() access.Caller { return r.operator }
