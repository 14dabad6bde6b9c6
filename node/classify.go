// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"errors"

	"github.com/luxfi/log"

	"github.com/luxfi/omnivault/access"
	"github.com/luxfi/omnivault/adapter"
	"github.com/luxfi/omnivault/bonding"
	"github.com/luxfi/omnivault/codec"
	"github.com/luxfi/omnivault/curve"
	"github.com/luxfi/omnivault/ledger"
	"github.com/luxfi/omnivault/pool"
	"github.com/luxfi/omnivault/reconciler"
	"github.com/luxfi/omnivault/strategy"
	"github.com/luxfi/omnivault/token"
)

// Class groups errors by how a caller should react to them.
type Class uint8

const (
	Unknown Class = iota
	// Validation errors reject the input and never mutate state.
	Validation
	// Ordering errors reject one inbound record; other chains are unaffected.
	Ordering
	// Completeness errors block reconciliation until every chain reports.
	Completeness
	// Idempotence means there was nothing to do.
	Idempotence
	// Capacity errors clear once the caller retries smaller or waits.
	Capacity
	// Authorization errors are never retried automatically.
	Authorization
	// Fatal errors indicate an accounting bug upstream.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Validation:
		return "validation"
	case Ordering:
		return "ordering"
	case Completeness:
		return "completeness"
	case Idempotence:
		return "idempotence"
	case Capacity:
		return "capacity"
	case Authorization:
		return "authorization"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var classes = []struct {
	class Class
	errs  []error
}{
	{Fatal, []error{
		reconciler.ErrInsufficientBackingBalance,
		ledger.ErrStateCorrupted,
		token.ErrStateCorrupted,
	}},
	{Idempotence, []error{reconciler.ErrNoRebalancingRequired}},
	{Completeness, []error{reconciler.ErrMissingChainData}},
	{Ordering, []error{
		ledger.ErrTimeBeforePrevRecord,
		ledger.ErrTimeInFuture,
		reconciler.ErrStaleChainData,
		adapter.ErrReplayedMessage,
	}},
	{Authorization, []error{
		access.ErrOnlyOwnerAllowed,
		access.ErrOnlyOperatorAllowed,
		ledger.ErrUnauthorizedSender,
		adapter.ErrUnknownPeer,
		adapter.ErrNotTargetReceiver,
		adapter.ErrInvalidGUID,
	}},
	{Capacity, []error{
		bonding.ErrInsufficientCapacity,
		strategy.ErrExceedsBalance,
		strategy.ErrExceedsCapacity,
		pool.ErrInsufficientShares,
		adapter.ErrInsufficientFee,
	}},
	{Validation, []error{
		pool.ErrLowerMinAmount,
		pool.ErrInvalidAddress,
		pool.ErrZeroShares,
		curve.ErrParameterExceedsLimits,
		curve.ErrInconsistentData,
		codec.ErrMalformedPayload,
		codec.ErrUnknownSelector,
		adapter.ErrUnknownChain,
		adapter.ErrInvalidValue,
		ledger.ErrChainNotRegistered,
		ledger.ErrChainAlreadyRegistered,
		ledger.ErrInvalidRoute,
		token.ErrInsufficientBalance,
		reconciler.ErrUpdatesPaused,
		ErrUnexpectedMessage,
	}},
}

// Classify maps err onto its class.
func Classify(err error) Class {
	if err == nil {
		return Unknown
	}
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return Unknown
}

// logOutcome logs err at the level its class calls for.
func logOutcome(logger log.Logger, msg string, err error) {
	class := Classify(err)
	switch class {
	case Idempotence:
		logger.Debug(msg, log.Stringer("class", class), log.Err(err))
	case Fatal, Unknown:
		logger.Error(msg, log.Stringer("class", class), log.Err(err))
	default:
		logger.Warn(msg, log.Stringer("class", class), log.Err(err))
	}
}
