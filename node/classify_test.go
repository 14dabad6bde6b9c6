// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnivault/access"
	"github.com/luxfi/omnivault/adapter"
	"github.com/luxfi/omnivault/bonding"
	"github.com/luxfi/omnivault/codec"
	"github.com/luxfi/omnivault/ledger"
	"github.com/luxfi/omnivault/pool"
	"github.com/luxfi/omnivault/reconciler"
	"github.com/luxfi/omnivault/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, Unknown},
		{"unrelated", errors.New("boom"), Unknown},
		{"min amount", pool.ErrLowerMinAmount, Validation},
		{"malformed payload", fmt.Errorf("decoding: %w", codec.ErrMalformedPayload), Validation},
		{"stale timestamp", ledger.ErrTimeBeforePrevRecord, Ordering},
		{"replay", adapter.ErrReplayedMessage, Ordering},
		{"missing chain", &reconciler.ChainError{Chain: types.ChainID(3), Err: reconciler.ErrMissingChainData}, Completeness},
		{"stale chain", &reconciler.ChainError{Chain: types.ChainID(3), Err: reconciler.ErrStaleChainData}, Ordering},
		{"noop", reconciler.ErrNoRebalancingRequired, Idempotence},
		{"capacity", bonding.ErrInsufficientCapacity, Capacity},
		{"strategy", reconciler.ErrExceedsCapacity, Capacity},
		{"owner", access.ErrOnlyOwnerAllowed, Authorization},
		{"unknown peer", adapter.ErrUnknownPeer, Authorization},
		{"backing", fmt.Errorf("burn: %w", reconciler.ErrInsufficientBackingBalance), Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassString(t *testing.T) {
	require.Equal(t, "completeness", Completeness.String())
	require.Equal(t, "unknown", Class(200).String())
}
