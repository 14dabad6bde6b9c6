// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package types holds the identifiers, scaling constants and snapshot
// record shared by every omnivault component.
package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ChainID identifies a remote ledger. Ordering is irrelevant.
type ChainID uint32

func (c ChainID) String() string {
	return fmt.Sprintf("chain-%d", uint32(c))
}

// EID identifies a transport endpoint. The adapter maps EIDs to ChainIDs.
type EID uint32

func (e EID) String() string {
	return fmt.Sprintf("eid-%d", uint32(e))
}

// Scaling constants
const (
	// MaxPercent is 100% in the fixed-point percentage scale.
	MaxPercent uint64 = 10_000_000_000

	// RatioScale is the scale of the share/asset exchange ratio.
	RatioScale uint64 = 1_000_000_000_000_000_000
)

var (
	MaxPercentBig = new(big.Int).SetUint64(MaxPercent)
	RatioScaleBig = new(big.Int).SetUint64(RatioScale)

	// MaxPercentSquared undoes the double percentage scaling of a curve integral.
	MaxPercentSquared = new(big.Int).Mul(MaxPercentBig, MaxPercentBig)
)

var (
	ErrAmountOverflow  = errors.New("amount exceeds 256 bits")
	ErrNegativeAmount  = errors.New("amount is negative")
	ErrInvalidSnapshot = errors.New("invalid snapshot encoding")
)

// CheckAmount rejects values that cannot be represented as an unsigned
// 256-bit word.
func CheckAmount(v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return ErrNegativeAmount
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return ErrAmountOverflow
	}
	return nil
}

// Snapshot is a remote vault's self-reported state as of Timestamp.
type Snapshot struct {
	ChainID           ChainID
	Timestamp         uint64
	UnderlyingBalance *big.Int
	ShareSupply       *big.Int
}

// ZeroSnapshot is returned for chains that have never reported.
func ZeroSnapshot(chain ChainID) Snapshot {
	return Snapshot{
		ChainID:           chain,
		UnderlyingBalance: new(big.Int),
		ShareSupply:       new(big.Int),
	}
}

// IsZero reports whether the snapshot is the never-reported sentinel.
func (s Snapshot) IsZero() bool {
	return s.Timestamp == 0
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{ChainID: s.ChainID, Timestamp: s.Timestamp}
	out.UnderlyingBalance = cloneOrZero(s.UnderlyingBalance)
	out.ShareSupply = cloneOrZero(s.ShareSupply)
	return out
}

const snapshotLen = 8 + 32 + 32

// Bytes encodes the snapshot as timestamp || balance || supply.
// The chain ID is not part of the encoding; it is the storage key.
func (s Snapshot) Bytes() []byte {
	buf := make([]byte, snapshotLen)
	binary.BigEndian.PutUint64(buf[0:8], s.Timestamp)

	balance, _ := uint256.FromBig(cloneOrZero(s.UnderlyingBalance))
	supply, _ := uint256.FromBig(cloneOrZero(s.ShareSupply))
	b := balance.Bytes32()
	copy(buf[8:40], b[:])
	sp := supply.Bytes32()
	copy(buf[40:72], sp[:])
	return buf
}

// ParseSnapshot decodes a snapshot produced by Bytes.
func ParseSnapshot(chain ChainID, data []byte) (Snapshot, error) {
	if len(data) != snapshotLen {
		return Snapshot{}, fmt.Errorf("%w: length %d", ErrInvalidSnapshot, len(data))
	}
	var balance, supply uint256.Int
	balance.SetBytes32(data[8:40])
	supply.SetBytes32(data[40:72])
	return Snapshot{
		ChainID:           chain,
		Timestamp:         binary.BigEndian.Uint64(data[0:8]),
		UnderlyingBalance: balance.ToBig(),
		ShareSupply:       supply.ToBig(),
	}, nil
}

// MinBig returns the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
