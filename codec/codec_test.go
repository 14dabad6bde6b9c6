// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectorsMatchABI(t *testing.T) {
	require.Equal(t, messagesABI.Methods["snapshot"].ID, SnapshotSelector)
	require.Equal(t, messagesABI.Methods["value"].ID, ValueSelector)
}

func TestSnapshotMessage(t *testing.T) {
	supply, _ := new(big.Int).SetString("123456789000000000000", 10)
	balance := big.NewInt(42)

	payload, err := EncodeSnapshot(1_700_000_000, supply, balance)
	require.NoError(t, err)
	require.Len(t, payload, 4+3*32)

	msg, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, KindSnapshot, msg.Kind)
	require.Equal(t, uint64(1_700_000_000), msg.Timestamp)
	require.Zero(t, msg.ShareSupply.Cmp(supply))
	require.Zero(t, msg.UnderlyingBalance.Cmp(balance))
}

func TestValueMessage(t *testing.T) {
	msg, err := Decode(EncodeValue())
	require.NoError(t, err)
	require.Equal(t, KindValue, msg.Kind)

	msg, err = Decode(nil)
	require.NoError(t, err)
	require.Equal(t, KindValue, msg.Kind)
}

func TestDecodeErrors(t *testing.T) {
	payload, err := EncodeSnapshot(1, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
		err     error
	}{
		{"short selector", []byte{1, 2}, ErrMalformedPayload},
		{"unknown selector", []byte{0xde, 0xad, 0xbe, 0xef}, ErrUnknownSelector},
		{"truncated snapshot", payload[:len(payload)-1], ErrMalformedPayload},
		{"short snapshot", payload[:len(payload)-32], ErrMalformedPayload},
		{"extra snapshot word", append(append([]byte{}, payload...), make([]byte, 32)...), ErrMalformedPayload},
		{"value with data", append(EncodeValue(), 0), ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestTimestampOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 64)
	payload, err := messagesABI.Pack("snapshot", huge, big.NewInt(1), big.NewInt(1))
	require.NoError(t, err)

	_, err = Decode(payload)
	require.ErrorIs(t, err, ErrMalformedPayload)
}
