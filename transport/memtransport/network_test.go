// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package memtransport

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnivault/transport"
	"github.com/luxfi/omnivault/types"
)

type recorder struct {
	got  []uint64
	fail error
}

func (r *recorder) Receive(_ context.Context, pkt *transport.Packet) error {
	r.got = append(r.got, pkt.Nonce)
	return r.fail
}

func packet(nonce uint64, dst types.EID) *transport.Packet {
	return &transport.Packet{Nonce: nonce, SrcEID: 1, DstEID: dst, Payload: []byte{1, 2, 3}}
}

func TestQuoteAndFees(t *testing.T) {
	ctx := context.Background()
	n := New(transport.FeeSchedule{Base: big.NewInt(100), PerByte: big.NewInt(2)})
	n.Attach(2, &recorder{})

	fee, err := n.Quote(ctx, 2, []byte{1, 2, 3}, nil)
	require.NoError(t, err)
	require.Zero(t, fee.Cmp(big.NewInt(106)))

	_, err = n.Quote(ctx, 9, nil, nil)
	require.ErrorIs(t, err, transport.ErrUnknownEndpoint)

	require.ErrorIs(t, n.Send(ctx, packet(1, 2), big.NewInt(105)), transport.ErrFeeTooLow)
	require.Empty(t, n.Pending())

	require.NoError(t, n.Send(ctx, packet(1, 2), big.NewInt(106)))
	require.Len(t, n.Pending(), 1)
	require.Zero(t, n.Collected().Cmp(big.NewInt(106)))
}

func TestNativeValueIsQuoted(t *testing.T) {
	n := New(transport.FeeSchedule{
		Base: big.NewInt(1),
		NativeValue: func(options []byte) (*big.Int, error) {
			return big.NewInt(int64(options[0])), nil
		},
	})
	n.Attach(2, &recorder{})

	fee, err := n.Quote(context.Background(), 2, nil, []byte{50})
	require.NoError(t, err)
	require.Zero(t, fee.Cmp(big.NewInt(51)))
}

func TestDeliveryControl(t *testing.T) {
	ctx := context.Background()
	n := New(transport.FeeSchedule{})
	r := &recorder{}
	n.Attach(2, r)

	for nonce := uint64(1); nonce <= 4; nonce++ {
		require.NoError(t, n.Send(ctx, packet(nonce, 2), new(big.Int)))
	}

	require.NoError(t, n.DeliverAt(ctx, 2))
	require.NoError(t, n.Drop(0))
	require.NoError(t, n.Duplicate(0))
	require.NoError(t, n.DeliverAll(ctx))

	require.Equal(t, []uint64{3, 2, 4, 2}, r.got)
	require.Empty(t, n.Pending())
	require.ErrorIs(t, n.DeliverNext(ctx), ErrNoPacket)
	require.ErrorIs(t, n.Drop(0), ErrNoPacket)
}

func TestRejectedPacketIsConsumed(t *testing.T) {
	ctx := context.Background()
	n := New(transport.FeeSchedule{})
	errRejected := errors.New("rejected")
	n.Attach(2, &recorder{fail: errRejected})

	require.NoError(t, n.Send(ctx, packet(1, 2), new(big.Int)))
	require.NoError(t, n.Send(ctx, packet(2, 2), new(big.Int)))

	require.ErrorIs(t, n.DeliverAll(ctx), errRejected)
	require.Empty(t, n.Pending())
}

func TestPendingReturnsCopies(t *testing.T) {
	ctx := context.Background()
	n := New(transport.FeeSchedule{})
	n.Attach(2, &recorder{})
	require.NoError(t, n.Send(ctx, packet(1, 2), new(big.Int)))

	n.Pending()[0].Payload[0] = 0xff
	require.Equal(t, byte(1), n.Pending()[0].Payload[0])
}
