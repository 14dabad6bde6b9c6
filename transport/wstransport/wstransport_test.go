// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wstransport

import (
	"context"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnivault/transport"
	"github.com/luxfi/omnivault/types"
)

type chanReceiver chan *transport.Packet

func (c chanReceiver) Receive(_ context.Context, pkt *transport.Packet) error {
	select {
	case c <- pkt:
	default:
	}
	return nil
}

func startRelay(t *testing.T) (*Relay, string) {
	t.Helper()
	relay := NewRelay(nil)
	srv := httptest.NewServer(relay)
	t.Cleanup(func() {
		relay.Close()
		srv.Close()
	})
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, eid types.EID, fees transport.FeeSchedule) (*Client, chanReceiver) {
	t.Helper()
	recv := make(chanReceiver, 8)
	c, err := Dial(context.Background(), url, eid, fees, recv, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, recv
}

func TestRelayRoutesByDestination(t *testing.T) {
	ctx := context.Background()
	relay, url := startRelay(t)

	a, _ := dial(t, url, 1, transport.FeeSchedule{})
	_, recvB := dial(t, url, 2, transport.FeeSchedule{})
	_, recvC := dial(t, url, 3, transport.FeeSchedule{})
	require.Eventually(t, func() bool {
		return relay.Connected(1) && relay.Connected(2) && relay.Connected(3)
	}, 5*time.Second, 10*time.Millisecond)

	pkt := &transport.Packet{
		GUID:     common.HexToHash("0x1234"),
		Nonce:    7,
		SrcEID:   1,
		DstEID:   2,
		Sender:   common.HexToAddress("0xa"),
		Receiver: common.HexToAddress("0xb"),
		Payload:  []byte{0xca, 0xfe},
		Value:    big.NewInt(99),
	}
	require.NoError(t, a.Send(ctx, pkt, new(big.Int)))

	select {
	case got := <-recvB:
		require.Equal(t, pkt.GUID, got.GUID)
		require.Equal(t, pkt.Nonce, got.Nonce)
		require.Equal(t, pkt.Sender, got.Sender)
		require.Equal(t, pkt.Payload, got.Payload)
		require.Zero(t, got.Value.Cmp(big.NewInt(99)))
	case <-time.After(5 * time.Second):
		t.Fatal("packet not delivered")
	}
	require.Empty(t, recvC)
}

func TestClientChargesQuote(t *testing.T) {
	ctx := context.Background()
	_, url := startRelay(t)

	fees := transport.FeeSchedule{Base: big.NewInt(10), PerByte: big.NewInt(1)}
	c, _ := dial(t, url, 1, fees)

	fee, err := c.Quote(ctx, 2, []byte{1, 2}, nil)
	require.NoError(t, err)
	require.Zero(t, fee.Cmp(big.NewInt(12)))

	pkt := &transport.Packet{SrcEID: 1, DstEID: 2, Payload: []byte{1, 2}}
	require.ErrorIs(t, c.Send(ctx, pkt, big.NewInt(11)), transport.ErrFeeTooLow)
	require.NoError(t, c.Send(ctx, pkt, big.NewInt(12)))
}

func TestSendAfterClose(t *testing.T) {
	_, url := startRelay(t)
	c, _ := dial(t, url, 1, transport.FeeSchedule{})
	require.NoError(t, c.Close())

	err := c.Send(context.Background(), &transport.Packet{DstEID: 2}, new(big.Int))
	require.ErrorIs(t, err, transport.ErrClosed)
}

func TestReconnectReplacesEndpoint(t *testing.T) {
	ctx := context.Background()
	relay, url := startRelay(t)

	a, _ := dial(t, url, 1, transport.FeeSchedule{})
	dial(t, url, 2, transport.FeeSchedule{})
	require.Eventually(t, func() bool { return relay.Connected(1) && relay.Connected(2) }, 5*time.Second, 10*time.Millisecond)

	_, second := dial(t, url, 2, transport.FeeSchedule{})
	// The replaced connection is closed by the relay; wait for the new one
	// to be the registered endpoint by round-tripping a packet.
	require.Eventually(t, func() bool {
		if err := a.Send(ctx, &transport.Packet{SrcEID: 1, DstEID: 2}, new(big.Int)); err != nil {
			return false
		}
		select {
		case <-second:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
