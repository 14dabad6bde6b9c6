// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package memtransport is an in-process transport. Sent packets wait in a
// queue until the test delivers, drops, duplicates or reorders them.
package memtransport

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/omnivault/transport"
	"github.com/luxfi/omnivault/types"
)

var ErrNoPacket = errors.New("no such packet")

var _ transport.Transport = (*Network)(nil)

type Network struct {
	fees transport.FeeSchedule

	mu        sync.Mutex
	receivers map[types.EID]transport.Receiver
	queue     []*transport.Packet
	collected *big.Int
}

func New(fees transport.FeeSchedule) *Network {
	return &Network{
		fees:      fees,
		receivers: make(map[types.EID]transport.Receiver),
		collected: new(big.Int),
	}
}

// Attach makes r the receiver for packets addressed to eid.
func (n *Network) Attach(eid types.EID, r transport.Receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receivers[eid] = r
}

func (n *Network) Quote(_ context.Context, dst types.EID, payload, options []byte) (*big.Int, error) {
	n.mu.Lock()
	_, ok := n.receivers[dst]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrUnknownEndpoint, dst)
	}
	return n.fees.Fee(payload, options)
}

func (n *Network) Send(ctx context.Context, pkt *transport.Packet, fee *big.Int) error {
	quote, err := n.Quote(ctx, pkt.DstEID, pkt.Payload, pkt.Options)
	if err != nil {
		return err
	}
	if fee == nil || fee.Cmp(quote) < 0 {
		return fmt.Errorf("%w: paid %v, quoted %s", transport.ErrFeeTooLow, fee, quote)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(n.queue, pkt.Clone())
	n.collected.Add(n.collected, fee)
	return nil
}

// Pending returns copies of the queued packets in send order.
func (n *Network) Pending() []*transport.Packet {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*transport.Packet, len(n.queue))
	for i, p := range n.queue {
		out[i] = p.Clone()
	}
	return out
}

// Collected returns the total fees paid into the network.
func (n *Network) Collected() *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(big.Int).Set(n.collected)
}

// DeliverNext delivers the oldest queued packet.
func (n *Network) DeliverNext(ctx context.Context) error {
	return n.DeliverAt(ctx, 0)
}

// DeliverAt removes packet i from the queue and hands it to its receiver.
// The packet is consumed even when the receiver rejects it.
func (n *Network) DeliverAt(ctx context.Context, i int) error {
	n.mu.Lock()
	pkt, err := n.take(i)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	r, ok := n.receivers[pkt.DstEID]
	n.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownEndpoint, pkt.DstEID)
	}
	return r.Receive(ctx, pkt)
}

// DeliverAll delivers until the queue is empty, including packets sent
// while delivering. Receiver errors are collected, not fatal.
func (n *Network) DeliverAll(ctx context.Context) error {
	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		err := n.DeliverNext(ctx)
		if errors.Is(err, ErrNoPacket) {
			return errors.Join(errs...)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
}

// Drop discards packet i.
func (n *Network) Drop(i int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := n.take(i)
	return err
}

// Duplicate appends a copy of packet i to the queue.
func (n *Network) Duplicate(i int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i < 0 || i >= len(n.queue) {
		return fmt.Errorf("%w: %d of %d", ErrNoPacket, i, len(n.queue))
	}
	n.queue = append(n.queue, n.queue[i].Clone())
	return nil
}

// take must be called with the lock held.
func (n *Network) take(i int) (*transport.Packet, error) {
	if i < 0 || i >= len(n.queue) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoPacket, i, len(n.queue))
	}
	pkt := n.queue[i]
	n.queue = append(n.queue[:i], n.queue[i+1:]...)
	return pkt, nil
}
