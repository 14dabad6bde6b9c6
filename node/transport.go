// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"errors"
	"sync"

	"github.com/luxfi/log"

	"github.com/luxfi/omnivault/adapter"
	"github.com/luxfi/omnivault/config"
	"github.com/luxfi/omnivault/transport"
	"github.com/luxfi/omnivault/transport/wstransport"
	"github.com/luxfi/omnivault/types"
)

var ErrNotBound = errors.New("inbox not bound")

var _ transport.Receiver = (*Inbox)(nil)

// Inbox forwards received packets to a receiver bound after the transport
// is connected. The adapter needs the transport to exist before it does.
type Inbox struct {
	mu       sync.RWMutex
	receiver transport.Receiver
}

func (i *Inbox) Bind(r transport.Receiver) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.receiver = r
}

func (i *Inbox) Receive(ctx context.Context, pkt *transport.Packet) error {
	i.mu.RLock()
	r := i.receiver
	i.mu.RUnlock()
	if r == nil {
		return ErrNotBound
	}
	return r.Receive(ctx, pkt)
}

// Dial connects cfg's endpoint to its relay. Bind the returned inbox to the
// node's adapter once the node is built.
func Dial(ctx context.Context, cfg config.Config, logger log.Logger) (*wstransport.Client, *Inbox, error) {
	base, err := config.ParseAmount("transport.baseFee", cfg.Transport.BaseFee)
	if err != nil {
		return nil, nil, err
	}
	perByte, err := config.ParseAmount("transport.perByteFee", cfg.Transport.PerByteFee)
	if err != nil {
		return nil, nil, err
	}
	inbox := &Inbox{}
	client, err := wstransport.Dial(ctx, cfg.Transport.RelayURL, types.EID(cfg.EID), transport.FeeSchedule{
		Base:        base,
		PerByte:     perByte,
		NativeValue: adapter.NativeValue,
	}, inbox, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, inbox, nil
}
