// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport defines the message-passing boundary between chains.
//
// A transport accepts a packet, charges a fee and delivers the packet to
// the receiver attached at the destination endpoint at some later time, or
// never. Delivery order between different endpoints is not guaranteed.
package transport

import (
	"context"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/omnivault/types"
)

var (
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	ErrFeeTooLow       = errors.New("fee below quote")
	ErrClosed          = errors.New("transport closed")
)

// Packet is a single cross-chain message.
type Packet struct {
	GUID     common.Hash    `json:"guid"`
	Nonce    uint64         `json:"nonce"`
	SrcEID   types.EID      `json:"srcEid"`
	DstEID   types.EID      `json:"dstEid"`
	Sender   common.Address `json:"sender"`
	Receiver common.Address `json:"receiver"`
	Payload  []byte         `json:"payload"`
	Options  []byte         `json:"options"`
	Value    *big.Int       `json:"value,omitempty"`
}

// Clone returns a deep copy of p.
func (p *Packet) Clone() *Packet {
	c := *p
	c.Payload = append([]byte(nil), p.Payload...)
	c.Options = append([]byte(nil), p.Options...)
	if p.Value != nil {
		c.Value = new(big.Int).Set(p.Value)
	}
	return &c
}

// Transport sends packets to remote endpoints.
type Transport interface {
	// Quote returns the fee for sending payload with options to dst.
	Quote(ctx context.Context, dst types.EID, payload, options []byte) (*big.Int, error)

	// Send queues pkt for delivery, paying fee.
	Send(ctx context.Context, pkt *Packet, fee *big.Int) error
}

// Receiver handles packets delivered to an endpoint.
type Receiver interface {
	Receive(ctx context.Context, pkt *Packet) error
}

// NativeValueFunc extracts the native value requested by an options blob.
type NativeValueFunc func(options []byte) (*big.Int, error)

// FeeSchedule prices messages as Base + PerByte*len(payload) plus any
// native value the options ask the transport to deliver.
type FeeSchedule struct {
	Base        *big.Int
	PerByte     *big.Int
	NativeValue NativeValueFunc
}

func (f FeeSchedule) Fee(payload, options []byte) (*big.Int, error) {
	fee := new(big.Int)
	if f.Base != nil {
		fee.Add(fee, f.Base)
	}
	if f.PerByte != nil {
		fee.Add(fee, new(big.Int).Mul(f.PerByte, big.NewInt(int64(len(payload)))))
	}
	if f.NativeValue != nil && len(options) > 0 {
		v, err := f.NativeValue(options)
		if err != nil {
			return nil, err
		}
		fee.Add(fee, v)
	}
	return fee, nil
}
