// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wstransport carries packets between chains over websockets. A
// Relay accepts one connection per endpoint and forwards each packet to the
// connection registered for its destination; a Client is the endpoint side.
package wstransport

import (
	"time"

	"github.com/luxfi/omnivault/transport"
	"github.com/luxfi/omnivault/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueueSize  = 256
)

const (
	frameHello  = "hello"
	framePacket = "packet"
)

type frame struct {
	Type   string            `json:"type"`
	EID    types.EID         `json:"eid,omitempty"`
	Packet *transport.Packet `json:"packet,omitempty"`
}
