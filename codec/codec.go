// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package codec encodes the messages exchanged between adapters as ABI
// calldata: a 4-byte selector followed by 32-byte words.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/accounts/abi"
)

const rawABI = `[
	{"type":"function","name":"snapshot","inputs":[
		{"name":"timestamp","type":"uint256"},
		{"name":"shareSupply","type":"uint256"},
		{"name":"underlyingBalance","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"value","inputs":[],"outputs":[]}
]`

var (
	ErrUnknownSelector  = errors.New("unknown selector")
	ErrMalformedPayload = errors.New("malformed payload")

	messagesABI = parseABI(rawABI)

	SnapshotSelector = selector("snapshot(uint256,uint256,uint256)")
	ValueSelector    = selector("value()")
)

// Kind identifies a decoded message.
type Kind uint8

const (
	KindSnapshot Kind = iota + 1
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindValue:
		return "value"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is a decoded payload. Only snapshot messages carry fields; the
// amount of a value message travels with the transport packet.
type Message struct {
	Kind              Kind
	Timestamp         uint64
	ShareSupply       *big.Int
	UnderlyingBalance *big.Int
}

func EncodeSnapshot(timestamp uint64, shareSupply, underlyingBalance *big.Int) ([]byte, error) {
	return messagesABI.Pack("snapshot", new(big.Int).SetUint64(timestamp), shareSupply, underlyingBalance)
}

func EncodeValue() []byte {
	return bytes.Clone(ValueSelector)
}

// Decode parses a payload. An empty payload is a bare value transfer.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return Message{Kind: KindValue}, nil
	}
	if len(payload) < 4 {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrMalformedPayload, len(payload))
	}

	sel, data := payload[:4], payload[4:]
	switch {
	case bytes.Equal(sel, ValueSelector):
		if len(data) != 0 {
			return Message{}, fmt.Errorf("%w: value message carries %d bytes", ErrMalformedPayload, len(data))
		}
		return Message{Kind: KindValue}, nil

	case bytes.Equal(sel, SnapshotSelector):
		args, err := messagesABI.unpackInput("snapshot", data)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		ts := args[0].(*big.Int)
		if !ts.IsUint64() {
			return Message{}, fmt.Errorf("%w: timestamp %s", ErrMalformedPayload, ts)
		}
		return Message{
			Kind:              KindSnapshot,
			Timestamp:         ts.Uint64(),
			ShareSupply:       args[1].(*big.Int),
			UnderlyingBalance: args[2].(*big.Int),
		}, nil

	default:
		return Message{}, fmt.Errorf("%w: %x", ErrUnknownSelector, sel)
	}
}

type extendedABI struct {
	abi.ABI
}

func parseABI(raw string) extendedABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI: %v", err))
	}
	return extendedABI{ABI: parsed}
}

// unpackInput rejects data that is not a whole number of words or does not
// match the argument count exactly.
func (e extendedABI) unpackInput(name string, data []byte) ([]interface{}, error) {
	method, exist := e.Methods[name]
	if !exist {
		return nil, fmt.Errorf("method '%s' not found", name)
	}
	if len(data)%32 != 0 {
		return nil, fmt.Errorf("abi: improperly formatted input of %d bytes", len(data))
	}
	if want := 32 * len(method.Inputs); len(data) != want {
		return nil, fmt.Errorf("abi: expected %d bytes, got %d", want, len(data))
	}
	return method.Inputs.Unpack(data)
}

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}
