// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Executor options use the type-3 layout:
//
//	uint16 type (3)
//	repeated: uint8 worker | uint16 size | uint8 option | params[size-1]
//
// Only the executor receive option is understood: params are a uint128 gas
// limit optionally followed by a uint128 native value.
const (
	optionsType3     = 3
	executorWorkerID = 1
	optionLzReceive  = 1
	u128Len          = 16
)

var ErrInvalidOptions = errors.New("invalid executor options")

// ExecutionOptions describes how the destination should execute a message.
type ExecutionOptions struct {
	GasLimit    uint64
	NativeValue *big.Int
}

func (o ExecutionOptions) Encode() ([]byte, error) {
	params := make([]byte, u128Len, 2*u128Len)
	binary.BigEndian.PutUint64(params[u128Len-8:], o.GasLimit)
	if o.NativeValue != nil && o.NativeValue.Sign() != 0 {
		v, overflow := uint256.FromBig(o.NativeValue)
		if overflow || o.NativeValue.Sign() < 0 || v.BitLen() > 8*u128Len {
			return nil, fmt.Errorf("%w: native value %s", ErrInvalidOptions, o.NativeValue)
		}
		word := v.Bytes32()
		params = append(params, word[32-u128Len:]...)
	}

	out := make([]byte, 0, 2+4+len(params))
	out = binary.BigEndian.AppendUint16(out, optionsType3)
	out = append(out, executorWorkerID)
	out = binary.BigEndian.AppendUint16(out, uint16(len(params)+1))
	out = append(out, optionLzReceive)
	return append(out, params...), nil
}

// DecodeOptions parses type-3 options, summing repeated receive options.
func DecodeOptions(data []byte) (ExecutionOptions, error) {
	opts := ExecutionOptions{NativeValue: new(big.Int)}
	if len(data) == 0 {
		return opts, nil
	}
	if len(data) < 2 || binary.BigEndian.Uint16(data) != optionsType3 {
		return ExecutionOptions{}, fmt.Errorf("%w: unsupported type", ErrInvalidOptions)
	}
	for rest := data[2:]; len(rest) > 0; {
		if len(rest) < 4 {
			return ExecutionOptions{}, fmt.Errorf("%w: truncated header", ErrInvalidOptions)
		}
		worker, size, option := rest[0], int(binary.BigEndian.Uint16(rest[1:3])), rest[3]
		if size == 0 || len(rest) < 3+size {
			return ExecutionOptions{}, fmt.Errorf("%w: truncated option", ErrInvalidOptions)
		}
		params := rest[4 : 3+size]
		rest = rest[3+size:]

		if worker != executorWorkerID || option != optionLzReceive {
			continue
		}
		switch len(params) {
		case u128Len, 2 * u128Len:
		default:
			return ExecutionOptions{}, fmt.Errorf("%w: receive option of %d bytes", ErrInvalidOptions, len(params))
		}
		gas := new(big.Int).SetBytes(params[:u128Len])
		if !gas.IsUint64() {
			return ExecutionOptions{}, fmt.Errorf("%w: gas limit %s", ErrInvalidOptions, gas)
		}
		opts.GasLimit += gas.Uint64()
		if len(params) == 2*u128Len {
			opts.NativeValue.Add(opts.NativeValue, new(big.Int).SetBytes(params[u128Len:]))
		}
	}
	return opts, nil
}

// NativeValue returns the native value requested by encoded options. It
// is suitable as a transport.NativeValueFunc.
func NativeValue(options []byte) (*big.Int, error) {
	opts, err := DecodeOptions(options)
	if err != nil {
		return nil, err
	}
	return opts.NativeValue, nil
}
