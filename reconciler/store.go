// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reconciler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
)

var (
	keyIdle          = []byte("idle")
	keyInfoMaxDelay  = []byte("infoMaxDelay")
	keyUpdateEnabled = []byte("updateEnabled")
)

// load overrides the configured values with whatever was persisted by an
// earlier run.
func (r *Reconciler) load() error {
	if err := r.get(keyIdle, func(v []byte) error {
		r.idle = new(uint256.Int).SetBytes(v).ToBig()
		return nil
	}); err != nil {
		return err
	}
	if err := r.get(keyInfoMaxDelay, func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("corrupt info max delay: %d bytes", len(v))
		}
		r.infoMaxDelay = time.Duration(binary.BigEndian.Uint64(v))
		return nil
	}); err != nil {
		return err
	}
	return r.get(keyUpdateEnabled, func(v []byte) error {
		r.updateEnabled = len(v) == 1 && v[0] == 1
		return nil
	})
}

func (r *Reconciler) get(key []byte, fn func([]byte) error) error {
	v, err := r.db.Get(key)
	switch {
	case err == nil:
		return fn(v)
	case errors.Is(err, database.ErrNotFound):
		return nil
	default:
		return err
	}
}

func word(v *big.Int) []byte {
	w, _ := uint256.FromBig(v)
	b := w.Bytes32()
	return b[:]
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
