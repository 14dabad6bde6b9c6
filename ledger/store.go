// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/omnivault/types"
)

// Database prefixes
var (
	prefixChain    = []byte("chain:")
	prefixSnapshot = []byte("snapshot:")
	prefixRoute    = []byte("route:")
	keyDefault     = []byte("defaultRoute")
	keySequence    = []byte("sequence")
)

func chainKey(prefix []byte, chain types.ChainID) []byte {
	key := make([]byte, len(prefix)+4)
	copy(key, prefix)
	binary.BigEndian.PutUint32(key[len(prefix):], uint32(chain))
	return key
}

func parseChainKey(prefix, key []byte) (types.ChainID, error) {
	if len(key) != len(prefix)+4 {
		return 0, fmt.Errorf("%w: key length %d", ErrStateCorrupted, len(key))
	}
	return types.ChainID(binary.BigEndian.Uint32(key[len(prefix):])), nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

type registration struct {
	chain types.ChainID
	seq   uint64
}

// load restores registrations, snapshots and routes. Must be called before
// the ledger is shared.
func (l *Ledger) load() error {
	seq, err := l.db.Get(keySequence)
	switch {
	case err == nil:
		if len(seq) != 8 {
			return fmt.Errorf("%w: sequence length %d", ErrStateCorrupted, len(seq))
		}
		l.seq = binary.BigEndian.Uint64(seq)
	case !errors.Is(err, database.ErrNotFound):
		return err
	}

	var regs []registration
	if err := l.iterate(prefixChain, func(chain types.ChainID, value []byte) error {
		if len(value) != 8 {
			return fmt.Errorf("%w: registration length %d", ErrStateCorrupted, len(value))
		}
		regs = append(regs, registration{chain: chain, seq: binary.BigEndian.Uint64(value)})
		return nil
	}); err != nil {
		return err
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })
	for _, r := range regs {
		l.chains = append(l.chains, r.chain)
		l.registered[r.chain] = struct{}{}
	}

	if err := l.iterate(prefixSnapshot, func(chain types.ChainID, value []byte) error {
		s, err := types.ParseSnapshot(chain, value)
		if err != nil {
			return err
		}
		l.snapshots[chain] = s
		return nil
	}); err != nil {
		return err
	}

	if err := l.iterate(prefixRoute, func(chain types.ChainID, value []byte) error {
		l.routes[chain] = common.BytesToAddress(value)
		return nil
	}); err != nil {
		return err
	}

	def, err := l.db.Get(keyDefault)
	switch {
	case err == nil:
		l.defaultRoute = common.BytesToAddress(def)
	case !errors.Is(err, database.ErrNotFound):
		return err
	}
	return nil
}

func (l *Ledger) iterate(prefix []byte, fn func(types.ChainID, []byte) error) error {
	it := l.db.NewIteratorWithPrefix(prefix)
	defer it.Release()

	for it.Next() {
		chain, err := parseChainKey(prefix, it.Key())
		if err != nil {
			return err
		}
		if err := fn(chain, it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}
