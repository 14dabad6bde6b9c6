// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pool

import (
	"sync"

	"github.com/axiomhq/hyperloglog"
	"github.com/luxfi/geth/common"
)

// depositorSet estimates how many distinct accounts have deposited.
// New14 keeps the sketch at about 16KB with a 0.8% standard error.
type depositorSet struct {
	mu     sync.Mutex
	sketch *hyperloglog.Sketch
}

func newDepositorSet() *depositorSet {
	return &depositorSet{sketch: hyperloglog.New14()}
}

func (d *depositorSet) add(addr common.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sketch.Insert(addr.Bytes())
}

func (d *depositorSet) estimate() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sketch.Estimate()
}
