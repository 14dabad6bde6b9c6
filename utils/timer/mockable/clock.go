// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mockable

import (
	"sync"
	"time"
)

// Clock reads wall time unless it has been pinned with Set.
// The zero value is ready to use and safe for concurrent use.
type Clock struct {
	mu     sync.RWMutex
	pinned bool
	now    time.Time
}

// Set pins the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = true
	c.now = t
}

// Advance moves a pinned clock forward by d. On an unpinned clock it pins
// the current wall time plus d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pinned {
		c.now = time.Now()
		c.pinned = true
	}
	c.now = c.now.Add(d)
}

// Sync returns the clock to wall time.
func (c *Clock) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = false
}

func (c *Clock) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pinned {
		return c.now
	}
	return time.Now()
}

// Unix returns whole seconds since the epoch, clamped at zero.
func (c *Clock) Unix() uint64 {
	return uint64(max(c.Time().Unix(), 0))
}
