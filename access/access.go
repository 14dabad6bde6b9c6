// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package access carries the caller identity and capabilities that every
// privileged operation checks before touching state.
package access

import (
	"errors"
	"strings"

	"github.com/luxfi/geth/common"
)

// Role is a capability bitmask.
type Role uint8

const (
	Owner Role = 1 << iota
	Operator

	None Role = 0
)

var (
	ErrOnlyOwnerAllowed    = errors.New("only owner allowed")
	ErrOnlyOperatorAllowed = errors.New("only operator allowed")
)

func (r Role) String() string {
	if r == None {
		return "none"
	}
	var parts []string
	if r&Owner != 0 {
		parts = append(parts, "owner")
	}
	if r&Operator != 0 {
		parts = append(parts, "operator")
	}
	return strings.Join(parts, "|")
}

// Caller is the identity an operation is performed on behalf of.
type Caller struct {
	Address common.Address
	Roles   Role
}

func NewCaller(addr common.Address, roles Role) Caller {
	return Caller{Address: addr, Roles: roles}
}

// Anyone returns an unprivileged caller.
func Anyone(addr common.Address) Caller {
	return Caller{Address: addr}
}

func (c Caller) Has(role Role) bool {
	return c.Roles&role == role
}

// Require fails unless the caller holds role.
func (c Caller) Require(role Role) error {
	if c.Has(role) {
		return nil
	}
	if role&Owner != 0 {
		return ErrOnlyOwnerAllowed
	}
	return ErrOnlyOperatorAllowed
}
