// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package node assembles the components of one chain into a runnable
// process. A home node keeps the canonical supply reconciled; a remote
// node runs a flash liquidity pool and reports it to the home chain.
package node

import (
	"context"
	"fmt"

	"github.com/luxfi/omnivault/config"
)

// Runner is a node's background work.
type Runner interface {
	Run(ctx context.Context) error
}

var (
	_ Runner = (*Home)(nil)
	_ Runner = (*Remote)(nil)
)

// New validates cfg and builds the node for its role.
func New(cfg config.Config, deps Deps) (Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		r   Runner
		err error
	)
	switch cfg.Role {
	case config.RoleHome:
		r, err = NewHome(cfg, deps)
	case config.RoleRemote:
		r, err = NewRemote(cfg, deps)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidRole, cfg.Role)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
