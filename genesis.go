// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safevm

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
)

var (
	errZeroAddress    = errors.New("genesis safe address is the zero address")
	errNoOwners       = errors.New("genesis must declare at least one owner")
	errZeroOwner      = errors.New("genesis owner is the zero address")
	errDuplicateOwner = errors.New("genesis declares the same owner twice")
	errInvalidQuorum  = errors.New("genesis quorum must be between 1 and the number of owners")
	errInvalidGenesis = errors.New("invalid genesis")
)

// Genesis declares the identity, initial membership, and funding of a safe.
type Genesis struct {
	// Timestamp of the safe's creation, in Unix seconds.
	Timestamp uint64 `serialize:"true" json:"timestamp"`

	// Address is the safe's own identity. Proposals may not target it.
	Address ids.ShortID `serialize:"true" json:"address"`

	// Owners is the initial member set.
	Owners []ids.ShortID `serialize:"true" json:"owners"`

	// Quorum is the number of approvals a proposal needs before it can be
	// executed.
	Quorum uint64 `serialize:"true" json:"quorum"`

	// Balance is the amount of funds the safe starts with.
	Balance uint64 `serialize:"true" json:"balance"`
}

// Validate returns nil if the genesis describes a well-formed safe.
func (g *Genesis) Validate() error {
	if g.Address == ids.ShortEmpty {
		return errZeroAddress
	}
	if len(g.Owners) == 0 {
		return errNoOwners
	}

	owners := set.NewSet[ids.ShortID](len(g.Owners))
	for _, owner := range g.Owners {
		if owner == ids.ShortEmpty {
			return errZeroOwner
		}
		if owners.Contains(owner) {
			return fmt.Errorf("%w: %s", errDuplicateOwner, owner)
		}
		owners.Add(owner)
	}

	if g.Quorum == 0 || g.Quorum > uint64(len(g.Owners)) {
		return fmt.Errorf("%w: quorum %d with %d owners", errInvalidQuorum, g.Quorum, len(g.Owners))
	}
	return nil
}

// Bytes returns the codec serialization of the genesis.
func (g *Genesis) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, g)
}

// ParseGenesis deserializes and validates genesis bytes.
func ParseGenesis(bytes []byte) (*Genesis, error) {
	genesis := &Genesis{}
	if _, err := Codec.Unmarshal(bytes, genesis); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidGenesis, err)
	}
	if err := genesis.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidGenesis, err)
	}
	return genesis, nil
}
