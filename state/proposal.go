// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/ids"
)

// Proposal is a transaction proposed for execution by the owner set. The
// payload is opaque to the safe; it is handed to the executor untouched.
type Proposal struct {
	Target   ids.ShortID `serialize:"true" json:"target"`
	Value    uint64      `serialize:"true" json:"value"`
	Payload  []byte      `serialize:"true" json:"payload"`
	Nonce    uint64      `serialize:"true" json:"nonce"`
	Executed bool        `serialize:"true" json:"executed"`
}

// proposalDigest is the preimage of a proposal ID. The executed flag is
// excluded so the ID is stable across the proposal's lifecycle.
type proposalDigest struct {
	Target  ids.ShortID `serialize:"true"`
	Value   uint64      `serialize:"true"`
	Payload []byte      `serialize:"true"`
	Nonce   uint64      `serialize:"true"`
}

// ProposalID derives the identifier of a proposal from its content and the
// submission nonce. The nonce makes resubmissions of the same transaction
// distinct, and replaying the same submission sequence from genesis yields
// the same IDs.
func ProposalID(target ids.ShortID, value uint64, payload []byte, nonce uint64) (ids.ID, error) {
	bytes, err := Codec.Marshal(CodecVersion, &proposalDigest{
		Target:  target,
		Value:   value,
		Payload: payload,
		Nonce:   nonce,
	})
	if err != nil {
		return ids.Empty, err
	}
	return hash.ComputeHash256Array(bytes), nil
}

// ID recomputes the proposal's identifier.
func (p *Proposal) ID() (ids.ID, error) {
	return ProposalID(p.Target, p.Value, p.Payload, p.Nonce)
}
