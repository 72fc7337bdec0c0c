// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
)

func TestProposalID(t *testing.T) {
	require := require.New(t)

	target := ids.ShortID{1}
	payload := []byte{0xde, 0xad}

	id1, err := ProposalID(target, 100, payload, 0)
	require.NoError(err)

	// The derivation is deterministic.
	id2, err := ProposalID(target, 100, payload, 0)
	require.NoError(err)
	require.Equal(id1, id2)

	// The nonce distinguishes otherwise identical submissions.
	id3, err := ProposalID(target, 100, payload, 1)
	require.NoError(err)
	require.NotEqual(id1, id3)

	// Every digest field participates in the ID.
	id4, err := ProposalID(ids.ShortID{2}, 100, payload, 0)
	require.NoError(err)
	require.NotEqual(id1, id4)

	id5, err := ProposalID(target, 101, payload, 0)
	require.NoError(err)
	require.NotEqual(id1, id5)

	id6, err := ProposalID(target, 100, []byte{0xbe, 0xef}, 0)
	require.NoError(err)
	require.NotEqual(id1, id6)
}

func TestProposalIDMatchesRecord(t *testing.T) {
	require := require.New(t)

	proposal := &Proposal{
		Target:  ids.ShortID{3},
		Value:   42,
		Payload: []byte{1, 2, 3},
		Nonce:   9,
	}

	fromRecord, err := proposal.ID()
	require.NoError(err)

	fromFields, err := ProposalID(proposal.Target, proposal.Value, proposal.Payload, proposal.Nonce)
	require.NoError(err)
	require.Equal(fromFields, fromRecord)

	// The executed flag is not part of the identity.
	proposal.Executed = true
	executedID, err := proposal.ID()
	require.NoError(err)
	require.Equal(fromRecord, executedID)
}
