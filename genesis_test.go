// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safevm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
)

func TestGenesisValidate(t *testing.T) {
	tests := []struct {
		name        string
		genesis     *Genesis
		expectedErr error
	}{
		{
			name: "valid",
			genesis: &Genesis{
				Address: ids.ShortID{0xaa},
				Owners:  []ids.ShortID{{1}, {2}, {3}},
				Quorum:  2,
			},
		},
		{
			name: "zero address",
			genesis: &Genesis{
				Owners: []ids.ShortID{{1}},
				Quorum: 1,
			},
			expectedErr: errZeroAddress,
		},
		{
			name: "no owners",
			genesis: &Genesis{
				Address: ids.ShortID{0xaa},
				Quorum:  1,
			},
			expectedErr: errNoOwners,
		},
		{
			name: "zero owner",
			genesis: &Genesis{
				Address: ids.ShortID{0xaa},
				Owners:  []ids.ShortID{{1}, ids.ShortEmpty},
				Quorum:  1,
			},
			expectedErr: errZeroOwner,
		},
		{
			name: "duplicate owner",
			genesis: &Genesis{
				Address: ids.ShortID{0xaa},
				Owners:  []ids.ShortID{{1}, {2}, {1}},
				Quorum:  1,
			},
			expectedErr: errDuplicateOwner,
		},
		{
			name: "zero quorum",
			genesis: &Genesis{
				Address: ids.ShortID{0xaa},
				Owners:  []ids.ShortID{{1}},
			},
			expectedErr: errInvalidQuorum,
		},
		{
			name: "quorum exceeds owners",
			genesis: &Genesis{
				Address: ids.ShortID{0xaa},
				Owners:  []ids.ShortID{{1}, {2}},
				Quorum:  3,
			},
			expectedErr: errInvalidQuorum,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.ErrorIs(t, test.genesis.Validate(), test.expectedErr)
		})
	}
}

func TestGenesisRoundTrip(t *testing.T) {
	require := require.New(t)

	genesis := &Genesis{
		Timestamp: 1_600_000_000,
		Address:   ids.ShortID{0xaa},
		Owners:    []ids.ShortID{{1}, {2}, {3}},
		Quorum:    2,
		Balance:   1_000,
	}

	bytes, err := genesis.Bytes()
	require.NoError(err)

	parsed, err := ParseGenesis(bytes)
	require.NoError(err)
	require.Equal(genesis, parsed)
}

func TestParseGenesisInvalid(t *testing.T) {
	require := require.New(t)

	_, err := ParseGenesis([]byte("not a genesis"))
	require.ErrorIs(err, errInvalidGenesis)

	// Well formed bytes that fail validation are also rejected.
	bytes, err := (&Genesis{
		Address: ids.ShortID{0xaa},
		Owners:  []ids.ShortID{{1}},
		Quorum:  2,
	}).Bytes()
	require.NoError(err)

	_, err = ParseGenesis(bytes)
	require.ErrorIs(err, errInvalidGenesis)
	require.ErrorIs(err, errInvalidQuorum)
}
