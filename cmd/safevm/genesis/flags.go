// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package genesis

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/luxfi/ids"
)

const (
	AddressKey   = "address"
	OwnersKey    = "owners"
	QuorumKey    = "quorum"
	BalanceKey   = "balance"
	TimestampKey = "timestamp"
	OutputKey    = "output"
)

func AddFlags(flags *pflag.FlagSet) {
	flags.String(AddressKey, "", "Address of the safe itself (required)")
	flags.StringSlice(OwnersKey, nil, "Addresses of the initial owners (required)")
	flags.Uint64(QuorumKey, 1, "Number of approvals a proposal needs to execute")
	flags.Uint64(BalanceKey, 0, "Initial balance of the safe")
	flags.Uint64(TimestampKey, 0, "Creation time of the safe, in Unix seconds")
	flags.String(OutputKey, "genesis.json", "Path to write the genesis file to")
}

type Config struct {
	Address   ids.ShortID
	Owners    []ids.ShortID
	Quorum    uint64
	Balance   uint64
	Timestamp uint64
	Output    string
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	addressStr, err := flags.GetString(AddressKey)
	if err != nil {
		return nil, err
	}
	address, err := ids.ShortFromString(addressStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse address %q: %w", addressStr, err)
	}

	ownerStrs, err := flags.GetStringSlice(OwnersKey)
	if err != nil {
		return nil, err
	}

	owners := make([]ids.ShortID, len(ownerStrs))
	for i, ownerStr := range ownerStrs {
		owners[i], err = ids.ShortFromString(ownerStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse owner %q: %w", ownerStr, err)
		}
	}

	quorum, err := flags.GetUint64(QuorumKey)
	if err != nil {
		return nil, err
	}

	balance, err := flags.GetUint64(BalanceKey)
	if err != nil {
		return nil, err
	}

	timestamp, err := flags.GetUint64(TimestampKey)
	if err != nil {
		return nil, err
	}

	output, err := flags.GetString(OutputKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		Address:   address,
		Owners:    owners,
		Quorum:    quorum,
		Balance:   balance,
		Timestamp: timestamp,
		Output:    output,
	}, nil
}
