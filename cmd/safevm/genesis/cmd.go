// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package genesis

import (
	"encoding/json"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/luxfi/safevm"
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "genesis",
		Short: "Writes the genesis file for a new safe",
		RunE:  genesisFunc,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

func genesisFunc(c *cobra.Command, args []string) error {
	flags := c.Flags()
	config, err := ParseFlags(flags, args)
	if err != nil {
		return err
	}

	genesis := &safevm.Genesis{
		Timestamp: config.Timestamp,
		Address:   config.Address,
		Owners:    config.Owners,
		Quorum:    config.Quorum,
		Balance:   config.Balance,
	}
	if err := genesis.Validate(); err != nil {
		return err
	}

	genesisJSON, err := json.MarshalIndent(genesis, "", "  ")
	if err != nil {
		return err
	}
	genesisJSON = append(genesisJSON, '\n')

	if err := os.WriteFile(config.Output, genesisJSON, 0o600); err != nil {
		return err
	}
	log.Printf("wrote genesis for %d owners to %s\n", len(config.Owners), config.Output)
	return nil
}
