// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luxfi/safevm/cmd/safevm/genesis"
	"github.com/luxfi/safevm/cmd/safevm/run"
)

func main() {
	cmd := &cobra.Command{
		Use:   "safevm",
		Short: "Multi-party authorization safe",
	}
	cmd.AddCommand(
		genesis.Command(),
		run.Command(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Printf("safevm: %s\n", err)
		os.Exit(1)
	}
}
