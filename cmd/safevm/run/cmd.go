// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/safevm"
)

const (
	endpoint        = "/ext/safe"
	metricsEndpoint = "/ext/metrics"

	maxConcurrentStreams = 64
	readHeaderTimeout    = 30 * time.Second
	shutdownTimeout      = 10 * time.Second
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Runs a standalone safe daemon",
		RunE:  runFunc,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

// loggingExecutor records approved invocations without acting on them. A
// deployment embeds the safe next to the system that consumes its
// proposals and supplies a real Executor.
type loggingExecutor struct {
	log log.Logger
}

func (e *loggingExecutor) Execute(_ context.Context, target ids.ShortID, value uint64, payload []byte) error {
	e.log.Info("proposal executed",
		log.Stringer("target", target),
		log.Uint64("value", value),
		log.Int("payloadBytes", len(payload)),
	)
	return nil
}

func runFunc(c *cobra.Command, args []string) error {
	flags := c.Flags()
	config, err := ParseFlags(flags, args)
	if err != nil {
		return err
	}

	ctx := c.Context()
	logger := log.Root()

	genesisJSON, err := os.ReadFile(config.GenesisFile)
	if err != nil {
		return fmt.Errorf("failed to read genesis: %w", err)
	}
	genesis := &safevm.Genesis{}
	if err := json.Unmarshal(genesisJSON, genesis); err != nil {
		return fmt.Errorf("failed to parse genesis: %w", err)
	}
	genesisBytes, err := genesis.Bytes()
	if err != nil {
		return fmt.Errorf("failed to serialize genesis: %w", err)
	}

	var configBytes []byte
	if config.ConfigFile != "" {
		configBytes, err = os.ReadFile(config.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var db database.Database
	if config.DBDir == "" {
		db = memdb.New()
	} else {
		db, err = badgerdb.New(config.DBDir, nil, "", nil)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
	}

	vm := &safevm.VM{}
	if err := vm.Initialize(ctx, logger, db, genesisBytes, configBytes, &loggingExecutor{log: logger}); err != nil {
		return fmt.Errorf("failed to initialize vm: %w", err)
	}

	handlers, err := vm.CreateHandlers(ctx)
	if err != nil {
		return errors.Join(err, vm.Shutdown(ctx))
	}

	mux := http.NewServeMux()
	for path, handler := range handlers {
		mux.Handle(endpoint+path, handler)
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return errors.Join(err, vm.Shutdown(ctx))
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return errors.Join(err, vm.Shutdown(ctx))
	}
	mux.Handle(metricsEndpoint, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := cors.New(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowCredentials: true,
	}).Handler(mux)

	srv := &http.Server{
		Handler: h2c.NewHandler(handler, &http2.Server{
			MaxConcurrentStreams: maxConcurrentStreams,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", config.HTTPHost, config.HTTPPort))
	if err != nil {
		return errors.Join(fmt.Errorf("failed to listen: %w", err), vm.Shutdown(ctx))
	}

	logger.Info("safe API listening",
		log.String("address", listener.Addr().String()),
		log.String("endpoint", endpoint),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return errors.Join(err, vm.Shutdown(context.Background()))
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	err = srv.Shutdown(shutdownCtx)
	cancel()

	// If shutdown times out, make sure the server is still closed.
	_ = srv.Close()

	return errors.Join(err, vm.Shutdown(context.Background()))
}
