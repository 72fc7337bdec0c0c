// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package safevm implements a multi-party authorization VM. A safe is a
// shared account owned by a set of members: spending proposals collect
// member approvals and execute against a pluggable target executor once
// the quorum is met.
package safevm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/pubsub"
	"github.com/luxfi/timer/mockable"
	"github.com/luxfi/utils/json"
	"github.com/luxfi/version"

	"github.com/luxfi/safevm/config"
	"github.com/luxfi/safevm/metrics"
	"github.com/luxfi/safevm/safe"
	"github.com/luxfi/safevm/state"
)

// Name of this VM
const Name = "safevm"

var Version = &version.Semantic{
	Major: 1,
	Minor: 0,
	Patch: 0,
}

// VM wires the authorization engine to durable state, a JSON-RPC surface,
// and an event feed.
type VM struct {
	cfg     config.Config
	log     log.Logger
	metrics metrics.Metrics

	registerer metric.Registerer

	baseDB database.Database
	state  state.State

	clock mockable.Clock

	safe *safe.Safe

	pubsub *pubsub.Server
}

// pubsubSink forwards engine events to the pubsub server.
type pubsubSink struct {
	server *pubsub.Server
}

var _ safe.Sink = (*pubsubSink)(nil)

func (s *pubsubSink) Publish(event *safe.Event) {
	s.server.Publish(NewPubSubFilterer(event))
}

// noopExecutor accepts every invocation. Standing in for a real executor,
// it keeps the safe usable as a pure ledger.
type noopExecutor struct{}

var _ safe.Executor = (*noopExecutor)(nil)

func (*noopExecutor) Execute(context.Context, ids.ShortID, uint64, []byte) error {
	return nil
}

// Initialize sets the VM up over db. The genesis is applied on first start;
// on later starts the persisted state wins and genesisBytes is only
// validated.
func (vm *VM) Initialize(
	ctx context.Context,
	logger log.Logger,
	db database.Database,
	genesisBytes []byte,
	configBytes []byte,
	executor safe.Executor,
) error {
	vm.log = logger

	cfg, err := config.ParseConfig(configBytes)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	vm.cfg = cfg

	vm.registerer = metric.NewRegistry()
	vm.metrics, err = metrics.New(vm.registerer)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	vm.baseDB = db
	vm.state, err = state.New(db)
	if err != nil {
		return fmt.Errorf("failed to initialize state: %w", err)
	}

	vm.pubsub = pubsub.New(vm.log)

	if err := vm.initGenesis(genesisBytes); err != nil {
		return err
	}

	if executor == nil {
		executor = &noopExecutor{}
	}

	vm.safe = safe.New(
		vm.log,
		vm.cfg,
		vm.state,
		&vm.clock,
		executor,
		vm.metrics,
		&pubsubSink{server: vm.pubsub},
	)

	vm.log.Info("safevm initialized",
		log.Uint64("owners", vm.state.OwnerCount()),
		log.Uint64("quorum", vm.state.GetQuorum()),
		log.Uint64("balance", vm.state.GetBalance()),
	)
	return nil
}

func (vm *VM) initGenesis(genesisBytes []byte) error {
	genesis, err := ParseGenesis(genesisBytes)
	if err != nil {
		return err
	}

	initialized, err := vm.state.IsInitialized()
	if err != nil {
		return fmt.Errorf("failed to check state initialization: %w", err)
	}
	if initialized {
		return nil
	}

	vm.state.SetAddress(genesis.Address)
	for _, owner := range genesis.Owners {
		vm.state.AddOwner(owner)
	}
	vm.state.SetQuorum(genesis.Quorum)
	vm.state.SetBalance(genesis.Balance)
	if err := vm.state.MarkInitialized(); err != nil {
		return fmt.Errorf("failed to mark state initialized: %w", err)
	}
	if err := vm.state.Commit(); err != nil {
		return fmt.Errorf("failed to commit genesis state: %w", err)
	}

	vm.log.Info("genesis applied",
		log.Stringer("address", genesis.Address),
		log.Int("owners", len(genesis.Owners)),
		log.Uint64("quorum", genesis.Quorum),
		log.Uint64("balance", genesis.Balance),
	)
	return nil
}

// Safe returns the underlying authorization engine.
func (vm *VM) Safe() *safe.Safe {
	return vm.safe
}

func (vm *VM) CreateHandlers(context.Context) (map[string]http.Handler, error) {
	codec := json.NewCodec()

	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(codec, "application/json")
	rpcServer.RegisterCodec(codec, "application/json;charset=UTF-8")
	rpcServer.RegisterInterceptFunc(vm.metrics.InterceptRequest)
	rpcServer.RegisterAfterFunc(vm.metrics.AfterRequest)
	err := rpcServer.RegisterService(&Service{vm: vm}, "safe")

	return map[string]http.Handler{
		"":        rpcServer,
		"/events": vm.pubsub,
	}, err
}

func (vm *VM) HealthCheck(context.Context) (interface{}, error) {
	proposalIDs, err := vm.safe.ProposalIDs()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"owners":    vm.safe.OwnerCount(),
		"quorum":    vm.safe.Quorum(),
		"balance":   vm.safe.Balance(),
		"proposals": len(proposalIDs),
	}, nil
}

func (vm *VM) Shutdown(context.Context) error {
	if vm.state == nil {
		return nil
	}
	return errors.Join(
		vm.state.Close(),
		vm.baseDB.Close(),
	)
}

func (vm *VM) Version(context.Context) (string, error) {
	return Version.String(), nil
}
