// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safe

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/timer/mockable"
	"github.com/luxfi/utils/json"

	safemath "github.com/luxfi/math"

	"github.com/luxfi/safevm/config"
	"github.com/luxfi/safevm/metrics"
	"github.com/luxfi/safevm/state"
)

// Safe is a multi-party transaction authorization engine. A set of owners
// jointly controls execution of proposed transactions: proposals collect
// approvals and may be executed by any owner once the approval count meets
// the quorum held in state at execution time.
//
// Every operation validates, stages its mutations, and commits them
// atomically before any event is published.
type Safe struct {
	lock     sync.RWMutex
	log      log.Logger
	cfg      config.Config
	state    state.State
	clock    *mockable.Clock
	executor Executor
	metrics  metrics.Metrics
	events   Sink
}

func New(
	logger log.Logger,
	cfg config.Config,
	state state.State,
	clock *mockable.Clock,
	executor Executor,
	metrics metrics.Metrics,
	events Sink,
) *Safe {
	if events == nil {
		events = noSink{}
	}
	return &Safe{
		log:      logger,
		cfg:      cfg,
		state:    state,
		clock:    clock,
		executor: executor,
		metrics:  metrics,
		events:   events,
	}
}

// Invite offers ownership to [invitee]. The invitation is acceptable until
// the returned expiry; re-inviting restarts the window.
func (s *Safe) Invite(caller ids.ShortID, invitee ids.ShortID) (time.Time, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.state.IsOwner(caller) {
		return time.Time{}, ErrNotOwner
	}
	if invitee == ids.ShortEmpty {
		return time.Time{}, ErrZeroAddress
	}
	if invitee == caller {
		return time.Time{}, ErrSelfInvite
	}
	if s.state.IsOwner(invitee) {
		return time.Time{}, ErrAlreadyOwner
	}

	expiry := s.clock.Time().Add(s.cfg.InviteDuration)
	s.state.PutInvitation(invitee, &state.Invitation{
		InvitedBy: caller,
		Expiry:    uint64(expiry.Unix()),
	})
	if err := s.commit(); err != nil {
		return time.Time{}, err
	}

	s.log.Info("owner invited",
		log.Stringer("caller", caller),
		log.Stringer("invitee", invitee),
		log.Uint64("expiry", uint64(expiry.Unix())),
	)
	s.metrics.MarkAccepted("invite")
	s.events.Publish(&Event{
		Type:      EventInvited,
		Principal: caller,
		Subject:   invitee,
		Expiry:    json.Uint64(expiry.Unix()),
	})
	return expiry, nil
}

// Accept turns a live invitation into ownership, raising the quorum by one
// alongside the owner count. A failed attempt leaves state untouched; an
// expired row stays stored until a re-invite overwrites it.
func (s *Safe) Accept(caller ids.ShortID) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	invitation, err := s.state.GetInvitation(caller)
	if err == database.ErrNotFound {
		return ErrNotInvited
	}
	if err != nil {
		return err
	}

	// The invitation is usable through its expiry second.
	expiry := time.Unix(int64(invitation.Expiry), 0)
	if s.clock.Time().After(expiry) {
		return fmt.Errorf("%w: expired at %s", ErrInviteExpired, expiry)
	}

	s.state.DeleteInvitation(caller)
	s.addOwner(caller)
	if err := s.commit(); err != nil {
		return err
	}

	s.log.Info("invitation accepted",
		log.Stringer("owner", caller),
		log.Stringer("invitedBy", invitation.InvitedBy),
		log.Uint64("owners", s.state.OwnerCount()),
		log.Uint64("quorum", s.state.GetQuorum()),
	)
	s.metrics.MarkAccepted("accept")
	s.events.Publish(&Event{
		Type:      EventAccepted,
		Principal: caller,
		Subject:   invitation.InvitedBy,
	})
	return nil
}

// Renounce removes the caller from the owner set, lowering the quorum by
// one alongside the owner count. It is rejected while the quorum is at its
// floor of one, which also keeps the last owner in place. Approvals already
// cast by the caller stay on their proposals.
func (s *Safe) Renounce(caller ids.ShortID) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.state.IsOwner(caller) {
		return ErrNotOwner
	}
	if s.state.GetQuorum() <= 1 {
		return ErrLastOwner
	}

	s.removeOwner(caller)
	if err := s.commit(); err != nil {
		return err
	}

	s.log.Info("ownership renounced",
		log.Stringer("owner", caller),
		log.Uint64("owners", s.state.OwnerCount()),
		log.Uint64("quorum", s.state.GetQuorum()),
	)
	s.metrics.MarkAccepted("renounce")
	s.events.Publish(&Event{
		Type:      EventRenounced,
		Principal: caller,
	})
	return nil
}

// addOwner and removeOwner stage membership and quorum together so the two
// are only ever committed in lockstep: the quorum rises and falls by exactly
// one with every member.
func (s *Safe) addOwner(owner ids.ShortID) {
	s.state.AddOwner(owner)
	s.state.SetQuorum(s.state.GetQuorum() + 1)
}

func (s *Safe) removeOwner(owner ids.ShortID) {
	s.state.RemoveOwner(owner)
	s.state.SetQuorum(s.state.GetQuorum() - 1)
}

// Submit records a new proposal carrying the submitter's approval and
// returns its identifier.
func (s *Safe) Submit(caller ids.ShortID, target ids.ShortID, value uint64, payload []byte) (ids.ID, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.state.IsOwner(caller) {
		return ids.Empty, ErrNotOwner
	}
	if target == s.state.GetAddress() {
		return ids.Empty, fmt.Errorf("%w: target %s", ErrSelfTarget, target)
	}
	if len(payload) > s.cfg.MaxPayloadSize {
		return ids.Empty, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), s.cfg.MaxPayloadSize)
	}

	nonce := s.state.GetNonce()
	proposalID, err := state.ProposalID(target, value, payload, nonce)
	if err != nil {
		return ids.Empty, err
	}

	// The nonce is never reused, so an occupied ID means counter misuse.
	existing, err := s.state.GetProposal(proposalID)
	switch {
	case err == nil && existing.Executed:
		return ids.Empty, ErrAlreadyExecuted
	case err == nil:
		return ids.Empty, ErrAlreadySubmitted
	case err != database.ErrNotFound:
		return ids.Empty, err
	}

	s.state.PutProposal(proposalID, &state.Proposal{
		Target:  target,
		Value:   value,
		Payload: slices.Clone(payload),
		Nonce:   nonce,
	})
	s.state.AddApproval(proposalID, caller)
	s.state.SetNonce(nonce + 1)
	if err := s.commit(); err != nil {
		return ids.Empty, err
	}

	s.log.Info("proposal submitted",
		log.Stringer("caller", caller),
		log.Stringer("proposalID", proposalID),
		log.Stringer("target", target),
		log.Uint64("value", value),
		log.Uint64("nonce", nonce),
	)
	s.metrics.MarkAccepted("submit")
	s.events.Publish(&Event{
		Type:       EventSubmitted,
		Principal:  caller,
		Subject:    target,
		ProposalID: proposalID,
		Amount:     json.Uint64(value),
		Approvals:  json.Uint64(1),
	})
	return proposalID, nil
}

// Approve casts the caller's approval on a pending proposal and returns the
// resulting approval count.
func (s *Safe) Approve(caller ids.ShortID, proposalID ids.ID) (uint64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.state.IsOwner(caller) {
		return 0, ErrNotOwner
	}
	proposal, err := s.getProposal(proposalID)
	if err != nil {
		return 0, err
	}
	if proposal.Executed {
		return 0, ErrAlreadyExecuted
	}

	approved, err := s.state.HasApproved(proposalID, caller)
	if err != nil {
		return 0, err
	}
	if approved {
		return 0, ErrAlreadyApproved
	}

	s.state.AddApproval(proposalID, caller)
	approvals, err := s.state.ApprovalCount(proposalID)
	if err != nil {
		return 0, err
	}
	if err := s.commit(); err != nil {
		return 0, err
	}

	s.log.Info("proposal approved",
		log.Stringer("caller", caller),
		log.Stringer("proposalID", proposalID),
		log.Uint64("approvals", approvals),
	)
	s.metrics.MarkAccepted("approve")
	s.events.Publish(&Event{
		Type:       EventApproved,
		Principal:  caller,
		ProposalID: proposalID,
		Approvals:  json.Uint64(approvals),
	})
	return approvals, nil
}

// Revoke withdraws the caller's approval from a pending proposal and returns
// the resulting approval count. A proposal stripped of its last approval is
// deleted outright; its nonce is never reissued.
func (s *Safe) Revoke(caller ids.ShortID, proposalID ids.ID) (uint64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.state.IsOwner(caller) {
		return 0, ErrNotOwner
	}
	proposal, err := s.getProposal(proposalID)
	if err != nil {
		return 0, err
	}
	if proposal.Executed {
		return 0, ErrAlreadyExecuted
	}

	approved, err := s.state.HasApproved(proposalID, caller)
	if err != nil {
		return 0, err
	}
	if !approved {
		return 0, ErrNotApproved
	}

	s.state.RemoveApproval(proposalID, caller)
	approvals, err := s.state.ApprovalCount(proposalID)
	if err != nil {
		return 0, err
	}
	deleted := approvals == 0
	if deleted {
		if err := s.state.DeleteProposal(proposalID); err != nil {
			return 0, err
		}
	}
	if err := s.commit(); err != nil {
		return 0, err
	}

	s.log.Info("approval revoked",
		log.Stringer("caller", caller),
		log.Stringer("proposalID", proposalID),
		log.Uint64("approvals", approvals),
		log.Bool("deleted", deleted),
	)
	s.metrics.MarkAccepted("revoke")
	s.events.Publish(&Event{
		Type:       EventRevoked,
		Principal:  caller,
		ProposalID: proposalID,
		Approvals:  json.Uint64(approvals),
		Deleted:    deleted,
	})
	return approvals, nil
}

// Execute runs an approved proposal through the executor. The proposal is
// marked executed and its value debited in one committed step before the
// executor is invoked; a failing executor refunds the value but never
// reopens the proposal.
func (s *Safe) Execute(ctx context.Context, caller ids.ShortID, proposalID ids.ID) error {
	proposal, approvals, err := s.beginExecution(caller, proposalID)
	if err != nil {
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
	defer cancel()

	if err := s.executor.Execute(execCtx, proposal.Target, proposal.Value, proposal.Payload); err != nil {
		s.refund(proposal.Value)
		s.metrics.MarkExecutionFailed()
		s.log.Warn("execution failed",
			log.Stringer("caller", caller),
			log.Stringer("proposalID", proposalID),
			log.Err(err),
		)
		return fmt.Errorf("%w: proposal %s: %w", ErrExecutionFailed, proposalID, err)
	}

	s.log.Info("proposal executed",
		log.Stringer("caller", caller),
		log.Stringer("proposalID", proposalID),
		log.Stringer("target", proposal.Target),
		log.Uint64("value", proposal.Value),
		log.Uint64("approvals", approvals),
	)
	s.metrics.MarkAccepted("execute")
	s.events.Publish(&Event{
		Type:       EventExecuted,
		Principal:  caller,
		Subject:    proposal.Target,
		ProposalID: proposalID,
		Amount:     json.Uint64(proposal.Value),
		Approvals:  json.Uint64(approvals),
	})
	return nil
}

// beginExecution validates the attempt, marks the proposal executed, debits
// its value, and commits. Once it succeeds the proposal is consumed no
// matter what the executor does: a re-entrant or concurrent attempt
// observes the committed executed flag and fails with ErrAlreadyExecuted.
func (s *Safe) beginExecution(caller ids.ShortID, proposalID ids.ID) (*state.Proposal, uint64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.state.IsOwner(caller) {
		return nil, 0, ErrNotOwner
	}
	proposal, err := s.getProposal(proposalID)
	if err != nil {
		return nil, 0, err
	}
	if proposal.Executed {
		return nil, 0, ErrAlreadyExecuted
	}

	approvals, err := s.state.ApprovalCount(proposalID)
	if err != nil {
		return nil, 0, err
	}
	if quorum := s.state.GetQuorum(); approvals < quorum {
		return nil, 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientApprovals, approvals, quorum)
	}

	// Work on a copy so records already handed out stay immutable.
	executed := *proposal
	executed.Executed = true
	s.state.PutProposal(proposalID, &executed)

	balance := s.state.GetBalance()
	if balance < proposal.Value {
		// The attempt still consumes the proposal; the executor is never
		// reached.
		if err := s.commit(); err != nil {
			return nil, 0, err
		}
		s.metrics.MarkExecutionFailed()
		return nil, 0, fmt.Errorf("%w: proposal %s: %w: balance %d, need %d",
			ErrExecutionFailed, proposalID, ErrInsufficientFunds, balance, proposal.Value)
	}

	s.state.SetBalance(balance - proposal.Value)
	if err := s.commit(); err != nil {
		return nil, 0, err
	}
	return &executed, approvals, nil
}

func (s *Safe) refund(value uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	balance, err := safemath.Add64(s.state.GetBalance(), value)
	if err != nil {
		// Deposits landed while the executor ran; the refund saturates.
		balance = math.MaxUint64
	}
	s.state.SetBalance(balance)
	if err := s.commit(); err != nil {
		s.log.Error("failed to refund execution value",
			log.Uint64("value", value),
			log.Err(err),
		)
	}
}

// Deposit credits the safe's balance. Deposits are permissionless.
func (s *Safe) Deposit(amount uint64) (uint64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if amount == 0 {
		return 0, ErrZeroAmount
	}
	balance, err := safemath.Add64(s.state.GetBalance(), amount)
	if err != nil {
		return 0, ErrBalanceOverflow
	}

	s.state.SetBalance(balance)
	if err := s.commit(); err != nil {
		return 0, err
	}

	s.log.Info("deposit received",
		log.Uint64("amount", amount),
		log.Uint64("balance", balance),
	)
	s.metrics.MarkAccepted("deposit")
	s.events.Publish(&Event{
		Type:   EventDeposited,
		Amount: json.Uint64(amount),
	})
	return balance, nil
}

// Proposal returns a stored proposal and the owners currently approving it.
func (s *Safe) Proposal(proposalID ids.ID) (*state.Proposal, []ids.ShortID, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	proposal, err := s.getProposal(proposalID)
	if err != nil {
		return nil, nil, err
	}
	approvers, err := s.state.Approvers(proposalID)
	if err != nil {
		return nil, nil, err
	}

	record := *proposal
	record.Payload = slices.Clone(record.Payload)
	return &record, approvers, nil
}

// ProposalIDs returns every proposal in submission order.
func (s *Safe) ProposalIDs() ([]ids.ID, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.state.ProposalIDs()
}

// Invitation returns the inviter and expiry of the pending invitation for
// [addr], whether live or already past.
func (s *Safe) Invitation(addr ids.ShortID) (ids.ShortID, time.Time, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	invitation, err := s.state.GetInvitation(addr)
	if err == database.ErrNotFound {
		return ids.ShortEmpty, time.Time{}, ErrNotInvited
	}
	if err != nil {
		return ids.ShortEmpty, time.Time{}, err
	}
	return invitation.InvitedBy, time.Unix(int64(invitation.Expiry), 0), nil
}

// Address returns the safe's own identity. Proposals may not target it.
func (s *Safe) Address() ids.ShortID {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.state.GetAddress()
}

func (s *Safe) Owners() []ids.ShortID {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.state.Owners()
}

func (s *Safe) OwnerCount() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.state.OwnerCount()
}

func (s *Safe) Quorum() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.state.GetQuorum()
}

func (s *Safe) Balance() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.state.GetBalance()
}

// Nonce returns the counter the next submission will consume.
func (s *Safe) Nonce() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.state.GetNonce()
}

func (s *Safe) getProposal(proposalID ids.ID) (*state.Proposal, error) {
	proposal, err := s.state.GetProposal(proposalID)
	if err == database.ErrNotFound {
		return nil, ErrProposalNotFound
	}
	return proposal, err
}

func (s *Safe) commit() error {
	if err := s.state.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}
