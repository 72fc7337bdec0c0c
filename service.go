// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safevm

import (
	"net/http"

	"github.com/luxfi/formatting"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/utils/json"

	"github.com/luxfi/safevm/state"
)

// Service defines the API calls that can be made to the safe
type Service struct {
	vm *VM
}

type InviteArgs struct {
	Caller  ids.ShortID `json:"caller"`
	Invitee ids.ShortID `json:"invitee"`
}

type InviteReply struct {
	// Expiry is the Unix time at which the invitation lapses.
	Expiry json.Uint64 `json:"expiry"`
}

// Invite adds an invitation for a prospective owner.
func (s *Service) Invite(_ *http.Request, args *InviteArgs, reply *InviteReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "invite"),
	)

	expiry, err := s.vm.safe.Invite(args.Caller, args.Invitee)
	if err != nil {
		return err
	}
	reply.Expiry = json.Uint64(expiry.Unix())
	return nil
}

type AcceptArgs struct {
	Caller ids.ShortID `json:"caller"`
}

type AcceptReply struct {
	OwnerCount json.Uint64 `json:"ownerCount"`
	Quorum     json.Uint64 `json:"quorum"`
}

// Accept consumes the caller's invitation and makes them an owner. The
// quorum rises by one with the membership.
func (s *Service) Accept(_ *http.Request, args *AcceptArgs, reply *AcceptReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "accept"),
	)

	if err := s.vm.safe.Accept(args.Caller); err != nil {
		return err
	}
	reply.OwnerCount = json.Uint64(s.vm.safe.OwnerCount())
	reply.Quorum = json.Uint64(s.vm.safe.Quorum())
	return nil
}

type RenounceArgs struct {
	Caller ids.ShortID `json:"caller"`
}

type RenounceReply struct {
	OwnerCount json.Uint64 `json:"ownerCount"`
	Quorum     json.Uint64 `json:"quorum"`
}

// Renounce removes the caller from the owner set. The quorum falls by one
// with the membership.
func (s *Service) Renounce(_ *http.Request, args *RenounceArgs, reply *RenounceReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "renounce"),
	)

	if err := s.vm.safe.Renounce(args.Caller); err != nil {
		return err
	}
	reply.OwnerCount = json.Uint64(s.vm.safe.OwnerCount())
	reply.Quorum = json.Uint64(s.vm.safe.Quorum())
	return nil
}

type SubmitArgs struct {
	Caller ids.ShortID `json:"caller"`
	Target ids.ShortID `json:"target"`
	Value  json.Uint64 `json:"value"`
	// Payload is hex encoded.
	Payload string `json:"payload"`
}

type SubmitReply struct {
	ProposalID ids.ID `json:"proposalID"`
}

// Submit records a new spending proposal and returns its content-derived ID.
func (s *Service) Submit(_ *http.Request, args *SubmitArgs, reply *SubmitReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "submit"),
	)

	payload, err := formatting.Decode(formatting.HexNC, args.Payload)
	if err != nil {
		return err
	}

	proposalID, err := s.vm.safe.Submit(args.Caller, args.Target, uint64(args.Value), payload)
	if err != nil {
		return err
	}
	reply.ProposalID = proposalID
	return nil
}

type ComputeIDArgs struct {
	Target ids.ShortID `json:"target"`
	Value  json.Uint64 `json:"value"`
	// Payload is hex encoded.
	Payload string      `json:"payload"`
	Nonce   json.Uint64 `json:"nonce"`
}

type ComputeIDReply struct {
	ProposalID ids.ID `json:"proposalID"`
}

// ComputeID derives the proposal ID for the given content and nonce. The
// derivation is pure: it reads no state and works for IDs that were never
// submitted.
func (s *Service) ComputeID(_ *http.Request, args *ComputeIDArgs, reply *ComputeIDReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "computeID"),
	)

	payload, err := formatting.Decode(formatting.HexNC, args.Payload)
	if err != nil {
		return err
	}

	proposalID, err := state.ProposalID(args.Target, uint64(args.Value), payload, uint64(args.Nonce))
	if err != nil {
		return err
	}
	reply.ProposalID = proposalID
	return nil
}

type ApproveArgs struct {
	Caller     ids.ShortID `json:"caller"`
	ProposalID ids.ID      `json:"proposalID"`
}

type ApproveReply struct {
	Approvals json.Uint64 `json:"approvals"`
}

// Approve records the caller's approval of a proposal.
func (s *Service) Approve(_ *http.Request, args *ApproveArgs, reply *ApproveReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "approve"),
	)

	approvals, err := s.vm.safe.Approve(args.Caller, args.ProposalID)
	if err != nil {
		return err
	}
	reply.Approvals = json.Uint64(approvals)
	return nil
}

type RevokeArgs struct {
	Caller     ids.ShortID `json:"caller"`
	ProposalID ids.ID      `json:"proposalID"`
}

type RevokeReply struct {
	Approvals json.Uint64 `json:"approvals"`
}

// Revoke withdraws the caller's approval of a proposal.
func (s *Service) Revoke(_ *http.Request, args *RevokeArgs, reply *RevokeReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "revoke"),
	)

	approvals, err := s.vm.safe.Revoke(args.Caller, args.ProposalID)
	if err != nil {
		return err
	}
	reply.Approvals = json.Uint64(approvals)
	return nil
}

type ExecuteArgs struct {
	Caller     ids.ShortID `json:"caller"`
	ProposalID ids.ID      `json:"proposalID"`
}

type ExecuteReply struct {
	Balance json.Uint64 `json:"balance"`
}

// Execute runs a proposal that has reached the quorum.
func (s *Service) Execute(r *http.Request, args *ExecuteArgs, reply *ExecuteReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "execute"),
	)

	if err := s.vm.safe.Execute(r.Context(), args.Caller, args.ProposalID); err != nil {
		return err
	}
	reply.Balance = json.Uint64(s.vm.safe.Balance())
	return nil
}

type DepositArgs struct {
	Amount json.Uint64 `json:"amount"`
}

type DepositReply struct {
	Balance json.Uint64 `json:"balance"`
}

// Deposit credits funds to the safe.
func (s *Service) Deposit(_ *http.Request, args *DepositArgs, reply *DepositReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "deposit"),
	)

	balance, err := s.vm.safe.Deposit(uint64(args.Amount))
	if err != nil {
		return err
	}
	reply.Balance = json.Uint64(balance)
	return nil
}

type GetProposalArgs struct {
	ProposalID ids.ID `json:"proposalID"`
}

type GetProposalReply struct {
	Target ids.ShortID `json:"target"`
	Value  json.Uint64 `json:"value"`
	// Payload is hex encoded.
	Payload   string        `json:"payload"`
	Nonce     json.Uint64   `json:"nonce"`
	Executed  bool          `json:"executed"`
	Approvers []ids.ShortID `json:"approvers"`
	Approvals json.Uint64   `json:"approvals"`
}

// GetProposal returns a proposal and its current approvers.
func (s *Service) GetProposal(_ *http.Request, args *GetProposalArgs, reply *GetProposalReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "getProposal"),
	)

	proposal, approvers, err := s.vm.safe.Proposal(args.ProposalID)
	if err != nil {
		return err
	}

	payload, err := formatting.Encode(formatting.HexNC, proposal.Payload)
	if err != nil {
		return err
	}

	reply.Target = proposal.Target
	reply.Value = json.Uint64(proposal.Value)
	reply.Payload = payload
	reply.Nonce = json.Uint64(proposal.Nonce)
	reply.Executed = proposal.Executed
	reply.Approvers = approvers
	reply.Approvals = json.Uint64(len(approvers))
	return nil
}

type GetProposalsReply struct {
	// ProposalIDs are ordered by submission.
	ProposalIDs []ids.ID `json:"proposalIDs"`
}

// GetProposals returns the IDs of every known proposal.
func (s *Service) GetProposals(_ *http.Request, _ *struct{}, reply *GetProposalsReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "getProposals"),
	)

	proposalIDs, err := s.vm.safe.ProposalIDs()
	if err != nil {
		return err
	}
	reply.ProposalIDs = proposalIDs
	return nil
}

type GetOwnersReply struct {
	Owners []ids.ShortID `json:"owners"`
	Quorum json.Uint64   `json:"quorum"`
}

// GetOwners returns the current owner set and the approval quorum.
func (s *Service) GetOwners(_ *http.Request, _ *struct{}, reply *GetOwnersReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "getOwners"),
	)

	reply.Owners = s.vm.safe.Owners()
	reply.Quorum = json.Uint64(s.vm.safe.Quorum())
	return nil
}

type GetInvitationArgs struct {
	Address ids.ShortID `json:"address"`
}

type GetInvitationReply struct {
	// InvitedBy is the owner that extended the invitation.
	InvitedBy ids.ShortID `json:"invitedBy"`
	// Expiry is the Unix time at which the invitation lapses.
	Expiry json.Uint64 `json:"expiry"`
}

// GetInvitation returns the pending invitation for an address.
func (s *Service) GetInvitation(_ *http.Request, args *GetInvitationArgs, reply *GetInvitationReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "getInvitation"),
	)

	invitedBy, expiry, err := s.vm.safe.Invitation(args.Address)
	if err != nil {
		return err
	}
	reply.InvitedBy = invitedBy
	reply.Expiry = json.Uint64(expiry.Unix())
	return nil
}

type GetBalanceReply struct {
	Balance json.Uint64 `json:"balance"`
}

// GetBalance returns the safe's funded balance.
func (s *Service) GetBalance(_ *http.Request, _ *struct{}, reply *GetBalanceReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "getBalance"),
	)

	reply.Balance = json.Uint64(s.vm.safe.Balance())
	return nil
}

type GetNonceReply struct {
	Nonce json.Uint64 `json:"nonce"`
}

// GetNonce returns the nonce the next submitted proposal will consume.
func (s *Service) GetNonce(_ *http.Request, _ *struct{}, reply *GetNonceReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "getNonce"),
	)

	reply.Nonce = json.Uint64(s.vm.safe.Nonce())
	return nil
}

type HealthReply struct {
	Healthy bool `json:"healthy"`
}

// Health returns whether the safe is serving requests.
func (s *Service) Health(r *http.Request, _ *struct{}, reply *HealthReply) error {
	s.vm.log.Debug("API called",
		log.String("service", "safe"),
		log.String("method", "health"),
	)

	_, err := s.vm.HealthCheck(r.Context())
	reply.Healthy = err == nil
	return err
}
