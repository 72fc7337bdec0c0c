// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safevm

import (
	"context"
	"time"

	"github.com/luxfi/formatting"
	"github.com/luxfi/ids"
	"github.com/luxfi/rpc"

	"github.com/luxfi/utils/json"
)

// Client talks to a safevm API endpoint.
type Client struct {
	Requester rpc.EndpointRequester
}

// NewClient returns a Client for interacting with the safe endpoint hosted at
// [uri].
func NewClient(uri string) *Client {
	return &Client{Requester: rpc.NewEndpointRequester(
		uri + "/ext/safe",
	)}
}

// Invite invites invitee to become an owner and returns the invitation's
// expiry.
func (c *Client) Invite(ctx context.Context, caller ids.ShortID, invitee ids.ShortID, options ...rpc.Option) (time.Time, error) {
	res := &InviteReply{}
	err := c.Requester.SendRequest(ctx, "safe.invite", &InviteArgs{
		Caller:  caller,
		Invitee: invitee,
	}, res, options...)
	return time.Unix(int64(res.Expiry), 0), err
}

// Accept consumes the caller's invitation and returns the new owner count
// and quorum.
func (c *Client) Accept(ctx context.Context, caller ids.ShortID, options ...rpc.Option) (uint64, uint64, error) {
	res := &AcceptReply{}
	err := c.Requester.SendRequest(ctx, "safe.accept", &AcceptArgs{
		Caller: caller,
	}, res, options...)
	return uint64(res.OwnerCount), uint64(res.Quorum), err
}

// Renounce removes the caller from the owner set and returns the new owner
// count and quorum.
func (c *Client) Renounce(ctx context.Context, caller ids.ShortID, options ...rpc.Option) (uint64, uint64, error) {
	res := &RenounceReply{}
	err := c.Requester.SendRequest(ctx, "safe.renounce", &RenounceArgs{
		Caller: caller,
	}, res, options...)
	return uint64(res.OwnerCount), uint64(res.Quorum), err
}

// Submit records a new proposal and returns its ID.
func (c *Client) Submit(ctx context.Context, caller ids.ShortID, target ids.ShortID, value uint64, payload []byte, options ...rpc.Option) (ids.ID, error) {
	payloadStr, err := formatting.Encode(formatting.HexNC, payload)
	if err != nil {
		return ids.Empty, err
	}

	res := &SubmitReply{}
	err = c.Requester.SendRequest(ctx, "safe.submit", &SubmitArgs{
		Caller:  caller,
		Target:  target,
		Value:   json.Uint64(value),
		Payload: payloadStr,
	}, res, options...)
	return res.ProposalID, err
}

// ComputeID derives the proposal ID for the given content and nonce without
// submitting anything.
func (c *Client) ComputeID(ctx context.Context, target ids.ShortID, value uint64, payload []byte, nonce uint64, options ...rpc.Option) (ids.ID, error) {
	payloadStr, err := formatting.Encode(formatting.HexNC, payload)
	if err != nil {
		return ids.Empty, err
	}

	res := &ComputeIDReply{}
	err = c.Requester.SendRequest(ctx, "safe.computeID", &ComputeIDArgs{
		Target:  target,
		Value:   json.Uint64(value),
		Payload: payloadStr,
		Nonce:   json.Uint64(nonce),
	}, res, options...)
	return res.ProposalID, err
}

// Approve records the caller's approval and returns the proposal's approval
// count.
func (c *Client) Approve(ctx context.Context, caller ids.ShortID, proposalID ids.ID, options ...rpc.Option) (uint64, error) {
	res := &ApproveReply{}
	err := c.Requester.SendRequest(ctx, "safe.approve", &ApproveArgs{
		Caller:     caller,
		ProposalID: proposalID,
	}, res, options...)
	return uint64(res.Approvals), err
}

// Revoke withdraws the caller's approval and returns the proposal's approval
// count.
func (c *Client) Revoke(ctx context.Context, caller ids.ShortID, proposalID ids.ID, options ...rpc.Option) (uint64, error) {
	res := &RevokeReply{}
	err := c.Requester.SendRequest(ctx, "safe.revoke", &RevokeArgs{
		Caller:     caller,
		ProposalID: proposalID,
	}, res, options...)
	return uint64(res.Approvals), err
}

// Execute runs a proposal that has met the quorum and returns the safe's
// remaining balance.
func (c *Client) Execute(ctx context.Context, caller ids.ShortID, proposalID ids.ID, options ...rpc.Option) (uint64, error) {
	res := &ExecuteReply{}
	err := c.Requester.SendRequest(ctx, "safe.execute", &ExecuteArgs{
		Caller:     caller,
		ProposalID: proposalID,
	}, res, options...)
	return uint64(res.Balance), err
}

// Deposit credits funds to the safe and returns the new balance.
func (c *Client) Deposit(ctx context.Context, amount uint64, options ...rpc.Option) (uint64, error) {
	res := &DepositReply{}
	err := c.Requester.SendRequest(ctx, "safe.deposit", &DepositArgs{
		Amount: json.Uint64(amount),
	}, res, options...)
	return uint64(res.Balance), err
}

// GetProposal returns a proposal and its approvers.
func (c *Client) GetProposal(ctx context.Context, proposalID ids.ID, options ...rpc.Option) (*GetProposalReply, error) {
	res := &GetProposalReply{}
	err := c.Requester.SendRequest(ctx, "safe.getProposal", &GetProposalArgs{
		ProposalID: proposalID,
	}, res, options...)
	return res, err
}

// GetProposals returns the IDs of every known proposal, ordered by
// submission.
func (c *Client) GetProposals(ctx context.Context, options ...rpc.Option) ([]ids.ID, error) {
	res := &GetProposalsReply{}
	err := c.Requester.SendRequest(ctx, "safe.getProposals", struct{}{}, res, options...)
	return res.ProposalIDs, err
}

// GetOwners returns the owner set and the approval quorum.
func (c *Client) GetOwners(ctx context.Context, options ...rpc.Option) ([]ids.ShortID, uint64, error) {
	res := &GetOwnersReply{}
	err := c.Requester.SendRequest(ctx, "safe.getOwners", struct{}{}, res, options...)
	return res.Owners, uint64(res.Quorum), err
}

// GetInvitation returns the inviter and expiry of the pending invitation for
// address.
func (c *Client) GetInvitation(ctx context.Context, address ids.ShortID, options ...rpc.Option) (ids.ShortID, time.Time, error) {
	res := &GetInvitationReply{}
	err := c.Requester.SendRequest(ctx, "safe.getInvitation", &GetInvitationArgs{
		Address: address,
	}, res, options...)
	return res.InvitedBy, time.Unix(int64(res.Expiry), 0), err
}

// GetBalance returns the safe's funded balance.
func (c *Client) GetBalance(ctx context.Context, options ...rpc.Option) (uint64, error) {
	res := &GetBalanceReply{}
	err := c.Requester.SendRequest(ctx, "safe.getBalance", struct{}{}, res, options...)
	return uint64(res.Balance), err
}

// GetNonce returns the nonce the next proposal will consume.
func (c *Client) GetNonce(ctx context.Context, options ...rpc.Option) (uint64, error) {
	res := &GetNonceReply{}
	err := c.Requester.SendRequest(ctx, "safe.getNonce", struct{}{}, res, options...)
	return uint64(res.Nonce), err
}

// Health returns whether the safe is serving requests.
func (c *Client) Health(ctx context.Context, options ...rpc.Option) (bool, error) {
	res := &HealthReply{}
	err := c.Requester.SendRequest(ctx, "safe.health", struct{}{}, res, options...)
	return res.Healthy, err
}
