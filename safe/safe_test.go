// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/timer/mockable"
	"github.com/luxfi/utils/json"

	"github.com/luxfi/safevm/config"
	"github.com/luxfi/safevm/metrics"
	"github.com/luxfi/safevm/state"
)

var (
	owner1   = ids.ShortID{1}
	owner2   = ids.ShortID{2}
	owner3   = ids.ShortID{3}
	safeAddr = ids.ShortID{0xaa}
	target   = ids.ShortID{0xff}
)

// testExecutor implements Executor for testing.
type testExecutor struct {
	ExecuteF func(context.Context, ids.ShortID, uint64, []byte) error
}

var _ Executor = (*testExecutor)(nil)

func (e *testExecutor) Execute(ctx context.Context, target ids.ShortID, value uint64, payload []byte) error {
	if e.ExecuteF != nil {
		return e.ExecuteF(ctx, target, value, payload)
	}
	return nil
}

type testSink struct {
	events []*Event
}

func (s *testSink) Publish(event *Event) {
	s.events = append(s.events, event)
}

func (s *testSink) last() *Event {
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

type testEnv struct {
	safe     *Safe
	state    state.State
	clock    *mockable.Clock
	executor *testExecutor
	sink     *testSink
}

func newTestSafeWithConfig(t *testing.T, cfg config.Config, quorum uint64, owners ...ids.ShortID) *testEnv {
	require := require.New(t)

	st, err := state.New(memdb.New())
	require.NoError(err)
	st.SetAddress(safeAddr)
	for _, owner := range owners {
		st.AddOwner(owner)
	}
	st.SetQuorum(quorum)
	require.NoError(st.MarkInitialized())
	require.NoError(st.Commit())

	m, err := metrics.New(metric.NewRegistry())
	require.NoError(err)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1_000_000, 0))

	executor := &testExecutor{}
	sink := &testSink{}
	return &testEnv{
		safe:     New(log.NoLog{}, cfg, st, clock, executor, m, sink),
		state:    st,
		clock:    clock,
		executor: executor,
		sink:     sink,
	}
}

func newTestSafe(t *testing.T, quorum uint64, owners ...ids.ShortID) *testEnv {
	return newTestSafeWithConfig(t, config.DefaultConfig(), quorum, owners...)
}

func TestInvite(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)

	_, err := env.safe.Invite(owner2, owner3)
	require.ErrorIs(err, ErrNotOwner)

	_, err = env.safe.Invite(owner1, ids.ShortEmpty)
	require.ErrorIs(err, ErrZeroAddress)

	_, err = env.safe.Invite(owner1, owner1)
	require.ErrorIs(err, ErrSelfInvite)

	expiry, err := env.safe.Invite(owner1, owner2)
	require.NoError(err)
	require.Equal(env.clock.Time().Add(config.DefaultConfig().InviteDuration), expiry)

	event := env.sink.last()
	require.Equal(EventInvited, event.Type)
	require.Equal(owner1, event.Principal)
	require.Equal(owner2, event.Subject)

	inviter, got, err := env.safe.Invitation(owner2)
	require.NoError(err)
	require.Equal(owner1, inviter)
	require.Equal(expiry.Unix(), got.Unix())

	// Re-inviting restarts the window.
	env.clock.Set(env.clock.Time().Add(24 * time.Hour))
	later, err := env.safe.Invite(owner1, owner2)
	require.NoError(err)
	require.True(later.After(expiry))

	// An invited principal is not yet an owner.
	require.False(env.state.IsOwner(owner2))

	// Inviting an existing owner is rejected.
	require.NoError(env.safe.Accept(owner2))
	_, err = env.safe.Invite(owner1, owner2)
	require.ErrorIs(err, ErrAlreadyOwner)
}

func TestAccept(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)

	require.ErrorIs(env.safe.Accept(owner2), ErrNotInvited)

	_, err := env.safe.Invite(owner1, owner2)
	require.NoError(err)

	require.NoError(env.safe.Accept(owner2))
	require.True(env.state.IsOwner(owner2))
	require.Equal(uint64(2), env.safe.OwnerCount())

	// The quorum rises with the membership.
	require.Equal(uint64(2), env.safe.Quorum())

	event := env.sink.last()
	require.Equal(EventAccepted, event.Type)
	require.Equal(owner2, event.Principal)
	require.Equal(owner1, event.Subject)

	// The invitation is consumed by acceptance.
	_, _, err = env.safe.Invitation(owner2)
	require.ErrorIs(err, ErrNotInvited)
	require.ErrorIs(env.safe.Accept(owner2), ErrNotInvited)
}

func TestAcceptExpiry(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)

	expiry, err := env.safe.Invite(owner1, owner2)
	require.NoError(err)

	// The invitation holds through its expiry second.
	env.clock.Set(expiry)
	require.NoError(env.safe.Accept(owner2))
	require.True(env.state.IsOwner(owner2))

	expiry3, err := env.safe.Invite(owner1, owner3)
	require.NoError(err)

	// Past the deadline the invitation is rejected, and the failed attempt
	// leaves the stored row untouched.
	env.clock.Set(expiry3.Add(time.Second))
	err = env.safe.Accept(owner3)
	require.ErrorIs(err, ErrInviteExpired)
	require.False(env.state.IsOwner(owner3))

	inviter, stored, err := env.safe.Invitation(owner3)
	require.NoError(err)
	require.Equal(owner1, inviter)
	require.Equal(expiry3.Unix(), stored.Unix())

	// A fresh invite overwrites the stale row and restarts the handshake.
	_, err = env.safe.Invite(owner1, owner3)
	require.NoError(err)
	require.NoError(env.safe.Accept(owner3))
	require.True(env.state.IsOwner(owner3))
}

func TestRenounce(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 2, owner1, owner2)

	require.ErrorIs(env.safe.Renounce(owner3), ErrNotOwner)

	require.NoError(env.safe.Renounce(owner2))
	require.False(env.state.IsOwner(owner2))
	require.Equal(uint64(1), env.safe.OwnerCount())

	// The quorum falls with the membership.
	require.Equal(uint64(1), env.safe.Quorum())

	event := env.sink.last()
	require.Equal(EventRenounced, event.Type)
	require.Equal(owner2, event.Principal)

	// At a quorum of one nobody may leave, so the safe can never be left
	// ownerless.
	require.ErrorIs(env.safe.Renounce(owner1), ErrLastOwner)
	require.True(env.state.IsOwner(owner1))
}

func TestRenounceQuorumFloor(t *testing.T) {
	require := require.New(t)

	// Two owners sharing a quorum of one: neither may renounce, because the
	// quorum cannot drop below one.
	env := newTestSafe(t, 1, owner1, owner2)

	require.ErrorIs(env.safe.Renounce(owner2), ErrLastOwner)
	require.Equal(uint64(2), env.safe.OwnerCount())
	require.Equal(uint64(1), env.safe.Quorum())
}

func TestMembershipQuorumCoupling(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)

	// Every accepted invitation raises the quorum with the member count.
	_, err := env.safe.Invite(owner1, owner2)
	require.NoError(err)
	require.NoError(env.safe.Accept(owner2))
	require.Equal(uint64(2), env.safe.OwnerCount())
	require.Equal(uint64(2), env.safe.Quorum())

	_, err = env.safe.Invite(owner1, owner3)
	require.NoError(err)
	require.NoError(env.safe.Accept(owner3))
	require.Equal(uint64(3), env.safe.OwnerCount())
	require.Equal(uint64(3), env.safe.Quorum())

	// Every renounce lowers it again, and the quorum never exceeds the
	// owner count.
	require.NoError(env.safe.Renounce(owner2))
	require.Equal(uint64(2), env.safe.OwnerCount())
	require.Equal(uint64(2), env.safe.Quorum())

	require.NoError(env.safe.Renounce(owner3))
	require.Equal(uint64(1), env.safe.OwnerCount())
	require.Equal(uint64(1), env.safe.Quorum())
	require.LessOrEqual(env.safe.Quorum(), env.safe.OwnerCount())
}

func TestRenounceKeepsApprovals(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 2, owner1, owner2)

	proposalID, err := env.safe.Submit(owner1, target, 0, nil)
	require.NoError(err)
	_, err = env.safe.Approve(owner2, proposalID)
	require.NoError(err)

	// A renounced owner's approvals stay on the proposal: the votes cast
	// while they were a member keep counting toward the quorum.
	require.NoError(env.safe.Renounce(owner2))

	_, approvers, err := env.safe.Proposal(proposalID)
	require.NoError(err)
	require.Equal([]ids.ShortID{owner1, owner2}, approvers)

	require.NoError(env.safe.Execute(context.Background(), owner1, proposalID))
}

func TestSubmit(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	_, err := env.safe.Submit(owner2, target, 100, payload)
	require.ErrorIs(err, ErrNotOwner)

	// The safe cannot be its own target.
	_, err = env.safe.Submit(owner1, safeAddr, 100, payload)
	require.ErrorIs(err, ErrSelfTarget)

	proposalID, err := env.safe.Submit(owner1, target, 100, payload)
	require.NoError(err)

	// The ID is derived from the content and the consumed nonce.
	expectedID, err := state.ProposalID(target, 100, payload, 0)
	require.NoError(err)
	require.Equal(expectedID, proposalID)
	require.Equal(uint64(1), env.safe.Nonce())

	proposal, approvers, err := env.safe.Proposal(proposalID)
	require.NoError(err)
	require.Equal(target, proposal.Target)
	require.Equal(uint64(100), proposal.Value)
	require.Equal(payload, proposal.Payload)
	require.False(proposal.Executed)

	// The submitter's approval is part of the submission.
	require.Equal([]ids.ShortID{owner1}, approvers)

	event := env.sink.last()
	require.Equal(EventSubmitted, event.Type)
	require.Equal(proposalID, event.ProposalID)
	require.Equal(json.Uint64(1), event.Approvals)

	// Resubmitting the same transaction consumes a fresh nonce and gets a
	// distinct ID.
	proposalID2, err := env.safe.Submit(owner1, target, 100, payload)
	require.NoError(err)
	require.NotEqual(proposalID, proposalID2)

	proposalIDs, err := env.safe.ProposalIDs()
	require.NoError(err)
	require.Equal([]ids.ID{proposalID, proposalID2}, proposalIDs)
}

func TestSubmitPayloadTooLarge(t *testing.T) {
	require := require.New(t)

	cfg := config.DefaultConfig()
	cfg.MaxPayloadSize = 4
	env := newTestSafeWithConfig(t, cfg, 1, owner1)

	_, err := env.safe.Submit(owner1, target, 0, []byte{1, 2, 3, 4, 5})
	require.ErrorIs(err, ErrPayloadTooLarge)

	_, err = env.safe.Submit(owner1, target, 0, []byte{1, 2, 3, 4})
	require.NoError(err)
}

func TestSubmitOccupiedID(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)

	// Plant a record at the ID the next submission would derive.
	proposalID, err := state.ProposalID(target, 100, nil, 0)
	require.NoError(err)
	env.state.PutProposal(proposalID, &state.Proposal{
		Target: target,
		Value:  100,
	})
	require.NoError(env.state.Commit())

	_, err = env.safe.Submit(owner1, target, 100, nil)
	require.ErrorIs(err, ErrAlreadySubmitted)

	// An executed record at that ID reports the execution instead.
	env.state.PutProposal(proposalID, &state.Proposal{
		Target:   target,
		Value:    100,
		Executed: true,
	})
	require.NoError(env.state.Commit())

	_, err = env.safe.Submit(owner1, target, 100, nil)
	require.ErrorIs(err, ErrAlreadyExecuted)
}

func TestApprove(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 2, owner1, owner2)

	_, err := env.safe.Approve(owner1, ids.GenerateTestID())
	require.ErrorIs(err, ErrProposalNotFound)

	proposalID, err := env.safe.Submit(owner1, target, 0, nil)
	require.NoError(err)

	_, err = env.safe.Approve(owner3, proposalID)
	require.ErrorIs(err, ErrNotOwner)

	// The submitter already approved by submitting.
	_, err = env.safe.Approve(owner1, proposalID)
	require.ErrorIs(err, ErrAlreadyApproved)

	approvals, err := env.safe.Approve(owner2, proposalID)
	require.NoError(err)
	require.Equal(uint64(2), approvals)

	_, err = env.safe.Approve(owner2, proposalID)
	require.ErrorIs(err, ErrAlreadyApproved)

	event := env.sink.last()
	require.Equal(EventApproved, event.Type)
	require.Equal(owner2, event.Principal)
	require.Equal(proposalID, event.ProposalID)
}

func TestRevoke(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 2, owner1, owner2)

	proposalID, err := env.safe.Submit(owner1, target, 0, nil)
	require.NoError(err)

	_, err = env.safe.Revoke(owner2, proposalID)
	require.ErrorIs(err, ErrNotApproved)

	_, err = env.safe.Approve(owner2, proposalID)
	require.NoError(err)

	approvals, err := env.safe.Revoke(owner2, proposalID)
	require.NoError(err)
	require.Equal(uint64(1), approvals)

	event := env.sink.last()
	require.Equal(EventRevoked, event.Type)
	require.False(event.Deleted)

	// Withdrawing the last approval deletes the proposal outright.
	approvals, err = env.safe.Revoke(owner1, proposalID)
	require.NoError(err)
	require.Zero(approvals)

	event = env.sink.last()
	require.Equal(EventRevoked, event.Type)
	require.True(event.Deleted)

	_, _, err = env.safe.Proposal(proposalID)
	require.ErrorIs(err, ErrProposalNotFound)

	proposalIDs, err := env.safe.ProposalIDs()
	require.NoError(err)
	require.Empty(proposalIDs)

	_, err = env.safe.Revoke(owner1, proposalID)
	require.ErrorIs(err, ErrProposalNotFound)
}

func TestRevokeOwnSubmission(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)

	proposalID, err := env.safe.Submit(owner1, target, 100, nil)
	require.NoError(err)

	// The submitter withdrawing their own approval erases the proposal.
	approvals, err := env.safe.Revoke(owner1, proposalID)
	require.NoError(err)
	require.Zero(approvals)

	_, _, err = env.safe.Proposal(proposalID)
	require.ErrorIs(err, ErrProposalNotFound)

	// The consumed nonce is not reissued.
	require.Equal(uint64(1), env.safe.Nonce())

	resubmittedID, err := env.safe.Submit(owner1, target, 100, nil)
	require.NoError(err)
	require.NotEqual(proposalID, resubmittedID)
}

func TestExecute(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 2, owner1, owner2)
	payload := []byte{1, 2, 3}

	_, err := env.safe.Deposit(1000)
	require.NoError(err)

	proposalID, err := env.safe.Submit(owner1, target, 400, payload)
	require.NoError(err)

	// The submitter's approval alone is one short of the quorum.
	err = env.safe.Execute(context.Background(), owner1, proposalID)
	require.ErrorIs(err, ErrInsufficientApprovals)

	proposal, _, err := env.safe.Proposal(proposalID)
	require.NoError(err)
	require.False(proposal.Executed)

	_, err = env.safe.Approve(owner2, proposalID)
	require.NoError(err)

	err = env.safe.Execute(context.Background(), owner3, proposalID)
	require.ErrorIs(err, ErrNotOwner)

	var executed int
	env.executor.ExecuteF = func(_ context.Context, gotTarget ids.ShortID, gotValue uint64, gotPayload []byte) error {
		executed++
		require.Equal(target, gotTarget)
		require.Equal(uint64(400), gotValue)
		require.Equal(payload, gotPayload)
		return nil
	}

	require.NoError(env.safe.Execute(context.Background(), owner1, proposalID))
	require.Equal(1, executed)
	require.Equal(uint64(600), env.safe.Balance())

	proposal, _, err = env.safe.Proposal(proposalID)
	require.NoError(err)
	require.True(proposal.Executed)

	event := env.sink.last()
	require.Equal(EventExecuted, event.Type)
	require.Equal(proposalID, event.ProposalID)
	require.Equal(owner1, event.Principal)
	require.Equal(json.Uint64(2), event.Approvals)

	// Execution is single shot.
	err = env.safe.Execute(context.Background(), owner2, proposalID)
	require.ErrorIs(err, ErrAlreadyExecuted)
	require.Equal(1, executed)

	// An executed proposal is frozen.
	_, err = env.safe.Approve(owner1, proposalID)
	require.ErrorIs(err, ErrAlreadyExecuted)
	_, err = env.safe.Revoke(owner1, proposalID)
	require.ErrorIs(err, ErrAlreadyExecuted)
}

func TestExecuteFailure(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)

	_, err := env.safe.Deposit(1000)
	require.NoError(err)

	proposalID, err := env.safe.Submit(owner1, target, 400, nil)
	require.NoError(err)

	executorErr := errors.New("target reverted")
	env.executor.ExecuteF = func(context.Context, ids.ShortID, uint64, []byte) error {
		return executorErr
	}

	err = env.safe.Execute(context.Background(), owner1, proposalID)
	require.ErrorIs(err, ErrExecutionFailed)
	require.ErrorIs(err, executorErr)
	require.ErrorContains(err, proposalID.String())

	// The debit was refunded but the proposal stays consumed.
	require.Equal(uint64(1000), env.safe.Balance())

	proposal, _, err := env.safe.Proposal(proposalID)
	require.NoError(err)
	require.True(proposal.Executed)

	err = env.safe.Execute(context.Background(), owner1, proposalID)
	require.ErrorIs(err, ErrAlreadyExecuted)
}

func TestExecuteInsufficientFunds(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)

	_, err := env.safe.Deposit(100)
	require.NoError(err)

	proposalID, err := env.safe.Submit(owner1, target, 400, nil)
	require.NoError(err)

	env.executor.ExecuteF = func(context.Context, ids.ShortID, uint64, []byte) error {
		require.FailNow("executor must not run without funds")
		return nil
	}

	err = env.safe.Execute(context.Background(), owner1, proposalID)
	require.ErrorIs(err, ErrExecutionFailed)
	require.ErrorIs(err, ErrInsufficientFunds)

	// The attempt consumed the proposal without touching the balance.
	require.Equal(uint64(100), env.safe.Balance())

	proposal, _, err := env.safe.Proposal(proposalID)
	require.NoError(err)
	require.True(proposal.Executed)
}

func TestExecuteTimeout(t *testing.T) {
	require := require.New(t)

	cfg := config.DefaultConfig()
	cfg.ExecutionTimeout = 10 * time.Millisecond
	env := newTestSafeWithConfig(t, cfg, 1, owner1)

	_, err := env.safe.Deposit(1000)
	require.NoError(err)

	proposalID, err := env.safe.Submit(owner1, target, 400, nil)
	require.NoError(err)

	env.executor.ExecuteF = func(ctx context.Context, _ ids.ShortID, _ uint64, _ []byte) error {
		<-ctx.Done()
		return ctx.Err()
	}

	err = env.safe.Execute(context.Background(), owner1, proposalID)
	require.ErrorIs(err, ErrExecutionFailed)
	require.ErrorIs(err, context.DeadlineExceeded)
	require.Equal(uint64(1000), env.safe.Balance())
}

func TestExecuteReentrancy(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)

	_, err := env.safe.Deposit(1000)
	require.NoError(err)

	proposalID, err := env.safe.Submit(owner1, target, 400, nil)
	require.NoError(err)

	env.executor.ExecuteF = func(ctx context.Context, _ ids.ShortID, _ uint64, _ []byte) error {
		// The executed flag is already committed, so calling back into
		// the safe cannot double spend the proposal.
		err := env.safe.Execute(ctx, owner1, proposalID)
		require.ErrorIs(err, ErrAlreadyExecuted)

		_, err = env.safe.Approve(owner1, proposalID)
		require.ErrorIs(err, ErrAlreadyExecuted)
		return nil
	}

	require.NoError(env.safe.Execute(context.Background(), owner1, proposalID))
	require.Equal(uint64(600), env.safe.Balance())
}

func TestExecuteLiveQuorum(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 3, owner1, owner2, owner3)

	proposalID, err := env.safe.Submit(owner1, target, 0, nil)
	require.NoError(err)
	_, err = env.safe.Approve(owner2, proposalID)
	require.NoError(err)

	err = env.safe.Execute(context.Background(), owner1, proposalID)
	require.ErrorIs(err, ErrInsufficientApprovals)

	// The requirement is read at execution time: a renounce lowers it and
	// unblocks proposals that were short under the old one.
	require.NoError(env.safe.Renounce(owner3))
	require.Equal(uint64(2), env.safe.Quorum())

	require.NoError(env.safe.Execute(context.Background(), owner1, proposalID))
}

func TestDeposit(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)

	_, err := env.safe.Deposit(0)
	require.ErrorIs(err, ErrZeroAmount)

	balance, err := env.safe.Deposit(400)
	require.NoError(err)
	require.Equal(uint64(400), balance)

	balance, err = env.safe.Deposit(100)
	require.NoError(err)
	require.Equal(uint64(500), balance)
	require.Equal(uint64(500), env.safe.Balance())

	event := env.sink.last()
	require.Equal(EventDeposited, event.Type)

	// The balance saturates at the top of the range.
	env.state.SetBalance(^uint64(0))
	require.NoError(env.state.Commit())
	_, err = env.safe.Deposit(1)
	require.ErrorIs(err, ErrBalanceOverflow)
}

func TestProposalPayloadImmutable(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 1, owner1)

	payload := []byte{1, 2, 3}
	proposalID, err := env.safe.Submit(owner1, target, 0, payload)
	require.NoError(err)

	// Mutating the submitted slice must not reach the stored record.
	payload[0] = 0xff
	proposal, _, err := env.safe.Proposal(proposalID)
	require.NoError(err)
	require.Equal([]byte{1, 2, 3}, proposal.Payload)

	// Mutating a returned record must not reach later readers.
	proposal.Payload[1] = 0xff
	again, _, err := env.safe.Proposal(proposalID)
	require.NoError(err)
	require.Equal([]byte{1, 2, 3}, again.Payload)
}

func TestOwnersQuery(t *testing.T) {
	require := require.New(t)

	env := newTestSafe(t, 2, owner2, owner1)

	require.Equal(safeAddr, env.safe.Address())
	require.Equal([]ids.ShortID{owner1, owner2}, env.safe.Owners())
	require.Equal(uint64(2), env.safe.Quorum())
	require.Zero(env.safe.Balance())
	require.Zero(env.safe.Nonce())
}
