// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safe

import "errors"

var (
	ErrNotOwner      = errors.New("caller is not an owner")
	ErrZeroAddress   = errors.New("zero address")
	ErrSelfInvite    = errors.New("cannot invite self")
	ErrAlreadyOwner  = errors.New("already an owner")
	ErrNotInvited    = errors.New("no pending invitation")
	ErrInviteExpired = errors.New("invitation expired")
	ErrLastOwner     = errors.New("minimum one owner required")

	ErrSelfTarget       = errors.New("proposal targets the safe")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrProposalNotFound = errors.New("proposal not found")
	ErrAlreadySubmitted = errors.New("proposal already submitted")
	ErrAlreadyExecuted  = errors.New("proposal already executed")
	ErrAlreadyApproved  = errors.New("proposal already approved")
	ErrNotApproved      = errors.New("proposal not approved")

	ErrInsufficientApprovals = errors.New("insufficient approvals")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrExecutionFailed       = errors.New("execution failed")

	ErrZeroAmount      = errors.New("zero amount")
	ErrBalanceOverflow = errors.New("balance overflow")
)
