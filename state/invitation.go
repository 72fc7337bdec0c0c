// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import "github.com/luxfi/ids"

// Invitation is a pending offer of ownership. It is usable until the clock
// passes [Expiry]; expired invitations are rejected on use and stay stored
// until a re-invite overwrites them or the invitee accepts a fresh offer.
type Invitation struct {
	// InvitedBy is the owner that extended the offer.
	InvitedBy ids.ShortID `serialize:"true" json:"invitedBy"`

	// Expiry is the last Unix second at which the offer may be accepted.
	Expiry uint64 `serialize:"true" json:"expiry"`
}
