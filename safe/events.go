// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safe

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/utils/json"
)

// EventType labels a committed state transition on the event feed.
type EventType string

const (
	EventInvited   EventType = "invited"
	EventAccepted  EventType = "accepted"
	EventRenounced EventType = "renounced"
	EventSubmitted EventType = "submitted"
	EventApproved  EventType = "approved"
	EventRevoked   EventType = "revoked"
	EventExecuted  EventType = "executed"
	EventDeposited EventType = "deposited"
)

// Event describes one committed state transition. Fields that do not apply
// to the event type hold their zero value.
type Event struct {
	Type       EventType   `json:"type"`
	Principal  ids.ShortID `json:"principal"`
	Subject    ids.ShortID `json:"subject"`
	ProposalID ids.ID      `json:"proposalID"`
	Amount     json.Uint64 `json:"amount"`
	Approvals  json.Uint64 `json:"approvals"`
	Expiry     json.Uint64 `json:"expiry"`
	// Deleted reports that a revocation removed the proposal outright.
	Deleted bool `json:"deleted,omitempty"`
}

// Addresses lists the principals a subscriber filter can match against.
func (e *Event) Addresses() [][]byte {
	addrs := make([][]byte, 0, 2)
	if e.Principal != ids.ShortEmpty {
		addrs = append(addrs, e.Principal[:])
	}
	if e.Subject != ids.ShortEmpty {
		addrs = append(addrs, e.Subject[:])
	}
	return addrs
}

// Sink receives events after the transition they describe has been
// committed.
type Sink interface {
	Publish(event *Event)
}

type noSink struct{}

func (noSink) Publish(*Event) {}
