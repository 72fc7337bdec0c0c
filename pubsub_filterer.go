// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safevm

import (
	"github.com/luxfi/pubsub"

	"github.com/luxfi/safevm/safe"
)

var _ pubsub.Filterer = (*filterer)(nil)

type filterer struct {
	event *safe.Event
}

func NewPubSubFilterer(event *safe.Event) pubsub.Filterer {
	return &filterer{event: event}
}

// Filter matches the event's addresses against each subscriber filter. The
// event itself is the published payload.
func (f *filterer) Filter(filters []pubsub.Filter) ([]bool, interface{}) {
	resp := make([]bool, len(filters))
	for _, address := range f.event.Addresses() {
		for i, c := range filters {
			if resp[i] {
				continue
			}
			resp[i] = c.Check(address)
		}
	}
	return resp, f.event
}
