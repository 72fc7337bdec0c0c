// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safe

import (
	"context"

	"github.com/luxfi/ids"
)

// Executor carries out an approved proposal. The safe marks the proposal
// executed and debits its value before calling Execute, so an implementation
// that calls back into the safe observes the proposal as already executed.
//
// The payload is opaque to the safe; its interpretation belongs entirely to
// the executor. An error return refunds the debited value but does not
// reopen the proposal.
type Executor interface {
	Execute(ctx context.Context, target ids.ShortID, value uint64, payload []byte) error
}
