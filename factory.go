// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safevm

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// VMID is the unique identifier of this VM.
var VMID = ids.ID{'s', 'a', 'f', 'e', 'v', 'm', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

// Factory creates new safevm instances.
type Factory struct{}

// New returns an uninitialized VM.
func (*Factory) New(log.Logger) (*VM, error) {
	return &VM{}, nil
}
