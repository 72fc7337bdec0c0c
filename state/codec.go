// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"

	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
)

const CodecVersion = 0

// Codec serializes everything the safe persists.
var Codec codec.Manager

func init() {
	lc := linearcodec.NewDefault()

	err := errors.Join(
		lc.RegisterType(&Invitation{}),
		lc.RegisterType(&Proposal{}),
		lc.RegisterType(&proposalDigest{}),
	)

	Codec = codec.NewDefaultManager()
	if err := errors.Join(err, Codec.RegisterCodec(CodecVersion, lc)); err != nil {
		panic(err)
	}
}
