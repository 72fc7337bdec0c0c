// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package safevm

import (
	"github.com/luxfi/codec"
	"github.com/luxfi/codec/linearcodec"
)

// CodecVersion is the current codec version of the genesis format.
const CodecVersion = 0

// Codec serializes the genesis.
var Codec codec.Manager

func init() {
	c := linearcodec.NewDefault()

	if err := c.RegisterType(&Genesis{}); err != nil {
		panic(err)
	}

	Codec = codec.NewDefaultManager()
	if err := Codec.RegisterCodec(CodecVersion, c); err != nil {
		panic(err)
	}
}
