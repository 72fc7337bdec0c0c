// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/luxfi/constants"
)

var (
	ErrInvalidInviteDuration   = errors.New("invalid invite duration")
	ErrInvalidExecutionTimeout = errors.New("invalid execution timeout")
	ErrInvalidMaxPayloadSize   = errors.New("invalid max payload size")
)

// Config holds configuration for the safe VM.
type Config struct {
	// InviteDuration is how long an ownership invitation stays
	// acceptable. Default: 14 days.
	InviteDuration time.Duration `json:"inviteDuration"`

	// ExecutionTimeout bounds a single executor invocation. Default: 1
	// minute.
	ExecutionTimeout time.Duration `json:"executionTimeout"`

	// MaxPayloadSize caps the size of a proposal payload in bytes.
	// Default: 64 KiB.
	MaxPayloadSize int `json:"maxPayloadSize"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() Config {
	return Config{
		InviteDuration:   14 * 24 * time.Hour,
		ExecutionTimeout: time.Minute,
		MaxPayloadSize:   64 * constants.KiB,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.InviteDuration <= 0 {
		return ErrInvalidInviteDuration
	}
	if c.ExecutionTimeout <= 0 {
		return ErrInvalidExecutionTimeout
	}
	if c.MaxPayloadSize <= 0 {
		return ErrInvalidMaxPayloadSize
	}
	return nil
}

// ParseConfig parses configuration from JSON bytes.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
