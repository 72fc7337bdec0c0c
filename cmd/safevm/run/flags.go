// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"errors"

	"github.com/spf13/pflag"
)

const (
	HTTPHostKey       = "http-host"
	HTTPPortKey       = "http-port"
	DBDirKey          = "db-dir"
	GenesisFileKey    = "genesis-file"
	ConfigFileKey     = "config-file"
	AllowedOriginsKey = "allowed-origins"
)

var errGenesisFileRequired = errors.New("genesis file is required")

func AddFlags(flags *pflag.FlagSet) {
	flags.String(HTTPHostKey, "127.0.0.1", "Host of the API server")
	flags.Uint16(HTTPPortKey, 9650, "Port of the API server")
	flags.String(DBDirKey, "", "Directory for the badger database. Empty keeps state in memory")
	flags.String(GenesisFileKey, "", "Path to the genesis JSON file (required)")
	flags.String(ConfigFileKey, "", "Path to the safe config JSON file")
	flags.StringSlice(AllowedOriginsKey, []string{"*"}, "Origins allowed to access the API")
}

type Config struct {
	HTTPHost       string
	HTTPPort       uint16
	DBDir          string
	GenesisFile    string
	ConfigFile     string
	AllowedOrigins []string
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	httpHost, err := flags.GetString(HTTPHostKey)
	if err != nil {
		return nil, err
	}

	httpPort, err := flags.GetUint16(HTTPPortKey)
	if err != nil {
		return nil, err
	}

	dbDir, err := flags.GetString(DBDirKey)
	if err != nil {
		return nil, err
	}

	genesisFile, err := flags.GetString(GenesisFileKey)
	if err != nil {
		return nil, err
	}
	if genesisFile == "" {
		return nil, errGenesisFileRequired
	}

	configFile, err := flags.GetString(ConfigFileKey)
	if err != nil {
		return nil, err
	}

	allowedOrigins, err := flags.GetStringSlice(AllowedOriginsKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPHost:       httpHost,
		HTTPPort:       httpPort,
		DBDir:          dbDir,
		GenesisFile:    genesisFile,
		ConfigFile:     configFile,
		AllowedOrigins: allowedOrigins,
	}, nil
}
