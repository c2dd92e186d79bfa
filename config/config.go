// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Package config loads the recognized configuration options from a TOML
// file, node-configuration style, and turns them into a plugin.Options
// ready to pass to plugin.New.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/coilhq/ilp-plugin-bilateral/plugin"
)

// File is the on-disk TOML shape. Field names follow the engine's
// recognized configuration keys verbatim, snake_cased for TOML.
type File struct {
	Prefix             string `toml:"prefix"`
	Token              string `toml:"token"`
	RPCURI             string `toml:"rpc_uri"`
	RPCURIs            []string `toml:"rpc_uris"`
	TolerateRPCFailure bool   `toml:"tolerate_rpc_failure"`

	MaxBalance string `toml:"max_balance"`
	MinBalance string `toml:"min_balance"`
	Info       string `toml:"info"` // raw JSON text, embedded as a TOML string

	Role Role `toml:"role"`

	Backend        string         `toml:"backend"` // "noop" | "claim" | "" (defaults to noop)
	BackendOptions map[string]any `toml:"backend_options"`

	Store struct {
		Driver string `toml:"driver"` // "mem" | "leveldb"
		Path   string `toml:"path"`
	} `toml:"store"`
	LogKey string `toml:"log_key"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"` // "terminal" | "json"
	} `toml:"log"`

	Listen string `toml:"listen"` // HTTP address, server role only
}

// Role mirrors plugin.Role in the TOML vocabulary ("server" / "client").
type Role = plugin.Role

// Load parses path as TOML into a File.
func Load(path string) (File, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return File{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return f, nil
}

// ToPluginOptions translates a File into plugin.Options, leaving Backend
// and Store construction to the caller (cmd wires in the concrete
// instances since they carry process lifetime and I/O).
func (f File) ToPluginOptions() (plugin.Options, error) {
	opts := plugin.Options{
		Prefix:             f.Prefix,
		Token:              f.Token,
		TolerateRPCFailure: f.TolerateRPCFailure,
		MaxBalance:         f.MaxBalance,
		MinBalance:         f.MinBalance,
		Role:               f.Role,
		Stateful:           f.Role == plugin.RoleServer,
		LogKey:             f.LogKey,
	}
	if f.RPCURI != "" {
		opts.RPCURIs = append(opts.RPCURIs, f.RPCURI)
	}
	opts.RPCURIs = append(opts.RPCURIs, f.RPCURIs...)

	if f.Info != "" {
		if !json.Valid([]byte(f.Info)) {
			return plugin.Options{}, fmt.Errorf("config: info is not valid JSON: %q", f.Info)
		}
		opts.Info = json.RawMessage(f.Info)
	}

	return opts, nil
}

// Validate reports a usage error for missing required keys before a
// File is acted on.
func (f File) Validate() error {
	if (f.RPCURI == "") == (len(f.RPCURIs) == 0) {
		return fmt.Errorf("config: exactly one of rpc_uri or rpc_uris is required")
	}
	if f.Role == "" && (f.Backend == "" || f.Backend == "noop") {
		return fmt.Errorf("config: role is required in asymmetric (backend-less) mode")
	}
	if f.Role == Role(plugin.RoleClient) && f.Prefix == "" {
		return fmt.Errorf("config: prefix is required in stateless/asymmetric client mode")
	}
	return nil
}

// MustExist is a small existence check used by cmd to fail fast with a
// clear message before attempting a TOML parse.
func MustExist(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
