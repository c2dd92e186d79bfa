// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Package backend defines the settlement backend interface: a capability
// set the engine consumes to produce and verify claims, plus the plugin
// context threaded through every call. The capability-set-plus-shared-
// context shape is grounded on
// go-ethereum's consensus.Engine interface, consumed by core/miner the
// same way the Plugin Engine consumes a Backend here: a pluggable
// decision-making component the orchestrator calls at fixed points in its
// own state machine, never the other way around.
package backend

import (
	"context"
	"encoding/json"

	"github.com/coilhq/ilp-plugin-bilateral/maxvaluetracker"
)

// Factory is how a Backend obtains backend-owned, Store-backed state, so
// that state shares the Store with the engine's own TransferLog. It mints
// MaxValueTrackers only; it has no method for transfer logs.
type Factory interface {
	// NewTracker returns a maxvaluetracker.Tracker persisted under key.
	NewTracker(key string) (*maxvaluetracker.Tracker, error)
}

// Context is the plugin context threaded through every Backend call:
// State is opaque per-backend scratch, RPC is a handle for
// peer-to-peer backend chatter, BackendFactory mints trackers,
// TransferLogView is a read-only view of the engine's own log, and Plugin
// exposes only the public ledger operations.
type Context struct {
	State map[string]any

	RPC             RPCHandle
	BackendFactory  Factory
	TransferLogView TransferLogView
	Plugin          PluginFacade
}

// RPCHandle is the minimal surface a backend needs to talk to its peer
// backend directly, independent of the transfer-lifecycle
// methods the engine itself drives.
type RPCHandle interface {
	Call(ctx context.Context, method string, args ...any) (json.RawMessage, error)
}

// TransferLogView is the read-only subset of ledger.Log a backend may
// consult.
type TransferLogView interface {
	GetBalance() (string, error)
	GetOutgoingFulfilled() string
	GetIncomingFulfilled() string
}

// PluginFacade is the subset of the engine exposed to a backend: only
// the public ledger operations, never the transport or log internals.
type PluginFacade interface {
	GetAccount() string
	GetPeerAccount() string
}

// Claim is the opaque, JSON-serializable artifact CreateOutgoingClaim may
// return: something the settlement backend hands to the peer so it can
// secure the accumulated balance.
type Claim = json.RawMessage

// Options carries the backend-specific configuration keys passed
// unmodified to the backend constructor.
type Options map[string]any

// Backend is the settlement capability set. Every method except
// Connect/Disconnect is expected to complete in well under a second;
// longer work is the backend's own background responsibility. Neither
// this package nor the Plugin Engine enforces the deadline: the engine
// calls backend methods without a timeout of its own.
type Backend interface {
	// Construct is a one-shot initializer; it may populate ctx.State with
	// backend-owned trackers/logs obtained from ctx.BackendFactory.
	Construct(ctx context.Context, pctx *Context, opts Options) error

	// Connect establishes network resources; it may populate
	// address/prefix/info into pctx.State before returning.
	Connect(ctx context.Context, pctx *Context) error

	// HandleIncomingPrepare is called after an incoming transfer is
	// recorded as prepared. If it returns an error, the engine cancels the
	// transfer and propagates the error to the peer.
	HandleIncomingPrepare(ctx context.Context, pctx *Context, transferID string, amount string) error

	// CreateOutgoingClaim is called after each outgoing fulfillment; it
	// returns a claim, or nil to skip.
	CreateOutgoingClaim(ctx context.Context, pctx *Context, outgoingFulfilledSum string) (Claim, error)

	// HandleIncomingClaim is called with the peer's CreateOutgoingClaim
	// return value immediately after an incoming fulfillment round-trip.
	// Errors here are logged and swallowed by the engine: settlement is
	// best-effort.
	HandleIncomingClaim(ctx context.Context, pctx *Context, claim Claim) error

	// GetAuthToken, GetAccount, GetPeerAccount, GetInfo are synchronous
	// metadata accessors; they must never block.
	GetAuthToken(pctx *Context) string
	GetAccount(pctx *Context) string
	GetPeerAccount(pctx *Context) string
	GetInfo(pctx *Context) json.RawMessage

	// Disconnect performs final settlement; it may submit the best claim
	// on-chain. The engine has already transitioned to `disconnecting` and
	// closed the peer connection before calling this; it does not wait for
	// in-flight RPC to complete first.
	Disconnect(ctx context.Context, pctx *Context) error
}
