package plugin

import (
	"encoding/json"

	"github.com/coilhq/ilp-plugin-bilateral/backend"
	"github.com/coilhq/ilp-plugin-bilateral/store"
	"github.com/coilhq/ilp-plugin-bilateral/xlog"
)

// Role picks the fixed account name an asymmetric, backend-less Engine
// answers to: "server" owns the transfer log and its bounds, "client"
// proxies balance and info over RPC.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Options configures one Engine. Every field mirrors a recognized
// configuration key: Prefix/Token/RPCURIs/TolerateRPCFailure select
// transport and addressing, MaxBalance/MinBalance bound a stateful log,
// Info is returned verbatim from GetInfo, and Backend/BackendOptions wire
// in a Settlement Backend (nil selects the built-in no-op backend and
// asymmetric accounting via Role/Stateful).
type Options struct {
	Prefix             string
	Token              string
	RPCURIs            []string
	TolerateRPCFailure bool

	MaxBalance string
	MinBalance string
	Info       json.RawMessage

	Backend        backend.Backend
	BackendOptions backend.Options

	// Stateful only matters when Backend is nil: it picks which side of an
	// asymmetric pair owns the transfer log's bounds (MaxBalance/MinBalance
	// are applied only when Stateful). With a real Backend configured, both
	// sides are always stateful. config.File.ToPluginOptions derives this
	// from Role == RoleServer; a caller building Options directly is free
	// to set it independently of Role.
	Stateful bool
	Role     Role

	Store  store.Store
	LogKey string

	Logger xlog.Logger
}

func (o Options) logger() xlog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return xlog.Root()
}
