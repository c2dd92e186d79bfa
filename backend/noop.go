package backend

import (
	"context"
	"encoding/json"
)

// NoopBackend is the asymmetric-mode default used when no settlement
// backend is configured: every hook is a no-op.
type NoopBackend struct {
	Account     string
	PeerAccount string
	AuthToken   string
	Info        json.RawMessage
}

var _ Backend = (*NoopBackend)(nil)

func (b *NoopBackend) Construct(context.Context, *Context, Options) error { return nil }
func (b *NoopBackend) Connect(context.Context, *Context) error            { return nil }

func (b *NoopBackend) HandleIncomingPrepare(context.Context, *Context, string, string) error {
	return nil
}

func (b *NoopBackend) CreateOutgoingClaim(context.Context, *Context, string) (Claim, error) {
	return nil, nil
}

func (b *NoopBackend) HandleIncomingClaim(context.Context, *Context, Claim) error { return nil }

func (b *NoopBackend) GetAuthToken(*Context) string     { return b.AuthToken }
func (b *NoopBackend) GetAccount(*Context) string       { return b.Account }
func (b *NoopBackend) GetPeerAccount(*Context) string   { return b.PeerAccount }
func (b *NoopBackend) GetInfo(*Context) json.RawMessage { return b.Info }

func (b *NoopBackend) Disconnect(context.Context, *Context) error { return nil }
