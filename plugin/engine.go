// Copyright 2024 The ilp-plugin-bilateral Authors
// This file is part of the ilp-plugin-bilateral library.

// Package plugin implements the Bilateral Protocol Engine: the state
// machine that drives a TransferLog, a Settlement Backend, an Expiry
// Scheduler, and the RPC layer into the observable contract of a single
// bilateral payment channel with one connected peer.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coilhq/ilp-plugin-bilateral/backend"
	"github.com/coilhq/ilp-plugin-bilateral/errs"
	"github.com/coilhq/ilp-plugin-bilateral/event"
	"github.com/coilhq/ilp-plugin-bilateral/expiry"
	"github.com/coilhq/ilp-plugin-bilateral/ledger"
	"github.com/coilhq/ilp-plugin-bilateral/maxvaluetracker"
	"github.com/coilhq/ilp-plugin-bilateral/rpc"
	"github.com/coilhq/ilp-plugin-bilateral/store"
	"github.com/coilhq/ilp-plugin-bilateral/validator"
	"github.com/coilhq/ilp-plugin-bilateral/xlog"
)

// connState is the engine's connection lifecycle. Mutations to the log and
// RPC dispatch are permitted only in connected.
type connState string

const (
	disconnected  connState = "disconnected"
	connecting    connState = "connecting"
	connected     connState = "connected"
	disconnecting connState = "disconnecting"
)

// peerCaller is the minimal outbound-call surface a connected transport
// gives the engine, satisfied by both *rpc.Client (dial-out role) and the
// *rpc.Conn accepted by an rpc.Server (listen role).
type peerCaller interface {
	Call(ctx context.Context, method, prefix string, args ...any) (rpc.Response, error)
}

// connCaller adapts an accepted *rpc.Conn (no prefix/rate-limit wrapping
// of its own) to peerCaller.
type connCaller struct{ conn *rpc.Conn }

func (c connCaller) Call(ctx context.Context, method, prefix string, args ...any) (rpc.Response, error) {
	return c.conn.CallMethod(ctx, method, prefix, args...)
}

// RequestHandler answers a peer-originated send_request call. Exactly one
// may be registered per Engine.
type RequestHandler func(ctx context.Context, msg validator.Message) (validator.Message, error)

// Engine is the façade referenced throughout this module as the plugin:
// it exposes SendTransfer, FulfillCondition, RejectIncomingTransfer,
// SendMessage, SendRequest, the balance/info/account accessors, and event
// subscription — never the underlying log or backend handles. The one
// transport handle it exposes is Dispatcher, for wiring an rpc.Server.
type Engine struct {
	opts   Options
	logger xlog.Logger

	log        *ledger.Log
	bus        *event.Bus
	scheduler  *expiry.Scheduler
	dispatcher *rpc.Dispatcher

	backendImpl backend.Backend
	pctx        *backend.Context

	stateful bool
	account  string
	peer2    string // peer's account name
	addrs    validator.Addresses

	mu        sync.RWMutex
	state     connState
	peer      peerCaller
	peerReady chan *rpc.Conn

	client *rpc.Client

	handlerMu sync.Mutex
	onRequest RequestHandler
}

// New constructs an Engine. It does not connect; call Connect to do that.
func New(opts Options) (*Engine, error) {
	if opts.Backend == nil && opts.Role == "" {
		return nil, errs.New(errs.KindInvalidFields, "asymmetric mode (no Backend) requires Role")
	}

	e := &Engine{
		opts:      opts,
		logger:    opts.logger(),
		state:     disconnected,
		peerReady: make(chan *rpc.Conn, 1),
	}

	if opts.Backend != nil {
		e.backendImpl = opts.Backend
		e.stateful = true
	} else {
		account, peerAccount := string(RoleServer), string(RoleClient)
		if opts.Role == RoleClient {
			account, peerAccount = string(RoleClient), string(RoleServer)
		}
		e.backendImpl = &backend.NoopBackend{Account: account, PeerAccount: peerAccount, AuthToken: opts.Token, Info: opts.Info}
		e.stateful = opts.Stateful
	}

	var err error
	if opts.Store != nil && opts.LogKey != "" {
		e.log, err = ledger.Load(opts.Store, opts.LogKey)
	} else {
		e.log = ledger.New()
	}
	if err != nil {
		return nil, fmt.Errorf("plugin: loading transfer log: %w", err)
	}
	if e.stateful {
		if opts.MaxBalance != "" {
			e.log.SetMaximum(opts.MaxBalance)
		}
		if opts.MinBalance != "" {
			e.log.SetMinimum(opts.MinBalance)
		}
	}

	e.bus = event.New(e.onHandlerPanic)
	e.scheduler = expiry.New(e.onExpiry, e.logger)

	e.pctx = &backend.Context{
		State:           make(map[string]any),
		RPC:             rpcHandle{e: e},
		BackendFactory:  storeFactory{s: opts.Store},
		TransferLogView: e.log,
		Plugin:          facade{e: e},
	}

	e.dispatcher = rpc.NewDispatcher(nil) // connection-level auth happens at handshake, see rpc.Server/Client
	e.registerMethods()

	return e, nil
}

// storeFactory adapts a store.Store into backend.Factory.
type storeFactory struct{ s store.Store }

func (f storeFactory) NewTracker(key string) (*maxvaluetracker.Tracker, error) {
	if f.s == nil {
		return maxvaluetracker.New(), nil
	}
	return maxvaluetracker.Load(f.s, key)
}

type rpcHandle struct{ e *Engine }

func (h rpcHandle) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	resp, err := h.e.callPeer(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

type facade struct{ e *Engine }

func (f facade) GetAccount() string     { return f.e.GetAccount() }
func (f facade) GetPeerAccount() string { return f.e.GetPeerAccount() }

// Authorize checks a presented bearer token against the backend's
// authoritative secret, used by rpc.Server at connection-handshake time.
func (e *Engine) Authorize(token string) bool {
	secret := e.backendImpl.GetAuthToken(e.pctx)
	if secret == "" {
		secret = e.opts.Token
	}
	return verifyBearerToken(token, secret)
}

// Dispatcher exposes the registered-method dispatcher for cmd wiring.
func (e *Engine) Dispatcher() *rpc.Dispatcher { return e.dispatcher }

// Connect transitions disconnected -> connecting -> connected, dialing out
// if RPCURIs are configured or otherwise waiting for an inbound connection
// accepted via AcceptConn (see server role wiring in package cmd).
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.state != disconnected {
		e.mu.Unlock()
		return errs.New(errs.KindNotAccepted, "engine is not disconnected (state=%s)", e.state)
	}
	e.state = connecting
	e.mu.Unlock()

	if err := e.backendImpl.Construct(ctx, e.pctx, e.opts.BackendOptions); err != nil {
		e.setState(disconnected)
		return fmt.Errorf("plugin: backend construct: %w", err)
	}

	var peer peerCaller
	if len(e.opts.RPCURIs) > 0 {
		secret := e.backendImpl.GetAuthToken(e.pctx)
		if secret == "" {
			secret = e.opts.Token
		}
		bearer, err := signBearerToken(secret, e.backendImpl.GetAccount(e.pctx))
		if err != nil {
			e.setState(disconnected)
			return fmt.Errorf("plugin: signing bearer token: %w", err)
		}
		e.client = rpc.NewClient(e.opts.RPCURIs, bearer, e.dispatcher)
		if err := e.client.Dial(ctx); err != nil {
			e.setState(disconnected)
			return err
		}
		peer = e.client
	} else {
		select {
		case conn := <-e.peerReady:
			peer = connCaller{conn: conn}
		case <-ctx.Done():
			e.setState(disconnected)
			return ctx.Err()
		}
	}

	e.mu.Lock()
	e.peer = peer
	e.mu.Unlock()

	e.account = e.backendImpl.GetAccount(e.pctx)
	e.peer2 = e.backendImpl.GetPeerAccount(e.pctx)
	e.addrs = validator.Addresses{Prefix: e.opts.Prefix, Account: e.account, Peer: e.peer2}

	if err := e.backendImpl.Connect(ctx, e.pctx); err != nil {
		e.setState(disconnected)
		return fmt.Errorf("plugin: backend connect: %w", err)
	}

	e.setState(connected)
	e.bus.Emit(event.Event{Type: event.Connect})
	return nil
}

// AcceptConn hands the engine a server-accepted duplex connection; it is
// the onConn callback an rpc.Server is constructed with in listen mode.
func (e *Engine) AcceptConn(conn *rpc.Conn) {
	select {
	case e.peerReady <- conn:
	default:
		// A peer is already connecting or connected; a second inbound
		// connection is refused by closing it (single-peer-per-instance).
		conn.Close()
	}
}

// Disconnect transitions to disconnecting so no new public operation is
// accepted, stops the expiry scheduler, closes the peer connection, then
// performs final backend settlement. It does not wait for in-flight RPC:
// closing the connection fails any call still awaiting a reply.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	if e.state != connected {
		e.mu.Unlock()
		return nil
	}
	e.state = disconnecting
	e.mu.Unlock()

	e.scheduler.Stop()

	if e.client != nil {
		e.client.Close()
	} else if c, ok := e.peer.(connCaller); ok {
		c.conn.Close()
	}

	err := e.backendImpl.Disconnect(ctx, e.pctx)
	e.setState(disconnected)
	e.bus.Emit(event.Event{Type: event.Disconnect})
	return err
}

func (e *Engine) setState(s connState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) assertConnected() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != connected {
		return errs.New(errs.KindNotConnected, "engine is not connected (state=%s)", e.state)
	}
	return nil
}

// tolerateFailure reports whether an outbound RPC error should be logged
// and swallowed rather than propagated: true for the stateful side
// (the expiry timer is authoritative regardless) and whenever
// TolerateRPCFailure is explicitly set.
func (e *Engine) tolerateFailure() bool {
	return e.stateful || e.opts.TolerateRPCFailure
}

func (e *Engine) callPeer(ctx context.Context, method string, args ...any) (rpc.Response, error) {
	e.mu.RLock()
	peer := e.peer
	prefix := e.opts.Prefix
	e.mu.RUnlock()
	if peer == nil {
		return rpc.Response{}, errs.New(errs.KindNotConnected, "no active peer connection")
	}
	return peer.Call(ctx, method, prefix, args...)
}

func (e *Engine) onHandlerPanic(t event.Type, r any) {
	e.logger.Error("event handler panicked", "event", string(t), "panic", r)
}

// On subscribes h to every event this Engine emits; the returned function
// unsubscribes it.
func (e *Engine) On(h event.Handler) (unsubscribe func()) {
	return e.bus.Subscribe(h)
}

// OnRequest registers the single custom handler for peer-originated
// send_request calls. Registering a second handler fails with
// RequestHandlerAlreadyRegistered.
func (e *Engine) OnRequest(h RequestHandler) error {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	if e.onRequest != nil {
		return errs.New(errs.KindRequestHandlerAlreadyRegistered, "a send_request handler is already registered")
	}
	e.onRequest = h
	return nil
}

// GetAccount returns this side's account name, synchronously.
func (e *Engine) GetAccount() string { return e.backendImpl.GetAccount(e.pctx) }

// GetPeerAccount returns the peer's account name, synchronously.
func (e *Engine) GetPeerAccount() string { return e.backendImpl.GetPeerAccount(e.pctx) }
