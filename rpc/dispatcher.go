package rpc

import (
	"context"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/coilhq/ilp-plugin-bilateral/errs"
)

// Handler answers one inbound call. prefix is the caller-presented plugin
// prefix; args are still-encoded JSON values, decoded by the handler
// itself since method arities vary.
type Handler func(ctx context.Context, prefix string, args []RawMessage) (any, error)

// Methods is the fixed vocabulary of peer-originated RPC methods.
var Methods = []string{
	"send_transfer", "send_message", "send_request", "fulfill_condition",
	"reject_incoming_transfer", "expire_transfer", "get_limit",
	"get_balance", "get_info", "get_fulfillment",
}

// Dispatcher routes inbound Requests to registered Handlers, enforcing
// bearer-token authentication and per-request idempotency bookkeeping.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	known    mapset.Set[string]

	// recentIDs bounds the set of request ids this dispatcher has already
	// answered, so a retried frame short-circuits to the cached response
	// rather than re-running a handler whose own idempotency (via
	// package ledger) would otherwise have to carry the whole weight.
	recentIDs *lru.Cache[string, Response]

	authenticate func(presentedToken string) bool
}

// NewDispatcher returns a Dispatcher with the fixed Methods vocabulary
// pre-registered as "known" (not yet handled — RegisterMethod is still
// required to actually answer one).
func NewDispatcher(authenticate func(token string) bool) *Dispatcher {
	cache, _ := lru.New[string, Response](1024)
	known := mapset.NewSet[string]()
	for _, m := range Methods {
		known.Add(m)
	}
	return &Dispatcher{
		handlers:     make(map[string]Handler),
		known:        known,
		recentIDs:    cache,
		authenticate: authenticate,
	}
}

// RegisterMethod installs h as the Handler for method. Re-registering the
// same method name is an error (RequestHandlerAlreadyRegisteredError for
// the one custom hook callers may install); built-in lifecycle methods
// may be registered exactly once each during engine construction and are
// not expected to be re-registered at runtime.
func (d *Dispatcher) RegisterMethod(method string, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[method]; exists {
		return errs.New(errs.KindRequestHandlerAlreadyRegistered,
			"a handler for %q is already registered", method)
	}
	d.handlers[method] = h
	d.known.Add(method)
	return nil
}

// Dispatch authenticates and routes req, returning the Response to send
// back over the wire. It never panics: a panicking Handler is recovered
// and reported as an error response whose name is the generic "Error".
func (d *Dispatcher) Dispatch(ctx context.Context, presentedToken string, req Request) Response {
	if cached, ok := d.recentIDs.Get(req.ID); ok {
		return cached
	}

	if d.authenticate != nil && !d.authenticate(presentedToken) {
		return d.cache(req.ID, errorResponse(req.ID, errs.New(errs.KindNotAccepted, "authentication failed")))
	}

	d.mu.RLock()
	h, ok := d.handlers[req.Method]
	d.mu.RUnlock()
	if !ok {
		return d.cache(req.ID, errorResponse(req.ID, fmt.Errorf("rpc: unknown method %q", req.Method)))
	}

	result, err := d.invoke(ctx, h, req)
	if err != nil {
		return d.cache(req.ID, errorResponse(req.ID, err))
	}

	raw, err := wireJSON.Marshal(result)
	if err != nil {
		return d.cache(req.ID, errorResponse(req.ID, err))
	}
	return d.cache(req.ID, Response{ID: req.ID, Result: raw})
}

// Call builds a Request for method/prefix/args and dispatches it directly
// against this Dispatcher, bypassing any transport. This is what an
// in-process loopback peer (or a test double) uses to satisfy the same
// Call(ctx, method, prefix, args...) shape a real *rpc.Client or accepted
// *rpc.Conn exposes.
func (d *Dispatcher) Call(ctx context.Context, method, prefix string, args ...any) (Response, error) {
	req, err := NewRequest(method, prefix, args...)
	if err != nil {
		return Response{}, err
	}
	resp := d.Dispatch(ctx, "", req)
	if resp.Error != nil {
		return resp, errs.New(errs.Kind(resp.Error.Name), resp.Error.Message)
	}
	return resp, nil
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, req Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rpc: handler for %q panicked: %v", req.Method, r)
		}
	}()
	return h(ctx, req.Prefix, req.Args)
}

func (d *Dispatcher) cache(id string, resp Response) Response {
	d.recentIDs.Add(id, resp)
	return resp
}

func errorResponse(id string, err error) Response {
	if kind, ok := errs.KindOf(err); ok {
		return Response{ID: id, Error: &WireError{Name: string(kind), Message: err.Error()}}
	}
	return Response{ID: id, Error: &WireError{Name: "Error", Message: err.Error()}}
}
