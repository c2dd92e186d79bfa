package rpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coilhq/ilp-plugin-bilateral/errs"
)

// NewRequest builds a Request with a fresh correlation id, marshaling each
// arg with the same codec the wire envelope itself uses.
func NewRequest(method, prefix string, args ...any) (Request, error) {
	rawArgs := make([]RawMessage, 0, len(args))
	for _, a := range args {
		raw, err := wireJSON.Marshal(a)
		if err != nil {
			return Request{}, fmt.Errorf("rpc: marshaling arg for %s: %w", method, err)
		}
		rawArgs = append(rawArgs, raw)
	}
	return Request{ID: uuid.NewString(), Method: method, Prefix: prefix, Args: rawArgs}, nil
}

// CallMethod is a convenience wrapper around Conn.Call for callers that
// think in terms of (method, prefix, args) rather than a pre-built
// Request, translating a wire-level {error: {name, message}} back into an
// *errs.Error so the caller can type-switch on it.
func (c *Conn) CallMethod(ctx context.Context, method, prefix string, args ...any) (Response, error) {
	req, err := NewRequest(method, prefix, args...)
	if err != nil {
		return Response{}, err
	}
	resp, err := c.Call(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if resp.Error != nil {
		return resp, errs.New(errs.Kind(resp.Error.Name), resp.Error.Message)
	}
	return resp, nil
}
