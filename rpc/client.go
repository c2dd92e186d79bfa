package rpc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/coilhq/ilp-plugin-bilateral/errs"
)

// Client dials one of a list of candidate websocket URIs in order, kept
// connected for the lifetime of the plugin, and issues authenticated
// outbound Calls against whichever one most recently succeeded. The
// ordered failover models a peer published under several equivalent
// addresses (e.g. a primary and a fallback region).
type Client struct {
	URIs      []string
	AuthToken string
	Dispatcher *Dispatcher

	Limiter *rate.Limiter

	mu   sync.Mutex
	conn *Conn
}

// NewClient builds a Client with a conservative default rate limit of
// 50 requests/second, burst 100 — generous enough not to interfere with
// a well-behaved peer, tight enough to bound a misbehaving one.
func NewClient(uris []string, authToken string, disp *Dispatcher) *Client {
	return &Client{
		URIs:       uris,
		AuthToken:  authToken,
		Dispatcher: disp,
		Limiter:    rate.NewLimiter(rate.Limit(50), 100),
	}
}

// Dial connects to the first reachable URI, in list order, and starts its
// read loop. It is idempotent: calling it while already connected is a
// no-op.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	var lastErr error
	for _, uri := range c.URIs {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+c.AuthToken)

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		ws, _, err := dialer.DialContext(ctx, uri, header)
		if err != nil {
			lastErr = err
			continue
		}
		conn := NewConn(ws, c.Dispatcher)
		c.conn = conn
		go func() { _ = conn.Serve(context.Background()) }()
		return nil
	}
	return errs.Wrap(errs.KindNotConnected, lastErr, "no candidate uri was reachable")
}

// Call issues method with args against the currently connected peer,
// rate-limited and assigned a fresh correlation id.
func (c *Client) Call(ctx context.Context, method, prefix string, args ...any) (Response, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return Response{}, err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return Response{}, errs.New(errs.KindNotConnected, "rpc client is not connected")
	}

	return conn.CallMethod(ctx, method, prefix, args...)
}

// Conn exposes the active connection, if any, so a caller needs only a
// Client to also serve inbound dispatch over the same duplex socket.
func (c *Client) Conn() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Connected reports whether Dial has established a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears down the active connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
