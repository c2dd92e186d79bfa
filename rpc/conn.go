package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/coilhq/ilp-plugin-bilateral/errs"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingPeriod   = pongTimeout * 9 / 10
)

// Conn wraps a single duplex websocket connection and demultiplexes
// inbound frames: a frame carrying a method is routed to the Dispatcher,
// a frame carrying a result or error resolves a pending outbound Call.
// Either peer may originate a call over the same Conn.
type Conn struct {
	ws   *websocket.Conn
	disp *Dispatcher

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Response

	group singleflight.Group

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn takes ownership of ws: it reads from and writes to it until
// Close is called or the underlying connection fails.
func NewConn(ws *websocket.Conn, disp *Dispatcher) *Conn {
	return &Conn{
		ws:      ws,
		disp:    disp,
		pending: make(map[string]chan Response),
		closed:  make(chan struct{}),
	}
}

// Serve reads frames off the wire until the connection closes. It should
// be run in its own goroutine; it returns when the read loop ends.
func (c *Conn) Serve(ctx context.Context) error {
	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	go c.pingLoop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.Close()
			return fmt.Errorf("rpc: read failed: %w", err)
		}

		var f frame
		if err := wireJSON.Unmarshal(data, &f); err != nil {
			continue
		}

		if f.isRequest() {
			go c.handleRequest(ctx, f)
			continue
		}
		c.resolve(Response{ID: f.ID, Result: f.Result, Error: f.Error})
	}
}

func (c *Conn) handleRequest(ctx context.Context, f frame) {
	req := Request{ID: f.ID, Method: f.Method, Prefix: f.Prefix, Args: f.Args}
	resp := c.disp.Dispatch(ctx, c.bearerToken(), req)
	if err := c.writeJSON(resp); err != nil {
		return
	}
}

// bearerToken is a seam for authenticated frames; the reference duplex
// transport authenticates once at handshake (see server.go's Upgrade),
// so a per-frame token is not re-sent.
func (c *Conn) bearerToken() string { return "" }

func (c *Conn) resolve(resp Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

// Call sends req and blocks until the matching Response arrives, ctx is
// done, or the connection closes. Concurrent Calls sharing the same
// Request.ID are collapsed into one wire round trip via singleflight,
// covering the retried-send case in the idempotency story.
func (c *Conn) Call(ctx context.Context, req Request) (Response, error) {
	v, err, _ := c.group.Do(req.ID, func() (any, error) {
		return c.call(ctx, req)
	})
	if err != nil {
		return Response{}, err
	}
	return v.(Response), nil
}

func (c *Conn) call(ctx context.Context, req Request) (Response, error) {
	ch := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()

	if err := c.writeJSON(req); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
		return Response{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
		return Response{}, errs.New(errs.KindNotAccepted, "rpc call %s: %v", req.Method, ctx.Err())
	case <-c.closed:
		return Response{}, fmt.Errorf("rpc: connection closed while awaiting %s", req.Method)
	}
}

func (c *Conn) writeJSON(v any) error {
	data, err := wireJSON.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Close closes the underlying websocket and fails every pending Call.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}
