package rpc

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrhy/tiptree"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// ClientConfig controls a Client.
type ClientConfig struct {
	// Endpoint is the websocket URL of a Server, like ws://host:port/.
	Endpoint string
	// DialTimeout bounds the websocket handshake. 0 means
	// DefaultDialTimeout.
	DialTimeout time.Duration
	// RequestTimeout bounds each request, if the context doesn't have an
	// earlier deadline. 0 means DefaultRequestTimeout.
	RequestTimeout time.Duration
	// Log defaults to a no-op logger.
	Log *zap.Logger
}

// Client sends requests to a Server one at a time. After a request fails
// with a transport error, the connection is unusable and the Client
// should be closed.
type Client struct {
	ws             *websocket.Conn
	requestTimeout time.Duration
	log            *zap.Logger

	mu      sync.Mutex
	entropy io.Reader
}

// Dial connects to the server at cfg.Endpoint.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Endpoint, err)
	}
	return &Client{
		ws:             ws,
		requestTimeout: cfg.RequestTimeout,
		log:            cfg.Log.With(zap.String("endpoint", cfg.Endpoint)),
		entropy:        ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Apply writes v at path on top of prev, returning the new tip.
func (c *Client) Apply(ctx context.Context, prev tiptree.Tip, path string, v tiptree.Value) (tiptree.Tip, error) {
	resp, err := c.roundTrip(ctx, Request{Op: OpApply, Tip: prev, Path: path, Value: v})
	if err != nil {
		return tiptree.Tip{}, err
	}
	return resp.Tip, nil
}

// Resolve reads path at tip.
func (c *Client) Resolve(ctx context.Context, tip tiptree.Tip, path string) (tiptree.Value, bool, error) {
	resp, err := c.roundTrip(ctx, Request{Op: OpResolve, Tip: tip, Path: path})
	if err != nil {
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}
	return resp.Value, true, nil
}

// Close tells the server the client is done, and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	id, err := ulid.New(ulid.Timestamp(time.Now()), c.entropy)
	if err != nil {
		return Response{}, fmt.Errorf("request id: %w", err)
	}
	req.ID = id
	out, err := req.Marshal()
	if err != nil {
		return Response{}, err
	}

	deadline := time.Now().Add(c.requestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.BinaryMessage, out); err != nil {
		c.log.Warn("write failed", zap.Stringer("id", id), zap.Error(err))
		return Response{}, fmt.Errorf("%s %s: %w", req.Op, req.Path, err)
	}
	c.ws.SetReadDeadline(deadline)
	messageType, message, err := c.ws.ReadMessage()
	if err != nil {
		c.log.Warn("read failed", zap.Stringer("id", id), zap.Error(err))
		return Response{}, fmt.Errorf("%s %s: %w", req.Op, req.Path, err)
	}
	if messageType != websocket.BinaryMessage {
		return Response{}, fmt.Errorf("%w: message type %d", ErrFrame, messageType)
	}
	resp, err := UnmarshalResponse(message)
	if err != nil {
		return Response{}, err
	}
	if resp.ID != id {
		return Response{}, fmt.Errorf("%w: response %s to request %s", ErrFrame, resp.ID, id)
	}
	if err := errorFor(resp.Code, resp.Message); err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", req.Op, req.Path, err)
	}
	return resp, nil
}
