package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// ErrClientClosed is returned by calls on a closed or broken connection.
var ErrClientClosed = errors.New("ipc client closed")

// Client multiplexes calls over one daemon connection. Replies are matched
// to calls by request ID, so several calls may be in flight at once.
type Client struct {
	conn     net.Conn
	maxFrame int
	next     atomic.Uint64

	wmu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response
	err     error
	done    chan struct{}
}

// DialOption configures a Client.
type DialOption func(*Client)

// WithMaxFrame caps request and reply frames at n bytes. It should match the
// daemon's limit so oversized requests fail before they are written.
func WithMaxFrame(n int) DialOption {
	return func(c *Client) {
		if n > 0 {
			c.maxFrame = n
		}
	}
}

// Dial connects to the daemon socket at path.
func Dial(ctx context.Context, path string, opts ...DialOption) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	c := &Client{
		conn:     conn,
		maxFrame: DefaultMaxFrame,
		pending:  make(map[string]chan Response),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection and fails pending calls.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// Call sends req and waits for its reply. The caller's request ID is
// restored on the returned response.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	callerID := req.ID
	req.ID = fmt.Sprintf("c%d", c.next.Add(1))
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if len(payload) > c.maxFrame {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(payload), c.maxFrame)
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.wmu.Lock()
	err = writeFrame(c.conn, payload)
	c.wmu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return nil, err
	}

	select {
	case resp := <-ch:
		resp.ID = callerID
		return &resp, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return nil, ctx.Err()
	case <-c.done:
		// A reply may have landed just before the connection broke.
		select {
		case resp := <-ch:
			resp.ID = callerID
			return &resp, nil
		default:
		}
		return nil, c.closeErr()
	}
}

// Command is a convenience for a channel command call.
func (c *Client) Command(ctx context.Context, command string, payload *string) (*Response, error) {
	return c.Call(ctx, Request{Command: command, Payload: payload})
}

// Control calls a daemon.* method and decodes its data into out, which may
// be nil.
func (c *Client) Control(ctx context.Context, method string, params any, out any) error {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = encoded
	}
	resp, err := c.Call(ctx, Request{Command: method, Params: raw})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		frame, err := readFrame(c.conn, c.maxFrame)
		if err != nil {
			c.fail(err)
			return
		}
		var resp Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			c.fail(fmt.Errorf("decode response: %w", err))
			return
		}
		if resp.ID == "" && resp.Error != nil && resp.Error.Code == CodeFrameTooLarge {
			// The daemon cannot tell which call it dropped.
			c.fail(resp.Error)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %w", ErrClientClosed, err)
	}
	c.pending = make(map[string]chan Response)
	c.conn.Close()
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrClientClosed
	}
	return c.err
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// Watch opens a dedicated connection, starts the stream method and calls fn
// for every event frame until ctx ends, the daemon closes the stream or fn
// returns an error.
func Watch(ctx context.Context, path, method string, params json.RawMessage, fn func([]byte) error) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("dial %s: %w", path, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	payload, err := json.Marshal(Request{ID: "watch", Command: method, Params: params})
	if err != nil {
		return err
	}
	if err := writeFrame(conn, payload); err != nil {
		return err
	}
	ack, err := readFrame(conn, DefaultMaxFrame)
	if err != nil {
		return err
	}
	var resp Response
	if err := json.Unmarshal(ack, &resp); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	for {
		frame, err := readFrame(conn, DefaultMaxFrame)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}
