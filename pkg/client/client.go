// Package client is a Go client for the RPC engine. A Client holds one
// session and numbers its requests with communication ids so a request
// resent after a transport failure is answered from the server's response
// cache instead of executing twice.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/wire"
)

const (
	sessionObject = "$session"

	// DefaultRetries is the number of resends after a transport failure.
	DefaultRetries = 2

	// DefaultRetryDelay is the pause before the first resend. It doubles
	// on each further attempt.
	DefaultRetryDelay = 100 * time.Millisecond
)

// Transport carries one request frame to the server and returns the
// response frame.
type Transport interface {
	RoundTrip(ctx context.Context, frame []byte) ([]byte, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, frame []byte) ([]byte, error)

func (f TransportFunc) RoundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	return f(ctx, frame)
}

// CallbackFunc receives callback results piggybacked on responses.
type CallbackFunc func(r wire.Result)

// Options configures a Client.
type Options struct {
	// Serializer defaults to the universal serializer.
	Serializer wire.Serializer

	// AcceptGzip lets the server compress responses.
	AcceptGzip bool

	// CompressThreshold compresses request payloads of at least this many
	// bytes. Zero never compresses.
	CompressThreshold int

	Retries    int
	RetryDelay time.Duration

	// OnCallback is called for every callback result, in response order.
	OnCallback CallbackFunc
}

// sequence is the communication id counter of a master session. Sub
// session clients share the master's sequence since the server keeps one
// response slot per master.
type sequence struct {
	mu   sync.Mutex
	next int64

	// pending is a request whose response was lost. It is resent before
	// any new request so the server's cache stays in step.
	pending []byte
}

// Client is a session bound RPC client. It is safe for concurrent use;
// requests of a master and its subs are serialized.
type Client struct {
	transport Transport
	opts      Options
	seq       *sequence

	mu        sync.RWMutex
	sessionID string
	props     map[string]any
}

// New returns a Client without a session.
func New(t Transport, opts Options) *Client {
	if opts.Serializer == nil {
		opts.Serializer = wire.Universal{}
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Client{
		transport: t,
		opts:      opts,
		seq:       &sequence{next: 1},
		props:     map[string]any{},
	}
}

// SessionID returns the id of the client's session, or "".
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Property returns a session property last reported by the server.
func (c *Client) Property(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.props[key]
	return v, ok
}

// Properties returns a copy of the properties last reported by the server.
func (c *Client) Properties() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.props)
}

// Do sends calls in one request and returns the call results. Property and
// callback entries of the response are consumed by the client. The last
// result is a CALL_ERROR when a call failed; calls after it did not run.
func (c *Client) Do(ctx context.Context, calls ...wire.Call) ([]wire.Result, error) {
	c.seq.mu.Lock()
	defer c.seq.mu.Unlock()

	if c.seq.pending != nil {
		raw, err := c.send(ctx, c.seq.pending)
		if err != nil {
			return nil, fmt.Errorf("resend pending request: %w", err)
		}
		c.seq.pending = nil
		c.seq.next++
		if results, err := wire.ReadResponse(bytes.NewReader(raw), c.opts.Serializer); err == nil {
			c.absorb(results)
		}
	}

	commID := c.seq.next
	frame, err := c.encode(commID, calls)
	if err != nil {
		return nil, err
	}

	raw, err := c.send(ctx, frame)
	if err != nil {
		if c.SessionID() != "" {
			c.seq.pending = frame
		}
		return nil, err
	}

	results, err := wire.ReadResponse(bytes.NewReader(raw), c.opts.Serializer)
	if err != nil {
		// A broken response releases the id on the server.
		return nil, err
	}
	c.seq.next++
	return c.absorb(results), nil
}

// Call invokes object.method and returns its value.
func (c *Client) Call(ctx context.Context, object, method string, params ...any) (any, error) {
	return c.single(ctx, wire.Call{Object: object, Method: method, Params: params})
}

// CallAsync invokes object.method as a callback call. Its result arrives
// later through Options.OnCallback with the given id. With force set a nil
// result is reported too.
func (c *Client) CallAsync(ctx context.Context, id int64, force bool, object, method string, params ...any) error {
	results, err := c.Do(ctx, wire.Call{
		Object:        object,
		Method:        method,
		Params:        params,
		HasCallback:   true,
		CallbackID:    id,
		ForceCallback: force,
	})
	if err != nil {
		return err
	}
	return lastError(results)
}

// Poll sends an empty request to collect pending callback results.
func (c *Client) Poll(ctx context.Context) error {
	_, err := c.Do(ctx)
	return err
}

// Create opens a master session of application.
func (c *Client) Create(ctx context.Context, application string, props map[string]any) error {
	if c.SessionID() != "" {
		return rpcerrors.NewProtocolError("client already holds session %s", c.SessionID())
	}
	v, err := c.single(ctx, sessionCall("create", application, props))
	if err != nil {
		return err
	}
	id, ok := v.(string)
	if !ok {
		return rpcerrors.NewProtocolError("unexpected session id %T", v)
	}
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
	return nil
}

// CreateSub opens a sub session of the client's master and returns a
// client bound to it.
func (c *Client) CreateSub(ctx context.Context, props map[string]any) (*Client, error) {
	v, err := c.single(ctx, sessionCall("createSub", props))
	if err != nil {
		return nil, err
	}
	id, ok := v.(string)
	if !ok {
		return nil, rpcerrors.NewProtocolError("unexpected session id %T", v)
	}
	return &Client{
		transport: c.transport,
		opts:      c.opts,
		seq:       c.seq,
		sessionID: id,
		props:     map[string]any{},
	}, nil
}

// Destroy ends the client's session.
func (c *Client) Destroy(ctx context.Context) error {
	if _, err := c.single(ctx, sessionCall("destroy")); err != nil {
		return err
	}
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
	return nil
}

// GetProperty reads a session property from the server.
func (c *Client) GetProperty(ctx context.Context, key string) (any, error) {
	return c.single(ctx, sessionCall("getProperty", key))
}

// SetProperty writes a client writable session property.
func (c *Client) SetProperty(ctx context.Context, key string, value any) error {
	_, err := c.single(ctx, sessionCall("setProperty", key, value))
	return err
}

// SetNewPassword changes the password of the session's user.
func (c *Client) SetNewPassword(ctx context.Context, oldPassword, newPassword string) error {
	_, err := c.single(ctx, sessionCall("setNewPassword", oldPassword, newPassword))
	return err
}

// SetAndCheckAlive marks ids alive and returns the ones no longer valid.
func (c *Client) SetAndCheckAlive(ctx context.Context, ids ...string) ([]string, error) {
	list := make([]any, len(ids))
	for i, id := range ids {
		list[i] = id
	}
	v, err := c.single(ctx, sessionCall("setAndCheckAlive", list))
	if err != nil {
		return nil, err
	}
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, fmt.Sprint(it))
	}
	return out, nil
}

func (c *Client) single(ctx context.Context, call wire.Call) (any, error) {
	results, err := c.Do(ctx, call)
	if err != nil {
		return nil, err
	}
	if err := lastError(results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, rpcerrors.NewProtocolError("missing result for %s", call)
	}
	return results[len(results)-1].Value, nil
}

func sessionCall(method string, params ...any) wire.Call {
	return wire.Call{Object: sessionObject, Method: method, Params: params}
}

func lastError(results []wire.Result) error {
	if n := len(results); n > 0 && results[n-1].Type == wire.CallError {
		return results[n-1].Err()
	}
	return nil
}

func (c *Client) encode(commID int64, calls []wire.Call) ([]byte, error) {
	var payload bytes.Buffer
	req := wire.Request{HasCommID: true, CommID: commID, Calls: calls}
	if err := req.Encode(c.opts.Serializer.NewEncoder(&payload)); err != nil {
		return nil, err
	}

	h := wire.Header{Marker: wire.MarkerEstablished, SessionID: c.SessionID()}
	if h.SessionID == "" {
		h.Marker = wire.MarkerNewConnection
		h.Serializer = c.opts.Serializer.Name()
	}
	compress := c.opts.CompressThreshold > 0 && payload.Len() >= c.opts.CompressThreshold
	switch {
	case compress:
		h.Compression = wire.CompressionGzip
	case c.opts.AcceptGzip:
		h.Compression = wire.CompressionAccepted
	}

	var buf bytes.Buffer
	if err := wire.WriteHeader(&buf, h); err != nil {
		return nil, err
	}
	if compress {
		if err := wire.Compress(&buf, payload.Bytes()); err != nil {
			return nil, err
		}
	} else {
		buf.Write(payload.Bytes())
	}
	return buf.Bytes(), nil
}

// send round trips frame, resending the same bytes after transport
// failures.
func (c *Client) send(ctx context.Context, frame []byte) ([]byte, error) {
	delay := c.opts.RetryDelay
	var err error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return nil, errors.Join(err, ctx.Err())
			}
		}
		var raw []byte
		if raw, err = c.transport.RoundTrip(ctx, frame); err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("send request: %w", err)
}

// absorb consumes property and callback entries and returns the call
// results.
func (c *Client) absorb(results []wire.Result) []wire.Result {
	out := results[:0:0]
	for _, r := range results {
		switch {
		case r.Type == wire.PropertyResult:
			if m, ok := r.Value.(map[string]any); ok {
				c.mu.Lock()
				maps.Copy(c.props, m)
				c.mu.Unlock()
			}
		case r.Type.HasCallbackID():
			if c.opts.OnCallback != nil {
				c.opts.OnCallback(r)
			}
		default:
			out = append(out, r)
		}
	}
	return out
}
