package wire

import (
	"fmt"
	"math"
	"strconv"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// Call is one queued method invocation.
type Call struct {
	// Object is a dotted object path. Empty targets the life-cycle object.
	Object string
	Method string
	Params []any

	// HasCallback makes the call asynchronous: its outcome is delivered as
	// a callback result tagged with CallbackID.
	HasCallback bool
	CallbackID  int64
	// ForceCallback delivers the callback result even when it is nil.
	ForceCallback bool
}

func (c Call) String() string {
	if c.Object == "" {
		return c.Method
	}
	return c.Object + "." + c.Method
}

// Request is the serializer-encoded part of a request frame.
type Request struct {
	HasCommID bool
	CommID    int64
	Calls     []Call
}

// Encode writes the request payload.
func (req Request) Encode(enc Encoder) error {
	if req.HasCommID {
		if err := enc.Encode(strconv.FormatInt(req.CommID, 10)); err != nil {
			return err
		}
	}
	if err := enc.Encode(int64(len(req.Calls))); err != nil {
		return err
	}
	for _, c := range req.Calls {
		if err := encodeCall(enc, c); err != nil {
			return fmt.Errorf("encode call %s: %w", c, err)
		}
	}
	return nil
}

func encodeCall(enc Encoder, c Call) error {
	var object any
	if c.Object != "" {
		object = c.Object
	}
	var params any
	if c.Params != nil {
		params = c.Params
	}
	var callback any
	switch {
	case !c.HasCallback:
	case c.ForceCallback:
		callback = []any{c.CallbackID, true}
	default:
		callback = c.CallbackID
	}
	for _, v := range []any{object, c.Method, params, callback} {
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}

// CallReader reads the calls of a request one at a time, so that calls
// after a failure can be drained without being executed.
type CallReader struct {
	dec       Decoder
	HasCommID bool
	CommID    int64
	Count     int
	read      int
}

// NewCallReader reads the optional communication id and the call count.
func NewCallReader(dec Decoder) (*CallReader, error) {
	cr := &CallReader{dec: dec}

	v, err := dec.Decode()
	if err != nil {
		return nil, rpcerrors.NewProtocolError("read call count: %v", err)
	}
	if s, ok := v.(string); ok {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, rpcerrors.NewProtocolError("invalid communication id %q", s)
		}
		cr.HasCommID, cr.CommID = true, id
		if v, err = dec.Decode(); err != nil {
			return nil, rpcerrors.NewProtocolError("read call count: %v", err)
		}
	}

	n, ok := asInt(v)
	if !ok || n < 0 || n > maxElements {
		return nil, rpcerrors.NewProtocolError("invalid call count %v", v)
	}
	cr.Count = int(n)
	return cr, nil
}

// Remaining returns the number of calls not yet read.
func (cr *CallReader) Remaining() int { return cr.Count - cr.read }

// Next reads the next call.
func (cr *CallReader) Next() (Call, error) {
	if cr.read >= cr.Count {
		return Call{}, rpcerrors.NewProtocolError("no more calls")
	}
	cr.read++

	var fields [4]any
	for i := range fields {
		v, err := cr.dec.Decode()
		if err != nil {
			return Call{}, rpcerrors.NewProtocolError("read call %d: %v", cr.read, err)
		}
		fields[i] = v
	}

	var c Call
	switch o := fields[0].(type) {
	case nil:
	case string:
		c.Object = o
	default:
		return Call{}, rpcerrors.NewProtocolError("call %d: object name is %T", cr.read, o)
	}

	m, ok := fields[1].(string)
	if !ok || m == "" {
		return Call{}, rpcerrors.NewProtocolError("call %d: missing method name", cr.read)
	}
	c.Method = m

	switch p := fields[2].(type) {
	case nil:
	case []any:
		c.Params = p
	default:
		return Call{}, rpcerrors.NewProtocolError("call %d: params are %T", cr.read, p)
	}

	switch cb := fields[3].(type) {
	case nil:
	case []any:
		if len(cb) != 2 {
			return Call{}, rpcerrors.NewProtocolError("call %d: malformed callback", cr.read)
		}
		id, ok := asInt(cb[0])
		force, fok := cb[1].(bool)
		if !ok || !fok {
			return Call{}, rpcerrors.NewProtocolError("call %d: malformed callback", cr.read)
		}
		c.HasCallback, c.CallbackID, c.ForceCallback = true, id, force
	default:
		id, ok := asInt(cb)
		if !ok {
			return Call{}, rpcerrors.NewProtocolError("call %d: malformed callback", cr.read)
		}
		c.HasCallback, c.CallbackID = true, id
	}
	return c, nil
}

// Drain reads and discards all remaining calls.
func (cr *CallReader) Drain() error {
	for cr.Remaining() > 0 {
		if _, err := cr.Next(); err != nil {
			return err
		}
	}
	return nil
}

// ReadAll reads every remaining call.
func (cr *CallReader) ReadAll() ([]Call, error) {
	calls := make([]Call, 0, cr.Remaining())
	for cr.Remaining() > 0 {
		c, err := cr.Next()
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, nil
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n), true
		}
	}
	return 0, false
}
