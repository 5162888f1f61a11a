package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// ResultType tags each entry of a response.
type ResultType int

const (
	CallResult ResultType = iota + 1
	CallError
	PropertyResult
	CallbackResult
	CallbackError
	CallbackResultResult
)

func (t ResultType) String() string {
	switch t {
	case CallResult:
		return "CALL_RESULT"
	case CallError:
		return "CALL_ERROR"
	case PropertyResult:
		return "PROPERTY_RESULT"
	case CallbackResult:
		return "CALLBACK_RESULT"
	case CallbackError:
		return "CALLBACK_ERROR"
	case CallbackResultResult:
		return "CALLBACK_RESULT_RESULT"
	default:
		return fmt.Sprintf("ResultType(%d)", int(t))
	}
}

// HasCallbackID reports whether entries of this type carry a callback id.
func (t ResultType) HasCallbackID() bool { return t >= CallbackResult && t <= CallbackResultResult }

// IsError reports whether the entry value is a *RemoteError.
func (t ResultType) IsError() bool { return t == CallError || t == CallbackError }

// Result is one response entry.
type Result struct {
	Type       ResultType
	Value      any
	CallbackID int64
}

// Err returns the entry's error for error-typed results.
func (r Result) Err() error {
	if !r.Type.IsError() {
		return nil
	}
	if re, ok := r.Value.(*RemoteError); ok {
		return re.AsError()
	}
	return fmt.Errorf("%v", r.Value)
}

// NewErrorResult builds a CALL_ERROR entry.
func NewErrorResult(err error) Result {
	return Result{Type: CallError, Value: FromError(err)}
}

// ResponseOptions controls response encoding.
type ResponseOptions struct {
	// AcceptsGzip enables compression when the payload exceeds Threshold.
	AcceptsGzip bool
	Threshold   int
}

// EncodeResponse builds a complete established response frame. Each entry is
// encoded on its own; if entry k cannot be encoded the response holds the
// entries before it followed by a single CALL_ERROR describing the failure.
func EncodeResponse(s Serializer, results []Result, opts ResponseOptions) ([]byte, error) {
	var body bytes.Buffer
	encoded := make([][]byte, 0, len(results))
	for _, r := range results {
		b, err := encodeResult(s, r)
		if err != nil {
			fail, ferr := encodeResult(s, NewErrorResult(fmt.Errorf("serialize %s: %w", r.Type, err)))
			if ferr != nil {
				return nil, ferr
			}
			encoded = append(encoded, fail)
			break
		}
		encoded = append(encoded, b)
	}

	if err := s.NewEncoder(&body).Encode(int64(len(encoded))); err != nil {
		return nil, err
	}
	for _, b := range encoded {
		body.Write(b)
	}

	var out bytes.Buffer
	if opts.AcceptsGzip && body.Len() > opts.Threshold {
		out.Grow(body.Len()/2 + 16)
		out.Write([]byte{MarkerEstablished, CompressionGzip})
		if err := Compress(&out, body.Bytes()); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
	out.Grow(body.Len() + 2)
	out.Write([]byte{MarkerEstablished, CompressionNone})
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func encodeResult(s Serializer, r Result) ([]byte, error) {
	var buf bytes.Buffer
	enc := s.NewEncoder(&buf)
	if err := enc.Encode(int64(r.Type)); err != nil {
		return nil, err
	}
	if err := enc.Encode(r.Value); err != nil {
		return nil, err
	}
	if r.Type.HasCallbackID() {
		if err := enc.Encode(r.CallbackID); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ReadResponse decodes a response frame. A broken frame is returned as an
// error holding the transported exception.
func ReadResponse(r io.Reader, s Serializer) ([]Result, error) {
	var pre [2]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return nil, rpcerrors.NewProtocolError("read response header: %v", err)
	}
	switch pre[0] {
	case MarkerBroken:
		re, err := ReadBroken(r)
		if err != nil {
			return nil, err
		}
		if re == nil {
			return nil, rpcerrors.NewProtocolError("broken stream")
		}
		return nil, re.AsError()
	case MarkerEstablished:
	default:
		return nil, rpcerrors.NewProtocolError("invalid stream marker 0x%02x", pre[0])
	}

	if pre[1] == CompressionGzip {
		data, err := Decompress(r, 0)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}

	dec := s.NewDecoder(r)
	v, err := dec.Decode()
	if err != nil {
		return nil, rpcerrors.NewProtocolError("read result count: %v", err)
	}
	n, ok := asInt(v)
	if !ok || n < 0 || n > maxElements {
		return nil, rpcerrors.NewProtocolError("invalid result count %v", v)
	}

	results := make([]Result, 0, n)
	for i := int64(0); i < n; i++ {
		res, err := decodeResult(dec)
		if err != nil {
			return nil, rpcerrors.NewProtocolError("read result %d: %v", i+1, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func decodeResult(dec Decoder) (Result, error) {
	v, err := dec.Decode()
	if err != nil {
		return Result{}, err
	}
	t, ok := asInt(v)
	if !ok || ResultType(t) < CallResult || ResultType(t) > CallbackResultResult {
		return Result{}, fmt.Errorf("invalid result type %v", v)
	}
	res := Result{Type: ResultType(t)}
	if res.Value, err = dec.Decode(); err != nil {
		return Result{}, err
	}
	if res.Type.IsError() {
		if _, ok := res.Value.(*RemoteError); !ok {
			return Result{}, errors.New("error result without error value")
		}
	}
	if res.Type.HasCallbackID() {
		v, err := dec.Decode()
		if err != nil {
			return Result{}, err
		}
		if res.CallbackID, ok = asInt(v); !ok {
			return Result{}, fmt.Errorf("invalid callback id %v", v)
		}
	}
	return res, nil
}
