package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Envelope keys used by the text-oriented serializers for values that have
// no native representation in a JSON-like tree.
const (
	envBytes = "$bytes"
	envTime  = "$time"
	envError = "$error"
	envInt   = "$int"
	envFloat = "$float"
	envMap   = "$map"
)

// treeCodec converts normalized values to and from JSON-like trees.
type treeCodec struct {
	// nativeInts writes int64 as json.Number. Otherwise ints are wrapped.
	nativeInts bool
}

func (c treeCodec) toTree(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string:
		return t, nil
	case int64:
		if c.nativeInts {
			return json.Number(strconv.FormatInt(t, 10)), nil
		}
		return map[string]any{envInt: strconv.FormatInt(t, 10)}, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || (c.nativeInts && t == math.Trunc(t)) {
			return map[string]any{envFloat: strconv.FormatFloat(t, 'g', -1, 64)}, nil
		}
		return t, nil
	case []byte:
		return map[string]any{envBytes: base64.StdEncoding.EncodeToString(t)}, nil
	case time.Time:
		return map[string]any{envTime: t.UTC().Format(time.RFC3339Nano)}, nil
	case *RemoteError:
		return map[string]any{envError: c.errorTree(t)}, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := c.toTree(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := c.toTree(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		if len(t) == 1 && strings.HasPrefix(sortedKeys(t)[0], "$") {
			return map[string]any{envMap: out}, nil
		}
		return out, nil
	default:
		return nil, fmt.Errorf("type %T is not wire-eligible", v)
	}
}

func (c treeCodec) errorTree(re *RemoteError) map[string]any {
	frames := make([]any, len(re.Frames))
	for i, f := range re.Frames {
		frames[i] = f
	}
	m := map[string]any{"class": re.Class, "message": re.Message, "frames": frames}
	if re.Cause != nil {
		m["cause"] = c.errorTree(re.Cause)
	}
	return m
}

func (c treeCodec) fromTree(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := c.fromTree(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		if len(t) == 1 {
			for k, e := range t {
				if strings.HasPrefix(k, "$") {
					return c.fromEnvelope(k, e)
				}
			}
		}
		return c.fromMap(t)
	default:
		return nil, fmt.Errorf("unexpected tree node %T", v)
	}
}

func (c treeCodec) fromMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, e := range m {
		n, err := c.fromTree(e)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

func (c treeCodec) fromEnvelope(key string, v any) (any, error) {
	switch key {
	case envMap:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("malformed %s envelope", key)
		}
		return c.fromMap(m)
	case envError:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("malformed %s envelope", key)
		}
		return c.errorFromTree(m), nil
	}

	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("malformed %s envelope", key)
	}
	switch key {
	case envBytes:
		return base64.StdEncoding.DecodeString(s)
	case envTime:
		return time.Parse(time.RFC3339Nano, s)
	case envInt:
		return strconv.ParseInt(s, 10, 64)
	case envFloat:
		return strconv.ParseFloat(s, 64)
	default:
		return nil, fmt.Errorf("unknown envelope %q", key)
	}
}

func (c treeCodec) errorFromTree(m map[string]any) *RemoteError {
	re := &RemoteError{}
	re.Class, _ = m["class"].(string)
	re.Message, _ = m["message"].(string)
	if frames, ok := m["frames"].([]any); ok {
		for _, f := range frames {
			if s, ok := f.(string); ok {
				re.Frames = append(re.Frames, s)
			}
		}
	}
	if cause, ok := m["cause"].(map[string]any); ok {
		re.Cause = c.errorFromTree(cause)
	}
	return re
}
