package objects

import (
	"math"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// Args are the decoded parameters of a call.
type Args []any

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// Require fails unless at least n arguments are present.
func (a Args) Require(n int) error {
	if len(a) < n {
		return rpcerrors.NewInvalidArgumentError("expected %d arguments, got %d", n, len(a))
	}
	return nil
}

// Get returns argument i or nil when absent.
func (a Args) Get(i int) any {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// String returns argument i as a string.
func (a Args) String(i int) (string, error) {
	switch v := a.Get(i).(type) {
	case string:
		return v, nil
	case nil:
		return "", a.missing(i)
	default:
		return "", rpcerrors.NewInvalidArgumentError("argument %d: expected string, got %T", i, v)
	}
}

// Int returns argument i as an int64. Whole floats are accepted because
// some serializers only carry doubles.
func (a Args) Int(i int) (int64, error) {
	switch v := a.Get(i).(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return 0, rpcerrors.NewInvalidArgumentError("argument %d: %v is not an integer", i, v)
		}
		return int64(v), nil
	case nil:
		return 0, a.missing(i)
	default:
		return 0, rpcerrors.NewInvalidArgumentError("argument %d: expected integer, got %T", i, v)
	}
}

// Bool returns argument i as a bool.
func (a Args) Bool(i int) (bool, error) {
	switch v := a.Get(i).(type) {
	case bool:
		return v, nil
	case nil:
		return false, a.missing(i)
	default:
		return false, rpcerrors.NewInvalidArgumentError("argument %d: expected bool, got %T", i, v)
	}
}

// Strings returns argument i as a list of strings.
func (a Args) Strings(i int) ([]string, error) {
	switch v := a.Get(i).(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, len(v))
		for j, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, rpcerrors.NewInvalidArgumentError("argument %d[%d]: expected string, got %T", i, j, e)
			}
			out[j] = s
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, rpcerrors.NewInvalidArgumentError("argument %d: expected list, got %T", i, v)
	}
}

// Map returns argument i as a string keyed map.
func (a Args) Map(i int) (map[string]any, error) {
	switch v := a.Get(i).(type) {
	case map[string]any:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, rpcerrors.NewInvalidArgumentError("argument %d: expected map, got %T", i, v)
	}
}

func (a Args) missing(i int) error {
	return rpcerrors.NewInvalidArgumentError("argument %d is missing", i)
}
