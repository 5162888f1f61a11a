package wire

import (
	"fmt"
	"io"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Universal is the default serializer: a self-describing tagged encoding
// built from XDR primitives.
type Universal struct{}

const (
	tagNil uint32 = iota
	tagBool
	tagInt
	tagFloat
	tagString
	tagBytes
	tagList
	tagMap
	tagTime
	tagError
)

// maxElements bounds decoded list and map sizes.
const maxElements = 1 << 20

func (Universal) Name() string { return "universal" }

func (Universal) NewEncoder(w io.Writer) Encoder { return &universalEncoder{w: w} }

func (Universal) NewDecoder(r io.Reader) Decoder { return &universalDecoder{r: r} }

type universalEncoder struct{ w io.Writer }

func (e *universalEncoder) Encode(v any) error {
	n, err := Normalize(v)
	if err != nil {
		return err
	}
	return e.encode(n)
}

func (e *universalEncoder) put(v any) error {
	_, err := xdr.Marshal(e.w, v)
	return err
}

func (e *universalEncoder) tagged(tag uint32, v any) error {
	if err := e.put(tag); err != nil {
		return err
	}
	return e.put(v)
}

func (e *universalEncoder) encode(v any) error {
	switch t := v.(type) {
	case nil:
		return e.put(tagNil)
	case bool:
		return e.tagged(tagBool, t)
	case int64:
		return e.tagged(tagInt, t)
	case float64:
		return e.tagged(tagFloat, t)
	case string:
		return e.tagged(tagString, t)
	case []byte:
		return e.tagged(tagBytes, t)
	case time.Time:
		if err := e.tagged(tagTime, t.Unix()); err != nil {
			return err
		}
		return e.put(int32(t.Nanosecond()))
	case []any:
		if err := e.tagged(tagList, uint32(len(t))); err != nil {
			return err
		}
		for _, el := range t {
			if err := e.encode(el); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if err := e.tagged(tagMap, uint32(len(t))); err != nil {
			return err
		}
		for _, k := range sortedKeys(t) {
			if err := e.put(k); err != nil {
				return err
			}
			if err := e.encode(t[k]); err != nil {
				return err
			}
		}
		return nil
	case *RemoteError:
		if err := e.put(tagError); err != nil {
			return err
		}
		return e.remoteError(t)
	default:
		return fmt.Errorf("type %T is not wire-eligible", v)
	}
}

func (e *universalEncoder) remoteError(re *RemoteError) error {
	frames := re.Frames
	if frames == nil {
		frames = []string{}
	}
	for _, v := range []any{re.Class, re.Message, frames, re.Cause != nil} {
		if err := e.put(v); err != nil {
			return err
		}
	}
	if re.Cause != nil {
		return e.remoteError(re.Cause)
	}
	return nil
}

type universalDecoder struct{ r io.Reader }

func (d *universalDecoder) get(v any) error {
	_, err := xdr.Unmarshal(d.r, v)
	return err
}

func (d *universalDecoder) Decode() (any, error) {
	var tag uint32
	if err := d.get(&tag); err != nil {
		return nil, err
	}

	switch tag {
	case tagNil:
		return nil, nil
	case tagBool:
		var b bool
		err := d.get(&b)
		return b, err
	case tagInt:
		var i int64
		err := d.get(&i)
		return i, err
	case tagFloat:
		var f float64
		err := d.get(&f)
		return f, err
	case tagString:
		var s string
		err := d.get(&s)
		return s, err
	case tagBytes:
		var b []byte
		if err := d.get(&b); err != nil {
			return nil, err
		}
		if b == nil {
			b = []byte{}
		}
		return b, nil
	case tagTime:
		var (
			sec  int64
			nsec int32
		)
		if err := d.get(&sec); err != nil {
			return nil, err
		}
		if err := d.get(&nsec); err != nil {
			return nil, err
		}
		return time.Unix(sec, int64(nsec)).UTC(), nil
	case tagList:
		n, err := d.length()
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			if out[i], err = d.Decode(); err != nil {
				return nil, err
			}
		}
		return out, nil
	case tagMap:
		n, err := d.length()
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, n)
		for i := 0; i < n; i++ {
			var k string
			if err := d.get(&k); err != nil {
				return nil, err
			}
			if out[k], err = d.Decode(); err != nil {
				return nil, err
			}
		}
		return out, nil
	case tagError:
		return d.remoteError()
	default:
		return nil, fmt.Errorf("unknown value tag %d", tag)
	}
}

func (d *universalDecoder) length() (int, error) {
	var n uint32
	if err := d.get(&n); err != nil {
		return 0, err
	}
	if n > maxElements {
		return 0, fmt.Errorf("collection of %d elements exceeds limit", n)
	}
	return int(n), nil
}

func (d *universalDecoder) remoteError() (*RemoteError, error) {
	re := &RemoteError{}
	var hasCause bool
	for _, v := range []any{&re.Class, &re.Message, &re.Frames, &hasCause} {
		if err := d.get(v); err != nil {
			return nil, err
		}
	}
	if len(re.Frames) == 0 {
		re.Frames = nil
	}
	if hasCause {
		cause, err := d.remoteError()
		if err != nil {
			return nil, err
		}
		re.Cause = cause
	}
	return re, nil
}
