package wire

import (
	"encoding/json"
	"io"
)

// JSON serializes values as a stream of JSON documents. Bytes, times,
// errors and integral floats travel in "$"-prefixed envelopes.
type JSON struct{}

var jsonTree = treeCodec{nativeInts: true}

func (JSON) Name() string { return "json" }

func (JSON) NewEncoder(w io.Writer) Encoder {
	return &jsonEncoder{enc: json.NewEncoder(w)}
}

func (JSON) NewDecoder(r io.Reader) Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &jsonDecoder{dec: dec}
}

type jsonEncoder struct{ enc *json.Encoder }

func (e *jsonEncoder) Encode(v any) error {
	n, err := Normalize(v)
	if err != nil {
		return err
	}
	tree, err := jsonTree.toTree(n)
	if err != nil {
		return err
	}
	return e.enc.Encode(tree)
}

type jsonDecoder struct{ dec *json.Decoder }

func (d *jsonDecoder) Decode() (any, error) {
	var raw any
	if err := d.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return jsonTree.fromTree(raw)
}
