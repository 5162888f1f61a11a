package wire

import (
	"bufio"
	"io"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protobuf serializes each value as a length-delimited
// google.protobuf.Value message. Integers travel as "$int" envelopes so they
// survive the double-typed number field.
type Protobuf struct{}

var protoTree = treeCodec{}

func (Protobuf) Name() string { return "protobuf" }

func (Protobuf) NewEncoder(w io.Writer) Encoder { return &protoEncoder{w: w} }

func (Protobuf) NewDecoder(r io.Reader) Decoder {
	br, ok := r.(protodelim.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &protoDecoder{r: br}
}

type protoEncoder struct{ w io.Writer }

func (e *protoEncoder) Encode(v any) error {
	n, err := Normalize(v)
	if err != nil {
		return err
	}
	tree, err := protoTree.toTree(n)
	if err != nil {
		return err
	}
	msg, err := structpb.NewValue(tree)
	if err != nil {
		return err
	}
	_, err = protodelim.MarshalTo(e.w, msg)
	return err
}

type protoDecoder struct{ r protodelim.Reader }

func (d *protoDecoder) Decode() (any, error) {
	msg := &structpb.Value{}
	if err := protodelim.UnmarshalFrom(d.r, msg); err != nil {
		return nil, err
	}
	return protoTree.fromTree(msg.AsInterface())
}
