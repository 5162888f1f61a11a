package wire

import (
	"bufio"
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// Trailer follows every gzip member on the wire so the reader can find the
// real end of the compressed segment.
var Trailer = []byte{0x44, 0x52, 0x50, 0x43, 0x7E, 0x00}

// Compress writes payload as a single gzip member followed by Trailer.
func Compress(w io.Writer, payload []byte) error {
	zw := gzip.NewWriter(w)
	if _, err := zw.Write(payload); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	_, err := w.Write(Trailer)
	return err
}

// DefaultMaxPayload bounds the inflated size of a compressed payload when
// no limit is given.
const DefaultMaxPayload int64 = 32 << 20

// Decompress reads one gzip member and the trailer after it. If r is not an
// io.ByteReader it is buffered, so bytes after the trailer may be consumed.
// A payload inflating to more than limit bytes is a protocol error; a limit
// of zero or less means DefaultMaxPayload.
func Decompress(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxPayload
	}
	br, ok := r.(interface {
		io.Reader
		io.ByteReader
	})
	if !ok {
		br = bufio.NewReader(r)
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, rpcerrors.NewProtocolError("open gzip stream: %v", err)
	}
	zr.Multistream(false)
	data, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if err != nil {
		return nil, rpcerrors.NewProtocolError("inflate payload: %v", err)
	}
	if int64(len(data)) > limit {
		return nil, rpcerrors.NewProtocolError("inflated payload exceeds %d bytes", limit)
	}
	if err := zr.Close(); err != nil {
		return nil, rpcerrors.NewProtocolError("close gzip stream: %v", err)
	}

	var trailer [6]byte
	if _, err := io.ReadFull(br, trailer[:]); err != nil || !bytes.Equal(trailer[:], Trailer) {
		return nil, rpcerrors.NewProtocolError("missing compression trailer")
	}
	return data, nil
}
