package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// Stream markers.
const (
	MarkerNewConnection byte = 0x01
	MarkerEstablished   byte = 0x02
	MarkerBroken        byte = 0x03
)

// Compression flags.
const (
	CompressionNone     byte = 0x00
	CompressionGzip     byte = 0x01
	CompressionAccepted byte = 0x02
)

// Header is the raw, serializer-independent prefix of a request.
type Header struct {
	Marker      byte
	Compression byte
	// Serializer is only sent on new connections.
	Serializer string
	SessionID  string
}

// NewConnection reports whether the request carries a serializer name.
func (h Header) NewConnection() bool { return h.Marker == MarkerNewConnection }

// Compressed reports whether the payload following the header is gzipped.
func (h Header) Compressed() bool { return h.Compression == CompressionGzip }

// AcceptsGzip reports whether the client can read a compressed response.
func (h Header) AcceptsGzip() bool {
	return h.Compression == CompressionGzip || h.Compression == CompressionAccepted
}

// ReadHeader reads a request header.
func ReadHeader(r io.Reader) (Header, error) {
	var pre [2]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return Header{}, rpcerrors.NewProtocolError("read header: %v", err)
	}
	h := Header{Marker: pre[0], Compression: pre[1]}
	switch h.Marker {
	case MarkerNewConnection, MarkerEstablished:
	default:
		return Header{}, rpcerrors.NewProtocolError("invalid stream marker 0x%02x", h.Marker)
	}
	if h.Compression > CompressionAccepted {
		return Header{}, rpcerrors.NewProtocolError("invalid compression flag 0x%02x", h.Compression)
	}

	var err error
	if h.NewConnection() {
		if h.Serializer, err = readUTF(r); err != nil {
			return Header{}, rpcerrors.NewProtocolError("read serializer name: %v", err)
		}
	}
	if h.SessionID, err = readUTF(r); err != nil {
		return Header{}, rpcerrors.NewProtocolError("read session id: %v", err)
	}
	return h, nil
}

// WriteHeader writes a request header.
func WriteHeader(w io.Writer, h Header) error {
	if _, err := w.Write([]byte{h.Marker, h.Compression}); err != nil {
		return err
	}
	if h.NewConnection() {
		if err := writeUTF(w, h.Serializer); err != nil {
			return err
		}
	}
	return writeUTF(w, h.SessionID)
}

// ReadPayload returns a reader over the request payload, inflating it when
// the header says it is compressed. limit bounds the inflated size as in
// Decompress.
func ReadPayload(r io.Reader, h Header, limit int64) (io.Reader, error) {
	if !h.Compressed() {
		return r, nil
	}
	data, err := Decompress(r, limit)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func readUTF(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeUTF(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return errors.New("string too long for frame")
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}
