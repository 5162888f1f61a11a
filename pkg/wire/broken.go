package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// maxCauseDepth bounds nested causes in a broken frame.
const maxCauseDepth = 16

// EncodeBroken builds a broken response frame describing err. It does not
// depend on a serializer so it can be sent before one is negotiated.
func EncodeBroken(err error) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{MarkerBroken, CompressionNone})
	writeBrokenError(&buf, FromError(err), 0)
	return buf.Bytes()
}

func writeBrokenError(w *bytes.Buffer, re *RemoteError, depth int) {
	if re == nil || depth >= maxCauseDepth {
		w.WriteByte(0)
		return
	}
	w.WriteByte(1)
	writeTruncatedUTF(w, re.Class)
	writeTruncatedUTF(w, re.Message)
	_ = binary.Write(w, binary.BigEndian, int32(len(re.Frames)))
	for _, f := range re.Frames {
		writeTruncatedUTF(w, f)
	}
	writeBrokenError(w, re.Cause, depth+1)
}

func writeTruncatedUTF(w io.Writer, s string) {
	if len(s) > 0xFFFF {
		s = s[:0xFFFF]
	}
	_ = writeUTF(w, s)
}

// ReadBroken reads the exception of a broken frame whose two header bytes
// were already consumed. It returns nil when the frame holds no exception.
func ReadBroken(r io.Reader) (*RemoteError, error) {
	return readBrokenError(r, 0)
}

func readBrokenError(r io.Reader, depth int) (*RemoteError, error) {
	var has [1]byte
	if _, err := io.ReadFull(r, has[:]); err != nil {
		return nil, rpcerrors.NewProtocolError("read broken frame: %v", err)
	}
	if has[0] == 0 {
		return nil, nil
	}
	if depth >= maxCauseDepth {
		return nil, rpcerrors.NewProtocolError("broken frame nested too deep")
	}

	re := &RemoteError{}
	var err error
	if re.Class, err = readUTF(r); err != nil {
		return nil, rpcerrors.NewProtocolError("read broken frame: %v", err)
	}
	if re.Message, err = readUTF(r); err != nil {
		return nil, rpcerrors.NewProtocolError("read broken frame: %v", err)
	}
	var n int32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil || n < 0 || n > maxElements {
		return nil, rpcerrors.NewProtocolError("read broken frame: invalid frame count")
	}
	for i := int32(0); i < n; i++ {
		f, err := readUTF(r)
		if err != nil {
			return nil, rpcerrors.NewProtocolError("read broken frame: %v", err)
		}
		re.Frames = append(re.Frames, f)
	}
	if re.Cause, err = readBrokenError(r, depth+1); err != nil {
		return nil, err
	}
	return re, nil
}
