package wire

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

func sampleValues() []any {
	return []any{
		nil,
		true,
		int64(-42),
		3.25,
		2.0,
		"hello",
		[]byte{0, 1, 2},
		time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC),
		[]any{int64(1), "two", nil},
		map[string]any{"a": int64(1), "b": []any{"x"}},
		map[string]any{"$bytes": "not an envelope"},
		&RemoteError{Class: "UnknownObject", Message: "missing", Frames: []string{"a.b"},
			Cause: &RemoteError{Class: "io.EOF", Message: "EOF"}},
	}
}

func TestSerializersRoundTrip(t *testing.T) {
	for _, name := range []string{"universal", "json", "protobuf"} {
		t.Run(name, func(t *testing.T) {
			s, ok := Lookup(name)
			require.True(t, ok)

			var buf bytes.Buffer
			enc := s.NewEncoder(&buf)
			for _, v := range sampleValues() {
				require.NoError(t, enc.Encode(v))
			}

			dec := s.NewDecoder(&buf)
			for _, want := range sampleValues() {
				got, err := dec.Decode()
				require.NoError(t, err)
				if wt, ok := want.(time.Time); ok {
					gt, ok := got.(time.Time)
					require.True(t, ok, "got %T", got)
					assert.True(t, wt.Equal(gt))
					continue
				}
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	v, err := Normalize([]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, v)

	v, err = Normalize(map[string]int32{"x": 7})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": int64(7)}, v)

	v, err = Normalize(rpcerrors.NewUnknownObjectError("foo"))
	require.NoError(t, err)
	re, ok := v.(*RemoteError)
	require.True(t, ok)
	assert.Equal(t, "UnknownObject", re.Class)
	assert.True(t, rpcerrors.IsUnknownObject(re.AsError()))

	var p *int
	v, err = Normalize(p)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Normalize(make(chan int))
	assert.Error(t, err)
	_, err = Normalize(map[int]string{1: "x"})
	assert.Error(t, err)
	assert.False(t, Eligible(struct{}{}))
}

func TestRules(t *testing.T) {
	_, err := Rules{}.Resolve("json")
	assert.NoError(t, err)

	_, err = Rules{Deny: []string{"json"}}.Resolve("json")
	assert.True(t, rpcerrors.IsSecurityError(err))

	_, err = Rules{Allow: []string{"universal"}}.Resolve("protobuf")
	assert.True(t, rpcerrors.IsSecurityError(err))

	_, err = Rules{}.Resolve("xml")
	assert.True(t, rpcerrors.IsProtocolError(err))
}

func TestHeaderRoundTrip(t *testing.T) {
	tests := []Header{
		{Marker: MarkerNewConnection, Compression: CompressionAccepted, Serializer: "json"},
		{Marker: MarkerEstablished, Compression: CompressionNone, SessionID: "abc"},
	}
	for _, h := range tests {
		var buf bytes.Buffer
		require.NoError(t, WriteHeader(&buf, h))
		got, err := ReadHeader(&buf)
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}

	_, err := ReadHeader(bytes.NewReader([]byte{0x09, 0x00}))
	assert.True(t, rpcerrors.IsProtocolError(err))
	_, err = ReadHeader(bytes.NewReader([]byte{MarkerEstablished}))
	assert.True(t, rpcerrors.IsProtocolError(err))
}

func TestCompressTrailer(t *testing.T) {
	payload := []byte(strings.Repeat("dittorpc ", 100))

	var buf bytes.Buffer
	require.NoError(t, Compress(&buf, payload))
	buf.WriteString("next")
	assert.True(t, bytes.Contains(buf.Bytes(), Trailer))

	br := bufio.NewReader(&buf)
	got, err := Decompress(br, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	rest, err := br.ReadString('\n')
	assert.Equal(t, "next", rest)
	assert.Error(t, err)

	buf.Reset()
	require.NoError(t, Compress(&buf, payload))
	truncated := buf.Bytes()[:buf.Len()-2]
	_, err = Decompress(bytes.NewReader(truncated), 0)
	assert.True(t, rpcerrors.IsProtocolError(err))
}

func TestDecompressLimit(t *testing.T) {
	const limit = 1 << 20

	// Zeros compress roughly a thousandfold, so a small frame inflates far
	// beyond the limit.
	var bomb bytes.Buffer
	require.NoError(t, Compress(&bomb, make([]byte, 64<<20)))
	require.Less(t, bomb.Len(), limit)

	_, err := Decompress(bytes.NewReader(bomb.Bytes()), limit)
	require.Error(t, err)
	assert.True(t, rpcerrors.IsProtocolError(err))

	_, err = ReadPayload(bytes.NewReader(bomb.Bytes()), Header{Compression: CompressionGzip}, limit)
	assert.True(t, rpcerrors.IsProtocolError(err))

	var exact bytes.Buffer
	require.NoError(t, Compress(&exact, make([]byte, limit)))
	got, err := Decompress(bytes.NewReader(exact.Bytes()), limit)
	require.NoError(t, err)
	assert.Len(t, got, limit)
}

func TestCallReader(t *testing.T) {
	s := Universal{}
	req := Request{
		HasCommID: true,
		CommID:    7,
		Calls: []Call{
			{Method: "increment"},
			{Object: "session", Method: "getProperty", Params: []any{"user"}},
			{Object: "tasks", Method: "run", HasCallback: true, CallbackID: 3},
			{Object: "tasks", Method: "run", HasCallback: true, CallbackID: 4, ForceCallback: true},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, req.Encode(s.NewEncoder(&buf)))

	cr, err := NewCallReader(s.NewDecoder(&buf))
	require.NoError(t, err)
	assert.True(t, cr.HasCommID)
	assert.Equal(t, int64(7), cr.CommID)
	assert.Equal(t, 4, cr.Count)

	first, err := cr.Next()
	require.NoError(t, err)
	assert.Equal(t, "increment", first.String())

	rest, err := cr.ReadAll()
	require.NoError(t, err)
	want := []Call{
		{Object: "session", Method: "getProperty", Params: []any{"user"}},
		{Object: "tasks", Method: "run", HasCallback: true, CallbackID: 3},
		{Object: "tasks", Method: "run", HasCallback: true, CallbackID: 4, ForceCallback: true},
	}
	assert.Equal(t, want, rest)
	assert.Zero(t, cr.Remaining())
}

func TestCallReaderWithoutCommID(t *testing.T) {
	s := JSON{}
	var buf bytes.Buffer
	require.NoError(t, Request{Calls: []Call{{Method: "a"}, {Method: "b"}}}.Encode(s.NewEncoder(&buf)))

	cr, err := NewCallReader(s.NewDecoder(&buf))
	require.NoError(t, err)
	assert.False(t, cr.HasCommID)
	require.NoError(t, cr.Drain())
	assert.Zero(t, cr.Remaining())
}

func TestCallReaderRejectsBadCommID(t *testing.T) {
	s := Universal{}
	var buf bytes.Buffer
	enc := s.NewEncoder(&buf)
	require.NoError(t, enc.Encode("seven"))
	require.NoError(t, enc.Encode(int64(0)))

	_, err := NewCallReader(s.NewDecoder(&buf))
	assert.True(t, rpcerrors.IsProtocolError(err))
}

func TestResponseRoundTrip(t *testing.T) {
	results := []Result{
		{Type: PropertyResult, Value: map[string]any{"server.user": "a"}},
		{Type: CallbackResult, Value: "done", CallbackID: 9},
		{Type: CallResult, Value: int64(5)},
		NewErrorResult(rpcerrors.NewUnknownObjectError("x")),
	}

	for _, name := range []string{"universal", "json", "protobuf"} {
		t.Run(name, func(t *testing.T) {
			s, _ := Lookup(name)
			frame, err := EncodeResponse(s, results, ResponseOptions{})
			require.NoError(t, err)
			assert.Equal(t, MarkerEstablished, frame[0])
			assert.Equal(t, CompressionNone, frame[1])

			got, err := ReadResponse(bytes.NewReader(frame), s)
			require.NoError(t, err)
			require.Len(t, got, 4)
			assert.Equal(t, results[:3], got[:3])
			assert.True(t, rpcerrors.IsUnknownObject(got[3].Err()))
		})
	}
}

func TestResponseCompression(t *testing.T) {
	s := Universal{}
	results := []Result{{Type: CallResult, Value: strings.Repeat("x", 4096)}}

	frame, err := EncodeResponse(s, results, ResponseOptions{AcceptsGzip: true, Threshold: 1024})
	require.NoError(t, err)
	assert.Equal(t, CompressionGzip, frame[1])
	assert.True(t, bytes.HasSuffix(frame, Trailer))
	assert.Less(t, len(frame), 4096)

	got, err := ReadResponse(bytes.NewReader(frame), s)
	require.NoError(t, err)
	assert.Equal(t, results, got)

	frame, err = EncodeResponse(s, results, ResponseOptions{AcceptsGzip: false, Threshold: 1024})
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, frame[1])
}

func TestResponseTruncatesOnSerializationFailure(t *testing.T) {
	s := Universal{}
	results := []Result{
		{Type: CallResult, Value: "ok"},
		{Type: CallResult, Value: make(chan int)},
		{Type: CallResult, Value: "never"},
	}

	frame, err := EncodeResponse(s, results, ResponseOptions{})
	require.NoError(t, err)

	got, err := ReadResponse(bytes.NewReader(frame), s)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, results[0], got[0])
	assert.Equal(t, CallError, got[1].Type)
	assert.Contains(t, got[1].Err().Error(), "not wire-eligible")
}

func TestBrokenFrame(t *testing.T) {
	cause := errors.New("boom")
	frame := EncodeBroken(rpcerrors.NewSecurityError("xml", "serializer not allowed"))
	assert.Equal(t, MarkerBroken, frame[0])

	_, err := ReadResponse(bytes.NewReader(frame), Universal{})
	assert.True(t, rpcerrors.IsSecurityError(err))

	frame = EncodeBroken(rpcerrors.NewConfigurationError("security.manager", cause))
	re, err := ReadBroken(bytes.NewReader(frame[2:]))
	require.NoError(t, err)
	require.NotNil(t, re)
	assert.Equal(t, "ConfigurationError", re.Class)
	require.NotNil(t, re.Cause)
	assert.Equal(t, "boom", re.Cause.Message)
}
