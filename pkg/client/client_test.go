package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittorpc/internal/demo"
	"github.com/marmos91/dittorpc/pkg/config"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/server"
	"github.com/marmos91/dittorpc/pkg/session"
	"github.com/marmos91/dittorpc/pkg/wire"
)

type frameWriter struct {
	bytes.Buffer
}

func (*frameWriter) SetProperty(string, string) {}

func newServer(t *testing.T) *server.Server {
	t.Helper()
	lookup := config.MapLookup{
		"applications.demo.application_class": demo.BoardClass,
		"applications.demo.lifecycle_class":   demo.CounterClass,
	}
	srv, err := server.New(server.Options{
		Sessions: session.NewManager(lookup, nil, session.Options{
			ReaperInterval:      time.Hour,
			ResponseWaitTimeout: time.Second,
		}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close(context.Background()) })
	return srv
}

func direct(srv *server.Server) TransportFunc {
	return func(ctx context.Context, frame []byte) ([]byte, error) {
		w := &frameWriter{}
		err := srv.Serve(ctx, server.Request{Body: bytes.NewReader(frame), RemoteAddr: "127.0.0.1:1"}, w)
		return w.Bytes(), err
	}
}

// lossy executes every request but loses the responses of the round trips
// listed in drop (1-based).
type lossy struct {
	next  TransportFunc
	calls atomic.Int32
	drop  map[int32]bool
}

func (l *lossy) RoundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	n := l.calls.Add(1)
	raw, err := l.next(ctx, frame)
	if err != nil {
		return nil, err
	}
	if l.drop[n] {
		return nil, errors.New("connection reset")
	}
	return raw, nil
}

func TestCreateCallDestroy(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	c := New(direct(srv), Options{})

	require.NoError(t, c.Create(ctx, "demo", map[string]any{"user": "alice"}))
	require.NotEmpty(t, c.SessionID())

	v, err := c.Call(ctx, "", "increment", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = c.Call(ctx, "board", "total")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = c.GetProperty(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, "alice", v)

	id := c.SessionID()
	require.NoError(t, c.Destroy(ctx))
	assert.Empty(t, c.SessionID())
	assert.False(t, srv.Sessions().IsAvailable(id))

	_, err = c.Call(ctx, "", "value")
	assert.True(t, rpcerrors.IsProtocolError(err))
}

func TestCreateTwiceFails(t *testing.T) {
	c := New(direct(newServer(t)), Options{})
	require.NoError(t, c.Create(context.Background(), "demo", nil))
	assert.Error(t, c.Create(context.Background(), "demo", nil))
}

func TestCallError(t *testing.T) {
	c := New(direct(newServer(t)), Options{})
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "demo", nil))

	_, err := c.Call(ctx, "", "missing")
	require.Error(t, err)

	results, err := c.Do(ctx,
		wire.Call{Object: "", Method: "increment"},
		wire.Call{Object: "", Method: "missing"},
		wire.Call{Object: "", Method: "increment"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, wire.CallResult, results[0].Type)
	assert.Equal(t, wire.CallError, results[1].Type)

	v, err := c.Call(ctx, "", "value")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestResendReplaysLostResponse(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	tr := &lossy{next: direct(srv), drop: map[int32]bool{2: true}}
	c := New(tr, Options{RetryDelay: time.Millisecond})

	require.NoError(t, c.Create(ctx, "demo", nil))

	v, err := c.Call(ctx, "", "increment")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = c.Call(ctx, "", "increment")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v, "the lost request executed once")
	assert.Equal(t, int32(4), tr.calls.Load())
}

func TestPendingRequestResentFirst(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	tr := &lossy{next: direct(srv), drop: map[int32]bool{2: true}}
	c := New(tr, Options{Retries: -1})

	require.NoError(t, c.Create(ctx, "demo", nil))

	_, err := c.Call(ctx, "", "increment")
	require.Error(t, err)

	v, err := c.Call(ctx, "", "value")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, int32(4), tr.calls.Load())
}

func TestSubSessionSharesSequence(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	c := New(direct(srv), Options{})
	require.NoError(t, c.Create(ctx, "demo", nil))

	sub, err := c.CreateSub(ctx, map[string]any{"role": "viewer"})
	require.NoError(t, err)
	require.NotEqual(t, c.SessionID(), sub.SessionID())

	for i := 0; i < 3; i++ {
		v, err := sub.Call(ctx, "", "increment")
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), v)

		v, err = c.Call(ctx, "", "increment", 10)
		require.NoError(t, err)
		assert.Equal(t, int64(10*(i+1)), v)
	}

	v, err := sub.GetProperty(ctx, "role")
	require.NoError(t, err)
	assert.Equal(t, "viewer", v)

	require.NoError(t, sub.Destroy(ctx))
	assert.True(t, srv.Sessions().IsAvailable(c.SessionID()))
}

func TestSubSessionsConcurrent(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	c := New(direct(srv), Options{})
	require.NoError(t, c.Create(ctx, "demo", nil))

	subs := make([]*Client, 4)
	for i := range subs {
		var err error
		subs[i], err = c.CreateSub(ctx, nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Client) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := sub.Call(ctx, "", "increment")
				assert.NoError(t, err)
			}
		}(sub)
	}
	wg.Wait()

	for _, sub := range subs {
		v, err := sub.Call(ctx, "", "value")
		require.NoError(t, err)
		assert.Equal(t, int64(10), v)
	}
}

func TestCallbacks(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen []wire.Result
	)
	c := New(direct(srv), Options{OnCallback: func(r wire.Result) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r)
	}})
	require.NoError(t, c.Create(ctx, "demo", nil))

	_, err := c.Call(ctx, "", "watch", 9)
	require.NoError(t, err)
	mu.Lock()
	require.Len(t, seen, 1)
	assert.Equal(t, wire.CallbackResult, seen[0].Type)
	assert.Equal(t, int64(9), seen[0].CallbackID)
	mu.Unlock()

	require.NoError(t, c.CallAsync(ctx, 7, false, "", "sleep", 5))
	require.Eventually(t, func() bool {
		if err := c.Poll(ctx); err != nil {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, wire.CallbackResultResult, seen[1].Type)
	assert.Equal(t, int64(7), seen[1].CallbackID)
	assert.Equal(t, int64(0), seen[1].Value)
}

func TestSetAndCheckAlive(t *testing.T) {
	c := New(direct(newServer(t)), Options{})
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "demo", nil))

	invalid, err := c.SetAndCheckAlive(ctx, c.SessionID(), "missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"missing"}, invalid)
}

func TestCompression(t *testing.T) {
	c := New(direct(newServer(t)), Options{AcceptGzip: true, CompressThreshold: 64})
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "demo", nil))

	big := strings.Repeat("abc", 20000)
	v, err := c.Call(ctx, "", "echo", big)
	require.NoError(t, err)
	assert.Equal(t, big, v)
}

func TestHTTPTransport(t *testing.T) {
	srv := newServer(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ContentType, r.Header.Get("Content-Type"))
		fw := &frameWriter{}
		assert.NoError(t, srv.Serve(r.Context(), server.Request{Body: r.Body, RemoteAddr: r.RemoteAddr, UserAgent: r.UserAgent()}, fw))
		_, _ = w.Write(fw.Bytes())
	}))
	defer ts.Close()

	c := New(NewHTTPTransport(ts.URL), Options{})
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "demo", nil))

	v, err := c.Call(ctx, "", "increment", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestHTTPTransportStatusError(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := New(NewHTTPTransport(ts.URL), Options{Retries: 1, RetryDelay: time.Millisecond})
	err := c.Create(context.Background(), "demo", nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, "slow down", se.Body)
	assert.Equal(t, int32(2), hits.Load())
}
