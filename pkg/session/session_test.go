package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittorpc/pkg/config"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/wire"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestRegistry(clock *fakeClock) *Registry {
	return NewRegistry(RegistryOptions{ExpiredMemory: 16, Now: clock.Now})
}

func newTestMaster(id string, clock *fakeClock, maxInactive time.Duration) *Session {
	return NewMaster(Config{
		ID:                  id,
		Application:         "demo",
		Serializer:          wire.Universal{},
		MaxInactiveInterval: maxInactive,
		Now:                 clock.Now(),
	})
}

type recordingListener struct {
	mu        sync.Mutex
	created   []string
	destroyed map[string]string
}

func (l *recordingListener) SessionCreated(_ context.Context, s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, s.ID())
}

func (l *recordingListener) SessionDestroyed(_ context.Context, s *Session, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.destroyed == nil {
		l.destroyed = map[string]string{}
	}
	l.destroyed[s.ID()] = reason
}

func TestRegistryPutGetDestroy(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	r := newTestRegistry(clock)

	s := newTestMaster("m1", clock, time.Minute)
	require.NoError(t, r.Put(s))
	assert.Equal(t, StateActive, s.State())

	got, err := r.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, r.Destroy(ctx, "m1", ReasonClient))
	assert.Equal(t, StateDestroyed, s.State())

	_, err = r.Get(ctx, "m1")
	assert.True(t, rpcerrors.IsSessionExpired(err))

	_, err = r.Get(ctx, "never-issued")
	assert.True(t, rpcerrors.IsUnknownSession(err))
	assert.NotContains(t, err.Error(), "never-issued")

	assert.True(t, rpcerrors.IsSessionExpired(r.Destroy(ctx, "m1", ReasonClient)))
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	require.NoError(t, r.Put(newTestMaster("m1", clock, 0)))
	assert.Error(t, r.Put(newTestMaster("m1", clock, 0)))
}

func TestRegistryCascadingDestroy(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	r := newTestRegistry(clock)
	l := &recordingListener{}
	r.AddListener(l)

	master := newTestMaster("m", clock, time.Minute)
	require.NoError(t, r.Put(master))

	subIDs := []string{"s1", "s2", "s3"}
	for _, id := range subIDs {
		require.NoError(t, r.Put(NewSub(master, Config{ID: id, Now: clock.Now()})))
	}
	assert.Len(t, master.Subs(), 3)

	require.NoError(t, r.Destroy(ctx, "m", ReasonClient))
	assert.Zero(t, r.Len())

	for _, id := range subIDs {
		assert.Equal(t, ReasonMasterDestroyed, l.destroyed[id])
		_, err := r.Get(ctx, id)
		assert.True(t, rpcerrors.IsSessionExpired(err))
		assert.True(t, rpcerrors.IsSessionExpired(r.Destroy(ctx, id, ReasonClient)))
	}
	assert.Equal(t, ReasonClient, l.destroyed["m"])
}

func TestRegistrySubRequiresLiveMaster(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	r := newTestRegistry(clock)

	master := newTestMaster("m", clock, 0)
	require.NoError(t, r.Put(master))
	require.NoError(t, r.Destroy(ctx, "m", ReasonClient))

	err := r.Put(NewSub(master, Config{ID: "late", Now: clock.Now()}))
	assert.True(t, rpcerrors.IsSessionExpired(err))
}

func TestRegistryExpiresInactiveSession(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	r := newTestRegistry(clock)

	s := newTestMaster("m", clock, time.Minute)
	require.NoError(t, r.Put(s))

	clock.Advance(30 * time.Second)
	_, err := r.Get(ctx, "m")
	require.NoError(t, err)

	// IsAvailable and IsValid must not refresh the access time.
	clock.Advance(50 * time.Second)
	assert.True(t, r.IsAvailable("m"))
	assert.True(t, r.IsValid("m"))
	clock.Advance(20 * time.Second)
	assert.True(t, r.IsAvailable("m"))
	assert.False(t, r.IsValid("m"))

	_, err = r.Get(ctx, "m")
	assert.True(t, rpcerrors.IsSessionExpired(err))
	assert.True(t, s.Expired())
	assert.False(t, r.IsAvailable("m"))
}

func TestRegistryAliveInterval(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	r := newTestRegistry(clock)

	s := NewMaster(Config{ID: "m", AliveInterval: 10 * time.Second, Now: clock.Now()})
	require.NoError(t, r.Put(s))

	clock.Advance(8 * time.Second)
	s.Alive(clock.Now())
	clock.Advance(8 * time.Second)
	_, err := r.Get(ctx, "m")
	require.NoError(t, err)

	// A plain access does not count as an alive signal.
	clock.Advance(8 * time.Second)
	_, err = r.Get(ctx, "m")
	assert.True(t, rpcerrors.IsSessionExpired(err))
}

func TestRegistryReap(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	r := newTestRegistry(clock)

	require.NoError(t, r.Put(newTestMaster("short", clock, time.Second)))
	require.NoError(t, r.Put(newTestMaster("long", clock, time.Hour)))

	clock.Advance(time.Minute)
	assert.Equal(t, 1, r.Reap(ctx))
	assert.False(t, r.IsAvailable("short"))
	assert.True(t, r.IsAvailable("long"))
}

func TestRegistryReapCountsOwnDestroysOnly(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	r := newTestRegistry(clock)
	l := &recordingListener{}
	r.AddListener(l)

	master := newTestMaster("master", clock, time.Second)
	require.NoError(t, r.Put(master))
	for i := 0; i < 8; i++ {
		require.NoError(t, r.Put(NewSub(master, Config{ID: "sub-" + strconv.Itoa(i), Now: clock.Now()})))
	}

	clock.Advance(time.Minute)
	reaped := r.Reap(ctx)

	assert.Zero(t, r.Len())
	require.Len(t, l.destroyed, 9)
	expired := 0
	for _, reason := range l.destroyed {
		if reason == ReasonExpired {
			expired++
		}
	}
	assert.Equal(t, expired, reaped, "cascaded subs are not counted again")
	assert.Equal(t, ReasonExpired, l.destroyed["master"])

	_, destroyed, err := r.check(ctx, "sub-0")
	assert.True(t, rpcerrors.IsSessionExpired(err))
	assert.False(t, destroyed)
}

func TestRegistryReaperGoroutine(t *testing.T) {
	r := NewRegistry(RegistryOptions{ReaperInterval: 10 * time.Millisecond, ExpiredMemory: 4})
	s := NewMaster(Config{ID: "m", MaxInactiveInterval: 20 * time.Millisecond})
	require.NoError(t, r.Put(s))

	assert.Eventually(t, func() bool { return !r.IsAvailable("m") }, 2*time.Second, 10*time.Millisecond)
	r.Close(context.Background(), ReasonShutdown)
}

func TestRegistryTombstonesAreBounded(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	r := NewRegistry(RegistryOptions{ExpiredMemory: 2, Now: clock.Now})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Put(newTestMaster(id, clock, 0)))
		require.NoError(t, r.Destroy(ctx, id, ReasonClient))
	}

	_, err := r.Get(ctx, "a")
	assert.True(t, rpcerrors.IsUnknownSession(err))
	_, err = r.Get(ctx, "c")
	assert.True(t, rpcerrors.IsSessionExpired(err))
}

func TestRegistryCloseDestroysEverything(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)
	l := &recordingListener{}
	r.AddListener(l)

	m := newTestMaster("m", clock, 0)
	require.NoError(t, r.Put(m))
	require.NoError(t, r.Put(NewSub(m, Config{ID: "s", Now: clock.Now()})))
	require.NoError(t, r.Put(newTestMaster("n", clock, 0)))

	r.Close(context.Background(), ReasonShutdown)
	assert.Zero(t, r.Len())
	assert.Len(t, l.destroyed, 3)
	assert.Equal(t, ReasonShutdown, l.destroyed["n"])
}

func TestSubSessionInactivity(t *testing.T) {
	tests := []struct {
		name       string
		master     time.Duration
		sub        time.Duration
		idle       time.Duration
		masterBusy bool
		want       bool
	}{
		{"sub unset defers to master", time.Minute, 0, 2 * time.Minute, false, true},
		{"sub unset and master active", time.Minute, 0, 2 * time.Minute, true, false},
		{"stricter sub applies", time.Minute, 10 * time.Second, 20 * time.Second, true, true},
		{"looser sub ignored", time.Minute, 5 * time.Minute, 2 * time.Minute, true, false},
		{"sub with unlimited master", 0, 10 * time.Second, 20 * time.Second, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			m := newTestMaster("m", clock, tt.master)
			s := NewSub(m, Config{ID: "s", MaxInactiveInterval: tt.sub, Now: clock.Now()})

			clock.Advance(tt.idle)
			if tt.masterBusy {
				m.Touch(clock.Now())
			}
			assert.Equal(t, tt.want, s.IsInactive(clock.Now()))
		})
	}
}

func TestSubTouchPropagatesToMaster(t *testing.T) {
	clock := newFakeClock()
	m := newTestMaster("m", clock, time.Minute)
	s := NewSub(m, Config{ID: "s", Now: clock.Now()})

	clock.Advance(50 * time.Second)
	s.Alive(clock.Now())
	clock.Advance(50 * time.Second)

	assert.False(t, m.IsInactive(clock.Now()))
	assert.Equal(t, m.LastAlive(), s.LastAlive())
	assert.Same(t, m, s.Master())
	assert.Same(t, m.Callbacks(), s.Callbacks())
	assert.Equal(t, "demo", s.Application())
}

func TestSessionLockReentrant(t *testing.T) {
	ctx := WithOwner(context.Background())
	clock := newFakeClock()
	s := newTestMaster("m", clock, 0)

	unlock1 := s.Lock(ctx)
	unlock2 := s.Lock(ctx)
	assert.Equal(t, 2, s.lock.held())
	unlock2()
	unlock1()
	assert.Zero(t, s.lock.held())
}

func TestSessionLockExcludesOtherOwners(t *testing.T) {
	clock := newFakeClock()
	m := newTestMaster("m", clock, 0)
	sub := NewSub(m, Config{ID: "s", Now: clock.Now()})

	unlock := sub.Lock(WithOwner(context.Background()))
	assert.Equal(t, 1, m.lock.held(), "sub lock must hold its master")

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		release := m.Lock(WithOwner(context.Background()))
		acquired.Store(true)
		release()
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load())
	unlock()
	<-done
	assert.True(t, acquired.Load())
}

func TestWithOwnerKeepsExistingToken(t *testing.T) {
	ctx := WithOwner(context.Background())
	assert.Equal(t, ownerFrom(ctx), ownerFrom(WithOwner(ctx)))
	assert.NotEqual(t, ownerFrom(ctx), ownerFrom(WithOwner(context.Background())))
}

func TestPropertiesChanged(t *testing.T) {
	p := newProperties()
	p.SetQuiet("user", "a")
	p.Set("server.greeting", "hi")
	p.Set(PropPassword, "secret")
	p.Set(PropInitializing, true)
	p.Set("request.remoteAddr", "1.2.3.4")
	p.Set("server.channel", make(chan int))

	assert.Equal(t, map[string]any{"server.greeting": "hi"}, p.Changed())
	assert.Nil(t, p.Changed())

	p.Delete("server.greeting")
	assert.Equal(t, map[string]any{"server.greeting": nil}, p.Changed())

	assert.Equal(t, map[string]any{"user": "a"}, p.Public())
	assert.Equal(t, "a", p.String("user"))
	assert.True(t, IsClientWritable("client.theme"))
	assert.False(t, IsClientWritable("server.greeting"))
	assert.False(t, IsClientWritable(PropSystemID))
}

func TestResponseSlotSequencing(t *testing.T) {
	ctx := context.Background()
	var slot ResponseSlot

	d, _, err := slot.Reserve(ctx, 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, SlotExecute, d)
	slot.Complete(1, []byte("one"))

	d, content, err := slot.Reserve(ctx, 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, SlotReplay, d)
	assert.Equal(t, []byte("one"), content)

	_, _, err = slot.Reserve(ctx, 3, time.Second)
	assert.True(t, rpcerrors.IsProtocolError(err))

	d, _, err = slot.Reserve(ctx, 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, SlotExecute, d)
	slot.Complete(2, []byte("two"))

	_, _, err = slot.Reserve(ctx, 1, time.Second)
	assert.True(t, rpcerrors.IsProtocolError(err), "stale retry")

	id, ok := slot.Cached()
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)
}

func TestResponseSlotWaitsForInFlight(t *testing.T) {
	ctx := context.Background()
	var slot ResponseSlot

	_, _, err := slot.Reserve(ctx, 5, time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		slot.Complete(5, []byte("five"))
	}()

	d, content, err := slot.Reserve(ctx, 5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, SlotReplay, d)
	assert.Equal(t, []byte("five"), content)
}

func TestResponseSlotTimeout(t *testing.T) {
	var slot ResponseSlot
	_, _, err := slot.Reserve(context.Background(), 1, time.Second)
	require.NoError(t, err)

	_, _, err = slot.Reserve(context.Background(), 1, 20*time.Millisecond)
	assert.True(t, rpcerrors.IsProtocolError(err))
}

func TestResponseSlotAbortRestoresPrevious(t *testing.T) {
	ctx := context.Background()
	var slot ResponseSlot

	_, _, _ = slot.Reserve(ctx, 1, time.Second)
	slot.Complete(1, []byte("one"))
	_, _, _ = slot.Reserve(ctx, 2, time.Second)
	slot.Abort(2)

	d, content, err := slot.Reserve(ctx, 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, SlotReplay, d)
	assert.Equal(t, []byte("one"), content)

	d, _, err = slot.Reserve(ctx, 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, SlotExecute, d)
}

type chanReceiver struct {
	ch   chan []wire.Result
	fail bool
}

func (c *chanReceiver) Push(_ context.Context, results []wire.Result) error {
	if c.fail {
		return errors.New("closed")
	}
	c.ch <- results
	return nil
}

func TestCallbackQueue(t *testing.T) {
	ctx := context.Background()
	q := newCallbackQueue()

	q.Add(ctx, wire.Result{Type: wire.CallbackResult, Value: "a", CallbackID: 1})
	q.Add(ctx, wire.Result{Type: wire.CallbackResult, Value: "b", CallbackID: 2})
	assert.Equal(t, 2, q.Len())

	recv := &chanReceiver{ch: make(chan []wire.Result, 4)}
	require.NoError(t, q.SetReceiver(ctx, recv))
	flushed := <-recv.ch
	require.Len(t, flushed, 2)
	assert.Equal(t, int64(1), flushed[0].CallbackID)

	q.Add(ctx, wire.Result{Type: wire.CallbackError, Value: &wire.RemoteError{Class: "x"}, CallbackID: 3})
	pushed := <-recv.ch
	assert.Equal(t, int64(3), pushed[0].CallbackID)
	assert.Zero(t, q.Len())

	recv.fail = true
	q.Add(ctx, wire.Result{Type: wire.CallbackResult, Value: "c", CallbackID: 4})
	assert.False(t, q.HasReceiver())
	drained := q.Drain()
	require.Len(t, drained, 1)
	assert.Equal(t, "c", drained[0].Value)
}

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, s *Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *mockAuthenticator) ChangePassword(ctx context.Context, s *Session, oldPassword, newPassword string) error {
	return m.Called(ctx, s, oldPassword, newPassword).Error(0)
}

type recordingFailedListener struct{ apps []string }

func (l *recordingFailedListener) SessionFailed(_ context.Context, application string, _ error) {
	l.apps = append(l.apps, application)
}

func newTestManager(t *testing.T, auth Authenticator) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	lookup := config.MapLookup{
		"applications.demo.security.manager":          "allow",
		"applications.demo.max_inactive_interval":     "1m",
		"applications.demo.sub_max_inactive_interval": "10s",
	}
	m := NewManager(lookup, auth, Options{ReaperInterval: -1, Now: clock.Now})
	t.Cleanup(func() { m.Close(context.Background()) })
	return m, clock
}

func TestManagerCreateSession(t *testing.T) {
	ctx := context.Background()
	auth := &mockAuthenticator{}
	auth.On("Authenticate", mock.Anything, mock.Anything).Return(nil)
	m, _ := newTestManager(t, auth)
	l := &recordingListener{}
	m.AddListener(l)

	s, err := m.CreateSession(ctx, CreateRequest{
		Application:       "demo",
		Serializer:        wire.JSON{},
		Properties:        map[string]any{"user": "a", "password": "b", "server.admin": true},
		RequestProperties: map[string]string{"remoteAddr": "10.0.0.1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "json", s.Serializer().Name())
	assert.Equal(t, time.Minute, s.MaxInactiveInterval())
	assert.Equal(t, "a", s.UserName())
	assert.Equal(t, "10.0.0.1", s.Properties().String(PropRemoteAddr))
	_, ok := s.Properties().Get("server.admin")
	assert.False(t, ok, "clients cannot set server properties")
	assert.False(t, s.IsInitializing())
	assert.Equal(t, []string{s.ID()}, l.created)

	got, err := m.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	auth.AssertExpectations(t)
}

func TestManagerRejectsUnknownApplication(t *testing.T) {
	m, _ := newTestManager(t, nil)
	_, err := m.CreateSession(context.Background(), CreateRequest{Application: "other"})
	assert.True(t, rpcerrors.IsSecurityError(err))
}

func TestManagerAuthenticationFailure(t *testing.T) {
	ctx := context.Background()
	auth := &mockAuthenticator{}
	auth.On("Authenticate", mock.Anything, mock.Anything).Return(errors.New("bad password")).Once()
	m, _ := newTestManager(t, auth)
	failed := &recordingFailedListener{}
	m.AddFailedListener(failed)

	_, err := m.CreateSession(ctx, CreateRequest{Application: "demo"})
	assert.True(t, rpcerrors.IsSecurityError(err))
	assert.Equal(t, []string{"demo"}, failed.apps)
	assert.Zero(t, m.Registry().Len())
}

func TestManagerSubSession(t *testing.T) {
	ctx := context.Background()
	auth := &mockAuthenticator{}
	auth.On("Authenticate", mock.Anything, mock.Anything).Return(nil).Once()
	auth.On("Authenticate", mock.Anything, mock.Anything).Return(errors.New("denied")).Once()
	m, _ := newTestManager(t, auth)

	master, err := m.CreateSession(ctx, CreateRequest{
		Application:       "demo",
		RequestProperties: map[string]string{"remoteAddr": "10.0.0.1"},
	})
	require.NoError(t, err)

	_, err = m.CreateSubSession(ctx, master, nil)
	assert.True(t, rpcerrors.IsSessionCancelled(err))

	auth.On("Authenticate", mock.Anything, mock.Anything).Return(nil)
	sub, err := m.CreateSubSession(ctx, master, map[string]any{"tab": "2"})
	require.NoError(t, err)
	assert.True(t, sub.IsSub())
	assert.Equal(t, 10*time.Second, sub.MaxInactiveInterval())
	assert.Equal(t, "10.0.0.1", sub.Properties().String(PropRemoteAddr))

	require.NoError(t, m.Destroy(ctx, master.ID(), ReasonClient))
	_, err = m.Get(ctx, sub.ID())
	assert.True(t, rpcerrors.IsSessionExpired(err))
}

type discardingAuthenticator struct {
	mockAuthenticator
}

func (m *discardingAuthenticator) Discard(ctx context.Context, s *Session) {
	m.Called(ctx, s)
}

func TestManagerDiscardsUnregisteredSub(t *testing.T) {
	ctx := context.Background()
	auth := &discardingAuthenticator{}
	m, _ := newTestManager(t, auth)

	auth.On("Authenticate", mock.Anything, mock.Anything).Return(nil).Once()
	master, err := m.CreateSession(ctx, CreateRequest{Application: "demo"})
	require.NoError(t, err)

	auth.On("Authenticate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		_ = m.Destroy(ctx, master.ID(), ReasonClient)
	}).Return(nil).Once()
	auth.On("Discard", mock.Anything, mock.MatchedBy(func(s *Session) bool { return s.IsSub() })).Once()

	_, err = m.CreateSubSession(ctx, master, nil)
	assert.True(t, rpcerrors.IsSessionExpired(err))
	assert.Zero(t, m.Registry().Len())
	auth.AssertExpectations(t)
}

func TestManagerSetAndCheckAlive(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t, nil)

	master, err := m.CreateSession(ctx, CreateRequest{Application: "demo"})
	require.NoError(t, err)
	sub, err := m.CreateSubSession(ctx, master, nil)
	require.NoError(t, err)
	other, err := m.CreateSession(ctx, CreateRequest{Application: "demo"})
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	invalid := m.SetAndCheckAlive(ctx, master, []string{sub.ID(), other.ID(), "bogus"})
	assert.ElementsMatch(t, []string{other.ID(), "bogus"}, invalid)
	assert.True(t, clock.Now().Equal(sub.LastAccess()))
}

func TestManagerChangePassword(t *testing.T) {
	ctx := context.Background()
	auth := &mockAuthenticator{}
	auth.On("Authenticate", mock.Anything, mock.Anything).Return(nil)
	auth.On("ChangePassword", mock.Anything, mock.Anything, "old", "new").Return(nil)
	m, _ := newTestManager(t, auth)

	s, err := m.CreateSession(ctx, CreateRequest{Application: "demo", Properties: map[string]any{"password": "old"}})
	require.NoError(t, err)
	require.NoError(t, m.ChangePassword(ctx, s, "old", "new"))
	assert.Equal(t, "new", s.Properties().String(PropPassword))
	auth.AssertExpectations(t)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.recordCreated(false)
	m.recordDestroyed(ReasonClient, 1)
	m.recordFailed()

	reg := NewMetrics(nil)
	reg.recordCreated(true)
	reg.recordDestroyed(ReasonExpired, 2)
}
