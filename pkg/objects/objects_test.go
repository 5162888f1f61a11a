package objects

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittorpc/pkg/config"
	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
	"github.com/marmos91/dittorpc/pkg/security"
	"github.com/marmos91/dittorpc/pkg/session"
	"github.com/marmos91/dittorpc/pkg/wire"
)

type counter struct {
	mu       sync.Mutex
	n        int64
	label    string
	parent   any
	child    *counter
	injected map[string]any
}

func (c *counter) SetParent(p any) { c.parent = p }

func (c *counter) Inject(name string, v any) {
	if c.injected == nil {
		c.injected = map[string]any{}
	}
	c.injected[name] = v
}

func init() {
	Define[*counter]("counter").
		Getter("value", func(c *counter) (any, error) { return c.n, nil }).
		Getter("child", func(c *counter) (any, error) {
			if c.child == nil {
				return nil, nil
			}
			return c.child, nil
		}).
		ReplacementGetter("double", func(c *counter) (any, error) { return c.n * 2, nil }).
		Setter("label", func(c *counter, v any) error {
			s, ok := v.(string)
			if !ok {
				return rpcerrors.NewInvalidArgumentError("label must be a string")
			}
			c.label = s
			return nil
		}).
		Method("increment", func(_ context.Context, c *counter, args Args) (any, error) {
			by := int64(1)
			if args.Len() > 0 {
				var err error
				if by, err = args.Int(0); err != nil {
					return nil, err
				}
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			c.n += by
			return c.n, nil
		}).
		Replace("inc", "increment").
		Method("explode", func(context.Context, *counter, Args) (any, error) { panic("boom") }).
		Dynamic(func(_ context.Context, _ *counter, method string, _ Args) (any, error) {
			if method == "echo" {
				return method, nil
			}
			return nil, rpcerrors.New(rpcerrors.ErrUnknownObject, method, "unknown method")
		})
}

func registerClass(t *testing.T, c Class) {
	t.Helper()
	require.NoError(t, RegisterClass(c))
	t.Cleanup(func() { UnregisterClass(c.Name) })
}

func counterClass(name string) Class {
	return Class{Name: name, New: func() any { return &counter{} }}
}

func newMaster(id string) *session.Session {
	return session.NewMaster(session.Config{ID: id, Application: "demo", Serializer: wire.Universal{}})
}

func unknownPath(t *testing.T, err error) string {
	t.Helper()
	var e *rpcerrors.Error
	require.True(t, errors.As(err, &e), "expected *errors.Error, got %v", err)
	require.Equal(t, rpcerrors.ErrUnknownObject, e.Code)
	return e.Path
}

type availability map[string]bool

func (a availability) IsAvailable(id string) bool { return a[id] }

type recordingObjects struct {
	mu        sync.Mutex
	created   []any
	destroyed []any
}

func (r *recordingObjects) ObjectCreated(_ context.Context, ev ObjectEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, ev.Object)
}

func (r *recordingObjects) ObjectDestroyed(_ context.Context, ev ObjectEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed = append(r.destroyed, ev.Object)
}

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

func TestGenericObjectIsDefault(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(Options{Lookup: config.MapLookup{}})
	s := newMaster("s1")

	obj, err := p.LifeCycleObject(ctx, s)
	require.NoError(t, err)
	g, ok := obj.(*GenericObject)
	require.True(t, ok)
	assert.Equal(t, []string{InjectConfig, InjectSession}, g.Keys())

	got, err := p.GetObject(ctx, s, "session")
	require.NoError(t, err)
	assert.Same(t, s, got)

	again, err := p.LifeCycleObject(ctx, s)
	require.NoError(t, err)
	assert.Same(t, obj, again)
	assert.Equal(t, 1, p.Len())
}

func TestUnregisteredClassIsUnknownObject(t *testing.T) {
	p := NewProvider(Options{Lookup: config.MapLookup{
		"applications.demo.lifecycle_class": "nope",
	}})

	_, err := p.LifeCycleObject(context.Background(), newMaster("s1"))
	assert.Equal(t, "nope", unknownPath(t, err))
	assert.Equal(t, 0, p.Len())
}

func TestDispatchTable(t *testing.T) {
	ctx := context.Background()
	registerClass(t, counterClass("test-table"))
	p := NewProvider(Options{Lookup: config.MapLookup{
		"applications.demo.lifecycle_class": "test-table",
	}})
	s := newMaster("s1")

	v, err := p.Invoke(ctx, s, "", "inc", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = p.Invoke(ctx, s, "", "increment", Args{float64(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = p.Invoke(ctx, s, "", "increment", Args{2.5})
	assert.Equal(t, rpcerrors.ErrInvalidArgument, rpcerrors.CodeOf(err))

	v, err = p.GetObject(ctx, s, "value")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = p.GetObject(ctx, s, "double")
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	v, err = p.Invoke(ctx, s, "", "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo", v)

	_, err = p.Invoke(ctx, s, "", "missing", nil)
	assert.True(t, rpcerrors.IsUnknownObject(err))

	_, err = p.Invoke(ctx, s, "", "explode", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestPathResolution(t *testing.T) {
	ctx := context.Background()
	registerClass(t, Class{Name: "test-paths", New: func() any {
		return &counter{child: &counter{n: 7}}
	}})
	p := NewProvider(Options{Lookup: config.MapLookup{
		"applications.demo.lifecycle_class": "test-paths",
	}})
	s := newMaster("s1")

	v, err := p.GetObject(ctx, s, "child.value")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = p.GetObject(ctx, s, "child.child.value")
	assert.Equal(t, "child.child", unknownPath(t, err))

	_, err = p.GetObject(ctx, s, "missing.value")
	assert.Equal(t, "missing", unknownPath(t, err))

	_, err = p.GetObject(ctx, s, "child.")
	assert.Equal(t, "child.", unknownPath(t, err))

	v, err = p.Invoke(ctx, s, "child", "inc", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)

	_, err = p.Invoke(ctx, s, "child.child", "inc", nil)
	assert.True(t, rpcerrors.IsUnknownObject(err))
}

func TestInjectedObjectsResolveAtFirstSegment(t *testing.T) {
	ctx := context.Background()
	registerClass(t, counterClass("test-inject"))
	c := &closer{}
	p := NewProvider(Options{
		Lookup: config.MapLookup{
			"applications.demo.lifecycle_class":     "test-inject",
			"applications.demo.properties.pagesize": "25",
		},
		Injectors: map[string]Injector{
			"resource": func(context.Context, *Env) (any, error) { return c, nil },
			"broken":   func(context.Context, *Env) (any, error) { return nil, errors.New("down") },
		},
	})
	s := newMaster("s1")

	obj, err := p.LifeCycleObject(ctx, s)
	require.NoError(t, err)
	ctr := obj.(*counter)
	assert.Same(t, s, ctr.injected[InjectSession])
	assert.Same(t, c, ctr.injected["resource"])
	assert.NotContains(t, ctr.injected, "broken")

	v, err := p.GetObject(ctx, s, "config.pagesize")
	require.NoError(t, err)
	assert.Equal(t, "25", v)

	v, err = p.Invoke(ctx, s, "config", "get", Args{"pagesize"})
	require.NoError(t, err)
	assert.Equal(t, "25", v)

	assert.Error(t, p.PutObject(ctx, s, "config.pagesize", "10"))

	p.Release(ctx, s)
	assert.True(t, c.closed)
}

func TestPutObject(t *testing.T) {
	ctx := context.Background()
	registerClass(t, counterClass("test-put"))
	p := NewProvider(Options{Lookup: config.MapLookup{
		"applications.demo.lifecycle_class": "test-put",
		"applications.other.properties.x":   "1",
	}})
	s := newMaster("s1")

	require.NoError(t, p.PutObject(ctx, s, "label", "hello"))
	obj, err := p.LifeCycleObject(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "hello", obj.(*counter).label)

	err = p.PutObject(ctx, s, "label", 42)
	assert.Equal(t, rpcerrors.ErrInvalidArgument, rpcerrors.CodeOf(err))

	err = p.PutObject(ctx, s, "nosuch", 1)
	assert.Equal(t, "nosuch", unknownPath(t, err))

	assert.Equal(t, rpcerrors.ErrInvalidArgument, rpcerrors.CodeOf(p.PutObject(ctx, s, "", 1)))

	// Generic objects accept any child.
	other := session.NewMaster(session.Config{ID: "s2", Application: "other"})
	require.NoError(t, p.PutObject(ctx, other, "greeting", "hi"))
	v, err := p.GetObject(ctx, other, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hi", v)
}

func TestAccessControl(t *testing.T) {
	ctx := context.Background()
	registerClass(t, Class{Name: "test-access", New: func() any {
		return &counter{child: &counter{}}
	}})
	lookup := config.MapLookup{
		"applications.demo.lifecycle_class":    "test-access",
		"applications.demo.access.deny_objects": "child*",
		"applications.demo.access.deny_methods": "explode",
	}
	p := NewProvider(Options{Lookup: lookup, Access: security.ConfigAccess{Lookup: lookup}})
	s := newMaster("s1")

	_, err := p.GetObject(ctx, s, "child.value")
	assert.True(t, rpcerrors.IsSecurityError(err))

	_, err = p.Invoke(ctx, s, "", "explode", nil)
	assert.True(t, rpcerrors.IsSecurityError(err))

	v, err := p.Invoke(ctx, s, "", "inc", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestParentLinking(t *testing.T) {
	ctx := context.Background()
	registerClass(t, counterClass("test-app"))
	registerClass(t, counterClass("test-linked"))
	registerClass(t, Class{Name: "test-isolated", Isolated: true, New: func() any { return &counter{} }})

	p := NewProvider(Options{Lookup: config.MapLookup{
		"applications.demo.lifecycle_class":   "test-linked",
		"applications.demo.application_class": "test-app",
		"applications.solo.lifecycle_class":   "test-isolated",
		"applications.solo.application_class": "test-app",
	}})

	master := newMaster("m1")
	appObj := p.ApplicationObject(ctx, "demo")
	require.NotNil(t, appObj)

	parent, err := p.Parent(ctx, master)
	require.NoError(t, err)
	assert.Same(t, appObj, parent)

	masterObj, err := p.LifeCycleObject(ctx, master)
	require.NoError(t, err)
	assert.Same(t, appObj, masterObj.(*counter).parent)

	sub := session.NewSub(master, session.Config{ID: "sub1"})
	parent, err = p.Parent(ctx, sub)
	require.NoError(t, err)
	assert.Same(t, masterObj, parent)

	solo := session.NewMaster(session.Config{ID: "s2", Application: "solo"})
	assert.True(t, p.IsIsolated(solo))
	assert.False(t, p.IsIsolated(master))
	parent, err = p.Parent(ctx, solo)
	require.NoError(t, err)
	assert.Nil(t, parent)
}

func TestApplicationObjectFailureIsCached(t *testing.T) {
	ctx := context.Background()
	calls := 0
	registerClass(t, Class{
		Name: "test-failing",
		New:  func() any { return &counter{} },
		Construct: []Hook{func(context.Context, any, *Env) error {
			calls++
			return errors.New("no backend")
		}},
	})
	p := NewProvider(Options{Lookup: config.MapLookup{
		"applications.demo.application_class": "test-failing",
		"applications.gone.application_class": "not-registered",
	}})

	assert.Nil(t, p.ApplicationObject(ctx, "demo"))
	assert.Nil(t, p.ApplicationObject(ctx, "demo"))
	assert.Equal(t, 1, calls)

	assert.Nil(t, p.ApplicationObject(ctx, "gone"))
	assert.Nil(t, p.ApplicationObject(ctx, "unconfigured"))

	p.RemoveApplication(ctx, "demo")
	assert.Nil(t, p.ApplicationObject(ctx, "demo"))
	assert.Equal(t, 2, calls)
}

type selfConstructing struct{ counter }

func (*selfConstructing) Construct(context.Context, *Env) error { return nil }

func TestConstructHookConflict(t *testing.T) {
	hook := func(context.Context, any, *Env) error { return nil }

	err := RegisterClass(Class{Name: "test-two", New: func() any { return &counter{} }, Construct: []Hook{hook, hook}})
	assert.True(t, rpcerrors.IsConfigurationError(err))

	registerClass(t, Class{
		Name:      "test-conflict",
		New:       func() any { return &selfConstructing{} },
		Construct: []Hook{hook},
	})
	p := NewProvider(Options{Lookup: config.MapLookup{
		"applications.demo.lifecycle_class": "test-conflict",
	}})

	_, err = p.LifeCycleObject(context.Background(), newMaster("s1"))
	assert.True(t, rpcerrors.IsConfigurationError(err))
	assert.Equal(t, 0, p.Len())
}

func TestConstructFailureIsNotCached(t *testing.T) {
	ctx := context.Background()
	fail := true
	registerClass(t, Class{
		Name: "test-flaky",
		New:  func() any { return &counter{} },
		Construct: []Hook{func(context.Context, any, *Env) error {
			if fail {
				return errors.New("not yet")
			}
			return nil
		}},
	})
	p := NewProvider(Options{Lookup: config.MapLookup{
		"applications.demo.lifecycle_class": "test-flaky",
	}})
	s := newMaster("s1")

	_, err := p.LifeCycleObject(ctx, s)
	require.Error(t, err)
	assert.Equal(t, 0, p.Len())

	fail = false
	_, err = p.LifeCycleObject(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
}

type destroyable struct {
	counter
	destroyed *[]string
}

func (d *destroyable) Destroy(context.Context) error {
	*d.destroyed = append(*d.destroyed, "self")
	return nil
}

func init() {
	Define[*destroyable]("destroyable").
		Method("inc", func(_ context.Context, d *destroyable, _ Args) (any, error) {
			d.n++
			return d.n, nil
		})
}

func TestDestroyHooksSwallowFailures(t *testing.T) {
	ctx := context.Background()
	var order []string
	registerClass(t, Class{
		Name: "test-destroy",
		New:  func() any { return &destroyable{destroyed: &order} },
		Destroy: []Hook{
			func(context.Context, any, *Env) error {
				order = append(order, "error")
				return errors.New("fail")
			},
			func(context.Context, any, *Env) error {
				order = append(order, "panic")
				panic("boom")
			},
		},
	})
	p := NewProvider(Options{Lookup: config.MapLookup{
		"applications.demo.lifecycle_class": "test-destroy",
	}})
	rec := &recordingObjects{}
	p.AddListener(rec)
	s := newMaster("s1")

	obj, err := p.LifeCycleObject(ctx, s)
	require.NoError(t, err)

	assert.NotPanics(t, func() { p.SessionDestroyed(ctx, s, session.ReasonClient) })
	assert.Equal(t, []string{"error", "panic", "self"}, order)
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, []any{obj}, rec.created)
	assert.Equal(t, []any{obj}, rec.destroyed)

	p.RemoveListener(rec)
	_, err = p.LifeCycleObject(ctx, s)
	require.NoError(t, err)
	assert.Len(t, rec.created, 1)
}

func TestInvokeTearsDownVanishedSession(t *testing.T) {
	ctx := context.Background()
	var order []string
	registerClass(t, Class{Name: "test-vanish", New: func() any { return &destroyable{destroyed: &order} }})
	avail := availability{"s1": true}
	p := NewProvider(Options{
		Lookup:   config.MapLookup{"applications.demo.lifecycle_class": "test-vanish"},
		Sessions: avail,
	})
	s := newMaster("s1")

	_, err := p.Invoke(ctx, s, "", "inc", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())

	avail["s1"] = false
	_, err = p.Invoke(ctx, s, "", "inc", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, []string{"self"}, order)

	initializing := newMaster("s2")
	initializing.Properties().Set(session.PropInitializing, true)
	_, err = p.Invoke(ctx, initializing, "", "inc", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
}

func TestReleaseWaitsForRunningCall(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	proceed := make(chan struct{})
	var (
		inCall     atomic.Bool
		destroyed  atomic.Bool
		overlapped atomic.Bool
	)

	g := NewGenericObject()
	g.Handle("work", func(context.Context, Args) (any, error) {
		inCall.Store(true)
		close(entered)
		<-proceed
		inCall.Store(false)
		return nil, nil
	})
	registerClass(t, Class{
		Name: "test-blocking",
		New:  func() any { return g },
		Destroy: []Hook{func(context.Context, any, *Env) error {
			overlapped.Store(inCall.Load())
			destroyed.Store(true)
			return nil
		}},
	})
	p := NewProvider(Options{Lookup: config.MapLookup{"applications.demo.lifecycle_class": "test-blocking"}})
	s := newMaster("s1")

	callDone := make(chan error, 1)
	go func() {
		_, err := p.Invoke(ctx, s, "", "work", nil)
		callDone <- err
	}()
	<-entered

	releaseDone := make(chan struct{})
	go func() {
		p.SessionDestroyed(ctx, s, session.ReasonExpired)
		close(releaseDone)
	}()

	assert.Never(t, destroyed.Load, 50*time.Millisecond, 5*time.Millisecond)
	close(proceed)

	require.NoError(t, <-callDone)
	<-releaseDone
	assert.True(t, destroyed.Load())
	assert.False(t, overlapped.Load(), "destroy hook ran while the call was running")
	assert.Equal(t, 0, p.Len())
}

func TestMethodCanReleaseOwnSession(t *testing.T) {
	var order []string
	p := NewProvider(Options{Lookup: config.MapLookup{"applications.demo.lifecycle_class": "test-self-release"}})

	g := NewGenericObject()
	g.Handle("logout", func(ctx context.Context, _ Args) (any, error) {
		s, ok := SessionFromContext(ctx)
		if !ok {
			return nil, errors.New("no session in context")
		}
		p.Release(ctx, s)
		order = append(order, "released")
		return nil, nil
	})
	registerClass(t, Class{
		Name: "test-self-release",
		New:  func() any { return g },
		Destroy: []Hook{func(context.Context, any, *Env) error {
			order = append(order, "hook")
			return nil
		}},
	})

	done := make(chan error, 1)
	go func() {
		_, err := p.Invoke(context.Background(), newMaster("s1"), "", "logout", nil)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("release from inside a call deadlocked")
	}
	assert.Equal(t, []string{"hook", "released"}, order)
	assert.Equal(t, 0, p.Len())
}

func TestDestroyedSessionGetsNoNewObject(t *testing.T) {
	registerClass(t, Class{Name: "test-gone", New: func() any { return &counter{} }})
	p := NewProvider(Options{Lookup: config.MapLookup{"applications.demo.lifecycle_class": "test-gone"}})

	m := session.NewManager(config.MapLookup{"applications.demo.lifecycle_class": "test-gone"}, nil, session.Options{})
	t.Cleanup(func() { m.Close(context.Background()) })
	m.AddListener(p)

	ctx := context.Background()
	s, err := m.CreateSession(ctx, session.CreateRequest{Application: "demo", Serializer: wire.Universal{}})
	require.NoError(t, err)
	_, err = p.LifeCycleObject(ctx, s)
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, s.ID(), session.ReasonClient))
	assert.Equal(t, 0, p.Len())

	_, err = p.LifeCycleObject(ctx, s)
	assert.True(t, rpcerrors.IsSessionExpired(err))
	assert.Equal(t, 0, p.Len())
}

func TestInvokeSeesSessionInContext(t *testing.T) {
	g := NewGenericObject()
	var seen *session.Session
	g.Handle("whoami", func(ctx context.Context, _ Args) (any, error) {
		seen, _ = SessionFromContext(ctx)
		return nil, nil
	})
	registerClass(t, Class{Name: "test-ctx", New: func() any { return g }})
	p := NewProvider(Options{Lookup: config.MapLookup{"applications.demo.lifecycle_class": "test-ctx"}})
	s := newMaster("s1")

	_, err := p.Invoke(context.Background(), s, "", "whoami", nil)
	require.NoError(t, err)
	assert.Same(t, s, seen)
}

func TestCloseTearsDownEverything(t *testing.T) {
	ctx := context.Background()
	registerClass(t, counterClass("test-close"))
	p := NewProvider(Options{Lookup: config.MapLookup{
		"applications.demo.lifecycle_class":   "test-close",
		"applications.demo.application_class": "test-close",
	}})
	rec := &recordingObjects{}
	p.AddListener(rec)

	for _, id := range []string{"a", "b"} {
		_, err := p.LifeCycleObject(ctx, newMaster(id))
		require.NoError(t, err)
	}
	require.Len(t, rec.created, 3)

	p.Close(ctx)
	assert.Equal(t, 0, p.Len())
	assert.Len(t, rec.destroyed, 3)
}

func TestGenericObjectMethods(t *testing.T) {
	ctx := context.Background()
	g := NewGenericObject()

	prev, err := g.InvokeDynamic(ctx, "put", Args{"k", "v"})
	require.NoError(t, err)
	assert.Nil(t, prev)

	v, err := g.InvokeDynamic(ctx, "get", Args{"k"})
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	keys, err := g.InvokeDynamic(ctx, "keys", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, keys)

	g.Store("k", nil)
	assert.Empty(t, g.Keys())

	_, err = g.InvokeDynamic(ctx, "get", nil)
	assert.Equal(t, rpcerrors.ErrInvalidArgument, rpcerrors.CodeOf(err))

	_, err = g.InvokeDynamic(ctx, "nope", nil)
	assert.True(t, rpcerrors.IsUnknownObject(err))
}

func TestArgs(t *testing.T) {
	args := Args{"s", float64(3), true, []any{"a", "b"}, map[string]any{"x": int64(1)}}

	s, err := args.String(0)
	require.NoError(t, err)
	assert.Equal(t, "s", s)

	n, err := args.Int(1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	b, err := args.Bool(2)
	require.NoError(t, err)
	assert.True(t, b)

	list, err := args.Strings(3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list)

	m, err := args.Map(4)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m["x"])

	_, err = args.String(9)
	assert.Equal(t, rpcerrors.ErrInvalidArgument, rpcerrors.CodeOf(err))
	assert.Error(t, args.Require(6))
	assert.NoError(t, args.Require(5))
}
