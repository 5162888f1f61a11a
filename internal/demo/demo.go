// Package demo registers the sample classes behind the "demo" application
// of the default configuration. A Board is shared by every session of the
// application; each session gets its own Counter whose parent is the Board.
package demo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittorpc/pkg/objects"
	"github.com/marmos91/dittorpc/pkg/server"
	"github.com/marmos91/dittorpc/pkg/session"
)

// Class names to use as application_class and lifecycle_class.
const (
	BoardClass   = "demo.board"
	CounterClass = "demo.counter"
)

// Board aggregates the counters of all sessions of an application.
type Board struct {
	mu       sync.Mutex
	total    int64
	sessions int
}

// Total returns the sum of all increments.
func (b *Board) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *Board) add(n int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total += n
	return b.total
}

func (b *Board) join(delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions += delta
}

// Counter is the life-cycle object of a demo session.
type Counter struct {
	mu      sync.Mutex
	value   int64
	calls   int
	board   *Board
	emitter *server.Emitter
}

func (c *Counter) SetParent(parent any) {
	c.board, _ = parent.(*Board)
}

func (c *Counter) Inject(name string, v any) {
	if e, ok := v.(*server.Emitter); ok && name == server.InjectCallbacks {
		c.emitter = e
	}
}

func (c *Counter) Construct(context.Context, *objects.Env) error {
	if c.board != nil {
		c.board.join(1)
	}
	return nil
}

func (c *Counter) Destroy(context.Context) error {
	if c.board != nil {
		c.board.join(-1)
	}
	return nil
}

// BeforeFirstCall and AfterLastCall count the requests that reached the
// counter.
func (c *Counter) BeforeFirstCall(context.Context, *session.Session) {}

func (c *Counter) AfterLastCall(context.Context, *session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

// Value returns the counter's value.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *Counter) increment(n int64) int64 {
	c.mu.Lock()
	c.value += n
	v := c.value
	c.mu.Unlock()
	if c.board != nil {
		c.board.add(n)
	}
	return v
}

// delayed resolves to a value after a pause. Callback calls await it.
type delayed struct {
	value any
	after time.Duration
}

func (d delayed) Await(ctx context.Context) (any, error) {
	select {
	case <-time.After(d.after):
		return d.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func init() {
	objects.Define[*Board](BoardClass).
		Method("total", func(_ context.Context, b *Board, _ objects.Args) (any, error) {
			return b.Total(), nil
		}).
		Method("sessions", func(_ context.Context, b *Board, _ objects.Args) (any, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			return int64(b.sessions), nil
		})

	objects.Define[*Counter](CounterClass).
		Getter("board", func(c *Counter) (any, error) {
			if c.board == nil {
				return nil, fmt.Errorf("counter has no board")
			}
			return c.board, nil
		}).
		Method("value", func(_ context.Context, c *Counter, _ objects.Args) (any, error) {
			return c.Value(), nil
		}).
		Method("requests", func(_ context.Context, c *Counter, _ objects.Args) (any, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			return int64(c.calls), nil
		}).
		Method("increment", func(_ context.Context, c *Counter, args objects.Args) (any, error) {
			n := int64(1)
			if args.Len() > 0 {
				var err error
				if n, err = args.Int(0); err != nil {
					return nil, err
				}
			}
			return c.increment(n), nil
		}).
		Method("reset", func(_ context.Context, c *Counter, _ objects.Args) (any, error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.value = 0
			return nil, nil
		}).
		Method("echo", func(_ context.Context, _ *Counter, args objects.Args) (any, error) {
			return args.Get(0), nil
		}).
		Method("sleep", func(_ context.Context, c *Counter, args objects.Args) (any, error) {
			ms, err := args.Int(0)
			if err != nil {
				return nil, err
			}
			return delayed{value: c.Value(), after: time.Duration(ms) * time.Millisecond}, nil
		}).
		Method("watch", func(ctx context.Context, c *Counter, args objects.Args) (any, error) {
			id, err := args.Int(0)
			if err != nil {
				return nil, err
			}
			if c.emitter == nil {
				return nil, fmt.Errorf("callbacks are not available")
			}
			c.emitter.Emit(ctx, id, c.Value())
			return nil, nil
		})

	objects.MustRegisterClass(objects.Class{Name: BoardClass, New: func() any { return &Board{} }})
	objects.MustRegisterClass(objects.Class{Name: CounterClass, New: func() any { return &Counter{} }})
}
