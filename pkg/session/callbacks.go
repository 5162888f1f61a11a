package session

import (
	"context"
	"sync"

	"github.com/eapache/queue"

	"github.com/marmos91/dittorpc/internal/logger"
	"github.com/marmos91/dittorpc/pkg/wire"
)

// PushReceiver delivers callback results to a client without waiting for
// its next request. Push must not block.
type PushReceiver interface {
	Push(ctx context.Context, results []wire.Result) error
}

// CallbackQueue holds callback results of a master session until they are
// pushed or piggybacked on the next response.
type CallbackQueue struct {
	mu       sync.Mutex
	pending  *queue.Queue
	receiver PushReceiver
}

func newCallbackQueue() *CallbackQueue {
	return &CallbackQueue{pending: queue.New()}
}

// Add queues r. When a push receiver is registered, everything queued is
// handed to it. Results the receiver rejects stay queued and the receiver
// is dropped.
func (q *CallbackQueue) Add(ctx context.Context, r wire.Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.Add(r)
	if q.receiver == nil {
		return
	}

	results := q.drainLocked()
	if err := q.receiver.Push(ctx, results); err != nil {
		logger.WarnCtx(ctx, "Push receiver failed, falling back to polling", logger.Err(err))
		q.receiver = nil
		for _, r := range results {
			q.pending.Add(r)
		}
	}
}

// Drain removes and returns all queued results in arrival order.
func (q *CallbackQueue) Drain() []wire.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked()
}

func (q *CallbackQueue) drainLocked() []wire.Result {
	n := q.pending.Length()
	if n == 0 {
		return nil
	}
	out := make([]wire.Result, 0, n)
	for q.pending.Length() > 0 {
		out = append(out, q.pending.Remove().(wire.Result))
	}
	return out
}

// Len returns the number of queued results.
func (q *CallbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Length()
}

// SetReceiver registers r and flushes queued results to it. A nil r
// unregisters the current receiver.
func (q *CallbackQueue) SetReceiver(ctx context.Context, r PushReceiver) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.receiver = r
	if r == nil || q.pending.Length() == 0 {
		return nil
	}
	results := q.drainLocked()
	if err := r.Push(ctx, results); err != nil {
		q.receiver = nil
		for _, res := range results {
			q.pending.Add(res)
		}
		return err
	}
	return nil
}

// RemoveReceiver unregisters r if it is the current receiver.
func (q *CallbackQueue) RemoveReceiver(r PushReceiver) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.receiver == r {
		q.receiver = nil
	}
}

// HasReceiver reports whether a push receiver is registered.
func (q *CallbackQueue) HasReceiver() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.receiver != nil
}
