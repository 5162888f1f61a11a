package session

import (
	"context"
	"sync"
	"sync/atomic"
)

type ownerKey struct{}

var nextOwner atomic.Uint64

// WithOwner returns a context carrying a lock owner token. Session locks
// taken with the same token are re-entrant. A context that already has a
// token is returned unchanged.
func WithOwner(ctx context.Context) context.Context {
	if ownerFrom(ctx) != 0 {
		return ctx
	}
	return context.WithValue(ctx, ownerKey{}, nextOwner.Add(1))
}

func ownerFrom(ctx context.Context) uint64 {
	if ctx == nil {
		return 0
	}
	id, _ := ctx.Value(ownerKey{}).(uint64)
	return id
}

// reentrantMutex is a mutex that the current owner may acquire repeatedly.
type reentrantMutex struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner uint64
	depth int
}

func (m *reentrantMutex) lock(owner uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cond == nil {
		m.cond = sync.NewCond(&m.mu)
	}
	for m.depth > 0 && m.owner != owner {
		m.cond.Wait()
	}
	m.owner = owner
	m.depth++
}

func (m *reentrantMutex) unlock(owner uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 || m.owner != owner {
		panic("session: unlock of lock not held by owner")
	}
	m.depth--
	if m.depth == 0 {
		m.owner = 0
		if m.cond != nil {
			m.cond.Broadcast()
		}
	}
}

func (m *reentrantMutex) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth
}
