package session

import (
	"context"
	"sync"
	"time"

	rpcerrors "github.com/marmos91/dittorpc/pkg/errors"
)

// SlotDecision is the outcome of checking a communication id against a
// ResponseSlot.
type SlotDecision int

const (
	// SlotExecute means the request is new and its calls must run. The
	// caller must Complete or Abort the reservation.
	SlotExecute SlotDecision = iota

	// SlotReplay means the request is a retry of the cached response.
	SlotReplay
)

// ResponseSlot caches the last serialized response of a master session,
// keyed by communication id. It holds at most one response.
type ResponseSlot struct {
	mu sync.Mutex

	used    bool
	id      int64
	content []byte

	// done is non-nil while the response for id is being produced and is
	// closed when it is completed or aborted.
	done chan struct{}

	// previous state, restored by Abort.
	prevUsed    bool
	prevID      int64
	prevContent []byte
}

// Reserve checks commID against the slot.
//
//   - commID equal to the cached id replays the cached content, waiting up
//     to timeout while it is still being produced.
//   - commID one past the cached id (or any id on an unused slot) reserves
//     the slot for a new response.
//   - anything else is a ProtocolError.
func (s *ResponseSlot) Reserve(ctx context.Context, commID int64, timeout time.Duration) (SlotDecision, []byte, error) {
	var deadline <-chan time.Time
	for {
		s.mu.Lock()
		switch {
		case s.used && commID == s.id:
			if s.done == nil {
				content := s.content
				s.mu.Unlock()
				return SlotReplay, content, nil
			}
		case !s.used || commID == s.id+1:
			if s.done == nil {
				s.prevUsed, s.prevID, s.prevContent = s.used, s.id, s.content
				s.used, s.id, s.content = true, commID, nil
				s.done = make(chan struct{})
				s.mu.Unlock()
				return SlotExecute, nil, nil
			}
		default:
			s.mu.Unlock()
			return 0, nil, rpcerrors.NewProtocolError("invalid communication state")
		}

		// A response is in flight. Wait for it and evaluate again.
		done := s.done
		s.mu.Unlock()

		if deadline == nil {
			t := time.NewTimer(timeout)
			defer t.Stop()
			deadline = t.C
		}
		select {
		case <-done:
		case <-deadline:
			return 0, nil, rpcerrors.NewProtocolError("response content unavailable for communication id %d", commID)
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
}

// Complete stores content as the response for commID.
func (s *ResponseSlot) Complete(commID int64, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil || s.id != commID {
		return
	}
	s.content = content
	s.prevContent = nil
	close(s.done)
	s.done = nil
}

// Abort releases the reservation for commID and restores the previous
// cached response.
func (s *ResponseSlot) Abort(commID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil || s.id != commID {
		return
	}
	s.used, s.id, s.content = s.prevUsed, s.prevID, s.prevContent
	s.prevContent = nil
	close(s.done)
	s.done = nil
}

// Cached returns the cached communication id, if any.
func (s *ResponseSlot) Cached() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.used
}

// Clear drops the cached response.
func (s *ResponseSlot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used, s.content, s.prevContent = false, nil, nil
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
}
