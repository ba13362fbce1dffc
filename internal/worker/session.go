package worker

import (
	"context"
	"fmt"
	"sync"
)

// Session is the explicit handle for one processing pass over one column.
// It tracks dispatch counts and refuses to send after Close, so the
// lifetime of a column's worker connection is visible in the code that
// owns it instead of being ambient state.
type Session struct {
	worker AIWorker
	column int

	mu         sync.Mutex
	closed     bool
	dispatches int
}

// NewSession opens a session binding the worker to a sheet column.
func NewSession(w AIWorker, column int) *Session {
	return &Session{worker: w, column: column}
}

// Worker returns the underlying worker.
func (s *Session) Worker() AIWorker { return s.worker }

// Column returns the bound column index.
func (s *Session) Column() int { return s.column }

// Dispatches returns how many sends this session has made, including
// retries.
func (s *Session) Dispatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatches
}

// Send forwards one prompt through the session's worker.
func (s *Session) Send(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("session for %s column %d is closed", s.worker.ID(), s.column)
	}
	s.dispatches++
	s.mu.Unlock()

	return s.worker.Send(ctx, prompt)
}

// Close marks the session done. Further sends fail. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
