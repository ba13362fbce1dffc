package orchestrator

import (
	"log"
	"sync"
	"time"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

// ProgressEvent describes one observable step of a run. Completed only
// moves when a task reaches a terminal state, so consumers can render
// "n/total" without tracking task identity.
type ProgressEvent struct {
	RunID     string           `json:"run_id"`
	Ref       string           `json:"ref"` // task cell, A1 style; empty for run-level events
	State     domain.TaskState `json:"state"`
	Completed int              `json:"completed"`
	Total     int              `json:"total"`
	Message   string           `json:"message,omitempty"`
	At        time.Time        `json:"at"`
}

// Sink consumes progress events. Publish must not block: the run loop
// calls it inline between dispatches.
type Sink interface {
	Publish(ProgressEvent)
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Publish(ev ProgressEvent) {
	for _, s := range m {
		s.Publish(ev)
	}
}

// ChanSink buffers events on a channel, dropping when the consumer falls
// behind. Used by the web layer to feed SSE and websocket clients.
type ChanSink struct {
	ch chan ProgressEvent

	mu     sync.Mutex
	closed bool
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{ch: make(chan ProgressEvent, buffer)}
}

// Events returns the receive side.
func (s *ChanSink) Events() <-chan ProgressEvent { return s.ch }

func (s *ChanSink) Publish(ev ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Slow consumer; the event is droppable, the sheet is the record.
	}
}

// Close stops the sink. Publish after Close is a no-op.
func (s *ChanSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// LogSink writes events to a standard logger.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Publish(ev ProgressEvent) {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	if ev.Ref == "" {
		logger.Printf("run %s: %s (%d/%d) %s", ev.RunID, ev.State, ev.Completed, ev.Total, ev.Message)
		return
	}
	logger.Printf("run %s: %s %s (%d/%d) %s", ev.RunID, ev.Ref, ev.State, ev.Completed, ev.Total, ev.Message)
}
