package worker

import (
	"context"
	"sync"
)

// ScriptedWorker replays a fixed sequence of responses, one per Send, and
// records every prompt it saw. Tests script failures by putting errors in
// the sequence.
type ScriptedWorker struct {
	id string

	mu      sync.Mutex
	script  []ScriptedReply
	prompts []string
	calls   int
}

// ScriptedReply is one entry in a scripted worker's playback.
type ScriptedReply struct {
	Response string
	Err      error
}

// NewScriptedWorker builds a worker that answers from the given script.
// Once the script is exhausted, further sends return the last entry.
func NewScriptedWorker(id string, script ...ScriptedReply) *ScriptedWorker {
	return &ScriptedWorker{id: id, script: script}
}

func (w *ScriptedWorker) ID() string { return w.id }

func (w *ScriptedWorker) Send(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prompts = append(w.prompts, prompt)
	idx := w.calls
	w.calls++
	if idx >= len(w.script) {
		idx = len(w.script) - 1
	}
	if idx < 0 {
		return "", nil
	}
	reply := w.script[idx]
	return reply.Response, reply.Err
}

// Calls returns how many times Send was invoked.
func (w *ScriptedWorker) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

// Prompts returns a copy of every prompt received, in order.
func (w *ScriptedWorker) Prompts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.prompts))
	copy(out, w.prompts)
	return out
}
