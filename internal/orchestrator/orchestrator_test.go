package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
	"github.com/yamakatsunamamugi/sheetflow/internal/region"
	"github.com/yamakatsunamamugi/sheetflow/internal/retry"
	"github.com/yamakatsunamamugi/sheetflow/internal/sheetstore"
	"github.com/yamakatsunamamugi/sheetflow/internal/worker"
)

var testRef = sheetstore.Ref{Target: "sheet"}

func testRegionOptions() region.Options {
	return region.Options{
		WorkInstructionMarker: domain.MarkerWorkInstruction,
		CopyMarker:            domain.MarkerCopy,
		DefaultHeaderRow:      4,
		StatusOffset:          -2,
		ErrorOffset:           -1,
		OutputOffset:          1,
	}
}

// workedGrid is the canonical layout: header at row 4, input column E
// (status C, error D, output F), data rows 6 and 7.
func workedGrid(rows ...[]string) domain.Grid {
	grid := domain.Grid{
		{"台本処理シート"},
		nil,
		nil,
		nil,
		{domain.MarkerWorkInstruction, "", "", "", domain.MarkerCopy},
		nil, // separator row
	}
	return append(grid, rows...)
}

type captureSink struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (s *captureSink) Publish(ev ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) all() []ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProgressEvent(nil), s.events...)
}

type harness struct {
	store  *sheetstore.MemStore
	sink   *captureSink
	delays []time.Duration
	orch   *Orchestrator
}

func newHarness(t *testing.T, grid domain.Grid, workers []worker.AIWorker, mutate func(*Options)) *harness {
	t.Helper()

	store := sheetstore.NewMemStore()
	store.Put(testRef, grid)

	reg := worker.NewRegistry()
	for _, w := range workers {
		if err := reg.Register(w); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	h := &harness{store: store, sink: &captureSink{}}
	opts := Options{
		Store:         store,
		Registry:      reg,
		DefaultWorker: workers[0].ID(),
		Region:        testRegionOptions(),
		Policy:        retry.Default(),
		Sink:          h.sink,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.delays = append(h.delays, d)
			return nil
		},
	}
	if mutate != nil {
		mutate(&opts)
	}

	orch, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch
	return h
}

func TestRun_ProcessesEligibleTasks(t *testing.T) {
	grid := workedGrid(
		[]string{"1", "", "", "", "こんにちは"},
		[]string{"2", "", "", "", "ありがとう"},
	)
	w := worker.NewScriptedWorker("claude",
		worker.ScriptedReply{Response: "hello"},
		worker.ScriptedReply{Response: "thanks"},
	)
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)

	result, err := h.orch.Run(context.Background(), testRef)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Processed != 2 || result.Succeeded != 2 || result.Skipped != 0 {
		t.Errorf("result = %+v", result)
	}
	if !result.Success {
		t.Error("run should succeed")
	}
	if result.ID == "" {
		t.Error("run should have an id")
	}

	if got := h.store.Cell(testRef, 6, 5); got != "hello" {
		t.Errorf("output cell F7 = %q, want hello", got)
	}
	if got := h.store.Cell(testRef, 6, 2); got != domain.StatusDone {
		t.Errorf("status cell C7 = %q, want %s", got, domain.StatusDone)
	}
	if got := h.store.Cell(testRef, 7, 5); got != "thanks" {
		t.Errorf("output cell F8 = %q, want thanks", got)
	}

	prompts := w.Prompts()
	if len(prompts) != 2 || prompts[0] != "こんにちは" || prompts[1] != "ありがとう" {
		t.Errorf("prompts = %v", prompts)
	}
}

func TestRun_ClaimsStatusCellBeforeDispatch(t *testing.T) {
	grid := workedGrid([]string{"1", "", "", "", "input"})
	w := worker.NewScriptedWorker("claude", worker.ScriptedReply{Response: "out"})
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)

	if _, err := h.orch.Run(context.Background(), testRef); err != nil {
		t.Fatalf("Run: %v", err)
	}

	writes := h.store.Writes()
	if len(writes) == 0 {
		t.Fatal("no writes recorded")
	}
	first := writes[0]
	if first.Row != 6 || first.Col != 2 || first.Value != domain.StatusInProgress {
		t.Errorf("first write = %+v, want in-progress marker at C7", first)
	}
	last := writes[len(writes)-1]
	if last.Col != 2 || last.Value != domain.StatusDone {
		t.Errorf("last write = %+v, want done marker", last)
	}
}

func TestRun_IdempotentRerun(t *testing.T) {
	grid := workedGrid(
		[]string{"1", "", domain.StatusDone, "", "こんにちは", "hello"},
		[]string{"2", "", domain.StatusDone, "", "ありがとう", "thanks"},
	)
	w := worker.NewScriptedWorker("claude", worker.ScriptedReply{Response: "never"})
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)

	result, err := h.orch.Run(context.Background(), testRef)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if w.Calls() != 0 {
		t.Errorf("worker called %d times on a finished sheet, want 0", w.Calls())
	}
	if len(h.store.Writes()) != 0 {
		t.Errorf("writes = %+v, want none", h.store.Writes())
	}
	if result.Processed != 0 || !result.Success {
		t.Errorf("result = %+v", result)
	}
}

func TestRun_OtherStatusValuesLeftAlone(t *testing.T) {
	grid := workedGrid(
		[]string{"1", "", "manual note", "", "input a"},
		[]string{"2", "", domain.StatusUnprocessed, "", "input b"},
	)
	w := worker.NewScriptedWorker("claude", worker.ScriptedReply{Response: "out"})
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)

	result, err := h.orch.Run(context.Background(), testRef)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Processed != 1 {
		t.Errorf("Processed = %d, want 1 (only the unprocessed row)", result.Processed)
	}
	if got := h.store.Cell(testRef, 6, 2); got != "manual note" {
		t.Errorf("annotated status cell = %q, want untouched", got)
	}
}

func TestRun_NetworkFailureRetriesThenSkips(t *testing.T) {
	grid := workedGrid([]string{"1", "", "", "", "input"})
	fail := &domain.Failure{Category: domain.CategoryNetwork, Op: "send", Err: errors.New("connection refused")}
	w := worker.NewScriptedWorker("claude", worker.ScriptedReply{Err: fail})
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)

	result, err := h.orch.Run(context.Background(), testRef)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Initial dispatch plus five retried attempts.
	if w.Calls() != 6 {
		t.Errorf("worker calls = %d, want 6", w.Calls())
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(h.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", h.delays, want)
	}
	for i := range want {
		if h.delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, h.delays[i], want[i])
		}
	}

	if result.Skipped != 1 || result.Succeeded != 0 {
		t.Errorf("result = %+v", result)
	}
	if !result.Success {
		t.Error("a skipped cell must not fail the run")
	}
	if len(result.Failures) != 1 || result.Failures[0].Kind != "network" {
		t.Errorf("failures = %+v", result.Failures)
	}

	if got := h.store.Cell(testRef, 6, 3); got == "" {
		t.Error("error cell D7 should carry the failure message")
	}
	if got := h.store.Cell(testRef, 6, 2); got != domain.StatusUnprocessed {
		t.Errorf("status cell C7 = %q, want reset to %s", got, domain.StatusUnprocessed)
	}
}

func TestRun_AuthenticationAbortsRun(t *testing.T) {
	grid := workedGrid(
		[]string{"1", "", "", "", "input a"},
		[]string{"2", "", "", "", "input b"},
	)
	fail := &domain.Failure{StatusCode: 401, Op: "send", Err: errors.New("invalid token")}
	w := worker.NewScriptedWorker("claude", worker.ScriptedReply{Err: fail})
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)

	result, err := h.orch.Run(context.Background(), testRef)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run error = %v, want ErrAborted", err)
	}
	if result == nil {
		t.Fatal("aborted run should still return the partial result")
	}

	if w.Calls() != 1 {
		t.Errorf("worker calls = %d, want 1 (no retry on auth)", w.Calls())
	}
	if result.Success {
		t.Error("aborted run must not be successful")
	}
	if result.Processed != 1 {
		t.Errorf("Processed = %d, want 1", result.Processed)
	}
	// The second row was never claimed.
	if got := h.store.Cell(testRef, 7, 2); got != "" {
		t.Errorf("second row status = %q, want untouched", got)
	}
}

func TestRun_TransientFailureThenSuccessClearsErrorCell(t *testing.T) {
	grid := workedGrid([]string{"1", "", "", "stale failure", "input"})
	fail := &domain.Failure{Category: domain.CategoryNetwork, Op: "send", Err: errors.New("blip")}
	w := worker.NewScriptedWorker("claude",
		worker.ScriptedReply{Err: fail},
		worker.ScriptedReply{Response: "recovered"},
	)
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)

	result, err := h.orch.Run(context.Background(), testRef)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Succeeded != 1 {
		t.Errorf("result = %+v", result)
	}
	if got := h.store.Cell(testRef, 6, 3); got != "" {
		t.Errorf("error cell = %q, want cleared after recovery", got)
	}
	if got := h.store.Cell(testRef, 6, 5); got != "recovered" {
		t.Errorf("output cell = %q", got)
	}
}

func TestRun_ProgressMonotonic(t *testing.T) {
	grid := workedGrid(
		[]string{"1", "", "", "", "a"},
		[]string{"2", "", "", "", "b"},
		[]string{"3", "", "", "", "c"},
	)
	w := worker.NewScriptedWorker("claude", worker.ScriptedReply{Response: "out"})
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)

	if _, err := h.orch.Run(context.Background(), testRef); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := h.sink.all()
	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	prev := 0
	terminal := 0
	for _, ev := range events {
		if ev.Completed < prev {
			t.Errorf("completed went backwards: %d after %d", ev.Completed, prev)
		}
		prev = ev.Completed
		if ev.Total != 3 {
			t.Errorf("total = %d, want 3", ev.Total)
		}
		if ev.State.Terminal() {
			terminal++
		}
	}
	if terminal != 3 {
		t.Errorf("terminal events = %d, want 3", terminal)
	}
	if events[len(events)-1].Completed != 3 {
		t.Errorf("final completed = %d, want 3", events[len(events)-1].Completed)
	}
}

func TestRun_ColumnBindings(t *testing.T) {
	grid := domain.Grid{
		nil, nil, nil, nil,
		{domain.MarkerWorkInstruction, "", "", "", domain.MarkerCopy, "", "", "", domain.MarkerCopy},
		nil,
		{"1", "", "", "", "text e", "", "", "", "text i"},
	}
	claude := worker.NewScriptedWorker("claude", worker.ScriptedReply{Response: "from claude"})
	chatgpt := worker.NewScriptedWorker("chatgpt", worker.ScriptedReply{Response: "from chatgpt"})
	h := newHarness(t, grid, []worker.AIWorker{claude, chatgpt}, func(o *Options) {
		o.Bindings = map[string]string{"I": "chatgpt"}
	})

	result, err := h.orch.Run(context.Background(), testRef)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Succeeded != 2 {
		t.Errorf("result = %+v", result)
	}

	if got := claude.Prompts(); len(got) != 1 || got[0] != "text e" {
		t.Errorf("claude prompts = %v", got)
	}
	if got := chatgpt.Prompts(); len(got) != 1 || got[0] != "text i" {
		t.Errorf("chatgpt prompts = %v", got)
	}
	if got := h.store.Cell(testRef, 6, 9); got != "from chatgpt" {
		t.Errorf("output cell J7 = %q", got)
	}
}

func TestRun_ParallelColumns(t *testing.T) {
	grid := domain.Grid{
		nil, nil, nil, nil,
		{domain.MarkerWorkInstruction, "", "", "", domain.MarkerCopy, "", "", "", domain.MarkerCopy},
		nil,
		{"1", "", "", "", "e1", "", "", "", "i1"},
		{"2", "", "", "", "e2", "", "", "", "i2"},
	}
	claude := worker.NewScriptedWorker("claude", worker.ScriptedReply{Response: "c"})
	chatgpt := worker.NewScriptedWorker("chatgpt", worker.ScriptedReply{Response: "g"})
	h := newHarness(t, grid, []worker.AIWorker{claude, chatgpt}, func(o *Options) {
		o.Bindings = map[string]string{"I": "chatgpt"}
		o.Parallel = true
	})

	result, err := h.orch.Run(context.Background(), testRef)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Processed != 4 || result.Succeeded != 4 {
		t.Errorf("result = %+v", result)
	}
	if claude.Calls() != 2 || chatgpt.Calls() != 2 {
		t.Errorf("calls = %d/%d, want 2/2", claude.Calls(), chatgpt.Calls())
	}
	for _, cell := range [][2]int{{6, 2}, {7, 2}, {6, 6}, {7, 6}} {
		if got := h.store.Cell(testRef, cell[0], cell[1]); got != domain.StatusDone {
			t.Errorf("status cell (%d,%d) = %q, want done", cell[0], cell[1], got)
		}
	}

	// Completion counts must arrive in publish order even with both
	// columns racing.
	next := 1
	for _, ev := range h.sink.all() {
		if !ev.State.Terminal() {
			continue
		}
		if ev.Completed != next {
			t.Errorf("terminal event completed = %d, want %d", ev.Completed, next)
		}
		next++
	}
	if next != 5 {
		t.Errorf("terminal events = %d, want 4", next-1)
	}
}

func TestRun_StopAtTaskBoundary(t *testing.T) {
	grid := workedGrid(
		[]string{"1", "", "", "", "a"},
		[]string{"2", "", "", "", "b"},
	)
	ctx, cancel := context.WithCancel(context.Background())
	w := worker.NewScriptedWorker("claude", worker.ScriptedReply{Response: "out"})
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)
	// Cancel as soon as the first task finishes.
	h.orch.opts.Sink = sinkFunc(func(ev ProgressEvent) {
		if ev.State == domain.TaskSucceeded {
			cancel()
		}
	})

	result, err := h.orch.Run(ctx, testRef)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Run error = %v, want ErrStopped", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, should keep the cancellation cause", err)
	}
	if w.Calls() != 1 {
		t.Errorf("worker calls = %d, want 1 (stop between tasks)", w.Calls())
	}
	if result == nil || !result.Success {
		t.Errorf("result = %+v, a stop must not fail the run", result)
	}
}

type sinkFunc func(ProgressEvent)

func (f sinkFunc) Publish(ev ProgressEvent) { f(ev) }

func TestRun_RateLimitedWritesRetryThenSkip(t *testing.T) {
	grid := workedGrid([]string{"1", "", "", "", "input"})
	w := worker.NewScriptedWorker("claude", worker.ScriptedReply{Response: "out"})
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)
	h.store.WriteErr = &domain.Failure{Category: domain.CategoryRateLimit, Op: "write", Err: errors.New("quota exceeded")}

	result, err := h.orch.Run(context.Background(), testRef)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The claim write is retried under the rate-limit policy, never
	// dispatched to the worker, and the cell skipped once retries run out.
	if w.Calls() != 0 {
		t.Errorf("worker calls = %d, want 0 (claim never landed)", w.Calls())
	}
	if len(h.delays) != 5 {
		t.Fatalf("delays = %v, want five fixed rate-limit delays", h.delays)
	}
	for i, d := range h.delays {
		if d != 30*time.Second {
			t.Errorf("delay %d = %v, want 30s", i, d)
		}
	}
	if result.Skipped != 1 || !result.Success {
		t.Errorf("result = %+v, want one skip on a still-successful run", result)
	}
	if len(result.Failures) != 1 || result.Failures[0].Kind != "rate_limit" {
		t.Errorf("failures = %+v", result.Failures)
	}
}

func TestRun_AuthFailureOnWriteAbortsRun(t *testing.T) {
	grid := workedGrid(
		[]string{"1", "", "", "", "input a"},
		[]string{"2", "", "", "", "input b"},
	)
	w := worker.NewScriptedWorker("claude", worker.ScriptedReply{Response: "out"})
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)
	h.store.WriteErr = &domain.Failure{StatusCode: 401, Op: "write", Err: errors.New("token expired")}

	result, err := h.orch.Run(context.Background(), testRef)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Run error = %v, want ErrAborted", err)
	}
	if result == nil {
		t.Fatal("aborted run should still return the partial result")
	}

	if w.Calls() != 0 {
		t.Errorf("worker calls = %d, want 0 (no dispatch on a dead store)", w.Calls())
	}
	if result.Success {
		t.Error("a run aborted by store failures must not be successful")
	}
	if len(result.Failures) != 1 || result.Failures[0].Kind != "authentication" {
		t.Errorf("failures = %+v", result.Failures)
	}
}

func TestRun_NoHeaderFails(t *testing.T) {
	grid := domain.Grid{{"nothing here"}}
	w := worker.NewScriptedWorker("claude")
	h := newHarness(t, grid, []worker.AIWorker{w}, nil)

	_, err := h.orch.Run(context.Background(), testRef)
	if !errors.Is(err, region.ErrNoHeader) {
		t.Fatalf("Run = %v, want ErrNoHeader", err)
	}
}

func TestRun_JournalReceivesResult(t *testing.T) {
	grid := workedGrid([]string{"1", "", "", "", "input"})
	w := worker.NewScriptedWorker("claude", worker.ScriptedReply{Response: "out"})

	journal := &captureJournal{}
	h := newHarness(t, grid, []worker.AIWorker{w}, func(o *Options) {
		o.Journal = journal
	})

	result, err := h.orch.Run(context.Background(), testRef)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if journal.saved == nil || journal.saved.ID != result.ID {
		t.Errorf("journal saved %+v, want run %s", journal.saved, result.ID)
	}
}

type captureJournal struct {
	saved *domain.RunResult
}

func (j *captureJournal) SaveRun(ctx context.Context, result *domain.RunResult) error {
	j.saved = result
	return nil
}

func TestRun_UnboundColumnFailsFast(t *testing.T) {
	grid := workedGrid([]string{"1", "", "", "", "input"})
	w := worker.NewScriptedWorker("claude", worker.ScriptedReply{Response: "out"})
	h := newHarness(t, grid, []worker.AIWorker{w}, func(o *Options) {
		o.DefaultWorker = "missing-tool"
	})

	_, err := h.orch.Run(context.Background(), testRef)
	if err == nil {
		t.Fatal("Run with unknown default worker should fail before dispatching")
	}
	if w.Calls() != 0 {
		t.Errorf("worker calls = %d, want 0", w.Calls())
	}
	if fmt.Sprint(err) == "" {
		t.Error("error should carry a message")
	}
}
