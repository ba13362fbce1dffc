// Package orchestrator drives one processing pass over a sheet: detect
// the work region, enumerate eligible cell tasks, dispatch each to its
// AI worker and write results back, under the retry policy. The sheet's
// own status cells are the durable record; the orchestrator keeps no
// state between runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yamakatsunamamugi/sheetflow/internal/classify"
	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
	"github.com/yamakatsunamamugi/sheetflow/internal/region"
	"github.com/yamakatsunamamugi/sheetflow/internal/retry"
	"github.com/yamakatsunamamugi/sheetflow/internal/sheetstore"
	"github.com/yamakatsunamamugi/sheetflow/internal/worker"
)

// ErrAborted is wrapped into the error returned when a task's failure
// aborts the whole run. The partial RunResult is still returned.
var ErrAborted = errors.New("run aborted")

// ErrStopped is wrapped into the error returned when an external stop
// request ends the run between tasks. A stop is an operator action, not
// a failure; the partial RunResult keeps whatever Success the completed
// tasks determined.
var ErrStopped = errors.New("run stopped")

// Journal persists finished runs. The orchestrator treats journal
// failures as log-worthy, never run-fatal.
type Journal interface {
	SaveRun(ctx context.Context, result *domain.RunResult) error
}

// Options wires an Orchestrator.
type Options struct {
	Store         sheetstore.Store
	Registry      *worker.Registry
	DefaultWorker string            // tool id for unbound columns
	Bindings      map[string]string // column letter -> tool id
	Region        region.Options
	Predicate     region.RowPredicate
	Policy        retry.Policy
	Parallel      bool // process distinct-worker columns concurrently
	Sink          Sink
	Journal       Journal
	Logger        *log.Logger

	// Sleep waits out a retry delay; tests inject an instant version.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator runs processing passes. Safe for sequential reuse; one
// Run at a time per instance.
type Orchestrator struct {
	opts Options
}

// New validates the wiring and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("orchestrator: worker registry is required")
	}
	if opts.DefaultWorker == "" && len(opts.Bindings) == 0 {
		return nil, fmt.Errorf("orchestrator: no default worker and no column bindings")
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Sink == nil {
		opts.Sink = MultiSink(nil)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Orchestrator{opts: opts}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// columnPlan is one input column's share of the run.
type columnPlan struct {
	input  domain.InputColumn
	tasks  []*domain.CellTask
	worker worker.AIWorker
}

// runState is the mutable state shared by column goroutines.
type runState struct {
	mu        sync.Mutex
	result    *domain.RunResult
	completed int
	total     int
	sink      Sink
}

// finish records a terminal task state and publishes the progress tick.
func (rs *runState) finish(task *domain.CellTask, state domain.TaskState, message string, kind classify.Kind) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.result.Processed++
	switch state {
	case domain.TaskSucceeded:
		rs.result.Succeeded++
	case domain.TaskSkipped:
		rs.result.Skipped++
		rs.result.RecordFailure(task.Ref(), string(kind), message)
	case domain.TaskAborted:
		rs.result.Success = false
		rs.result.RecordFailure(task.Ref(), string(kind), message)
	}
	rs.completed++

	// Published under the lock so parallel columns cannot reorder the
	// Completed counts seen by consumers. Sinks must not block.
	rs.sink.Publish(ProgressEvent{
		RunID:     rs.result.ID,
		Ref:       task.Ref().String(),
		State:     state,
		Completed: rs.completed,
		Total:     rs.total,
		Message:   message,
		At:        time.Now(),
	})
}

// note publishes a non-terminal event without moving the counter.
func (rs *runState) note(task *domain.CellTask, state domain.TaskState, message string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.sink.Publish(ProgressEvent{
		RunID:     rs.result.ID,
		Ref:       task.Ref().String(),
		State:     state,
		Completed: rs.completed,
		Total:     rs.total,
		Message:   message,
		At:        time.Now(),
	})
}

// Run executes one pass over the referenced sheet. The returned
// RunResult is always non-nil once the region was detected; on abort it
// is paired with an ErrAborted-wrapping error, and an external stop
// pairs it with an ErrStopped-wrapping one.
func (o *Orchestrator) Run(ctx context.Context, ref sheetstore.Ref) (*domain.RunResult, error) {
	grid, err := o.opts.Store.Read(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}

	reg, err := region.Detect(grid, o.opts.Region)
	if err != nil {
		return nil, err
	}

	plans, total, err := o.plan(grid, reg)
	if err != nil {
		return nil, err
	}

	result := &domain.RunResult{
		ID:        uuid.NewString(),
		SheetRef:  ref.String(),
		Success:   true,
		StartedAt: time.Now(),
	}
	rs := &runState{result: result, total: total, sink: o.opts.Sink}

	queue := newWriteQueue(o.opts.Store, ref)
	queue.start(ctx)

	runErr := o.processColumns(ctx, plans, rs, queue)

	queue.stop()
	result.FinishedAt = time.Now()

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			runErr = fmt.Errorf("%w: %w", ErrStopped, runErr)
		} else {
			result.Success = false
		}
	}

	if o.opts.Journal != nil {
		if err := o.opts.Journal.SaveRun(context.WithoutCancel(ctx), result); err != nil {
			o.opts.Logger.Printf("warning: journal save failed: %v", err)
		}
	}

	return result, runErr
}

// plan resolves each input column's worker and collects its tasks.
func (o *Orchestrator) plan(grid domain.Grid, reg *region.Region) ([]columnPlan, int, error) {
	var plans []columnPlan
	total := 0
	for _, ic := range reg.InputColumns {
		w, err := o.workerFor(ic.Index)
		if err != nil {
			return nil, 0, err
		}
		tasks := region.NewEnumerator(grid, reg.HeaderRow, ic, o.opts.Predicate).Collect()
		for _, t := range tasks {
			if !t.Done() && t.Eligible() {
				total++
			}
		}
		plans = append(plans, columnPlan{input: ic, tasks: tasks, worker: w})
	}
	return plans, total, nil
}

// workerFor resolves the tool bound to a column, falling back to the
// default worker.
func (o *Orchestrator) workerFor(column int) (worker.AIWorker, error) {
	id := o.opts.DefaultWorker
	if bound, ok := o.opts.Bindings[domain.ColumnLetter(column)]; ok {
		id = bound
	}
	if id == "" {
		return nil, fmt.Errorf("column %s has no bound worker and no default is set", domain.ColumnLetter(column))
	}
	return o.opts.Registry.Lookup(id)
}

func (o *Orchestrator) processColumns(ctx context.Context, plans []columnPlan, rs *runState, queue *writeQueue) error {
	if o.opts.Parallel && parallelizable(plans) {
		g, gctx := errgroup.WithContext(ctx)
		for _, plan := range plans {
			g.Go(func() error {
				return o.processColumn(gctx, plan, rs, queue)
			})
		}
		return g.Wait()
	}

	for _, plan := range plans {
		if err := o.processColumn(ctx, plan, rs, queue); err != nil {
			return err
		}
	}
	return nil
}

// parallelizable requires every column to have its own worker: two
// columns sharing a worker would interleave prompts in one session.
func parallelizable(plans []columnPlan) bool {
	if len(plans) < 2 {
		return false
	}
	seen := make(map[string]bool, len(plans))
	for _, p := range plans {
		id := p.worker.ID()
		if seen[id] {
			return false
		}
		seen[id] = true
	}
	return true
}

// processColumn walks one column's tasks in row order. Stops between
// tasks on context cancellation; a returned error aborts the run.
func (o *Orchestrator) processColumn(ctx context.Context, plan columnPlan, rs *runState, queue *writeQueue) error {
	sess := worker.NewSession(plan.worker, plan.input.Index)
	defer sess.Close()

	for _, task := range plan.tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if task.Done() || !task.Eligible() {
			continue
		}
		if err := o.processTask(ctx, sess, task, rs, queue); err != nil {
			return err
		}
	}
	return nil
}

// writeCell pushes one cell write through the queue, retrying transient
// store failures under the same policy as worker dispatches. On error
// the returned outcome is the policy's terminal decision (Skip or
// AbortAll) unless the context ended mid-retry, in which case the
// error is the context's.
func (o *Orchestrator) writeCell(ctx context.Context, queue *writeQueue, row, col int, value string) (retry.Outcome, error) {
	attempt := 0
	for {
		attempt++
		err := queue.write(ctx, row, col, value)
		if err == nil {
			return retry.OutcomeRetry, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return retry.OutcomeRetry, ctxErr
		}

		kind := classify.Classify(err)
		decision := o.opts.Policy.Decide(kind, attempt)
		o.opts.Logger.Printf("write %s attempt %d failed (%s): %v -> %s",
			domain.A1(row, col), attempt, kind, err, decision.Outcome)

		if decision.Outcome != retry.OutcomeRetry {
			return decision.Outcome, err
		}
		if serr := o.opts.Sleep(ctx, decision.Delay); serr != nil {
			return retry.OutcomeRetry, serr
		}
	}
}

// writeFailed resolves a write that kept failing after retries: the
// task is skipped or the run aborted per the policy's last word.
func (o *Orchestrator) writeFailed(ctx context.Context, task *domain.CellTask, rs *runState, outcome retry.Outcome, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	kind := classify.Classify(err)
	if outcome == retry.OutcomeSkip {
		rs.finish(task, domain.TaskSkipped, err.Error(), kind)
		return nil
	}
	rs.finish(task, domain.TaskAborted, err.Error(), kind)
	return fmt.Errorf("%w: %s: %v", ErrAborted, task.Ref(), err)
}

// processTask drives one cell through dispatch, retries and write-back.
func (o *Orchestrator) processTask(ctx context.Context, sess *worker.Session, task *domain.CellTask, rs *runState, queue *writeQueue) error {
	col := task.Column

	// Claim the cell before dispatching so a concurrent viewer sees it
	// in flight and a crash leaves a visible trace.
	if outcome, err := o.writeCell(ctx, queue, task.Row, col.StatusCol, domain.StatusInProgress); err != nil {
		return o.writeFailed(ctx, task, rs, outcome, err)
	}
	rs.note(task, domain.TaskDispatched, "")

	attempt := 0
	failedBefore := false
	for {
		attempt++
		response, err := sess.Send(ctx, task.Input)
		if err == nil {
			return o.completeTask(ctx, task, rs, queue, response, failedBefore)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		failedBefore = true

		kind := classify.Classify(err)
		decision := o.opts.Policy.Decide(kind, attempt)
		o.opts.Logger.Printf("%s attempt %d failed (%s): %v -> %s", task.Ref(), attempt, kind, err, decision.Outcome)

		switch decision.Outcome {
		case retry.OutcomeRetry:
			rs.note(task, domain.TaskRetrying, fmt.Sprintf("attempt %d: %s", attempt, kind))
			if err := o.opts.Sleep(ctx, decision.Delay); err != nil {
				return err
			}

		case retry.OutcomeSkip:
			if oc, werr := o.writeCell(ctx, queue, task.Row, col.ErrorCol, err.Error()); werr != nil {
				return o.writeFailed(ctx, task, rs, oc, werr)
			}
			// Back to unprocessed so a later run may retry the cell.
			if oc, werr := o.writeCell(ctx, queue, task.Row, col.StatusCol, domain.StatusUnprocessed); werr != nil {
				return o.writeFailed(ctx, task, rs, oc, werr)
			}
			rs.finish(task, domain.TaskSkipped, err.Error(), kind)
			return nil

		case retry.OutcomeAbortAll:
			if werr := queue.write(ctx, task.Row, col.ErrorCol, err.Error()); werr != nil {
				o.opts.Logger.Printf("warning: write error cell %s: %v", task.Ref(), werr)
			}
			if werr := queue.write(ctx, task.Row, col.StatusCol, domain.StatusUnprocessed); werr != nil {
				o.opts.Logger.Printf("warning: reset status %s: %v", task.Ref(), werr)
			}
			rs.finish(task, domain.TaskAborted, err.Error(), kind)
			return fmt.Errorf("%w: %s: %v", ErrAborted, task.Ref(), err)
		}
	}
}

// completeTask writes the response and flips the status to done.
func (o *Orchestrator) completeTask(ctx context.Context, task *domain.CellTask, rs *runState, queue *writeQueue, response string, failedBefore bool) error {
	col := task.Column
	if oc, err := o.writeCell(ctx, queue, task.Row, col.OutputCol, response); err != nil {
		return o.writeFailed(ctx, task, rs, oc, err)
	}
	if failedBefore {
		// Clear the message left by earlier attempts of this run.
		if oc, err := o.writeCell(ctx, queue, task.Row, col.ErrorCol, ""); err != nil {
			return o.writeFailed(ctx, task, rs, oc, err)
		}
	}
	if oc, err := o.writeCell(ctx, queue, task.Row, col.StatusCol, domain.StatusDone); err != nil {
		return o.writeFailed(ctx, task, rs, oc, err)
	}
	rs.finish(task, domain.TaskSucceeded, "", "")
	return nil
}
