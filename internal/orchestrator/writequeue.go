package orchestrator

import (
	"context"
	"errors"

	"github.com/yamakatsunamamugi/sheetflow/internal/sheetstore"
)

// writeReq is one cell write waiting its turn.
type writeReq struct {
	row, col int
	value    string
	reply    chan error
}

// writeQueue serializes all sheet writes of one run through a single
// goroutine. With parallel columns the backends never see concurrent
// writes, and write order matches the order tasks completed in.
type writeQueue struct {
	store sheetstore.Store
	ref   sheetstore.Ref
	ch    chan writeReq
	done  chan struct{}
}

func newWriteQueue(store sheetstore.Store, ref sheetstore.Ref) *writeQueue {
	return &writeQueue{
		store: store,
		ref:   ref,
		ch:    make(chan writeReq),
		done:  make(chan struct{}),
	}
}

// start runs the writer until stop is called or ctx ends.
func (q *writeQueue) start(ctx context.Context) {
	go func() {
		defer close(q.done)
		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-q.ch:
				if !ok {
					return
				}
				req.reply <- q.store.Write(ctx, q.ref, req.row, req.col, req.value)
			}
		}
	}()
}

// write enqueues one cell write and waits for it to land.
func (q *writeQueue) write(ctx context.Context, row, col int, value string) error {
	req := writeReq{row: row, col: col, value: value, reply: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.New("write queue closed")
	case q.ch <- req:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.reply:
		return err
	}
}

// stop shuts the writer down after in-flight writes finish.
func (q *writeQueue) stop() {
	close(q.ch)
	<-q.done
}
