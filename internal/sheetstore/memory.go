package sheetstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

// WriteOp is one recorded cell write.
type WriteOp struct {
	Ref   Ref
	Row   int
	Col   int
	Value string
}

// MemStore holds grids in memory and logs every write. Tests use the log
// to assert exactly which cells a run touched; writes also mutate the
// grid so re-reads observe them.
type MemStore struct {
	mu     sync.Mutex
	grids  map[string]domain.Grid
	writes []WriteOp

	// ReadErr and WriteErr, when set, fail the corresponding operation.
	ReadErr  error
	WriteErr error
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{grids: make(map[string]domain.Grid)}
}

// Put installs a grid under ref, replacing any existing one.
func (s *MemStore) Put(ref Ref, grid domain.Grid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grids[ref.String()] = grid
}

func (s *MemStore) Read(ctx context.Context, ref Ref) (domain.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ReadErr != nil {
		return nil, s.ReadErr
	}
	grid, ok := s.grids[ref.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSheetUnavailable, ref)
	}

	// Deep copy so callers cannot mutate the store through the result.
	out := make(domain.Grid, len(grid))
	for i, row := range grid {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}

func (s *MemStore) Write(ctx context.Context, ref Ref, row, col int, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteErr != nil {
		return s.WriteErr
	}
	grid, ok := s.grids[ref.String()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSheetUnavailable, ref)
	}

	for len(grid) <= row {
		grid = append(grid, nil)
	}
	for len(grid[row]) <= col {
		grid[row] = append(grid[row], "")
	}
	grid[row][col] = value
	s.grids[ref.String()] = grid
	s.writes = append(s.writes, WriteOp{Ref: ref, Row: row, Col: col, Value: value})
	return nil
}

// Writes returns a copy of the write log in order.
func (s *MemStore) Writes() []WriteOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WriteOp, len(s.writes))
	copy(out, s.writes)
	return out
}

// Cell returns the current value at (row, col), with grid padding
// semantics.
func (s *MemStore) Cell(ref Ref, row, col int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grids[ref.String()].Cell(row, col)
}
