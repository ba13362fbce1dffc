package region

import (
	"strconv"
	"strings"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

// RowPredicate decides whether a data row belongs to the work block,
// given its row identifier (the first cell) and its 1-based position
// within the block
type RowPredicate func(ident string, position int) bool

// NonEmptyRows includes any row with a non-empty row identifier
func NonEmptyRows(ident string, _ int) bool {
	return ident != ""
}

// SequentialRows is the stricter numbered-sheet variant: the row
// identifier must be the block position itself (1, 2, 3, ...)
func SequentialRows(ident string, position int) bool {
	n, err := strconv.Atoi(ident)
	return err == nil && n == position
}

// PredicateByName resolves the configured predicate name, defaulting to
// NonEmptyRows for unknown names
func PredicateByName(name string) RowPredicate {
	if name == "sequential" {
		return SequentialRows
	}
	return NonEmptyRows
}

// Enumerator lazily yields the cell tasks of one input column, in
// ascending row order. The scan starts one blank separator row below the
// header (the fixed sheet-layout convention) and terminates at the
// first row whose identifier cell is empty; rows beyond the gap are not
// part of the block even if non-empty.
type Enumerator struct {
	grid      domain.Grid
	column    domain.InputColumn
	predicate RowPredicate
	row       int
	position  int
	done      bool
}

// NewEnumerator creates an enumerator for one input column
func NewEnumerator(grid domain.Grid, headerRow int, column domain.InputColumn, predicate RowPredicate) *Enumerator {
	if predicate == nil {
		predicate = NonEmptyRows
	}
	return &Enumerator{
		grid:      grid,
		column:    column,
		predicate: predicate,
		row:       headerRow + 2,
	}
}

// Next returns the next cell task, or false when the block is exhausted
func (e *Enumerator) Next() (*domain.CellTask, bool) {
	for !e.done && e.row < e.grid.Rows() {
		row := e.row
		e.row++

		ident := strings.TrimSpace(e.grid.Cell(row, 0))
		if ident == "" {
			e.done = true
			return nil, false
		}

		if !e.predicate(ident, e.position+1) {
			continue
		}
		e.position++

		return &domain.CellTask{
			Row:    row,
			Column: e.column,
			Input:  e.grid.Cell(row, e.column.Index),
			Status: e.grid.Cell(row, e.column.StatusCol),
		}, true
	}
	e.done = true
	return nil, false
}

// Collect drains the enumerator into a slice, mainly for tests and
// total-count estimation
func (e *Enumerator) Collect() []*domain.CellTask {
	var tasks []*domain.CellTask
	for {
		t, ok := e.Next()
		if !ok {
			return tasks
		}
		tasks = append(tasks, t)
	}
}
