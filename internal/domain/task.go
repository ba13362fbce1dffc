package domain

import "fmt"

// InputColumn is one column of text awaiting processing, located by the
// copy marker in the header row, with its three derived destination
// columns. Derived indices are computed by the detector from the
// configured offsets and are already clamped and collision-checked.
type InputColumn struct {
	Index     int // column holding the input text
	StatusCol int // processing-state cell (offset -2 by convention)
	ErrorCol  int // failure-message cell (offset -1)
	OutputCol int // AI response cell (offset +1)
}

// TaskRef identifies a cell task as input column x data row
type TaskRef struct {
	Row    int
	Column int // input column index
}

// String returns the A1-style identity used in logs and RunResult
func (r TaskRef) String() string {
	return fmt.Sprintf("%s%d", ColumnLetter(r.Column), r.Row+1)
}

// CellTask is the unit of work: one input column x one data row. Tasks
// are derived from the grid snapshot each run and never persisted; the
// sheet's own status cells are the durable record.
type CellTask struct {
	Row    int
	Column InputColumn
	Input  string // text from the input cell
	Status string // current value of the status cell
}

// Ref returns the task's identity
func (t *CellTask) Ref() TaskRef {
	return TaskRef{Row: t.Row, Column: t.Column.Index}
}

// Eligible reports whether the task may be dispatched: the status cell is
// empty or carries the not-yet-processed marker. Anything else (done, a
// stale in-progress marker, manual notes) leaves the cell alone.
func (t *CellTask) Eligible() bool {
	return t.Status == "" || t.Status == StatusUnprocessed
}

// Done reports whether the status cell already carries the done marker
func (t *CellTask) Done() bool {
	return t.Status == StatusDone
}
