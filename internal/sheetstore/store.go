// Package sheetstore abstracts the spreadsheet backends. The orchestrator
// reads the whole grid once per run and writes individual cells as tasks
// progress; implementations cover local xlsx workbooks, Google Sheets and
// an in-memory store for tests.
package sheetstore

import (
	"context"
	"errors"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

// ErrSheetUnavailable reports that the referenced sheet does not exist or
// cannot be opened.
var ErrSheetUnavailable = errors.New("sheet unavailable")

// Ref names a sheet within a backend. Target is the workbook path for
// xlsx, the spreadsheet ID for Google Sheets and a free-form name for the
// in-memory store. An empty Sheet means the backend's first sheet.
type Ref struct {
	Target string
	Sheet  string
}

func (r Ref) String() string {
	if r.Sheet == "" {
		return r.Target
	}
	return r.Target + "!" + r.Sheet
}

// Store is a cell-addressable spreadsheet. Reads return the full grid;
// writes touch one cell. Coordinates are 0-based.
type Store interface {
	Read(ctx context.Context, ref Ref) (domain.Grid, error)
	Write(ctx context.Context, ref Ref, row, col int, value string) error
}
