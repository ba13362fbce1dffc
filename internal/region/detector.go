// Package region locates the work region of a sheet: the header row
// marked by the work-instruction marker, the input columns marked by the
// copy marker, and each input column's derived destination columns.
package region

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

// ErrNoHeader is returned when no row's first cell matches the
// work-instruction marker
var ErrNoHeader = errors.New("no header row found")

// ConfigError reports a work-region layout the run must not start with,
// such as two derived columns collapsing onto the same index
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "region config: " + e.Msg
}

// Options parameterizes detection. Zero offsets are not valid; callers
// normally build Options from the validated application config.
type Options struct {
	WorkInstructionMarker string
	CopyMarker            string
	DefaultHeaderRow      int // conventional header position, tried first
	StatusOffset          int
	ErrorOffset           int
	OutputOffset          int
}

// Region is the detected work region of one grid snapshot
type Region struct {
	HeaderRow    int
	InputColumns []domain.InputColumn
}

// Detect scans a grid snapshot for the work region. Pure function of the
// grid: no side effects, safe to call repeatedly.
//
// The header is looked for at the conventional row first; sheets that do
// not follow the convention are handled by a full top-to-bottom scan,
// where the lowest-indexed match wins. Input columns are collected
// left-to-right, which fixes their processing order. Marker cells are
// compared after trimming surrounding whitespace, since hand-edited
// sheets often carry stray spaces around the markers.
func Detect(grid domain.Grid, opts Options) (*Region, error) {
	copyMarker := strings.TrimSpace(opts.CopyMarker)
	if copyMarker == "" {
		return nil, &ConfigError{Msg: "copy marker must not be empty"}
	}

	headerRow, err := findHeaderRow(grid, opts)
	if err != nil {
		return nil, err
	}

	var cols []domain.InputColumn
	header := grid[headerRow]
	for col := range header {
		if strings.TrimSpace(header[col]) != copyMarker {
			continue
		}
		ic, err := deriveColumns(col, opts)
		if err != nil {
			return nil, err
		}
		cols = append(cols, ic)
	}

	return &Region{HeaderRow: headerRow, InputColumns: cols}, nil
}

func findHeaderRow(grid domain.Grid, opts Options) (int, error) {
	marker := strings.TrimSpace(opts.WorkInstructionMarker)
	if marker == "" {
		return 0, &ConfigError{Msg: "work instruction marker must not be empty"}
	}
	if row := opts.DefaultHeaderRow; row >= 0 && row < grid.Rows() &&
		strings.TrimSpace(grid.Cell(row, 0)) == marker {
		return row, nil
	}
	for row := 0; row < grid.Rows(); row++ {
		if strings.TrimSpace(grid.Cell(row, 0)) == marker {
			return row, nil
		}
	}
	return 0, fmt.Errorf("%w: no first cell equals %q", ErrNoHeader, marker)
}

// deriveColumns computes the destination columns for one input column.
// Offsets are clamped to column 0; if clamping collapses two roles onto
// the same index the layout is broken and the run must not start, since
// a merged destination would silently overwrite data.
func deriveColumns(col int, opts Options) (domain.InputColumn, error) {
	clamp := func(off int) int {
		idx := col + off
		if idx < 0 {
			return 0
		}
		return idx
	}

	ic := domain.InputColumn{
		Index:     col,
		StatusCol: clamp(opts.StatusOffset),
		ErrorCol:  clamp(opts.ErrorOffset),
		OutputCol: clamp(opts.OutputOffset),
	}

	roles := []struct {
		idx  int
		role string
	}{
		{ic.StatusCol, "status"},
		{ic.ErrorCol, "error"},
		{ic.OutputCol, "output"},
	}
	derived := make(map[int]string, len(roles))
	for _, r := range roles {
		if r.idx == col {
			return domain.InputColumn{}, &ConfigError{Msg: fmt.Sprintf(
				"input column %s: %s column collapses onto the input column",
				domain.ColumnLetter(col), r.role)}
		}
		if other, dup := derived[r.idx]; dup {
			return domain.InputColumn{}, &ConfigError{Msg: fmt.Sprintf(
				"input column %s: %s and %s columns collapse onto %s",
				domain.ColumnLetter(col), other, r.role, domain.ColumnLetter(r.idx))}
		}
		derived[r.idx] = r.role
	}

	return ic, nil
}
