package sheetstore

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

// XLSXStore reads and writes local .xlsx workbooks. Open workbooks are
// cached per path so a run's cell writes hit the same file handle; Close
// flushes nothing extra because every Write saves the workbook.
type XLSXStore struct {
	mu    sync.Mutex
	files map[string]*excelize.File
}

// NewXLSXStore returns a store with an empty workbook cache.
func NewXLSXStore() *XLSXStore {
	return &XLSXStore{files: make(map[string]*excelize.File)}
}

func (s *XLSXStore) open(path string) (*excelize.File, error) {
	if f, ok := s.files[path]; ok {
		return f, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSheetUnavailable, path, err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSheetUnavailable, path, err)
	}
	s.files[path] = f
	return f, nil
}

// sheetName resolves an empty sheet name to the workbook's first sheet.
func sheetName(f *excelize.File, ref Ref) (string, error) {
	if ref.Sheet != "" {
		if idx, err := f.GetSheetIndex(ref.Sheet); err != nil || idx < 0 {
			return "", fmt.Errorf("%w: sheet %q not in %s", ErrSheetUnavailable, ref.Sheet, ref.Target)
		}
		return ref.Sheet, nil
	}
	return f.GetSheetName(0), nil
}

func (s *XLSXStore) Read(ctx context.Context, ref Ref) (domain.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.open(ref.Target)
	if err != nil {
		return nil, err
	}
	name, err := sheetName(f, ref)
	if err != nil {
		return nil, err
	}
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return domain.Grid(rows), nil
}

func (s *XLSXStore) Write(ctx context.Context, ref Ref, row, col int, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.open(ref.Target)
	if err != nil {
		return err
	}
	name, err := sheetName(f, ref)
	if err != nil {
		return err
	}

	cell, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return fmt.Errorf("write %s: %w", ref, err)
	}
	if err := f.SetCellValue(name, cell, value); err != nil {
		return fmt.Errorf("write %s %s: %w", ref, cell, err)
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("save %s: %w", ref.Target, err)
	}
	return nil
}

// Close releases every cached workbook.
func (s *XLSXStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for path, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", path, err)
		}
		delete(s.files, path)
	}
	return firstErr
}
