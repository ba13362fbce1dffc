package sheetstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

func TestMemStore_ReadIsACopy(t *testing.T) {
	store := NewMemStore()
	ref := Ref{Target: "test"}
	store.Put(ref, domain.Grid{{"a", "b"}})

	grid, err := store.Read(context.Background(), ref)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	grid[0][0] = "mutated"

	again, _ := store.Read(context.Background(), ref)
	if again.Cell(0, 0) != "a" {
		t.Error("mutating a read result leaked into the store")
	}
}

func TestMemStore_WritePadsAndLogs(t *testing.T) {
	store := NewMemStore()
	ref := Ref{Target: "test"}
	store.Put(ref, domain.Grid{{"a"}})

	if err := store.Write(context.Background(), ref, 3, 2, "値"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := store.Cell(ref, 3, 2); got != "値" {
		t.Errorf("Cell(3,2) = %q, want 値", got)
	}
	writes := store.Writes()
	if len(writes) != 1 || writes[0].Row != 3 || writes[0].Col != 2 {
		t.Errorf("write log = %+v", writes)
	}
}

func TestMemStore_UnknownRef(t *testing.T) {
	store := NewMemStore()
	_, err := store.Read(context.Background(), Ref{Target: "missing"})
	if !errors.Is(err, ErrSheetUnavailable) {
		t.Errorf("Read unknown ref = %v, want ErrSheetUnavailable", err)
	}
	err = store.Write(context.Background(), Ref{Target: "missing"}, 0, 0, "x")
	if !errors.Is(err, ErrSheetUnavailable) {
		t.Errorf("Write unknown ref = %v, want ErrSheetUnavailable", err)
	}
}

func TestXLSXStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")

	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "header")
	f.SetCellValue("Sheet1", "B2", "body")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	store := NewXLSXStore()
	defer store.Close()
	ref := Ref{Target: path}

	grid, err := store.Read(context.Background(), ref)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if grid.Cell(0, 0) != "header" || grid.Cell(1, 1) != "body" {
		t.Errorf("grid = %v", grid)
	}

	if err := store.Write(context.Background(), ref, 4, 2, "処理済み"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Fresh store proves the write was saved to disk.
	fresh := NewXLSXStore()
	defer fresh.Close()
	grid, err = fresh.Read(context.Background(), ref)
	if err != nil {
		t.Fatalf("Read after write: %v", err)
	}
	if got := grid.Cell(4, 2); got != "処理済み" {
		t.Errorf("Cell(4,2) = %q, want 処理済み", got)
	}
}

func TestXLSXStore_MissingWorkbook(t *testing.T) {
	store := NewXLSXStore()
	defer store.Close()

	_, err := store.Read(context.Background(), Ref{Target: filepath.Join(t.TempDir(), "nope.xlsx")})
	if !errors.Is(err, ErrSheetUnavailable) {
		t.Errorf("Read = %v, want ErrSheetUnavailable", err)
	}
}

func TestXLSXStore_MissingSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	f := excelize.NewFile()
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	store := NewXLSXStore()
	defer store.Close()

	_, err := store.Read(context.Background(), Ref{Target: path, Sheet: "翻訳"})
	if !errors.Is(err, ErrSheetUnavailable) {
		t.Errorf("Read = %v, want ErrSheetUnavailable", err)
	}
}

func TestGoogleStore_Read(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/sheet-id/values/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{"values":[["作業指示行","x"],["1",42]]}`))
	}))
	defer srv.Close()

	store := NewGoogleStore(GoogleStoreOptions{AccessToken: "tok", BaseURL: srv.URL})
	grid, err := store.Read(context.Background(), Ref{Target: "sheet-id"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if grid.Cell(0, 0) != "作業指示行" {
		t.Errorf("Cell(0,0) = %q", grid.Cell(0, 0))
	}
	if grid.Cell(1, 1) != "42" {
		t.Errorf("numeric cell = %q, want 42", grid.Cell(1, 1))
	}
}

func TestGoogleStore_WriteTargetsSingleCell(t *testing.T) {
	var gotPath, gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		b := make([]byte, r.ContentLength)
		r.Body.Read(b)
		gotBody = string(b)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	store := NewGoogleStore(GoogleStoreOptions{BaseURL: srv.URL})
	err := store.Write(context.Background(), Ref{Target: "sheet-id", Sheet: "Data"}, 6, 4, "処理中")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !strings.Contains(gotPath, "Data%21E7") && !strings.Contains(gotPath, "Data!E7") {
		t.Errorf("path %q does not target Data!E7", gotPath)
	}
	if !strings.Contains(gotQuery, "valueInputOption=RAW") {
		t.Errorf("query %q lacks valueInputOption=RAW", gotQuery)
	}
	if !strings.Contains(gotBody, "処理中") {
		t.Errorf("body %q lacks the value", gotBody)
	}
}

func TestGoogleStore_QuotaResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := NewGoogleStore(GoogleStoreOptions{BaseURL: srv.URL})
	_, err := store.Read(context.Background(), Ref{Target: "sheet-id"})
	f, ok := domain.AsFailure(err)
	if !ok {
		t.Fatalf("error %v does not carry a Failure", err)
	}
	if f.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", f.StatusCode)
	}
}

func TestGoogleStore_MissingSpreadsheet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	store := NewGoogleStore(GoogleStoreOptions{BaseURL: srv.URL})
	_, err := store.Read(context.Background(), Ref{Target: "gone"})
	if !errors.Is(err, ErrSheetUnavailable) {
		t.Errorf("Read = %v, want ErrSheetUnavailable", err)
	}
}

func TestWindowLimiter_BlocksAtCapacity(t *testing.T) {
	l := newWindowLimiter(2, 80*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := l.wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Fatalf("first two waits blocked for %v", elapsed)
	}

	if err := l.wait(ctx); err != nil {
		t.Fatalf("third wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("third wait returned after %v, want ~80ms", elapsed)
	}
}

func TestWindowLimiter_ContextCancel(t *testing.T) {
	l := newWindowLimiter(1, time.Hour)
	if err := l.wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("wait = %v, want deadline exceeded", err)
	}
}
