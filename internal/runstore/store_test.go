package runstore

import (
	"context"
	"testing"
	"time"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

func TestStore_SaveAndGetRun(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	result := &domain.RunResult{
		ID:         "run-1",
		SheetRef:   "book.xlsx",
		Processed:  3,
		Succeeded:  2,
		Skipped:    1,
		Success:    true,
		StartedAt:  time.Now().Add(-time.Minute),
		FinishedAt: time.Now(),
	}
	result.RecordFailure(domain.TaskRef{Row: 6, Column: 4}, "network", "connection refused")

	if err := store.SaveRun(context.Background(), result); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}

	if got.SheetRef != "book.xlsx" {
		t.Errorf("SheetRef = %q", got.SheetRef)
	}
	if got.Processed != 3 || got.Succeeded != 2 || got.Skipped != 1 {
		t.Errorf("counts = %d/%d/%d", got.Processed, got.Succeeded, got.Skipped)
	}
	if !got.Success {
		t.Error("Success = false, want true")
	}
	if len(got.Failures) != 1 {
		t.Fatalf("Failures count = %d, want 1", len(got.Failures))
	}
	if got.Failures[0].Cell != "E7" || got.Failures[0].Kind != "network" {
		t.Errorf("failure = %+v", got.Failures[0])
	}
}

func TestStore_ListRuns(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	base := time.Now()
	runs := []*domain.RunResult{
		{ID: "a", SheetRef: "one.xlsx", Success: true, StartedAt: base.Add(-3 * time.Hour)},
		{ID: "b", SheetRef: "two.xlsx", Success: false, StartedAt: base.Add(-2 * time.Hour)},
		{ID: "c", SheetRef: "one.xlsx", Success: true, StartedAt: base.Add(-1 * time.Hour)},
	}
	for _, r := range runs {
		if err := store.SaveRun(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListRuns(context.Background(), ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("ListRuns count = %d, want 3", len(all))
	}
	if all[0].ID != "c" {
		t.Errorf("first run = %s, want c (newest first)", all[0].ID)
	}

	one, err := store.ListRuns(context.Background(), ListOptions{SheetRef: "one.xlsx"})
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 2 {
		t.Errorf("filtered count = %d, want 2", len(one))
	}

	limited, err := store.ListRuns(context.Background(), ListOptions{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "c" {
		t.Errorf("limited = %+v", limited)
	}
}

func TestStore_GetRunMissing(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.GetRun(context.Background(), "nope"); err == nil {
		t.Error("GetRun of unknown id should fail")
	}
}
