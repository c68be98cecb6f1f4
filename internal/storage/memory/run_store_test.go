package memory

import (
	"context"
	"testing"
	"time"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	run := market.RunRecord{ID: "run-1", Categories: []market.Category{market.AIPrompts}}

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := store.CreateRun(ctx, run); err == nil {
		t.Fatal("expected duplicate run error")
	}
	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != market.RunQueued || got.Submitted.IsZero() {
		t.Fatalf("expected queued run with submit time, got %+v", got)
	}

	if err := store.UpdateRunStatus(ctx, run.ID, market.RunRunning, "", nil); err != nil {
		t.Fatalf("UpdateRunStatus running error = %v", err)
	}
	summary := &market.RunSummary{RunID: run.ID}
	if err := store.UpdateRunStatus(ctx, run.ID, market.RunSucceeded, "", summary); err != nil {
		t.Fatalf("UpdateRunStatus succeeded error = %v", err)
	}
	summary.RunID = "mutated"

	final, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if final.Started == nil || final.Finished == nil {
		t.Fatal("expected started and finished timestamps")
	}
	if final.Summary == nil || final.Summary.RunID != run.ID {
		t.Fatalf("expected stored summary copy, got %+v", final.Summary)
	}
}

func TestRunStoreMissing(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	if _, err := store.GetRun(context.Background(), "nope"); err == nil {
		t.Fatal("expected missing run error")
	}
	if err := store.UpdateRunStatus(context.Background(), "nope", market.RunFailed, "x", nil); err == nil {
		t.Fatal("expected missing run update error")
	}
}

func TestRunStoreListRuns(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := store.CreateRun(ctx, market.RunRecord{ID: id, Submitted: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("CreateRun(%s) error = %v", id, err)
		}
	}
	if err := store.UpdateRunStatus(ctx, "b", market.RunFailed, "boom", nil); err != nil {
		t.Fatalf("UpdateRunStatus error = %v", err)
	}

	all, err := store.ListRuns(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	page, _ := store.ListRuns(ctx, nil, 1, 1)
	if len(page) != 1 || page[0].ID != "b" {
		t.Fatalf("expected second run only, got %+v", page)
	}

	failed := market.RunFailed
	only, _ := store.ListRuns(ctx, &failed, 10, 0)
	if len(only) != 1 || only[0].ID != "b" {
		t.Fatalf("expected failed run only, got %+v", only)
	}

	empty, _ := store.ListRuns(ctx, nil, 10, 5)
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %+v", empty)
	}
}
