package progress_test

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/gumgenie-scout/internal/progress"
	"github.com/JakeFAU/gumgenie-scout/internal/progress/sinks"
)

// ExampleHub shows a run's events reaching the live status view.
func ExampleHub() {
	status := sinks.NewStatusSink(0)
	hub := progress.NewHub(progress.Config{MaxBatchWait: time.Minute}, status)

	runID := progress.ParseRunID("nightly-notion")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hub.Emit(progress.Event{RunID: runID, TS: at, Stage: progress.StageRunStart})
	hub.Emit(progress.Event{
		RunID:    runID,
		TS:       at,
		Stage:    progress.StageDiscoveryDone,
		Category: "NOTION_TEMPLATES",
		Items:    12,
	})
	for batch := 1; batch <= 2; batch++ {
		hub.Emit(progress.Event{
			RunID:    runID,
			TS:       at,
			Stage:    progress.StageChunkDone,
			Category: "NOTION_TEMPLATES",
			Kind:     "detail",
			Batch:    batch,
			Items:    6,
		})
	}
	hub.Emit(progress.Event{RunID: runID, TS: at, Stage: progress.StageRunDone})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	p, _ := status.Snapshot("nightly-notion")
	fmt.Printf("%s discovered=%d chunks=%d items=%d\n", p.Stage, p.Discovered, p.ChunksDone, p.Items)
	// Output:
	// RUN_DONE discovered=12 chunks=2 items=12
}
