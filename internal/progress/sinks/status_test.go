package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gumgenie-scout/internal/progress"
)

func TestStatusSinkFoldsEvents(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink(0)
	runID := uuid.NewString()
	key := progress.ParseRunID(runID)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: key, TS: ts, Stage: progress.StageRunStart},
		{RunID: key, TS: ts, Stage: progress.StageDiscoveryDone, Category: "AI_PROMPTS", Items: 12},
		{RunID: key, TS: ts, Stage: progress.StagePreflight, Note: "proceed"},
		{RunID: key, TS: ts, Stage: progress.StageChunkStart, Category: "AI_PROMPTS", Kind: "detail", Batch: 1},
		{RunID: key, TS: ts, Stage: progress.StageChunkStart, Category: "AI_PROMPTS", Kind: "detail", Batch: 2},
		{RunID: key, TS: ts.Add(time.Minute), Stage: progress.StageChunkDone, Category: "AI_PROMPTS", Kind: "detail", Batch: 1, Items: 10},
		{RunID: key, TS: ts.Add(2 * time.Minute), Stage: progress.StageChunkError, Category: "AI_PROMPTS", Kind: "detail", Batch: 2},
	}))

	got, ok := sink.Snapshot(runID)
	require.True(t, ok)
	assert.Equal(t, RunProgress{
		Stage:         progress.StageChunkError,
		Discovered:    12,
		ChunksStarted: 2,
		ChunksDone:    1,
		ChunksFailed:  1,
		Items:         10,
		Preflight:     "proceed",
		UpdatedAt:     ts.Add(2 * time.Minute),
	}, got)

	_, ok = sink.Snapshot(uuid.NewString())
	assert.False(t, ok)
	require.NoError(t, sink.Close(context.Background()))
}

func TestStatusSinkEvictsOldestRuns(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink(2)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for i, id := range ids {
		require.NoError(t, sink.Consume(context.Background(), []progress.Event{{
			RunID: progress.ParseRunID(id),
			TS:    base.Add(time.Duration(i) * time.Hour),
			Stage: progress.StageRunStart,
		}}))
	}

	_, ok := sink.Snapshot(ids[0])
	assert.False(t, ok)
	for _, id := range ids[1:] {
		_, ok := sink.Snapshot(id)
		assert.True(t, ok)
	}
}
