package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/gumgenie-scout/internal/progress"
)

func TestLogSinkLevelsByStage(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))
	runID := progress.ParseRunID("run-log")
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageChunkStart, Category: "AI_PROMPTS", Kind: "detail", Batch: 1},
		{RunID: runID, TS: now, Stage: progress.StageChunkDone, Category: "AI_PROMPTS", Kind: "detail", Batch: 1, Items: 7},
		{RunID: runID, TS: now, Stage: progress.StageChunkError, Category: "AI_PROMPTS", Kind: "reviews", Batch: 2, Note: "boom"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "chunk persisted", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, int64(7), entries[0].ContextMap()["items"])
	assert.Equal(t, "chunk failed", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["note"])
}

func TestLogSinkNilLogger(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageRunDone}}))
}
