package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/gumgenie-scout/internal/progress"
)

// LogSink turns progress events into log lines. Failures log at warn,
// chunk starts at debug, everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := stageLevel(evt.Stage)
		if ce := s.logger.Check(level, stageMessage(evt.Stage)); ce != nil {
			ce.Write(eventFields(evt)...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func stageLevel(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageRunError, progress.StageChunkError:
		return zapcore.WarnLevel
	case progress.StageChunkStart:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func stageMessage(stage progress.Stage) string {
	switch stage {
	case progress.StageRunStart:
		return "run started"
	case progress.StageRunDone:
		return "run finished"
	case progress.StageRunError:
		return "run failed"
	case progress.StageDiscoveryDone:
		return "discovery finished"
	case progress.StagePreflight:
		return "preflight decided"
	case progress.StageChunkStart:
		return "chunk started"
	case progress.StageChunkDone:
		return "chunk persisted"
	case progress.StageChunkError:
		return "chunk failed"
	default:
		return "progress event"
	}
}

func eventFields(evt progress.Event) []zap.Field {
	fields := []zap.Field{
		zap.Stringer("run_id", evt.RunUUID()),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.Category != "" {
		fields = append(fields, zap.String("category", evt.Category))
	}
	if evt.Kind != "" {
		fields = append(fields, zap.String("kind", evt.Kind), zap.Int("batch", evt.Batch))
	}
	if evt.Items > 0 {
		fields = append(fields, zap.Int("items", evt.Items))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	return fields
}
