package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/progress"
)

// LogSink writes each event as a structured log line. Per-journal results log
// at debug level; everything else at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("kind", string(evt.Kind)),
		}
		switch evt.Kind {
		case progress.KindFetchResult:
			fields = append(fields,
				zap.String("journal_id", evt.JournalID),
				zap.String("source", string(evt.Source)),
				zap.String("state", string(evt.State)),
				zap.Int("http_status", evt.HTTPStatus),
				zap.String("message", evt.Message),
			)
			s.logger.Debug("progress event", fields...)
			continue
		case progress.KindCollectProgress, progress.KindCollectPaused, progress.KindCollectDone:
			fields = append(fields, zap.Int("page", evt.Page), zap.Int64("collected", evt.Counters.Collected))
		case progress.KindFetchProgress, progress.KindFetchDone, progress.KindStats:
			fields = append(fields,
				zap.Int64("processed", evt.Counters.Processed),
				zap.Int64("succeeded", evt.Counters.Succeeded),
				zap.Int64("failed", evt.Counters.Failed),
			)
		case progress.KindPhaseChange, progress.KindPipelineStatus:
			fields = append(fields,
				zap.String("phase", string(evt.Phase)),
				zap.String("producer", string(evt.Producer)),
				zap.String("consumer", string(evt.Consumer)),
			)
		case progress.KindRunDone:
			fields = append(fields, zap.String("status", string(evt.Status)), zap.Duration("dur", evt.Dur))
		}
		if evt.Message != "" {
			fields = append(fields, zap.String("message", evt.Message))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
