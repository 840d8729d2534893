package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/prodscout/internal/progress"
)

// LogSink writes each event as a structured log line. Per-repository events
// are logged at debug, run milestones at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("step", evt.Step),
			zap.Int("processed", evt.Processed),
			zap.Int("total", evt.Total),
		}
		if evt.Stage == progress.StageRepoDone {
			fields = append(fields,
				zap.String("repo_url", evt.RepoURL),
				zap.String("outcome", evt.Outcome),
				zap.Int("score", evt.Score),
			)
			s.logger.Debug("run progress", fields...)
			continue
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageRunError {
			s.logger.Warn("run progress", fields...)
			continue
		}
		s.logger.Info("run progress", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
