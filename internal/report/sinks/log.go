package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// LogSink emits one structured line per run plus one per failed artifact.
// It is useful during development or audits where a durable store is
// unavailable.
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

// Publish implements crawler.SummarySink.
func (s *LogSink) Publish(_ context.Context, summary *crawler.RunSummary) error {
	totals := summary.Totals()
	byKind := summary.ByKind()
	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.String("state", string(summary.State)),
		zap.Time("started_at", summary.StartedAt),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
		zap.Int("pages", len(summary.Pages())),
		zap.Int("images", len(byKind[crawler.KindImage])),
		zap.Int("texts", len(byKind[crawler.KindText])),
		zap.Int("files", len(byKind[crawler.KindFile])),
		zap.Int("saved", totals.Saved),
		zap.Int("failed", totals.Failed),
		zap.Int("skipped", totals.Skipped),
	}
	if summary.Error != "" {
		fields = append(fields, zap.String("error", summary.Error))
	}
	s.logger.Info("run summary", fields...)

	for _, a := range summary.Artifacts() {
		if a.Status != crawler.StatusFailed {
			continue
		}
		s.logger.Warn("failed artifact",
			zap.String("run_id", summary.RunID),
			zap.Int("page", a.Page),
			zap.String("kind", string(a.Kind)),
			zap.String("source", a.SourceField()),
			zap.String("value", a.Value),
			zap.String("error", a.Error),
		)
	}
	return nil
}
