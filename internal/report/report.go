// Package report fans a finished RunSummary out to the configured sinks.
package report

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// NamedSink pairs a sink with the name used in logs and errors.
type NamedSink struct {
	Name string
	Sink crawler.SummarySink
}

// Fanout publishes to every sink in order. One failing sink does not stop the
// others; their errors are joined.
type Fanout struct {
	sinks  []NamedSink
	logger *zap.Logger
}

var _ crawler.SummarySink = (*Fanout)(nil)

// NewFanout builds a Fanout. Nil sinks are dropped.
func NewFanout(logger *zap.Logger, sinks ...NamedSink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s.Sink != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Publish implements crawler.SummarySink.
func (f *Fanout) Publish(ctx context.Context, summary *crawler.RunSummary) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Sink.Publish(ctx, summary); err != nil {
			f.logger.Warn("report sink failed", zap.String("sink", s.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		f.logger.Debug("report published", zap.String("sink", s.Name))
	}
	return errors.Join(errs...)
}
