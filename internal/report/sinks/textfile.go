package sinks

import (
	"context"
	"errors"

	"github.com/JakeFAU/harvester/internal/crawler"
	"github.com/JakeFAU/harvester/internal/metrics"
)

// TextfileSink exports the run metrics for the node_exporter textfile
// collector once the run is over.
type TextfileSink struct {
	metrics *metrics.Metrics
	path    string
}

// NewTextfileSink builds a TextfileSink writing to path.
func NewTextfileSink(m *metrics.Metrics, path string) (*TextfileSink, error) {
	if m == nil {
		return nil, errors.New("textfile sink: metrics are required")
	}
	if path == "" {
		return nil, errors.New("textfile sink: path is required")
	}
	return &TextfileSink{metrics: m, path: path}, nil
}

// Publish implements crawler.SummarySink.
func (s *TextfileSink) Publish(context.Context, *crawler.RunSummary) error {
	return s.metrics.WriteTextfile(s.path)
}
