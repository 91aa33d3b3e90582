package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// BlobSink writes the summary JSON through a blob store so reports land next
// to the artifacts they describe.
type BlobSink struct {
	store crawler.BlobStore
	// template is formatted with {run}.
	template string
	written  string
}

// NewBlobSink builds a BlobSink. An empty template defaults to
// "reports/{run}.json".
func NewBlobSink(store crawler.BlobStore, template string) (*BlobSink, error) {
	if store == nil {
		return nil, errors.New("blob sink: store is required")
	}
	if template == "" {
		template = "reports/{run}.json"
	}
	return &BlobSink{store: store, template: template}, nil
}

// Publish implements crawler.SummarySink.
func (s *BlobSink) Publish(ctx context.Context, summary *crawler.RunSummary) error {
	data, err := summary.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	path := crawler.FormatTemplate(s.template, map[string]string{"run": crawler.SafeName(summary.RunID)})
	location, err := s.store.PutObject(ctx, path, "application/json", append(data, '\n'))
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	s.written = location
	return nil
}

// Location returns where the last summary was written.
func (s *BlobSink) Location() string { return s.written }
