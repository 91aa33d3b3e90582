package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	jsoniter "github.com/json-iterator/go"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// notice is the compact run-completed message. The full summary stays in the
// report file.
type notice struct {
	RunID      string         `json:"run_id"`
	State      crawler.State  `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Pages      int            `json:"pages"`
	Totals     crawler.Totals `json:"totals"`
	Error      string         `json:"error,omitempty"`
}

// NoticeSink publishes a run-completed notice to a Pub/Sub topic.
type NoticeSink struct {
	topic *pubsub.Topic
}

// NewNoticeSink wraps topic. The caller owns the topic and stops it.
func NewNoticeSink(topic *pubsub.Topic) (*NoticeSink, error) {
	if topic == nil {
		return nil, errors.New("notice sink: topic is required")
	}
	return &NoticeSink{topic: topic}, nil
}

// Publish implements crawler.SummarySink and waits for the server ack.
func (s *NoticeSink) Publish(ctx context.Context, summary *crawler.RunSummary) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(notice{
		RunID:      summary.RunID,
		State:      summary.State,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Pages:      len(summary.Pages()),
		Totals:     summary.Totals(),
		Error:      summary.Error,
	})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": summary.RunID,
			"state":  string(summary.State),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}
