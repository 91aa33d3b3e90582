package sinks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSinkEmitsSummaryAndFailures(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Publish(context.Background(), fixtureSummary()))

	summaries := logs.FilterMessage("run summary").All()
	require.Len(t, summaries, 1)
	fields := summaries[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "done", fields["state"])
	assert.EqualValues(t, 1, fields["saved"])
	assert.EqualValues(t, 1, fields["failed"])
	assert.EqualValues(t, 1, fields["images"])
	assert.EqualValues(t, 0, fields["texts"])
	assert.NotContains(t, fields, "error")

	failures := logs.FilterMessage("failed artifact").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zap.WarnLevel, failures[0].Level)
	assert.Equal(t, "manual", failures[0].ContextMap()["source"])
}

func TestLogSinkNilLogger(t *testing.T) {
	assert.NoError(t, NewLogSink(nil).Publish(context.Background(), fixtureSummary()))
}
