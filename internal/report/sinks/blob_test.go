package sinks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/harvester/internal/storage/memory"
)

type brokenStore struct{ *memory.BlobStore }

func (brokenStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket gone")
}

func TestBlobSinkWritesReport(t *testing.T) {
	store := memory.NewBlobStore()
	sink, err := NewBlobSink(store, "")
	require.NoError(t, err)

	require.NoError(t, sink.Publish(context.Background(), fixtureSummary()))

	assert.Equal(t, []string{"reports/run-1.json"}, store.Paths())
	assert.Equal(t, "memory://reports/run-1.json", sink.Location())

	data, err := store.ReadObject(context.Background(), "reports/run-1.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id":"run-1"`)
	assert.Contains(t, string(data), `"totals":{"attempted":2,"saved":1,"failed":1,"skipped":0}`)
}

func TestBlobSinkCustomTemplate(t *testing.T) {
	store := memory.NewBlobStore()
	sink, err := NewBlobSink(store, "runs/{run}/summary.json")
	require.NoError(t, err)

	require.NoError(t, sink.Publish(context.Background(), fixtureSummary()))
	assert.Equal(t, []string{"runs/run-1/summary.json"}, store.Paths())
}

func TestBlobSinkStoreFailure(t *testing.T) {
	sink, err := NewBlobSink(brokenStore{memory.NewBlobStore()}, "")
	require.NoError(t, err)

	err = sink.Publish(context.Background(), fixtureSummary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
	assert.Empty(t, sink.Location())
}

func TestNewBlobSinkRequiresStore(t *testing.T) {
	_, err := NewBlobSink(nil, "")
	assert.Error(t, err)
}
