package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserve(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ObservePage("processed")
	m.ObservePage("skipped")
	m.ObserveArtifact("image", "saved", 10*time.Millisecond)
	m.ObserveArtifact("image", "failed", time.Millisecond)
	m.ObserveFetch("https://CDN.example.com/a.jpg", "ok", 2, 512)
	m.ObserveRateLimitDelay("CDN.example.com", 250*time.Millisecond)
	m.ObserveRun("done", 3*time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.pagesTotal.WithLabelValues("skipped")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.artifactsTotal.WithLabelValues("image", "saved")))
	assert.Equal(t, float64(512), testutil.ToFloat64(m.fetchBytesTotal.WithLabelValues("cdn.example.com")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.rateLimitDelay))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runState.WithLabelValues("done")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.runDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePage("processed")
		m.ObserveArtifact("text", "saved", 0)
		m.ObserveFetch("example.com", "ok", 1, 1)
		m.ObserveRateLimitDelay("example.com", time.Second)
		m.ObserveRun("done", time.Second)
	})
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestWriteTextfile(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.ObservePage("processed")

	path := filepath.Join(t.TempDir(), "harvester.prom")
	require.NoError(t, m.WriteTextfile(path))

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `harvester_pages_total{status="processed"} 1`)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, in string) {
		if SanitizeSite(in) == "" {
			t.Errorf("SanitizeSite(%q) returned empty string", in)
		}
	})
}
