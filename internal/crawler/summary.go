package crawler

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Totals counts artifact outcomes. Saved+Failed+Skipped always equals Attempted.
type Totals struct {
	Attempted int `json:"attempted"`
	Saved     int `json:"saved"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RunSummary is the aggregate report of one pipeline execution. Record and
// RecordPage are safe for concurrent use.
type RunSummary struct {
	RunID      string
	State      State
	StartedAt  time.Time
	FinishedAt time.Time
	// Error holds the fatal cause when State is aborted.
	Error string

	mu        sync.Mutex
	artifacts []SavedArtifact
	pages     []PageOutcome
	totals    Totals
}

// NewRunSummary returns an empty summary in the pending state.
func NewRunSummary(runID string, started time.Time) *RunSummary {
	return &RunSummary{RunID: runID, State: StatePending, StartedAt: started}
}

// Record appends artifact outcomes in order and updates the totals.
func (s *RunSummary) Record(results ...SavedArtifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		s.artifacts = append(s.artifacts, r)
		s.totals.Attempted++
		switch r.Status {
		case StatusSaved:
			s.totals.Saved++
		case StatusSkipped:
			s.totals.Skipped++
		default:
			s.totals.Failed++
		}
	}
}

// RecordPage appends one page outcome.
func (s *RunSummary) RecordPage(page PageOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, page)
}

// Totals returns a snapshot of the counters.
func (s *RunSummary) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// Artifacts returns a copy of every recorded outcome in record order.
func (s *RunSummary) Artifacts() []SavedArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SavedArtifact, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}

// Pages returns a copy of the per-page outcomes.
func (s *RunSummary) Pages() []PageOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PageOutcome, len(s.pages))
	copy(out, s.pages)
	return out
}

// ByKind groups recorded outcomes by artifact kind, keeping record order. Every
// kind is present, possibly empty.
func (s *RunSummary) ByKind() map[Kind][]SavedArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Kind][]SavedArtifact, len(Kinds))
	for _, k := range Kinds {
		out[k] = []SavedArtifact{}
	}
	for _, a := range s.artifacts {
		out[a.Kind] = append(out[a.Kind], a)
	}
	return out
}

type summaryJSON struct {
	RunID      string                   `json:"run_id"`
	State      State                    `json:"state"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Error      string                   `json:"error,omitempty"`
	ByKind     map[Kind][]SavedArtifact `json:"byKind"`
	Pages      []PageOutcome            `json:"pages"`
	Totals     Totals                   `json:"totals"`
}

// MarshalJSON renders the summary as {run_id, state, byKind, pages, totals}.
func (s *RunSummary) MarshalJSON() ([]byte, error) {
	payload := summaryJSON{
		RunID:      s.RunID,
		State:      s.State,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Error:      s.Error,
		ByKind:     s.ByKind(),
		Pages:      s.Pages(),
		Totals:     s.Totals(),
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(payload)
}
