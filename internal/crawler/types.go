package crawler

import (
	"fmt"
	"strconv"
)

// Kind is the closed set of artifact kinds produced by the normalizer.
type Kind string

// Artifact kinds.
const (
	KindImage Kind = "image"
	KindText  Kind = "text"
	KindFile  Kind = "file"
)

// Kinds lists every artifact kind in report order.
var Kinds = []Kind{KindImage, KindText, KindFile}

// ParseKind converts a config string into a Kind.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindImage, KindText, KindFile:
		return Kind(raw), nil
	default:
		return "", fmt.Errorf("unknown artifact kind %q", raw)
	}
}

// Fetchable reports whether artifacts of this kind are resolved over HTTP before saving.
func (k Kind) Fetchable() bool {
	return k == KindImage || k == KindFile
}

// Status is the outcome recorded for each attempted artifact.
type Status string

// Artifact statuses.
const (
	StatusSaved   Status = "saved"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Artifact is a normalized, typed unit of extracted data ready for storage.
type Artifact struct {
	Kind      Kind              `json:"kind"`
	Section   string            `json:"section"`
	NameHint  string            `json:"name_hint,omitempty"`
	Value     string            `json:"value"`
	Data      []byte            `json:"-"`
	Extension string            `json:"extension,omitempty"`
	Index     int               `json:"index"`
	Page      int               `json:"page"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SourceField returns the diagnostic source path (e.g. "tags[0]") or the name hint.
func (a Artifact) SourceField() string {
	if f := a.Metadata[MetaSourceField]; f != "" {
		return f
	}
	return a.NameHint
}

// DisplayName joins the name hint and list index used by naming templates.
func (a Artifact) DisplayName(ordinal int) string {
	name := a.NameHint
	if name == "" {
		return strconv.Itoa(ordinal)
	}
	if a.Index >= 0 {
		return name + "_" + strconv.Itoa(a.Index)
	}
	return name
}

// Metadata keys attached by the normalizer and savers.
const (
	MetaSourceField  = "source_field"
	MetaInferredType = "inferred_type"
	MetaInference    = "inference"
	MetaContentType  = "content_type"
	MetaImageFormat  = "image_format"
	MetaAttempts     = "attempts"
	MetaSHA256       = "sha256"
)

// SavedArtifact records what happened to one artifact.
type SavedArtifact struct {
	Artifact
	Status Status `json:"status"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PageStatus describes how a page was handled by the pipeline.
type PageStatus string

// Page statuses.
const (
	PageProcessed PageStatus = "processed"
	PageEmpty     PageStatus = "empty"
	PageSkipped   PageStatus = "skipped"
)

// PageHandle is a reference to a browser page confirmed ready (or not) for extraction.
type PageHandle struct {
	Index   int     `json:"index"`
	URL     string  `json:"url"`
	Ready   bool    `json:"ready"`
	Reason  string  `json:"reason,omitempty"`
	Scrolls int     `json:"scrolls"`
	Browser Browser `json:"-"`
}

// PageOutcome is the per-page entry of a RunSummary.
type PageOutcome struct {
	Index     int        `json:"index"`
	URL       string     `json:"url"`
	Status    PageStatus `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	Records   int        `json:"records"`
	Artifacts int        `json:"artifacts"`
}

// State is a CrawlPipeline state.
type State string

// Pipeline states.
const (
	StatePending     State = "pending"
	StateNavigating  State = "navigating"
	StateExtracting  State = "extracting"
	StateNormalizing State = "normalizing"
	StateSaving      State = "saving"
	StateDone        State = "done"
	StateAborted     State = "aborted"
	StateCanceled    State = "canceled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted || s == StateCanceled
}
