package crawler

import (
	"net/http"
	"time"
)

// SelectorKind selects how a wait selector is interpreted.
type SelectorKind string

// Selector kinds.
const (
	SelectorCSS   SelectorKind = "css"
	SelectorXPath SelectorKind = "xpath"
)

// Policy aggregates every per-run knob. It is built once by the config layer and
// treated as immutable for the lifetime of a run.
type Policy struct {
	Navigation    NavigationPolicy
	Wait          WaitPolicy
	Scroll        ScrollPolicy
	Extractor     ExtractorPolicy
	Normalization NormalizationPolicy
	Storage       StoragePolicy
	Fetch         FetchPolicy
	// Concurrency bounds the per-page fetch+save worker pool.
	Concurrency int
	// SectionTemplate names the section of each record; supports {page} and {index}.
	SectionTemplate string
	// StopAfterEmptyPages ends the run after this many consecutive pages produce no
	// artifacts. Zero disables the check.
	StopAfterEmptyPages int
}

// NavigationPolicy describes how page URLs are built.
type NavigationPolicy struct {
	BaseURL string
	// URLTemplate supports {base}, {page}, {index} and {offset}. Empty means BaseURL.
	URLTemplate       string
	StartPage         int
	PageSize          int
	MaxPages          int
	QueryParams       map[string]string
	NavigationTimeout time.Duration
}

// WaitPolicy describes the page-readiness condition.
type WaitPolicy struct {
	SelectorKind SelectorKind
	Selector     string
	Timeout      time.Duration
	Visible      bool
	SettleDelay  time.Duration
}

// ScrollStrategy names a scrolling behavior.
type ScrollStrategy string

// Scroll strategies.
const (
	ScrollNone   ScrollStrategy = "none"
	ScrollStep   ScrollStrategy = "step"
	ScrollBottom ScrollStrategy = "bottom"
)

// ScrollPolicy drives incremental scrolling for lazy-loaded content.
type ScrollPolicy struct {
	Strategy      ScrollStrategy
	Step          int
	PauseMin      time.Duration
	PauseMax      time.Duration
	MaxIterations int
	// StopWhenStable ends scrolling once the page height stops changing.
	StopWhenStable bool
	// StableChecks is the number of consecutive unchanged height readings required.
	StableChecks int
}

// ExtractorStrategy names an extraction strategy.
type ExtractorStrategy string

// Extraction strategies.
const (
	ExtractScript ExtractorStrategy = "script"
	ExtractDOM    ExtractorStrategy = "dom"
)

// FieldSelector maps one output field to a selector expression.
type FieldSelector struct {
	Name     string
	Selector string
}

// ExtractorPolicy configures the extraction strategy.
type ExtractorPolicy struct {
	Strategy ExtractorStrategy
	// Script is a function body evaluated in the page; its return value is the result.
	Script string
	Async  bool
	Fields []FieldSelector
	// RecordSelector scopes DOM extraction to one record per matched element.
	RecordSelector string
}

// KindHint forces the kind of fields whose normalized name matches Pattern.
type KindHint struct {
	Pattern string
	Kind    Kind
}

// NormalizationPolicy configures type inference.
type NormalizationPolicy struct {
	KindHints       []KindHint
	DefaultSection  string
	UnknownURLKind  Kind
	ImageExtensions []string
	FileExtensions  []string
}

// Collision names the rule applied when an output path already exists.
type Collision string

// Collision rules.
const (
	CollisionOverwrite Collision = "overwrite"
	CollisionUnique    Collision = "unique"
	CollisionSkip      Collision = "skip"
)

// TextFormat names the serialization of text section files.
type TextFormat string

// Text formats.
const (
	TextLines TextFormat = "lines"
	TextJSON  TextFormat = "json"
	TextYAML  TextFormat = "yaml"
)

// StorageTargetPolicy configures persistence for one artifact kind.
type StorageTargetPolicy struct {
	Dir              string
	FilenameTemplate string
	DefaultExtension string
	Collision        Collision
	Append           bool
	Format           TextFormat
}

// StoragePolicy configures persistence for all kinds.
type StoragePolicy struct {
	Backend string
	Root    string
	Bucket  string
	Targets map[Kind]StorageTargetPolicy
}

// Target returns the policy for kind, or a zero value when unset.
func (p StoragePolicy) Target(kind Kind) StorageTargetPolicy {
	return p.Targets[kind]
}

// FetchPolicy configures artifact downloads.
type FetchPolicy struct {
	Timeout      time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	HostQPS      float64
	CacheSize    int
	MaxBodyBytes int
	UserAgent    string
	Headers      http.Header
}
