package crawler

import (
	"context"
	"net/http"
	"time"
)

// Browser is the browser-control capability. Implementations are not safe for
// concurrent use; a single goroutine owns the session for a whole run.
type Browser interface {
	Get(ctx context.Context, url string) error
	WaitCSS(ctx context.Context, selector string, visible bool, timeout time.Duration) (bool, error)
	WaitXPath(ctx context.Context, selector string, visible bool, timeout time.Duration) (bool, error)
	// ExecuteScript runs a function body in the page and returns its JSON-encoded result.
	ExecuteScript(ctx context.Context, script string, async bool) ([]byte, error)
	DOM(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	UserAgent(ctx context.Context) (string, error)
	Close() error
}

// BrowserFactory opens a browser session.
type BrowserFactory func(ctx context.Context) (Browser, error)

// Extractor pulls raw records from a ready page.
type Extractor interface {
	Extract(ctx context.Context, page PageHandle) ([]RawRecord, error)
}

// Session carries HTTP identity transplanted from the browser.
type Session struct {
	UserAgent string
	Cookies   []*http.Cookie
	Headers   http.Header
	Referer   string
}

// Resource is the result of a successful fetch.
type Resource struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Attempts    int
	Cached      bool
}

// Fetcher resolves a URL-valued artifact into bytes.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string, session Session) (Resource, error)
}

// BlobStore persists artifact bytes. PutObject must be atomic: readers never
// observe a partially written object.
type BlobStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	ReadObject(ctx context.Context, path string) ([]byte, error)
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// ImageProcessor is the delegated image preprocessing step (resize/reformat).
// It returns the new bytes and format.
type ImageProcessor interface {
	Process(ctx context.Context, data []byte, format string) ([]byte, string, error)
}

// SummarySink receives the final RunSummary of a run.
type SummarySink interface {
	Publish(ctx context.Context, summary *RunSummary) error
}
