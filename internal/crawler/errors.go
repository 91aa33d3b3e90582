package crawler

import (
	"errors"
	"fmt"
)

// Error taxonomy. Everything except ErrSessionFatal degrades to a recorded status.
var (
	ErrNavigationTimeout = errors.New("navigation wait timed out")
	ErrNavigation        = errors.New("navigation failed")
	ErrExtraction        = errors.New("extraction failed")
	ErrFetch             = errors.New("fetch failed")
	ErrSave              = errors.New("save failed")
	ErrSessionFatal      = errors.New("browser session lost")
)

// FetchError is returned once a download exhausts its attempts or hits a
// non-retryable status.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("fetch %s: HTTP %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v after %d attempt(s)", e.URL, e.Err, e.Attempts)
	default:
		return fmt.Sprintf("fetch %s failed after %d attempt(s)", e.URL, e.Attempts)
	}
}

// Unwrap exposes ErrFetch and the underlying cause.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetch}
	}
	return []error{ErrFetch, e.Err}
}

// SaveError wraps an encode or I/O failure while persisting an artifact.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("save: %v", e.Err)
	}
	return fmt.Sprintf("save %s: %v", e.Path, e.Err)
}

// Unwrap exposes ErrSave and the underlying cause.
func (e *SaveError) Unwrap() []error {
	return []error{ErrSave, e.Err}
}

// SessionError marks an unrecoverable browser failure.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("browser session %s: %v", e.Op, e.Err)
}

// Unwrap exposes ErrSessionFatal and the underlying cause.
func (e *SessionError) Unwrap() []error {
	return []error{ErrSessionFatal, e.Err}
}

// IsFatal reports whether err terminates the run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSessionFatal)
}
