// Package extractor pulls raw records out of a ready page, either by running a
// script in page context or by evaluating selectors against the rendered DOM.
package extractor

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// New returns the extractor selected by policy.Strategy. An empty strategy
// picks the script extractor when a script is configured and the DOM
// extractor otherwise.
func New(policy crawler.ExtractorPolicy, logger *zap.Logger) (crawler.Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	strategy := policy.Strategy
	if strategy == "" {
		strategy = crawler.ExtractDOM
		if strings.TrimSpace(policy.Script) != "" {
			strategy = crawler.ExtractScript
		}
	}
	switch strategy {
	case crawler.ExtractScript:
		return NewScript(policy, logger)
	case crawler.ExtractDOM:
		return NewDOM(policy, logger)
	default:
		return nil, fmt.Errorf("unknown extractor strategy %q", policy.Strategy)
	}
}

// softError wraps a non-fatal failure with ErrExtraction. Session-fatal errors
// pass through untouched.
func softError(op string, err error) error {
	if crawler.IsFatal(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", crawler.ErrExtraction, op, err)
}
