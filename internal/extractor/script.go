package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// ScriptExtractor runs a user script in the page and maps its JSON result to
// records.
type ScriptExtractor struct {
	script string
	async  bool
	logger *zap.Logger
}

// NewScript builds a ScriptExtractor. The script is a function body that
// returns its result.
func NewScript(policy crawler.ExtractorPolicy, logger *zap.Logger) (*ScriptExtractor, error) {
	if strings.TrimSpace(policy.Script) == "" {
		return nil, errors.New("script extractor: script is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScriptExtractor{script: policy.Script, async: policy.Async, logger: logger}, nil
}

// Extract implements crawler.Extractor. A script exception yields no records
// and an error matching crawler.ErrExtraction.
func (e *ScriptExtractor) Extract(ctx context.Context, page crawler.PageHandle) ([]crawler.RawRecord, error) {
	if page.Browser == nil {
		return nil, softError("script", fmt.Errorf("page %d has no browser", page.Index))
	}
	raw, err := page.Browser.ExecuteScript(ctx, e.script, e.async)
	if err != nil {
		return nil, softError("script", err)
	}
	value, err := crawler.DecodeRawValue(raw)
	if err != nil {
		return nil, softError("script result", err)
	}
	records := crawler.RecordsFromValue(value)
	e.logger.Debug("script extraction complete",
		zap.Int("page", page.Index),
		zap.Stringer("result", value.Kind),
		zap.Int("records", len(records)),
	)
	return records, nil
}
