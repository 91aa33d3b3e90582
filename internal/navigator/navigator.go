// Package navigator turns a page number into a ready (or degraded) page handle
// by driving the browser through navigation, a wait condition and scrolling.
package navigator

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// Navigator composes URL building with the wait and scroll strategies.
type Navigator struct {
	policy crawler.NavigationPolicy
	wait   *WaitStrategy
	scroll *ScrollStrategy
	logger *zap.Logger
}

// New builds a Navigator from the run policy.
func New(policy crawler.Policy, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{
		policy: policy.Navigation,
		wait:   NewWaitStrategy(policy.Wait),
		scroll: NewScrollStrategy(policy.Scroll, logger),
		logger: logger,
	}
}

// URL formats the address of page. The template sees {base}, {page}, {index}
// (zero-based page ordinal) and {offset} (index * page size); query parameter
// values may use the same tokens.
func (n *Navigator) URL(page int) (string, error) {
	index := page - n.policy.StartPage
	values := map[string]string{
		"base":   n.policy.BaseURL,
		"page":   strconv.Itoa(page),
		"index":  strconv.Itoa(index),
		"offset": strconv.Itoa(index * n.policy.PageSize),
	}
	tmpl := n.policy.URLTemplate
	if tmpl == "" {
		tmpl = "{base}"
	}
	raw := crawler.FormatTemplate(tmpl, values)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("build page url %q: %w", raw, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("build page url %q: not absolute", raw)
	}
	if len(n.policy.QueryParams) > 0 {
		q := u.Query()
		for k, v := range n.policy.QueryParams {
			q.Set(k, crawler.FormatTemplate(v, values))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Navigate loads page and applies the wait and scroll strategies. Soft failures
// (bad URL, navigation error, unmet wait) return a handle with Ready=false and a
// nil error. Only session-fatal errors and cancellation are returned.
func (n *Navigator) Navigate(ctx context.Context, b crawler.Browser, page int) (crawler.PageHandle, error) {
	handle := crawler.PageHandle{Index: page, Browser: b}
	logger := n.logger.With(zap.Int("page", page))

	pageURL, err := n.URL(page)
	if err != nil {
		return degrade(handle, err), nil
	}
	handle.URL = pageURL
	logger = logger.With(zap.String("url", pageURL))

	if err := b.Get(ctx, pageURL); err != nil {
		if hard := hardError(ctx, err); hard != nil {
			return handle, hard
		}
		logger.Warn("navigation failed", zap.Error(err))
		return degrade(handle, err), nil
	}

	ready, err := n.wait.Wait(ctx, b)
	if err != nil {
		if hard := hardError(ctx, err); hard != nil {
			return handle, hard
		}
		logger.Warn("wait failed", zap.Error(err))
		return degrade(handle, fmt.Errorf("%w: %w", crawler.ErrNavigation, err)), nil
	}
	if !ready {
		reason := fmt.Errorf("%w: %s", crawler.ErrNavigationTimeout, n.wait.Describe())
		logger.Warn("page not ready", zap.Error(reason))
		return degrade(handle, reason), nil
	}

	scrolls, err := n.scroll.Scroll(ctx, b)
	handle.Scrolls = scrolls
	if err != nil {
		if hard := hardError(ctx, err); hard != nil {
			return handle, hard
		}
		logger.Warn("scroll stopped early", zap.Int("scrolls", scrolls), zap.Error(err))
	}

	handle.Ready = true
	return handle, nil
}

func degrade(handle crawler.PageHandle, reason error) crawler.PageHandle {
	handle.Ready = false
	handle.Reason = reason.Error()
	return handle
}

// hardError returns the error to propagate, or nil when err only degrades the page.
func hardError(ctx context.Context, err error) error {
	if crawler.IsFatal(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}
