// Package chromedpbrowser implements crawler.Browser on top of chromedp and a
// single headless Chrome tab.
package chromedpbrowser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// Config controls the Chrome instance.
type Config struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	Headers           http.Header
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	// CommandTimeout bounds script, DOM and cookie calls.
	CommandTimeout time.Duration
}

// Browser owns one Chrome tab. It is not safe for concurrent use.
type Browser struct {
	cfg           Config
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var _ crawler.Browser = (*Browser)(nil)

// New launches Chrome and opens the tab used for the whole run.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
	if err := b.launch(ctx); err != nil {
		browserCancel()
		allocCancel()
		return nil, &crawler.SessionError{Op: "launch", Err: err}
	}
	return b, nil
}

// chromedpRun is swapped in tests.
var chromedpRun = chromedp.Run

// launch starts Chrome on the browser context itself. The first Run binds the
// process to the context it is given, so it must not carry a timeout.
func (b *Browser) launch(ctx context.Context) error {
	stopForward := forwardCancel(ctx, b.browserCancel)
	err := chromedpRun(b.browserCtx)
	stopForward()
	if err != nil {
		return fmt.Errorf("start chrome: %w", err)
	}
	return b.run(ctx, b.cfg.NavigationTimeout, b.networkSetupAction())
}

// Get navigates the tab.
func (b *Browser) Get(ctx context.Context, url string) error {
	err := b.run(ctx, b.cfg.NavigationTimeout, chromedp.Navigate(url))
	switch {
	case err == nil:
		return nil
	case crawler.IsFatal(err):
		return err
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("%w: %s: %w", crawler.ErrNavigationTimeout, url, err)
	default:
		return fmt.Errorf("%w: %s: %w", crawler.ErrNavigation, url, err)
	}
}

// WaitCSS blocks until selector exists (or is visible) or timeout elapses.
func (b *Browser) WaitCSS(ctx context.Context, selector string, visible bool, timeout time.Duration) (bool, error) {
	return b.wait(ctx, selector, visible, timeout, chromedp.ByQuery)
}

// WaitXPath is WaitCSS for an XPath expression.
func (b *Browser) WaitXPath(ctx context.Context, selector string, visible bool, timeout time.Duration) (bool, error) {
	return b.wait(ctx, selector, visible, timeout, chromedp.BySearch)
}

func (b *Browser) wait(
	ctx context.Context,
	selector string,
	visible bool,
	timeout time.Duration,
	by chromedp.QueryOption,
) (bool, error) {
	action := chromedp.WaitReady(selector, by)
	if visible {
		action = chromedp.WaitVisible(selector, by)
	}
	err := b.run(ctx, timeout, action)
	switch {
	case err == nil:
		return true, nil
	case crawler.IsFatal(err):
		return false, err
	case ctx.Err() != nil:
		return false, fmt.Errorf("wait %q: %w", selector, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, fmt.Errorf("wait %q: %w", selector, err)
	}
}

// ExecuteScript evaluates a function body and returns its JSON-encoded result.
func (b *Browser) ExecuteScript(ctx context.Context, script string, async bool) ([]byte, error) {
	var out string
	eval := chromedp.Evaluate(crawler.WrapScript(script, async), &out, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	})
	if err := b.run(ctx, b.cfg.CommandTimeout, eval); err != nil {
		return nil, fmt.Errorf("evaluate script: %w", err)
	}
	return []byte(out), nil
}

// DOM returns the serialized document.
func (b *Browser) DOM(ctx context.Context) (string, error) {
	var html string
	if err := b.run(ctx, b.cfg.CommandTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read dom: %w", err)
	}
	return html, nil
}

// Cookies returns the cookies visible to the current page.
func (b *Browser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var cookies []*network.Cookie
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	})
	if err := b.run(ctx, b.cfg.CommandTimeout, action); err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return toHTTPCookies(cookies), nil
}

// UserAgent reports the configured override or the browser's own value.
func (b *Browser) UserAgent(ctx context.Context) (string, error) {
	if b.cfg.UserAgent != "" {
		return b.cfg.UserAgent, nil
	}
	var ua string
	if err := b.run(ctx, b.cfg.CommandTimeout, chromedp.Evaluate(`navigator.userAgent`, &ua)); err != nil {
		return "", fmt.Errorf("read user agent: %w", err)
	}
	return ua, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() error {
	if b == nil {
		return nil
	}
	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// run executes actions on the tab with a per-call timeout, forwarding
// cancellation of ctx. Failures after the tab died are session-fatal.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := b.browserCtx.Err(); err != nil {
		return &crawler.SessionError{Op: "run", Err: err}
	}
	taskCtx, cancelTask := context.WithTimeout(b.browserCtx, timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	if err := chromedpRun(taskCtx, actions...); err != nil {
		if b.browserCtx.Err() != nil {
			return &crawler.SessionError{Op: "run", Err: err}
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(b.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(b.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

func toHTTPCookies(src []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(src))
	for _, c := range src {
		if c == nil {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		switch c.SameSite {
		case network.CookieSameSiteStrict:
			hc.SameSite = http.SameSiteStrictMode
		case network.CookieSameSiteLax:
			hc.SameSite = http.SameSiteLaxMode
		case network.CookieSameSiteNone:
			hc.SameSite = http.SameSiteNoneMode
		}
		out = append(out, hc)
	}
	return out
}
