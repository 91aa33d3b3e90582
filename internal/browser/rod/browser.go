// Package rodbrowser implements crawler.Browser with go-rod, optionally
// masking automation fingerprints with go-rod/stealth.
package rodbrowser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// Config controls the launched browser.
type Config struct {
	Headless          bool
	NoSandbox         bool
	Bin               string
	Stealth           bool
	UserAgent         string
	Headers           http.Header
	NavigationTimeout time.Duration
	CommandTimeout    time.Duration
}

// Browser owns one rod page. It is not safe for concurrent use.
type Browser struct {
	cfg      Config
	logger   *zap.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

var _ crawler.Browser = (*Browser)(nil)

// New launches a browser and prepares the page used for the run. Stealth and
// header overrides are installed before any navigation.
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

	l := launcher.New().
		Context(ctx).
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, &crawler.SessionError{Op: "launch", Err: err}
	}
	logger.Debug("browser launched", zap.String("control_url", controlURL))

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, &crawler.SessionError{Op: "connect", Err: err}
	}
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		return nil, &crawler.SessionError{Op: "open page", Err: err}
	}

	b := &Browser{cfg: cfg, logger: logger, launcher: l, browser: browser, page: page}
	if err := b.setup(); err != nil {
		_ = b.Close()
		return nil, &crawler.SessionError{Op: "setup", Err: err}
	}
	return b, nil
}

func (b *Browser) setup() error {
	if b.cfg.Stealth {
		if _, err := b.page.EvalOnNewDocument(stealth.JS); err != nil {
			b.logger.Warn("stealth injection failed, proceeding without stealth", zap.Error(err))
		}
	}
	if b.cfg.UserAgent != "" {
		if err := b.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
	}
	if len(b.cfg.Headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(b.cfg.Headers)}).Call(b.page); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}
	return nil
}

// Get navigates the page and waits for the load event.
func (b *Browser) Get(ctx context.Context, url string) error {
	err := b.do(ctx, b.cfg.NavigationTimeout, func(p *rod.Page) error {
		if err := p.Navigate(url); err != nil {
			return err
		}
		return p.WaitLoad()
	})
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
	return b.wait(ctx, selector, visible, timeout, func(p *rod.Page) (*rod.Element, error) {
		return p.Element(selector)
	})
}

// WaitXPath is WaitCSS for an XPath expression.
func (b *Browser) WaitXPath(ctx context.Context, selector string, visible bool, timeout time.Duration) (bool, error) {
	return b.wait(ctx, selector, visible, timeout, func(p *rod.Page) (*rod.Element, error) {
		return p.ElementX(selector)
	})
}

func (b *Browser) wait(
	ctx context.Context,
	selector string,
	visible bool,
	timeout time.Duration,
	find func(*rod.Page) (*rod.Element, error),
) (bool, error) {
	err := b.do(ctx, timeout, func(p *rod.Page) error {
		el, err := find(p)
		if err != nil {
			return err
		}
		if visible {
			return el.WaitVisible()
		}
		return nil
	})
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
	err := b.do(ctx, b.cfg.CommandTimeout, func(p *rod.Page) error {
		res, err := p.Eval("() => " + crawler.WrapScript(script, async))
		if err != nil {
			return err
		}
		out = res.Value.Str()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate script: %w", err)
	}
	return []byte(out), nil
}

// DOM returns the serialized document.
func (b *Browser) DOM(ctx context.Context) (string, error) {
	var html string
	err := b.do(ctx, b.cfg.CommandTimeout, func(p *rod.Page) error {
		var err error
		html, err = p.HTML()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("read dom: %w", err)
	}
	return html, nil
}

// Cookies returns the cookies visible to the current page.
func (b *Browser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var cookies []*proto.NetworkCookie
	err := b.do(ctx, b.cfg.CommandTimeout, func(p *rod.Page) error {
		var err error
		cookies, err = p.Cookies(nil)
		return err
	})
	if err != nil {
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
	err := b.do(ctx, b.cfg.CommandTimeout, func(p *rod.Page) error {
		res, err := p.Eval(`() => navigator.userAgent`)
		if err != nil {
			return err
		}
		ua = res.Value.Str()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("read user agent: %w", err)
	}
	return ua, nil
}

// Close shuts the browser down and removes its profile directory.
func (b *Browser) Close() error {
	if b == nil || b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// do runs fn against the page bound to a per-call timeout. When the call fails
// and the browser no longer answers, the error is session-fatal.
func (b *Browser) do(ctx context.Context, timeout time.Duration, fn func(*rod.Page) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(b.page.Context(callCtx))
	if err == nil {
		return nil
	}
	if !b.alive() {
		return &crawler.SessionError{Op: "call", Err: err}
	}
	return err
}

// healthCheckTimeout bounds the liveness probe issued after a failed call.
var healthCheckTimeout = 5 * time.Second

func (b *Browser) alive() bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	_, err := proto.BrowserGetVersion{}.Call(b.browser.Context(ctx))
	return err == nil
}

func toHeadersMap(h http.Header) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(h))
	for k, values := range h {
		if len(values) == 0 {
			continue
		}
		m[k] = gson.New(values[len(values)-1])
	}
	return m
}

func toHTTPCookies(src []*proto.NetworkCookie) []*http.Cookie {
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
		case proto.NetworkCookieSameSiteStrict:
			hc.SameSite = http.SameSiteStrictMode
		case proto.NetworkCookieSameSiteLax:
			hc.SameSite = http.SameSiteLaxMode
		case proto.NetworkCookieSameSiteNone:
			hc.SameSite = http.SameSiteNoneMode
		}
		out = append(out, hc)
	}
	return out
}
