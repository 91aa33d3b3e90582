// Package collyfetcher resolves URL-valued artifacts into bytes using gocolly,
// with retry/backoff, per-host rate limiting, and an LRU body cache.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/crawler"
	"github.com/JakeFAU/harvester/internal/metrics"
	"github.com/JakeFAU/harvester/internal/policy/ratelimit"
)

// Config controls collector behavior.
type Config struct {
	Policy crawler.FetchPolicy
	// Transport overrides the HTTP transport; nil uses a pooled default.
	Transport http.RoundTripper
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	policy        crawler.FetchPolicy
	retry         retryPolicy
	baseCollector *colly.Collector
	cache         *lru.Cache[string, crawler.Resource]
	logger        *zap.Logger
	metrics       *metrics.Metrics
	limiter       *ratelimit.Limiter
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.DisableCookies()
	if cfg.Policy.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.Policy.MaxBodyBytes
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	timeout := cfg.Policy.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)

	f := &Fetcher{
		policy:        cfg.Policy,
		retry:         newRetryPolicy(cfg.Policy.MaxRetries, cfg.Policy.BackoffBase, cfg.Policy.BackoffMax),
		baseCollector: c,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		limiter:       ratelimit.New(ratelimit.Config{RPS: cfg.Policy.HostQPS, Observe: cfg.Metrics.ObserveRateLimitDelay}),
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	if cfg.Policy.CacheSize > 0 {
		cache, err := lru.New[string, crawler.Resource](cfg.Policy.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("init fetch cache: %w", err)
		}
		f.cache = cache
	}
	return f, nil
}

// FetchBytes downloads rawURL, retrying transient failures. Exhausted or
// non-retryable failures return a *crawler.FetchError.
func (f *Fetcher) FetchBytes(ctx context.Context, rawURL string, session crawler.Session) (crawler.Resource, error) {
	if f.cache != nil {
		if res, ok := f.cache.Get(rawURL); ok {
			res.Cached = true
			return res, nil
		}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return crawler.Resource{}, &crawler.FetchError{URL: rawURL, Err: err}
	}

	var (
		status  int
		lastErr error
		attempt int
	)
	for attempt = 1; ; attempt++ {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return crawler.Resource{}, &crawler.FetchError{URL: rawURL, Attempts: attempt - 1, Err: err}
		}
		res, header, ferr := f.fetchOnce(ctx, rawURL, session)
		status, lastErr = res.StatusCode, ferr
		if ferr == nil && status < 400 {
			res.URL = rawURL
			res.Attempts = attempt
			if f.cache != nil {
				f.cache.Add(rawURL, res)
			}
			f.metrics.ObserveFetch(parsed.Hostname(), "ok", attempt, len(res.Body))
			return res, nil
		}
		if !f.retry.shouldRetry(status, ferr, attempt) {
			break
		}
		wait := f.retry.backoff(attempt)
		if d, ok := f.retry.retryAfter(header.Get("Retry-After"), time.Now()); ok {
			wait = d
		}
		f.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Duration("backoff", wait),
			zap.Error(ferr),
		)
		if err := sleepContext(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	f.metrics.ObserveFetch(parsed.Hostname(), "failed", attempt, 0)
	if lastErr != nil {
		status = 0
	}
	return crawler.Resource{}, &crawler.FetchError{URL: rawURL, StatusCode: status, Attempts: attempt, Err: lastErr}
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string, session crawler.Session) (crawler.Resource, http.Header, error) {
	var (
		result   crawler.Resource
		header   = http.Header{}
		fetchErr error
	)
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, rawURL, session, &result, &header, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return result, header, err
	}
	return result, header, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.policy.UserAgent != "" {
		collector.UserAgent = f.policy.UserAgent
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	rawURL string,
	session crawler.Session,
	result *crawler.Resource,
	header *http.Header,
	fetchErr *error,
) {
	cookieHeader := cookieHeaderFor(session, rawURL)
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(f.policy.Headers, r)
		f.copyHeaders(session.Headers, r)
		if session.UserAgent != "" {
			r.Headers.Set("User-Agent", session.UserAgent)
		}
		if session.Referer != "" {
			r.Headers.Set("Referer", session.Referer)
		}
		if cookieHeader != "" {
			r.Headers.Set("Cookie", cookieHeader)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		if r.Headers != nil {
			*header = r.Headers.Clone()
		}
		*result = crawler.Resource{
			FinalURL:    r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: header.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// cookieHeaderFor returns the browser cookies that apply to target, scoped by
// the usual domain and path rules.
func cookieHeaderFor(session crawler.Session, target string) string {
	if len(session.Cookies) == 0 {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return ""
	}
	origin := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
	scoped := make([]*http.Cookie, 0, len(session.Cookies))
	for _, c := range session.Cookies {
		cp := *c
		if cp.Path == "" {
			cp.Path = "/"
		}
		scoped = append(scoped, &cp)
	}
	jar.SetCookies(origin, scoped)
	parts := make([]string, 0, len(scoped))
	for _, c := range jar.Cookies(u) {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// IsRetryable reports whether err is a FetchError with a transient cause.
func IsRetryable(err error) bool {
	var fe *crawler.FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Err != nil || retryableStatus(fe.StatusCode)
}
