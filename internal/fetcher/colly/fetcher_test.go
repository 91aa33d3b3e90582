package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/harvester/internal/crawler"
)

const imageURL = "https://cdn.example.com/a.jpg"

func newTestFetcher(t *testing.T, transport http.RoundTripper, policy crawler.FetchPolicy) *Fetcher {
	t.Helper()
	if policy.BackoffBase == 0 {
		policy.BackoffBase = time.Millisecond
		policy.BackoffMax = 2 * time.Millisecond
	}
	f, err := New(Config{Policy: policy, Transport: transport})
	require.NoError(t, err)
	return f
}

func TestFetchBytesExhaustsRetriesOnServerError(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, imageURL, httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))
	f := newTestFetcher(t, transport, crawler.FetchPolicy{MaxRetries: 3})

	_, err := f.FetchBytes(context.Background(), imageURL, crawler.Session{})
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrFetch)

	var fe *crawler.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.Equal(t, 3, fe.Attempts)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Equal(t, 3, transport.GetTotalCallCount())
}

func TestFetchBytesDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, imageURL, httpmock.NewStringResponder(http.StatusNotFound, "missing"))
	f := newTestFetcher(t, transport, crawler.FetchPolicy{MaxRetries: 5})

	_, err := f.FetchBytes(context.Background(), imageURL, crawler.Session{})
	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, 1, transport.GetTotalCallCount())
	assert.False(t, IsRetryable(err))
}

func TestFetchBytesRecoversAfterTooManyRequests(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, imageURL, func(*http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "slow down")
			resp.Header.Set("Retry-After", "0")
			return resp, nil
		}
		resp := httpmock.NewBytesResponse(http.StatusOK, []byte("jpeg-bytes"))
		resp.Header.Set("Content-Type", "image/jpeg")
		return resp, nil
	})
	f := newTestFetcher(t, transport, crawler.FetchPolicy{MaxRetries: 3})

	res, err := f.FetchBytes(context.Background(), imageURL, crawler.Session{})
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), res.Body)
	assert.Equal(t, "image/jpeg", res.ContentType)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, imageURL, res.URL)
}

func TestFetchBytesTransportErrorHasNoStatus(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, imageURL, httpmock.NewErrorResponder(errors.New("connection reset")))
	f := newTestFetcher(t, transport, crawler.FetchPolicy{MaxRetries: 2})

	_, err := f.FetchBytes(context.Background(), imageURL, crawler.Session{})
	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.StatusCode)
	assert.Equal(t, 2, fe.Attempts)
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, IsRetryable(err))
}

func TestFetchBytesUsesCache(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, imageURL, httpmock.NewBytesResponder(http.StatusOK, []byte("cached")))
	f := newTestFetcher(t, transport, crawler.FetchPolicy{MaxRetries: 1, CacheSize: 4})

	first, err := f.FetchBytes(context.Background(), imageURL, crawler.Session{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := f.FetchBytes(context.Background(), imageURL, crawler.Session{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestFetchBytesSendsSessionIdentity(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	var got http.Header
	transport.RegisterResponder(http.MethodGet, imageURL, func(req *http.Request) (*http.Response, error) {
		got = req.Header.Clone()
		return httpmock.NewBytesResponse(http.StatusOK, []byte("ok")), nil
	})
	f := newTestFetcher(t, transport, crawler.FetchPolicy{
		MaxRetries: 1,
		Headers:    http.Header{"X-Trace": {"yes"}},
	})

	session := crawler.Session{
		UserAgent: "Mozilla/5.0 test",
		Referer:   "https://shop.example.com/list?page=1",
		Cookies: []*http.Cookie{
			{Name: "sid", Value: "abc", Domain: "cdn.example.com"},
			{Name: "other", Value: "nope", Domain: "elsewhere.org"},
		},
	}
	_, err := f.FetchBytes(context.Background(), imageURL, session)
	require.NoError(t, err)

	assert.Equal(t, "Mozilla/5.0 test", got.Get("User-Agent"))
	assert.Equal(t, "https://shop.example.com/list?page=1", got.Get("Referer"))
	assert.Equal(t, "yes", got.Get("X-Trace"))
	assert.Equal(t, "sid=abc", got.Get("Cookie"))
}

func TestFetchBytesHonoursCancellation(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, imageURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))
	f := newTestFetcher(t, transport, crawler.FetchPolicy{
		MaxRetries:  10,
		BackoffBase: time.Hour,
		BackoffMax:  time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.FetchBytes(ctx, imageURL, crawler.Session{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, httpmock.NewMockTransport(), crawler.FetchPolicy{})
	var (
		result   crawler.Resource
		header   http.Header
		fetchErr error
	)
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, imageURL, crawler.Session{UserAgent: "ua"}, &result, &header, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "ua", collyReq.Headers.Get("User-Agent"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"image/png"}},
		Request:    &colly.Request{URL: mustParseURL(t, imageURL)},
	})
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "image/png", result.ContentType)
	assert.Equal(t, imageURL, result.FinalURL)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	assert.EqualError(t, fetchErr, "boom")
	assert.Equal(t, http.StatusBadGateway, result.StatusCode)
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	p := newRetryPolicy(3, 100*time.Millisecond, time.Second)
	assert.True(t, p.shouldRetry(http.StatusBadGateway, nil, 1))
	assert.True(t, p.shouldRetry(http.StatusTooManyRequests, nil, 2))
	assert.False(t, p.shouldRetry(http.StatusBadGateway, nil, 3))
	assert.False(t, p.shouldRetry(http.StatusForbidden, nil, 1))
	assert.True(t, p.shouldRetry(0, errors.New("reset"), 1))
	assert.False(t, p.shouldRetry(0, context.Canceled, 1))

	for attempt := 1; attempt <= 6; attempt++ {
		d := p.backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	wait, ok := p.retryAfter("0", now)
	assert.True(t, ok)
	assert.Zero(t, wait)
	wait, ok = p.retryAfter("120", now)
	assert.True(t, ok)
	assert.Equal(t, time.Second, wait)
	wait, ok = p.retryAfter(now.Add(500*time.Millisecond).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.LessOrEqual(t, wait, time.Second)
	_, ok = p.retryAfter("soon", now)
	assert.False(t, ok)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
