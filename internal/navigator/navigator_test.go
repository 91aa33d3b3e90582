package navigator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/harvester/internal/crawler"
)

const scrollStepScript = "window.scrollBy(0, 500); return null;"

func basePolicy() crawler.Policy {
	return crawler.Policy{
		Navigation: crawler.NavigationPolicy{
			BaseURL:     "https://shop.example.com/list",
			URLTemplate: "{base}?p={page}",
			StartPage:   1,
			PageSize:    24,
			QueryParams: map[string]string{"start": "{offset}"},
		},
		Wait: crawler.WaitPolicy{
			SelectorKind: crawler.SelectorCSS,
			Selector:     ".product",
			Timeout:      2 * time.Second,
			Visible:      true,
		},
	}
}

func TestURL(t *testing.T) {
	n := New(basePolicy(), nil)

	got, err := n.URL(1)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/list?p=1&start=0", got)

	got, err = n.URL(3)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/list?p=3&start=48", got)

	policy := basePolicy()
	policy.Navigation.URLTemplate = ""
	policy.Navigation.QueryParams = nil
	got, err = New(policy, nil).URL(2)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/list", got)

	policy.Navigation.BaseURL = "/relative"
	_, err = New(policy, nil).URL(1)
	assert.Error(t, err)
}

func TestNavigateReady(t *testing.T) {
	b := new(MockBrowser)
	b.On("Get", mock.Anything, "https://shop.example.com/list?p=1&start=0").Return(nil)
	b.On("WaitCSS", mock.Anything, ".product", true, 2*time.Second).Return(true, nil)

	handle, err := New(basePolicy(), nil).Navigate(context.Background(), b, 1)

	require.NoError(t, err)
	assert.True(t, handle.Ready)
	assert.Equal(t, 1, handle.Index)
	assert.Equal(t, "https://shop.example.com/list?p=1&start=0", handle.URL)
	assert.Same(t, b, handle.Browser)
	b.AssertExpectations(t)
}

func TestNavigateZeroTimeoutSkipsPage(t *testing.T) {
	policy := basePolicy()
	policy.Wait.Timeout = 0
	b := new(MockBrowser)
	b.On("Get", mock.Anything, mock.Anything).Return(nil)
	b.On("WaitCSS", mock.Anything, ".product", true, time.Duration(0)).Return(false, nil)

	handle, err := New(policy, nil).Navigate(context.Background(), b, 1)

	require.NoError(t, err)
	assert.False(t, handle.Ready)
	assert.Contains(t, handle.Reason, crawler.ErrNavigationTimeout.Error())
	b.AssertNotCalled(t, "ExecuteScript", mock.Anything, mock.Anything, mock.Anything)
}

func TestNavigateUsesXPath(t *testing.T) {
	policy := basePolicy()
	policy.Wait.SelectorKind = crawler.SelectorXPath
	policy.Wait.Selector = "//div[@class='product']"
	policy.Wait.Visible = false
	b := new(MockBrowser)
	b.On("Get", mock.Anything, mock.Anything).Return(nil)
	b.On("WaitXPath", mock.Anything, "//div[@class='product']", false, 2*time.Second).Return(true, nil)

	handle, err := New(policy, nil).Navigate(context.Background(), b, 2)

	require.NoError(t, err)
	assert.True(t, handle.Ready)
	b.AssertExpectations(t)
}

func TestNavigateSoftAndFatalErrors(t *testing.T) {
	t.Run("SoftNavigationError", func(t *testing.T) {
		b := new(MockBrowser)
		b.On("Get", mock.Anything, mock.Anything).Return(crawler.ErrNavigation)

		handle, err := New(basePolicy(), nil).Navigate(context.Background(), b, 1)
		require.NoError(t, err)
		assert.False(t, handle.Ready)
		assert.NotEmpty(t, handle.Reason)
	})

	t.Run("SoftWaitError", func(t *testing.T) {
		b := new(MockBrowser)
		b.On("Get", mock.Anything, mock.Anything).Return(nil)
		b.On("WaitCSS", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("bad selector"))

		handle, err := New(basePolicy(), nil).Navigate(context.Background(), b, 1)
		require.NoError(t, err)
		assert.False(t, handle.Ready)
		assert.Contains(t, handle.Reason, "bad selector")
	})

	t.Run("FatalSession", func(t *testing.T) {
		b := new(MockBrowser)
		b.On("Get", mock.Anything, mock.Anything).Return(&crawler.SessionError{Op: "run", Err: errors.New("target crashed")})

		_, err := New(basePolicy(), nil).Navigate(context.Background(), b, 1)
		require.Error(t, err)
		assert.True(t, crawler.IsFatal(err))
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		b := new(MockBrowser)
		b.On("Get", mock.Anything, mock.Anything).Return(errors.New("aborted"))

		_, err := New(basePolicy(), nil).Navigate(ctx, b, 1)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestScrollStopsWhenStable(t *testing.T) {
	b := new(MockBrowser)
	b.On("ExecuteScript", mock.Anything, measureScript, false).Return([]byte(`{"height":1000,"bottom":false}`), nil).Once()
	b.On("ExecuteScript", mock.Anything, measureScript, false).Return([]byte(`{"height":2000,"bottom":true}`), nil).Once()
	b.On("ExecuteScript", mock.Anything, measureScript, false).Return([]byte(`{"height":2000,"bottom":true}`), nil).Once()
	b.On("ExecuteScript", mock.Anything, scrollStepScript, false).Return([]byte("null"), nil)

	s := NewScrollStrategy(crawler.ScrollPolicy{
		Strategy:       crawler.ScrollStep,
		Step:           500,
		MaxIterations:  10,
		StopWhenStable: true,
	}, nil)

	n, err := s.Scroll(context.Background(), b)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	b.AssertNumberOfCalls(t, "ExecuteScript", 5)
}

func TestScrollStopsOnFirstUnchangedReading(t *testing.T) {
	b := new(MockBrowser)
	b.On("ExecuteScript", mock.Anything, measureScript, false).Return([]byte(`{"height":1000,"bottom":true}`), nil)
	b.On("ExecuteScript", mock.Anything, mock.MatchedBy(func(s string) bool { return s != measureScript }), false).
		Return([]byte("null"), nil)

	s := NewScrollStrategy(crawler.ScrollPolicy{
		Strategy:       crawler.ScrollBottom,
		MaxIterations:  10,
		StopWhenStable: true,
		StableChecks:   1,
	}, nil)

	n, err := s.Scroll(context.Background(), b)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	b.AssertNumberOfCalls(t, "ExecuteScript", 3)
}

func TestScrollHonoursMaxIterations(t *testing.T) {
	b := new(MockBrowser)
	b.On("ExecuteScript", mock.Anything, measureScript, false).Return([]byte(`{"height":1000,"bottom":true}`), nil)
	b.On("ExecuteScript", mock.Anything, mock.MatchedBy(func(s string) bool { return s != measureScript }), false).
		Return([]byte("null"), nil)

	s := NewScrollStrategy(crawler.ScrollPolicy{Strategy: crawler.ScrollBottom, MaxIterations: 3}, nil)

	n, err := s.Scroll(context.Background(), b)

	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestScrollNoneDoesNothing(t *testing.T) {
	b := new(MockBrowser)
	n, err := NewScrollStrategy(crawler.ScrollPolicy{Strategy: crawler.ScrollNone, MaxIterations: 5}, nil).
		Scroll(context.Background(), b)
	require.NoError(t, err)
	assert.Zero(t, n)
	b.AssertNotCalled(t, "ExecuteScript", mock.Anything, mock.Anything, mock.Anything)
}

func TestNavigateScrollFailureKeepsPageReady(t *testing.T) {
	policy := basePolicy()
	policy.Scroll = crawler.ScrollPolicy{Strategy: crawler.ScrollBottom, MaxIterations: 2}
	b := new(MockBrowser)
	b.On("Get", mock.Anything, mock.Anything).Return(nil)
	b.On("WaitCSS", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	b.On("ExecuteScript", mock.Anything, measureScript, false).Return(nil, errors.New("script blocked"))

	handle, err := New(policy, nil).Navigate(context.Background(), b, 1)

	require.NoError(t, err)
	assert.True(t, handle.Ready)
	assert.Zero(t, handle.Scrolls)
}

func TestWaitSettleDelayHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewWaitStrategy(crawler.WaitPolicy{SettleDelay: time.Hour})

	ready, err := w.Wait(ctx, new(MockBrowser))

	assert.False(t, ready)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "no wait condition", w.Describe())
}
