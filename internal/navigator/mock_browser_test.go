package navigator

import (
	"context"
	"net/http"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockBrowser is a mock implementation of the crawler.Browser interface.
type MockBrowser struct {
	mock.Mock
}

func (m *MockBrowser) Get(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockBrowser) WaitCSS(ctx context.Context, selector string, visible bool, timeout time.Duration) (bool, error) {
	args := m.Called(ctx, selector, visible, timeout)
	return args.Bool(0), args.Error(1)
}

func (m *MockBrowser) WaitXPath(ctx context.Context, selector string, visible bool, timeout time.Duration) (bool, error) {
	args := m.Called(ctx, selector, visible, timeout)
	return args.Bool(0), args.Error(1)
}

func (m *MockBrowser) ExecuteScript(ctx context.Context, script string, async bool) ([]byte, error) {
	args := m.Called(ctx, script, async)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func (m *MockBrowser) DOM(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBrowser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]*http.Cookie)
	return out, args.Error(1)
}

func (m *MockBrowser) UserAgent(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockBrowser) Close() error {
	return m.Called().Error(0)
}
