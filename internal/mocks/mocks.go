// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

// -- Config Mock --

// MockConfig mocks config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Network() config.NetworkConfig {
	args := m.Called()
	return args.Get(0).(config.NetworkConfig)
}

func (m *MockConfig) Extraction() config.ExtractionConfig {
	args := m.Called()
	return args.Get(0).(config.ExtractionConfig)
}

func (m *MockConfig) Submission() config.SubmissionConfig {
	args := m.Called()
	return args.Get(0).(config.SubmissionConfig)
}

func (m *MockConfig) Captcha() config.CaptchaConfig {
	args := m.Called()
	return args.Get(0).(config.CaptchaConfig)
}

func (m *MockConfig) Cache() config.CacheConfig {
	args := m.Called()
	return args.Get(0).(config.CacheConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) SetBrowserHeadless(b bool)           { m.Called(b) }
func (m *MockConfig) SetBrowserRemoteURL(u string)        { m.Called(u) }
func (m *MockConfig) SetExtractionMapDependencies(b bool) { m.Called(b) }
func (m *MockConfig) SetCaptchaAPIKey(k string)           { m.Called(k) }

var _ config.Interface = (*MockConfig)(nil)

// -- Page Mock --

// MockPage mocks browser.Page. Evaluate results are supplied through a Run
// callback that writes into the out argument.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockPage) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Content(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Evaluate(ctx context.Context, script scripts.Script, out interface{}, args ...interface{}) error {
	return m.Called(ctx, script.Name, out, args).Error(0)
}

func (m *MockPage) Find(ctx context.Context, selector string) (*browser.Element, error) {
	args := m.Called(ctx, selector)
	if el := args.Get(0); el != nil {
		return el.(*browser.Element), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPage) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *MockPage) Fill(ctx context.Context, selector, value string) error {
	return m.Called(ctx, selector, value).Error(0)
}

func (m *MockPage) SelectOption(ctx context.Context, selector, value string) error {
	return m.Called(ctx, selector, value).Error(0)
}

func (m *MockPage) SetInputFiles(ctx context.Context, selector string, paths []string) error {
	return m.Called(ctx, selector, paths).Error(0)
}

func (m *MockPage) SetChecked(ctx context.Context, selector string, checked bool) error {
	return m.Called(ctx, selector, checked).Error(0)
}

func (m *MockPage) Press(ctx context.Context, selector, key string) error {
	return m.Called(ctx, selector, key).Error(0)
}

func (m *MockPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return m.Called(ctx, selector, timeout).Error(0)
}

func (m *MockPage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return m.Called(ctx, timeout).Error(0)
}

func (m *MockPage) Wait(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockPage) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

var _ browser.Page = (*MockPage)(nil)
