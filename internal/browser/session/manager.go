package session

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the browser process and hands out bounded numbers of tabs.
type Manager struct {
	logger     *zap.Logger
	browserCfg config.BrowserConfig
	networkCfg config.NetworkConfig
	persona    schemas.Persona

	allocCtx    context.Context
	allocCancel context.CancelFunc

	slots *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
	closed   bool
}

// NewManager prepares an allocator. Chrome itself is started lazily by the
// first tab.
func NewManager(ctx context.Context, cfg config.Interface, logger *zap.Logger) *Manager {
	bc := cfg.Browser()
	m := &Manager{
		logger:     logger.Named("browser_manager"),
		browserCfg: bc,
		networkCfg: cfg.Network(),
		persona:    PersonaFromConfig(bc.UserAgent, bc.Locale, bc.Timezone, bc.Viewport),
		slots:      semaphore.NewWeighted(int64(max(bc.Concurrency, 1))),
		sessions:   make(map[string]*Session),
	}

	if bc.RemoteURL != "" {
		m.allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(ctx, bc.RemoteURL)
		m.logger.Info("Using remote browser.", zap.String("url", bc.RemoteURL))
	} else {
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, allocatorOptions(bc)...)
	}
	return m
}

// allocatorFlags computes the command line switches for a locally launched Chrome.
func allocatorFlags(cfg config.BrowserConfig, goos string) map[string]interface{} {
	flags := map[string]interface{}{
		"no-first-run":             true,
		"no-default-browser-check": true,
		"disable-gpu":              true,
		"disable-dev-shm-usage":    true,
		"disable-popup-blocking":   true,
		"disable-extensions":       true,
		"mute-audio":               true,
		"hide-scrollbars":          true,
	}
	if cfg.Headless {
		flags["headless"] = "new"
	}
	if cfg.Stealth {
		flags["disable-blink-features"] = "AutomationControlled"
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
	}
	if goos == "linux" {
		flags["no-sandbox"] = true
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", w, h)
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags[key] = value
		} else {
			flags[key] = true
		}
	}
	// Chrome advertises automation through this switch.
	delete(flags, "enable-automation")
	return flags
}

func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	flags := allocatorFlags(cfg, runtime.GOOS)
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := make([]chromedp.ExecAllocatorOption, 0, len(keys)+1)
	for _, k := range keys {
		opts = append(opts, chromedp.Flag(k, flags[k]))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// NewSession blocks until a tab slot is free, then opens a tab.
// The returned session releases its slot on Close.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is shut down")
	}
	m.mu.Unlock()

	if err := m.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a browser slot: %w", err)
	}

	s, err := newSession(m.allocCtx, m.logger, m.browserCfg, m.networkCfg, m.persona)
	if err != nil {
		m.slots.Release(1)
		return nil, err
	}

	m.wg.Add(1)
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.slots.Release(1)
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("session_id", s.ID()))
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("session_id", s.ID()))
	return s, nil
}

// Shutdown closes every open tab and then the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down browser manager.", zap.Int("open_sessions", len(open)))
	for _, s := range open {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	graceCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	var err error
	select {
	case <-done:
	case <-graceCtx.Done():
		err = fmt.Errorf("timed out waiting for sessions to close: %w", graceCtx.Err())
		m.logger.Warn("Sessions did not close in time.")
	}
	m.allocCancel()
	return err
}
