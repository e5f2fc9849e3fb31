// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/humanoid"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

const (
	actionTimeout = 10 * time.Second
	scriptTimeout = 20 * time.Second
	idleQuiet     = 500 * time.Millisecond
	idlePoll      = 100 * time.Millisecond
)

// Types whose value cannot be produced by key events.
var directValueTypes = map[string]bool{
	"date": true, "time": true, "datetime-local": true, "month": true, "week": true,
	"color": true, "range": true,
}

// Session is a single browser tab implementing browser.Page over chromedp.
type Session struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
	network config.NetworkConfig
	typist  *humanoid.Typist
	idle    *idleTracker

	mu      sync.Mutex
	closed  bool
	onClose func()
}

var _ browser.Page = (*Session)(nil)

// newSession opens a tab under parent and prepares it for use.
func newSession(parent context.Context, logger *zap.Logger, browserCfg config.BrowserConfig, netCfg config.NetworkConfig, persona schemas.Persona) (*Session, error) {
	tabCtx, cancel := chromedp.NewContext(parent)
	s := &Session{
		id:      uuid.NewString(),
		ctx:     tabCtx,
		cancel:  cancel,
		network: netCfg,
		idle:    newIdleTracker(nil),
	}
	s.logger = logger.Named("session").With(zap.String("session_id", s.id))
	if browserCfg.Humanoid.Enabled {
		s.typist = humanoid.NewTypist(browserCfg.Humanoid, cdpKeys{s}, nil)
	}

	chromedp.ListenTarget(tabCtx, s.idle.handle)

	tasks := chromedp.Tasks{network.Enable()}
	if browserCfg.Stealth {
		tasks = append(tasks, StealthTasks(persona, s.logger)...)
	}
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize tab: %w", err)
	}
	s.logger.Debug("Session initialized.")
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Close closes the tab. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()

	// Give the browser a moment to close the target cleanly.
	closeCtx, cancel := context.WithTimeout(Detach(s.ctx), 3*time.Second)
	defer cancel()
	if err := chromedp.Cancel(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug("Tab close reported an error.", zap.Error(err))
	}
	s.cancel()
	if onClose != nil {
		onClose()
	}
	s.logger.Debug("Session closed.")
}

// run executes actions on the tab bounded by both the tab and ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	combined, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		combined, cancelTimeout = context.WithTimeout(combined, timeout)
		defer cancelTimeout()
	}
	return chromedp.Run(combined, actions...)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating.", zap.String("url", url))
	err := s.run(ctx, s.network.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if s.network.PostLoadWait > 0 {
		if err := s.WaitForNetworkIdle(ctx, s.network.PostLoadWait); err != nil {
			s.logger.Debug("Network did not settle after load.", zap.Error(err))
		}
	}
	return nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var u string
	if err := s.run(ctx, actionTimeout, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return u, nil
}

func (s *Session) Content(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, scriptTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

type envelope struct {
	V json.RawMessage `json:"v"`
}

// decodeResult unwraps the {v: ...} envelope every script returns.
func decodeResult(raw []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("malformed script result: %w", err)
	}
	if len(env.V) == 0 {
		env.V = json.RawMessage("null")
	}
	return json.Unmarshal(env.V, out)
}

func (s *Session) Evaluate(ctx context.Context, script scripts.Script, out interface{}, args ...interface{}) error {
	expr, err := script.Expression(args...)
	if err != nil {
		return err
	}
	var raw []byte
	err = s.run(ctx, scriptTimeout, chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
	if err != nil {
		return fmt.Errorf("script %s: %w", script.Name, err)
	}
	if err := decodeResult(raw, out); err != nil {
		return fmt.Errorf("script %s: %w", script.Name, err)
	}
	return nil
}

func (s *Session) Find(ctx context.Context, selector string) (*browser.Element, error) {
	var el *browser.Element
	if err := s.Evaluate(ctx, scripts.ElementState, &el, selector); err != nil {
		return nil, err
	}
	return el, nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.Find(ctx, selector)
	if err != nil {
		return err
	}
	if el == nil {
		return fmt.Errorf("click %s: %w", selector, browser.ErrElementNotFound)
	}
	if el.Visible {
		err = s.run(ctx, actionTimeout,
			chromedp.ScrollIntoView(selector, chromedp.ByQuery),
			chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
		)
		if err == nil {
			return nil
		}
		s.logger.Debug("Native click failed, falling back to script click.", zap.String("selector", selector), zap.Error(err))
	}
	var ok bool
	if err := s.Evaluate(ctx, scripts.ClickElement, &ok, selector); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("click %s: %w", selector, browser.ErrElementNotFound)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	el, err := s.Find(ctx, selector)
	if err != nil {
		return err
	}
	if el == nil {
		return fmt.Errorf("fill %s: %w", selector, browser.ErrElementNotFound)
	}
	if directValueTypes[el.Type] {
		return s.inject(ctx, selector, value)
	}

	if err := s.run(ctx, actionTimeout,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("fill %s: prepare: %w", selector, err)
	}

	if s.typist != nil {
		if err := s.typist.Type(ctx, value); err != nil {
			return fmt.Errorf("fill %s: %w", selector, err)
		}
		return nil
	}
	if err := s.run(ctx, actionTimeout, chromedp.SendKeys(selector, value, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (s *Session) inject(ctx context.Context, selector, value string) error {
	var ok bool
	if err := s.Evaluate(ctx, scripts.InjectValue, &ok, selector, value); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set value %s: %w", selector, browser.ErrElementNotFound)
	}
	return nil
}

// SelectOption sets a native select's value and fires the change events
// frameworks listen for.
func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	return s.inject(ctx, selector, value)
}

func (s *Session) SetInputFiles(ctx context.Context, selector string, paths []string) error {
	if err := s.run(ctx, actionTimeout, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("upload to %s: %w", selector, err)
	}
	return nil
}

func (s *Session) SetChecked(ctx context.Context, selector string, checked bool) error {
	el, err := s.Find(ctx, selector)
	if err != nil {
		return err
	}
	if el == nil {
		return fmt.Errorf("check %s: %w", selector, browser.ErrElementNotFound)
	}
	if el.Checked == checked {
		return nil
	}
	if el.Visible {
		if err := s.Click(ctx, selector); err == nil {
			if after, _ := s.Find(ctx, selector); after != nil && after.Checked == checked {
				return nil
			}
		}
	}
	var state *bool
	if err := s.Evaluate(ctx, scripts.SetChecked, &state, selector, checked); err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("check %s: %w", selector, browser.ErrElementNotFound)
	}
	return nil
}

// keyFor maps a key name to the sequence chromedp dispatches.
func keyFor(key string) string {
	switch strings.ToLower(key) {
	case "enter", "return":
		return kb.Enter
	case "escape", "esc":
		return kb.Escape
	case "tab":
		return kb.Tab
	case "backspace":
		return kb.Backspace
	case "arrowdown", "down":
		return kb.ArrowDown
	case "arrowup", "up":
		return kb.ArrowUp
	}
	return key
}

func (s *Session) Press(ctx context.Context, selector, key string) error {
	var actions []chromedp.Action
	if selector != "" {
		actions = append(actions, chromedp.Focus(selector, chromedp.ByQuery))
	}
	actions = append(actions, chromedp.KeyEvent(keyFor(key)))
	if err := s.run(ctx, actionTimeout, actions...); err != nil {
		return fmt.Errorf("press %s on %q: %w", key, selector, err)
	}
	return nil
}

func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// WaitForNetworkIdle returns once no request has been pending for a short quiet
// period, or with a deadline error after timeout.
func (s *Session) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()
	for {
		if s.idle.idleFor(idleQuiet) {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("network idle: %w", waitCtx.Err())
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	return browser.Sleep(ctx, d)
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, scriptTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// cdpKeys adapts the session to the typist's executor.
type cdpKeys struct{ s *Session }

func (k cdpKeys) SendKeys(ctx context.Context, keys string) error {
	return k.s.run(ctx, actionTimeout, chromedp.KeyEvent(keys))
}

func (k cdpKeys) Sleep(ctx context.Context, d time.Duration) error {
	return browser.Sleep(ctx, d)
}
