// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
)

// ScriptFunc answers one script evaluation.
type ScriptFunc func(args []interface{}) (interface{}, error)

// Action records an interaction performed on the page.
type Action struct {
	Kind     string
	Selector string
	Value    string
}

// Page is a scriptable fake. Elements are keyed by selector; script results come
// from Scripts keyed by script name. Unknown scripts evaluate to null.
type Page struct {
	mu sync.Mutex

	CurrentURL string
	HTML       string
	Elements   map[string]*browser.Element
	Scripts    map[string]ScriptFunc
	Actions    []Action
	Evaluated  []string

	// Hooks run after the default behavior of an interaction.
	OnClick func(p *Page, selector string) error
	OnFill  func(p *Page, selector, value string) error
	OnPress func(p *Page, selector, key string) error

	ClickErr       map[string]error
	FillErr        map[string]error
	NetworkIdleErr error
}

// New returns an empty fake at url.
func New(url string) *Page {
	return &Page{
		CurrentURL: url,
		Elements:   map[string]*browser.Element{},
		Scripts:    map[string]ScriptFunc{},
		ClickErr:   map[string]error{},
		FillErr:    map[string]error{},
	}
}

// AddElement registers a visible, enabled element and returns it for tweaking.
func (p *Page) AddElement(selector, tag, typ, name string) *browser.Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	el := &browser.Element{Selector: selector, Tag: tag, Type: typ, Name: name, Visible: true, Enabled: true}
	p.Elements[selector] = el
	return el
}

// Handle sets the result of a script.
func (p *Page) Handle(s scripts.Script, fn ScriptFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scripts[s.Name] = fn
}

// Returns makes a script always evaluate to v.
func (p *Page) Returns(s scripts.Script, v interface{}) {
	p.Handle(s, func([]interface{}) (interface{}, error) { return v, nil })
}

// Element returns the element at selector, or nil.
func (p *Page) Element(selector string) *browser.Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Elements[selector]
}

// ActionsOf filters recorded actions by kind.
func (p *Page) ActionsOf(kind string) []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Action
	for _, a := range p.Actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// EvaluatedCount reports how many times a script ran.
func (p *Page) EvaluatedCount(s scripts.Script) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, name := range p.Evaluated {
		if name == s.Name {
			n++
		}
	}
	return n
}

func (p *Page) record(kind, selector, value string) {
	p.Actions = append(p.Actions, Action{Kind: kind, Selector: selector, Value: value})
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate", "", url)
	p.CurrentURL = url
	return ctx.Err()
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, ctx.Err()
}

func (p *Page) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, ctx.Err()
}

func (p *Page) Evaluate(ctx context.Context, s scripts.Script, out interface{}, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.Evaluated = append(p.Evaluated, s.Name)
	fn := p.Scripts[s.Name]
	p.mu.Unlock()

	var result interface{}
	if fn != nil {
		r, err := fn(args)
		if err != nil {
			return err
		}
		result = r
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("fake page: encoding %s result: %w", s.Name, err)
	}
	return json.Unmarshal(raw, out)
}

func (p *Page) Find(ctx context.Context, selector string) (*browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.Elements[selector]
	if !ok {
		return nil, nil
	}
	snapshot := *el
	return &snapshot, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	el, ok := p.Elements[selector]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("click %s: %w", selector, browser.ErrElementNotFound)
	}
	if err := p.ClickErr[selector]; err != nil {
		p.mu.Unlock()
		return err
	}
	p.record("click", selector, "")
	if el.Type == "radio" {
		el.Checked = true
	} else if el.Type == "checkbox" {
		el.Checked = !el.Checked
	}
	hook := p.OnClick
	p.mu.Unlock()
	if hook != nil {
		return hook(p, selector)
	}
	return ctx.Err()
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	el, ok := p.Elements[selector]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("fill %s: %w", selector, browser.ErrElementNotFound)
	}
	if err := p.FillErr[selector]; err != nil {
		p.mu.Unlock()
		return err
	}
	p.record("fill", selector, value)
	el.Value = value
	hook := p.OnFill
	p.mu.Unlock()
	if hook != nil {
		return hook(p, selector, value)
	}
	return ctx.Err()
}

func (p *Page) SelectOption(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.Elements[selector]
	if !ok {
		return fmt.Errorf("select %s: %w", selector, browser.ErrElementNotFound)
	}
	p.record("select", selector, value)
	el.Value = value
	return ctx.Err()
}

func (p *Page) SetInputFiles(ctx context.Context, selector string, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.Elements[selector]
	if !ok {
		return fmt.Errorf("upload %s: %w", selector, browser.ErrElementNotFound)
	}
	for _, path := range paths {
		p.record("upload", selector, path)
	}
	if len(paths) > 0 {
		el.Value = paths[0]
	}
	return ctx.Err()
}

func (p *Page) SetChecked(ctx context.Context, selector string, checked bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.Elements[selector]
	if !ok {
		return fmt.Errorf("check %s: %w", selector, browser.ErrElementNotFound)
	}
	p.record("check", selector, fmt.Sprint(checked))
	el.Checked = checked
	return ctx.Err()
}

func (p *Page) Press(ctx context.Context, selector, key string) error {
	p.mu.Lock()
	if _, ok := p.Elements[selector]; !ok && selector != "" {
		p.mu.Unlock()
		return fmt.Errorf("press %s: %w", selector, browser.ErrElementNotFound)
	}
	p.record("press", selector, key)
	hook := p.OnPress
	p.mu.Unlock()
	if hook != nil {
		return hook(p, selector, key)
	}
	return ctx.Err()
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.Elements[selector]; !ok {
		return fmt.Errorf("wait %s: %w", selector, context.DeadlineExceeded)
	}
	return ctx.Err()
}

func (p *Page) WaitForNetworkIdle(ctx context.Context, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("network_idle", "", "")
	if p.NetworkIdleErr != nil {
		return p.NetworkIdleErr
	}
	return ctx.Err()
}

// Wait does not sleep; it only records the requested duration.
func (p *Page) Wait(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("wait", "", d.String())
	return ctx.Err()
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("png"), ctx.Err()
}

var _ browser.Page = (*Page)(nil)
