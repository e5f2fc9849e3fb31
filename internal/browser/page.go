// Package browser defines the automation surface the form engine drives. The
// engine never talks to a browser directly; it talks to a Page.
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
)

// ErrElementNotFound is returned when no element matches a selector.
var ErrElementNotFound = errors.New("element not found")

// Element is a point-in-time snapshot of a DOM element.
type Element struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	ID       string `json:"id"`
	Value    string `json:"value"`
	Visible  bool   `json:"visible"`
	Enabled  bool   `json:"enabled"`
	Checked  bool   `json:"checked"`
}

// Interactable reports whether a user could click or type into the element.
func (e *Element) Interactable() bool {
	return e != nil && e.Visible && e.Enabled
}

// Page is one browser tab.
//
// Find is the only lookup primitive: it returns (nil, nil) when nothing matches
// so callers can branch on absence without inspecting errors.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)

	// Evaluate runs script with args and decodes its JSON result into out.
	// out may be nil when the result is not needed.
	Evaluate(ctx context.Context, script scripts.Script, out interface{}, args ...interface{}) error
	Find(ctx context.Context, selector string) (*Element, error)

	Click(ctx context.Context, selector string) error
	// Fill clears the element and types value into it.
	Fill(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, value string) error
	SetInputFiles(ctx context.Context, selector string, paths []string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	Press(ctx context.Context, selector, key string) error

	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error
	// Wait pauses for d unless ctx ends first.
	Wait(ctx context.Context, d time.Duration) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// Sleep waits for d or until ctx is done. Pages use it to implement Wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
