package extraction

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
)

type wizardState struct {
	Present bool     `json:"present"`
	Current int      `json:"current"`
	Total   int      `json:"total"`
	Next    string   `json:"next"`
	Prev    string   `json:"prev"`
	Tabs    []string `json:"tabs"`
}

// navigable reports whether there is any way to move between steps.
func (w wizardState) navigable() bool {
	return w.Present && (w.Next != "" || len(w.Tabs) > 1)
}

type wizardWalker struct {
	logger   *zap.Logger
	maxSteps int
	settle   time.Duration
}

func (w *wizardWalker) probe(ctx context.Context, page browser.Page) (wizardState, error) {
	var st wizardState
	err := page.Evaluate(ctx, scripts.WizardProbe, &st)
	return st, err
}

// visibleFields scans whatever the current step shows.
func (w *wizardWalker) visibleFields(ctx context.Context, page browser.Page) ([]schemas.FieldDescriptor, error) {
	opts := map[string]interface{}{"visibleOnly": true}
	var raw []rawForm
	if err := page.Evaluate(ctx, scripts.ScanForms, &raw, opts); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		if err := page.Evaluate(ctx, scripts.ScanFormless, &raw, opts); err != nil {
			return nil, err
		}
	}
	var out []schemas.FieldDescriptor
	for _, f := range raw {
		for _, rf := range f.Fields {
			d := rf.descriptor(strategyWizard)
			out = append(out, d)
		}
	}
	return normalize(out), nil
}

// walk visits every reachable step and returns the union of their fields. The
// page is put back on the step it started on before walk returns, whatever
// happened in between.
func (w *wizardWalker) walk(ctx context.Context, page browser.Page, initial wizardState) (fields []schemas.FieldDescriptor, err error) {
	advanced := 0
	usedTabs := initial.Next == "" && len(initial.Tabs) > 1
	defer func() {
		if rerr := w.restore(ctx, page, initial, advanced, usedTabs); rerr != nil {
			w.logger.Warn("Could not restore the initial wizard step.", zap.Error(rerr))
		}
	}()

	first, err := w.visibleFields(ctx, page)
	if err != nil {
		return nil, err
	}
	fields = first

	if usedTabs {
		for i, tab := range initial.Tabs {
			if i == initial.Current || i >= w.maxSteps {
				continue
			}
			if err := page.Click(ctx, tab); err != nil {
				w.logger.Debug("Wizard tab click failed.", zap.String("tab", tab), zap.Error(err))
				continue
			}
			advanced++
			if err := page.Wait(ctx, w.settle); err != nil {
				return fields, err
			}
			step, err := w.visibleFields(ctx, page)
			if err != nil {
				return fields, err
			}
			fields = unionFields(fields, step)
		}
		return fields, nil
	}

	state := initial
	for advanced < w.maxSteps-1 && state.Next != "" {
		if err := page.Click(ctx, state.Next); err != nil {
			// Next is often disabled until the step validates; stop quietly.
			w.logger.Debug("Wizard next click failed.", zap.Error(err))
			break
		}
		advanced++
		if err := page.Wait(ctx, w.settle); err != nil {
			return fields, err
		}
		next, err := w.probe(ctx, page)
		if err != nil {
			return fields, err
		}
		step, err := w.visibleFields(ctx, page)
		if err != nil {
			return fields, err
		}
		before := len(fields)
		fields = unionFields(fields, step)
		if next.Current == state.Current && len(fields) == before {
			break
		}
		state = next
		if state.Total > 0 && state.Current >= state.Total-1 {
			break
		}
	}
	return fields, nil
}

func (w *wizardWalker) restore(ctx context.Context, page browser.Page, initial wizardState, advanced int, usedTabs bool) error {
	if advanced == 0 {
		return nil
	}
	// Restoring must still happen when the caller's context is done.
	ctx = context.WithoutCancel(ctx)
	if usedTabs {
		if initial.Current < len(initial.Tabs) {
			return page.Click(ctx, initial.Tabs[initial.Current])
		}
		return nil
	}
	var errs []error
	for i := 0; i < advanced; i++ {
		st, err := w.probe(ctx, page)
		if err != nil {
			return err
		}
		if st.Current <= initial.Current || st.Prev == "" {
			break
		}
		if err := page.Click(ctx, st.Prev); err != nil {
			errs = append(errs, err)
			break
		}
		if err := page.Wait(ctx, w.settle); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return errors.Join(errs...)
}
