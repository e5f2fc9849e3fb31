package submit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
)

type visibleField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Label string `json:"label"`
}

// watcher diffs the set of visible fields across fills of trigger fields.
type watcher struct {
	page     browser.Page
	settle   time.Duration
	logger   *zap.Logger
	known    map[string]bool
	expected schemas.Values
}

func newWatcher(page browser.Page, values schemas.Values, settle time.Duration, logger *zap.Logger) *watcher {
	return &watcher{page: page, settle: settle, logger: logger, known: map[string]bool{}, expected: values}
}

func (w *watcher) snapshot(ctx context.Context) ([]visibleField, error) {
	var fields []visibleField
	if err := w.page.Evaluate(ctx, scripts.VisibleFields, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// prime records the fields visible before anything is filled.
func (w *watcher) prime(ctx context.Context) error {
	fields, err := w.snapshot(ctx)
	if err != nil {
		return err
	}
	for _, f := range fields {
		w.known[f.Name] = true
	}
	return nil
}

// check waits for the page to settle after trigger was filled and reports
// visible fields that were not there before and have no supplied value.
func (w *watcher) check(ctx context.Context, trigger string) []schemas.DynamicFieldEvent {
	if err := w.page.Wait(ctx, w.settle); err != nil {
		return nil
	}
	fields, err := w.snapshot(ctx)
	if err != nil {
		w.logger.Debug("Visible field snapshot failed.", zap.String("trigger", trigger), zap.Error(err))
		return nil
	}
	var events []schemas.DynamicFieldEvent
	for _, f := range fields {
		if w.known[f.Name] {
			continue
		}
		w.known[f.Name] = true
		if _, ok := w.expected[f.Name]; ok {
			continue
		}
		events = append(events, schemas.DynamicFieldEvent{
			Name:         f.Name,
			InferredType: schemas.ParseFieldType(f.Type),
			Label:        f.Label,
			TriggeredBy:  trigger,
		})
	}
	return events
}
