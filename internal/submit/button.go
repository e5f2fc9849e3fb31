package submit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
)

var genericSubmitSelectors = []string{
	`button[type="submit"]`,
	`input[type="submit"]`,
	`input[type="image"]`,
	`button:not([type])`,
}

type submitCandidate struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Reason   string `json:"reason"`
	Visible  bool   `json:"visible"`
	Enabled  bool   `json:"enabled"`
}

// submit clicks the first usable submit control, falling back to Enter in the
// form's last text input. The whole search is retried with a growing backoff.
func (s *Submitter) submit(ctx context.Context, page browser.Page, schema *schemas.FormSchema, log *zap.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.SubmitAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		how, err := s.trySubmit(ctx, page, schema, log)
		if err == nil {
			log.Info("Form submitted.", zap.String("via", how), zap.Int("attempt", attempt))
			s.awaitSettle(ctx, page, log)
			return nil
		}
		lastErr = err
		log.Debug("Submit attempt failed.", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.cfg.SubmitAttempts {
			if werr := page.Wait(ctx, s.cfg.SubmitBackoff*time.Duration(attempt)); werr != nil {
				return werr
			}
		}
	}
	return lastErr
}

func (s *Submitter) trySubmit(ctx context.Context, page browser.Page, schema *schemas.FormSchema, log *zap.Logger) (string, error) {
	for _, sel := range s.submitSelectors(ctx, page, schema, log) {
		el, err := page.Find(ctx, sel)
		if err != nil || !el.Interactable() {
			continue
		}
		if err := page.Click(ctx, sel); err != nil {
			log.Debug("Submit click failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		return sel, nil
	}

	var target *string
	if err := page.Evaluate(ctx, scripts.FormEnterTarget, &target, formScope(schema)); err != nil {
		return "", err
	}
	if target == nil || *target == "" {
		return "", ErrSubmitNotFound
	}
	if err := page.Press(ctx, *target, "Enter"); err != nil {
		return "", fmt.Errorf("press enter in %s: %w", *target, err)
	}
	return "enter:" + *target, nil
}

// submitSelectors lists candidates in preference order: submit controls the
// schema declares, generic submit selectors inside the form, then buttons
// whose text reads like a submit action.
func (s *Submitter) submitSelectors(ctx context.Context, page browser.Page, schema *schemas.FormSchema, log *zap.Logger) []string {
	var out []string
	seen := map[string]bool{}
	add := func(sel string) {
		if sel != "" && !seen[sel] {
			seen[sel] = true
			out = append(out, sel)
		}
	}

	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.Type != schemas.FieldSubmit {
			continue
		}
		if sel, _, err := resolve(ctx, page, f); err == nil {
			add(sel)
		}
	}

	scope := formScope(schema)
	if scope == "" {
		scope = "form"
	}
	for _, sel := range genericSubmitSelectors {
		add(scope + " " + sel)
	}

	var found []submitCandidate
	if err := page.Evaluate(ctx, scripts.SubmitCandidates, &found, formScope(schema)); err != nil {
		log.Debug("Submit text heuristics failed.", zap.Error(err))
	}
	for _, c := range found {
		if c.Visible && c.Enabled {
			add(c.Selector)
		}
	}
	return out
}

// awaitSettle waits for the network to go quiet, or a fixed delay when it does not.
func (s *Submitter) awaitSettle(ctx context.Context, page browser.Page, log *zap.Logger) {
	if err := page.WaitForNetworkIdle(ctx, s.cfg.OutcomeWait); err != nil {
		log.Debug("Network did not settle after submit.", zap.Error(err))
		if werr := page.Wait(ctx, s.cfg.SettleWait); werr != nil {
			log.Debug("Settle wait interrupted.", zap.Error(werr))
		}
	}
}
