package submit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
)

// fill drives one field from pending to verified or failed. The error is the
// last attempt's failure and is nil once the field verifies.
func (s *Submitter) fill(ctx context.Context, page browser.Page, f *schemas.FieldDescriptor, v schemas.Value, log *zap.Logger) (schemas.FillAttemptResult, error) {
	res := schemas.FillAttemptResult{Field: f.Name, State: schemas.StatePending}
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxFieldAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		res.State = schemas.StateAttempting
		res.Attempts = attempt
		inject := attempt >= injectionAttempt

		err := s.attempt(ctx, page, f, v, inject, log)
		if err == nil {
			res.State = schemas.StateVerified
			res.Filled = true
			res.Verified = true
			res.UsedInjection = inject
			return res, nil
		}
		if errors.Is(err, ErrVerificationMismatch) {
			res.Filled = true
		}
		lastErr = err
		log.Debug("Field attempt failed.",
			zap.String("field", f.Name),
			zap.String("type", string(f.Type)),
			zap.Int("attempt", attempt),
			zap.Bool("injected", inject),
			zap.Error(err),
		)
		if !retryable(err) {
			break
		}
		if attempt < s.cfg.MaxFieldAttempts {
			if werr := page.Wait(ctx, s.backoff(attempt)); werr != nil {
				lastErr = werr
				break
			}
		}
	}
	res.State = schemas.StateFailed
	if lastErr != nil {
		res.Error = lastErr.Error()
	}
	log.Warn("Field could not be filled.", zap.String("field", f.Name), zap.Int("attempts", res.Attempts), zap.Error(lastErr))
	return res, lastErr
}

func (s *Submitter) attempt(ctx context.Context, page browser.Page, f *schemas.FieldDescriptor, v schemas.Value, inject bool, log *zap.Logger) error {
	sel, el, err := resolve(ctx, page, f)
	if inject && errors.Is(err, browser.ErrElementNotFound) && !f.Type.IsGroup() {
		sel, el, err = locate(ctx, page, f)
	}
	// Groups address their choices one by one, so the group itself need not resolve.
	if err != nil && !(f.Type.IsGroup() && errors.Is(err, browser.ErrElementNotFound)) {
		return err
	}
	ff := &fieldFill{page: page, field: f, sel: sel, el: el, inject: inject, log: log}
	return ff.run(ctx, v)
}

// fieldFill is a single attempt at one field.
type fieldFill struct {
	page   browser.Page
	field  *schemas.FieldDescriptor
	sel    string
	el     *browser.Element
	inject bool
	log    *zap.Logger
}

// run is the one dispatch point from field type to interaction.
func (ff *fieldFill) run(ctx context.Context, v schemas.Value) error {
	switch ff.field.Type {
	case schemas.FieldText, schemas.FieldEmail, schemas.FieldTel, schemas.FieldPassword,
		schemas.FieldNumber, schemas.FieldURL, schemas.FieldSearch, schemas.FieldTextarea:
		return ff.text(ctx, v.First())
	case schemas.FieldRichText:
		return ff.richText(ctx, v.First())
	case schemas.FieldAutocomplete:
		return ff.autocomplete(ctx, v.First())
	case schemas.FieldSelect:
		return ff.selectOption(ctx, v.First())
	case schemas.FieldRadio, schemas.FieldScale:
		return ff.radio(ctx, v.First())
	case schemas.FieldCheckbox:
		return ff.checkbox(ctx, boolIntent(v.First()))
	case schemas.FieldCheckboxGroup:
		return ff.checkboxGroup(ctx, splitList(v))
	case schemas.FieldFile:
		return ff.file(ctx, v.Strings())
	case schemas.FieldRange:
		return ff.rangeValue(ctx, v.First())
	case schemas.FieldDate, schemas.FieldTime, schemas.FieldDateTimeLocal, schemas.FieldMonth, schemas.FieldWeek:
		// Typed as given; the caller supplies the field's expected format.
		return ff.text(ctx, v.First())
	case schemas.FieldColor:
		return ff.color(ctx, v.First())
	case schemas.FieldGrid:
		return ff.grid(ctx, v)
	case schemas.FieldSubmit:
		return nil
	}
	return ff.text(ctx, v.First())
}

func (ff *fieldFill) text(ctx context.Context, value string) error {
	if n := ff.field.MaxLength; n > 0 && len([]rune(value)) > n {
		value = string([]rune(value)[:n])
	}
	if err := ff.page.Evaluate(ctx, scripts.DisableAutocomplete, nil, ff.sel); err != nil {
		ff.log.Debug("Could not disable autocomplete.", zap.String("selector", ff.sel), zap.Error(err))
	}
	if ff.inject {
		if err := ff.injectValue(ctx, value); err != nil {
			return err
		}
		return ff.verifyValue(ctx, value)
	}
	if ff.el.Interactable() {
		if err := ff.page.Click(ctx, ff.sel); err != nil {
			return fmt.Errorf("focus %s: %w", ff.sel, err)
		}
	}
	if err := ff.page.Fill(ctx, ff.sel, value); err != nil {
		return err
	}
	return ff.verifyValue(ctx, value)
}

func (ff *fieldFill) richText(ctx context.Context, value string) error {
	if ff.el.Interactable() {
		if err := ff.page.Click(ctx, ff.sel); err != nil {
			ff.log.Debug("Could not focus editor.", zap.String("selector", ff.sel), zap.Error(err))
		}
	}
	if err := ff.injectValue(ctx, value); err != nil {
		return err
	}
	return ff.verifyValue(ctx, value)
}

type picked struct {
	Selected string `json:"selected"`
}

func (ff *fieldFill) autocomplete(ctx context.Context, value string) error {
	if ff.inject {
		if err := ff.injectValue(ctx, value); err != nil {
			return err
		}
		return ff.verifyValue(ctx, value)
	}
	if ff.el.Interactable() {
		if err := ff.page.Click(ctx, ff.sel); err != nil {
			return fmt.Errorf("focus %s: %w", ff.sel, err)
		}
	}
	if err := ff.page.Fill(ctx, ff.sel, value); err != nil {
		return err
	}
	var p *picked
	if err := ff.page.Evaluate(ctx, scripts.AutocompletePick, &p, ff.sel, value); err != nil {
		return fmt.Errorf("pick suggestion: %w", err)
	}
	if p == nil {
		// No suggestion list appeared; the typed text stands.
		return ff.verifyValue(ctx, value)
	}
	return ff.verifyValue(ctx, value, p.Selected)
}

type nativeOption struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Index    int    `json:"index"`
	Disabled bool   `json:"disabled"`
}

func (ff *fieldFill) selectOption(ctx context.Context, value string) error {
	if ff.el != nil && ff.el.Tag == "select" {
		var native []nativeOption
		if err := ff.page.Evaluate(ctx, scripts.SelectOptions, &native, ff.sel); err != nil {
			return err
		}
		opts := make([]schemas.Option, 0, len(native))
		for _, o := range native {
			if !o.Disabled {
				opts = append(opts, schemas.Option{Value: o.Value, Label: o.Label})
			}
		}
		opt, ok := bestOption(opts, value)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNoOptionMatch, value)
		}
		if ff.inject {
			if err := ff.injectValue(ctx, opt.Value); err != nil {
				return err
			}
		} else if err := ff.page.SelectOption(ctx, ff.sel, opt.Value); err != nil {
			return err
		}
		return ff.verifyValue(ctx, opt.Value, opt.Label)
	}

	// Custom dropdown: open it, click the best option, close it.
	want := value
	if opt, ok := bestOption(ff.field.Options, value); ok && opt.Label != "" {
		want = opt.Label
	}
	var p *picked
	if err := ff.page.Evaluate(ctx, scripts.CustomDropdown, &p, ff.sel, want); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %q", ErrNoOptionMatch, value)
	}
	return ff.verifyValue(ctx, p.Selected, value)
}

func (ff *fieldFill) radio(ctx context.Context, value string) error {
	opt, ok := bestOption(ff.field.Options, value)
	if !ok {
		if len(ff.field.Options) > 0 {
			return fmt.Errorf("%w: %q", ErrNoOptionMatch, value)
		}
		opt = schemas.Option{Value: value}
	}
	sel, el, err := optionSelector(ctx, ff.page, ff.field, opt)
	if err != nil {
		return err
	}
	if !el.Checked {
		if err := ff.check(ctx, sel, el, true); err != nil {
			return err
		}
	}
	return ff.verifyRadio(ctx, sel, opt)
}

func (ff *fieldFill) verifyRadio(ctx context.Context, sel string, opt schemas.Option) error {
	el, err := ff.page.Find(ctx, sel)
	if err != nil {
		return err
	}
	if el != nil && el.Checked {
		return nil
	}
	var got *string
	if err := ff.page.Evaluate(ctx, scripts.RadioState, &got, ff.field.Name, ff.sel); err != nil {
		return err
	}
	if got != nil && (valueMatches(*got, opt.Value) || valueMatches(*got, opt.Label)) {
		return nil
	}
	return fmt.Errorf("%w: option %q not selected", ErrVerificationMismatch, opt.Value)
}

// check sets a checkbox or radio. Native clicks are preferred; the script
// setter is used on injection attempts and for elements a user cannot reach.
func (ff *fieldFill) check(ctx context.Context, sel string, el *browser.Element, want bool) error {
	if ff.inject || !el.Interactable() {
		return ff.page.SetChecked(ctx, sel, want)
	}
	return ff.page.Click(ctx, sel)
}

func (ff *fieldFill) verifyChecked(ctx context.Context, sel string, want bool) error {
	el, err := ff.page.Find(ctx, sel)
	if err != nil {
		return err
	}
	if el == nil {
		return fmt.Errorf("verify %s: %w", sel, browser.ErrElementNotFound)
	}
	if el.Checked != want {
		return fmt.Errorf("%w: %s checked=%t, want %t", ErrVerificationMismatch, sel, el.Checked, want)
	}
	return nil
}

func (ff *fieldFill) checkbox(ctx context.Context, want bool) error {
	if ff.el.Checked != want {
		if err := ff.check(ctx, ff.sel, ff.el, want); err != nil {
			return err
		}
	}
	return ff.verifyChecked(ctx, ff.sel, want)
}

func (ff *fieldFill) checkboxGroup(ctx context.Context, items []string) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: empty selection", ErrUnsupportedValue)
	}
	for _, item := range items {
		opt, ok := bestOption(ff.field.Options, item)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNoOptionMatch, item)
		}
		sel, el, err := optionSelector(ctx, ff.page, ff.field, opt)
		if err != nil {
			return err
		}
		if !el.Checked {
			if err := ff.check(ctx, sel, el, true); err != nil {
				return err
			}
		}
		if err := ff.verifyChecked(ctx, sel, true); err != nil {
			return err
		}
	}
	return nil
}

func (ff *fieldFill) file(ctx context.Context, paths []string) error {
	var files []string
	for _, p := range paths {
		expanded, err := homedir.Expand(strings.TrimSpace(p))
		if err != nil {
			ff.log.Debug("Skipping unexpandable path.", zap.String("path", p), zap.Error(err))
			continue
		}
		info, err := os.Stat(expanded)
		if err != nil || info.IsDir() {
			ff.log.Debug("Skipping missing file.", zap.String("path", expanded))
			continue
		}
		files = append(files, expanded)
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: no readable files in %v", ErrUnsupportedValue, paths)
	}
	if !ff.field.Multiple {
		files = files[:1]
	}
	if err := ff.page.SetInputFiles(ctx, ff.sel, files); err != nil {
		return err
	}
	el, err := ff.page.Find(ctx, ff.sel)
	if err != nil {
		return err
	}
	if el == nil || el.Value == "" {
		return fmt.Errorf("%w: no file attached", ErrVerificationMismatch)
	}
	return nil
}

func (ff *fieldFill) rangeValue(ctx context.Context, value string) error {
	want, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", ErrUnsupportedValue, value)
	}
	want = clamp(want, ff.field.Min, ff.field.Max)

	var got *float64
	if err := ff.page.Evaluate(ctx, scripts.SetRange, &got, ff.sel, want); err != nil {
		return err
	}
	if got == nil {
		return fmt.Errorf("set range %s: %w", ff.sel, browser.ErrElementNotFound)
	}
	tolerance := 1e-6
	if ff.field.Step != nil && *ff.field.Step > 0 {
		tolerance = *ff.field.Step
	}
	if math.Abs(*got-want) > tolerance {
		return fmt.Errorf("%w: range at %s, want %s", ErrVerificationMismatch, formatNumber(*got), formatNumber(want))
	}
	return nil
}

func (ff *fieldFill) color(ctx context.Context, value string) error {
	value = strings.ToLower(strings.TrimSpace(value))
	if value != "" && !strings.HasPrefix(value, "#") {
		value = "#" + value
	}
	if ff.inject {
		if err := ff.injectValue(ctx, value); err != nil {
			return err
		}
	} else if err := ff.page.Fill(ctx, ff.sel, value); err != nil {
		return err
	}
	return ff.verifyValue(ctx, value)
}

func (ff *fieldFill) grid(ctx context.Context, v schemas.Value) error {
	answers := map[string]string{}
	items := v.Strings()
	if v.Kind == schemas.ValueText {
		items = strings.Split(v.Text, ";")
	}
	for _, item := range items {
		row, col, ok := strings.Cut(item, "=")
		if ok && strings.TrimSpace(row) != "" {
			answers[strings.TrimSpace(row)] = strings.TrimSpace(col)
		}
	}
	if len(answers) == 0 {
		return fmt.Errorf("%w: grid needs row=column pairs", ErrUnsupportedValue)
	}
	rows := make([]string, 0, len(answers))
	for r := range answers {
		rows = append(rows, r)
	}
	sort.Strings(rows)
	for _, row := range rows {
		var ok bool
		if err := ff.page.Evaluate(ctx, scripts.GridSelect, &ok, ff.sel, row, answers[row]); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("grid row %q: %w: %q", row, ErrNoOptionMatch, answers[row])
		}
	}
	return nil
}

func (ff *fieldFill) injectValue(ctx context.Context, value string) error {
	var ok bool
	if err := ff.page.Evaluate(ctx, scripts.InjectValue, &ok, ff.sel, value); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("inject %s: %w", ff.sel, browser.ErrElementNotFound)
	}
	return nil
}

// verifyValue reads the element back and accepts it when it matches any of
// the expected strings.
func (ff *fieldFill) verifyValue(ctx context.Context, expected ...string) error {
	var got *string
	if err := ff.page.Evaluate(ctx, scripts.ReadValue, &got, ff.sel); err != nil {
		return err
	}
	actual := ""
	if got != nil {
		actual = *got
	}
	for _, e := range expected {
		if e != "" && valueMatches(actual, e) {
			return nil
		}
	}
	return fmt.Errorf("%w: read %q, want %q", ErrVerificationMismatch, actual, expected[0])
}
