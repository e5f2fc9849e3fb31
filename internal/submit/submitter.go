// Package submit fills an extracted form with caller supplied values and
// submits it. Each field runs through its own small state machine
// (pending, attempting, verified or failed) and nothing a single field does
// stops the fields after it. Submission is withheld when filling reveals new
// fields or a CAPTCHA needs a person.
package submit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/captcha"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
	"github.com/xkilldash9x/scalpel-forms/internal/enrich"
)

// The last attempt of a field switches from simulated input to writing the
// value through the element's native setter.
const injectionAttempt = 3

// CaptchaDetector finds a CAPTCHA on the page.
type CaptchaDetector interface {
	DetectCaptcha(ctx context.Context, page browser.Page) (schemas.CaptchaDetection, error)
}

// CaptchaSolver gets past a detected CAPTCHA or returns captcha.ErrManualRequired.
type CaptchaSolver interface {
	Solve(ctx context.Context, page browser.Page, det schemas.CaptchaDetection) (captcha.Result, error)
}

// Submitter fills and submits forms. It holds no per-submission state and is
// safe to share across goroutines driving different pages.
type Submitter struct {
	cfg       config.SubmissionConfig
	logger    *zap.Logger
	detector  CaptchaDetector
	solver    CaptchaSolver
	consent   []string
	marketing []string
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithCaptcha enables the CAPTCHA gate before submission.
func WithCaptcha(d CaptchaDetector, s CaptchaSolver) Option {
	return func(sub *Submitter) {
		sub.detector = d
		sub.solver = s
	}
}

// New builds a Submitter, filling in defaults for unset limits.
func New(cfg config.SubmissionConfig, logger *zap.Logger, opts ...Option) *Submitter {
	if cfg.MaxFieldAttempts <= 0 {
		cfg.MaxFieldAttempts = injectionAttempt
	}
	if cfg.SubmitAttempts <= 0 {
		cfg.SubmitAttempts = 3
	}
	s := &Submitter{
		cfg:       cfg,
		logger:    logger.Named("submitter"),
		consent:   lowerAll(cfg.ConsentKeywords),
		marketing: lowerAll(cfg.MarketingKeywords),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// planned is one field queued for filling.
type planned struct {
	field    *schemas.FieldDescriptor
	value    schemas.Value
	supplied bool
}

// Submit fills schema's fields from values, then submits the form unless the
// dynamic-field watcher or the CAPTCHA gate halts it.
//
// The outcome is always returned when schema is non-nil. The error is
// ErrDynamicFieldHalt, captcha.ErrManualRequired, ErrSubmitNotFound or a
// context error when the run stopped short of a classified submission.
func (s *Submitter) Submit(ctx context.Context, page browser.Page, schema *schemas.FormSchema, values schemas.Values) (*schemas.SubmissionOutcome, error) {
	if schema == nil {
		return nil, errors.New("submit: nil schema")
	}
	out := &schemas.SubmissionOutcome{
		SubmissionID:          uuid.NewString(),
		FilledFields:          []string{},
		Errors:                []schemas.FieldError{},
		DynamicFieldsDetected: []schemas.DynamicFieldEvent{},
	}
	log := s.logger.With(zap.String("submission_id", out.SubmissionID), zap.Int("form_index", schema.FormIndex))

	startURL, err := page.URL(ctx)
	if err != nil {
		log.Debug("Could not read starting URL.", zap.Error(err))
	}

	plan, supplied := s.plan(schema, values)
	log.Info("Filling form.", zap.Int("fields", len(plan)), zap.Int("supplied", supplied))

	var watch *watcher
	if s.cfg.HaltOnDynamic {
		watch = newWatcher(page, values, s.cfg.SettleWait, log)
		if err := watch.prime(ctx); err != nil {
			log.Warn("Dynamic field watcher disabled.", zap.Error(err))
			watch = nil
		}
	}

	filledSupplied := 0
	for _, p := range plan {
		if err := ctx.Err(); err != nil {
			out.Status = schemas.StatusSubmitFailed
			out.Errors = append(out.Errors, schemas.FieldError{Code: schemas.CodeCanceled, Message: err.Error()})
			out.FillRate = fillRate(filledSupplied, supplied)
			return out, err
		}

		res, ferr := s.fill(ctx, page, p.field, p.value, log)
		out.FieldResults = append(out.FieldResults, res)
		if res.State == schemas.StateVerified {
			out.FilledFields = append(out.FilledFields, p.field.Name)
			if p.supplied {
				filledSupplied++
			}
		} else {
			out.Errors = append(out.Errors, schemas.FieldError{Field: p.field.Name, Code: codeFor(ferr), Message: res.Error})
		}

		if watch == nil || !res.Filled || !p.field.Type.IsTrigger() {
			continue
		}
		if events := watch.check(ctx, p.field.Name); len(events) > 0 {
			names := make([]string, len(events))
			for i, ev := range events {
				names[i] = ev.Name
			}
			log.Warn("Filling revealed new fields.", zap.String("trigger", p.field.Name), zap.Strings("fields", names))
			out.DynamicFieldsDetected = append(out.DynamicFieldsDetected, events...)
			out.Errors = append(out.Errors, schemas.FieldError{
				Field:   p.field.Name,
				Code:    schemas.CodeDynamicFieldHalt,
				Message: fmt.Sprintf("new fields appeared: %s", strings.Join(names, ", ")),
			})
		}
	}
	out.FillRate = fillRate(filledSupplied, supplied)

	if n := len(out.DynamicFieldsDetected); n > 0 {
		log.Warn("Halting before submit, new fields need values.", zap.Int("dynamic_fields", n))
		out.Status = schemas.StatusPartialSuccess
		return out, ErrDynamicFieldHalt
	}

	if s.cfg.AutoConsent {
		out.AutoChecked = s.acceptConsent(ctx, page, schema, values, log)
	}

	if err := s.captchaGate(ctx, page, out, log); err != nil {
		return out, err
	}

	return out, s.finish(ctx, page, schema, out, startURL, log)
}

// Resume completes a submission that stopped at captcha_required once a
// person has solved the CAPTCHA in the still open page. Fields are not filled
// again.
func (s *Submitter) Resume(ctx context.Context, page browser.Page, schema *schemas.FormSchema, out *schemas.SubmissionOutcome) (*schemas.SubmissionOutcome, error) {
	if schema == nil || out == nil {
		return out, errors.New("resume: nil schema or outcome")
	}
	if out.Status != schemas.StatusCaptchaRequired {
		return out, fmt.Errorf("resume: submission %s is %s, not %s", out.SubmissionID, out.Status, schemas.StatusCaptchaRequired)
	}
	log := s.logger.With(zap.String("submission_id", out.SubmissionID), zap.Int("form_index", schema.FormIndex))
	startURL, err := page.URL(ctx)
	if err != nil {
		log.Debug("Could not read starting URL.", zap.Error(err))
	}

	kept := out.Errors[:0]
	for _, e := range out.Errors {
		if e.Code != schemas.CodeCaptchaManualRequired {
			kept = append(kept, e)
		}
	}
	out.Errors = kept
	out.SessionLeftOpen = false
	log.Info("Resuming submission after manual CAPTCHA.")
	return out, s.finish(ctx, page, schema, out, startURL, log)
}

// finish submits the filled form and classifies the resulting page.
func (s *Submitter) finish(ctx context.Context, page browser.Page, schema *schemas.FormSchema, out *schemas.SubmissionOutcome, startURL string, log *zap.Logger) error {
	if err := s.submit(ctx, page, schema, log); err != nil {
		out.Status = schemas.StatusSubmitFailed
		out.Errors = append(out.Errors, schemas.FieldError{Code: codeFor(err), Message: err.Error()})
		return err
	}

	v := s.classify(ctx, page, startURL, log)
	out.Validation = &v
	out.SubmitSuccess = !v.LikelyError
	switch {
	case !out.SubmitSuccess:
		out.Status = schemas.StatusSubmitFailed
	case len(out.Errors) > 0:
		out.Status = schemas.StatusPartialSuccess
	default:
		out.Status = schemas.StatusComplete
	}
	log.Info("Submission finished.",
		zap.String("status", string(out.Status)),
		zap.Float64("fill_rate", out.FillRate),
		zap.Bool("likely_success", v.LikelySuccess),
	)
	return nil
}

// plan orders the fields to fill and applies password confirmation sync.
// supplied counts the non-empty values that name a fillable field.
func (s *Submitter) plan(schema *schemas.FormSchema, values schemas.Values) ([]planned, int) {
	primary := ""
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.Type != schemas.FieldPassword || enrich.Purpose(*f) == enrich.PurposePasswordConfirm {
			continue
		}
		if v, ok := values[f.Name]; ok && !v.IsZero() {
			primary = v.First()
			break
		}
	}

	var plan []planned
	supplied := 0
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.Type == schemas.FieldSubmit {
			continue
		}
		v, ok := values[f.Name]
		ok = ok && !v.IsZero()
		if ok {
			supplied++
		}
		if primary != "" && f.Type == schemas.FieldPassword && enrich.Purpose(*f) == enrich.PurposePasswordConfirm {
			v = schemas.Text(primary)
		} else if !ok {
			continue
		}
		plan = append(plan, planned{field: f, value: v, supplied: ok})
	}
	return plan, supplied
}

func (s *Submitter) captchaGate(ctx context.Context, page browser.Page, out *schemas.SubmissionOutcome, log *zap.Logger) error {
	if s.detector == nil {
		return nil
	}
	det, err := s.detector.DetectCaptcha(ctx, page)
	if err != nil {
		log.Warn("CAPTCHA check failed, submitting anyway.", zap.Error(err))
		return nil
	}
	if !det.Present {
		return nil
	}
	out.Captcha = &det

	err = fmt.Errorf("no solver configured: %w", captcha.ErrManualRequired)
	if s.solver != nil {
		_, err = s.solver.Solve(ctx, page, det)
	}
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		out.Status = schemas.StatusSubmitFailed
		out.Errors = append(out.Errors, schemas.FieldError{Code: schemas.CodeCanceled, Message: ctx.Err().Error()})
		return ctx.Err()
	}
	if !errors.Is(err, captcha.ErrManualRequired) {
		err = fmt.Errorf("%w: %v", captcha.ErrManualRequired, err)
	}
	out.Status = schemas.StatusCaptchaRequired
	out.SessionLeftOpen = true
	out.Errors = append(out.Errors, schemas.FieldError{Code: schemas.CodeCaptchaManualRequired, Message: err.Error()})
	return err
}

func fillRate(filled, supplied int) float64 {
	if supplied == 0 {
		return 0
	}
	return float64(filled) / float64(supplied)
}

func (s *Submitter) backoff(attempt int) time.Duration {
	return s.cfg.RetryBackoff * time.Duration(attempt)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// formScope narrows page scripts to the schema's form when it can be addressed.
func formScope(schema *schemas.FormSchema) string {
	switch {
	case schema.ID != "":
		return attrSelector("form", "id", schema.ID)
	case schema.Name != "":
		return attrSelector("form", "name", schema.Name)
	}
	return ""
}
