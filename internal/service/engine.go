// Package service ties extraction, enrichment and submission to a browser
// for callers that deal in URLs rather than pages.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
	"github.com/xkilldash9x/scalpel-forms/internal/enrich"
	"github.com/xkilldash9x/scalpel-forms/internal/extraction"
)

// ErrUnknownSubmission is returned by Resume and Discard for IDs that are not parked.
var ErrUnknownSubmission = errors.New("no open submission with that id")

// Engine runs extraction and submission against fresh tabs.
type Engine struct {
	cfg    config.Interface
	logger *zap.Logger
	c      *Components

	mu     sync.Mutex
	parked map[string]parkedSubmission
}

// parkedSubmission is a tab held open for a person to solve a CAPTCHA.
type parkedSubmission struct {
	url     string
	tab     Tab
	schema  *schemas.FormSchema
	outcome *schemas.SubmissionOutcome
}

// NewEngine returns an engine over c.
func NewEngine(cfg config.Interface, c *Components, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: logger.Named("engine"),
		c:      c,
		parked: make(map[string]parkedSubmission),
	}
}

func (e *Engine) open(ctx context.Context, pageURL string) (Tab, error) {
	tab, err := e.c.Browser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if err := tab.Navigate(ctx, pageURL); err != nil {
		tab.Close()
		return nil, err
	}
	return tab, nil
}

func (e *Engine) cached(pageURL string) ([]schemas.FormSchema, bool) {
	if e.c.Cache == nil {
		return nil, false
	}
	forms, ok := e.c.Cache.Get(pageURL)
	if ok {
		e.logger.Debug("Schema cache hit.", zap.String("url", pageURL))
	}
	return forms, ok
}

// extractOn runs the pipeline on an already loaded tab and enriches the result.
func (e *Engine) extractOn(ctx context.Context, tab Tab, pageURL string) ([]schemas.FormSchema, error) {
	raw, err := e.c.Pipeline.Extract(ctx, tab)
	if err != nil {
		return nil, err
	}
	forms := enrich.Enrich(raw)
	if e.c.Cache != nil {
		e.c.Cache.Put(pageURL, forms)
	}
	if e.c.Recorder != nil {
		if err := e.c.Recorder.SaveForms(ctx, pageURL, forms); err != nil {
			e.logger.Warn("Failed to record schemas.", zap.String("url", pageURL), zap.Error(err))
		}
	}
	return forms, nil
}

func (e *Engine) recordOutcome(ctx context.Context, pageURL string, formIndex int, out *schemas.SubmissionOutcome) {
	if e.c.Recorder == nil || out == nil {
		return
	}
	if err := e.c.Recorder.SaveOutcome(context.WithoutCancel(ctx), pageURL, formIndex, out); err != nil {
		e.logger.Warn("Failed to record submission.", zap.String("submission_id", out.SubmissionID), zap.Error(err))
	}
}

// Extract returns the enriched forms on pageURL, from cache when fresh.
func (e *Engine) Extract(ctx context.Context, pageURL string) ([]schemas.FormSchema, error) {
	if forms, ok := e.cached(pageURL); ok {
		return forms, nil
	}
	tab, err := e.open(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer tab.Close()
	return e.extractOn(ctx, tab, pageURL)
}

// ExtractHTML extracts and enriches forms from a saved page without a browser.
func (e *Engine) ExtractHTML(html, baseURL string) ([]schemas.FormSchema, error) {
	raw, err := extraction.ExtractHTML(html, baseURL)
	if err != nil {
		return nil, err
	}
	return enrich.Enrich(raw), nil
}

// BatchResult is the extraction result for one URL of a batch.
type BatchResult struct {
	URL   string               `json:"url"`
	Forms []schemas.FormSchema `json:"forms,omitempty"`
	Err   error                `json:"-"`
	Error string               `json:"error,omitempty"`
}

// ExtractAll extracts several pages concurrently, bounded by the browser
// concurrency. A failing URL does not stop the others; its error is carried
// in its result. The returned error is only set when ctx ends.
func (e *Engine) ExtractAll(ctx context.Context, urls []string) ([]BatchResult, error) {
	results := make([]BatchResult, len(urls))
	var g errgroup.Group
	g.SetLimit(max(e.cfg.Browser().Concurrency, 1))
	for i, u := range urls {
		g.Go(func() error {
			forms, err := e.Extract(ctx, u)
			results[i] = BatchResult{URL: u, Forms: forms, Err: err}
			if err != nil {
				results[i].Error = err.Error()
				e.logger.Warn("Extraction failed.", zap.String("url", u), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

// Inspect extracts forms and runs every page-level detector.
func (e *Engine) Inspect(ctx context.Context, pageURL string) (*schemas.PageReport, error) {
	tab, err := e.open(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer tab.Close()

	forms, err := e.extractOn(ctx, tab, pageURL)
	if err != nil {
		return nil, err
	}
	report := &schemas.PageReport{URL: pageURL, Forms: forms, Captcha: schemas.NoCaptcha}
	log := e.logger.With(zap.String("url", pageURL))

	if det, err := e.c.Detector.DetectCaptcha(ctx, tab); err != nil {
		log.Warn("CAPTCHA detection failed.", zap.Error(err))
	} else {
		report.Captcha = det
	}
	if v, err := e.c.Detector.DetectLoginRequired(ctx, tab); err != nil {
		log.Warn("Login detection failed.", zap.Error(err))
	} else {
		report.LoginRequired = v.Detected
	}
	if v, err := e.c.Detector.DetectBotProtection(ctx, tab); err != nil {
		log.Warn("Bot protection detection failed.", zap.Error(err))
	} else {
		report.BotProtection = v.Detected
	}

	if ec := e.cfg.Extraction(); ec.MapDependencies {
		if rules, err := e.c.Detector.MapConditionalFields(ctx, tab, ec.ConditionalTriggers); err != nil {
			log.Warn("Conditional field mapping failed.", zap.Error(err))
		} else {
			report.Dependencies = rules
		}
		if chains, err := e.c.Detector.MapChainedSelects(ctx, tab, ec.ConditionalTriggers); err != nil {
			log.Warn("Chained select mapping failed.", zap.Error(err))
		} else {
			report.ChainedSelects = chains
		}
	}
	return report, ctx.Err()
}

// SubmitRequest describes one submission. When Schema is nil the page is
// extracted and the form with FormIndex is used.
type SubmitRequest struct {
	URL       string
	Schema    *schemas.FormSchema
	FormIndex int
	Values    schemas.Values
}

// Submit fills and submits a form in a new tab. When a CAPTCHA needs a person
// the tab stays open under the outcome's SubmissionID until Resume or Discard.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*schemas.SubmissionOutcome, error) {
	tab, err := e.open(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	schema := req.Schema
	if schema == nil {
		forms, ok := e.cached(req.URL)
		if !ok {
			if forms, err = e.extractOn(ctx, tab, req.URL); err != nil {
				tab.Close()
				return nil, err
			}
		}
		if schema, err = pickForm(forms, req.FormIndex); err != nil {
			tab.Close()
			return nil, err
		}
	}

	out, err := e.c.Submitter.Submit(ctx, tab, schema, req.Values)
	e.recordOutcome(ctx, req.URL, schema.FormIndex, out)
	if out != nil && out.SessionLeftOpen {
		e.mu.Lock()
		e.parked[out.SubmissionID] = parkedSubmission{url: req.URL, tab: tab, schema: schema, outcome: out}
		e.mu.Unlock()
		e.logger.Info("Holding tab open for manual CAPTCHA.", zap.String("submission_id", out.SubmissionID))
		return out, err
	}
	tab.Close()
	return out, err
}

func (e *Engine) unpark(id string) (parkedSubmission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.parked[id]
	if !ok {
		return parkedSubmission{}, fmt.Errorf("%s: %w", id, ErrUnknownSubmission)
	}
	delete(e.parked, id)
	return p, nil
}

// Resume finishes a parked submission after its CAPTCHA was solved by hand.
func (e *Engine) Resume(ctx context.Context, submissionID string) (*schemas.SubmissionOutcome, error) {
	p, err := e.unpark(submissionID)
	if err != nil {
		return nil, err
	}
	defer p.tab.Close()
	out, err := e.c.Submitter.Resume(ctx, p.tab, p.schema, p.outcome)
	e.recordOutcome(ctx, p.url, p.schema.FormIndex, out)
	return out, err
}

// Discard closes a parked submission's tab without submitting.
func (e *Engine) Discard(submissionID string) error {
	p, err := e.unpark(submissionID)
	if err != nil {
		return err
	}
	p.tab.Close()
	return nil
}

// Shutdown closes parked tabs, then the browser.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	parked := e.parked
	e.parked = make(map[string]parkedSubmission)
	e.mu.Unlock()
	for id, p := range parked {
		e.logger.Debug("Closing parked submission.", zap.String("submission_id", id))
		p.tab.Close()
	}
	return e.c.Shutdown(ctx, e.logger)
}

func pickForm(forms []schemas.FormSchema, index int) (*schemas.FormSchema, error) {
	for i := range forms {
		if forms[i].FormIndex == index {
			return &forms[i], nil
		}
	}
	if len(forms) == 0 {
		return nil, errors.New("no forms found on page")
	}
	return nil, fmt.Errorf("no form with index %d (page has %d)", index, len(forms))
}
