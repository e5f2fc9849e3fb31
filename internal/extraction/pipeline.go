// Package extraction finds the forms on a page and describes them as schemas.
//
// Strategies run in a fixed priority order and the first one that produces a
// non-empty schema wins. Two exceptions: pages on a known form provider go
// straight to the provider extractor, and multi-step wizards are always walked
// so that fields from later steps are merged into the winning schema.
package extraction

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

// DependencyMapper discovers fields whose visibility depends on another field's value.
type DependencyMapper interface {
	MapConditionalFields(ctx context.Context, page browser.Page, limit int) ([]schemas.ConditionalRule, error)
}

// Pipeline runs the extraction strategy chain.
type Pipeline struct {
	logger     *zap.Logger
	cfg        config.ExtractionConfig
	provider   Strategy
	strategies []Strategy
	wizard     *wizardWalker
	deps       DependencyMapper
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithDependencyMapper enables dependentFields annotation when the
// configuration asks for it.
func WithDependencyMapper(m DependencyMapper) Option {
	return func(p *Pipeline) { p.deps = m }
}

// WithStrategies replaces the live strategy chain. The static fallback is
// always appended.
func WithStrategies(s ...Strategy) Option {
	return func(p *Pipeline) { p.strategies = s }
}

// NewPipeline builds the default chain: standard, shadow, formless, static.
func NewPipeline(cfg config.ExtractionConfig, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:     logger.Named("extraction"),
		cfg:        cfg,
		provider:   providerStrategy(),
		strategies: []Strategy{standardStrategy(), shadowStrategy(), formlessStrategy()},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.strategies = append(p.strategies, staticStrategy{})
	p.wizard = &wizardWalker{
		logger:   p.logger.Named("wizard"),
		maxSteps: max(cfg.WizardMaxSteps, 1),
		settle:   cfg.SettleWait,
	}
	return p
}

// Extract returns the forms on the page in document order.
func (p *Pipeline) Extract(ctx context.Context, page browser.Page) ([]schemas.FormSchema, error) {
	u, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page url: %w", err)
	}
	log := p.logger.With(zap.String("url", u))

	if matchesProvider(u, p.cfg.ProviderDomains) {
		forms, err := p.provider.Extract(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("provider extraction: %w", err)
		}
		forms = nonEmpty(forms)
		log.Info("Extracted provider form.", zap.Int("forms", len(forms)))
		return p.annotate(ctx, page, forms), nil
	}

	forms, winner, err := p.runChain(ctx, page, log)
	if err != nil {
		return nil, err
	}

	if p.cfg.SpecialFields {
		forms = p.mergeSpecial(ctx, page, forms, u, log)
	}

	wiz, err := p.wizard.probe(ctx, page)
	if err != nil {
		log.Debug("Wizard probe failed.", zap.Error(err))
	} else if wiz.navigable() {
		forms = p.mergeWizard(ctx, page, forms, wiz, u, log)
	}

	log.Info("Extraction complete.", zap.String("strategy", winner), zap.Int("forms", len(forms)))
	return p.annotate(ctx, page, forms), nil
}

// runChain returns the output of the first strategy that finds anything.
func (p *Pipeline) runChain(ctx context.Context, page browser.Page, log *zap.Logger) ([]schemas.FormSchema, string, error) {
	var errs []error
	for _, s := range p.strategies {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		forms, err := s.Extract(ctx, page)
		if err != nil {
			log.Debug("Strategy failed.", zap.String("strategy", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		if forms = nonEmpty(forms); len(forms) > 0 {
			return forms, s.Name(), nil
		}
	}
	if len(errs) == len(p.strategies) {
		return nil, "", fmt.Errorf("every extraction strategy failed: %w", errors.Join(errs...))
	}
	return nil, "", nil
}

func (p *Pipeline) mergeSpecial(ctx context.Context, page browser.Page, forms []schemas.FormSchema, u string, log *zap.Logger) []schemas.FormSchema {
	extra, err := specialFields(ctx, page, forms)
	if err != nil {
		log.Debug("Special field scan failed.", zap.Error(err))
		return forms
	}
	if len(extra) == 0 {
		return forms
	}
	if len(forms) == 0 {
		forms = []schemas.FormSchema{{Method: "post", URL: u, Strategy: strategySpecial}}
	}
	forms[0].Fields = normalize(unionFields(forms[0].Fields, extra))
	log.Debug("Merged special fields.", zap.Int("count", len(extra)))
	return forms
}

func (p *Pipeline) mergeWizard(ctx context.Context, page browser.Page, forms []schemas.FormSchema, wiz wizardState, u string, log *zap.Logger) []schemas.FormSchema {
	fields, err := p.wizard.walk(ctx, page, wiz)
	if err != nil {
		log.Warn("Wizard walk ended early.", zap.Error(err))
	}
	if len(fields) == 0 {
		return forms
	}
	if len(forms) == 0 {
		forms = []schemas.FormSchema{{Method: "post", URL: u, Strategy: strategyWizard}}
	}
	forms[0].Fields = unionFields(forms[0].Fields, fields)
	step := wiz.Current + 1
	forms[0].WizardStep = &step
	if wiz.Total > 0 {
		total := wiz.Total
		forms[0].WizardTotalSteps = &total
	}
	log.Debug("Merged wizard fields.", zap.Int("fields", len(fields)), zap.Int("step", step))
	return forms
}

// annotate fills dependentFields from the conditional-field map.
func (p *Pipeline) annotate(ctx context.Context, page browser.Page, forms []schemas.FormSchema) []schemas.FormSchema {
	if !p.cfg.MapDependencies || p.deps == nil || len(forms) == 0 {
		return forms
	}
	rules, err := p.deps.MapConditionalFields(ctx, page, p.cfg.ConditionalTriggers)
	if err != nil {
		p.logger.Warn("Dependency mapping failed.", zap.Error(err))
		return forms
	}
	ApplyDependencies(forms, rules)
	return forms
}

// ApplyDependencies records each rule's dependent on its trigger field.
func ApplyDependencies(forms []schemas.FormSchema, rules []schemas.ConditionalRule) {
	for _, r := range rules {
		for i := range forms {
			f, ok := forms[i].Field(r.Trigger)
			if !ok {
				continue
			}
			if !contains(f.DependentFields, r.Dependent) {
				f.DependentFields = append(f.DependentFields, r.Dependent)
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
