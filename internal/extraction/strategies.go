package extraction

import (
	"context"
	"strings"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
)

// Strategy names recorded on schemas and fields.
const (
	strategyStandard = "standard"
	strategyProvider = "provider"
	strategyWizard   = "wizard"
	strategyShadow   = "shadow"
	strategyFormless = "formless"
	strategySpecial  = "special"
)

// Strategy is one way of locating forms on a live page. Implementations must
// not leave the page in a different state than they found it.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, page browser.Page) ([]schemas.FormSchema, error)
}

// scriptStrategy runs one scan script and converts its raw forms.
type scriptStrategy struct {
	name   string
	script scripts.Script
}

func (s scriptStrategy) Name() string { return s.name }

func (s scriptStrategy) Extract(ctx context.Context, page browser.Page) ([]schemas.FormSchema, error) {
	u, err := page.URL(ctx)
	if err != nil {
		return nil, err
	}
	var raw []rawForm
	if err := page.Evaluate(ctx, s.script, &raw, map[string]interface{}{}); err != nil {
		return nil, err
	}
	return schemasFromRaw(raw, u, s.name), nil
}

func standardStrategy() Strategy {
	return scriptStrategy{name: strategyStandard, script: scripts.ScanForms}
}

func shadowStrategy() Strategy {
	return scriptStrategy{name: strategyShadow, script: scripts.ScanShadow}
}

func formlessStrategy() Strategy {
	return scriptStrategy{name: strategyFormless, script: scripts.ScanFormless}
}

func providerStrategy() Strategy {
	return scriptStrategy{name: strategyProvider, script: scripts.ProviderGoogle}
}

// matchesProvider reports whether rawURL belongs to one of the provider domain
// patterns. A pattern is a host optionally followed by a path prefix.
func matchesProvider(rawURL string, patterns []string) bool {
	u := strings.ToLower(rawURL)
	u = strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	u = strings.TrimPrefix(u, "www.")
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}

// specialFields scans for widget-library controls the native scan cannot see,
// skipping anything already captured by selector.
func specialFields(ctx context.Context, page browser.Page, known []schemas.FormSchema) ([]schemas.FieldDescriptor, error) {
	var selectors []string
	for _, s := range known {
		for _, f := range s.Fields {
			if f.Selector != "" {
				selectors = append(selectors, f.Selector)
			}
		}
	}
	var raw []rawField
	if err := page.Evaluate(ctx, scripts.SpecialFields, &raw, selectors); err != nil {
		return nil, err
	}
	out := make([]schemas.FieldDescriptor, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.descriptor(strategySpecial))
	}
	return out, nil
}
