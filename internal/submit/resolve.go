package submit

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
)

// resolve walks the lookup ladder for a field: selector hint, id, name, label
// association, placeholder. It returns the first selector that matches.
func resolve(ctx context.Context, page browser.Page, f *schemas.FieldDescriptor) (string, *browser.Element, error) {
	var candidates []string
	if f.Selector != "" {
		candidates = append(candidates, f.Selector)
	}
	if f.ID != "" {
		candidates = append(candidates, attrSelector("", "id", f.ID))
	}
	if f.Name != "" {
		candidates = append(candidates, attrSelector("", "name", f.Name))
	}
	for _, sel := range candidates {
		el, err := page.Find(ctx, sel)
		if err != nil {
			return "", nil, err
		}
		if el != nil {
			return sel, el, nil
		}
	}

	if f.Label != "" {
		var sel *string
		if err := page.Evaluate(ctx, scripts.ResolveLabel, &sel, f.Label); err != nil {
			return "", nil, err
		}
		if sel != nil && *sel != "" {
			el, err := page.Find(ctx, *sel)
			if err != nil {
				return "", nil, err
			}
			if el != nil {
				return *sel, el, nil
			}
		}
	}

	if f.Placeholder != "" {
		sel := attrSelector("", "placeholder", f.Placeholder)
		el, err := page.Find(ctx, sel)
		if err != nil {
			return "", nil, err
		}
		if el != nil {
			return sel, el, nil
		}
	}
	return "", nil, fmt.Errorf("field %q: %w", f.Name, browser.ErrElementNotFound)
}

type fieldHint struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
}

// locate is the last resort once the ladder is exhausted: the page searches
// for the control itself by partial name, id, binding attribute or label.
func locate(ctx context.Context, page browser.Page, f *schemas.FieldDescriptor) (string, *browser.Element, error) {
	var sel *string
	hint := fieldHint{Name: f.Name, ID: f.ID, Label: f.Label, Placeholder: f.Placeholder}
	if err := page.Evaluate(ctx, scripts.LocateField, &sel, hint); err != nil {
		return "", nil, err
	}
	if sel == nil || *sel == "" {
		return "", nil, fmt.Errorf("field %q: %w", f.Name, browser.ErrElementNotFound)
	}
	el, err := page.Find(ctx, *sel)
	if err != nil {
		return "", nil, err
	}
	return *sel, el, nil
}

// optionSelector locates one choice of a radio, scale or checkbox group.
func optionSelector(ctx context.Context, page browser.Page, f *schemas.FieldDescriptor, o schemas.Option) (string, *browser.Element, error) {
	var candidates []string
	if o.Selector != "" {
		candidates = append(candidates, o.Selector)
	}
	if f.Name != "" {
		candidates = append(candidates, attrSelector(attrSelector("input", "name", f.Name), "value", o.Value))
	}
	for _, sel := range candidates {
		el, err := page.Find(ctx, sel)
		if err != nil {
			return "", nil, err
		}
		if el != nil {
			return sel, el, nil
		}
	}
	if o.Label != "" {
		return resolve(ctx, page, &schemas.FieldDescriptor{Label: o.Label})
	}
	return "", nil, fmt.Errorf("option %q of %q: %w", o.Value, f.Name, browser.ErrElementNotFound)
}
