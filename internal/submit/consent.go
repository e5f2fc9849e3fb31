package submit

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
)

type consentBox struct {
	Selector string `json:"selector"`
	Name     string `json:"name"`
	Text     string `json:"text"`
	Checked  bool   `json:"checked"`
	Visible  bool   `json:"visible"`
	Required bool   `json:"required"`
}

// acceptConsent ticks unchecked terms and privacy style boxes the caller did
// not supply a value for. Marketing opt-ins are left alone even when they also
// mention terms. It returns the names of the boxes it checked.
func (s *Submitter) acceptConsent(ctx context.Context, page browser.Page, schema *schemas.FormSchema, values schemas.Values, log *zap.Logger) []string {
	var boxes []consentBox
	if err := page.Evaluate(ctx, scripts.ConsentCheckboxes, &boxes, formScope(schema)); err != nil {
		log.Warn("Could not list consent checkboxes.", zap.Error(err))
		return nil
	}

	var checked []string
	for _, b := range boxes {
		if b.Checked {
			continue
		}
		if _, decided := values[b.Name]; decided && b.Name != "" {
			continue
		}
		text := b.Text + " " + strings.ToLower(b.Name)
		if containsAny(text, s.marketing) {
			log.Debug("Leaving marketing checkbox unchecked.", zap.String("name", b.Name))
			continue
		}
		if !containsAny(text, s.consent) {
			continue
		}

		var err error
		if b.Visible {
			err = page.Click(ctx, b.Selector)
		} else {
			err = page.SetChecked(ctx, b.Selector, true)
		}
		if err != nil {
			log.Debug("Could not check consent box.", zap.String("selector", b.Selector), zap.Error(err))
			continue
		}
		name := b.Name
		if name == "" {
			name = b.Selector
		}
		log.Info("Accepted consent checkbox.", zap.String("name", name), zap.Bool("required", b.Required))
		checked = append(checked, name)
	}
	return checked
}
