package detect

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
)

type trigger struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Selector string   `json:"selector"`
	Original string   `json:"original"`
	Options  []string `json:"options"`
}

type fieldState struct {
	Visible     bool `json:"visible"`
	OptionCount int  `json:"optionCount"`
}

type snapshot map[string]fieldState

func (d *Detector) snapshot(ctx context.Context, page browser.Page) (snapshot, error) {
	snap := snapshot{}
	if err := page.Evaluate(ctx, scripts.VisibilitySnapshot, &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (d *Detector) triggers(ctx context.Context, page browser.Page, limit int) ([]trigger, error) {
	var ts []trigger
	if err := page.Evaluate(ctx, scripts.ConditionalTriggers, &ts, limit, d.maxOptions); err != nil {
		return nil, err
	}
	return ts, nil
}

func (d *Detector) apply(ctx context.Context, page browser.Page, t trigger, value string) error {
	var ok bool
	if err := page.Evaluate(ctx, scripts.ApplyTrigger, &ok, t.Selector, t.Kind, t.Name, value); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("trigger %s: %w", t.Name, browser.ErrElementNotFound)
	}
	return nil
}

// probe sets one trigger value, waits for the page to react, and returns the
// resulting snapshot. The trigger's original value is restored before probe
// returns, even when something fails part way.
func (d *Detector) probe(ctx context.Context, page browser.Page, t trigger, value string) (snapshot, error) {
	defer func() {
		rctx := context.WithoutCancel(ctx)
		if rerr := d.apply(rctx, page, t, t.Original); rerr != nil {
			d.logger.Warn("Failed to restore trigger value.", zap.String("trigger", t.Name), zap.Error(rerr))
		}
	}()
	if err := d.apply(ctx, page, t, value); err != nil {
		return nil, err
	}
	if err := page.Wait(ctx, d.settle); err != nil {
		return nil, err
	}
	return d.snapshot(ctx, page)
}

// MapConditionalFields exercises the first limit trigger-capable controls and
// records which other fields appear or disappear for each value.
func (d *Detector) MapConditionalFields(ctx context.Context, page browser.Page, limit int) ([]schemas.ConditionalRule, error) {
	if limit <= 0 {
		return nil, nil
	}
	base, err := d.snapshot(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("baseline snapshot: %w", err)
	}
	ts, err := d.triggers(ctx, page, limit)
	if err != nil {
		return nil, fmt.Errorf("enumerate triggers: %w", err)
	}

	var rules []schemas.ConditionalRule
	for _, t := range ts {
		for _, value := range t.Options {
			if value == t.Original {
				continue
			}
			if err := ctx.Err(); err != nil {
				return rules, err
			}
			snap, err := d.probe(ctx, page, t, value)
			if err != nil {
				d.logger.Debug("Trigger probe failed.", zap.String("trigger", t.Name), zap.String("value", value), zap.Error(err))
				continue
			}
			rules = append(rules, visibilityRules(t.Name, value, base, snap)...)
		}
	}
	d.logger.Debug("Mapped conditional fields.", zap.Int("triggers", len(ts)), zap.Int("rules", len(rules)))
	return rules, nil
}

func visibilityRules(triggerName, value string, before, after snapshot) []schemas.ConditionalRule {
	var rules []schemas.ConditionalRule
	for name, now := range after {
		if name == triggerName {
			continue
		}
		was, existed := before[name]
		switch {
		case now.Visible && (!existed || !was.Visible):
			rules = append(rules, schemas.ConditionalRule{Trigger: triggerName, TriggerValue: value, Dependent: name, Effect: schemas.EffectShow})
		case !now.Visible && existed && was.Visible:
			rules = append(rules, schemas.ConditionalRule{Trigger: triggerName, TriggerValue: value, Dependent: name, Effect: schemas.EffectHide})
		}
	}
	for name, was := range before {
		if _, still := after[name]; !still && was.Visible && name != triggerName {
			rules = append(rules, schemas.ConditionalRule{Trigger: triggerName, TriggerValue: value, Dependent: name, Effect: schemas.EffectHide})
		}
	}
	sortRules(rules)
	return rules
}

// MapChainedSelects finds selects whose value changes another select's options.
func (d *Detector) MapChainedSelects(ctx context.Context, page browser.Page, limit int) ([]schemas.ChainedSelect, error) {
	base, err := d.snapshot(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("baseline snapshot: %w", err)
	}
	ts, err := d.triggers(ctx, page, max(limit, 1))
	if err != nil {
		return nil, fmt.Errorf("enumerate triggers: %w", err)
	}

	var out []schemas.ChainedSelect
	seen := map[schemas.ChainedSelect]bool{}
	for _, t := range ts {
		if t.Kind != "select" {
			continue
		}
		for _, value := range t.Options {
			if value == t.Original || value == "" {
				continue
			}
			snap, err := d.probe(ctx, page, t, value)
			if err != nil {
				d.logger.Debug("Select probe failed.", zap.String("select", t.Name), zap.Error(err))
				continue
			}
			for name, now := range snap {
				was, ok := base[name]
				if name == t.Name || !ok || (was.OptionCount == 0 && now.OptionCount == 0) {
					continue
				}
				link := schemas.ChainedSelect{Parent: t.Name, Child: name}
				if now.OptionCount != was.OptionCount && !seen[link] {
					seen[link] = true
					out = append(out, link)
				}
			}
		}
	}
	sortChains(out)
	return out, nil
}

func sortRules(rules []schemas.ConditionalRule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Dependent != rules[j].Dependent {
			return rules[i].Dependent < rules[j].Dependent
		}
		return rules[i].Effect < rules[j].Effect
	})
}

func sortChains(chains []schemas.ChainedSelect) {
	sort.Slice(chains, func(i, j int) bool {
		if chains[i].Parent != chains[j].Parent {
			return chains[i].Parent < chains[j].Parent
		}
		return chains[i].Child < chains[j].Child
	})
}
