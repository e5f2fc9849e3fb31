package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/browsertest"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

func newDetector(t *testing.T) *Detector {
	return New(config.ExtractionConfig{ConditionalOptions: 5}, zaptest.NewLogger(t))
}

func TestDetectCaptcha(t *testing.T) {
	page := browsertest.New("https://example.com")
	page.Returns(scripts.DetectCaptcha, schemas.CaptchaDetection{
		Present: true, Kind: schemas.CaptchaHCaptcha, SelectorHint: ".h-captcha", SiteKey: "abc",
	})
	det, err := newDetector(t).DetectCaptcha(context.Background(), page)
	require.NoError(t, err)
	assert.True(t, det.Present)
	assert.Equal(t, schemas.CaptchaHCaptcha, det.Kind)
	assert.Equal(t, "abc", det.SiteKey)

	page.Returns(scripts.DetectCaptcha, map[string]interface{}{"present": false, "kind": "none"})
	det, err = newDetector(t).DetectCaptcha(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, schemas.NoCaptcha, det)

	page.Handle(scripts.DetectCaptcha, func([]interface{}) (interface{}, error) { return nil, errors.New("cdp gone") })
	det, err = newDetector(t).DetectCaptcha(context.Background(), page)
	assert.Error(t, err)
	assert.False(t, det.Present)
}

func TestSignalVerdicts(t *testing.T) {
	cases := []struct {
		name   string
		report signalReport
		want   bool
	}{
		{"no signals", signalReport{}, false},
		{"one weak signal", signalReport{Signals: []string{"login_url"}}, false},
		{"two weak signals", signalReport{Signals: []string{"login_url", "single_password_field"}}, true},
		{"one strong signal", signalReport{Signals: []string{"login_prompt_text"}, Strong: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page := browsertest.New("https://example.com")
			page.Returns(scripts.DetectLogin, tc.report)
			page.Returns(scripts.DetectBotProtection, tc.report)
			d := newDetector(t)

			login, err := d.DetectLoginRequired(context.Background(), page)
			require.NoError(t, err)
			assert.Equal(t, tc.want, login.Detected)

			bot, err := d.DetectBotProtection(context.Background(), page)
			require.NoError(t, err)
			assert.Equal(t, tc.want, bot.Detected)
		})
	}
}

// conditionalPage models a "contact by" radio that reveals a phone field and a
// country select that repopulates a region select.
type conditionalPage struct {
	*browsertest.Page
	contact string
	country string
	applied []string
	failOn  string
}

func newConditionalPage() *conditionalPage {
	cp := &conditionalPage{Page: browsertest.New("https://example.com/form"), contact: "email", country: ""}
	cp.Handle(scripts.VisibilitySnapshot, func([]interface{}) (interface{}, error) {
		regions := 1
		if cp.country == "us" {
			regions = 51
		}
		return map[string]fieldState{
			"contact_by": {Visible: true},
			"email":      {Visible: true},
			"phone":      {Visible: cp.contact == "phone"},
			"country":    {Visible: true, OptionCount: 3},
			"region":     {Visible: true, OptionCount: regions},
		}, nil
	})
	cp.Handle(scripts.ConditionalTriggers, func(args []interface{}) (interface{}, error) {
		limit := args[0].(int)
		all := []trigger{
			{Name: "contact_by", Kind: "radio", Selector: "#c1", Original: cp.contact, Options: []string{"email", "phone"}},
			{Name: "country", Kind: "select", Selector: "#country", Original: cp.country, Options: []string{"", "us", "fr"}},
		}
		if limit < len(all) {
			all = all[:limit]
		}
		return all, nil
	})
	cp.Handle(scripts.ApplyTrigger, func(args []interface{}) (interface{}, error) {
		name, value := args[2].(string), args[3].(string)
		cp.applied = append(cp.applied, name+"="+value)
		if cp.failOn != "" && value == cp.failOn {
			return nil, errors.New("apply exploded")
		}
		switch name {
		case "contact_by":
			cp.contact = value
		case "country":
			cp.country = value
		}
		return true, nil
	})
	return cp
}

func TestMapConditionalFields(t *testing.T) {
	cp := newConditionalPage()
	rules, err := newDetector(t).MapConditionalFields(context.Background(), cp, 10)
	require.NoError(t, err)

	assert.Contains(t, rules, schemas.ConditionalRule{
		Trigger: "contact_by", TriggerValue: "phone", Dependent: "phone", Effect: schemas.EffectShow,
	})
	for _, r := range rules {
		assert.NotEqual(t, "email", r.Dependent)
	}
	assert.Equal(t, "email", cp.contact, "original radio value restored")
	assert.Equal(t, "", cp.country, "original select value restored")
}

func TestMapConditionalFields_RestoresOnFailure(t *testing.T) {
	cp := newConditionalPage()
	cp.failOn = "phone"
	_, err := newDetector(t).MapConditionalFields(context.Background(), cp, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"contact_by=phone", "contact_by=email"}, cp.applied)
	assert.Equal(t, "email", cp.contact)
}

func TestMapConditionalFields_Limit(t *testing.T) {
	cp := newConditionalPage()
	rules, err := newDetector(t).MapConditionalFields(context.Background(), cp, 0)
	require.NoError(t, err)
	assert.Empty(t, rules)
	assert.Zero(t, cp.EvaluatedCount(scripts.ConditionalTriggers))

	_, err = newDetector(t).MapConditionalFields(context.Background(), cp, 1)
	require.NoError(t, err)
	for _, a := range cp.applied {
		assert.Contains(t, a, "contact_by=")
	}
}

func TestMapChainedSelects(t *testing.T) {
	cp := newConditionalPage()
	chains, err := newDetector(t).MapChainedSelects(context.Background(), cp, 10)
	require.NoError(t, err)
	assert.Equal(t, []schemas.ChainedSelect{{Parent: "country", Child: "region"}}, chains)
	assert.Equal(t, "", cp.country)
}

func TestVisibilityRules(t *testing.T) {
	before := snapshot{"a": {Visible: true}, "b": {Visible: false}, "gone": {Visible: true}}
	after := snapshot{"a": {Visible: false}, "b": {Visible: true}, "new": {Visible: true}}
	rules := visibilityRules("t", "x", before, after)
	assert.Equal(t, []schemas.ConditionalRule{
		{Trigger: "t", TriggerValue: "x", Dependent: "a", Effect: schemas.EffectHide},
		{Trigger: "t", TriggerValue: "x", Dependent: "b", Effect: schemas.EffectShow},
		{Trigger: "t", TriggerValue: "x", Dependent: "gone", Effect: schemas.EffectHide},
		{Trigger: "t", TriggerValue: "x", Dependent: "new", Effect: schemas.EffectShow},
	}, rules)
}
