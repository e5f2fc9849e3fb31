// Package scripts holds the DOM scripts evaluated in the page. Each script is a
// JavaScript function expression compiled into the binary and invoked with JSON
// encoded arguments, so no caller ever splices values into source text.
package scripts

import (
	"embed"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

//go:embed js/*.js
var assets embed.FS

// Script is a named, parameterized DOM routine.
type Script struct {
	Name   string
	Source string
	// Async scripts return a promise the evaluator must await.
	Async bool
}

var prelude = mustRead("lib")

func mustRead(name string) string {
	b, err := assets.ReadFile("js/" + name + ".js")
	if err != nil {
		panic(fmt.Sprintf("scripts: missing asset %s: %v", name, err))
	}
	return strings.TrimSpace(string(b))
}

func load(name string) Script {
	src := mustRead(name)
	return Script{Name: name, Source: src, Async: strings.HasPrefix(src, "async ")}
}

// Expression renders the script as a self-contained expression applying args.
func (s Script) Expression(args ...interface{}) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("script %s: encoding argument %d: %w", s.Name, i, err)
		}
		encoded[i] = string(b)
	}
	var sb strings.Builder
	sb.Grow(len(prelude) + len(s.Source) + 64)
	sb.WriteString("(function(){\n")
	sb.WriteString(prelude)
	sb.WriteString("\nvar __r = (")
	sb.WriteString(s.Source)
	sb.WriteString(")(")
	sb.WriteString(strings.Join(encoded, ","))
	sb.WriteString(");\n")
	sb.WriteString(envelope)
	sb.WriteString("\n})()")
	return sb.String(), nil
}

// envelope wraps every result as {v: ...} so null and undefined survive the
// protocol round trip as ordinary values.
const envelope = `if (__r && typeof __r.then === 'function') {
  return __r.then(function (v) { return { v: v === undefined ? null : v }; });
}
return { v: __r === undefined ? null : __r };`

// Extraction.
var (
	ScanForms      = load("scan_forms")
	ScanShadow     = load("scan_shadow")
	ScanFormless   = load("scan_formless")
	ProviderGoogle = load("provider_google")
	WizardProbe    = load("wizard_probe")
	SpecialFields  = load("special_fields")
)

// Detection.
var (
	DetectCaptcha       = load("detect_captcha")
	DetectLogin         = load("detect_login")
	DetectBotProtection = load("detect_bot")
	ConditionalTriggers = load("conditional_triggers")
	VisibilitySnapshot  = load("visibility_snapshot")
	ApplyTrigger        = load("apply_trigger")
)

// Filling and submission.
var (
	ElementState        = load("element_state")
	ReadValue           = load("read_value")
	InjectValue         = load("inject_value")
	DisableAutocomplete = load("disable_autocomplete")
	ResolveLabel        = load("resolve_label")
	LocateField         = load("locate_field")
	SelectOptions       = load("select_options")
	CustomDropdown      = load("custom_dropdown")
	RadioState          = load("radio_state")
	SetRange            = load("set_range")
	GridSelect          = load("grid_select")
	AutocompletePick    = load("autocomplete_pick")
	ConsentCheckboxes   = load("consent_checkboxes")
	SubmitCandidates    = load("submit_candidates")
	FormEnterTarget     = load("form_enter_target")
	PageSignals         = load("page_signals")
	VisibleFields       = load("visible_fields")
	ScrollIntoView      = load("scroll_into_view")
	ClickElement        = load("click")
	SetChecked          = load("set_checked")
)

// CAPTCHA.
var (
	CaptchaToken  = load("captcha_token")
	CaptchaInject = load("captcha_inject")
)

// All lists every script, mainly so tests can check the set is well formed.
func All() []Script {
	return []Script{
		ScanForms, ScanShadow, ScanFormless, ProviderGoogle, WizardProbe, SpecialFields,
		DetectCaptcha, DetectLogin, DetectBotProtection, ConditionalTriggers, VisibilitySnapshot, ApplyTrigger,
		ElementState, ReadValue, InjectValue, DisableAutocomplete, ResolveLabel, LocateField, SelectOptions, CustomDropdown,
		RadioState, SetRange, GridSelect, AutocompletePick, ConsentCheckboxes, SubmitCandidates, FormEnterTarget,
		PageSignals, VisibleFields, ScrollIntoView, ClickElement, SetChecked, CaptchaToken, CaptchaInject,
	}
}
