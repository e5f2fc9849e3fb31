package enrich

import (
	"html"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

const maxDisplayName = 80

var (
	labelPolicyOnce sync.Once
	labelPolicy     *bluemonday.Policy
)

func labelSanitizer() *bluemonday.Policy {
	labelPolicyOnce.Do(func() {
		labelPolicy = bluemonday.StrictPolicy()
	})
	return labelPolicy
}

var (
	whitespace  = regexp.MustCompile(`\s+`)
	nameSplit   = regexp.MustCompile(`[_\-\s\[\]\.]+`)
	camelSplit  = regexp.MustCompile(`([a-z])([A-Z])`)
	digitSuffix = regexp.MustCompile(`^(.*?)[ _]?\d+$`)
)

// DisplayName picks the text a person would use for the field: the label, then
// the placeholder, then a humanized form of the name. Markup is stripped.
func DisplayName(f schemas.FieldDescriptor) string {
	for _, candidate := range []string{f.Label, f.Placeholder} {
		if s := sanitizeLabel(candidate); s != "" {
			return truncate(s)
		}
	}
	return truncate(humanize(f.Name))
}

func sanitizeLabel(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	cleaned := html.UnescapeString(labelSanitizer().Sanitize(raw))
	cleaned = whitespace.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(cleaned), "*:"))
}

// humanize turns "billing_addressLine1" into "Billing Address Line".
func humanize(name string) string {
	if m := digitSuffix.FindStringSubmatch(name); m != nil && m[1] != "" {
		name = m[1]
	}
	name = camelSplit.ReplaceAllString(name, "$1 $2")
	words := nameSplit.Split(name, -1)
	out := words[:0]
	for _, w := range words {
		if w == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(strings.ToLower(w))
		out = append(out, strings.ToUpper(string(r))+strings.ToLower(w)[size:])
	}
	return strings.Join(out, " ")
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxDisplayName {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:maxDisplayName-1])) + "…"
}
