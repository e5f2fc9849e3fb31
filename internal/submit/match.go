package submit

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

var (
	spaces = regexp.MustCompile(`\s+`)
	// Google Forms and friends prefix choices with "Option 2:" or "3)".
	// Ranges such as "11-50" and years such as "2020." are left alone.
	enumPrefix = regexp.MustCompile(`^(option\s*\d+\s*[:.)\-]|\d+\s*[:)])\s*`)
)

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(spaces.ReplaceAllString(s, " ")))
}

// valueMatches is the verification rule: after normalizing case and
// whitespace, either string containing the other counts as a match.
func valueMatches(actual, expected string) bool {
	a, e := norm(actual), norm(expected)
	if a == "" || e == "" {
		return a == e
	}
	return strings.Contains(a, e) || strings.Contains(e, a)
}

// Match scores, best first.
const (
	scoreNone = iota
	scoreSubstring
	scorePrefix
	scoreExact
)

// matchScore compares wanted against the candidate as written and, when it
// carries an enumeration prefix, without it. The better score counts; n is
// the length of the text that produced it.
func matchScore(candidate, wanted string) (score, n int) {
	c, w := norm(candidate), norm(wanted)
	score, n = compare(c, w), len(c)
	if stripped := enumPrefix.ReplaceAllString(c, ""); stripped != c {
		if alt := compare(stripped, w); alt > score {
			score, n = alt, len(stripped)
		}
	}
	return score, n
}

func compare(c, w string) int {
	switch {
	case c == "" || w == "":
		return scoreNone
	case c == w:
		return scoreExact
	case strings.HasPrefix(c, w):
		return scorePrefix
	case strings.Contains(c, w) || strings.Contains(w, c):
		return scoreSubstring
	}
	return scoreNone
}

// bestOption picks the option matching wanted: exact beats prefix beats
// substring, ties go to the shorter matched text and then to the earlier
// option. Values and labels are both considered.
func bestOption(options []schemas.Option, wanted string) (schemas.Option, bool) {
	best, bestScore, bestLen := -1, scoreNone, 0
	for i, o := range options {
		score, n := matchScore(o.Value, wanted)
		if ls, ln := matchScore(o.Label, wanted); ls > score || (ls == score && ln < n) {
			score, n = ls, ln
		}
		if score == scoreNone {
			continue
		}
		if score > bestScore || (score == bestScore && n < bestLen) {
			best, bestScore, bestLen = i, score, n
		}
	}
	if best < 0 {
		return schemas.Option{}, false
	}
	return options[best], true
}

var truthy = map[string]bool{"true": true, "yes": true, "1": true, "checked": true, "on": true, "y": true}

// boolIntent reads a checkbox value. Anything outside the truthy tokens means unchecked.
func boolIntent(v string) bool {
	return truthy[norm(v)]
}

// splitList turns a comma separated text value into items. List values pass through.
func splitList(v schemas.Value) []string {
	if v.Kind != schemas.ValueText {
		return v.Strings()
	}
	var out []string
	for _, part := range strings.Split(v.Text, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clamp(v float64, lo, hi *float64) float64 {
	if lo != nil && v < *lo {
		v = *lo
	}
	if hi != nil && v > *hi {
		v = *hi
	}
	return v
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// attrSelector builds [attr="value"] with the value quoted for CSS.
func attrSelector(prefix, attr, value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	return prefix + "[" + attr + `="` + escaped + `"]`
}
