package submit

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

func TestClassifySignals(t *testing.T) {
	const start = "https://example.com/contact"
	cases := []struct {
		name string
		sig  pageSignals
		want schemas.ValidationResult
	}{
		{
			name: "nothing changed",
			sig:  pageSignals{URL: start},
			want: schemas.ValidationResult{FinalURL: start},
		},
		{
			name: "success text",
			sig:  pageSignals{URL: start, SuccessMatches: []string{"thank you"}},
			want: schemas.ValidationResult{FinalURL: start, SuccessText: true, LikelySuccess: true, MatchedKeywords: []string{"thank you"}},
		},
		{
			name: "redirect to confirmation page",
			sig:  pageSignals{URL: "https://example.com/confirmation/"},
			want: schemas.ValidationResult{
				FinalURL: "https://example.com/confirmation/", URLChanged: true, URLKeyword: true, LikelySuccess: true,
				MatchedKeywords: []string{"url:confirmation"},
			},
		},
		{
			name: "error text beats success text",
			sig:  pageSignals{URL: start, SuccessMatches: []string{"thank you"}, ErrorMatches: []string{"try again"}},
			want: schemas.ValidationResult{
				FinalURL: start, SuccessText: true, ErrorText: true, LikelyError: true,
				MatchedKeywords: []string{"thank you", "try again"},
			},
		},
		{
			name: "inline errors",
			sig:  pageSignals{URL: start, InlineErrors: 3},
			want: schemas.ValidationResult{FinalURL: start, InlineErrors: true, LikelyError: true},
		},
		{
			name: "provider confirmation",
			sig:  pageSignals{URL: start, ProviderConfirmation: true},
			want: schemas.ValidationResult{FinalURL: start, ProviderConfirmation: true, LikelySuccess: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifySignals(start, tc.sig)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("classifySignals mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassifySignals_KeywordAlreadyInStartURL(t *testing.T) {
	got := classifySignals("https://example.com/thanks-form", pageSignals{URL: "https://example.com/thanks-form#sent"})
	assert.False(t, got.URLKeyword)
	assert.False(t, got.URLChanged, "fragment changes are not navigation")
	assert.False(t, got.LikelySuccess)
}

func TestPathChanged(t *testing.T) {
	assert.False(t, pathChanged("https://a.com/x/", "https://a.com/x?sent=1"))
	assert.True(t, pathChanged("https://a.com/x", "https://a.com/y"))
	assert.True(t, pathChanged("https://a.com/x", "https://b.com/x"))
	assert.False(t, pathChanged("", "https://a.com/x"))
}
