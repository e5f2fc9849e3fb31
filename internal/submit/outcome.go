package submit

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
)

var successKeywords = []string{
	"thank you", "thanks for", "successfully", "has been received", "has been submitted",
	"has been sent", "we'll be in touch", "we will be in touch", "we'll get back", "submission received",
	"your response has been recorded", "registration complete", "check your email", "check your inbox",
}

var errorKeywords = []string{
	"there was an error", "an error occurred", "submission failed", "could not be submitted",
	"please correct", "please fix", "is required", "is invalid", "not a valid", "try again",
	"something went wrong",
}

var urlKeywords = []string{"thank", "success", "confirmation", "submitted", "complete", "received"}

type pageSignals struct {
	URL                  string   `json:"url"`
	SuccessMatches       []string `json:"successMatches"`
	ErrorMatches         []string `json:"errorMatches"`
	InlineErrors         int      `json:"inlineErrors"`
	ProviderConfirmation bool     `json:"providerConfirmation"`
}

func (s *Submitter) classify(ctx context.Context, page browser.Page, startURL string, log *zap.Logger) schemas.ValidationResult {
	var sig pageSignals
	if err := page.Evaluate(ctx, scripts.PageSignals, &sig, successKeywords, errorKeywords); err != nil {
		log.Warn("Could not read page signals after submit.", zap.Error(err))
	}
	if sig.URL == "" {
		sig.URL, _ = page.URL(ctx)
	}
	return classifySignals(startURL, sig)
}

// classifySignals turns raw page evidence into a verdict. Any error evidence
// wins over success evidence, and inline field errors always mean failure.
func classifySignals(startURL string, sig pageSignals) schemas.ValidationResult {
	v := schemas.ValidationResult{
		FinalURL:             sig.URL,
		SuccessText:          len(sig.SuccessMatches) > 0,
		ErrorText:            len(sig.ErrorMatches) > 0,
		InlineErrors:         sig.InlineErrors > 0,
		ProviderConfirmation: sig.ProviderConfirmation,
		URLChanged:           pathChanged(startURL, sig.URL),
	}
	v.MatchedKeywords = append(v.MatchedKeywords, sig.SuccessMatches...)
	v.MatchedKeywords = append(v.MatchedKeywords, sig.ErrorMatches...)

	before, after := strings.ToLower(startURL), strings.ToLower(sig.URL)
	for _, kw := range urlKeywords {
		if strings.Contains(after, kw) && !strings.Contains(before, kw) {
			v.URLKeyword = true
			v.MatchedKeywords = append(v.MatchedKeywords, "url:"+kw)
		}
	}

	positive := v.SuccessText || v.URLKeyword || v.ProviderConfirmation || v.URLChanged
	v.LikelyError = v.ErrorText || v.InlineErrors
	v.LikelySuccess = positive && !v.LikelyError
	return v
}

func pathChanged(before, after string) bool {
	if before == "" || after == "" {
		return false
	}
	b, err1 := url.Parse(before)
	a, err2 := url.Parse(after)
	if err1 != nil || err2 != nil {
		return before != after
	}
	return b.Host != a.Host || strings.TrimRight(b.Path, "/") != strings.TrimRight(a.Path, "/")
}
