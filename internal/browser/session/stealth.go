package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

// PersonaFromConfig overlays configured fingerprint values on the default persona.
func PersonaFromConfig(userAgent, locale, timezone string, viewport map[string]int) schemas.Persona {
	p := schemas.DefaultPersona
	p.Languages = append([]string(nil), p.Languages...)
	if userAgent != "" {
		p.UserAgent = userAgent
	}
	if locale != "" {
		p.Locale = locale
		base := strings.SplitN(locale, "-", 2)[0]
		p.Languages = []string{locale}
		if base != locale {
			p.Languages = append(p.Languages, base)
		}
	}
	if timezone != "" {
		p.Timezone = timezone
	}
	if w, ok := viewport["width"]; ok && w > 0 {
		p.Width = int64(w)
	}
	if h, ok := viewport["height"]; ok && h > 0 {
		p.Height = int64(h)
	}
	return p
}

// acceptLanguage renders the persona's languages with descending q values.
func acceptLanguage(langs []string) string {
	if len(langs) == 0 {
		return "en-US"
	}
	parts := make([]string, 0, len(langs))
	for i, l := range langs {
		if i == 0 {
			parts = append(parts, l)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", l, q))
	}
	return strings.Join(parts, ",")
}

// StealthTasks makes a headless tab look like an ordinary desktop browser.
func StealthTasks(p schemas.Persona, logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying stealth persona.",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
	)

	return chromedp.Tasks{
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(acceptLanguage(p.Languages)),

		// AddScriptToEvaluateOnNewDocument returns an identifier as well as an
		// error, so it needs wrapping to satisfy chromedp.Action.
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),

		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),
		emulation.SetDeviceMetricsOverride(p.Width, p.Height, 1, p.Mobile),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage(p.Languages),
		}),
	}
}
