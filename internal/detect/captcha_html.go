package detect

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
)

type captchaFamily struct {
	kind   schemas.CaptchaKind
	xpaths []string
	frames []string
}

// Same families and order as the live detector.
var captchaFamilies = []captchaFamily{
	{
		kind: schemas.CaptchaRecaptcha,
		xpaths: []string{
			`//*[contains(concat(' ', normalize-space(@class), ' '), ' g-recaptcha ')]`,
			`//*[@id='g-recaptcha']`,
			`//*[@data-sitekey and not(contains(@class, 'h-captcha')) and not(contains(@class, 'cf-turnstile'))]`,
			`//textarea[@name='g-recaptcha-response']`,
		},
		frames: []string{"google.com/recaptcha", "recaptcha.net", "gstatic.com/recaptcha"},
	},
	{
		kind: schemas.CaptchaHCaptcha,
		xpaths: []string{
			`//*[contains(concat(' ', normalize-space(@class), ' '), ' h-captcha ')]`,
			`//textarea[@name='h-captcha-response']`,
		},
		frames: []string{"hcaptcha.com"},
	},
	{
		kind: schemas.CaptchaTurnstile,
		xpaths: []string{
			`//*[contains(concat(' ', normalize-space(@class), ' '), ' cf-turnstile ')]`,
			`//input[@name='cf-turnstile-response']`,
		},
		frames: []string{"challenges.cloudflare.com"},
	},
	{
		kind: schemas.CaptchaGeneric,
		xpaths: []string{
			`//img[contains(translate(@src, 'CAPTCH', 'captch'), 'captcha')]`,
			`//input[contains(translate(@name, 'CAPTCH', 'captch'), 'captcha')]`,
			`//*[@id='captcha']`,
			`//*[contains(translate(@class, 'CAPTCH', 'captch'), 'captcha')]`,
		},
	},
	{
		kind:   schemas.CaptchaIframe,
		frames: []string{"captcha", "arkoselabs.com", "funcaptcha.com", "geetest.com", "friendlycaptcha"},
	},
}

// DetectCaptchaHTML inspects a static snapshot. Without computed styles it
// cannot judge visibility, so any match counts.
func DetectCaptchaHTML(doc string) (schemas.CaptchaDetection, error) {
	root, err := htmlquery.Parse(strings.NewReader(doc))
	if err != nil {
		return schemas.NoCaptcha, fmt.Errorf("parse html: %w", err)
	}
	frames := htmlquery.Find(root, "//iframe")

	for _, fam := range captchaFamilies {
		for _, xp := range fam.xpaths {
			if n := htmlquery.FindOne(root, xp); n != nil {
				return detection(root, fam.kind, xp, n), nil
			}
		}
		for _, f := range frames {
			src := strings.ToLower(htmlquery.SelectAttr(f, "src") + htmlquery.SelectAttr(f, "data-src"))
			for _, marker := range fam.frames {
				if strings.Contains(src, marker) {
					det := detection(root, fam.kind, fmt.Sprintf(`iframe[src*=%q]`, marker), nil)
					if det.SiteKey == "" {
						det.SiteKey = siteKeyFromURL(htmlquery.SelectAttr(f, "src"))
					}
					return det, nil
				}
			}
		}
	}
	return schemas.NoCaptcha, nil
}

func detection(root *html.Node, kind schemas.CaptchaKind, hint string, n *html.Node) schemas.CaptchaDetection {
	det := schemas.CaptchaDetection{Present: true, Kind: kind, SelectorHint: hint}
	if n != nil {
		det.SiteKey = htmlquery.SelectAttr(n, "data-sitekey")
		det.Invisible = htmlquery.SelectAttr(n, "data-size") == "invisible"
	}
	if det.SiteKey == "" {
		if keyed := htmlquery.FindOne(root, "//*[@data-sitekey]"); keyed != nil {
			det.SiteKey = htmlquery.SelectAttr(keyed, "data-sitekey")
		}
	}
	switch kind {
	case schemas.CaptchaTurnstile:
		det.Invisible = true
	case schemas.CaptchaRecaptcha:
		if htmlquery.FindOne(root, `//script[contains(@src, 'api.js?render=') and not(contains(@src, 'render=explicit'))]`) != nil {
			det.Invisible = true
		}
	}
	return det
}

func siteKeyFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	if k := q.Get("k"); k != "" {
		return k
	}
	return q.Get("sitekey")
}
