// Package detect inspects a page for things that change how a form must be
// handled: CAPTCHAs, login walls, bot protection, and fields that appear or
// change depending on other fields.
package detect

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

// minSignals is how many weak signals it takes to reach a verdict.
const minSignals = 2

// Detector runs the detection scripts against a page.
type Detector struct {
	logger     *zap.Logger
	settle     time.Duration
	maxOptions int
}

// New returns a Detector using the extraction settings for settle time and
// per-trigger option limits.
func New(cfg config.ExtractionConfig, logger *zap.Logger) *Detector {
	return &Detector{
		logger:     logger.Named("detect"),
		settle:     cfg.SettleWait,
		maxOptions: max(cfg.ConditionalOptions, 1),
	}
}

// Verdict is the outcome of a signal battery.
type Verdict struct {
	Detected bool     `json:"detected"`
	Signals  []string `json:"signals"`
	Strong   bool     `json:"strong"`
}

type signalReport struct {
	Signals []string `json:"signals"`
	Strong  bool     `json:"strong"`
}

func (r signalReport) verdict() Verdict {
	return Verdict{
		Detected: r.Strong || len(r.Signals) >= minSignals,
		Signals:  r.Signals,
		Strong:   r.Strong,
	}
}

// DetectCaptcha reports the first visible CAPTCHA in priority order.
func (d *Detector) DetectCaptcha(ctx context.Context, page browser.Page) (schemas.CaptchaDetection, error) {
	var det schemas.CaptchaDetection
	if err := page.Evaluate(ctx, scripts.DetectCaptcha, &det); err != nil {
		return schemas.NoCaptcha, fmt.Errorf("captcha detection: %w", err)
	}
	if !det.Present {
		return schemas.NoCaptcha, nil
	}
	d.logger.Debug("CAPTCHA detected.",
		zap.String("kind", string(det.Kind)),
		zap.String("selector", det.SelectorHint),
		zap.Bool("invisible", det.Invisible),
	)
	return det, nil
}

// DetectLoginRequired decides whether the page is gated behind a login.
func (d *Detector) DetectLoginRequired(ctx context.Context, page browser.Page) (Verdict, error) {
	var r signalReport
	if err := page.Evaluate(ctx, scripts.DetectLogin, &r); err != nil {
		return Verdict{}, fmt.Errorf("login detection: %w", err)
	}
	return r.verdict(), nil
}

// DetectBotProtection decides whether an anti-bot interstitial is showing.
func (d *Detector) DetectBotProtection(ctx context.Context, page browser.Page) (Verdict, error) {
	var r signalReport
	if err := page.Evaluate(ctx, scripts.DetectBotProtection, &r); err != nil {
		return Verdict{}, fmt.Errorf("bot protection detection: %w", err)
	}
	return r.verdict(), nil
}
