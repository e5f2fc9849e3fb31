package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/internal/browser/session"
	"github.com/xkilldash9x/scalpel-forms/internal/cache"
	"github.com/xkilldash9x/scalpel-forms/internal/captcha"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
	"github.com/xkilldash9x/scalpel-forms/internal/detect"
	"github.com/xkilldash9x/scalpel-forms/internal/extraction"
	"github.com/xkilldash9x/scalpel-forms/internal/network"
	"github.com/xkilldash9x/scalpel-forms/internal/store"
	"github.com/xkilldash9x/scalpel-forms/internal/submit"
)

var _ Recorder = (*store.Store)(nil)

// NewComponents builds production components around a chromedp session
// manager. Chrome starts with the first tab, not here. The history store is
// connected when database.url is set.
func NewComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	var recorder Recorder
	if db := cfg.Database(); db.URL != "" {
		st, err := store.Open(ctx, db, logger)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		recorder = st
	}
	manager := session.NewManager(ctx, cfg, logger)
	c := BuildComponents(cfg, managerBrowser{m: manager}, logger)
	c.Recorder = recorder
	return c, nil
}

// BuildComponents wires everything except the browser, which the caller supplies.
func BuildComponents(cfg config.Interface, b Browser, logger *zap.Logger) *Components {
	detector := detect.New(cfg.Extraction(), logger)

	var pipelineOpts []extraction.Option
	if cfg.Extraction().MapDependencies {
		pipelineOpts = append(pipelineOpts, extraction.WithDependencyMapper(detector))
	}

	var solverOpts []captcha.Option
	if cfg.Captcha().APIKey != "" {
		client := network.NewClient(network.ForCaptcha(cfg.Captcha(), logger))
		solverOpts = append(solverOpts, captcha.WithAPI(captcha.NewTwoCaptcha(cfg.Captcha(), client, logger)))
		logger.Info("CAPTCHA solve API enabled.", zap.String("api_url", cfg.Captcha().APIURL))
	}
	solver := captcha.New(cfg.Captcha(), logger, solverOpts...)

	c := &Components{
		Browser:   b,
		Pipeline:  extraction.NewPipeline(cfg.Extraction(), logger, pipelineOpts...),
		Detector:  detector,
		Solver:    solver,
		Submitter: submit.New(cfg.Submission(), logger, submit.WithCaptcha(detector, solver)),
	}
	if cc := cfg.Cache(); cc.Enabled {
		c.Cache = cache.New(cc.TTL)
	}
	return c
}
