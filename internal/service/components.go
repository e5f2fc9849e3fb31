package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/session"
	"github.com/xkilldash9x/scalpel-forms/internal/cache"
	"github.com/xkilldash9x/scalpel-forms/internal/captcha"
	"github.com/xkilldash9x/scalpel-forms/internal/detect"
	"github.com/xkilldash9x/scalpel-forms/internal/extraction"
	"github.com/xkilldash9x/scalpel-forms/internal/submit"
)

// Tab is one open browser page the engine drives and then closes.
type Tab interface {
	browser.Page
	Close()
}

// Browser hands out tabs. session.Manager is the production implementation.
type Browser interface {
	Open(ctx context.Context) (Tab, error)
	Shutdown(ctx context.Context) error
}

// Recorder keeps a history of what the engine extracted and submitted.
// store.Store is the production implementation.
type Recorder interface {
	SaveForms(ctx context.Context, pageURL string, forms []schemas.FormSchema) error
	SaveOutcome(ctx context.Context, pageURL string, formIndex int, out *schemas.SubmissionOutcome) error
	Close()
}

// Components holds the long-lived pieces an Engine wires together.
// Cache is nil when caching is disabled and Recorder is nil without a database.
type Components struct {
	Browser   Browser
	Pipeline  *extraction.Pipeline
	Detector  *detect.Detector
	Solver    *captcha.Solver
	Submitter *submit.Submitter
	Cache     *cache.SchemaCache
	Recorder  Recorder
}

// Shutdown releases the browser and the database pool and drops cached schemas.
func (c *Components) Shutdown(ctx context.Context, logger *zap.Logger) error {
	if c.Cache != nil {
		c.Cache.Clear()
	}
	if c.Recorder != nil {
		c.Recorder.Close()
	}
	if c.Browser == nil {
		return nil
	}
	logger.Debug("Shutting down browser.")
	return c.Browser.Shutdown(ctx)
}

type managerBrowser struct {
	m *session.Manager
}

func (b managerBrowser) Open(ctx context.Context) (Tab, error) {
	s, err := b.m.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b managerBrowser) Shutdown(ctx context.Context) error {
	return b.m.Shutdown(ctx)
}
