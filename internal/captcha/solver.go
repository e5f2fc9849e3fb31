// Package captcha decides how to get past a detected CAPTCHA: wait for an
// invisible one to resolve itself, hand a visible one to a solving service, or
// give up and ask a person.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

// ErrManualRequired is terminal: a person has to solve the CAPTCHA in the open session.
var ErrManualRequired = errors.New("captcha requires manual solving")

// Strategy names the path the solver took.
type Strategy string

const (
	StrategyNone   Strategy = "none_required"
	StrategyWait   Strategy = "auto_wait"
	StrategyAPI    Strategy = "api_solve"
	StrategyManual Strategy = "manual_fallback"
)

const (
	defaultAutoWait = 15 * time.Second
	tokenPoll       = time.Second
)

// Task is what a solving service needs to produce a token.
type Task struct {
	Kind      schemas.CaptchaKind
	SiteKey   string
	PageURL   string
	Invisible bool
}

// SolveAPI is a remote CAPTCHA solving service. Solve blocks until a token is
// ready, the service gives up, or ctx ends.
type SolveAPI interface {
	Solve(ctx context.Context, task Task) (string, error)
}

// Result describes how a CAPTCHA was handled.
type Result struct {
	Strategy      Strategy      `json:"strategy"`
	Solved        bool          `json:"solved"`
	Injected      int           `json:"injected,omitempty"`
	CallbackFired bool          `json:"callbackFired,omitempty"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Solver picks and runs a strategy for a detection.
type Solver struct {
	logger   *zap.Logger
	api      SolveAPI
	autoWait time.Duration
	timeout  time.Duration
}

// Option configures a Solver.
type Option func(*Solver)

// WithAPI sets the solving service used for visible CAPTCHAs.
func WithAPI(api SolveAPI) Option {
	return func(s *Solver) { s.api = api }
}

// New builds a Solver. Without WithAPI every visible CAPTCHA ends in manual fallback.
func New(cfg config.CaptchaConfig, logger *zap.Logger, opts ...Option) *Solver {
	s := &Solver{
		logger:   logger.Named("captcha"),
		autoWait: cfg.AutoWaitTimeout,
		timeout:  cfg.SolveTimeout,
	}
	if s.autoWait <= 0 {
		s.autoWait = defaultAutoWait
	}
	if s.timeout <= 0 {
		s.timeout = 3 * time.Minute
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Choose returns the first strategy the solver would try for det.
func (s *Solver) Choose(det schemas.CaptchaDetection) Strategy {
	switch {
	case !det.Present:
		return StrategyNone
	case det.Invisible:
		return StrategyWait
	case s.canSolve(det):
		return StrategyAPI
	}
	return StrategyManual
}

func (s *Solver) canSolve(det schemas.CaptchaDetection) bool {
	if s.api == nil || det.SiteKey == "" {
		return false
	}
	switch det.Kind {
	case schemas.CaptchaRecaptcha, schemas.CaptchaHCaptcha, schemas.CaptchaTurnstile:
		return true
	}
	return false
}

// Solve runs the strategy chain. An invisible CAPTCHA that never produces a
// token falls through to the API when one can be used. Whatever cannot be
// solved automatically ends in ErrManualRequired.
func (s *Solver) Solve(ctx context.Context, page browser.Page, det schemas.CaptchaDetection) (Result, error) {
	start := time.Now()
	strategy := s.Choose(det)
	log := s.logger.With(zap.String("kind", string(det.Kind)), zap.String("strategy", string(strategy)))

	if strategy == StrategyWait {
		solved, err := s.awaitToken(ctx, page, det.Kind)
		if err != nil {
			return Result{Strategy: strategy, Elapsed: time.Since(start)}, err
		}
		if solved {
			log.Info("Invisible CAPTCHA resolved on its own.")
			return Result{Strategy: strategy, Solved: true, Elapsed: time.Since(start)}, nil
		}
		log.Debug("No token after waiting.", zap.Duration("waited", s.autoWait))
		strategy = StrategyManual
		if s.canSolve(det) {
			strategy = StrategyAPI
		}
	}

	if strategy == StrategyAPI {
		res, err := s.solveRemote(ctx, page, det)
		res.Elapsed = time.Since(start)
		if err == nil {
			log.Info("CAPTCHA solved by service.", zap.Bool("callback", res.CallbackFired))
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		log.Warn("CAPTCHA service failed, falling back to manual.", zap.Error(err))
	}

	log.Info("CAPTCHA needs a person.", zap.String("selector", det.SelectorHint))
	return Result{Strategy: StrategyManual, Elapsed: time.Since(start)}, fmt.Errorf("%s captcha: %w", det.Kind, ErrManualRequired)
}

// awaitToken polls the response field until a token shows up or the fixed wait is over.
func (s *Solver) awaitToken(ctx context.Context, page browser.Page, kind schemas.CaptchaKind) (bool, error) {
	polls := max(int(s.autoWait/tokenPoll), 1)
	for i := 0; i < polls; i++ {
		var token string
		if err := page.Evaluate(ctx, scripts.CaptchaToken, &token, string(kind)); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			s.logger.Debug("Token probe failed.", zap.Error(err))
		}
		if token != "" {
			return true, nil
		}
		if err := page.Wait(ctx, tokenPoll); err != nil {
			return false, err
		}
	}
	return false, nil
}

type injection struct {
	Written  int  `json:"written"`
	Callback bool `json:"callback"`
}

func (s *Solver) solveRemote(ctx context.Context, page browser.Page, det schemas.CaptchaDetection) (Result, error) {
	res := Result{Strategy: StrategyAPI}
	pageURL, err := page.URL(ctx)
	if err != nil {
		return res, fmt.Errorf("read page url: %w", err)
	}

	solveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	token, err := s.api.Solve(solveCtx, Task{Kind: det.Kind, SiteKey: det.SiteKey, PageURL: pageURL, Invisible: det.Invisible})
	if err != nil {
		return res, err
	}

	var inj injection
	if err := page.Evaluate(ctx, scripts.CaptchaInject, &inj, string(det.Kind), token); err != nil {
		return res, fmt.Errorf("inject token: %w", err)
	}
	if inj.Written == 0 {
		return res, fmt.Errorf("inject token: no response field: %w", browser.ErrElementNotFound)
	}
	res.Solved = true
	res.Injected = inj.Written
	res.CallbackFired = inj.Callback
	return res, nil
}
