package captcha

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/browsertest"
	"github.com/xkilldash9x/scalpel-forms/internal/browser/scripts"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubAPI struct {
	token string
	err   error
	tasks []Task
}

func (s *stubAPI) Solve(_ context.Context, task Task) (string, error) {
	s.tasks = append(s.tasks, task)
	return s.token, s.err
}

func newSolver(t *testing.T, opts ...Option) *Solver {
	return New(config.CaptchaConfig{AutoWaitTimeout: 3 * time.Second}, zaptest.NewLogger(t), opts...)
}

var (
	visible   = schemas.CaptchaDetection{Present: true, Kind: schemas.CaptchaRecaptcha, SiteKey: "6Lc", SelectorHint: ".g-recaptcha"}
	invisible = schemas.CaptchaDetection{Present: true, Kind: schemas.CaptchaTurnstile, SiteKey: "ts", Invisible: true}
)

func TestChoose(t *testing.T) {
	api := &stubAPI{}
	assert.Equal(t, StrategyNone, newSolver(t, WithAPI(api)).Choose(schemas.NoCaptcha))
	assert.Equal(t, StrategyWait, newSolver(t, WithAPI(api)).Choose(invisible))
	assert.Equal(t, StrategyAPI, newSolver(t, WithAPI(api)).Choose(visible))
	assert.Equal(t, StrategyManual, newSolver(t).Choose(visible), "no api configured")

	noKey := visible
	noKey.SiteKey = ""
	assert.Equal(t, StrategyManual, newSolver(t, WithAPI(api)).Choose(noKey))

	generic := schemas.CaptchaDetection{Present: true, Kind: schemas.CaptchaGeneric, SiteKey: "x"}
	assert.Equal(t, StrategyManual, newSolver(t, WithAPI(api)).Choose(generic))
}

func TestSolve_AutoWaitResolves(t *testing.T) {
	page := browsertest.New("https://example.com/signup")
	polls := 0
	page.Handle(scripts.CaptchaToken, func(args []interface{}) (interface{}, error) {
		assert.Equal(t, "turnstile", args[0])
		polls++
		if polls < 2 {
			return "", nil
		}
		return "0.token-long-enough-to-count-as-real", nil
	})

	res, err := newSolver(t).Solve(context.Background(), page, invisible)
	require.NoError(t, err)
	assert.True(t, res.Solved)
	assert.Equal(t, StrategyWait, res.Strategy)
	assert.Equal(t, 2, polls)
}

func TestSolve_AutoWaitExpiresToManual(t *testing.T) {
	page := browsertest.New("https://example.com/signup")
	page.Returns(scripts.CaptchaToken, "")

	res, err := newSolver(t).Solve(context.Background(), page, invisible)
	assert.ErrorIs(t, err, ErrManualRequired)
	assert.Equal(t, StrategyManual, res.Strategy)
	assert.Equal(t, 3, page.EvaluatedCount(scripts.CaptchaToken), "one probe per second of the wait")
}

func TestSolve_AutoWaitExpiresToAPI(t *testing.T) {
	page := browsertest.New("https://example.com/signup")
	page.Returns(scripts.CaptchaToken, "")
	page.Returns(scripts.CaptchaInject, injection{Written: 1})
	api := &stubAPI{token: "tok"}

	res, err := newSolver(t, WithAPI(api)).Solve(context.Background(), page, invisible)
	require.NoError(t, err)
	assert.Equal(t, StrategyAPI, res.Strategy)
	require.Len(t, api.tasks, 1)
	assert.True(t, api.tasks[0].Invisible)
}

func TestSolve_API(t *testing.T) {
	page := browsertest.New("https://example.com/signup")
	var injected []interface{}
	page.Handle(scripts.CaptchaInject, func(args []interface{}) (interface{}, error) {
		injected = args
		return injection{Written: 2, Callback: true}, nil
	})
	api := &stubAPI{token: "solved-token"}

	res, err := newSolver(t, WithAPI(api)).Solve(context.Background(), page, visible)
	require.NoError(t, err)
	assert.True(t, res.Solved)
	assert.True(t, res.CallbackFired)
	assert.Equal(t, 2, res.Injected)
	assert.Equal(t, []interface{}{"recaptcha", "solved-token"}, injected)
	assert.Equal(t, Task{Kind: schemas.CaptchaRecaptcha, SiteKey: "6Lc", PageURL: "https://example.com/signup"}, api.tasks[0])
}

func TestSolve_APIFailureFallsBackToManual(t *testing.T) {
	page := browsertest.New("https://example.com/signup")
	api := &stubAPI{err: errors.New("ERROR_ZERO_BALANCE")}

	res, err := newSolver(t, WithAPI(api)).Solve(context.Background(), page, visible)
	assert.ErrorIs(t, err, ErrManualRequired)
	assert.Equal(t, StrategyManual, res.Strategy)
	assert.Zero(t, page.EvaluatedCount(scripts.CaptchaInject))
}

func TestSolve_InjectionWithoutField(t *testing.T) {
	page := browsertest.New("https://example.com/signup")
	page.Returns(scripts.CaptchaInject, injection{})
	api := &stubAPI{token: "tok"}

	_, err := newSolver(t, WithAPI(api)).Solve(context.Background(), page, visible)
	assert.ErrorIs(t, err, ErrManualRequired)
}

func TestSolve_Canceled(t *testing.T) {
	page := browsertest.New("https://example.com/signup")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSolver(t).Solve(ctx, page, invisible)
	assert.ErrorIs(t, err, context.Canceled)
}
