package captcha

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scalpel-forms/api/schemas"
	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

// ErrServiceRejected wraps an error code returned by the solving service.
var ErrServiceRejected = errors.New("captcha service rejected the request")

const notReady = "CAPCHA_NOT_READY"

var errNotReady = errors.New(notReady)

// TwoCaptcha talks to a service exposing the in.php/res.php protocol.
type TwoCaptcha struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
	// Every call, submission included, takes a token so polls stay spaced out.
	limiter *rate.Limiter
}

// NewTwoCaptcha builds a client from configuration. A nil client gets a default with a timeout.
func NewTwoCaptcha(cfg config.CaptchaConfig, client *http.Client, logger *zap.Logger) *TwoCaptcha {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &TwoCaptcha{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  logger.Named("twocaptcha"),
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the task and polls until the token is ready.
func (c *TwoCaptcha) Solve(ctx context.Context, task Task) (string, error) {
	params, err := c.taskParams(task)
	if err != nil {
		return "", err
	}
	sub, err := c.call(ctx, "in.php", params)
	if err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	id := sub.Request
	c.logger.Debug("Task submitted.", zap.String("id", id), zap.String("kind", string(task.Kind)))

	poll := url.Values{"action": {"get"}, "id": {id}}
	for {
		res, err := c.call(ctx, "res.php", poll)
		if err == nil {
			return res.Request, nil
		}
		if !errors.Is(err, errNotReady) {
			return "", fmt.Errorf("poll task %s: %w", id, err)
		}
	}
}

func (c *TwoCaptcha) taskParams(task Task) (url.Values, error) {
	v := url.Values{"pageurl": {task.PageURL}}
	switch task.Kind {
	case schemas.CaptchaRecaptcha:
		v.Set("method", "userrecaptcha")
		v.Set("googlekey", task.SiteKey)
		if task.Invisible {
			v.Set("invisible", "1")
		}
	case schemas.CaptchaHCaptcha:
		v.Set("method", "hcaptcha")
		v.Set("sitekey", task.SiteKey)
	case schemas.CaptchaTurnstile:
		v.Set("method", "turnstile")
		v.Set("sitekey", task.SiteKey)
	default:
		return nil, fmt.Errorf("%s captcha: %w", task.Kind, ErrServiceRejected)
	}
	return v, nil
}

func (c *TwoCaptcha) call(ctx context.Context, endpoint string, params url.Values) (apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return apiResponse{}, err
	}
	q := url.Values{"key": {c.apiKey}, "json": {"1"}}
	for k, vs := range params {
		q[k] = vs
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return apiResponse{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apiResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return apiResponse{}, fmt.Errorf("%s: http %d", endpoint, resp.StatusCode)
	}
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return apiResponse{}, fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	if out.Status != 1 {
		if out.Request == notReady {
			return out, errNotReady
		}
		return out, fmt.Errorf("%s: %w: %s", endpoint, ErrServiceRejected, out.Request)
	}
	return out, nil
}
