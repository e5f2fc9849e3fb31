// internal/browser/humanoid/typist.go
package humanoid

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/scalpel-forms/internal/config"
)

// Executor is the low-level surface the typist drives.
type Executor interface {
	SendKeys(ctx context.Context, keys string) error
	Sleep(ctx context.Context, d time.Duration) error
}

// commonNgrams are typed faster than arbitrary pairs.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true,
	"the": true, "and": true, "ing": true, "ion": true, "tio": true,
}

// Typist types text in bursts with pauses between words. It never introduces
// typos: form values must land exactly as given.
type Typist struct {
	cfg      config.HumanoidConfig
	executor Executor

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTypist creates a typist. A nil rng seeds one from the clock.
func NewTypist(cfg config.HumanoidConfig, executor Executor, rng *rand.Rand) *Typist {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.KeyHoldMeanMs <= 0 {
		cfg.KeyHoldMeanMs = 55
	}
	if cfg.BurstMinChars <= 0 {
		cfg.BurstMinChars = 3
	}
	if cfg.BurstMaxChars < cfg.BurstMinChars {
		cfg.BurstMaxChars = cfg.BurstMinChars
	}
	return &Typist{cfg: cfg, executor: executor, rng: rng}
}

// Type sends text into whatever element currently has focus. Whitespace runs
// are typed as given.
func (t *Typist) Type(ctx context.Context, text string) error {
	runes := []rune(text)
	burst := t.nextBurst()
	inBurst := 0

	for i, r := range runes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.executor.SendKeys(ctx, string(r)); err != nil {
			return err
		}
		if i == len(runes)-1 {
			break
		}

		inBurst++
		var pause time.Duration
		switch {
		case r == ' ':
			pause = t.wordPause(runes[i+1:])
			inBurst = 0
			burst = t.nextBurst()
		case inBurst >= burst:
			pause = t.jitter(t.cfg.BurstPauseMeanMs, t.cfg.BurstPauseMeanMs*0.3)
			inBurst = 0
			burst = t.nextBurst()
		default:
			pause = t.keyHold(runes, i+1)
		}
		if err := t.executor.Sleep(ctx, pause); err != nil {
			return err
		}
	}
	return nil
}

// CognitivePause sleeps for a normally distributed duration around meanMs.
func (t *Typist) CognitivePause(ctx context.Context, meanMs, stdDevMs float64) error {
	return t.executor.Sleep(ctx, t.jitter(meanMs, stdDevMs))
}

func (t *Typist) nextBurst() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	span := t.cfg.BurstMaxChars - t.cfg.BurstMinChars + 1
	return t.cfg.BurstMinChars + t.rng.Intn(span)
}

// keyHold is the dwell before the rune at index; known n-grams are quicker.
func (t *Typist) keyHold(runes []rune, index int) time.Duration {
	factor := 1.0
	if index >= 2 && commonNgrams[strings.ToLower(string(runes[index-2:index+1]))] {
		factor = 0.7
	} else if index >= 1 && commonNgrams[strings.ToLower(string(runes[index-1:index+1]))] {
		factor = 0.8
	}
	return t.jitter(t.cfg.KeyHoldMeanMs*factor, t.cfg.KeyHoldStdDevMs*factor)
}

// wordPause grows slightly with the length of the next word.
func (t *Typist) wordPause(rest []rune) time.Duration {
	next := 0
	for _, r := range rest {
		if r == ' ' {
			break
		}
		next++
	}
	mean := t.cfg.WordPauseMeanMs + float64(next)*5
	return t.jitter(mean, mean*0.2)
}

func (t *Typist) jitter(meanMs, stdDevMs float64) time.Duration {
	t.mu.Lock()
	n := t.rng.NormFloat64()
	t.mu.Unlock()
	ms := math.Max(15, n*stdDevMs+meanMs)
	return time.Duration(ms * float64(time.Millisecond))
}
