package navigator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/crawler"
)

const measureScript = `const el = document.scrollingElement || document.documentElement;
const h = Math.max(el.scrollHeight, document.body ? document.body.scrollHeight : 0);
return {height: h, bottom: window.scrollY + window.innerHeight >= h - 2};`

// ScrollStrategy drives incremental scrolling to trigger lazy content.
type ScrollStrategy struct {
	policy crawler.ScrollPolicy
	logger *zap.Logger
	pause  func() time.Duration
}

// NewScrollStrategy returns a strategy for policy.
func NewScrollStrategy(policy crawler.ScrollPolicy, logger *zap.Logger) *ScrollStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.StableChecks <= 0 {
		policy.StableChecks = 1
	}
	s := &ScrollStrategy{policy: policy, logger: logger}
	s.pause = s.randomPause
	return s
}

type pageMetrics struct {
	Height float64 `json:"height"`
	Bottom bool    `json:"bottom"`
}

// Scroll repeats scroll+pause until MaxIterations is reached or, with
// StopWhenStable, the page height stops changing while at the bottom. It
// returns the number of scrolls performed.
func (s *ScrollStrategy) Scroll(ctx context.Context, b crawler.Browser) (int, error) {
	if s.policy.Strategy == crawler.ScrollNone || s.policy.Strategy == "" || s.policy.MaxIterations <= 0 {
		return 0, nil
	}
	script, err := s.scrollScript()
	if err != nil {
		return 0, err
	}

	last, err := s.measure(ctx, b)
	if err != nil {
		return 0, err
	}
	stable := 0
	for i := 0; i < s.policy.MaxIterations; i++ {
		if _, err := b.ExecuteScript(ctx, script, false); err != nil {
			return i, fmt.Errorf("scroll: %w", err)
		}
		if err := sleepContext(ctx, s.pause()); err != nil {
			return i + 1, err
		}
		current, err := s.measure(ctx, b)
		if err != nil {
			return i + 1, err
		}
		if s.policy.StopWhenStable {
			if current.Height == last.Height && current.Bottom {
				stable++
				if stable >= s.policy.StableChecks {
					s.logger.Debug("scroll stable", zap.Int("iterations", i+1), zap.Float64("height", current.Height))
					return i + 1, nil
				}
			} else {
				stable = 0
			}
		}
		last = current
	}
	return s.policy.MaxIterations, nil
}

func (s *ScrollStrategy) scrollScript() (string, error) {
	switch s.policy.Strategy {
	case crawler.ScrollStep:
		step := s.policy.Step
		if step <= 0 {
			step = 800
		}
		return "window.scrollBy(0, " + strconv.Itoa(step) + "); return null;", nil
	case crawler.ScrollBottom:
		return "window.scrollTo(0, (document.scrollingElement || document.documentElement).scrollHeight); return null;", nil
	default:
		return "", fmt.Errorf("unknown scroll strategy %q", s.policy.Strategy)
	}
}

func (s *ScrollStrategy) measure(ctx context.Context, b crawler.Browser) (pageMetrics, error) {
	raw, err := b.ExecuteScript(ctx, measureScript, false)
	if err != nil {
		return pageMetrics{}, fmt.Errorf("measure page: %w", err)
	}
	var m pageMetrics
	if err := jsoniter.Unmarshal(raw, &m); err != nil {
		return pageMetrics{}, fmt.Errorf("decode page metrics: %w", err)
	}
	return m, nil
}

func (s *ScrollStrategy) randomPause() time.Duration {
	lo, hi := s.policy.PauseMin, s.policy.PauseMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
