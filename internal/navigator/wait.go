package navigator

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/harvester/internal/crawler"
)

// WaitStrategy evaluates page readiness from a selector condition.
type WaitStrategy struct {
	policy crawler.WaitPolicy
}

// NewWaitStrategy returns a strategy for policy.
func NewWaitStrategy(policy crawler.WaitPolicy) *WaitStrategy {
	return &WaitStrategy{policy: policy}
}

// Wait reports whether the condition held before the timeout. A timeout is not
// an error. Errors are returned for failures of the wait itself.
func (w *WaitStrategy) Wait(ctx context.Context, b crawler.Browser) (bool, error) {
	ready := true
	if w.policy.Selector != "" {
		var err error
		switch w.policy.SelectorKind {
		case crawler.SelectorXPath:
			ready, err = b.WaitXPath(ctx, w.policy.Selector, w.policy.Visible, w.policy.Timeout)
		default:
			ready, err = b.WaitCSS(ctx, w.policy.Selector, w.policy.Visible, w.policy.Timeout)
		}
		if err != nil {
			return false, err
		}
	}
	if ready && w.policy.SettleDelay > 0 {
		if err := sleepContext(ctx, w.policy.SettleDelay); err != nil {
			return false, err
		}
	}
	return ready, nil
}

// Describe renders the condition for logs and skip reasons.
func (w *WaitStrategy) Describe() string {
	if w.policy.Selector == "" {
		return "no wait condition"
	}
	kind := w.policy.SelectorKind
	if kind == "" {
		kind = crawler.SelectorCSS
	}
	state := "present"
	if w.policy.Visible {
		state = "visible"
	}
	return fmt.Sprintf("%s %q %s within %s", kind, w.policy.Selector, state, w.policy.Timeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
