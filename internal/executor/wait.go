package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/averender/webrun/internal/browser"
	"github.com/averender/webrun/internal/config"
)

// waitFunc arms a wait condition and returns its await closure. Event-driven
// conditions register their driver subscription before returning, so an
// action dispatched after arming cannot outrun the listener.
type waitFunc func(ctx context.Context, page browser.Page, cond *config.WaitCondition) func() error

// waitDispatch is the enumerated map from declarative wait kind to driver
// primitive. Primitive names are never derived from the kind label; note the
// xpath entry binds to the XPath primitive, not a renamed selector wait.
var waitDispatch = map[config.WaitKind]waitFunc{
	config.WaitNavigation: func(ctx context.Context, page browser.Page, _ *config.WaitCondition) func() error {
		return page.WaitNavigation(ctx)
	},
	config.WaitNetworkIdle: func(ctx context.Context, page browser.Page, _ *config.WaitCondition) func() error {
		return page.WaitRequestIdle(ctx)
	},
	config.WaitSelector: func(ctx context.Context, page browser.Page, cond *config.WaitCondition) func() error {
		return func() error { return page.WaitElement(ctx, cond.Selector) }
	},
	config.WaitXPath: func(ctx context.Context, page browser.Page, cond *config.WaitCondition) func() error {
		return func() error { return page.WaitElementX(ctx, cond.XPath) }
	},
	config.WaitTimeout: func(ctx context.Context, _ browser.Page, cond *config.WaitCondition) func() error {
		return func() error {
			select {
			case <-time.After(time.Duration(cond.Timeout) * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	},
	config.WaitRequest: func(ctx context.Context, page browser.Page, cond *config.WaitCondition) func() error {
		return page.WaitRequest(ctx, cond.URL)
	},
	config.WaitResponse: func(ctx context.Context, page browser.Page, cond *config.WaitCondition) func() error {
		return page.WaitResponse(ctx, cond.URL)
	},
	config.WaitFunction: func(ctx context.Context, page browser.Page, cond *config.WaitCondition) func() error {
		return func() error { return page.WaitFunction(ctx, cond.Script) }
	},
}

// arm looks the condition up in the dispatch table, registers its
// subscription and returns the await closure, bounded by the condition's own
// timeout when it sets one. The returned cancel must be called once the wait
// is done with.
func (e *Executor) arm(ctx context.Context, page browser.Page, cond *config.WaitCondition) (func() error, context.CancelFunc, error) {
	fn, ok := waitDispatch[cond.For]
	if !ok {
		return nil, nil, fmt.Errorf("unknown wait condition %q", cond.For)
	}
	cancel := context.CancelFunc(func() {})
	if cond.For != config.WaitTimeout && cond.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cond.Timeout)*time.Millisecond)
	}
	wait := fn(ctx, page, cond)
	return func() error {
		if err := wait(); err != nil {
			return fmt.Errorf("waiting for %s: %w", cond.For, err)
		}
		return nil
	}, cancel, nil
}

// await suspends until the condition resolves.
func (e *Executor) await(ctx context.Context, page browser.Page, cond *config.WaitCondition) error {
	wait, cancel, err := e.arm(ctx, page, cond)
	if err != nil {
		return err
	}
	defer cancel()
	return wait()
}
