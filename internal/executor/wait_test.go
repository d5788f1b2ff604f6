package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averender/webrun/internal/config"
)

// Every declared wait kind must have a dispatch entry; the primitive binding
// is enumerated, never derived from the label.
func TestWaitDispatchCoversAllKinds(t *testing.T) {
	for _, kind := range config.WaitKinds() {
		assert.NotNil(t, waitDispatch[kind], "no primitive bound for %q", kind)
	}
	assert.Len(t, waitDispatch, len(config.WaitKinds()))
}

func TestAwaitUnknownKind(t *testing.T) {
	e := newTestExecutor(t, nil)
	err := e.await(context.Background(), &fakePage{}, &config.WaitCondition{For: "idle-ish"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown wait condition")
}

func TestAwaitDispatchesToDistinctPrimitives(t *testing.T) {
	e := newTestExecutor(t, nil)
	page := &fakePage{}

	conds := []*config.WaitCondition{
		{For: config.WaitNavigation},
		{For: config.WaitNetworkIdle},
		{For: config.WaitSelector, Selector: ".x"},
		{For: config.WaitXPath, XPath: "//x"},
		{For: config.WaitRequest, URL: "/api"},
		{For: config.WaitResponse, URL: "/api"},
		{For: config.WaitFunction, Script: "() => true"},
	}
	for _, c := range conds {
		require.NoError(t, e.await(context.Background(), page, c))
	}
	assert.Equal(t, []string{
		"navigation", "network-idle", "selector", "xpath",
		"request", "response", "function",
	}, page.waits)
}

func TestAwaitTimeoutKindSleeps(t *testing.T) {
	e := newTestExecutor(t, nil)
	start := time.Now()
	err := e.await(context.Background(), &fakePage{}, &config.WaitCondition{
		For:     config.WaitTimeout,
		Timeout: 30,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestAwaitTimeoutKindHonorsCancellation(t *testing.T) {
	e := newTestExecutor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.await(ctx, &fakePage{}, &config.WaitCondition{
		For:     config.WaitTimeout,
		Timeout: 60_000,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// blockingPage never resolves its waits; used to test the composed bound.
type blockingPage struct {
	fakePage
}

func (b *blockingPage) WaitElement(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestAwaitComposesUpperBound(t *testing.T) {
	e := newTestExecutor(t, nil)
	err := e.await(context.Background(), &blockingPage{}, &config.WaitCondition{
		For:      config.WaitSelector,
		Selector: ".never",
		Timeout:  25,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
