package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskforge/internal/executor"
	"github.com/aristath/taskforge/internal/metrics"
	"github.com/aristath/taskforge/internal/queue"
	"github.com/aristath/taskforge/internal/scheduler"
)

// scripted returns the configured outcomes in order.
type scripted struct {
	mu      sync.Mutex
	results []any // queue.Result or error
	calls   int
}

func (s *scripted) Execute(context.Context, scheduler.Task, string) (queue.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calls >= len(s.results) {
		return queue.Result{}, fmt.Errorf("unexpected call %d", s.calls+1)
	}
	next := s.results[s.calls]
	s.calls++
	switch v := next.(type) {
	case queue.Result:
		return v, nil
	case error:
		return queue.Result{}, v
	default:
		return queue.Result{}, fmt.Errorf("invalid result type %T", v)
	}
}

func (s *scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastRetry(n int) RetryConfig {
	return RetryConfig{
		MaxRetries:      n,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func newResilient(t *testing.T, next executor.Executor, retries int) (*ResilientExecutor, *metrics.Metrics) {
	t.Helper()
	_, m := metrics.NewRegistry()
	cb := NewCircuitBreakerRegistry(BreakerConfig{}, nil, m).Get("test")
	return NewResilientExecutor(next, "test", cb, fastRetry(retries), nil, m), m
}

func TestResilientTransientThenSuccess(t *testing.T) {
	next := &scripted{results: []any{
		errors.New("transient 1"),
		errors.New("transient 2"),
		queue.Result{Success: true, Output: "ok"},
	}}
	e, m := newResilient(t, next, 2)

	res, err := e.Execute(context.Background(), scheduler.Task{ID: "a"}, "/tmp")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, 3, next.Calls())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExecutorRetries.WithLabelValues("test")))
}

func TestResilientRetriesExhausted(t *testing.T) {
	next := &scripted{results: []any{
		errors.New("down"), errors.New("down"), errors.New("still down"),
	}}
	e, _ := newResilient(t, next, 2)

	_, err := e.Execute(context.Background(), scheduler.Task{ID: "a"}, "/tmp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still down")
	assert.Equal(t, 3, next.Calls())
}

func TestResilientTaskFailureNotRetried(t *testing.T) {
	next := &scripted{results: []any{queue.Result{Success: false, Error: "tests failed"}}}
	e, _ := newResilient(t, next, 3)

	res, err := e.Execute(context.Background(), scheduler.Task{ID: "a"}, "/tmp")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, next.Calls())
}

func TestResilientPermanentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"invalid command", fmt.Errorf("%w: empty command", executor.ErrInvalidCommand)},
		{"cancelled", context.Canceled},
		{"deadline", context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			next := executor.Func(func(context.Context, scheduler.Task, string) (queue.Result, error) {
				if errors.Is(tt.err, context.Canceled) {
					cancel()
				}
				return queue.Result{}, tt.err
			})
			calls := 0
			counting := executor.Func(func(ctx context.Context, task scheduler.Task, dir string) (queue.Result, error) {
				calls++
				return next(ctx, task, dir)
			})
			e, _ := newResilient(t, counting, 3)

			_, err := e.Execute(ctx, scheduler.Task{ID: "a"}, "/tmp")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestResilientCancelledBeforeStart(t *testing.T) {
	next := &scripted{results: []any{queue.Result{Success: true}}}
	e, _ := newResilient(t, next, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, scheduler.Task{ID: "a"}, "/tmp")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, next.Calls())
}

func TestCircuitBreakerOpens(t *testing.T) {
	_, m := metrics.NewRegistry()
	registry := NewCircuitBreakerRegistry(BreakerConfig{MaxFailures: 2, Timeout: time.Minute}, nil, m)
	cb := registry.Get("agent")

	next := &scripted{results: []any{errors.New("boom"), errors.New("boom")}}
	e := NewResilientExecutor(next, "agent", cb, fastRetry(0), nil, m)

	for i := 0; i < 2; i++ {
		_, err := e.Execute(context.Background(), scheduler.Task{ID: "a"}, "/tmp")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
	assert.Equal(t, float64(gobreaker.StateOpen), testutil.ToFloat64(m.BreakerState.WithLabelValues("agent")))

	_, err := e.Execute(context.Background(), scheduler.Task{ID: "a"}, "/tmp")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, next.Calls())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	registry := NewCircuitBreakerRegistry(BreakerConfig{MaxFailures: 1}, nil, nil)
	cb := registry.Get("agent")

	next := executor.Func(func(context.Context, scheduler.Task, string) (queue.Result, error) {
		return queue.Result{}, context.Canceled
	})
	e := NewResilientExecutor(next, "agent", cb, fastRetry(0), nil, nil)

	_, err := e.Execute(context.Background(), scheduler.Task{ID: "a"}, "/tmp")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerRegistryReuses(t *testing.T) {
	registry := NewCircuitBreakerRegistry(BreakerConfig{}, nil, nil)
	assert.Same(t, registry.Get("a"), registry.Get("a"))
	assert.NotSame(t, registry.Get("a"), registry.Get("b"))
}

func TestRunnerWithResilientExecutor(t *testing.T) {
	h := newHarness()
	next := &scripted{results: []any{errors.New("flaky"), queue.Result{Success: true}}}
	e, _ := newResilient(t, next, 1)

	report, err := h.runner(Config{}, e).Run(context.Background(), graph(t, map[string][]string{"A": nil}))
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, 2, next.Calls())
}
