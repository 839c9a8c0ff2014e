package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/taskforge/internal/executor"
	"github.com/aristath/taskforge/internal/logging"
	"github.com/aristath/taskforge/internal/metrics"
	"github.com/aristath/taskforge/internal/queue"
	"github.com/aristath/taskforge/internal/scheduler"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	MaxRetries          int           // Retries after the first attempt (0 disables retry)
	InitialInterval     time.Duration // Initial retry interval (default 1s)
	MaxInterval         time.Duration // Maximum retry interval (default 30s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:          2,
		InitialInterval:     time.Second,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// BreakerConfig configures the circuit breakers handed out by a registry.
type BreakerConfig struct {
	MaxFailures uint32        // Consecutive failures that trip the breaker (default 5)
	Timeout     time.Duration // How long the breaker stays open (default 1m)
}

// CircuitBreakerRegistry manages one circuit breaker per executor name.
type CircuitBreakerRegistry struct {
	cfg     BreakerConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry. logger
// and m may be nil.
func NewCircuitBreakerRegistry(cfg BreakerConfig, logger *logging.Logger, m *metrics.Metrics) *CircuitBreakerRegistry {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CircuitBreakerRegistry{
		cfg:      cfg,
		logger:   logger.WithComponent("breaker"),
		metrics:  m,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for name, creating it on first use.
func (r *CircuitBreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	maxFailures := r.cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one probe while half-open
		Timeout:     r.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			r.metrics.Breaker(name, int(to))
		},
		IsSuccessful: func(err error) bool {
			// Cancellation and bad configuration say nothing about the
			// executor's health.
			return err == nil || isCancellation(err) || errors.Is(err, executor.ErrInvalidCommand)
		},
	})
	r.metrics.Breaker(name, int(gobreaker.StateClosed))

	r.breakers[name] = cb
	return cb
}

// ResilientExecutor retries infrastructure errors of the wrapped executor
// with exponential backoff, behind a circuit breaker. Task failures (a
// Result with Success false) are returned as-is and never retried.
type ResilientExecutor struct {
	next    executor.Executor
	name    string
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewResilientExecutor wraps next. logger and m may be nil.
func NewResilientExecutor(next executor.Executor, name string, cb *gobreaker.CircuitBreaker, retry RetryConfig, logger *logging.Logger, m *metrics.Metrics) *ResilientExecutor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ResilientExecutor{
		next:    next,
		name:    name,
		breaker: cb,
		retry:   retry,
		logger:  logger.WithComponent("executor"),
		metrics: m,
	}
}

// Execute runs the task, retrying errors that may be transient.
func (e *ResilientExecutor) Execute(ctx context.Context, task scheduler.Task, workDir string) (queue.Result, error) {
	var res queue.Result

	operation := func() error {
		// Fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		out, err := e.breaker.Execute(func() (interface{}, error) {
			return e.next.Execute(ctx, task, workDir)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, executor.ErrInvalidCommand) || isCancellation(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		res = out.(queue.Result)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retry.InitialInterval
	policy.MaxInterval = e.retry.MaxInterval
	policy.MaxElapsedTime = 0 // bounded by MaxRetries
	if e.retry.Multiplier > 0 {
		policy.Multiplier = e.retry.Multiplier
	}
	policy.RandomizationFactor = e.retry.RandomizationFactor

	retries := e.retry.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)

	notify := func(err error, wait time.Duration) {
		e.metrics.Retry(e.name)
		e.logger.WithTask(task.ID).Warn("executor failed, retrying", "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return queue.Result{}, err
	}
	return res, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
