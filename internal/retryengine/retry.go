// Package retryengine implements the Retry Engine (C2): exponential backoff
// with jitter over throttling/transient failures, process-wide atomic
// metrics, and a sony/gobreaker circuit breaker wrapped around the same call
// path. Directly adapted from the teacher's RetryConfig/RetryWithBackoff and
// CircuitBreaker (internal/repository/retry.go), generalized from a
// DynamoDB-error-only classifier to the pluggable Classifier this spec
// requires, and rewired onto github.com/sony/gobreaker instead of the
// teacher's hand-rolled state machine since that's the library the rest of
// the corpus (internal/middleware/circuit_breaker.go) already reaches for.
package retryengine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ddbsql/ddbsql/internal/driverrors"
	"github.com/ddbsql/ddbsql/internal/observability"
)

// Config mirrors spec.md §4.2.
type Config struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterEnabled bool

	// CircuitBreakerName, when non-empty, enables a gobreaker circuit around
	// the operation. Leave empty to disable (e.g. per-table breakers keyed
	// by table name are created by the caller with distinct names).
	CircuitBreakerName    string
	CircuitMaxFailures    uint32
	CircuitResetTimeout   time.Duration
}

// DefaultConfig matches spec.md §4.2 defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         3,
		BaseDelay:           100 * time.Millisecond,
		MaxDelay:            20 * time.Second,
		JitterEnabled:       true,
		CircuitMaxFailures:  5,
		CircuitResetTimeout: 30 * time.Second,
	}
}

// Classifier decides whether an error is retryable. The remote package
// provides the DynamoDB-specific implementation; tests supply fakes.
type Classifier func(err error) (retryable bool)

// Engine executes operations with backoff, jitter, and an optional circuit
// breaker, recording metrics through the shared Collector.
type Engine struct {
	cfg        Config
	classify   Classifier
	metrics    *observability.Collector
	logger     *zap.Logger
	breaker    *gobreaker.CircuitBreaker
	randSource func() float64
}

// New builds a retry Engine. classifier must not be nil.
func New(cfg Config, classifier Classifier, metrics *observability.Collector, logger *zap.Logger) *Engine {
	if metrics == nil {
		metrics = observability.Noop()
	}
	logger = observability.WithFallback(logger)

	e := &Engine{cfg: cfg, classify: classifier, metrics: metrics, logger: logger, randSource: rand.Float64}

	if cfg.CircuitBreakerName != "" {
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.CircuitBreakerName,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     cfg.CircuitResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.CircuitMaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Info("circuit breaker state change", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
	}
	return e
}

// Operation is a unit of work the engine retries.
type Operation func(ctx context.Context) error

// Do executes op with exponential backoff and jitter (spec.md §4.2 algorithm).
// Non-retryable errors (validation, permission, parse) surface immediately.
func (e *Engine) Do(ctx context.Context, op Operation) error {
	run := op
	if e.breaker != nil {
		run = func(ctx context.Context) error {
			_, err := e.breaker.Execute(func() (interface{}, error) {
				return nil, op(ctx)
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return driverrors.New(driverrors.KindTransient, "retryengine.Do").
					Retryable(false). // circuit open: do not add more retries on top
					Cause(err).Message("circuit breaker open").Build()
			}
			return err
		}
	}

	var lastErr error
	attempted := 0
	for attempt := 0; attempt <= e.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		attempted++
		err := run(ctx)
		e.metrics.RetryAttempts.WithLabelValues(outcomeLabel(err)).Inc()
		if err == nil {
			if attempt > 0 {
				e.metrics.RetrySuccessAfterRetry.Inc()
			}
			return nil
		}
		lastErr = err

		if !e.classify(err) {
			e.metrics.RetryFatalFailures.Inc()
			return err
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		e.metrics.RetryThrottlingEvents.Inc()
		delay := e.calculateDelay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	e.metrics.RetryFatalFailures.Inc()
	return driverrors.New(driverrors.KindTransient, "retryengine.Do").
		Retryable(false).
		Cause(lastErr).
		Message("operation failed after %d attempts", attempted).
		Build()
}

// calculateDelay implements spec.md §4.2: delay = min(base*2^attempt, max),
// then sampled uniformly from [delay/2, delay] when jitter is enabled.
func (e *Engine) calculateDelay(attempt int) time.Duration {
	backoff := float64(e.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	delay := time.Duration(backoff)
	if delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}
	if e.cfg.JitterEnabled {
		half := delay / 2
		delay = half + time.Duration(e.randSource()*float64(delay-half))
	}
	return delay
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}
