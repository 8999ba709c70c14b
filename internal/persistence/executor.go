package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	appconfig "tickflow/config"
	"tickflow/logger"
)

// ErrServiceDegraded is returned when a write cannot be performed and no
// cached or fallback response exists. Raw storage driver errors never reach
// the caller.
var ErrServiceDegraded = errors.New("persistence degraded, no fallback available")

// Operation is one storage interaction; its payload is the response cached
// for degraded-mode fallback.
type Operation func(ctx context.Context) ([]byte, error)

// FallbackResult carries an operation's outcome plus whether it was served
// from the response cache or fallback value instead of live storage.
type FallbackResult struct {
	Payload   []byte
	FromCache bool
}

// Executor centralizes the retry, circuit-breaker and cache-fallback policy
// for every storage interaction. Degraded mode is distinct from the breaker:
// it is set on initialization-class failures and cleared only by an explicit
// successful health check, not by the breaker's half-open probe.
type Executor struct {
	breaker  *CircuitBreaker
	cache    ResponseCache
	retry    appconfig.RetryConfig
	degraded atomic.Bool
	log      *logger.Log
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewExecutor(breaker *CircuitBreaker, cache ResponseCache, retry appconfig.RetryConfig) *Executor {
	return &Executor{
		breaker: breaker,
		cache:   cache,
		retry:   retry,
		log:     logger.GetLogger(),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Breaker exposes the circuit for health surfaces.
func (e *Executor) Breaker() *CircuitBreaker { return e.breaker }

// Degraded reports whether degraded mode is active.
func (e *Executor) Degraded() bool { return e.degraded.Load() }

// MarkDegraded enters degraded mode. Used for initialization-class errors
// such as storage being completely unreachable.
func (e *Executor) MarkDegraded() {
	if !e.degraded.Swap(true) {
		e.log.WithComponent("persistence").Warn("entering degraded mode, writes suspended")
	}
}

// HealthCheck probes storage and clears degraded mode on success. This is
// the only path out of degraded mode.
func (e *Executor) HealthCheck(ctx context.Context, ping func(ctx context.Context) error) error {
	if err := ping(ctx); err != nil {
		return err
	}
	if e.degraded.Swap(false) {
		e.log.WithComponent("persistence").Info("health check passed, leaving degraded mode")
	}
	e.breaker.RecordSuccess()
	return nil
}

// ExecuteWithFallback runs op with up to maxRetries attempts and exponential
// backoff between them. A success caches the response under cacheKey and
// resets the breaker. Exhausting the retries counts as one breaker failure
// and falls back to the cached response, then to the supplied fallback
// value, before surfacing ErrServiceDegraded. While the circuit is open or
// degraded mode is active the operation is skipped entirely.
func (e *Executor) ExecuteWithFallback(ctx context.Context, name string, op Operation, fallback []byte, cacheKey string, maxRetries int) (FallbackResult, error) {
	log := e.log.WithComponent("persistence").WithField("operation", name)

	if e.degraded.Load() {
		log.Debug("degraded mode active, serving from cache")
		return e.serveFallback(ctx, fallback, cacheKey, ErrServiceDegraded)
	}
	if !e.breaker.Allow() {
		log.Debug("circuit open, serving from cache")
		return e.serveFallback(ctx, fallback, cacheKey, ErrServiceDegraded)
	}

	if maxRetries <= 0 {
		maxRetries = e.retry.MaxAttempts
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.retryDelay(attempt)); err != nil {
				lastErr = err
				break
			}
		}

		payload, err := op(ctx)
		if err == nil {
			e.breaker.RecordSuccess()
			if cacheKey != "" && e.cache != nil {
				e.cache.Set(ctx, cacheKey, payload)
			}
			return FallbackResult{Payload: payload}, nil
		}

		lastErr = err
		log.WithError(err).WithField("attempt", attempt+1).Warn("storage operation failed")
	}

	// one breaker failure per exhausted retry sequence
	e.breaker.RecordFailure()
	e.log.LogMetric("persistence", "flush_failures", 1, "Count", logger.Fields{"operation": name})

	return e.serveFallback(ctx, fallback, cacheKey, fmt.Errorf("%w: %v", ErrServiceDegraded, lastErr))
}

func (e *Executor) serveFallback(ctx context.Context, fallback []byte, cacheKey string, failure error) (FallbackResult, error) {
	if cacheKey != "" && e.cache != nil {
		if payload, ok := e.cache.Get(ctx, cacheKey); ok {
			return FallbackResult{Payload: payload, FromCache: true}, nil
		}
	}
	if fallback != nil {
		return FallbackResult{Payload: fallback, FromCache: true}, nil
	}
	return FallbackResult{}, failure
}

// retryDelay grows the in-flush backoff geometrically: base * multiplier^(attempt-1),
// capped at the configured maximum.
func (e *Executor) retryDelay(attempt int) time.Duration {
	base := e.retry.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := e.retry.MaxDelay
	if max <= 0 {
		max = 10 * time.Second
	}
	multiplier := e.retry.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= time.Duration(multiplier)
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
