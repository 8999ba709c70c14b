package persistence

import (
	"sync"
	"time"

	appconfig "tickflow/config"
	"tickflow/logger"
)

// BreakerStatus is the circuit state for the storage write path.
type BreakerStatus int

const (
	BreakerClosed BreakerStatus = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerStatus) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards the storage write path. It opens after a run of
// consecutive failures, and after a cooldown admits exactly one trial write;
// the trial's outcome decides between closing again and restarting the
// cooldown. All transitions happen under one lock so concurrent flushes see
// a consistent state.
type CircuitBreaker struct {
	mu                  sync.Mutex
	status              BreakerStatus
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool

	failureThreshold int
	recoveryTimeout  time.Duration
	log              *logger.Log
	now              func() time.Time
}

func NewCircuitBreaker(cfg appconfig.CircuitBreakerConfig) *CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	timeout := cfg.RecoveryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: threshold,
		recoveryTimeout:  timeout,
		log:              logger.GetLogger(),
		now:              time.Now,
	}
}

// Allow reports whether a write attempt may proceed, transitioning from open
// to half-open once the cooldown has elapsed. In half-open state only the
// single trial write is admitted.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.recoveryTimeout {
			return false
		}
		b.status = BreakerHalfOpen
		b.trialInFlight = true
		b.log.WithComponent("circuit_breaker").Info("cooldown elapsed, admitting trial write")
		return true
	case BreakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != BreakerClosed {
		b.log.WithComponent("circuit_breaker").Info("write succeeded, closing circuit")
	}
	b.status = BreakerClosed
	b.consecutiveFailures = 0
	b.trialInFlight = false
}

// RecordFailure counts one failure; the circuit opens when the threshold is
// reached or when a half-open trial fails.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.trialInFlight = false

	if b.status == BreakerHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		if b.status != BreakerOpen {
			b.log.WithComponent("circuit_breaker").WithFields(logger.Fields{
				"consecutive_failures": b.consecutiveFailures,
			}).Warn("opening circuit")
		}
		b.status = BreakerOpen
		b.openedAt = b.now()
	}
}

// Status reports the current circuit state without side effects.
func (b *CircuitBreaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// IsOpen reports whether writes are currently being rejected.
func (b *CircuitBreaker) IsOpen() bool {
	return b.Status() == BreakerOpen
}

// ConsecutiveFailures reports the current failure run length.
func (b *CircuitBreaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
