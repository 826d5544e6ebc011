package llm

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState is the breaker position for one backend.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

const (
	// DefaultFailureThreshold opens the circuit after this many
	// consecutive counting failures.
	DefaultFailureThreshold = 5
	// DefaultOpenDuration is how long an open circuit rejects calls
	// before admitting a probe.
	DefaultOpenDuration = 30 * time.Second
)

// CircuitBreaker isolates one failing backend. OPEN rejects every call;
// HALF_OPEN admits a single probe.
type CircuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	failureThreshold int
	openDuration     time.Duration
	backendID        string
	logger           *zap.Logger
}

// BreakerSnapshot is a point-in-time view for health reporting.
type BreakerSnapshot struct {
	BackendID           string
	State               string
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// NewCircuitBreaker creates a breaker for backendID. Zero threshold or
// duration selects the defaults.
func NewCircuitBreaker(backendID string, failureThreshold int, openDuration time.Duration, logger *zap.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if openDuration <= 0 {
		openDuration = DefaultOpenDuration
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		openDuration:     openDuration,
		backendID:        backendID,
		logger:           logger.With(zap.String("component", "circuit_breaker"), zap.String("backend", backendID)),
	}
}

// Allow reports whether a call may proceed. In HALF_OPEN it claims the
// single probe slot; the caller must follow up with RecordSuccess or
// RecordFailure to release it.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) < cb.openDuration {
			return false
		}
		cb.state = StateHalfOpen
		cb.probeInFlight = true
		cb.logger.Info("circuit half-open, admitting probe")
		return true
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess resets the failure counter and closes a half-open
// circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.logger.Info("probe succeeded, closing circuit")
	}
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.probeInFlight = false
}

// RecordFailure registers a failed call. Kinds that do not signal
// backend health (AUTH, BAD_REQUEST) leave the counter untouched.
func (cb *CircuitBreaker) RecordFailure(kind FailureKind) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !kind.CountsForBreaker() {
		// Release the probe slot without judging backend health.
		cb.probeInFlight = false
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.probeInFlight = false
		cb.logger.Warn("probe failed, reopening circuit", zap.String("kind", string(kind)))
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
			cb.logger.Warn("circuit opened",
				zap.Int("consecutive_failures", cb.consecutiveFailures),
				zap.String("kind", string(kind)))
		}
	}
}

// State returns the current position, promoting OPEN to HALF_OPEN when
// the open window has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.openDuration {
		return StateHalfOpen
	}
	return cb.state
}

// Snapshot returns a view for health reports.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		BackendID:           cb.backendID,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		OpenedAt:            cb.openedAt,
	}
}

// Reset forces the breaker back to CLOSED.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.probeInFlight = false
}
