package tunnel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunnelgate/tunnelgate/internal/metrics"
)

// BreakerState is the state of a DialBreaker.
type BreakerState int

const (
	// StateClosed means dials to the tunnel's loopback listener flow
	// through normally.
	StateClosed BreakerState = iota
	// StateOpen means recent dials have failed past the threshold and
	// new dials are rejected immediately, without touching the socket.
	StateOpen
	// StateHalfOpen means the recovery timeout has elapsed and the next
	// dial is let through as a probe.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// DialBreaker guards the proxy and SSH session's dials to a single
// tunnel's loopback listener. A backend behind a tunnel that stops
// accepting connections (crashed, overloaded) would otherwise leave
// every proxied request paying the full connect timeout; the breaker
// trips open after a run of failures so those requests fail fast
// instead, and probes with a single half-open dial once the backend
// has had time to recover.
type DialBreaker struct {
	subdomain string

	maxFailures     int
	recoveryTimeout time.Duration

	failures     int
	lastFailure  time.Time
	state        BreakerState
	stateChanged time.Time

	mu  sync.Mutex
	log zerolog.Logger
}

// DialBreakerConfig holds the failure threshold and recovery window
// for a DialBreaker.
type DialBreakerConfig struct {
	// MaxFailures before the breaker opens (default: 5).
	MaxFailures int
	// RecoveryTimeout before a half-open probe is allowed (default: 60s).
	RecoveryTimeout time.Duration
}

// DefaultDialBreakerConfig returns the configuration applied to every
// tunnel's breaker at creation.
func DefaultDialBreakerConfig() DialBreakerConfig {
	return DialBreakerConfig{
		MaxFailures:     5,
		RecoveryTimeout: 60 * time.Second,
	}
}

// ErrCircuitOpen is returned by Allow while the breaker is open.
var ErrCircuitOpen = errors.New("dial breaker is open")

// NewDialBreaker constructs a breaker for the given tunnel subdomain,
// used only to label its own log lines.
func NewDialBreaker(subdomain string, config DialBreakerConfig, log zerolog.Logger) *DialBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}

	return &DialBreaker{
		subdomain:       subdomain,
		maxFailures:     config.MaxFailures,
		recoveryTimeout: config.RecoveryTimeout,
		state:           StateClosed,
		stateChanged:    time.Now(),
		log:             log.With().Str("component", "dial_breaker").Str("subdomain", subdomain).Logger(),
	}
}

// Allow reports whether a dial to the tunnel's loopback listener
// should proceed.
func (cb *DialBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.stateChanged) > cb.recoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			return nil
		}
		return fmt.Errorf("%w: open for %v", ErrCircuitOpen, time.Since(cb.stateChanged))
	case StateHalfOpen:
		return nil
	default:
		return errors.New("dial breaker: unknown state")
	}
}

// RecordSuccess records a successful dial.
func (cb *DialBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.transitionTo(StateClosed)
		cb.failures = 0
	case StateClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed dial to the tunnel's loopback listener.
func (cb *DialBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.transitionTo(StateOpen)
		}
	}
}

// State returns the breaker's current state.
func (cb *DialBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transitionTo changes state. Caller must hold cb.mu.
func (cb *DialBreaker) transitionTo(newState BreakerState) {
	failuresAtTrip := cb.failures
	cb.state = newState
	cb.stateChanged = time.Now()

	if newState == StateClosed || newState == StateOpen {
		cb.failures = 0
	}

	if newState == StateOpen {
		metrics.DialBreakerOpened.Inc()
		cb.log.Warn().Int("failures", failuresAtTrip).Dur("recovery_timeout", cb.recoveryTimeout).
			Msg("dial breaker tripped open")
	} else {
		cb.log.Debug().Str("state", newState.String()).Msg("dial breaker state change")
	}
}
