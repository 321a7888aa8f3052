package tunnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBreakerStateString(t *testing.T) {
	cases := []struct {
		state BreakerState
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{BreakerState(999), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("BreakerState(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestDialBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewDialBreaker("acme", DialBreakerConfig{MaxFailures: 3, RecoveryTimeout: time.Minute}, zerolog.Nop())

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("breaker opened before reaching MaxFailures")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("breaker did not open after MaxFailures consecutive failures")
	}

	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestDialBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewDialBreaker("acme", DialBreakerConfig{MaxFailures: 3, RecoveryTimeout: time.Minute}, zerolog.Nop())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Fatalf("breaker should still be closed, a success reset the streak")
	}
}

func TestDialBreakerHalfOpenProbeAfterRecovery(t *testing.T) {
	cb := NewDialBreaker("acme", DialBreakerConfig{MaxFailures: 1, RecoveryTimeout: 10 * time.Millisecond}, zerolog.Nop())

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("breaker did not open after single failure with MaxFailures=1")
	}

	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() before recovery timeout = %v, want ErrCircuitOpen", err)
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after recovery timeout = %v, want nil (half-open probe)", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("breaker state = %v, want half-open after probe admitted", cb.State())
	}
}

func TestDialBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewDialBreaker("acme", DialBreakerConfig{MaxFailures: 1, RecoveryTimeout: time.Millisecond}, zerolog.Nop())

	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected half-open probe to be admitted: %v", err)
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("a failed probe in half-open must reopen the breaker, got %v", cb.State())
	}
}

func TestDialBreakerHalfOpenSuccessCloses(t *testing.T) {
	cb := NewDialBreaker("acme", DialBreakerConfig{MaxFailures: 1, RecoveryTimeout: time.Millisecond}, zerolog.Nop())

	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected half-open probe to be admitted: %v", err)
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("a successful probe in half-open must close the breaker, got %v", cb.State())
	}
}

func TestDefaultDialBreakerConfigFillsZeroValues(t *testing.T) {
	cb := NewDialBreaker("acme", DialBreakerConfig{}, zerolog.Nop())
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want default 5", cb.maxFailures)
	}
	if cb.recoveryTimeout != 60*time.Second {
		t.Errorf("recoveryTimeout = %v, want default 60s", cb.recoveryTimeout)
	}
}

func TestEveryTunnelGetsAnIndependentBreaker(t *testing.T) {
	m := newTestManager(t, 5, 100, 10)

	a, err := m.Create(context.Background(), CreateRequest{ClientIP: "10.0.0.1", UserID: "u1", TargetPort: 8080})
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := m.Create(context.Background(), CreateRequest{ClientIP: "10.0.0.1", UserID: "u1", TargetPort: 8081})
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}

	a.Breaker().RecordFailure()
	a.Breaker().RecordFailure()
	a.Breaker().RecordFailure()
	a.Breaker().RecordFailure()
	a.Breaker().RecordFailure()

	if a.Breaker().State() != StateOpen {
		t.Fatalf("tunnel a's breaker should be open after 5 failures")
	}
	if b.Breaker().State() != StateClosed {
		t.Fatalf("tunnel b's breaker must be unaffected by tunnel a's failures, got %v", b.Breaker().State())
	}
}
