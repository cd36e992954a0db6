package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	cfg := CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          100 * time.Millisecond,
	}
	cb := NewCircuitBreaker(cfg)

	ctx := context.Background()
	failErr := errors.New("failure")

	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed, got %v", cb.State())
	}

	cb.Execute(ctx, func(ctx context.Context) error { return failErr })
	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed, got %v", cb.State())
	}

	cb.Execute(ctx, func(ctx context.Context) error { return failErr })
	if cb.State() != StateOpen {
		t.Errorf("Expected state Open, got %v", cb.State())
	}

	err := cb.Execute(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	err = cb.Execute(ctx, func(ctx context.Context) error { return nil })
	if err != nil {
		t.Errorf("Expected success in Half-Open, got %v", err)
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected state Closed after success, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailure(t *testing.T) {
	cfg := CircuitBreakerConfig{
		Name:             "test-cb-fail",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	}
	cb := NewCircuitBreaker(cfg)
	ctx := context.Background()
	fail := errors.New("fail")

	cb.Execute(ctx, func(ctx context.Context) error { return fail })
	if cb.State() != StateOpen {
		t.Fatalf("Failed to open circuit")
	}

	time.Sleep(100 * time.Millisecond)

	cb.Execute(ctx, func(ctx context.Context) error { return fail })

	if cb.State() != StateOpen {
		t.Errorf("Expected state Open after half-open failure, got %v", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("reset-test"))
	cb.setState(StateOpen)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Error("Reset failed to close circuit")
	}
}
