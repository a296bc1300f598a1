package infra

import (
	"errors"
	"testing"
	"time"
)

var errDown = errors.New("service down")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures, successes int, timeout time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: failures,
		SuccessThreshold: successes,
		Timeout:          timeout,
	})
	cb.now = clock.Now
	return cb, clock
}

func fail() error    { return errDown }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 1, time.Minute)

	cb.Do(fail, nil)
	cb.Do(fail, nil)
	if cb.Current() != StateClosed {
		t.Fatalf("should still be closed after 2 failures, got %s", cb.Current())
	}

	cb.Do(fail, nil)
	if cb.Current() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.Current())
	}

	called := false
	err := cb.Do(func() error { called = true; return nil }, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while the breaker is open")
	}
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb, _ := newTestBreaker(2, 1, time.Minute)

	cb.Do(fail, nil)
	cb.Do(succeed, nil)
	cb.Do(fail, nil)

	if cb.Current() != StateClosed {
		t.Errorf("non-consecutive failures should not open the breaker, got %s", cb.Current())
	}
}

func TestCircuitBreaker_ProbesAfterCoolDown(t *testing.T) {
	cb, clock := newTestBreaker(1, 2, 30*time.Second)

	cb.Do(fail, nil)
	clock.Advance(29 * time.Second)
	if cb.Allow() {
		t.Fatal("expected rejection before the cool-down ends")
	}

	clock.Advance(time.Second)
	if err := cb.Do(succeed, nil); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	if cb.Current() != StateHalfOpen {
		t.Fatalf("expected half-open after 1 probe success, got %s", cb.Current())
	}

	cb.Do(succeed, nil)
	if cb.Current() != StateClosed {
		t.Errorf("expected closed after 2 probe successes, got %s", cb.Current())
	}
}

func TestCircuitBreaker_ProbeFailureRestartsCoolDown(t *testing.T) {
	cb, clock := newTestBreaker(1, 1, 10*time.Second)

	cb.Do(fail, nil)
	clock.Advance(10 * time.Second)
	cb.Do(fail, nil)

	if cb.Current() != StateOpen {
		t.Fatalf("expected open after probe failure, got %s", cb.Current())
	}
	clock.Advance(5 * time.Second)
	if cb.Allow() {
		t.Error("cool-down should restart from the probe failure")
	}
}

func TestCircuitBreaker_IgnoredErrorsPassThrough(t *testing.T) {
	cb, _ := newTestBreaker(2, 1, time.Minute)
	ignored := errors.New("caller error")
	countable := func(err error) bool { return !errors.Is(err, ignored) }

	for i := 0; i < 5; i++ {
		if err := cb.Do(func() error { return ignored }, countable); !errors.Is(err, ignored) {
			t.Fatalf("expected passthrough error, got %v", err)
		}
	}
	if cb.Current() != StateClosed {
		t.Fatal("ignored errors opened the breaker")
	}

	cb.Do(fail, countable)
	cb.Do(fail, countable)
	if cb.Current() != StateOpen {
		t.Errorf("countable failures should open the breaker, got %s", cb.Current())
	}
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	var transitions []string
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:    "hook",
		Timeout: time.Second,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	cb.now = clock.Now

	for i := 0; i < 5; i++ {
		cb.Do(fail, nil)
	}
	clock.Advance(time.Second)
	cb.Do(succeed, nil)

	want := []string{"hook:closed->open", "hook:open->half-open", "hook:half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestState_String(t *testing.T) {
	if State(7).String() != "unknown" {
		t.Errorf("unexpected name for out-of-range state: %s", State(7))
	}
}
