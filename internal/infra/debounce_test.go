package infra

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_LastCallWins(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)

	var calls int32
	var last atomic.Value
	for _, q := range []string{"b", "bi", "bit"} {
		q := q
		d.Trigger(func() {
			atomic.AddInt32(&calls, 1)
			last.Store(q)
		})
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly 1 call, got %d", n)
	}
	if last.Load() != "bit" {
		t.Errorf("expected last query to fire, got %v", last.Load())
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	var calls int32
	d.Trigger(func() { atomic.AddInt32(&calls, 1) })
	d.Stop()
	d.Trigger(func() { atomic.AddInt32(&calls, 1) })

	time.Sleep(60 * time.Millisecond)
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("expected no calls after Stop, got %d", n)
	}
}
