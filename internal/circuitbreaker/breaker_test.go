package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

func testSettings() Settings {
	return Settings{Threshold: 3, FailureWindow: time.Minute, Cooldown: 50 * time.Millisecond, Probes: 2}
}

// clock is a controllable time source for breaker tests.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Now()} }

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b := New(testSettings())
	if !b.Allow("inventory") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(testSettings())

	b.RecordFailure("inventory")
	b.RecordFailure("inventory")
	if !b.Allow("inventory") {
		t.Fatal("should still allow before threshold")
	}

	b.RecordFailure("inventory")
	if b.Allow("inventory") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("inventory") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("inventory"))
	}
}

func TestBreaker_FailureWindowRestartsCount(t *testing.T) {
	clk := newClock()
	b := New(Settings{Threshold: 3, FailureWindow: 10 * time.Second, Cooldown: time.Minute, Probes: 1})
	b.SetClock(clk.now)

	b.RecordFailure("inventory")
	b.RecordFailure("inventory")

	// Streak goes stale; the next failure starts a new count.
	clk.advance(11 * time.Second)
	b.RecordFailure("inventory")

	if b.State("inventory") != StateClosed {
		t.Fatal("stale failures must not trip the breaker")
	}
}

func TestBreaker_OpenToHalfOpenAfterCooldown(t *testing.T) {
	clk := newClock()
	b := New(Settings{Threshold: 2, FailureWindow: time.Minute, Cooldown: 5 * time.Second, Probes: 2})
	b.SetClock(clk.now)

	b.RecordFailure("order")
	b.RecordFailure("order")
	if b.Allow("order") {
		t.Fatal("should be open")
	}

	clk.advance(6 * time.Second)

	// First two requests are probes, the third exceeds the probe budget.
	if !b.Allow("order") {
		t.Fatal("should allow first probe")
	}
	if b.State("order") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("order"))
	}
	if !b.Allow("order") {
		t.Fatal("should allow second probe")
	}
	if b.Allow("order") {
		t.Fatal("third request exceeds probe budget")
	}
}

func TestBreaker_HalfOpenClosesAfterProbeSuccesses(t *testing.T) {
	clk := newClock()
	b := New(Settings{Threshold: 2, FailureWindow: time.Minute, Cooldown: 5 * time.Second, Probes: 2})
	b.SetClock(clk.now)

	b.RecordFailure("user")
	b.RecordFailure("user")
	clk.advance(6 * time.Second)
	b.Allow("user")
	b.Allow("user")

	b.RecordSuccess("user")
	if b.State("user") != StateHalfOpen {
		t.Fatal("one success of two should not close yet")
	}
	b.RecordSuccess("user")
	if b.State("user") != StateClosed {
		t.Fatalf("expected StateClosed after %d probe successes", 2)
	}
	if !b.Allow("user") {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := newClock()
	b := New(Settings{Threshold: 2, FailureWindow: time.Minute, Cooldown: 5 * time.Second, Probes: 2})
	b.SetClock(clk.now)

	b.RecordFailure("user")
	b.RecordFailure("user")
	clk.advance(6 * time.Second)
	b.Allow("user") // half-open

	b.RecordFailure("user")
	if b.State("user") != StateOpen {
		t.Fatalf("expected StateOpen after probe failure, got %v", b.State("user"))
	}

	// Cooldown restarted: still open shortly after.
	clk.advance(3 * time.Second)
	if b.Allow("user") {
		t.Fatal("cooldown should have restarted on probe failure")
	}
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	b := New(testSettings())

	b.RecordFailure("inventory")
	b.RecordFailure("inventory")
	b.RecordSuccess("inventory")
	b.RecordFailure("inventory")

	if !b.Allow("inventory") {
		t.Fatal("should still be closed after reset")
	}
}

func TestBreaker_IndependentDownstreams(t *testing.T) {
	b := New(Settings{Threshold: 2, FailureWindow: time.Minute, Cooldown: time.Minute, Probes: 1})

	b.RecordFailure("inventory")
	b.RecordFailure("inventory")

	if b.Allow("inventory") {
		t.Fatal("inventory should be open")
	}
	if !b.Allow("order") {
		t.Fatal("order should be closed")
	}
}

func TestBreaker_ConfigurePerDownstream(t *testing.T) {
	b := New(testSettings())
	b.Configure("order", Settings{Threshold: 1, FailureWindow: time.Minute, Cooldown: time.Minute, Probes: 1})

	b.RecordFailure("order")
	if b.Allow("order") {
		t.Fatal("order trips after a single failure")
	}

	// Other downstreams keep the defaults.
	b.RecordFailure("user")
	if !b.Allow("user") {
		t.Fatal("user should still be closed")
	}
}

func TestBreaker_OnTransitionCallback(t *testing.T) {
	b := New(Settings{Threshold: 2, FailureWindow: time.Minute, Cooldown: time.Minute, Probes: 1})

	var mu sync.Mutex
	var transitions []struct{ from, to State }
	b.OnTransition(func(downstream string, from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	})

	b.RecordFailure("inventory")
	b.RecordFailure("inventory") // closed→open

	time.Sleep(20 * time.Millisecond) // callback runs in a goroutine

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].from != StateClosed || transitions[0].to != StateOpen {
		t.Fatalf("expected closed→open, got %v→%v", transitions[0].from, transitions[0].to)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
