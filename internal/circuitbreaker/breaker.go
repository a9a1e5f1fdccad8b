// Package circuitbreaker provides a per-downstream circuit breaker with
// closed → open → half-open state transitions.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: limited requests allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tradegate",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by downstream, from-state, and to-state.",
}, []string{"downstream", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// Settings are the per-downstream thresholds.
type Settings struct {
	// Threshold is the number of consecutive failures that trips the
	// breaker open.
	Threshold int
	// FailureWindow bounds how old the failure streak may be: a failure
	// older than the window restarts the count.
	FailureWindow time.Duration
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Probes is both the number of concurrent requests allowed while
	// half-open and the consecutive probe successes required to close.
	Probes int
}

// DefaultSettings returns the fallback thresholds.
func DefaultSettings() Settings {
	return Settings{
		Threshold:     5,
		FailureWindow: time.Minute,
		Cooldown:      60 * time.Second,
		Probes:        3,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Threshold <= 0 {
		s.Threshold = d.Threshold
	}
	if s.FailureWindow <= 0 {
		s.FailureWindow = d.FailureWindow
	}
	if s.Cooldown <= 0 {
		s.Cooldown = d.Cooldown
	}
	if s.Probes <= 0 {
		s.Probes = d.Probes
	}
	return s
}

// entry tracks per-downstream circuit state.
type entry struct {
	state          State
	settings       Settings
	failures       int
	firstFailureAt time.Time
	openedAt       time.Time
	probesInFlight int
	probeSuccesses int
}

// Breaker tracks failure state per downstream and decides whether requests
// may be forwarded.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	defaults     Settings
	now          func() time.Time
	onTransition func(downstream string, from, to State) // optional callback
}

// New creates a breaker with the given default settings.
func New(defaults Settings) *Breaker {
	return &Breaker{
		entries:  make(map[string]*entry),
		defaults: defaults.withDefaults(),
		now:      time.Now,
	}
}

// Configure overrides the settings for one downstream. Must be called
// before traffic flows; existing state for the downstream is reset.
func (b *Breaker) Configure(downstream string, s Settings) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[downstream] = &entry{state: StateClosed, settings: s.withDefaults()}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(downstream string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// SetClock replaces the breaker's clock. Test helper.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

func (b *Breaker) get(downstream string) *entry {
	e, ok := b.entries[downstream]
	if !ok {
		e = &entry{state: StateClosed, settings: b.defaults}
		b.entries[downstream] = e
	}
	return e
}

// Allow reports whether a request to downstream may proceed. When the
// breaker is open and the cooldown has elapsed it transitions to half-open
// and admits up to Probes concurrent probe requests.
func (b *Breaker) Allow(downstream string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(downstream)
	switch e.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(e.openedAt) >= e.settings.Cooldown {
			b.transition(e, downstream, StateHalfOpen)
			e.probesInFlight = 1
			e.probeSuccesses = 0
			return true
		}
		return false
	case StateHalfOpen:
		if e.probesInFlight < e.settings.Probes {
			e.probesInFlight++
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess records a successful response from downstream.
func (b *Breaker) RecordSuccess(downstream string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(downstream)
	switch e.state {
	case StateHalfOpen:
		if e.probesInFlight > 0 {
			e.probesInFlight--
		}
		e.probeSuccesses++
		if e.probeSuccesses >= e.settings.Probes {
			b.transition(e, downstream, StateClosed)
			e.failures = 0
			e.probesInFlight = 0
			e.probeSuccesses = 0
		}
	default:
		e.failures = 0
	}
}

// RecordFailure records a failed call to downstream. Trips the breaker when
// the consecutive-failure count inside the failure window reaches the
// threshold; any probe failure while half-open reopens the breaker and
// restarts the cooldown.
func (b *Breaker) RecordFailure(downstream string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.get(downstream)
	now := b.now()

	switch e.state {
	case StateHalfOpen:
		b.transition(e, downstream, StateOpen)
		e.openedAt = now
		e.probesInFlight = 0
		e.probeSuccesses = 0
		return
	case StateOpen:
		return
	}

	// Failures outside the window do not accumulate.
	if e.failures == 0 || now.Sub(e.firstFailureAt) > e.settings.FailureWindow {
		e.failures = 0
		e.firstFailureAt = now
	}
	e.failures++

	if e.failures >= e.settings.Threshold {
		b.transition(e, downstream, StateOpen)
		e.openedAt = now
	}
}

// State returns the current state for a downstream. Unknown downstreams
// report closed.
func (b *Breaker) State(downstream string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[downstream]
	if !ok {
		return StateClosed
	}
	return e.state
}

// Snapshot returns the state of every known downstream. Used by the
// gateway health endpoint.
func (b *Breaker) Snapshot() map[string]State {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]State, len(b.entries))
	for k, e := range b.entries {
		out[k] = e.state
	}
	return out
}

// transition changes state and fires the callback if set.
// Caller must hold b.mu.
func (b *Breaker) transition(e *entry, downstream string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	cbStateTransitions.WithLabelValues(downstream, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(downstream, from, to)
	}
}
