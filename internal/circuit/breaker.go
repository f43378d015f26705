// Package circuit implements the per-connection breaker state machine:
// Closed -> Open after enough failures inside a sliding window, Open ->
// HalfOpen after the cooldown elapses, HalfOpen -> Closed on one successful
// probe or back to Open (with a longer cooldown) on a failed one.
package circuit

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config controls breaker thresholds. Zero values fall back to defaults.
type Config struct {
	Threshold          int           // failures inside Window that trip the breaker
	Window             time.Duration // sliding window for counting failures
	Cooldown           time.Duration // initial open duration
	CooldownMax        time.Duration // cap for the exponential growth
	CooldownMultiplier float64       // growth factor applied on a failed probe
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = 10 * time.Minute
	}
	if c.CooldownMultiplier < 1 {
		c.CooldownMultiplier = 2
	}
	return c
}

type Breaker struct {
	mu            sync.Mutex
	cfg           Config
	name          string
	state         State
	failures      []time.Time
	openedAt      time.Time
	cooldown      time.Duration
	trialInFlight bool
	onStateChange func(name string, from, to State)

	now func() time.Time // overridable in tests
}

func NewBreaker(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		name:     name,
		cfg:      cfg,
		state:    StateClosed,
		cooldown: cfg.Cooldown,
		now:      time.Now,
	}
}

func (b *Breaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = handler
}

// Allow reports whether a call may proceed. In HalfOpen exactly one probe is
// admitted until its outcome has been recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.transition(StateHalfOpen)
			b.trialInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.cooldown = b.cfg.Cooldown
		b.failures = b.failures[:0]
		b.transition(StateClosed)
	case StateClosed:
		b.failures = b.failures[:0]
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		b.failures = append(b.failures, now)
		b.prune(now)
		if len(b.failures) >= b.cfg.Threshold {
			b.openedAt = now
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.trialInFlight = false
		b.openedAt = now
		b.cooldown = time.Duration(float64(b.cooldown) * b.cfg.CooldownMultiplier)
		if b.cooldown > b.cfg.CooldownMax {
			b.cooldown = b.cfg.CooldownMax
		}
		b.transition(StateOpen)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	// An expired cooldown means the breaker is ready to half-open even if
	// nobody has called Allow yet.
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// FailureCount returns the failures currently inside the sliding window.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.now())
	return len(b.failures)
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to)
	}
}
