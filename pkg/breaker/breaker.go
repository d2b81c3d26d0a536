// Package breaker implements a per-dependency circuit breaker.
//
// Downstream dependencies (chat-messaging gateway, OCR providers) fail in
// correlated bursts; blocking all callers during an outage avoids wasted
// timeout budget and lets the dependency recover without being hammered.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's position in its closed/open/half-open cycle.
type State string

const (
	// Closed: normal operation, calls pass through.
	Closed State = "closed"
	// Open: the circuit tripped, calls are rejected until the timeout elapses.
	Open State = "open"
	// HalfOpen: probation, a limited number of probe calls decide
	// whether to close again.
	HalfOpen State = "half-open"
)

// Config tunes one breaker. Every field is independently tunable per
// dependency.
type Config struct {
	// FailureThreshold is the number of failures within WindowSize that
	// trips a closed breaker open.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in
	// half-open needed to close the breaker.
	SuccessThreshold int

	// Timeout is how long an open breaker rejects calls before allowing
	// a probe.
	Timeout time.Duration

	// WindowSize is the sliding look-back over which failures count.
	WindowSize time.Duration
}

// DefaultConfig mirrors the production defaults: five failures in a
// minute open the circuit for thirty seconds; two clean probes close it.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		WindowSize:       time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold < 1 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	return c
}

type failure struct {
	at     time.Time
	reason string
}

// Metrics is a point-in-time observability snapshot of one breaker.
type Metrics struct {
	Name            string        `json:"name"`
	State           State         `json:"state"`
	Failures        int           `json:"failures"`
	SinceTransition time.Duration `json:"since_transition_ms"`
}

// Breaker tracks the health of one named dependency. All methods are safe
// for concurrent use.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu             sync.Mutex
	state          State
	failures       []failure
	successes      int // counted only while half-open
	lastTransition time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger used for transition events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the time source. Tests use this to drive window
// pruning and timeout elapse deterministically.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a breaker for the named dependency.
func New(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		now:    time.Now,
		state:  Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastTransition = b.now()
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether an outbound call should be attempted. It returns
// false only while the breaker is open and the timeout has not elapsed.
// Once the timeout elapses, the breaker moves to half-open and the caller
// gets the probe slot; concurrent processes may each run their own probe,
// which the design tolerates.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return true
	}

	now := b.now()
	if now.Sub(b.lastTransition) < b.cfg.Timeout {
		return false
	}

	b.transition(HalfOpen, now, "timeout elapsed")
	return true
}

// RecordSuccess notes a successful call. In half-open it counts toward
// probation; reaching the success threshold closes the breaker and clears
// the failure history. In closed it resets the failure window outright.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.failures = b.failures[:0]
			b.transition(Closed, b.now(), "success threshold reached")
		}
	case Closed:
		// Full reset, not decay.
		b.failures = b.failures[:0]
	}
}

// RecordFailure notes a failed call. A single failure during half-open
// probation reopens the circuit; in closed, reaching the failure
// threshold within the sliding window opens it.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.prune(now)
	b.failures = append(b.failures, failure{at: now, reason: reason})

	switch b.state {
	case HalfOpen:
		b.transition(Open, now, "failure during probation")
	case Closed:
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.transition(Open, now, "failure threshold reached")
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns an observability snapshot.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		Name:            b.name,
		State:           b.state,
		Failures:        len(b.failures),
		SinceTransition: b.now().Sub(b.lastTransition),
	}
}

// Reset returns the breaker to closed with an empty failure history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = b.failures[:0]
	b.successes = 0
	if b.state != Closed {
		b.transition(Closed, b.now(), "manual reset")
	}
}

// prune drops failure entries older than the sliding window. Caller holds b.mu.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.WindowSize)
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.failures = kept
}

// transition moves the state machine and emits one structured event.
// Caller holds b.mu.
func (b *Breaker) transition(to State, now time.Time, reason string) {
	from := b.state
	b.state = to
	b.lastTransition = now
	if to != HalfOpen {
		b.successes = 0
	}

	level := slog.LevelInfo
	if to == Open {
		level = slog.LevelWarn
	}
	b.logger.LogAttrs(context.Background(), level, "circuit state changed",
		slog.String("dependency", b.name),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason),
		slog.Int("failures", len(b.failures)),
	)
}
