// Package circuitbreaker guards the durable store. When redemption commits
// fail repeatedly the breaker opens and the pipeline routes new decisions
// straight to the offline queue instead of paying the database timeout on
// every request. After a cooldown, half-open probes test whether the store
// recovered.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	StateClosed   State = iota // durable commits flow normally
	StateOpen                  // commits bypassed, decisions queue
	StateHalfOpen              // limited probes test recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many probes in half-open state")
)

// Counts tracks commit outcomes within the current state generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) clear() {
	*c = Counts{}
}

// Requests is incremented by Allow, not here, so half-open probe limiting
// counts attempts rather than completions.
func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Config tunes the breaker.
type Config struct {
	Name string

	// MaxRequests bounds probes allowed through in half-open state.
	MaxRequests uint32

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// ReadyToTrip decides, after each failure in closed state, whether to
	// open the breaker.
	ReadyToTrip func(counts Counts) bool

	// OnStateChange observes transitions. Optional.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig trips after three consecutive commit failures and probes
// once per 30-second cooldown.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
}

// Breaker is a minimal state machine over Counts. The pipeline calls Allow
// before touching the durable store and Record with the attempt's outcome;
// a rejected replay counts as success, since the store answered.
type Breaker struct {
	cfg *Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

func New(cfg *Config) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig("durable-store")
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultConfig(cfg.Name).ReadyToTrip
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

func (b *Breaker) Name() string {
	return b.cfg.Name
}

// State returns the current state, moving open → half-open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// Allow reports whether a durable-store attempt may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch state := b.currentState(time.Now()); state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.counts.Requests >= b.cfg.MaxRequests {
			return ErrTooManyRequests
		}
	}
	b.counts.Requests++
	return nil
}

// Record feeds the outcome of an allowed attempt back into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentState(now)

	if success {
		switch state {
		case StateClosed:
			b.counts.onSuccess()
		case StateHalfOpen:
			b.counts.onSuccess()
			if b.counts.ConsecutiveSuccesses >= b.cfg.MaxRequests {
				b.setState(StateClosed, now)
			}
		}
		return
	}

	switch state {
	case StateClosed:
		b.counts.onFailure()
		if b.cfg.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && now.After(b.expiry) {
		b.setState(StateHalfOpen, now)
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	from := b.state
	b.state = state
	b.counts.clear()
	if state == StateOpen {
		b.expiry = now.Add(b.cfg.Timeout)
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, state)
	}
}
