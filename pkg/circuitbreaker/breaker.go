// Package circuitbreaker stops calling a dependency that keeps failing and
// probes it again after a cool-down.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

var (
	// ErrOpen is returned without calling the dependency while the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned when half-open probe slots are taken.
	ErrTooManyProbes = errors.New("too many requests in half-open state")
)

// Settings tunes the state machine. Zero values take the defaults.
type Settings struct {
	Enabled bool `mapstructure:"enabled"`
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold uint32 `mapstructure:"success_threshold"`
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	// MaxProbes bounds concurrent calls while half-open.
	MaxProbes uint32 `mapstructure:"max_probes"`
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = 2
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.MaxProbes == 0 {
		s.MaxProbes = 1
	}
	return s
}

// Breaker guards one named dependency.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	// OnStateChange runs synchronously after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	generation      uint64
	openedAt        time.Time
	probes          uint32
	consecutiveFail uint32
	consecutiveSucc uint32
}

// New returns a closed breaker.
func New(name string, settings Settings) *Breaker {
	return &Breaker{name: name, settings: settings.withDefaults(), now: time.Now}
}

// Name identifies the guarded dependency.
func (b *Breaker) Name() string { return b.name }

// State reports the current position, moving open to half-open once the
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.refresh()
	state := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return state
}

// refresh must hold mu.
func (b *Breaker) refresh() (State, State) {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.settings.OpenTimeout)) {
		return b.transition(StateHalfOpen)
	}
	return b.state, b.state
}

// transition must hold mu.
func (b *Breaker) transition(to State) (State, State) {
	from := b.state
	if from == to {
		return from, to
	}
	b.state = to
	b.generation++
	b.consecutiveFail, b.consecutiveSucc, b.probes = 0, 0, 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	return from, to
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.OnStateChange != nil {
		b.OnStateChange(b.name, from, to)
	}
}

// Execute calls fn unless the breaker is open. Cancellation by the caller is
// neither a success nor a failure of the dependency. A call that outlives a
// state change does not count toward the new state.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	generation, err := b.before()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.after(ctx, generation, err)
	return err
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	from, to := b.refresh()
	generation := b.generation
	var err error
	switch b.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		if b.probes >= b.settings.MaxProbes {
			err = ErrTooManyProbes
		} else {
			b.probes++
		}
	}
	b.mu.Unlock()
	b.notify(from, to)
	return generation, err
}

func (b *Breaker) after(ctx context.Context, generation uint64, err error) {
	b.mu.Lock()
	if generation != b.generation {
		b.mu.Unlock()
		return
	}
	halfOpen := b.state == StateHalfOpen
	if halfOpen {
		b.probes--
	}
	from, to := b.state, b.state
	switch {
	case err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)):
		// caller gave up; says nothing about the dependency
	case err == nil:
		b.consecutiveFail = 0
		b.consecutiveSucc++
		if halfOpen && b.consecutiveSucc >= b.settings.SuccessThreshold {
			from, to = b.transition(StateClosed)
		}
	default:
		b.consecutiveSucc = 0
		b.consecutiveFail++
		if halfOpen || b.consecutiveFail >= b.settings.FailureThreshold {
			from, to = b.transition(StateOpen)
		}
	}
	b.mu.Unlock()
	b.notify(from, to)
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from, to := b.transition(StateClosed)
	b.mu.Unlock()
	b.notify(from, to)
}
