// Package circuitbreaker guards the completion API. After a run of
// failures the breaker opens and calls fail immediately, which lets the
// evaluation layer substitute the rule engine without waiting on a dead
// upstream. A cooldown later the breaker admits a few probes; enough
// probe successes close it again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	// MaxRequests caps concurrent probes while half-open.
	MaxRequests uint32
	// Interval resets the failure streak while closed; zero never resets.
	Interval time.Duration
	// Timeout is the open-state cooldown before probing resumes.
	Timeout time.Duration
	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold uint32
	// SuccessThreshold consecutive probe successes close a half-open one.
	SuccessThreshold uint32
	Logger           *zap.Logger
	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	clock  func() time.Time

	mu       sync.Mutex
	state    State
	epoch    uint64
	inflight uint32
	streakOK uint32
	streakKO uint32
	deadline time.Time
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: cfg.Logger,
		clock:  cfg.Clock,
	}
	cb.rearm(cb.clock())
	return cb
}

// Execute runs fn if the breaker admits the call. A panic in fn counts as
// a failure and is re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	epoch, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.settle(epoch, false)
			panic(r)
		}
	}()

	err = fn()
	cb.settle(epoch, err == nil)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.refresh(cb.clock())
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.refresh(cb.clock()) {
	case StateOpen:
		return cb.epoch, ErrCircuitOpen
	case StateHalfOpen:
		if cb.inflight >= cb.cfg.MaxRequests {
			return cb.epoch, ErrTooManyRequests
		}
	}

	cb.inflight++
	return cb.epoch, nil
}

// settle records a call result. Results from before the last state change
// are stale and ignored.
func (cb *CircuitBreaker) settle(epoch uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock()
	state := cb.refresh(now)
	if epoch != cb.epoch {
		return
	}

	if success {
		cb.streakOK++
		cb.streakKO = 0
		if state == StateHalfOpen && cb.streakOK >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed, now)
		}
		return
	}

	cb.streakKO++
	cb.streakOK = 0
	switch state {
	case StateClosed:
		if cb.streakKO >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		// One failed probe is enough evidence the upstream is still down.
		cb.transition(StateOpen, now)
	}
}

// refresh applies deadline-driven transitions. Callers hold cb.mu.
func (cb *CircuitBreaker) refresh(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if !cb.deadline.IsZero() && cb.deadline.Before(now) {
			cb.rearm(now)
		}
	case StateOpen:
		if cb.deadline.Before(now) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(next State, now time.Time) {
	if cb.state == next {
		return
	}

	prev := cb.state
	cb.state = next
	cb.rearm(now)

	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
	)
}

// rearm starts a fresh epoch: counters reset and the state's deadline is
// scheduled.
func (cb *CircuitBreaker) rearm(now time.Time) {
	cb.epoch++
	cb.inflight = 0
	cb.streakOK = 0
	cb.streakKO = 0

	switch cb.state {
	case StateClosed:
		if cb.cfg.Interval > 0 {
			cb.deadline = now.Add(cb.cfg.Interval)
		} else {
			cb.deadline = time.Time{}
		}
	case StateOpen:
		cb.deadline = now.Add(cb.cfg.Timeout)
	default:
		cb.deadline = time.Time{}
	}
}
