package circuit_breaker

import (
	"errors"
	"sync"
	"time"
)

type State uint8

const (
	Closed   State = 1
	Open     State = 2
	HalfOpen State = 3
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	// Window is the number of most recent calls the failure ratio is computed over.
	Window int `envconfig:"CB_WINDOW" default:"20"`
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration `envconfig:"CB_OPEN_TIMEOUT" default:"10s"`
	// FailureRatio in (0,1] opens the breaker.
	FailureRatio float64 `envconfig:"CB_FAILURE_RATIO" default:"0.5"`
	// RecoveryRequests successful probes close a half-open breaker.
	RecoveryRequests int `envconfig:"CB_RECOVERY_REQUESTS" default:"3"`
}

type CircuitBreaker interface {
	Call(service func() error) error
	State() State
	Reset()
}

type circuitBreaker struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	state    State
	openedAt time.Time
	// ring buffer of the last cfg.Window outcomes, true = failed
	outcomes []bool
	pos      int
	// successful probes made while half-open
	successCount int
}

func New(cfg Config) CircuitBreaker {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg Config, now func() time.Time) *circuitBreaker {
	if cfg.Window <= 0 {
		cfg.Window = 1
	}
	return &circuitBreaker{
		cfg:      cfg,
		now:      now,
		state:    Closed,
		outcomes: make([]bool, cfg.Window),
	}
}

func (cb *circuitBreaker) Call(service func() error) error {
	cb.mu.Lock()
	if cb.state == Open {
		if cb.now().Sub(cb.openedAt) <= cb.cfg.OpenTimeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.state = HalfOpen
		cb.successCount = 0
	}
	cb.mu.Unlock()

	err := service()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.outcomes[cb.pos] = err != nil
	cb.pos = (cb.pos + 1) % len(cb.outcomes)

	if cb.state == HalfOpen {
		if err != nil {
			cb.trip()
			return err
		}
		cb.successCount++
		if cb.successCount >= cb.cfg.RecoveryRequests {
			cb.reset()
		}
		return nil
	}

	fails := 0
	for _, failed := range cb.outcomes {
		if failed {
			fails++
		}
	}
	if float64(fails)/float64(len(cb.outcomes)) >= cb.cfg.FailureRatio {
		cb.trip()
	}
	return err
}

func (cb *circuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
}

func (cb *circuitBreaker) trip() {
	cb.state = Open
	cb.successCount = 0
	cb.openedAt = cb.now()
}

func (cb *circuitBreaker) reset() {
	for i := range cb.outcomes {
		cb.outcomes[i] = false
	}
	cb.successCount = 0
	cb.pos = 0
	cb.state = Closed
}
