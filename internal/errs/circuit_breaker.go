package errs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lavallee/cub/internal/logx"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig tunes trip/recovery thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	OnStateChange    func(name string, from, to CircuitState)
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker is a generic request-level breaker: useful for guarding
// flaky external calls (gate checks, harness availability probes). It is
// distinct from the stagnation breaker in internal/stagnation, which trips
// on run-loop-level progress, not per-request failures.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logx.Logger

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
}

func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logx.NewComponentLogger("circuit:" + name),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn if the breaker permits it, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

// Allow reports whether a caller-managed request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	return cb.beforeRequest() == nil
}

// Mark records the outcome of a caller-managed request started after Allow.
func (cb *CircuitBreaker) Mark(err error) {
	cb.afterRequest(err)
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastStateChange) > cb.config.Timeout {
			cb.setStateLocked(StateHalfOpen)
		} else {
			return fmt.Errorf("circuit %q is open", cb.name)
		}
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailureLocked()
	} else {
		cb.onSuccessLocked()
	}
}

func (cb *CircuitBreaker) onSuccessLocked() {
	cb.failureCount = 0
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setStateLocked(StateClosed)
		}
	case StateClosed:
		cb.successCount++
	}
}

func (cb *CircuitBreaker) onFailureLocked() {
	cb.failureCount++
	cb.successCount = 0
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateHalfOpen:
		cb.setStateLocked(StateOpen)
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setStateLocked(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) setStateLocked(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.lastStateChange = time.Now()
	cb.failureCount = 0
	cb.successCount = 0
	cb.logger.Info("state change %s -> %s", from, to)
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setStateLocked(StateClosed)
}

// Manager keeps a named set of breakers, one per guarded resource.
type Manager struct {
	mu       sync.Mutex
	config   CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

func NewManager(config CircuitBreakerConfig) *Manager {
	return &Manager{config: config, breakers: make(map[string]*CircuitBreaker)}
}

func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, m.config)
	m.breakers[name] = cb
	return cb
}

func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cb := range m.breakers {
		cb.Reset()
	}
}
