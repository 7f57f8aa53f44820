// Package circuitbreaker wraps sony/gobreaker for outbound publisher
// calls. The notification dispatcher keeps one breaker per topic so a
// broken downstream channel trips without affecting the others.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrOpen is returned when the circuit rejects a call.
var ErrOpen = errors.New("circuit open")

// Config holds breaker tuning.
type Config struct {
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval for clearing counts while closed.
	Interval time.Duration
	// Timeout before an open circuit probes again.
	Timeout time.Duration
	// FailureThreshold of consecutive failures before opening, used until
	// MinRequests is reached.
	FailureThreshold uint32
	// FailureRatio opens the circuit once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns defaults tuned for notification publishing.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// Breaker guards a single downstream dependency.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger

	mu    sync.RWMutex
	state State
}

// New creates a breaker.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{name: cfg.Name, logger: logger, state: StateClosed}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.onStateChange(from, to)
		},
	})

	return b
}

// Execute runs fn through the breaker. An open circuit returns ErrOpen.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ErrOpen
	}
	return err
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsOpen reports whether calls are currently rejected.
func (b *Breaker) IsOpen() bool { return b.GetState() == StateOpen }

func (b *Breaker) onStateChange(from, to gobreaker.State) {
	b.mu.Lock()
	b.state = mapState(to)
	b.mu.Unlock()

	b.logger.Warn("circuit breaker state changed",
		zap.String("breaker", b.name),
		zap.String("from", string(mapState(from))),
		zap.String("to", string(mapState(to))))
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Manager keeps one breaker per dependency name.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), logger: logger}
}

// GetOrCreate returns the breaker for name, creating it on first use.
func (m *Manager) GetOrCreate(name string) *Breaker {
	m.mu.RLock()
	if b, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return b
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := New(DefaultConfig(name), m.logger)
	m.breakers[name] = b
	return b
}
