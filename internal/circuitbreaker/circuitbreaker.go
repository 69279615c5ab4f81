// v1
// internal/circuitbreaker/circuitbreaker.go
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

var ErrOpen = errors.New("circuit breaker is open; fast-fail")

// Config holds the breaker tunables.
type Config struct {
	MaxFailures      int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long to stay open before probing
	SuccessesToClose int           // successes required in HalfOpen before closing
}

// Breaker guards an operation and fast-fails while the downstream is unhealthy.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	recentFails int
	halfOpenOK  int
	openedAt    time.Time

	probe    func(ctx context.Context) error
	onChange func(name string, to State)
}

func New(name string, cfg Config, logger *slog.Logger, probe func(ctx context.Context) error) *Breaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if cfg.SuccessesToClose < 1 {
		cfg.SuccessesToClose = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With("breaker", name),
		state:  Closed,
		probe:  probe,
	}
	b.logger.Info("breaker_created", "maxFailures", cfg.MaxFailures, "resetTimeout", cfg.ResetTimeout.String(), "successesToClose", cfg.SuccessesToClose)
	return b
}

// OnStateChange registers a callback invoked after every transition.
func (b *Breaker) OnStateChange(fn func(name string, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.state
	openedAt := b.openedAt
	b.mu.Unlock()

	if state == Open {
		if time.Since(openedAt) < b.cfg.ResetTimeout {
			b.logger.Warn("breaker_fast_fail", "since_open", time.Since(openedAt).String())
			return ErrOpen
		}
		if err := b.tryProbe(ctx); err != nil {
			return err
		}
	}

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	b.onFailure(err)
	if b.State() == Open {
		return ErrOpen
	}
	return err
}

func (b *Breaker) tryProbe(ctx context.Context) error {
	b.setState(HalfOpen)
	b.logger.Info("breaker_probe_start")
	if b.probe == nil {
		return nil
	}
	if err := b.probe(ctx); err != nil {
		b.logger.Warn("breaker_probe_failed", "error", err.Error())
		b.mu.Lock()
		b.openedAt = time.Now()
		b.mu.Unlock()
		b.setState(Open)
		return ErrOpen
	}
	b.logger.Info("breaker_probe_ok")
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	switch b.state {
	case HalfOpen:
		b.halfOpenOK++
		if b.halfOpenOK < b.cfg.SuccessesToClose {
			b.mu.Unlock()
			b.logger.Info("breaker_halfopen_success", "successes", b.halfOpenOK)
			return
		}
	case Closed:
		b.recentFails = 0
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.setState(Closed)
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	b.recentFails++
	fails := b.recentFails
	trip := b.state == HalfOpen || fails >= b.cfg.MaxFailures
	if trip {
		b.openedAt = time.Now()
	}
	b.mu.Unlock()
	b.logger.Warn("operation_failure", "failures", fails, "error", err.Error())
	if trip {
		b.setState(Open)
	}
}

func (b *Breaker) setState(to State) {
	b.mu.Lock()
	from := b.state
	if from == to {
		b.mu.Unlock()
		return
	}
	b.state = to
	switch to {
	case Closed:
		b.recentFails = 0
		b.halfOpenOK = 0
	case HalfOpen:
		b.halfOpenOK = 0
	}
	fn := b.onChange
	b.mu.Unlock()

	level := slog.LevelInfo
	if to == Open {
		level = slog.LevelError
	}
	b.logger.Log(context.Background(), level, "breaker_state_change", "from", from.String(), "to", to.String())
	if fn != nil {
		fn(b.name, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}
