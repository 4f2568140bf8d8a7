// Package resilience wraps the authority engine's store, cache, and
// event-bus calls with circuit breakers, retry with backoff, and a
// fail-open sliding-window rate limiter (spec.md §4.H).
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/garudex-labs/caracal/internal/authority/apperr"
	"github.com/garudex-labs/caracal/internal/platform/logging"
)

// State mirrors gobreaker's three circuit states.
type State int

const (
	StateClosed State = State(gobreaker.StateClosed)
	StateHalfOpen State = State(gobreaker.StateHalfOpen)
	StateOpen   State = State(gobreaker.StateOpen)
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

// BreakerConfig configures one dependency's breaker. gobreaker exposes a
// single MaxRequests knob governing both half-open concurrency and the
// number of consecutive successes required to close; we bind it from
// SuccessThreshold since that is the transition spec.md §4.H actually names
// ("half-open → closed: after success_threshold consecutive successes").
// HalfOpenMax is accepted for parity with the spec's parameter list but is
// not read by NewBreaker; it does not constrain concurrency under gobreaker.
type BreakerConfig struct {
	Name             string
	MaxFailures      int
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenMax      int
	Log              *logging.Logger
}

// Breaker wraps gobreaker.CircuitBreaker, translating open/too-many-requests
// into apperr.CodeDownstreamUnavail so callers can fail closed uniformly.
type Breaker struct {
	gb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreaker constructs a Breaker per cfg, defaulting unset fields to
// spec.md §4.H's stated defaults (5 failures, 2 successes, 60s timeout).
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	maxFailures := uint32(cfg.MaxFailures)
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	if cfg.Log != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.Log.WithField("breaker", name).
				WithField("from_state", State(from).String()).
				WithField("to_state", State(to).String()).
				Warn("circuit breaker state changed")
		}
	}

	return &Breaker{gb: gobreaker.NewCircuitBreaker[any](settings), name: cfg.Name}
}

// Execute runs fn under the breaker's protection. ctx is forwarded to fn;
// gobreaker itself does not observe cancellation, so long-running fn calls
// should select on ctx.Done() internally.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.gb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return mapBreakerError(b.name, err)
	}
	return nil
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	return State(b.gb.State())
}

func mapBreakerError(name string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.New(apperr.CodeDownstreamUnavail, name+": circuit breaker open").WithDetails("breaker", name)
	}
	return err
}
