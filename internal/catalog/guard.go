package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrUnavailable marks a provider call that failed, timed out or was refused
// by an open circuit breaker. Callers treat it as "no data".
var ErrUnavailable = errors.New("catalog data unavailable")

// EventLister is the event catalog provider.
type EventLister interface {
	ListEvents(ctx context.Context) ([]Event, error)
}

// InteractionLister is the interaction log provider.
type InteractionLister interface {
	ListUserInteractions(ctx context.Context, userID int64) ([]Interaction, error)
}

// Store is implemented by the Postgres pool.
type Store interface {
	EventLister
	InteractionLister
}

type GuardOptions struct {
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// GuardedStore bounds every provider call with a timeout and trips a circuit
// breaker after consecutive failures so a dead database fails fast.
type GuardedStore struct {
	inner        Store
	timeout      time.Duration
	events       *gobreaker.CircuitBreaker[[]Event]
	interactions *gobreaker.CircuitBreaker[[]Interaction]
	logger       zerolog.Logger
}

func NewGuardedStore(inner Store, logger zerolog.Logger, opts GuardOptions) *GuardedStore {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	logger = logger.With().Str("component", "catalog_guard").Logger()
	onStateChange := func(name string, from, to gobreaker.State) {
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("provider circuit breaker state changed")
	}
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     opts.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= opts.FailureThreshold
			},
			OnStateChange: onStateChange,
		}
	}

	return &GuardedStore{
		inner:        inner,
		timeout:      opts.Timeout,
		events:       gobreaker.NewCircuitBreaker[[]Event](settings("events")),
		interactions: gobreaker.NewCircuitBreaker[[]Interaction](settings("interactions")),
		logger:       logger,
	}
}

func (g *GuardedStore) ListEvents(ctx context.Context) ([]Event, error) {
	events, err := g.events.Execute(func() ([]Event, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.inner.ListEvents(callCtx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list events: %v", ErrUnavailable, err)
	}
	return events, nil
}

func (g *GuardedStore) ListUserInteractions(ctx context.Context, userID int64) ([]Interaction, error) {
	rows, err := g.interactions.Execute(func() ([]Interaction, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.inner.ListUserInteractions(callCtx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list interactions for user %d: %v", ErrUnavailable, userID, err)
	}
	return rows, nil
}

// BreakerStates reports the current state of each breaker for status endpoints.
func (g *GuardedStore) BreakerStates() map[string]string {
	return map[string]string{
		"events":       g.events.State().String(),
		"interactions": g.interactions.State().String(),
	}
}
