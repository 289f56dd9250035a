package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmethakanbesel/quotekeeper/internal/extract"
)

// Attempt records one strategy invocation. Err is nil on success.
type Attempt struct {
	Strategy string
	Err      error
	Duration time.Duration
}

func (a Attempt) OK() bool { return a.Err == nil }

// Observer receives every attempt, e.g. for metrics.
type Observer interface {
	ObserveAttempt(entity, strategy string, d time.Duration, err error)
}

// Chain tries strategies in order for one entity and returns the first
// observation whose value is inside the plausible range.
type Chain struct {
	entityKey  string
	rng        extract.Range
	strategies []Strategy
	observer   Observer
}

// NewChain creates a Chain. Strategies are tried in the given order.
func NewChain(entityKey string, rng extract.Range, strategies ...Strategy) *Chain {
	return &Chain{
		entityKey:  entityKey,
		rng:        rng,
		strategies: strategies,
	}
}

// WithObserver attaches an attempt observer.
func (c *Chain) WithObserver(o Observer) *Chain {
	c.observer = o
	return c
}

func (c *Chain) EntityKey() string    { return c.entityKey }
func (c *Chain) Range() extract.Range { return c.rng }

// Strategies returns the strategy names in try order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Resolve walks the chain. Every attempt is returned, including the
// successful one, which is always last.
func (c *Chain) Resolve(ctx context.Context) (*Observation, []Attempt, error) {
	attempts := make([]Attempt, 0, len(c.strategies))
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Strategy: s.Name(), Err: err})
			break
		}

		start := time.Now()
		obs, err := s.Resolve(ctx, c.entityKey)
		if err == nil {
			err = c.check(obs)
		}
		a := Attempt{Strategy: s.Name(), Err: err, Duration: time.Since(start)}
		attempts = append(attempts, a)
		if c.observer != nil {
			c.observer.ObserveAttempt(c.entityKey, a.Strategy, a.Duration, a.Err)
		}

		if err != nil {
			slog.Warn("source failed, trying next", "entity", c.entityKey,
				"strategy", s.Name(), "duration", a.Duration.String(), "error", err)
			continue
		}

		obs.EntityKey = c.entityKey
		if obs.Source == "" {
			obs.Source = s.Name()
		}
		slog.Info("source answered", "entity", c.entityKey, "strategy", s.Name(),
			"value", obs.Value.String(), "attempts", len(attempts))
		return obs, attempts, nil
	}
	return nil, attempts, &AllSourcesFailedError{EntityKey: c.entityKey, Attempts: attempts}
}

var errNoObservation = errors.New("strategy returned no observation")

func (c *Chain) check(obs *Observation) error {
	if obs == nil {
		return errNoObservation
	}
	if !c.rng.Contains(obs.Value) {
		return fmt.Errorf("%w: %s not in %s", extract.ErrOutOfRange, obs.Value, c.rng)
	}
	return nil
}
