// Package scraper resolves one observation per entity by walking an ordered
// chain of source strategies.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Observation is a raw quote as reported by one source.
type Observation struct {
	EntityKey     string
	Value         decimal.Decimal
	Change        decimal.Decimal
	PercentChange decimal.Decimal
	ObservedAt    time.Time
	Source        string
}

// Strategy is one way of obtaining an observation: a source page, a JSON
// API, or a value computed from already stored data.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, entityKey string) (*Observation, error)
}

// ErrUnknownEntity is returned for entity keys with no registered chain.
var ErrUnknownEntity = errors.New("unknown entity")

type Registry struct {
	mu     sync.RWMutex
	chains map[string]*Chain
}

func NewRegistry() *Registry {
	return &Registry{
		chains: make(map[string]*Chain),
	}
}

func (r *Registry) Register(c *Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[c.EntityKey()] = c
}

func (r *Registry) Get(entityKey string) (*Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[entityKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityKey)
	}
	return c, nil
}

// Entities returns the registered entity keys, sorted.
func (r *Registry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.chains))
	for k := range r.chains {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AllSourcesFailedError is returned when every strategy of a chain failed.
type AllSourcesFailedError struct {
	EntityKey string
	Attempts  []Attempt
}

func (e *AllSourcesFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Strategy+": "+a.Err.Error())
	}
	return fmt.Sprintf("all %d sources failed for %s: %s", len(e.Attempts), e.EntityKey, strings.Join(parts, "; "))
}

func (e *AllSourcesFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

func IsAllSourcesFailed(err error) bool {
	var e *AllSourcesFailedError
	return errors.As(err, &e)
}
