// Package computed derives a quote from already stored data when no live
// source answers, e.g. a futures estimate from the latest spot price.
package computed

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ahmethakanbesel/quotekeeper/internal/scraper"
)

// SpotReader returns the most recent stored value of an entity.
type SpotReader interface {
	LatestValue(ctx context.Context, entityKey string) (decimal.Decimal, time.Time, error)
}

// Strategy estimates value = spot * (1 + premium).
type Strategy struct {
	reader  SpotReader
	spotKey string
	premium decimal.Decimal
	maxAge  time.Duration
	now     func() time.Time
}

func New(reader SpotReader, spotKey string, premium decimal.Decimal, opts ...Option) *Strategy {
	s := &Strategy{
		reader:  reader,
		spotKey: spotKey,
		premium: premium,
		maxAge:  72 * time.Hour,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Strategy)

// WithMaxAge rejects spot values older than d.
func WithMaxAge(d time.Duration) Option {
	return func(s *Strategy) { s.maxAge = d }
}

func WithNow(now func() time.Time) Option {
	return func(s *Strategy) { s.now = now }
}

func (s *Strategy) Name() string { return "computed:" + s.spotKey }

func (s *Strategy) Resolve(ctx context.Context, _ string) (*scraper.Observation, error) {
	spot, at, err := s.reader.LatestValue(ctx, s.spotKey)
	if err != nil {
		return nil, fmt.Errorf("read spot %s: %w", s.spotKey, err)
	}
	if age := s.now().Sub(at); s.maxAge > 0 && age > s.maxAge {
		return nil, fmt.Errorf("spot %s is stale: %s old", s.spotKey, age.Truncate(time.Minute))
	}

	value := spot.Mul(decimal.NewFromInt(1).Add(s.premium)).Round(2)
	return &scraper.Observation{
		Value:      value,
		ObservedAt: s.now().UTC(),
		Source:     s.Name(),
	}, nil
}
