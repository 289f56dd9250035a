package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/quotekeeper/internal/extract"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrNoData            = errors.New("no quotes stored")
)

type Service struct {
	repo        Repository
	registry    *scraper.Registry
	instruments map[string]Instrument
	loc         *time.Location
	now         func() time.Time
	workers     int
}

func NewService(repo Repository, registry *scraper.Registry, instruments []Instrument, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		registry:    registry,
		instruments: make(map[string]Instrument, len(instruments)),
		loc:         time.UTC,
		now:         time.Now,
		workers:     4,
	}
	for _, in := range instruments {
		s.instruments[in.Key] = in
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type Option func(*Service)

// WithLocation sets the timezone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithWorkers bounds how many entities Refresh resolves at once.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// Instruments returns the configured instruments ordered by key.
func (s *Service) Instruments() []Instrument {
	out := make([]Instrument, 0, len(s.instruments))
	for _, in := range s.instruments {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Service) Instrument(key string) (Instrument, error) {
	in, ok := s.instruments[key]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, key)
	}
	return in, nil
}

// Day returns the calendar day of t in the service timezone.
func (s *Service) Day(t time.Time) string { return t.In(s.loc).Format(DayFormat) }

func (s *Service) Today() string { return s.Day(s.now()) }

// Upsert stores raw as the quote of entityKey for day. The scraped change is
// only used when no earlier day is stored; otherwise change and percent are
// recomputed from the previous stored value.
func (s *Service) Upsert(ctx context.Context, entityKey, day string, raw scraper.Observation) (*Quote, error) {
	in, err := s.Instrument(entityKey)
	if err != nil {
		return nil, err
	}
	if !in.Range.Contains(raw.Value) {
		return nil, fmt.Errorf("%s: %w: %s not in %s", entityKey, extract.ErrOutOfRange, raw.Value, in.Range)
	}

	prior, err := s.repo.PriorTo(ctx, in.Family, entityKey, day)
	if err != nil {
		return nil, fmt.Errorf("load prior quote: %w", err)
	}

	q := &Quote{
		EntityKey:     entityKey,
		Day:           day,
		Value:         raw.Value,
		Change:        raw.Change,
		PercentChange: raw.PercentChange,
		Source:        raw.Source,
		ObservedAt:    raw.ObservedAt.UTC(),
	}
	if q.ObservedAt.IsZero() {
		q.ObservedAt = s.now().UTC()
	}
	if prior != nil {
		q.Change, q.PercentChange = derive(q.Value, prior.Value)
	}

	if err := s.repo.Upsert(ctx, in.Family, q); err != nil {
		return nil, fmt.Errorf("upsert quote: %w", err)
	}
	return q, nil
}

// Resolution is the outcome of resolving one entity.
type Resolution struct {
	Quote    *Quote            `json:"quote,omitempty"`
	Attempts []scraper.Attempt `json:"-"`
}

// AnsweredBy names the strategy that produced the quote, or "".
func (r *Resolution) AnsweredBy() string {
	if r == nil || len(r.Attempts) == 0 || !r.Attempts[len(r.Attempts)-1].OK() {
		return ""
	}
	return r.Attempts[len(r.Attempts)-1].Strategy
}

// Resolve runs the entity's source chain and stores the result under today.
func (s *Service) Resolve(ctx context.Context, entityKey string) (*Resolution, error) {
	if _, err := s.Instrument(entityKey); err != nil {
		return nil, err
	}
	chain, err := s.registry.Get(entityKey)
	if err != nil {
		return nil, err
	}

	obs, attempts, err := chain.Resolve(ctx)
	res := &Resolution{Attempts: attempts}
	if err != nil {
		return res, err
	}

	q, err := s.Upsert(ctx, entityKey, s.Today(), *obs)
	if err != nil {
		return res, err
	}
	res.Quote = q
	return res, nil
}

// Refresh resolves keys concurrently. The returned map holds the answering
// strategy per entity, or "failed". The error joins every entity failure.
func (s *Service) Refresh(ctx context.Context, keys ...string) (map[string]string, error) {
	var (
		mu       sync.Mutex
		answered = make(map[string]string, len(keys))
		errs     []error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			res, err := s.Resolve(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Error("resolve failed", "entity", key, "error", err)
				answered[key] = "failed"
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return nil
			}
			answered[key] = res.AnsweredBy()
			return nil
		})
	}
	_ = g.Wait()

	return answered, errors.Join(errs...)
}

// GetLatest returns the newest stored quote with its change recomputed from
// the stored day before it.
func (s *Service) GetLatest(ctx context.Context, entityKey string) (*Quote, error) {
	in, err := s.Instrument(entityKey)
	if err != nil {
		return nil, err
	}
	q, err := s.repo.Latest(ctx, in.Family, entityKey)
	if err != nil {
		return nil, fmt.Errorf("latest quote: %w", err)
	}
	if q == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoData, entityKey)
	}

	prior, err := s.repo.PriorTo(ctx, in.Family, entityKey, q.Day)
	if err != nil {
		return nil, fmt.Errorf("load prior quote: %w", err)
	}
	if prior != nil {
		q.Change, q.PercentChange = derive(q.Value, prior.Value)
	}
	return q, nil
}

// GetHistory returns quotes between from and to (inclusive days), each with
// its change recomputed from its stored predecessor.
func (s *Service) GetHistory(ctx context.Context, req GetHistoryRequest) ([]Quote, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	in, err := s.Instrument(req.EntityKey)
	if err != nil {
		return nil, err
	}

	from, to := req.From, req.To
	if to == "" {
		to = s.Today()
	}
	rows, err := s.repo.History(ctx, in.Family, req.EntityKey, from, to)
	if err != nil {
		return nil, fmt.Errorf("quote history: %w", err)
	}
	if len(rows) == 0 {
		return rows, nil
	}

	prev, err := s.repo.PriorTo(ctx, in.Family, req.EntityKey, rows[0].Day)
	if err != nil {
		return nil, fmt.Errorf("load prior quote: %w", err)
	}
	var prevValue *decimal.Decimal
	if prev != nil {
		prevValue = &prev.Value
	}
	for i := range rows {
		if prevValue != nil {
			rows[i].Change, rows[i].PercentChange = derive(rows[i].Value, *prevValue)
		}
		prevValue = &rows[i].Value
	}
	return rows, nil
}

// LatestValue returns the newest stored value and when it was observed.
func (s *Service) LatestValue(ctx context.Context, entityKey string) (decimal.Decimal, time.Time, error) {
	in, err := s.Instrument(entityKey)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	q, err := s.repo.Latest(ctx, in.Family, entityKey)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("latest quote: %w", err)
	}
	if q == nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("%w for %s", ErrNoData, entityKey)
	}
	return q.Value, q.ObservedAt, nil
}

// HasRecordForDay reports whether the family table named by target holds
// any row for day.
func (s *Service) HasRecordForDay(ctx context.Context, target, day string) (bool, error) {
	return s.repo.HasRecordOn(ctx, Family(target), day)
}
