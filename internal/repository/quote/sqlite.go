package quote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/ahmethakanbesel/quotekeeper/internal/quote"
)

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB, opts ...Option) *Repository {
	r := &Repository{db: db, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

type Option func(*Repository)

// WithNow sets the clock used for updated_at.
func WithNow(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

const columns = "id, entity_key, day, value, change, percent_change, source, observed_at, updated_at"

func (r *Repository) Upsert(ctx context.Context, family domain.Family, q *domain.Quote) error {
	table, err := family.Table()
	if err != nil {
		return err
	}

	now := r.now().UTC()
	query := fmt.Sprintf(`INSERT INTO %s (entity_key, day, value, change, percent_change, source, observed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_key, day) DO UPDATE SET
			value = excluded.value,
			change = excluded.change,
			percent_change = excluded.percent_change,
			source = excluded.source,
			observed_at = excluded.observed_at,
			updated_at = excluded.updated_at
		RETURNING id`, table) //nolint:gosec // table from whitelist

	err = r.db.QueryRowContext(ctx, query,
		q.EntityKey, q.Day,
		q.Value.String(), q.Change.String(), q.PercentChange.String(),
		q.Source, q.ObservedAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339),
	).Scan(&q.ID)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	q.UpdatedAt = now.Truncate(time.Second)
	return nil
}

func (r *Repository) Get(ctx context.Context, family domain.Family, entityKey, day string) (*domain.Quote, error) {
	return r.one(ctx, family, "WHERE entity_key = ? AND day = ?", entityKey, day)
}

func (r *Repository) PriorTo(ctx context.Context, family domain.Family, entityKey, day string) (*domain.Quote, error) {
	return r.one(ctx, family, "WHERE entity_key = ? AND day < ? ORDER BY day DESC LIMIT 1", entityKey, day)
}

func (r *Repository) Latest(ctx context.Context, family domain.Family, entityKey string) (*domain.Quote, error) {
	return r.one(ctx, family, "WHERE entity_key = ? ORDER BY day DESC LIMIT 1", entityKey)
}

func (r *Repository) History(ctx context.Context, family domain.Family, entityKey, from, to string) ([]domain.Quote, error) {
	table, err := family.Table()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE entity_key = ? AND day >= ? AND day <= ? ORDER BY day ASC", //nolint:gosec // table from whitelist
		columns, table)
	rows, err := r.db.QueryContext(ctx, query, entityKey, from, to)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	quotes := []domain.Quote{}
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, *q)
	}
	return quotes, rows.Err()
}

func (r *Repository) HasRecordOn(ctx context.Context, family domain.Family, day string) (bool, error) {
	table, err := family.Table()
	if err != nil {
		return false, err
	}

	var exists int
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE day = ?)", table) //nolint:gosec // table from whitelist
	if err := r.db.QueryRowContext(ctx, query, day).Scan(&exists); err != nil {
		return false, fmt.Errorf("check %s: %w", table, err)
	}
	return exists == 1, nil
}

func (r *Repository) one(ctx context.Context, family domain.Family, where string, args ...any) (*domain.Quote, error) {
	table, err := family.Table()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s %s", columns, table, where) //nolint:gosec // table from whitelist
	q, err := scanQuote(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuote(s scanner) (*domain.Quote, error) {
	var (
		q                       domain.Quote
		value, change, pct      string
		observedStr, updatedStr string
	)
	if err := s.Scan(&q.ID, &q.EntityKey, &q.Day, &value, &change, &pct, &q.Source, &observedStr, &updatedStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan quote: %w", err)
	}

	var err error
	if q.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("scan quote value: %w", err)
	}
	if q.Change, err = decimal.NewFromString(change); err != nil {
		return nil, fmt.Errorf("scan quote change: %w", err)
	}
	if q.PercentChange, err = decimal.NewFromString(pct); err != nil {
		return nil, fmt.Errorf("scan quote percent: %w", err)
	}
	if q.ObservedAt, err = time.Parse(time.RFC3339, observedStr); err != nil {
		return nil, fmt.Errorf("scan quote observed_at: %w", err)
	}
	if q.UpdatedAt, err = time.Parse(time.RFC3339, updatedStr); err != nil {
		return nil, fmt.Errorf("scan quote updated_at: %w", err)
	}
	return &q, nil
}
