package quote

import "context"

// Repository persists quotes. Lookups that find nothing return nil, nil.
type Repository interface {
	// Upsert inserts q or, when a row for (entity, day) exists, overwrites
	// its non-key fields. q.ID is set on return.
	Upsert(ctx context.Context, family Family, q *Quote) error
	Get(ctx context.Context, family Family, entityKey, day string) (*Quote, error)
	// PriorTo returns the most recent row strictly before day.
	PriorTo(ctx context.Context, family Family, entityKey, day string) (*Quote, error)
	Latest(ctx context.Context, family Family, entityKey string) (*Quote, error)
	// History returns rows with from <= day <= to, oldest first.
	History(ctx context.Context, family Family, entityKey, from, to string) ([]Quote, error)
	// HasRecordOn reports whether any entity of family has a row for day.
	HasRecordOn(ctx context.Context, family Family, day string) (bool, error)
}
