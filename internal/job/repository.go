package job

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, r *Run) error
	Finish(ctx context.Context, r *Run) error
	List(ctx context.Context, job string, limit int) ([]Run, error)
	// LastSuccess returns the start of the newest succeeded run, or zero.
	LastSuccess(ctx context.Context, job string) (time.Time, error)
	RecoverStale(ctx context.Context) (int64, error)
}
