package job

import (
	"context"
	"log/slog"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RecoverStaleRuns marks runs left running by a previous process as failed.
func (s *Service) RecoverStaleRuns(ctx context.Context) error {
	n, err := s.repo.RecoverStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("marked interrupted runs as failed", "count", n)
	}
	return nil
}

func (s *Service) ListRuns(ctx context.Context, req ListRunsRequest) ([]Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	return s.repo.List(ctx, req.Job, limit)
}
